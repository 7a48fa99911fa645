package viewkv

// Index is a declared secondary access pattern on a registered record type.
// It is a closed tagged variant: exactly one of Unique or Query is set.
type Index struct {
	Unique *UniqueIndex
	Query  *QueryIndex
}

// UniqueIndex enforces that no two records of the owning type ever share
// the tuple of values of Fields (I3).
type UniqueIndex struct {
	Fields []string
}

// QueryIndex enables ordered retrieval by equality on PartitionFields plus a
// range predicate on a prefix of SortFields.
type QueryIndex struct {
	PartitionFields []string
	SortFields      []string
}

// AllFields returns PartitionFields followed by SortFields.
func (q *QueryIndex) AllFields() []string {
	out := make([]string, 0, len(q.PartitionFields)+len(q.SortFields))
	out = append(out, q.PartitionFields...)
	out = append(out, q.SortFields...)
	return out
}

// UniqueIdx is a convenience constructor for a UniqueIndex-backed Index.
func UniqueIdx(fields ...string) Index {
	return Index{Unique: &UniqueIndex{Fields: fields}}
}

// QueryIdx is a convenience constructor for a QueryIndex-backed Index.
func QueryIdx(partitionFields, sortFields []string) Index {
	return Index{Query: &QueryIndex{PartitionFields: partitionFields, SortFields: sortFields}}
}
