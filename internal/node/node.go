// Package node implements the three materialized row shapes (base, unique,
// query) that back every registered record's access patterns
// (SPEC_FULL.md §4.2, spec.md §3).
package node

// Kind identifies which of the three row shapes a Node carries.
type Kind string

const (
	KindBase    Kind = "base"
	KindUnique  Kind = "unique"
	KindQuery   Kind = "query"
	KindCounter Kind = "counter" // deferred extension, SPEC_FULL.md §6
)

// Key is a (pk, sk) pair, used both as a row's primary key and as a
// back-pointer inside BaseNode.OtherNodes.
type Key struct {
	PK string
	SK string
}

// Field is a persisted (name, value) pair, as stored in UniqueNode.Fields.
type Field struct {
	Name  string `json:"name"`
	Value any    `json:"value"`
}

// Header is the common column set every node row carries.
type Header struct {
	NodeType   Kind   `json:"node_type"`
	EntityName string `json:"entity_name"`
	EntityID   string `json:"entity_id"`
	PK         string `json:"pk"`
	SK         string `json:"sk"`
}

// Item is implemented by all three node variants. Equality between two
// Items is defined by (PK, SK) alone — diffing the write engine's current
// vs. existing node sets operates on keys only (spec.md §4.2).
type Item interface {
	Key() Key
	Row() map[string]any
	Kind() Kind
}

// BaseNode is the canonical row for a record: pk == sk == entity id.
type BaseNode struct {
	Header
	BaseNodeID string  `json:"base_node_id"`
	RawData    string  `json:"raw_data"`
	OtherNodes []Key   `json:"other_nodes"`
}

func NewBaseNode(entity, id, rawData string, otherNodes []Key) *BaseNode {
	return &BaseNode{
		Header:     Header{NodeType: KindBase, EntityName: entity, EntityID: id, PK: id, SK: id},
		BaseNodeID: id,
		RawData:    rawData,
		OtherNodes: otherNodes,
	}
}

func (n *BaseNode) Key() Key   { return Key{PK: n.PK, SK: n.SK} }
func (n *BaseNode) Kind() Kind { return KindBase }
func (n *BaseNode) Row() map[string]any {
	others := make([][2]string, len(n.OtherNodes))
	for i, k := range n.OtherNodes {
		others[i] = [2]string{k.PK, k.SK}
	}
	return map[string]any{
		"node_type":    string(n.NodeType),
		"entity_name":  n.EntityName,
		"entity_id":    n.EntityID,
		"pk":           n.PK,
		"sk":           n.SK,
		"base_node_id": n.BaseNodeID,
		"raw_data":     n.RawData,
		"other_nodes":  others,
	}
}

// UniqueNode is a uniqueness token row: its existence (under a different
// entity_id) blocks a conflicting save.
type UniqueNode struct {
	Header
	UniqueNodeID string  `json:"unique_node_id"`
	Fields       []Field `json:"fields"`
}

func NewUniqueNode(entity, id, pk, sk string, fields []Field) *UniqueNode {
	return &UniqueNode{
		Header:       Header{NodeType: KindUnique, EntityName: entity, EntityID: id, PK: pk, SK: sk},
		UniqueNodeID: id,
		Fields:       fields,
	}
}

func (n *UniqueNode) Key() Key   { return Key{PK: n.PK, SK: n.SK} }
func (n *UniqueNode) Kind() Kind { return KindUnique }
func (n *UniqueNode) Row() map[string]any {
	return map[string]any{
		"node_type":      string(n.NodeType),
		"entity_name":    n.EntityName,
		"entity_id":      n.EntityID,
		"pk":             n.PK,
		"sk":             n.SK,
		"unique_node_id": n.UniqueNodeID,
		"fields":         n.Fields,
	}
}

// QueryNode is an index-projection row; it carries its own copy of raw_data
// so queries can rehydrate records without a second lookup.
type QueryNode struct {
	Header
	QueryNodeID     string  `json:"query_node_id"`
	PartitionFields []Field `json:"partition_fields"`
	SortFields      []Field `json:"sort_fields"`
	RawData         string  `json:"raw_data"`
}

func NewQueryNode(entity, id, pk, sk string, partitionFields, sortFields []Field, rawData string) *QueryNode {
	return &QueryNode{
		Header:          Header{NodeType: KindQuery, EntityName: entity, EntityID: id, PK: pk, SK: sk},
		QueryNodeID:     id,
		PartitionFields: partitionFields,
		SortFields:      sortFields,
		RawData:         rawData,
	}
}

func (n *QueryNode) Key() Key   { return Key{PK: n.PK, SK: n.SK} }
func (n *QueryNode) Kind() Kind { return KindQuery }
func (n *QueryNode) Row() map[string]any {
	return map[string]any{
		"node_type":        string(n.NodeType),
		"entity_name":      n.EntityName,
		"entity_id":        n.EntityID,
		"pk":               n.PK,
		"sk":               n.SK,
		"query_node_id":    n.QueryNodeID,
		"partition_fields": n.PartitionFields,
		"sort_fields":      n.SortFields,
		"raw_data":         n.RawData,
	}
}

// Diff returns the keys present in existing but absent from current,
// comparing by (PK, SK) identity only, per spec.md §4.5 step 6.
func Diff(existing, current []Item) []Key {
	keep := make(map[Key]struct{}, len(current))
	for _, it := range current {
		keep[it.Key()] = struct{}{}
	}
	var stale []Key
	for _, it := range existing {
		k := it.Key()
		if _, ok := keep[k]; !ok {
			stale = append(stale, k)
		}
	}
	return stale
}
