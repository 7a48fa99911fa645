// Package viewkv is a materialized-view object layer over a wide-column
// key-value store. Applications register record types with declared
// unique and query indices; the package maintains a set of derived rows
// ("nodes") so that every declared access pattern resolves to a single
// partition+range scan on the underlying store.
package viewkv

import "time"

// Record is implemented by every registered entity type. Record types embed
// Meta for the id/timestamp/hash bookkeeping and otherwise stay plain data
// structs — field access for indices is supplied explicitly at Register time
// via FieldAccessor closures, never by reflecting over the record.
type Record interface {
	RecordID() string
	SetRecordID(id string)
	Meta() *Meta
}

// Meta carries the bookkeeping fields every Record owns: a sortable unique
// id, creation/update timestamps, and a content fingerprint used by the
// write engine to detect mutation and refresh UpdatedAt. Record types embed
// Meta by value and forward RecordID/SetRecordID/Meta to it.
type Meta struct {
	ID          string    `json:"id"`
	CreatedAt   time.Time `json:"created_at"`
	UpdatedAt   time.Time `json:"updated_at"`
	UpdatedHash string    `json:"updated_hash,omitempty"`
}

// RecordID returns the embedded id.
func (m *Meta) RecordID() string { return m.ID }

// SetRecordID sets the embedded id.
func (m *Meta) SetRecordID(id string) { m.ID = id }

// Meta returns the receiver, satisfying Record for embedding types.
func (m *Meta) Meta() *Meta { return m }

// FieldValue carries a named, heterogeneous scalar captured off a Record at
// materialization time. Supported Value types: string, bool, nil, int64 (or
// any Go integer kind, normalized), float64, *big.Rat (exact decimal),
// time.Time, uuid.UUID, and any fmt.Stringer-like Enum. Anything else is
// accepted but degrades to a %v text fallback with a logged warning — see
// internal/keyenc.
type FieldValue struct {
	Name  string
	Value any
}

// Enum is implemented by user-declared enum types so their canonical string
// form (not their underlying representation) is used for key serialization.
type Enum interface {
	EnumValue() string
}
