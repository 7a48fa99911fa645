// Package registry implements the type-erased binding behind the public
// generic Register[T] entry point (spec.md §4.8, C8): every registered
// model's field accessors, indices, and encryption settings are captured as
// plain closures over `any`, so the process-wide Registry value itself
// never needs a type parameter — only the root package's thin generic
// wrapper does (mirrors the teacher's own generic helper,
// `channelKey[T int64 | string]`, kept tiny and pushed to the edge).
package registry

import (
	"fmt"
	"sync"
	"time"
)

// FieldValue is a named scalar captured off a record at materialize time.
type FieldValue struct {
	Name  string
	Value any
}

// FieldAccessor reads one named field off a type-erased record.
type FieldAccessor func(rec any) FieldValue

// FieldBinding pairs a field's reader with an optional writer. Set is only
// required for fields the engine must mutate in place — currently just
// EncryptedFields, whose ciphertext/plaintext swap happens on the live
// record rather than on a copy.
type FieldBinding struct {
	Get FieldAccessor
	Set func(rec any, value any)
}

// IndexKind distinguishes a unique index from a query index.
type IndexKind int

const (
	IndexUnique IndexKind = iota
	IndexQuery
)

// Index is the type-erased form of viewkv.Index: field names only, resolved
// against Descriptor.Fields at Register time.
type Index struct {
	Kind            IndexKind
	Fields          []string // unique index fields
	PartitionFields []string // query index partition fields
	SortFields      []string // query index sort fields
}

// AllFields returns every field name an index touches.
func (ix Index) AllFields() []string {
	if ix.Kind == IndexUnique {
		return ix.Fields
	}
	out := make([]string, 0, len(ix.PartitionFields)+len(ix.SortFields))
	out = append(out, ix.PartitionFields...)
	out = append(out, ix.SortFields...)
	return out
}

// Descriptor is the type-erased registration payload for one model.
type Descriptor struct {
	Name            string
	Fields          map[string]FieldBinding
	Indices         []Index
	EncryptedFields []string
	AutoDecrypt     bool

	// RecordID / SetRecordID / MarshalForHash / UpdatedHash / UpdatedAt
	// bridge to the record's Meta and canonical serialization without this
	// package importing the root Record interface (which would create an
	// import cycle: root imports this package for Register[T]'s plumbing).
	RecordID       func(rec any) string
	SetRecordID    func(rec any, id string)
	MarshalForHash func(rec any) ([]byte, error)
	GetUpdatedHash func(rec any) string
	SetUpdatedHash func(rec any, hash string)
	SetUpdatedAt   func(rec any, t time.Time)

	// NewZero returns a fresh *T for rehydrating a record from raw_data.
	NewZero func() any
	// Unmarshal parses raw_data (JSON) into the value returned by NewZero.
	Unmarshal func(raw string, into any) error
	// MarshalRaw serializes rec to the raw_data text stored on base/query
	// nodes.
	MarshalRaw func(rec any) (string, error)
}

// Binding is a validated Descriptor, ready to drive the write/query
// engines.
type Binding struct {
	Descriptor Descriptor
}

// ErrFieldMisconfiguration is returned by Validate/Register when an index
// names a field with no matching accessor.
var ErrFieldMisconfiguration = fmt.Errorf("registry: field misconfiguration")

// Validate checks every index field name resolves to a declared accessor.
func Validate(d Descriptor) error {
	for _, ix := range d.Indices {
		for _, name := range ix.AllFields() {
			if _, ok := d.Fields[name]; !ok {
				return fmt.Errorf("%w: model %q declares an index over unknown field %q", ErrFieldMisconfiguration, d.Name, name)
			}
		}
	}
	for _, name := range d.EncryptedFields {
		fb, ok := d.Fields[name]
		if !ok {
			return fmt.Errorf("%w: model %q declares encrypted field %q with no accessor", ErrFieldMisconfiguration, d.Name, name)
		}
		if fb.Set == nil {
			return fmt.Errorf("%w: model %q declares encrypted field %q with no setter", ErrFieldMisconfiguration, d.Name, name)
		}
	}
	return nil
}

// Registry is a per-Engine (not package-level) table of bindings: the root
// package's NewEngine creates one, and Register adds to it.
type Registry struct {
	mu       sync.RWMutex
	bindings map[string]*Binding
}

func New() *Registry {
	return &Registry{bindings: make(map[string]*Binding)}
}

// Register validates d and adds it to the registry. Returns an error if the
// model name is already registered or validation fails.
func (r *Registry) Register(d Descriptor) (*Binding, error) {
	if err := Validate(d); err != nil {
		return nil, err
	}
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, exists := r.bindings[d.Name]; exists {
		return nil, fmt.Errorf("registry: model %q already registered", d.Name)
	}
	b := &Binding{Descriptor: d}
	r.bindings[d.Name] = b
	return b, nil
}

// Lookup returns the binding for a model name, if any.
func (r *Registry) Lookup(name string) (*Binding, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	b, ok := r.bindings[name]
	return b, ok
}
