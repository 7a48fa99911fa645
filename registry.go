package viewkv

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/viewkv/viewkv/internal/engine"
	"github.com/viewkv/viewkv/internal/errclass"
	"github.com/viewkv/viewkv/internal/lock"
	"github.com/viewkv/viewkv/internal/queryengine"
	"github.com/viewkv/viewkv/internal/registry"
	"github.com/viewkv/viewkv/internal/storekv"
)

// FieldAccessor reads a named field off a record of type T. Registered
// once per field at Register time and invoked by the write/query engines
// whenever that field's value is needed for key materialization — never by
// reflecting over the record (Design Notes, "Dynamic field access by
// name").
type FieldAccessor[T any] func(rec *T) FieldValue

// FieldSetter writes a named field on a record of type T. Only required
// for EncryptedFields, whose ciphertext/plaintext swap happens in place.
type FieldSetter[T any] func(rec *T, value any)

// Field declares one named, readable (and optionally writable) field for a
// Descriptor.
type Field[T any] struct {
	Get FieldAccessor[T]
	Set FieldSetter[T]
}

// Descriptor is the registration payload for a record type T. T is the
// plain record struct (not its pointer); *T must implement Record — Register
// checks this at registration time since Meta's methods have pointer
// receivers and so are only in *T's method set, never T's.
type Descriptor[T any] struct {
	// Name is the model's entity name, used as the leading component of
	// every node's pk.
	Name string
	// Fields maps a field name to its accessor/setter pair. Every field
	// referenced by Indices or EncryptedFields must have an entry here.
	Fields map[string]Field[T]
	// Indices declares this type's secondary access patterns.
	Indices []Index
	// EncryptedFields names fields whose string value is sentinel-prefixed
	// ciphertext at rest.
	EncryptedFields []string
	// AutoDecrypt, when true, decrypts EncryptedFields on every read.
	AutoDecrypt bool
}

// Engine is the process-wide write/query engine pair an application
// constructs once and shares across every call to Register.
type Engine struct {
	store    storekv.Store
	locker   *lock.Locker
	we       *engine.Engine
	registry *registry.Registry
	log      *zap.Logger
}

// NewEngine wires a Store Adapter and its advisory lock into a ready-to-use
// Engine. Mirrors the teacher's constructor shape: explicit collaborators
// in, one struct out, nothing global.
func NewEngine(store storekv.Store, locker *lock.Locker, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{
		store:    store,
		locker:   locker,
		we:       engine.New(store, locker, log),
		registry: registry.New(),
		log:      log.Named("viewkv"),
	}
}

// SetCrypto registers the process-wide encrypt/decrypt pair. Must be called
// before Save/GetByID touches any model with EncryptedFields.
func (e *Engine) SetCrypto(encrypt, decrypt func(string) (string, error)) {
	e.we.SetCrypto(encrypt, decrypt)
}

func (e *Engine) decryptFunc() func(string) (string, error) {
	return e.we.Decrypt()
}

// Model is the typed handle returned by Register[T]: every subsequent
// Save/Delete/GetByID/Query call for this record type goes through it.
type Model[T any] struct {
	engine  *Engine
	binding *registry.Binding
}

// Register validates d against d.Fields, builds the type-erased binding the
// engines operate on, and returns a typed Model[T] handle. Field
// misconfiguration (an index or encrypted field with no matching accessor,
// or *T not implementing Record) is reported here, eagerly, before any I/O —
// spec.md §7.
func Register[T any](e *Engine, d Descriptor[T]) (*Model[T], error) {
	if _, ok := any((*T)(nil)).(Record); !ok {
		var zero T
		return nil, fmt.Errorf("%w: *%T does not implement viewkv.Record", ErrFieldMisconfiguration, zero)
	}

	fields := make(map[string]registry.FieldBinding, len(d.Fields))
	for name, f := range d.Fields {
		f := f
		fb := registry.FieldBinding{
			Get: func(rec any) registry.FieldValue {
				fv := f.Get(rec.(*T))
				return registry.FieldValue{Name: fv.Name, Value: fv.Value}
			},
		}
		if f.Set != nil {
			fb.Set = func(rec any, value any) { f.Set(rec.(*T), value) }
		}
		fields[name] = fb
	}

	indices := make([]registry.Index, len(d.Indices))
	for i, ix := range d.Indices {
		switch {
		case ix.Unique != nil:
			indices[i] = registry.Index{Kind: registry.IndexUnique, Fields: ix.Unique.Fields}
		case ix.Query != nil:
			indices[i] = registry.Index{Kind: registry.IndexQuery, PartitionFields: ix.Query.PartitionFields, SortFields: ix.Query.SortFields}
		}
	}

	rd := registry.Descriptor{
		Name:            d.Name,
		Fields:          fields,
		Indices:         indices,
		EncryptedFields: d.EncryptedFields,
		AutoDecrypt:     d.AutoDecrypt,
		RecordID:        func(rec any) string { return rec.(Record).RecordID() },
		SetRecordID:     func(rec any, id string) { rec.(Record).SetRecordID(id) },
		MarshalForHash: func(rec any) ([]byte, error) {
			// Canonical form excludes updated_hash/updated_at so the
			// fingerprint reflects only the record's meaningful content.
			cp := *rec.(*T)
			m := any(&cp).(Record).Meta()
			m.UpdatedHash = ""
			m.UpdatedAt = time.Time{}
			return json.Marshal(cp)
		},
		GetUpdatedHash: func(rec any) string { return rec.(Record).Meta().UpdatedHash },
		SetUpdatedHash: func(rec any, h string) { rec.(Record).Meta().UpdatedHash = h },
		SetUpdatedAt:   func(rec any, t time.Time) { rec.(Record).Meta().UpdatedAt = t },
		NewZero:        func() any { var t T; return &t },
		Unmarshal:      func(raw string, into any) error { return json.Unmarshal([]byte(raw), into) },
		MarshalRaw: func(rec any) (string, error) {
			raw, err := json.Marshal(rec)
			return string(raw), err
		},
	}

	b, err := e.registry.Register(rd)
	if err != nil {
		return nil, translateFieldErr(err)
	}
	return &Model[T]{engine: e, binding: b}, nil
}

// Save persists rec, assigning a fresh id if unset. See spec.md §4.5.
func (m *Model[T]) Save(ctx context.Context, rec *T) error {
	err := m.engine.we.Save(ctx, m.binding, rec)
	return translateEngineErr(err)
}

// Delete removes every node owned by id.
func (m *Model[T]) Delete(ctx context.Context, id string) error {
	return translateEngineErr(m.engine.we.Delete(ctx, id))
}

// GetByID loads and rehydrates a record by its id.
func (m *Model[T]) GetByID(ctx context.Context, id string) (*T, error) {
	rec, err := m.engine.we.GetByID(ctx, m.binding, id)
	if err != nil {
		return nil, translateEngineErr(err)
	}
	return rec.(*T), nil
}

// Query runs a StandardQuery against this model's best-fitting QueryIndex
// and returns a RecordIterator-backed slice walk. Auto-decrypt is applied
// per rehydrated record when the model declares it.
func (m *Model[T]) Query(ctx context.Context, q StandardQuery) (*RecordIterator[T], error) {
	internalQ := queryengine.StandardQuery{
		Descending: q.Descending,
		Consistent: q.Consistent,
		MaxRecords: q.MaxRecords,
	}
	for _, s := range q.Statements {
		internalQ.Statements = append(internalQ.Statements, queryengine.Statement{
			Field: s.Field, Op: queryengine.Op(s.Op), Value: s.Value,
		})
	}

	cond, err := queryengine.BuildKeyCondition(m.binding.Descriptor, internalQ, nil)
	if err != nil {
		return nil, translateQueryErr(err)
	}
	bi := queryengine.NewBatchIterator(m.engine.store, cond, "", !q.Descending, q.Consistent, q.MaxRecords, nil)
	ri := queryengine.NewRecordIterator(bi, m.binding.Descriptor, nil)
	return &RecordIterator[T]{inner: ri, engine: m.engine, binding: m.binding}, nil
}

// QueryByCondition runs a pre-built KeyConditionQuery directly against the
// store, bypassing StandardQuery's index resolution — for callers that
// already know the exact key condition they want (spec.md §4.6).
func (m *Model[T]) QueryByCondition(ctx context.Context, q KeyConditionQuery) (*RecordIterator[T], error) {
	internalQ := queryengine.KeyConditionQuery{
		Condition: storekv.KeyCondition{
			PK:      q.Condition.PK,
			SKOp:    storekv.SKOp(q.Condition.SKOp),
			SKValue: q.Condition.SKValue,
		},
		IndexName:  q.IndexName,
		Descending: q.Descending,
		Consistent: q.Consistent,
		MaxRecords: q.MaxRecords,
	}
	bi := queryengine.NewBatchIteratorFromKeyCondition(m.engine.store, internalQ)
	ri := queryengine.NewRecordIterator(bi, m.binding.Descriptor, nil)
	return &RecordIterator[T]{inner: ri, engine: m.engine, binding: m.binding}, nil
}

// All scans every saved record of this model via the model_scan GSI.
func (m *Model[T]) All(ctx context.Context, a AllQuery) (*RecordIterator[T], error) {
	cond := storekv.KeyCondition{PK: m.binding.Descriptor.Name}
	bi := queryengine.NewBatchIterator(m.engine.store, cond, "model_scan", !a.Descending, false, a.MaxRecords, nil)
	ri := queryengine.NewRecordIterator(bi, m.binding.Descriptor, nil)
	return &RecordIterator[T]{inner: ri, engine: m.engine, binding: m.binding}, nil
}

func translateFieldErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrFieldMisconfiguration, err)
}

func translateEngineErr(err error) error {
	if err == nil {
		return nil
	}
	var uniqueErr *errclass.RecordNotUniqueError
	if errors.As(err, &uniqueErr) {
		return &RecordNotUniqueError{PK: uniqueErr.PK}
	}
	var counterErr *errclass.CounterNotSavedError
	if errors.As(err, &counterErr) {
		return &CounterNotSavedError{PK: counterErr.PK}
	}
	switch {
	case errors.Is(err, engine.ErrRecordNotFound):
		return ErrRecordNotFound
	case errors.Is(err, engine.ErrCryptoNotConfigured):
		return ErrCryptoNotConfigured
	case errors.Is(err, lock.ErrAcquisitionFailed):
		return ErrLockAcquisitionFailed
	default:
		return err
	}
}

func translateQueryErr(err error) error {
	if err == nil {
		return nil
	}
	return fmt.Errorf("%w: %v", ErrQueryNotSupported, err)
}
