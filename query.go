package viewkv

import (
	"context"
	"fmt"

	"github.com/viewkv/viewkv/internal/queryengine"
	"github.com/viewkv/viewkv/internal/registry"
)

// Op is a StandardQuery statement's comparison operator.
type Op int

const (
	OpEq Op = iota
	OpLt
	OpLte
	OpGt
	OpGte
	OpBeginsWith
)

// Statement is one (field, op, value) clause of a StandardQuery.
type Statement struct {
	Field string
	Op    Op
	Value any
}

// StandardQuery selects a registered QueryIndex by its statements' field
// prefix (spec.md §4.6): equality across every leading statement, with the
// final statement allowed to be any of eq/lt/lte/gt/gte/begins_with.
type StandardQuery struct {
	Statements []Statement
	// Descending reverses iteration order (ascending by default).
	Descending bool
	// Consistent requests a strongly consistent read where the store
	// supports it. It is passed to the store as given: the zero value
	// requests a non-consistent read.
	Consistent bool
	// MaxRecords caps the number of records the returned iterator yields;
	// 0 means unbounded.
	MaxRecords int
}

// AllQuery scans every saved record of a model via the model_scan GSI
// (eventual consistency — spec.md §4.6).
type AllQuery struct {
	Descending bool
	MaxRecords int
}

// SKOp is a KeyConditionQuery's sort-key predicate operator. Mirrors the
// Store Adapter's own storekv.SKOp one for one.
type SKOp int

const (
	SKNone SKOp = iota
	SKEq
	SKBeginsWith
	SKLt
	SKLte
	SKGt
	SKGte
)

// KeyCondition is a pre-built store-level key condition: an equality match
// on pk, plus an optional predicate on sk.
type KeyCondition struct {
	PK      string
	SKOp    SKOp
	SKValue string
}

// KeyConditionQuery is a pass-through for callers that have already built
// their own store key condition, bypassing StandardQuery's index resolution
// entirely (spec.md §4.6).
type KeyConditionQuery struct {
	Condition KeyCondition
	// IndexName selects which GSI the condition is evaluated against ("" or
	// "primary" for the default, "model_scan" for the full-entity scan).
	IndexName  string
	Descending bool
	Consistent bool
	MaxRecords int
}

// RecordIterator rehydrates records of type T one at a time, pulling
// further store pages on demand. Not safe for concurrent use.
type RecordIterator[T any] struct {
	inner   *queryengine.RecordIterator
	engine  *Engine
	binding *registry.Binding
}

// Next returns the next matching record, or (nil, false, nil) once
// iteration is exhausted. When the model auto-decrypts, each record's
// encrypted fields are decrypted in place before being returned.
func (it *RecordIterator[T]) Next(ctx context.Context) (*T, bool, error) {
	rec, ok, err := it.inner.Next(ctx)
	if err != nil {
		return nil, false, err
	}
	if !ok {
		return nil, false, nil
	}
	t := rec.(*T)
	if it.binding.Descriptor.AutoDecrypt {
		decrypt := it.engine.decryptFunc()
		if decrypt == nil {
			return nil, false, ErrCryptoNotConfigured
		}
		if err := queryengine.DecryptRecord(it.binding.Descriptor, t, decrypt); err != nil {
			return nil, false, fmt.Errorf("viewkv: %w", err)
		}
	}
	return t, true, nil
}
