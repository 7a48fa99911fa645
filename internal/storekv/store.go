// Package storekv defines the abstract Store Adapter (spec.md §4.3): a
// minimal interface over a wide-column key-value table exposing
// get-by-key, query-by-key-condition, and a conditional multi-item atomic
// write primitive. Concrete backends live in subpackages (redisstore).
package storekv

import "context"

// Op identifies a write item's action.
type Op int

const (
	OpPut Op = iota
	OpDelete
	OpUpdate
)

// Condition is a precondition attached to a Put or Update item. The zero
// value (Kind == CondNone) means unconditional.
type Condition struct {
	Kind CondKind
	// EntityIDEquals is used by CondNotExistsOrEntityIDEquals to allow a
	// record to re-save over its own UniqueNode row.
	EntityIDEquals string
}

type CondKind int

const (
	CondNone CondKind = iota
	// CondNotExists requires the row not to exist.
	CondNotExists
	// CondNotExistsOrEntityIDEquals requires the row not to exist OR its
	// stored entity_id to equal EntityIDEquals (UniqueNode re-save rule).
	CondNotExistsOrEntityIDEquals
	// CondRowExists requires the row to already exist (Counter extension).
	CondRowExists
)

// WriteOp is one item of a multi-item atomic write.
type WriteOp struct {
	Op        Op
	PK, SK    string
	Row       map[string]any // for Put
	Condition Condition
	// UpdateExpr names the column an Update adds to (Counter extension).
	UpdateExpr string
	UpdateBy   int64
}

// Reason is the per-item rejection reason returned by a failed AtomicWrite,
// aligned by index with the submitted items.
type Reason struct {
	ConditionalCheckFailed bool
	Message                string
}

// AtomicWriteError is returned by AtomicWrite on rejection. Reasons is
// aligned with the items slice passed to AtomicWrite; an item that was not
// the cause of the rejection has a zero Reason.
type AtomicWriteError struct {
	Reasons []Reason
}

func (e *AtomicWriteError) Error() string { return "storekv: atomic write rejected" }

// KeyCondition describes a store-level query: an equality match on pk, and
// an optional predicate on sk.
type KeyCondition struct {
	PK string

	SKOp     SKOp
	SKValue  string // for Eq/BeginsWith/Lt/Lte/Gt/Gte
}

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

// QueryOptions parametrizes a single Query call.
type QueryOptions struct {
	ScanForward bool
	Limit       int
	Consistent  bool
	StartKey    *Key
	IndexName   string // "" for the primary key; "ids_only" or "model_scan" for GSIs
}

// Key is an opaque pagination cursor matching a row's primary key (or GSI
// key, when IndexName is set).
type Key struct {
	PK string
	SK string
}

// QueryPage is one page of a Query call.
type QueryPage struct {
	Rows     []map[string]any
	NextKey  *Key
}

// Store is the abstract wide-column store collaborator.
type Store interface {
	Get(ctx context.Context, pk, sk string, consistent bool) (map[string]any, bool, error)
	Query(ctx context.Context, cond KeyCondition, opts QueryOptions) (QueryPage, error)
	AtomicWrite(ctx context.Context, items []WriteOp) error
}
