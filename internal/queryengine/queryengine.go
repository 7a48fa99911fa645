// Package queryengine implements the Query Engine (spec.md §4.6, C6):
// index selection for a declarative StandardQuery, translation of its
// statements into a store key condition, and the batch/record iterator
// pair used to page through results. Generalized from
// immaterialdb/query.py's Querier/BatchQueryResult/RecordQueryResult trio.
package queryengine

import (
	"context"
	"fmt"
	"strings"

	"go.uber.org/zap"

	"github.com/viewkv/viewkv/internal/keyenc"
	"github.com/viewkv/viewkv/internal/registry"
	"github.com/viewkv/viewkv/internal/storekv"
)

// ErrQueryNotSupported means a query references an unsupported op, or no
// registered index covers its fields.
var ErrQueryNotSupported = fmt.Errorf("queryengine: query not supported")

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
// prefix and translates the trailing statement into a range predicate.
type StandardQuery struct {
	Statements  []Statement
	Descending  bool
	Consistent  bool
	MaxRecords  int
	StartKey    *storekv.Key
}

// KeyConditionQuery is a pass-through for callers that already built a
// store key condition.
type KeyConditionQuery struct {
	Condition  storekv.KeyCondition
	IndexName  string
	Consistent bool
	Descending bool
	MaxRecords int
	StartKey   *storekv.Key
}

// AllQuery scans every BaseNode for a model via the model_scan GSI.
type AllQuery struct {
	Descending bool
	MaxRecords int
	StartKey   *storekv.Key
}

const batchSize = 50

// resolve picks the first QueryIndex whose declared field order is a
// prefix-compatible extension of q's statement fields (spec.md §4.6).
func resolve(indices []registry.Index, stmts []Statement) (registry.Index, error) {
	fields := make([]string, len(stmts))
	for i, s := range stmts {
		fields[i] = s.Field
	}
	for _, ix := range indices {
		if ix.Kind != registry.IndexQuery {
			continue
		}
		all := ix.AllFields()
		if len(fields) > len(all) {
			continue
		}
		if len(fields) < len(ix.PartitionFields) {
			continue
		}
		if !sliceEqual(fields[:len(ix.PartitionFields)], ix.PartitionFields) {
			continue
		}
		if !sliceEqual(fields, all[:len(fields)]) {
			continue
		}
		return ix, nil
	}
	return registry.Index{}, ErrQueryNotSupported
}

func sliceEqual(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// BuildKeyCondition translates a StandardQuery's statements into a
// storekv.KeyCondition against the resolved index's partition key and
// (possibly partial) sort key, per spec.md §4.6's eq/lt/lte/gt/gte/
// begins_with lowering.
func BuildKeyCondition(d registry.Descriptor, q StandardQuery, log *zap.Logger) (storekv.KeyCondition, error) {
	ix, err := resolve(d.Indices, q.Statements)
	if err != nil {
		return storekv.KeyCondition{}, err
	}

	pStmts := q.Statements[:len(ix.PartitionFields)]
	pFields := make([]keyenc.NamedField, len(pStmts))
	for i, s := range pStmts {
		if s.Op != OpEq {
			return storekv.KeyCondition{}, fmt.Errorf("%w: partition-field statements must be equality", ErrQueryNotSupported)
		}
		pFields[i] = keyenc.NamedField{Name: s.Field, Value: s.Value}
	}
	pk, err := keyenc.QueryPartitionKey(d.Name, pFields, ix.SortFields, log)
	if err != nil {
		return storekv.KeyCondition{}, err
	}

	sStmts := q.Statements[len(ix.PartitionFields):]
	if len(sStmts) == 0 {
		return storekv.KeyCondition{PK: pk}, nil
	}

	leading := sStmts[:len(sStmts)-1]
	last := sStmts[len(sStmts)-1]

	leadingFields := make([]keyenc.NamedField, len(leading))
	for i, s := range leading {
		if s.Op != OpEq {
			return storekv.KeyCondition{}, fmt.Errorf("%w: only the final sort-field statement may be a range op", ErrQueryNotSupported)
		}
		leadingFields[i] = keyenc.NamedField{Name: s.Field, Value: s.Value}
	}
	prefix, err := keyenc.QuerySortKeyPrefix(leadingFields, log)
	if err != nil {
		return storekv.KeyCondition{}, err
	}

	switch last.Op {
	case OpEq:
		lastEnc, err := keyenc.Encode(last.Value, true, log)
		if err != nil {
			return storekv.KeyCondition{}, err
		}
		return storekv.KeyCondition{PK: pk, SKOp: storekv.SKBeginsWith, SKValue: prefix + keyenc.Separator + lastEnc + keyenc.Separator}, nil
	case OpBeginsWith:
		s, _ := last.Value.(string)
		return storekv.KeyCondition{PK: pk, SKOp: storekv.SKBeginsWith, SKValue: prefix + keyenc.Separator + s}, nil
	case OpLt, OpLte, OpGt, OpGte:
		lastEnc, err := keyenc.Encode(last.Value, true, log)
		if err != nil {
			return storekv.KeyCondition{}, err
		}
		var bound string
		switch last.Op {
		case OpLt, OpLte:
			bound = prefix + keyenc.Separator + lastEnc + "\xff" // high sentinel
		default:
			bound = prefix + keyenc.Separator + lastEnc // low boundary is the prefix itself
		}
		return storekv.KeyCondition{PK: pk, SKOp: opToSK(last.Op), SKValue: bound}, nil
	default:
		return storekv.KeyCondition{}, fmt.Errorf("%w: unsupported op", ErrQueryNotSupported)
	}
}

func opToSK(op Op) storekv.SKOp {
	switch op {
	case OpLt:
		return storekv.SKLt
	case OpLte:
		return storekv.SKLte
	case OpGt:
		return storekv.SKGt
	case OpGte:
		return storekv.SKGte
	default:
		return storekv.SKNone
	}
}

// BatchIterator pulls fixed-size pages from the store until exhausted or
// MaxRecords is reached, exposing LastEvaluatedKey for caller-driven
// resumption (Design Notes, "Iterators").
type BatchIterator struct {
	store            storekv.Store
	cond             storekv.KeyCondition
	indexName        string
	scanForward      bool
	consistent       bool
	maxRecords       int
	fetched          int
	LastEvaluatedKey *storekv.Key
	done             bool
}

func NewBatchIterator(store storekv.Store, cond storekv.KeyCondition, indexName string, scanForward, consistent bool, maxRecords int, start *storekv.Key) *BatchIterator {
	return &BatchIterator{
		store: store, cond: cond, indexName: indexName,
		scanForward: scanForward, consistent: consistent, maxRecords: maxRecords,
		LastEvaluatedKey: start,
	}
}

// NewBatchIteratorFromKeyCondition builds a BatchIterator straight from a
// caller-supplied KeyConditionQuery, bypassing StandardQuery's index
// resolution entirely — for callers that have already built their own store
// key condition (spec.md §4.6).
func NewBatchIteratorFromKeyCondition(store storekv.Store, q KeyConditionQuery) *BatchIterator {
	return NewBatchIterator(store, q.Condition, q.IndexName, !q.Descending, q.Consistent, q.MaxRecords, q.StartKey)
}

// NextBatch fetches up to min(remaining budget, 50) rows.
func (it *BatchIterator) NextBatch(ctx context.Context) ([]map[string]any, bool, error) {
	if it.done {
		return nil, false, nil
	}
	limit := batchSize
	if it.maxRecords > 0 {
		remaining := it.maxRecords - it.fetched
		if remaining <= 0 {
			it.done = true
			return nil, false, nil
		}
		if remaining < limit {
			limit = remaining
		}
	}

	page, err := it.store.Query(ctx, it.cond, storekv.QueryOptions{
		ScanForward: it.scanForward, Limit: limit, Consistent: it.consistent,
		StartKey: it.LastEvaluatedKey, IndexName: it.indexName,
	})
	if err != nil {
		return nil, false, err
	}
	it.fetched += len(page.Rows)
	it.LastEvaluatedKey = page.NextKey
	more := page.NextKey != nil
	if it.maxRecords > 0 && it.fetched >= it.maxRecords {
		more = false
	}
	it.done = !more
	return page.Rows, more, nil
}

// RecordIterator rehydrates Records one at a time, pulling further batches
// from a BatchIterator on demand.
type RecordIterator struct {
	batches   *BatchIterator
	d         registry.Descriptor
	buf       []map[string]any
	pos       int
	moreToPull bool
	started   bool
	log       *zap.Logger
}

func NewRecordIterator(batches *BatchIterator, d registry.Descriptor, log *zap.Logger) *RecordIterator {
	return &RecordIterator{batches: batches, d: d, moreToPull: true, log: log}
}

// Next returns the next rehydrated record, or (nil, false, nil) when
// iteration is exhausted.
func (it *RecordIterator) Next(ctx context.Context) (any, bool, error) {
	for it.pos >= len(it.buf) {
		if !it.moreToPull {
			return nil, false, nil
		}
		rows, more, err := it.batches.NextBatch(ctx)
		if err != nil {
			return nil, false, err
		}
		it.buf = rows
		it.pos = 0
		it.moreToPull = more
		it.started = true
		if len(rows) == 0 && !more {
			return nil, false, nil
		}
		if len(rows) == 0 {
			continue
		}
	}
	row := it.buf[it.pos]
	it.pos++

	raw, _ := row["raw_data"].(string)
	rec := it.d.NewZero()
	if err := it.d.Unmarshal(raw, rec); err != nil {
		return nil, false, fmt.Errorf("queryengine: rehydrate: %w", err)
	}
	return rec, true, nil
}

// DecryptRecord strips and decrypts a rehydrated record's encrypted fields
// in place when the model auto-decrypts. Exported so the root package's
// Model[T] wrapper can apply it after Next without duplicating the
// sentinel-handling logic.
func DecryptRecord(d registry.Descriptor, rec any, decrypt func(string) (string, error)) error {
	if !d.AutoDecrypt {
		return nil
	}
	for _, name := range d.EncryptedFields {
		fb := d.Fields[name]
		fv := fb.Get(rec)
		s, ok := fv.Value.(string)
		if !ok || !strings.HasPrefix(s, "##encrypted##") {
			continue
		}
		plain, err := decrypt(strings.TrimPrefix(s, "##encrypted##"))
		if err != nil {
			return fmt.Errorf("queryengine: decrypt field %q: %w", name, err)
		}
		fb.Set(rec, plain)
	}
	return nil
}
