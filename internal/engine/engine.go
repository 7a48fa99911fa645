// Package engine implements the Write Engine (spec.md §4.5, C5): the
// materialize-diff-commit pipeline that turns a record into its node set,
// diffs it against whatever was previously persisted, and commits the
// result as a single atomic write under an advisory per-record lock.
package engine

import (
	"context"
	"crypto/md5"
	"encoding/hex"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/viewkv/viewkv/internal/errclass"
	"github.com/viewkv/viewkv/internal/keyenc"
	"github.com/viewkv/viewkv/internal/lock"
	"github.com/viewkv/viewkv/internal/node"
	"github.com/viewkv/viewkv/internal/registry"
	"github.com/viewkv/viewkv/internal/storekv"
)

// EncryptedSentinel marks a field value already passed through Encrypt.
const EncryptedSentinel = "##encrypted##"

// CryptoFuncs is the process-wide pair of encryption primitives a caller
// registers via the root package's SetCrypto before saving any model that
// declares encrypted fields.
type CryptoFuncs struct {
	Encrypt func(string) (string, error)
	Decrypt func(string) (string, error)
}

// ErrCryptoNotConfigured is returned when a model declares encrypted
// fields but no CryptoFuncs has been registered.
var ErrCryptoNotConfigured = fmt.Errorf("engine: encryption functions not registered")

// ErrRecordNotFound is returned by GetByID when no base node exists.
var ErrRecordNotFound = fmt.Errorf("engine: record not found")

// Engine is the Write Engine. It is stateless besides its collaborators —
// store, lock, logger, and the process-wide crypto functions — and is
// shared across every registered model.
type Engine struct {
	store  storekv.Store
	locker *lock.Locker
	log    *zap.Logger
	crypto *CryptoFuncs
}

func New(store storekv.Store, locker *lock.Locker, log *zap.Logger) *Engine {
	if log == nil {
		log = zap.NewNop()
	}
	return &Engine{store: store, locker: locker, log: log.Named("engine")}
}

// SetCrypto registers the process-wide encrypt/decrypt pair. Safe to call
// once at startup, before any Save/GetByID touches an encrypted model.
func (e *Engine) SetCrypto(encrypt, decrypt func(string) (string, error)) {
	e.crypto = &CryptoFuncs{Encrypt: encrypt, Decrypt: decrypt}
}

// Decrypt exposes the registered decrypt function, or nil if SetCrypto has
// not been called, for callers (the query engine's auto-decrypt path) that
// need it outside the Save/GetByID pipeline.
func (e *Engine) Decrypt() func(string) (string, error) {
	if e.crypto == nil {
		return nil
	}
	return e.crypto.Decrypt
}

// Save implements spec.md §4.5's seven-step save pipeline.
func (e *Engine) Save(ctx context.Context, b *registry.Binding, rec any) error {
	d := b.Descriptor

	id := d.RecordID(rec)
	if id == "" {
		id = uuid.Must(uuid.NewV7()).String()
		d.SetRecordID(rec, id)
	}

	h, err := e.locker.Acquire(ctx, id)
	if err != nil {
		return fmt.Errorf("engine: save %s/%s: %w", d.Name, id, err)
	}
	defer func() {
		if relErr := e.locker.Release(ctx, h); relErr != nil {
			e.log.Warn("lock release failed", zap.String("model", d.Name), zap.String("id", id), zap.Error(relErr))
		}
	}()

	if err := e.refreshHash(d, rec); err != nil {
		return fmt.Errorf("engine: save %s/%s: hash: %w", d.Name, id, err)
	}

	if err := e.encryptSentinelFields(d, rec); err != nil {
		return fmt.Errorf("engine: save %s/%s: encrypt: %w", d.Name, id, err)
	}

	current, err := e.materialize(d, rec, id)
	if err != nil {
		return fmt.Errorf("engine: save %s/%s: materialize: %w", d.Name, id, err)
	}

	existing, err := e.fetchExisting(ctx, id)
	if err != nil {
		return fmt.Errorf("engine: save %s/%s: fetch existing: %w", d.Name, id, err)
	}

	stale := node.Diff(existing, current)

	items := make([]storekv.WriteOp, 0, len(current)+len(stale))
	submitted := make([]errclass.Submitted, 0, cap(items))
	for _, it := range current {
		items = append(items, putOp(it, id))
		submitted = append(submitted, errclass.Submitted{Kind: it.Kind(), PK: it.Key().PK})
	}
	for _, k := range stale {
		items = append(items, storekv.WriteOp{Op: storekv.OpDelete, PK: k.PK, SK: k.SK})
		submitted = append(submitted, errclass.Submitted{Kind: "", PK: k.PK})
	}

	if err := e.store.AtomicWrite(ctx, items); err != nil {
		return fmt.Errorf("engine: save %s/%s: %w", d.Name, id, errclass.Classify(err, submitted))
	}
	return nil
}

// Delete implements spec.md §4.5's delete pipeline.
func (e *Engine) Delete(ctx context.Context, id string) error {
	h, err := e.locker.Acquire(ctx, id)
	if err != nil {
		return fmt.Errorf("engine: delete %s: %w", id, err)
	}
	defer func() {
		if relErr := e.locker.Release(ctx, h); relErr != nil {
			e.log.Warn("lock release failed", zap.String("id", id), zap.Error(relErr))
		}
	}()

	existing, err := e.fetchExisting(ctx, id)
	if err != nil {
		return fmt.Errorf("engine: delete %s: fetch existing: %w", id, err)
	}
	if len(existing) == 0 {
		return nil
	}

	items := make([]storekv.WriteOp, 0, len(existing))
	for _, it := range existing {
		k := it.Key()
		items = append(items, storekv.WriteOp{Op: storekv.OpDelete, PK: k.PK, SK: k.SK})
	}
	if err := e.store.AtomicWrite(ctx, items); err != nil {
		return fmt.Errorf("engine: delete %s: %w", id, err)
	}
	return nil
}

// GetByID loads a record's base node and rehydrates it via the binding's
// Unmarshal/NewZero pair, applying auto-decrypt if configured.
func (e *Engine) GetByID(ctx context.Context, b *registry.Binding, id string) (any, error) {
	row, ok, err := e.store.Get(ctx, id, id, true)
	if err != nil {
		return nil, fmt.Errorf("engine: get %s/%s: %w", b.Descriptor.Name, id, err)
	}
	if !ok {
		return nil, ErrRecordNotFound
	}
	raw, _ := row["raw_data"].(string)
	rec, err := e.rehydrate(b.Descriptor, raw)
	if err != nil {
		return nil, fmt.Errorf("engine: get %s/%s: rehydrate: %w", b.Descriptor.Name, id, err)
	}
	return rec, nil
}

// rehydrate parses raw_data and, if the model auto-decrypts, decrypts its
// encrypted fields in place.
func (e *Engine) rehydrate(d registry.Descriptor, raw string) (any, error) {
	rec := d.NewZero()
	if err := d.Unmarshal(raw, rec); err != nil {
		return nil, err
	}
	if d.AutoDecrypt {
		for _, name := range d.EncryptedFields {
			fb := d.Fields[name]
			fv := fb.Get(rec)
			s, ok := fv.Value.(string)
			if !ok || !strings.HasPrefix(s, EncryptedSentinel) {
				continue
			}
			if e.crypto == nil {
				return nil, ErrCryptoNotConfigured
			}
			plain, err := e.crypto.Decrypt(strings.TrimPrefix(s, EncryptedSentinel))
			if err != nil {
				return nil, fmt.Errorf("decrypt field %q: %w", name, err)
			}
			fb.Set(rec, plain)
		}
	}
	return rec, nil
}

func (e *Engine) refreshHash(d registry.Descriptor, rec any) error {
	raw, err := d.MarshalForHash(rec)
	if err != nil {
		return err
	}
	sum := md5.Sum(raw)
	hash := hex.EncodeToString(sum[:])
	if hash != d.GetUpdatedHash(rec) {
		d.SetUpdatedHash(rec, hash)
		d.SetUpdatedAt(rec, time.Now().UTC())
	}
	return nil
}

func (e *Engine) encryptSentinelFields(d registry.Descriptor, rec any) error {
	if len(d.EncryptedFields) == 0 {
		return nil
	}
	if e.crypto == nil {
		return ErrCryptoNotConfigured
	}
	for _, name := range d.EncryptedFields {
		fb := d.Fields[name]
		fv := fb.Get(rec)
		s, ok := fv.Value.(string)
		if !ok {
			e.log.Debug("skipping non-string encrypted field", zap.String("field", name))
			continue
		}
		if strings.HasPrefix(s, EncryptedSentinel) {
			continue
		}
		cipher, err := e.crypto.Encrypt(s)
		if err != nil {
			return fmt.Errorf("encrypt field %q: %w", name, err)
		}
		fb.Set(rec, EncryptedSentinel+cipher)
	}
	return nil
}

// materialize produces the current node set for rec: the BaseNode plus one
// non-base node per declared index (spec.md §3, I2).
func (e *Engine) materialize(d registry.Descriptor, rec any, id string) ([]node.Item, error) {
	raw, err := d.MarshalRaw(rec)
	if err != nil {
		return nil, err
	}

	items := make([]node.Item, 0, len(d.Indices)+1)
	var others []node.Key

	for _, ix := range d.Indices {
		switch ix.Kind {
		case registry.IndexUnique:
			fields, err := namedFields(d, rec, ix.Fields)
			if err != nil {
				return nil, err
			}
			pk, sk, err := keyenc.UniqueKey(d.Name, fields, e.log)
			if err != nil {
				return nil, err
			}
			un := node.NewUniqueNode(d.Name, id, pk, sk, toNodeFields(fields))
			items = append(items, un)
			others = append(others, un.Key())

		case registry.IndexQuery:
			pFields, err := namedFields(d, rec, ix.PartitionFields)
			if err != nil {
				return nil, err
			}
			sFields, err := namedFields(d, rec, ix.SortFields)
			if err != nil {
				return nil, err
			}
			pk, sk, err := keyenc.QueryKey(d.Name, id, pFields, sFields, ix.SortFields, e.log)
			if err != nil {
				return nil, err
			}
			qn := node.NewQueryNode(d.Name, id, pk, sk, toNodeFields(pFields), toNodeFields(sFields), raw)
			items = append(items, qn)
			others = append(others, qn.Key())
		}
	}

	base := node.NewBaseNode(d.Name, id, raw, others)
	items = append([]node.Item{base}, items...)
	return items, nil
}

func namedFields(d registry.Descriptor, rec any, names []string) ([]keyenc.NamedField, error) {
	out := make([]keyenc.NamedField, len(names))
	for i, name := range names {
		fb, ok := d.Fields[name]
		if !ok {
			return nil, fmt.Errorf("engine: %w: field %q has no accessor", errFieldMisconfiguration, name)
		}
		out[i] = keyenc.NamedField{Name: name, Value: fb.Get(rec).Value}
	}
	return out, nil
}

var errFieldMisconfiguration = fmt.Errorf("field misconfiguration")

func toNodeFields(fields []keyenc.NamedField) []node.Field {
	out := make([]node.Field, len(fields))
	for i, f := range fields {
		out[i] = node.Field{Name: f.Name, Value: f.Value}
	}
	return out
}

func putOp(it node.Item, entityID string) storekv.WriteOp {
	k := it.Key()
	op := storekv.WriteOp{Op: storekv.OpPut, PK: k.PK, SK: k.SK, Row: it.Row()}
	if it.Kind() == node.KindUnique {
		op.Condition = storekv.Condition{Kind: storekv.CondNotExistsOrEntityIDEquals, EntityIDEquals: entityID}
	}
	return op
}

// fetchExisting loads the current BaseNode (if any) and every node it
// references, fetching the referenced nodes concurrently via errgroup —
// spec.md §4.5 step 5.
func (e *Engine) fetchExisting(ctx context.Context, id string) ([]node.Item, error) {
	row, ok, err := e.store.Get(ctx, id, id, true)
	if err != nil {
		return nil, err
	}
	if !ok {
		return nil, nil
	}

	base := rowToBase(row)
	others := base.OtherNodes
	items := make([]node.Item, len(others)+1)
	items[0] = base

	g, gctx := errgroup.WithContext(ctx)
	for i, k := range others {
		i, k := i, k
		g.Go(func() error {
			r, found, err := e.store.Get(gctx, k.PK, k.SK, true)
			if err != nil {
				return err
			}
			if !found {
				return nil
			}
			items[i+1] = rowToItem(r)
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := items[:0]
	for _, it := range items {
		if it != nil {
			out = append(out, it)
		}
	}
	return out, nil
}

func rowToBase(row map[string]any) *node.BaseNode {
	others := rowOtherNodes(row)
	return node.NewBaseNode(
		str(row["entity_name"]), str(row["entity_id"]), str(row["raw_data"]), others,
	)
}

func rowOtherNodes(row map[string]any) []node.Key {
	raw, _ := row["other_nodes"].([]any)
	out := make([]node.Key, 0, len(raw))
	for _, v := range raw {
		pair, ok := v.([]any)
		if !ok || len(pair) != 2 {
			continue
		}
		out = append(out, node.Key{PK: str(pair[0]), SK: str(pair[1])})
	}
	return out
}

func rowToItem(row map[string]any) node.Item {
	switch str(row["node_type"]) {
	case string(node.KindUnique):
		return node.NewUniqueNode(str(row["entity_name"]), str(row["entity_id"]), str(row["pk"]), str(row["sk"]), nil)
	case string(node.KindQuery):
		return node.NewQueryNode(str(row["entity_name"]), str(row["entity_id"]), str(row["pk"]), str(row["sk"]), nil, nil, str(row["raw_data"]))
	default:
		return node.NewBaseNode(str(row["entity_name"]), str(row["entity_id"]), str(row["raw_data"]), rowOtherNodes(row))
	}
}

func str(v any) string {
	s, _ := v.(string)
	return s
}
