// Package redisstore is the concrete Store Adapter (spec.md §4.3) backing
// viewkv with Redis: each node row is a JSON string value keyed by its
// (pk, sk) pair, query-index ordering is provided by all-zero-score sorted
// sets (whose member ordering degrades to lexicographic text order,
// matching the guarantee internal/keyenc's lex encoding was built to
// provide), and the multi-item atomic write primitive is a single Lua
// script evaluated with EVAL — the standard go-redis check-then-set
// pattern, generalized from the teacher's TxPipeline usage in
// internal/redis.ChannelRepository.
package redisstore

import (
	"context"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/viewkv/viewkv/internal/storekv"
)

// Client wraps a go-redis client the way the teacher's internal/redis.Client
// wraps it: fixed network timeouts, a named logger, and a startup ping.
type Client struct {
	*redis.Client
	log *zap.Logger
}

// Options configures a Store.
type Options struct {
	Addr      string
	DB        int
	KeyPrefix string // defaults to "viewkv:"
}

// NewClient constructs a ready-to-use Redis client, mirroring the teacher's
// internal/redis.NewClient constructor.
func NewClient(addr string, db int, log *zap.Logger) *Client {
	if log == nil {
		log = zap.NewNop()
	}
	opts := &redis.Options{
		Addr:         addr,
		DB:           db,
		DialTimeout:  5 * time.Second,
		ReadTimeout:  3 * time.Second,
		WriteTimeout: 3 * time.Second,
		PoolSize:     10,
		MinIdleConns: 5,
		MaxRetries:   3,
	}
	c := &Client{Client: redis.NewClient(opts), log: log.Named("redis")}

	ctx, cancel := context.WithTimeout(context.Background(), 500*time.Millisecond)
	defer cancel()
	start := time.Now()
	if err := c.Client.Ping(ctx).Err(); err != nil {
		c.log.Warn("connection failed", zap.Error(err), zap.Duration("ping_rtt", time.Since(start)))
	} else {
		c.log.Info("connection established", zap.Duration("ping_rtt", time.Since(start)))
	}
	return c
}

// Store implements storekv.Store over Redis.
type Store struct {
	rdb    redis.Cmdable
	log    *zap.Logger
	prefix string
	script *redis.Script
}

// New constructs a Store over an already-connected client. rdb accepts
// either *Client or any redis.Cmdable so tests can point it at a
// miniredis-backed *redis.Client directly.
func New(rdb redis.Cmdable, log *zap.Logger, opts Options) *Store {
	if log == nil {
		log = zap.NewNop()
	}
	prefix := opts.KeyPrefix
	if prefix == "" {
		prefix = "viewkv:"
	}
	return &Store{
		rdb:    rdb,
		log:    log.Named("redisstore"),
		prefix: prefix,
		script: redis.NewScript(atomicWriteScript),
	}
}

func (s *Store) rowKey(pk, sk string) string {
	return s.prefix + "row:" + pk + "\x1f" + sk
}

func (s *Store) queryPartitionKey(pk string) string {
	return s.prefix + "qp:" + pk
}

func (s *Store) entityScanKey(entity string) string {
	return s.prefix + "allidx:" + entity
}

func (s *Store) identityKey(entityID string) string {
	return s.prefix + "ididx:" + entityID
}

// Get fetches one row by its primary key. consistent is accepted for
// interface conformance; a single Redis node is always strongly consistent.
func (s *Store) Get(ctx context.Context, pk, sk string, _ bool) (map[string]any, bool, error) {
	raw, err := s.rdb.Get(ctx, s.rowKey(pk, sk)).Bytes()
	if err == redis.Nil {
		return nil, false, nil
	}
	if err != nil {
		return nil, false, fmt.Errorf("redisstore: get: %w", err)
	}
	row, err := decodeRow(raw)
	if err != nil {
		return nil, false, fmt.Errorf("redisstore: decode row: %w", err)
	}
	return row, true, nil
}

// NodesByEntityID returns every (pk, sk) this entity id owns, per the
// ids_only GSI spec.md §4.3 requires a conformant store to maintain. Not
// consumed by the query engine directly; available for the reindexer and
// consistency diagnostics.
func (s *Store) NodesByEntityID(ctx context.Context, entityID string) ([]storekv.Key, error) {
	members, err := s.rdb.SMembers(ctx, s.identityKey(entityID)).Result()
	if err != nil {
		return nil, fmt.Errorf("redisstore: smembers: %w", err)
	}
	out := make([]storekv.Key, 0, len(members))
	for _, m := range members {
		parts := strings.SplitN(m, "\x1f", 2)
		if len(parts) != 2 {
			continue
		}
		out = append(out, storekv.Key{PK: parts[0], SK: parts[1]})
	}
	return out, nil
}

func decodeRow(raw []byte) (map[string]any, error) {
	var row map[string]any
	if err := json.Unmarshal(raw, &row); err != nil {
		return nil, err
	}
	return row, nil
}

// wireItem is the JSON shape passed to atomicWriteScript's ARGV[2].
type wireItem struct {
	Op           string `json:"op"`
	PK           string `json:"pk"`
	SK           string `json:"sk"`
	RowJSON      string `json:"row_json,omitempty"`
	Cond         string `json:"cond"`
	CondEntityID string `json:"cond_entity_id,omitempty"`
	UpdateExpr   string `json:"update_expr,omitempty"`
	UpdateBy     int64  `json:"update_by,omitempty"`
}

func condName(c storekv.Condition) string {
	switch c.Kind {
	case storekv.CondNotExists:
		return "not_exists"
	case storekv.CondNotExistsOrEntityIDEquals:
		return "not_exists_or_entity_id_equals"
	case storekv.CondRowExists:
		return "row_exists"
	default:
		return "none"
	}
}

func opName(o storekv.Op) string {
	switch o {
	case storekv.OpPut:
		return "put"
	case storekv.OpDelete:
		return "delete"
	case storekv.OpUpdate:
		return "update"
	default:
		return "put"
	}
}

// AtomicWrite applies items all-or-nothing via a single Lua script
// evaluation, matching the all-or-nothing semantics of a DynamoDB
// TransactWriteItems call (spec.md §4.3).
func (s *Store) AtomicWrite(ctx context.Context, items []storekv.WriteOp) error {
	wire := make([]wireItem, len(items))
	for i, it := range items {
		w := wireItem{
			Op:           opName(it.Op),
			PK:           it.PK,
			SK:           it.SK,
			Cond:         condName(it.Condition),
			CondEntityID: it.Condition.EntityIDEquals,
			UpdateExpr:   it.UpdateExpr,
			UpdateBy:     it.UpdateBy,
		}
		if it.Op == storekv.OpPut {
			raw, err := json.Marshal(it.Row)
			if err != nil {
				return fmt.Errorf("redisstore: marshal row %d: %w", i, err)
			}
			w.RowJSON = string(raw)
		}
		wire[i] = w
	}
	payload, err := json.Marshal(wire)
	if err != nil {
		return fmt.Errorf("redisstore: marshal items: %w", err)
	}

	res, err := s.script.Run(ctx, s.rdb, nil, s.prefix, string(payload)).Result()
	if err != nil {
		return fmt.Errorf("redisstore: atomic write: %w", err)
	}
	result, ok := res.([]any)
	if !ok || len(result) == 0 {
		return fmt.Errorf("redisstore: atomic write: unexpected script result %v", res)
	}
	ok2, _ := result[0].(int64)
	if ok2 == 1 {
		return nil
	}
	failedIndex, _ := result[1].(int64)
	message, _ := result[2].(string)

	reasons := make([]storekv.Reason, len(items))
	if int(failedIndex) >= 0 && int(failedIndex) < len(reasons) {
		reasons[failedIndex] = storekv.Reason{ConditionalCheckFailed: true, Message: message}
	}
	s.log.Debug("atomic write rejected", zap.Int64("failed_index", failedIndex), zap.String("message", message))
	return &storekv.AtomicWriteError{Reasons: reasons}
}

// buildLexRange turns a KeyCondition's sort-key predicate into go-redis
// ZRANGEBYLEX/ZREVRANGEBYLEX bound strings. Redis lex ranges use "[" for
// inclusive, "(" for exclusive, "-" / "+" for unbounded.
func buildLexRange(op storekv.SKOp, value string) (min, max string) {
	switch op {
	case storekv.SKEq:
		return "[" + value, "[" + value
	case storekv.SKBeginsWith:
		return "[" + value, "[" + value + "\xff"
	case storekv.SKLt:
		return "-", "(" + value
	case storekv.SKLte:
		return "-", "[" + value
	case storekv.SKGt:
		return "(" + value, "+"
	case storekv.SKGte:
		return "[" + value, "+"
	default:
		return "-", "+"
	}
}

// Query lists rows under a partition key, honoring an optional sort-key
// predicate, pagination, and direction. The primary index ("" or
// "primary") scans qp:{pk}; "model_scan" scans allidx:{entity}. Any other
// index name, including "ids_only", is rejected with an error: a record's
// own rows are listed by NodesByEntityID instead.
func (s *Store) Query(ctx context.Context, cond storekv.KeyCondition, opts storekv.QueryOptions) (storekv.QueryPage, error) {
	var zkey string
	switch opts.IndexName {
	case "", "primary":
		zkey = s.queryPartitionKey(cond.PK)
	case "model_scan":
		zkey = s.entityScanKey(cond.PK)
	default:
		return storekv.QueryPage{}, fmt.Errorf("redisstore: unsupported index %q", opts.IndexName)
	}

	min, max := buildLexRange(cond.SKOp, cond.SKValue)
	if opts.StartKey != nil {
		// Exclusive-bound chaining: resume strictly past the last returned sk.
		if opts.ScanForward {
			min = "(" + opts.StartKey.SK
		} else {
			max = "(" + opts.StartKey.SK
		}
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 100
	}

	var members []string
	var err error
	// Fetch up to limit+1 members; only the first limit are kept below.
	fetch := &redis.ZRangeBy{Min: min, Max: max, Count: int64(limit + 1)}
	if opts.ScanForward {
		members, err = s.rdb.ZRangeByLex(ctx, zkey, fetch).Result()
	} else {
		members, err = s.rdb.ZRevRangeByLex(ctx, zkey, &redis.ZRangeBy{Min: fetch.Min, Max: fetch.Max, Count: fetch.Count}).Result()
	}
	if err != nil {
		return storekv.QueryPage{}, fmt.Errorf("redisstore: query: %w", err)
	}

	var next *storekv.Key
	if len(members) > limit {
		members = members[:limit]
	}

	rows := make([]map[string]any, 0, len(members))
	for _, sk := range members {
		var row map[string]any
		var rk string
		if opts.IndexName == "model_scan" {
			// member is an entity_id (base node id), whose row lives at (id, id).
			rk = s.rowKey(sk, sk)
		} else {
			rk = s.rowKey(cond.PK, sk)
		}
		raw, gerr := s.rdb.Get(ctx, rk).Bytes()
		if gerr == redis.Nil {
			continue
		}
		if gerr != nil {
			return storekv.QueryPage{}, fmt.Errorf("redisstore: query fetch: %w", gerr)
		}
		row, err = decodeRow(raw)
		if err != nil {
			return storekv.QueryPage{}, fmt.Errorf("redisstore: decode row: %w", err)
		}
		rows = append(rows, row)
	}

	// Whether another page follows is decided by counting every member in
	// the lex range (ZLEXCOUNT), not by the fetched slice.
	fetched, err := s.peekHasMore(ctx, zkey, min, max, opts.ScanForward, limit)
	if err != nil {
		return storekv.QueryPage{}, err
	}
	if fetched && len(rows) > 0 {
		lastSK := members[len(members)-1]
		next = &storekv.Key{PK: cond.PK, SK: lastSK}
	}

	return storekv.QueryPage{Rows: rows, NextKey: next}, nil
}

// peekHasMore reports whether more than limit members exist in the lex
// range, used to decide whether Query should emit a NextKey cursor.
func (s *Store) peekHasMore(ctx context.Context, zkey, min, max string, _ bool, limit int) (bool, error) {
	count, err := s.rdb.ZLexCount(ctx, zkey, min, max).Result()
	if err != nil {
		return false, fmt.Errorf("redisstore: zlexcount: %w", err)
	}
	return count > int64(limit), nil
}
