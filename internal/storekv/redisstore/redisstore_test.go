package redisstore

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/require"

	"github.com/viewkv/viewkv/internal/storekv"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)

	// miniredis's EVAL implementation bundles github.com/alicebob/gopher-json
	// so cjson.encode/decode behave the same as against real Redis.
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	return New(rdb, nil, Options{KeyPrefix: "test:"})
}

func TestGetMissing(t *testing.T) {
	s := newTestStore(t)
	_, ok, err := s.Get(context.Background(), "pk", "sk", false)
	require.NoError(t, err)
	require.False(t, ok)
}

func TestAtomicWritePutThenGet(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	err := s.AtomicWrite(ctx, []storekv.WriteOp{
		{
			Op: storekv.OpPut, PK: "rec-1", SK: "rec-1",
			Row: map[string]any{
				"node_type": "base", "entity_name": "Widget", "entity_id": "rec-1",
				"pk": "rec-1", "sk": "rec-1", "base_node_id": "rec-1", "raw_data": `{"x":1}`,
			},
			Condition: storekv.Condition{Kind: storekv.CondNotExists},
		},
	})
	require.NoError(t, err)

	row, ok, err := s.Get(ctx, "rec-1", "rec-1", false)
	require.NoError(t, err)
	require.True(t, ok)
	require.Equal(t, "Widget", row["entity_name"])
}

func TestAtomicWriteUniquenessConflictRejected(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	uniqueRow := func(entityID string) map[string]any {
		return map[string]any{
			"node_type": "unique", "entity_name": "Widget", "entity_id": entityID,
			"pk": "Widget(name=Acme)", "sk": "unique",
			"unique_node_id": entityID, "fields": []map[string]any{{"name": "name", "value": "Acme"}},
		}
	}

	err := s.AtomicWrite(ctx, []storekv.WriteOp{
		{
			Op: storekv.OpPut, PK: "Widget(name=Acme)", SK: "unique",
			Row:       uniqueRow("rec-1"),
			Condition: storekv.Condition{Kind: storekv.CondNotExistsOrEntityIDEquals, EntityIDEquals: "rec-1"},
		},
	})
	require.NoError(t, err)

	err = s.AtomicWrite(ctx, []storekv.WriteOp{
		{
			Op: storekv.OpPut, PK: "Widget(name=Acme)", SK: "unique",
			Row:       uniqueRow("rec-2"),
			Condition: storekv.Condition{Kind: storekv.CondNotExistsOrEntityIDEquals, EntityIDEquals: "rec-2"},
		},
	})
	require.Error(t, err)
	awErr, ok := err.(*storekv.AtomicWriteError)
	require.True(t, ok)
	require.Len(t, awErr.Reasons, 1)
	require.True(t, awErr.Reasons[0].ConditionalCheckFailed)

	// Re-saving under the original owner must still succeed (same entity id).
	err = s.AtomicWrite(ctx, []storekv.WriteOp{
		{
			Op: storekv.OpPut, PK: "Widget(name=Acme)", SK: "unique",
			Row:       uniqueRow("rec-1"),
			Condition: storekv.Condition{Kind: storekv.CondNotExistsOrEntityIDEquals, EntityIDEquals: "rec-1"},
		},
	})
	require.NoError(t, err)
}

func TestAtomicWriteDeleteCleansIndexes(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	queryRow := map[string]any{
		"node_type": "query", "entity_name": "Widget", "entity_id": "rec-1",
		"pk": "Widget[cat=tools][price]", "sk": "##price##rec-1",
		"query_node_id": "rec-1", "raw_data": `{}`,
	}
	require.NoError(t, s.AtomicWrite(ctx, []storekv.WriteOp{
		{Op: storekv.OpPut, PK: "Widget[cat=tools][price]", SK: "##price##rec-1", Row: queryRow},
	}))

	page, err := s.Query(ctx, storekv.KeyCondition{PK: "Widget[cat=tools][price]"}, storekv.QueryOptions{ScanForward: true, Limit: 10})
	require.NoError(t, err)
	require.Len(t, page.Rows, 1)

	require.NoError(t, s.AtomicWrite(ctx, []storekv.WriteOp{
		{Op: storekv.OpDelete, PK: "Widget[cat=tools][price]", SK: "##price##rec-1"},
	}))

	page, err = s.Query(ctx, storekv.KeyCondition{PK: "Widget[cat=tools][price]"}, storekv.QueryOptions{ScanForward: true, Limit: 10})
	require.NoError(t, err)
	require.Empty(t, page.Rows)
}

func TestQueryPaginationForward(t *testing.T) {
	s := newTestStore(t)
	ctx := context.Background()

	var ops []storekv.WriteOp
	for i, id := range []string{"a", "b", "c", "d", "e"} {
		sk := "##" + id + "##rec-" + id
		ops = append(ops, storekv.WriteOp{
			Op: storekv.OpPut, PK: "Widget[cat=tools][name]", SK: sk,
			Row: map[string]any{
				"node_type": "query", "entity_name": "Widget", "entity_id": "rec-" + id,
				"pk": "Widget[cat=tools][name]", "sk": sk, "query_node_id": "rec-" + id, "raw_data": "{}",
			},
		})
		_ = i
	}
	require.NoError(t, s.AtomicWrite(ctx, ops))

	page1, err := s.Query(ctx, storekv.KeyCondition{PK: "Widget[cat=tools][name]"}, storekv.QueryOptions{ScanForward: true, Limit: 2})
	require.NoError(t, err)
	require.Len(t, page1.Rows, 2)
	require.NotNil(t, page1.NextKey)

	page2, err := s.Query(ctx, storekv.KeyCondition{PK: "Widget[cat=tools][name]"}, storekv.QueryOptions{ScanForward: true, Limit: 2, StartKey: page1.NextKey})
	require.NoError(t, err)
	require.Len(t, page2.Rows, 2)
}
