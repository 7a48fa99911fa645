package viewkv_test

import (
	"context"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"

	"github.com/viewkv/viewkv"
	"github.com/viewkv/viewkv/internal/lock"
	"github.com/viewkv/viewkv/internal/storekv/redisstore"
)

type person struct {
	viewkv.Meta
	Name string
	Age  int64
}

func newTestEngine(t *testing.T) *viewkv.Engine {
	t.Helper()
	mr, err := miniredis.Run()
	require.NoError(t, err)
	t.Cleanup(mr.Close)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	store := redisstore.New(rdb, zap.NewNop(), redisstore.Options{KeyPrefix: "viewkv_test:"})
	locker := lock.New(rdb, zap.NewNop(), lock.Options{})
	return viewkv.NewEngine(store, locker, zap.NewNop())
}

func personDescriptor() viewkv.Descriptor[person] {
	return viewkv.Descriptor[person]{
		Name: "Person",
		Fields: map[string]viewkv.Field[person]{
			"name": {Get: func(p *person) viewkv.FieldValue { return viewkv.FieldValue{Name: "name", Value: p.Name} }},
			"age":  {Get: func(p *person) viewkv.FieldValue { return viewkv.FieldValue{Name: "age", Value: p.Age} }},
		},
		Indices: []viewkv.Index{
			viewkv.UniqueIdx("name"),
			viewkv.QueryIdx([]string{"name"}, []string{"age"}),
		},
	}
}

func TestSaveAndGetByID(t *testing.T) {
	e := newTestEngine(t)
	model, err := viewkv.Register(e, personDescriptor())
	require.NoError(t, err)

	p := &person{Name: "John", Age: 30}
	require.NoError(t, model.Save(context.Background(), p))
	require.NotEmpty(t, p.ID)

	got, err := model.GetByID(context.Background(), p.ID)
	require.NoError(t, err)
	assert.Equal(t, "John", got.Name)
	assert.Equal(t, int64(30), got.Age)
}

func TestSaveEnforcesUniqueness(t *testing.T) {
	e := newTestEngine(t)
	model, err := viewkv.Register(e, personDescriptor())
	require.NoError(t, err)

	require.NoError(t, model.Save(context.Background(), &person{Name: "John", Age: 30}))
	err = model.Save(context.Background(), &person{Name: "John", Age: -234})

	var uniqueErr *viewkv.RecordNotUniqueError
	require.ErrorAs(t, err, &uniqueErr)
}

func TestQueryByNamePrefix(t *testing.T) {
	e := newTestEngine(t)
	// Two records share the name "John", so this model declares only the
	// query index; UniqueIdx("name") would reject the second save.
	d := personDescriptor()
	d.Indices = []viewkv.Index{viewkv.QueryIdx([]string{"name"}, []string{"age"})}
	model, err := viewkv.Register(e, d)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, model.Save(ctx, &person{Name: "John", Age: 30}))
	require.NoError(t, model.Save(ctx, &person{Name: "John", Age: 40}))
	require.NoError(t, model.Save(ctx, &person{Name: "Jane", Age: 25}))

	it, err := model.Query(ctx, viewkv.StandardQuery{
		Statements: []viewkv.Statement{{Field: "name", Op: viewkv.OpEq, Value: "John"}},
	})
	require.NoError(t, err)

	var ages []int64
	for {
		p, ok, err := it.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		ages = append(ages, p.Age)
	}
	assert.ElementsMatch(t, []int64{30, 40}, ages)
}

func TestQueryByConditionBypassesIndexResolution(t *testing.T) {
	e := newTestEngine(t)
	// Query index only: two records share the name "John".
	d := personDescriptor()
	d.Indices = []viewkv.Index{viewkv.QueryIdx([]string{"name"}, []string{"age"})}
	model, err := viewkv.Register(e, d)
	require.NoError(t, err)

	ctx := context.Background()
	require.NoError(t, model.Save(ctx, &person{Name: "John", Age: 30}))
	require.NoError(t, model.Save(ctx, &person{Name: "John", Age: 40}))
	require.NoError(t, model.Save(ctx, &person{Name: "Jane", Age: 25}))

	// Same lookup StandardQuery{name=="John"} would resolve to, but built by
	// hand against the QueryIdx("name","age") partition key directly.
	it, err := model.QueryByCondition(ctx, viewkv.KeyConditionQuery{
		Condition: viewkv.KeyCondition{PK: "Person[name=John][age]"},
	})
	require.NoError(t, err)

	var ages []int64
	for {
		p, ok, err := it.Next(ctx)
		require.NoError(t, err)
		if !ok {
			break
		}
		ages = append(ages, p.Age)
	}
	assert.ElementsMatch(t, []int64{30, 40}, ages)
}

func TestDeleteRemovesRecord(t *testing.T) {
	e := newTestEngine(t)
	model, err := viewkv.Register(e, personDescriptor())
	require.NoError(t, err)
	ctx := context.Background()

	p := &person{Name: "John", Age: 30}
	require.NoError(t, model.Save(ctx, p))
	require.NoError(t, model.Delete(ctx, p.ID))

	_, err = model.GetByID(ctx, p.ID)
	assert.ErrorIs(t, err, viewkv.ErrRecordNotFound)
}

func TestRegisterRejectsUnknownIndexField(t *testing.T) {
	e := newTestEngine(t)
	d := personDescriptor()
	d.Indices = append(d.Indices, viewkv.UniqueIdx("missing"))
	_, err := viewkv.Register(e, d)
	assert.ErrorIs(t, err, viewkv.ErrFieldMisconfiguration)
}
