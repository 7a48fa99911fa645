// Command viewkv-demo wires one registered model end to end against a real
// Redis instance: save a few records, run a prefix query, reindex every
// record, and delete one. It exists to exercise the public API outside of tests, the way
// bulk-delete exercises internal/service directly against Redis.
package main

import (
	"context"
	"flag"
	"fmt"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"github.com/viewkv/viewkv"
	"github.com/viewkv/viewkv/internal/lock"
	"github.com/viewkv/viewkv/internal/reindex"
	"github.com/viewkv/viewkv/internal/storekv/redisstore"
)

type account struct {
	viewkv.Meta
	Email  string
	Plan   string
	Credit int64
}

func accountDescriptor() viewkv.Descriptor[account] {
	return viewkv.Descriptor[account]{
		Name: "Account",
		Fields: map[string]viewkv.Field[account]{
			"email": {Get: func(a *account) viewkv.FieldValue { return viewkv.FieldValue{Name: "email", Value: a.Email} }},
			"plan":  {Get: func(a *account) viewkv.FieldValue { return viewkv.FieldValue{Name: "plan", Value: a.Plan} }},
			"credit": {
				Get: func(a *account) viewkv.FieldValue { return viewkv.FieldValue{Name: "credit", Value: a.Credit} },
				Set: func(a *account, v any) { a.Credit = v.(int64) },
			},
		},
		Indices: []viewkv.Index{
			viewkv.UniqueIdx("email"),
			viewkv.QueryIdx([]string{"plan"}, []string{"credit"}),
		},
	}
}

func main() {
	addr := flag.String("addr", "127.0.0.1:6379", "redis address")
	db := flag.Int("db", 0, "redis db index")
	flag.Parse()

	log := buildLogger()
	log = log.Named("main")

	rdb := redisstore.NewClient(*addr, *db, log)
	defer rdb.Close()

	store := redisstore.New(rdb.Client, log, redisstore.Options{KeyPrefix: "viewkv:demo:"})
	locker := lock.New(rdb.Client, log, lock.Options{})
	engine := viewkv.NewEngine(store, locker, log)

	accounts, err := viewkv.Register(engine, accountDescriptor())
	if err != nil {
		log.Fatal("register failed", zap.Error(err))
	}

	ctx := context.Background()
	seed := []*account{
		{Email: "a@example.com", Plan: "pro", Credit: 100},
		{Email: "b@example.com", Plan: "pro", Credit: 50},
		{Email: "c@example.com", Plan: "free", Credit: 0},
	}
	for _, a := range seed {
		if err := accounts.Save(ctx, a); err != nil {
			log.Fatal("save failed", zap.Error(err), zap.String("email", a.Email))
		}
		log.Info("saved account", zap.String("id", a.ID), zap.String("email", a.Email))
	}

	it, err := accounts.Query(ctx, viewkv.StandardQuery{
		Statements: []viewkv.Statement{{Field: "plan", Op: viewkv.OpEq, Value: "pro"}},
		Descending: true,
	})
	if err != nil {
		log.Fatal("query failed", zap.Error(err))
	}
	for {
		a, ok, err := it.Next(ctx)
		if err != nil {
			log.Fatal("iterate failed", zap.Error(err))
		}
		if !ok {
			break
		}
		fmt.Printf("pro account: %s credit=%d\n", a.Email, a.Credit)
	}

	if err := reindex.Reindex[account](ctx, accounts, func(yield func(account) bool) error {
		all, err := accounts.All(ctx, viewkv.AllQuery{})
		if err != nil {
			return err
		}
		for {
			a, ok, err := all.Next(ctx)
			if err != nil {
				return err
			}
			if !ok {
				return nil
			}
			if !yield(*a) {
				return nil
			}
		}
	}); err != nil {
		log.Fatal("reindex failed", zap.Error(err))
	}
	log.Info("reindex complete", zap.Int("count", len(seed)))

	if err := accounts.Delete(ctx, seed[2].ID); err != nil {
		log.Fatal("delete failed", zap.Error(err))
	}
	log.Info("deleted account", zap.String("email", seed[2].Email))
}

func buildLogger() *zap.Logger {
	logConfig := zap.NewDevelopmentConfig()
	logConfig.EncoderConfig.TimeKey = ""
	logConfig.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
	logConfig.DisableStacktrace = true
	logConfig.DisableCaller = true
	return zap.Must(logConfig.Build())
}
