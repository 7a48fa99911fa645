// Package reindex replays records through a Model's Save method to rebuild
// its derived nodes after an index definition changes. It is a thin
// consumer of the Save contract, not part of the core write path — mirrors
// immaterialdb/reindexer.py's queue-for-model/reindex-entity split, but
// collapsed into a single synchronous walk since this module has no
// background job queue of its own.
package reindex

import "context"

// Model is the subset of viewkv.Model[T] the Reindexer needs. Declared
// locally (rather than importing the root package) to keep this package
// free of the import-cycle concerns that shape the rest of internal/.
type Model[T any] interface {
	Save(ctx context.Context, rec *T) error
}

// Reindex pulls records from source and re-saves each one through model,
// stopping at the first error. source follows the push-iterator shape of
// Go's range-over-func proposal: it calls yield once per record and stops
// early if yield returns false.
func Reindex[T any](ctx context.Context, model Model[T], source func(yield func(T) bool) error) error {
	var saveErr error
	err := source(func(rec T) bool {
		if ctx.Err() != nil {
			saveErr = ctx.Err()
			return false
		}
		if err := model.Save(ctx, &rec); err != nil {
			saveErr = err
			return false
		}
		return true
	})
	if saveErr != nil {
		return saveErr
	}
	return err
}
