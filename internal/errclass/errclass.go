// Package errclass implements the error boundary (spec.md §4.7,
// SPEC_FULL.md §4.7, C7): it translates a storekv.AtomicWriteError's
// per-item rejection reasons back into the domain error a caller of
// Save/Delete actually wants — RecordNotUniqueError or
// CounterNotSavedError — by inspecting which submitted node the
// rejected index corresponds to.
package errclass

import (
	"errors"

	"github.com/viewkv/viewkv/internal/node"
	"github.com/viewkv/viewkv/internal/storekv"
)

// Submitted is what the classifier needs to know about a submitted write
// item besides its row: which node kind it was, and (for unique nodes) the
// pk that identifies the conflicting field combination.
type Submitted struct {
	Kind node.Kind
	PK   string
}

// Classify maps a failed AtomicWrite, plus the ordered list of nodes that
// were submitted alongside it, to the domain error the caller should see.
// If err is not a *storekv.AtomicWriteError, or no reason in it is
// attributable, err is returned unchanged.
func Classify(err error, submitted []Submitted) error {
	var awErr *storekv.AtomicWriteError
	if !errors.As(err, &awErr) {
		return err
	}
	for i, reason := range awErr.Reasons {
		if !reason.ConditionalCheckFailed || i >= len(submitted) {
			continue
		}
		switch submitted[i].Kind {
		case node.KindUnique:
			return &RecordNotUniqueError{PK: submitted[i].PK}
		case node.KindCounter:
			return &CounterNotSavedError{PK: submitted[i].PK}
		}
	}
	return err
}

// RecordNotUniqueError reports that a save was rejected because another
// record already owns the unique field combination at PK.
type RecordNotUniqueError struct{ PK string }

func (e *RecordNotUniqueError) Error() string {
	return "errclass: record is not unique: " + e.PK
}

// CounterNotSavedError reports that a counter update was rejected because
// its target row did not exist (deferred extension, SPEC_FULL.md §6).
type CounterNotSavedError struct{ PK string }

func (e *CounterNotSavedError) Error() string {
	return "errclass: counter not saved: " + e.PK
}
