package errclass

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/viewkv/viewkv/internal/node"
	"github.com/viewkv/viewkv/internal/storekv"
)

func TestClassifyUniqueConflict(t *testing.T) {
	err := &storekv.AtomicWriteError{Reasons: []storekv.Reason{
		{},
		{ConditionalCheckFailed: true, Message: "row already exists"},
	}}
	submitted := []Submitted{
		{Kind: node.KindBase, PK: "rec-1"},
		{Kind: node.KindUnique, PK: "Widget(name=Acme)"},
	}

	got := Classify(err, submitted)
	var uniqueErr *RecordNotUniqueError
	require.True(t, errors.As(got, &uniqueErr))
	assert.Equal(t, "Widget(name=Acme)", uniqueErr.PK)
}

func TestClassifyCounterConflict(t *testing.T) {
	err := &storekv.AtomicWriteError{Reasons: []storekv.Reason{
		{ConditionalCheckFailed: true, Message: "row does not exist"},
	}}
	submitted := []Submitted{{Kind: node.KindCounter, PK: "Widget#views"}}

	got := Classify(err, submitted)
	var counterErr *CounterNotSavedError
	require.True(t, errors.As(got, &counterErr))
	assert.Equal(t, "Widget#views", counterErr.PK)
}

func TestClassifyPassesThroughUnrelatedError(t *testing.T) {
	plain := errors.New("boom")
	assert.Equal(t, plain, Classify(plain, nil))
}

func TestClassifyPassesThroughUnattributableAtomicError(t *testing.T) {
	err := &storekv.AtomicWriteError{Reasons: []storekv.Reason{{}}}
	got := Classify(err, []Submitted{{Kind: node.KindBase, PK: "rec-1"}})
	assert.Same(t, err, got)
}
