package keyenc

import (
	"math/big"
	"sort"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeScalars(t *testing.T) {
	enc, err := Encode("hello", false, nil)
	require.NoError(t, err)
	assert.Equal(t, "hello", enc)

	enc, err = Encode(true, false, nil)
	require.NoError(t, err)
	assert.Equal(t, "true", enc)

	enc, err = Encode(false, false, nil)
	require.NoError(t, err)
	assert.Equal(t, "false", enc)

	enc, err = Encode(nil, false, nil)
	require.NoError(t, err)
	assert.Equal(t, "null", enc)

	id := uuid.New()
	enc, err = Encode(id, false, nil)
	require.NoError(t, err)
	assert.Equal(t, id.String(), enc)

	tm := time.Date(2024, 1, 2, 3, 4, 5, 0, time.UTC)
	enc, err = Encode(tm, false, nil)
	require.NoError(t, err)
	assert.Equal(t, "2024-01-02T03:04:05Z", enc)
}

func TestEncodeIntNonLexicographic(t *testing.T) {
	enc, err := Encode(int64(30), false, nil)
	require.NoError(t, err)
	assert.Equal(t, "30", enc)

	enc, err = Encode(int64(-234), false, nil)
	require.NoError(t, err)
	assert.Equal(t, "-234", enc)
}

func TestEncodeIntLexicographicMatchesAuthoritativeExample(t *testing.T) {
	// SPEC_FULL / spec.md §6: "MyModel[name=John][age]" sort key carries
	// "100000000000000000030" for the integer 30.
	enc, err := Encode(int64(30), true, nil)
	require.NoError(t, err)
	assert.Equal(t, "100000000000000000030", enc)
}

func TestLexicographicOrderingPreservesNumericOrdering(t *testing.T) {
	values := []int64{-1000, -234, -1, 0, 1, 29, 30, 31, 1000}
	encoded := make([]string, len(values))
	for i, v := range values {
		enc, err := Encode(v, true, nil)
		require.NoError(t, err)
		encoded[i] = enc
	}
	sorted := append([]string(nil), encoded...)
	sort.Strings(sorted)
	assert.Equal(t, sorted, encoded, "text order of lex-encoded ints must match numeric order")
}

func TestLexicographicFloatOrdering(t *testing.T) {
	values := []float64{-3424.00, -100.5, -0.5, 0, 0.5, 100.25, 100.5}
	encoded := make([]string, len(values))
	for i, v := range values {
		enc, err := Encode(v, true, nil)
		require.NoError(t, err)
		encoded[i] = enc
	}
	sorted := append([]string(nil), encoded...)
	sort.Strings(sorted)
	assert.Equal(t, sorted, encoded)
}

func TestLexicographicDecimalOrdering(t *testing.T) {
	mk := func(s string) *big.Rat {
		r, ok := new(big.Rat).SetString(s)
		require.True(t, ok)
		return r
	}
	values := []*big.Rat{mk("-3424.00"), mk("-100.00"), mk("0"), mk("100.00"), mk("3424.50")}
	encoded := make([]string, len(values))
	for i, v := range values {
		enc, err := Encode(v, true, nil)
		require.NoError(t, err)
		encoded[i] = enc
	}
	sorted := append([]string(nil), encoded...)
	sort.Strings(sorted)
	assert.Equal(t, sorted, encoded)
}

func TestUniqueKey(t *testing.T) {
	pk, sk, err := UniqueKey("MyModel", []NamedField{{Name: "name", Value: "John"}}, nil)
	require.NoError(t, err)
	assert.Equal(t, "MyModel(name=John)", pk)
	assert.Equal(t, "unique", sk)
}

func TestQueryKeyAuthoritativeExample(t *testing.T) {
	pk, sk, err := QueryKey(
		"MyModel", "01HABC",
		[]NamedField{{Name: "name", Value: "John"}},
		[]NamedField{{Name: "age", Value: int64(30)}},
		[]string{"age"},
		nil,
	)
	require.NoError(t, err)
	assert.Equal(t, "MyModel[name=John][age]", pk)
	assert.Equal(t, "##100000000000000000030##01HABC", sk)
}

func TestQueryPartitionKeyDisjointOnSortFieldNames(t *testing.T) {
	pk1, err := QueryPartitionKey("E", []NamedField{{Name: "name", Value: "John"}}, []string{"age"}, nil)
	require.NoError(t, err)
	pk2, err := QueryPartitionKey("E", []NamedField{{Name: "name", Value: "John"}}, []string{"money"}, nil)
	require.NoError(t, err)
	assert.NotEqual(t, pk1, pk2)
}

func TestEnumEncoding(t *testing.T) {
	enc, err := Encode(fakeEnum("active"), false, nil)
	require.NoError(t, err)
	assert.Equal(t, "active", enc)
}

type fakeEnum string

func (f fakeEnum) EnumValue() string { return string(f) }
