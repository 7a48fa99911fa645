package registry

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func descriptor() Descriptor {
	return Descriptor{
		Name: "Widget",
		Fields: map[string]FieldBinding{
			"name": {Get: func(rec any) FieldValue { return FieldValue{Name: "name", Value: "x"} }},
		},
		Indices: []Index{{Kind: IndexUnique, Fields: []string{"name"}}},
	}
}

func TestRegisterValidDescriptor(t *testing.T) {
	r := New()
	b, err := r.Register(descriptor())
	require.NoError(t, err)
	assert.Equal(t, "Widget", b.Descriptor.Name)

	got, ok := r.Lookup("Widget")
	require.True(t, ok)
	assert.Same(t, b, got)
}

func TestRegisterRejectsUnknownIndexField(t *testing.T) {
	d := descriptor()
	d.Indices = []Index{{Kind: IndexQuery, PartitionFields: []string{"missing"}}}
	_, err := New().Register(d)
	require.ErrorIs(t, err, ErrFieldMisconfiguration)
}

func TestRegisterRejectsDuplicateName(t *testing.T) {
	r := New()
	_, err := r.Register(descriptor())
	require.NoError(t, err)
	_, err = r.Register(descriptor())
	require.Error(t, err)
}

func TestRegisterRejectsUnknownEncryptedField(t *testing.T) {
	d := descriptor()
	d.EncryptedFields = []string{"ssn"}
	_, err := New().Register(d)
	require.ErrorIs(t, err, ErrFieldMisconfiguration)
}
