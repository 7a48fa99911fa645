package node

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBaseNodeRowShape(t *testing.T) {
	n := NewBaseNode("Widget", "rec-1", `{"x":1}`, []Key{{PK: "Widget(name=Acme)", SK: "unique"}})
	row := n.Row()
	assert.Equal(t, "base", row["node_type"])
	assert.Equal(t, "rec-1", row["entity_id"])
	assert.Equal(t, "rec-1", row["pk"])
	assert.Equal(t, "rec-1", row["sk"])
	others, ok := row["other_nodes"].([][2]string)
	require.True(t, ok)
	require.Len(t, others, 1)
	assert.Equal(t, [2]string{"Widget(name=Acme)", "unique"}, others[0])
}

func TestUniqueNodeKey(t *testing.T) {
	n := NewUniqueNode("Widget", "rec-1", "Widget(name=Acme)", "unique", []Field{{Name: "name", Value: "Acme"}})
	assert.Equal(t, Key{PK: "Widget(name=Acme)", SK: "unique"}, n.Key())
	assert.Equal(t, KindUnique, n.Kind())
}

func TestDiffFindsOrphans(t *testing.T) {
	existing := []Item{
		NewUniqueNode("Widget", "rec-1", "Widget(name=Acme)", "unique", nil),
		NewQueryNode("Widget", "rec-1", "Widget[cat=tools][price]", "##1##rec-1", nil, nil, ""),
	}
	current := []Item{
		NewQueryNode("Widget", "rec-1", "Widget[cat=tools][price]", "##1##rec-1", nil, nil, ""),
	}

	stale := Diff(existing, current)
	require.Len(t, stale, 1)
	assert.Equal(t, Key{PK: "Widget(name=Acme)", SK: "unique"}, stale[0])
}

func TestDiffEmptyWhenUnchanged(t *testing.T) {
	items := []Item{NewBaseNode("Widget", "rec-1", "{}", nil)}
	assert.Empty(t, Diff(items, items))
}
