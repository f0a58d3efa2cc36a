package store

import (
	"context"
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type doc struct {
	Name   string `json:"name"`
	Status string `json:"status"`
}

func TestMemoryPutGetDelete(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()

	require.NoError(t, m.Put(ctx, "c", "k1", doc{Name: "one", Status: "pending"}))

	var got doc
	found, err := m.Get(ctx, "c", "k1", &got)
	require.NoError(t, err)
	require.True(t, found)
	assert.Equal(t, "one", got.Name)

	found, err = m.Get(ctx, "c", "missing", &got)
	require.NoError(t, err)
	assert.False(t, found)

	// Put overwrites.
	require.NoError(t, m.Put(ctx, "c", "k1", doc{Name: "two"}))
	_, err = m.Get(ctx, "c", "k1", &got)
	require.NoError(t, err)
	assert.Equal(t, "two", got.Name)
	assert.Equal(t, 1, m.Len("c"))

	require.NoError(t, m.Delete(ctx, "c", "k1"))
	assert.Equal(t, 0, m.Len("c"))

	// Deleting an absent key is a no-op.
	require.NoError(t, m.Delete(ctx, "c", "k1"))
	require.NoError(t, m.Delete(ctx, "other", "k1"))
}

func TestMemorySubscribe(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "c", "k1", doc{Name: "one"}))

	var sets []map[string]json.RawMessage
	stop, err := m.Subscribe(ctx, "c", func(set map[string]json.RawMessage) {
		sets = append(sets, set)
	})
	require.NoError(t, err)
	defer stop()

	// The initial member set is delivered on subscribe.
	require.Len(t, sets, 1)
	assert.Contains(t, sets[0], "k1")

	require.NoError(t, m.Put(ctx, "c", "k2", doc{Name: "two"}))
	require.Len(t, sets, 2)
	assert.Len(t, sets[1], 2)

	require.NoError(t, m.Delete(ctx, "c", "k1"))
	require.Len(t, sets, 3)
	assert.Len(t, sets[2], 1)
	assert.Contains(t, sets[2], "k2")

	// Changes in other collections are invisible.
	require.NoError(t, m.Put(ctx, "other", "x", doc{}))
	assert.Len(t, sets, 3)

	stop()
	require.NoError(t, m.Put(ctx, "c", "k3", doc{}))
	assert.Len(t, sets, 3)
}

func TestMemoryQueryPredicate(t *testing.T) {
	m := NewMemory()
	ctx := context.Background()
	require.NoError(t, m.Put(ctx, "c", "p1", doc{Name: "one", Status: "pending"}))
	require.NoError(t, m.Put(ctx, "c", "a1", doc{Name: "two", Status: "approved"}))

	pending := func(raw json.RawMessage) bool {
		var d doc
		if err := json.Unmarshal(raw, &d); err != nil {
			return false
		}
		return d.Status == "pending"
	}

	var last map[string]json.RawMessage
	stop, err := m.Query(ctx, "c", pending, func(set map[string]json.RawMessage) {
		last = set
	})
	require.NoError(t, err)
	defer stop()

	require.Len(t, last, 1)
	assert.Contains(t, last, "p1")

	require.NoError(t, m.Put(ctx, "c", "p2", doc{Name: "three", Status: "pending"}))
	assert.Len(t, last, 2)

	require.NoError(t, m.Delete(ctx, "c", "p1"))
	assert.Len(t, last, 1)
	assert.Contains(t, last, "p2")
}

func TestMemoryQueryContextCancel(t *testing.T) {
	m := NewMemory()
	ctx, cancel := context.WithCancel(context.Background())

	calls := 0
	_, err := m.Query(ctx, "c", nil, func(map[string]json.RawMessage) { calls++ })
	require.NoError(t, err)
	assert.Equal(t, 1, calls)

	cancel()
	// Cancellation detaches the subscription asynchronously; the
	// explicit stop path is exercised above, here we only assert the
	// store stays usable.
	require.NoError(t, m.Put(context.Background(), "c", "k", doc{}))
}
