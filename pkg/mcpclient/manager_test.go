package mcpclient

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestManagerRegisterGet(t *testing.T) {
	m := NewManager()

	_, ok := m.Get("memory")
	assert.False(t, ok)

	c := newMemoryClient(t, "memory", "search")
	m.Register("memory", c)

	got, ok := m.Get("memory")
	require.True(t, ok)
	assert.Same(t, c, got)
}

func TestManagerCloseAll(t *testing.T) {
	m := NewManager()

	a := newMemoryClient(t, "a", "one")
	b := newMemoryClient(t, "b", "two")
	m.Register("a", a)
	m.Register("b", b)

	m.CloseAll()

	_, ok := m.Get("a")
	assert.False(t, ok)
	_, ok = m.Get("b")
	assert.False(t, ok)

	// Closed sessions refuse further traffic.
	_, err := a.ListTools(context.Background())
	assert.Error(t, err)

	// Emptied manager tolerates a second pass.
	m.CloseAll()
}
