package segment

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestCursorBasics(t *testing.T) {
	c := New(10, 100)
	require.Equal(t, uint64(10), c.Start())
	require.Equal(t, uint64(100), c.End())
	require.Equal(t, uint64(90), c.Remaining())
	require.False(t, c.Done())
}

func TestCursorAdvance(t *testing.T) {
	c := New(0, 50)
	require.Equal(t, uint64(20), c.Advance(20))
	require.Equal(t, uint64(20), c.Start())
	require.Equal(t, uint64(30), c.Remaining())

	require.Equal(t, uint64(50), c.Advance(30))
	require.True(t, c.Done())
}

func TestCursorShrinkEndSucceedsOnce(t *testing.T) {
	c := New(0, 100)
	require.True(t, c.ShrinkEnd(100, 60))
	require.Equal(t, uint64(60), c.End())
	require.Equal(t, uint64(60), c.Remaining())

	// A stale CAS using the old value must now fail.
	require.False(t, c.ShrinkEnd(100, 40))
	require.Equal(t, uint64(60), c.End())
}

func TestCursorRemainingSaturatesAtZero(t *testing.T) {
	c := New(80, 100)
	require.True(t, c.ShrinkEnd(100, 80))
	require.Equal(t, uint64(0), c.Remaining())
	require.True(t, c.Done())

	// Start racing past a freshly-shrunk End must never underflow.
	c.Advance(5)
	require.Equal(t, uint64(0), c.Remaining())
}

func TestCursorSnapshot(t *testing.T) {
	c := New(5, 15)
	start, end := c.Snapshot()
	require.Equal(t, uint64(5), start)
	require.Equal(t, uint64(15), end)
}
