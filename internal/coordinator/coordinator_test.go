package coordinator

import (
	"math"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/surge-core/internal/partition"
)

const mib = 1024 * 1024

func TestRequestWorkHandsOutPartitionRangesInOrder(t *testing.T) {
	totalSize := uint64(100 * mib)
	c := New(totalSize, 3)

	a0 := c.RequestWork()
	require.NotNil(t, a0)
	require.Equal(t, uint64(0), a0.Start)
	require.Equal(t, partition.Table[0].End<<23, a0.End)

	a1 := c.RequestWork()
	require.NotNil(t, a1)
	require.Equal(t, partition.Table[0].End<<23, a1.Start)
	require.Equal(t, partition.Table[1].End<<23, a1.End)

	require.Equal(t, uint8(2), c.NextIndex())
	require.Len(t, c.Live(), 2)
}

func TestRequestWorkClampsFinalRangeToTotalSize(t *testing.T) {
	// A tiny file: max_index computed so that the one partition's byte range
	// would overrun total_size without clamping.
	totalSize := uint64(3 * mib)
	c := New(totalSize, 1)

	a := c.RequestWork()
	require.NotNil(t, a)
	require.Equal(t, uint64(0), a.Start)
	require.Equal(t, totalSize, a.End)
}

func TestRequestWorkReturnsNilWhenTableExhaustedAndFewerThanThreeLive(t *testing.T) {
	totalSize := uint64(100 * mib)
	c := New(totalSize, 2)

	require.NotNil(t, c.RequestWork())
	require.NotNil(t, c.RequestWork())
	// Only 2 live cursors: stealRange requires >= 3, so this must be nil.
	require.Nil(t, c.RequestWork())
	require.True(t, c.StealExhausted())
}

func TestStealTakesGoldenRatioTailFromHighestIndexSkippingSeeds(t *testing.T) {
	totalSize := uint64(100 * mib)
	c := New(totalSize, 3)

	c.RequestWork() // index 0
	c.RequestWork() // index 1
	third := c.RequestWork() // index 2
	require.NotNil(t, third)

	stolen := c.RequestWork()
	require.NotNil(t, stolen, "stealing should kick in once the table is exhausted")

	remaining := third.End - third.Start
	wantSteal := uint64(math.Ceil(float64(remaining) * 0.382))
	wantBoundary := third.End - wantSteal

	require.Equal(t, wantBoundary, stolen.Start)
	require.Equal(t, third.End, stolen.End)
	require.Equal(t, wantBoundary, third.Cursor.End(), "victim cursor's End must shrink in place")
	require.Len(t, c.Live(), 4)
}

func TestStealSkipsIndicesZeroAndOne(t *testing.T) {
	totalSize := uint64(100 * mib)
	c := New(totalSize, 2)

	c.RequestWork() // index 0, seed, never stealable
	c.RequestWork() // index 1, seed, never stealable

	// Only two live cursors exist and both are seeds: stealRange must refuse
	// rather than steal from index 0 or 1.
	require.Nil(t, c.RequestWork())
	require.True(t, c.StealExhausted())
}

func TestStealRefusesRangesAtOrBelowMinStealBytes(t *testing.T) {
	// Craft a download just large enough for 3 partitions, where partition 2
	// is tiny (clamped by total_size to below MinStealBytes).
	totalSize := partition.Table[1].End<<23 + 512*1024
	c := New(totalSize, 3)

	c.RequestWork()
	c.RequestWork()
	third := c.RequestWork()
	require.NotNil(t, third)
	require.LessOrEqual(t, third.End-third.Start, uint64(MinStealBytes))

	require.Nil(t, c.RequestWork())
	require.True(t, c.StealExhausted())
}

func TestHasWorkReflectsTableAndStealState(t *testing.T) {
	totalSize := uint64(100 * mib)
	c := New(totalSize, 1)

	require.True(t, c.HasWork())
	c.RequestWork()
	require.True(t, c.HasWork(), "steal_exhausted defaults false even once the table is spent")

	c.RequestWork() // fewer than 3 live, steal fails and sets exhausted
	require.False(t, c.HasWork())

	c.ResetSteal()
	require.True(t, c.HasWork())
}

func TestSaveRestoreStealPtrByPositionalAnchor(t *testing.T) {
	totalSize := uint64(100 * mib)
	c := New(totalSize, 3)
	c.RequestWork()
	c.RequestWork()
	c.RequestWork()
	c.RequestWork() // triggers a steal, moves steal_ptr

	anchorStart, ok := c.PrepareSave()
	require.True(t, ok)

	// Simulate a journal reload: rebuild a fresh coordinator and restore only
	// the cursors that survived (the last one, stolen after the anchor was
	// captured, is dropped as if it had completed), then expect
	// RestoreStealPtr to relocate by start-offset rather than raw index.
	survivors := c.Live()[:len(c.Live())-1]
	reloaded := FromParts(c.TotalSize(), c.NextIndex(), c.MaxIndex(), 0, c.StealExhausted())
	reloaded.Restore(survivors)
	reloaded.RestoreStealPtr(anchorStart, ok)

	found := false
	for i, cur := range reloaded.Live() {
		if cur.Start() == anchorStart {
			require.Equal(t, uint8(i), reloaded.StealPtr())
			found = true
		}
	}
	require.True(t, found, "anchor start offset must still be present among survivors")
}

func TestRestoreStealPtrDefaultsToTwoWhenAnchorMissing(t *testing.T) {
	c := FromParts(100*mib, 3, 3, 0, false)
	c.Restore(nil)
	c.RestoreStealPtr(0, false)
	require.Equal(t, uint8(0), c.StealPtr(), "empty live list clamps to index 0")
}

func TestSingleRangeHandsOutWholeFileAsOneSegment(t *testing.T) {
	totalSize := uint64(100 * mib)
	c := NewSingleRange(totalSize)

	a := c.RequestWork()
	require.NotNil(t, a)
	require.Equal(t, uint64(0), a.Start)
	require.Equal(t, totalSize, a.End)

	// Only one partition slot exists and stealing never reaches the
	// three-cursor threshold with a single live segment.
	require.Nil(t, c.RequestWork())
	require.True(t, c.StealExhausted())
}

func TestBytesRemainingAccountsForUnassignedAndLiveCursors(t *testing.T) {
	totalSize := uint64(100 * mib)
	c := New(totalSize, 3)

	require.Equal(t, totalSize, c.BytesRemaining())

	a := c.RequestWork()
	require.NotNil(t, a)
	a.Cursor.Advance(a.End - a.Start) // fully drain the first range

	require.Equal(t, totalSize-(a.End-a.Start), c.BytesRemaining())
}
