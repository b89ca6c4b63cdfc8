// Package coordinator hands out byte-range work to download workers and
// steals back unclaimed work from slow workers once the partition table is
// exhausted.
//
// A Coordinator is not safe for concurrent use on its own: the design is that
// exactly one goroutine ever calls its methods, reached through an in-order
// request channel (see internal/worker). That single-writer discipline is
// what lets segment.Cursor get away with plain atomics instead of a mutex.
package coordinator

import (
	"math"

	"github.com/surge-downloader/surge-core/internal/partition"
	"github.com/surge-downloader/surge-core/internal/segment"
)

// MinStealBytes is the smallest remaining range worth stealing from; ranges
// at or below this are left alone even if nothing else is available.
const MinStealBytes = 1024 * 1024 // 1 MiB

// stealFraction is 1 - 1/phi, the golden-ratio share taken from a stolen
// cursor's tail.
const stealFraction = 0.382

// Assignment is a unit of work handed to a worker: the live cursor it must
// keep advancing, and the byte range it started with.
type Assignment struct {
	Cursor *segment.Cursor
	Start  uint64
	End    uint64
}

// Coordinator distributes partition-table ranges for one download and steals
// back tail work once the table is exhausted.
type Coordinator struct {
	totalSize      uint64
	nextIndex      uint8
	maxIndex       uint8
	stealPtr       uint8
	stealExhausted bool
	live           []*segment.Cursor

	// pending holds journal-restored cursors that no worker owns yet. A
	// resumed download's cursors are re-offered from here before any new
	// partition range or steal is considered.
	pending []*segment.Cursor

	// singleRange marks a Coordinator built for a server that doesn't
	// support byte ranges, or a caller-forced single worker: its one
	// partition-table slot hands out [0, totalSize) directly instead of
	// the table's small first interval, and its one live cursor never
	// reaches the three-live-cursor threshold stealing requires.
	singleRange bool
}

// New creates a Coordinator for a download of totalSize bytes. maxIndex
// bounds which partition table entries may be handed out; use
// partition.MaxIndexFor(totalSize / partition.UnitSize) to compute it.
func New(totalSize uint64, maxIndex uint8) *Coordinator {
	return &Coordinator{
		totalSize: totalSize,
		maxIndex:  maxIndex,
		stealPtr:  2,
	}
}

// NewSingleRange creates a Coordinator whose one partition slot hands out
// the entire file as a single segment, for servers that don't honor Range
// requests (accept_ranges = false) or a deliberately single-threaded
// download. Stealing never activates: one live cursor never reaches the
// three-cursor threshold.
func NewSingleRange(totalSize uint64) *Coordinator {
	return &Coordinator{totalSize: totalSize, maxIndex: 1, stealPtr: 2, singleRange: true}
}

// SetSingleRange marks c as single-range after construction, used by the
// journal loader when resuming a download whose catalog record says
// accept_ranges = false (the journal format itself doesn't carry this bit,
// since it's a property of the server, recorded in the catalog instead).
func (c *Coordinator) SetSingleRange(v bool) { c.singleRange = v }

// FromParts reconstructs a Coordinator from journal-persisted scalar fields.
// Cursors are restored separately via Restore.
func FromParts(totalSize uint64, nextIndex, maxIndex, stealPtr uint8, stealExhausted bool) *Coordinator {
	return &Coordinator{
		totalSize:      totalSize,
		nextIndex:      nextIndex,
		maxIndex:       maxIndex,
		stealPtr:       stealPtr,
		stealExhausted: stealExhausted,
	}
}

// Restore repopulates the live cursor list after a journal load. Cursors must
// be supplied in the order they were persisted. Every restored cursor is also
// queued for re-offer: after a reload no worker owns any of them, so
// RequestWork hands them back out before assigning new partition ranges.
func (c *Coordinator) Restore(cursors []*segment.Cursor) {
	c.live = cursors
	c.pending = append([]*segment.Cursor(nil), cursors...)
}

// TotalSize returns the download's total byte size.
func (c *Coordinator) TotalSize() uint64 { return c.totalSize }

// NextIndex, MaxIndex, StealPtr, StealExhausted, Live expose the coordinator's
// current scalar state for journal encoding.
func (c *Coordinator) NextIndex() uint8        { return c.nextIndex }
func (c *Coordinator) MaxIndex() uint8         { return c.maxIndex }
func (c *Coordinator) StealPtr() uint8         { return c.stealPtr }
func (c *Coordinator) StealExhausted() bool    { return c.stealExhausted }
func (c *Coordinator) Live() []*segment.Cursor { return c.live }

// BytesRemaining sums Remaining() across every live cursor, including ones
// not yet created from the partition table. worker.New uses it once, to seed
// the bytes_downloaded counter of a restored download; after that the
// counter is tracked separately.
func (c *Coordinator) BytesRemaining() uint64 {
	var total uint64
	for _, cur := range c.live {
		total += cur.Remaining()
	}
	for i := c.nextIndex; i < c.maxIndex; i++ {
		if c.singleRange {
			total += c.totalSize
			continue
		}
		start, end := partitionByteRange(i, c.totalSize)
		if i == c.maxIndex-1 {
			end = c.totalSize
		}
		total += end - start
	}
	return total
}

// HasWork reports whether the coordinator can still hand out new ranges,
// re-offer restored ones, or steal existing ones.
func (c *Coordinator) HasWork() bool {
	return len(c.pending) > 0 || c.nextIndex < c.maxIndex || !c.stealExhausted
}

func partitionByteRange(idx uint8, totalSize uint64) (start, end uint64) {
	iv := partition.Table[idx]
	start = iv.Start << 23
	end = iv.End << 23
	if end > totalSize {
		end = totalSize
	}
	return start, end
}

// newRange hands out the next unassigned partition-table entry, if any. The
// last entry below maxIndex runs to totalSize, so the handed-out ranges
// cover every byte of the file.
func (c *Coordinator) newRange() *Assignment {
	if c.nextIndex >= c.maxIndex {
		return nil
	}
	idx := c.nextIndex
	c.nextIndex++

	var start, end uint64
	if c.singleRange {
		start, end = 0, c.totalSize
	} else {
		start, end = partitionByteRange(idx, c.totalSize)
		if idx == c.maxIndex-1 {
			end = c.totalSize
		}
	}
	cur := segment.New(start, end)
	c.live = append(c.live, cur)

	return &Assignment{Cursor: cur, Start: start, End: end}
}

// stealRange walks the live cursors starting at steal_ptr, skipping indices
// 0 and 1, and takes the golden-ratio tail of the first one with more than
// MinStealBytes remaining. It is only ever invoked once the partition table
// is exhausted. A call that finds nothing to steal, including one made with
// fewer than three live cursors, sets steal_exhausted.
func (c *Coordinator) stealRange() *Assignment {
	if c.stealExhausted {
		return nil
	}
	if len(c.live) < 3 {
		c.stealExhausted = true
		return nil
	}

	n := len(c.live)
	startPtr := int(c.stealPtr)

	for attempt := 0; attempt < n; attempt++ {
		target := (startPtr + attempt) % n
		if target < 2 {
			continue
		}

		victim := c.live[target]
		curStart, curEnd := victim.Snapshot()
		if curStart >= curEnd {
			continue
		}
		remaining := curEnd - curStart
		if remaining <= MinStealBytes {
			continue
		}

		stealAmount := uint64(math.Ceil(float64(remaining) * stealFraction))
		newEnd := curEnd - stealAmount

		if !victim.ShrinkEnd(curEnd, newEnd) {
			// Victim moved (finished or another steal won); try the next one.
			continue
		}

		stolen := segment.New(newEnd, curEnd)
		c.live = append(c.live, stolen)
		c.stealPtr = uint8((target + 1) % n)

		return &Assignment{Cursor: stolen, Start: newEnd, End: curEnd}
	}

	c.stealExhausted = true
	return nil
}

// restoredRange re-offers the next journal-restored cursor, if any.
func (c *Coordinator) restoredRange() *Assignment {
	for len(c.pending) > 0 {
		cur := c.pending[0]
		c.pending = c.pending[1:]
		start, end := cur.Snapshot()
		if start >= end {
			continue
		}
		return &Assignment{Cursor: cur, Start: start, End: end}
	}
	return nil
}

// RequestWork returns the next assignment for a worker: a journal-restored
// cursor awaiting re-offer if any, then a fresh partition range if any
// remain, otherwise a stolen tail, otherwise nil when the download has no
// more work to hand out.
func (c *Coordinator) RequestWork() *Assignment {
	if a := c.restoredRange(); a != nil {
		return a
	}
	if a := c.newRange(); a != nil {
		return a
	}
	return c.stealRange()
}

// ResetSteal clears steal_exhausted. Call this when a worker finishes a
// segment and exits, since its departure may free up stealing opportunities
// that a prior full circle ruled out.
func (c *Coordinator) ResetSteal() {
	c.stealExhausted = false
}

// PrepareSave returns the start offset of live[steal_ptr], the positional
// anchor used to relocate steal_ptr after a journal reload. The second return
// value is false if steal_ptr does not currently index a live cursor.
func (c *Coordinator) PrepareSave() (anchor uint64, ok bool) {
	if int(c.stealPtr) >= len(c.live) {
		return 0, false
	}
	return c.live[c.stealPtr].Start(), true
}

// RestoreStealPtr relocates steal_ptr by the positional anchor captured by
// PrepareSave, after the live slice has been rebuilt from a journal load
// (which drops completed cursors, shifting indices). If the anchor is not
// found, steal_ptr defaults to 2, clamped to the last valid index.
func (c *Coordinator) RestoreStealPtr(anchor uint64, ok bool) {
	if ok {
		for i, cur := range c.live {
			if cur.Start() == anchor {
				c.stealPtr = uint8(i)
				return
			}
		}
	}
	c.stealPtr = clampToLastIndex(2, len(c.live))
}

func clampToLastIndex(v uint8, length int) uint8 {
	if length == 0 {
		return 0
	}
	if int(v) > length-1 {
		return uint8(length - 1)
	}
	return v
}
