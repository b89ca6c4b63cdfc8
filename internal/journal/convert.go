package journal

import (
	"github.com/surge-downloader/surge-core/internal/coordinator"
	"github.com/surge-downloader/surge-core/internal/segment"
)

// FromCoordinator snapshots c into a State ready to persist. Only cursors
// still in flight (start < end) are kept; a completed cursor carries no
// information a resume would need. The steal_ptr anchor is captured by
// PrepareSave before filtering, since filtering can shift the positional
// index it points at.
func FromCoordinator(c *coordinator.Coordinator) State {
	anchor, anchorOK := c.PrepareSave()

	live := c.Live()
	cursors := make([]CursorState, 0, len(live))
	for _, cur := range live {
		start, end := cur.Snapshot()
		if start < end {
			cursors = append(cursors, CursorState{Start: start, End: end})
		}
	}

	stealPtr := c.StealPtr()
	if anchorOK {
		if relocated, ok := findByStart(cursors, anchor); ok {
			stealPtr = relocated
		}
	}

	return State{
		NextIndex:      c.NextIndex(),
		MaxIndex:       c.MaxIndex(),
		StealPtr:       stealPtr,
		StealExhausted: c.StealExhausted(),
		Cursors:        cursors,
	}
}

// ToCoordinator rebuilds a Coordinator and its live cursors from a loaded
// State. totalSize and singleRange are supplied by the caller's catalog
// record, since the journal itself carries neither: singleRange is a
// property of the server (accept_ranges), not of the coordinator's own
// persisted fields.
func ToCoordinator(s State, totalSize uint64, singleRange bool) *coordinator.Coordinator {
	c := coordinator.FromParts(totalSize, s.NextIndex, s.MaxIndex, s.StealPtr, s.StealExhausted)
	c.SetSingleRange(singleRange)

	cursors := make([]*segment.Cursor, 0, len(s.Cursors))
	for _, cs := range s.Cursors {
		cursors = append(cursors, segment.New(cs.Start, cs.End))
	}
	c.Restore(cursors)

	anchor, anchorOK := findAnchorStart(s.Cursors, s.StealPtr)
	c.RestoreStealPtr(anchor, anchorOK)

	return c
}

func findByStart(cursors []CursorState, start uint64) (uint8, bool) {
	for i, c := range cursors {
		if c.Start == start {
			return uint8(i), true
		}
	}
	return 0, false
}

// findAnchorStart recovers the start offset FromCoordinator already
// relocated steal_ptr to, so RestoreStealPtr's own lookup is a no-op
// confirmation rather than a second guess. If steal_ptr doesn't currently
// index a cursor (e.g. an empty journal), it reports not-found.
func findAnchorStart(cursors []CursorState, stealPtr uint8) (uint64, bool) {
	if int(stealPtr) >= len(cursors) {
		return 0, false
	}
	return cursors[stealPtr].Start, true
}
