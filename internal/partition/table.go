// Package partition holds the static Fibonacci-sized byte partition table
// the coordinator hands out ranges from. The table is fixed at compile time
// because its exact boundaries are part of the on-disk journal format: a
// journal written against one build must still decode correctly against any
// other build that shares this table.
package partition

import "sort"

// UnitSize is the size, in bytes, of one partition table unit.
const UnitSize = 8 * 1024 * 1024 // 8 MiB

// Interval is a half-open range [Start, End) expressed in UnitSize units.
type Interval struct {
	Start uint64
	End   uint64
}

// bounds are cumulative Fibonacci sums (1,1,2,3,5,8,...), giving 60
// contiguous intervals: [0,1) [1,2) [2,4) [4,7) [7,12) ...
// Small leading intervals favor fast first bytes and wide initial
// parallelism; the handful of large trailing intervals keep coordination
// overhead low on huge files.
var bounds = [61]uint64{
	0, 1, 2, 4, 7, 12, 20, 33, 54, 88,
	143, 232, 376, 609, 986, 1596, 2583, 4180, 6764, 10945,
	17710, 28656, 46367, 75024, 121392, 196417, 317810, 514228, 832039, 1346268,
	2178308, 3524577, 5702886, 9227464, 14930351, 24157816, 39088168, 63245985, 102334154, 165580140,
	267914295, 433494436, 701408732, 1134903169, 1836311902, 2971215072, 4807526975, 7778742048, 12586269024, 20365011073,
	32951280098, 53316291172, 86267571271, 139583862444, 225851433716, 365435296161, 591286729878, 956722026040, 1548008755919, 2504730781960,
	4052739537880,
}

// Table is the ordered, read-only sequence of 60 partition intervals.
var Table = buildTable()

func buildTable() [60]Interval {
	var t [60]Interval
	for i := 0; i < 60; i++ {
		t[i] = Interval{Start: bounds[i], End: bounds[i+1]}
	}
	return t
}

// Len returns the number of entries in the partition table.
func Len() int { return len(Table) }

// IndexFor returns the smallest index i such that Table[i].Start >= v, where
// v is typically floor(fileSize / UnitSize). Precondition: v >= 0. If v
// exceeds every entry's Start, IndexFor returns Len() as a sentinel (the
// caller then knows the file is larger than the table can express and
// should clamp to the final interval).
func IndexFor(v uint64) int {
	return sort.Search(len(Table), func(i int) bool {
		return Table[i].Start >= v
	})
}

// MaxIndexFor returns the exclusive upper bound on partition indices a
// coordinator may assign for a file whose size, in UnitSize units, is v:
// the smallest max such that Table[max-1].End >= v. This is exactly
// IndexFor(v), clamped into [1, Len()] so that even a zero-byte file gets
// one (immediately-clamped-to-empty) partition to assign.
func MaxIndexFor(v uint64) uint8 {
	idx := IndexFor(v)
	if idx >= len(Table) {
		idx = len(Table)
	}
	if idx < 1 {
		idx = 1
	}
	return uint8(idx)
}
