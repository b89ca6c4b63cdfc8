// Package journal persists a coordinator's in-flight state to disk so a
// download can resume after a crash or a deliberate pause without
// re-fetching bytes it already has.
//
// The on-disk format is a small varint-encoded record, not a general-purpose
// serialization format: next_index, max_index, steal_ptr, steal_exhausted,
// then only the cursors that still have work left (start < end), each as a
// (start, end) pair. A journal written by one build of this table must still
// decode against any other build sharing the same partition table, so the
// field order and widths here are a compatibility surface, not an
// implementation detail.
package journal

import (
	"bufio"
	"encoding/binary"
	"fmt"
	"io"
	"os"
	"path/filepath"

	"github.com/gofrs/flock"
)

// CursorState is the persisted (start, end) pair for one live, incomplete
// cursor. Completed cursors (start >= end) are never written.
type CursorState struct {
	Start uint64
	End   uint64
}

// State is the full decoded contents of a journal file.
type State struct {
	NextIndex      uint8
	MaxIndex       uint8
	StealPtr       uint8
	StealExhausted bool
	Cursors        []CursorState
}

// Encode writes s to w in the journal's on-disk format.
func Encode(w io.Writer, s State) error {
	bw := bufio.NewWriter(w)

	if err := writeUvarint(bw, uint64(s.NextIndex)); err != nil {
		return err
	}
	if err := writeUvarint(bw, uint64(s.MaxIndex)); err != nil {
		return err
	}
	if err := writeUvarint(bw, uint64(s.StealPtr)); err != nil {
		return err
	}
	if err := bw.WriteByte(boolByte(s.StealExhausted)); err != nil {
		return err
	}
	if err := writeUvarint(bw, uint64(len(s.Cursors))); err != nil {
		return err
	}
	for _, c := range s.Cursors {
		if c.Start >= c.End {
			return fmt.Errorf("journal: refusing to encode a completed cursor [%d, %d)", c.Start, c.End)
		}
		if err := writeUvarint(bw, c.Start); err != nil {
			return err
		}
		if err := writeUvarint(bw, c.End); err != nil {
			return err
		}
	}

	return bw.Flush()
}

// Decode reads a State previously written by Encode.
func Decode(r io.Reader) (State, error) {
	br := bufio.NewReader(r)
	var s State

	nextIndex, err := readUvarint(br)
	if err != nil {
		return State{}, fmt.Errorf("journal: reading next_index: %w", err)
	}
	s.NextIndex = uint8(nextIndex)

	maxIndex, err := readUvarint(br)
	if err != nil {
		return State{}, fmt.Errorf("journal: reading max_index: %w", err)
	}
	s.MaxIndex = uint8(maxIndex)

	stealPtr, err := readUvarint(br)
	if err != nil {
		return State{}, fmt.Errorf("journal: reading steal_ptr: %w", err)
	}
	s.StealPtr = uint8(stealPtr)

	exhausted, err := br.ReadByte()
	if err != nil {
		return State{}, fmt.Errorf("journal: reading steal_exhausted: %w", err)
	}
	s.StealExhausted = exhausted != 0

	count, err := readUvarint(br)
	if err != nil {
		return State{}, fmt.Errorf("journal: reading cursor_count: %w", err)
	}

	s.Cursors = make([]CursorState, 0, count)
	for i := uint64(0); i < count; i++ {
		start, err := readUvarint(br)
		if err != nil {
			return State{}, fmt.Errorf("journal: reading cursor %d start: %w", i, err)
		}
		end, err := readUvarint(br)
		if err != nil {
			return State{}, fmt.Errorf("journal: reading cursor %d end: %w", i, err)
		}
		s.Cursors = append(s.Cursors, CursorState{Start: start, End: end})
	}

	return s, nil
}

// SaveFile writes s to path atomically (temp file + rename), guarded by an
// advisory file lock so two daemon instances never interleave writes to the
// same journal.
func SaveFile(path string, s State) error {
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	lock := flock.New(path + ".lock")
	if err := lock.Lock(); err != nil {
		return fmt.Errorf("journal: acquiring lock for %s: %w", path, err)
	}
	defer lock.Unlock()

	tempPath := path + ".tmp"
	f, err := os.Create(tempPath)
	if err != nil {
		return fmt.Errorf("journal: creating %s: %w", tempPath, err)
	}
	if err := Encode(f, s); err != nil {
		f.Close()
		os.Remove(tempPath)
		return err
	}
	if err := f.Close(); err != nil {
		os.Remove(tempPath)
		return err
	}

	return os.Rename(tempPath, path)
}

// LoadFile reads a journal previously written by SaveFile.
func LoadFile(path string) (State, error) {
	lock := flock.New(path + ".lock")
	if err := lock.RLock(); err != nil {
		return State{}, fmt.Errorf("journal: acquiring read lock for %s: %w", path, err)
	}
	defer lock.Unlock()

	f, err := os.Open(path)
	if err != nil {
		return State{}, err
	}
	defer f.Close()

	return Decode(f)
}

// DeleteFile removes a journal and its lock file. Missing files are not an
// error: deleting an already-gone journal (completed or never-started
// download) is a no-op.
func DeleteFile(path string) error {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		return err
	}
	if err := os.Remove(path + ".lock"); err != nil && !os.IsNotExist(err) {
		return err
	}
	return nil
}

func boolByte(b bool) byte {
	if b {
		return 1
	}
	return 0
}

func writeUvarint(w io.ByteWriter, v uint64) error {
	var buf [binary.MaxVarintLen64]byte
	n := binary.PutUvarint(buf[:], v)
	for i := 0; i < n; i++ {
		if err := w.WriteByte(buf[i]); err != nil {
			return err
		}
	}
	return nil
}

func readUvarint(r io.ByteReader) (uint64, error) {
	return binary.ReadUvarint(r)
}
