package worker

import (
	"fmt"
	"os"
)

// Preallocate grows f to size without writing any bytes, so workers can
// WriteAt any offset up to size without extending the file themselves.
func Preallocate(f *os.File, size uint64) error {
	if err := f.Truncate(int64(size)); err != nil {
		return fmt.Errorf("worker: preallocating file: %w", err)
	}
	return nil
}
