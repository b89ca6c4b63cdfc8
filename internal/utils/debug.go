package utils

import (
	"fmt"
	"os"
	"sync"
	"time"
)

var (
	debugEnabled bool
	debugOnce    sync.Once
)

// Debug writes a timestamped message to stderr when SURGE_DEBUG is set in
// the environment. It is a no-op otherwise, so call sites can sprinkle it
// freely without worrying about I/O cost on a quiet daemon.
func Debug(format string, args ...any) {
	debugOnce.Do(func() {
		debugEnabled = os.Getenv("SURGE_DEBUG") != ""
	})
	if !debugEnabled {
		return
	}
	timestamp := time.Now().Format("2006-01-02 15:04:05")
	fmt.Fprintf(os.Stderr, "[%s] %s\n", timestamp, fmt.Sprintf(format, args...))
}
