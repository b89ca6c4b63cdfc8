// Package errs holds sentinel errors the lifecycle manager and its callers
// branch on, as opposed to errors that are only ever wrapped and logged.
package errs

import "errors"

var (
	// ErrNeedsRestart signals that a resume attempt must restart the
	// download from zero because the server's ETag, Last-Modified, or
	// Content-Length no longer matches what was stored at pause time.
	ErrNeedsRestart = errors.New("download needs restart: server identity changed")

	// ErrNotFound signals that an identity has no catalog record, no live
	// instance, or no journal, depending on the calling context.
	ErrNotFound = errors.New("download not found")

	// ErrMaxConcurrent signals that max_concurrent active downloads are
	// already running and a new one was refused.
	ErrMaxConcurrent = errors.New("maximum concurrent downloads reached")

	// ErrAlreadyActive signals a New/Resume request for an identity that
	// already has a live instance.
	ErrAlreadyActive = errors.New("download is already active")

	// ErrProtocolViolation signals a server response that breaks the
	// ranged-download contract (200 when 206 was required with multiple
	// workers, overlapping ranges, Content-Length mismatch). Terminal.
	ErrProtocolViolation = errors.New("server violated the range-request protocol")

	// ErrSegmentFailed signals that the download's workers all exited with
	// bytes still unwritten, after a segment exhausted its retries.
	// Terminal for the owning download.
	ErrSegmentFailed = errors.New("segment failed after exhausting retries")

	// ErrConflictNeedsPrompt signals a destination path collision under
	// conflict_action = "ask": the core has no UI to ask with, so it
	// refuses the request and leaves the decision to the external shell.
	ErrConflictNeedsPrompt = errors.New("destination already exists: user confirmation required")

	// ErrDestinationExists signals a destination path collision under
	// conflict_action = "skip".
	ErrDestinationExists = errors.New("destination already exists: skipped")
)
