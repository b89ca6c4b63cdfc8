// Package events defines the typed messages the engine emits over its
// one-way event surface, and a fan-out Bus that lets any number of
// subscribers (an SSE handler, a future TUI) observe them without slowing
// down the publisher.
package events

import "time"

// Event is implemented by every message this package defines. Topic
// identifies the event kind for subscribers that filter or route by name;
// the two per-download terminal events render it with the download id
// suffix (download_paused_<id>, download_cancelled_<id>).
type Event interface {
	Topic() string
}

// QueueDownload is emitted once, when a download is first accepted, before
// any DownloadProgress for the same id.
type QueueDownload struct {
	ID              string
	URL             string
	Filename        string
	Size            *int64 // nil when the server gave no Content-Length
	Destination     string
	ResumeSupported bool
	Status          string
}

func (QueueDownload) Topic() string { return "queue_download" }

// DownloadProgress is emitted roughly every 100ms while a download is active.
// Downloaded is monotonic non-decreasing for a given id.
type DownloadProgress struct {
	ID         string
	Downloaded int64
	Total      int64
	Progress   float64 // 0..1, or -1 if Total is unknown
	Speed      float64 // bytes per second
	TimeLeft   time.Duration
}

func (DownloadProgress) Topic() string { return "download_progress" }

// DownloadComplete is the last event emitted for a given id.
type DownloadComplete struct {
	ID          string
	Destination string
	Status      string // always "completed"
}

func (DownloadComplete) Topic() string { return "download_complete" }

// DownloadPaused reports that a download's workers and coordinator were
// stopped and its journal flushed.
type DownloadPaused struct {
	ID string
}

func (e DownloadPaused) Topic() string { return "download_paused_" + e.ID }

// DownloadCancelled reports that a download was stopped and its journal
// deleted.
type DownloadCancelled struct {
	ID string
}

func (e DownloadCancelled) Topic() string { return "download_cancelled_" + e.ID }

// DownloadFailed reports a terminal error for a download; transient network
// errors are retried inside the worker pool and never surface here.
type DownloadFailed struct {
	ID     string
	Reason string
}

func (DownloadFailed) Topic() string { return "download_failed" }
