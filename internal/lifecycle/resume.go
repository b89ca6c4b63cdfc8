package lifecycle

import (
	"context"
	"fmt"
	"os"

	"github.com/surge-downloader/surge-core/internal/errs"
	"github.com/surge-downloader/surge-core/internal/events"
	"github.com/surge-downloader/surge-core/internal/journal"
	"github.com/surge-downloader/surge-core/internal/probe"
	"github.com/surge-downloader/surge-core/internal/utils"
)

// Resume reconnects one or more previously paused or interrupted downloads.
// Requests are processed in order; the first error aborts the rest.
func (m *Manager) Resume(ctx context.Context, ids []string) error {
	for _, id := range ids {
		if err := m.resumeOne(ctx, id); err != nil {
			return err
		}
	}
	return nil
}

// resumeOne re-probes the server and compares its answer against the stored
// catalog record: any mismatch in ETag, Last-Modified, or size forces a
// restart from zero; otherwise the existing journal's cursors are reloaded
// and workers resume from where they left off.
func (m *Manager) resumeOne(ctx context.Context, id string) error {
	if m.IsActive(id) {
		return errs.ErrAlreadyActive
	}

	rec, ok, err := m.catalog.GetByID(id)
	if err != nil {
		return fmt.Errorf("lifecycle: loading catalog record %s: %w", id, err)
	}
	if !ok {
		return errs.ErrNotFound
	}

	settings := m.GetSettings()
	client, userAgent, err := m.buildClient(settings)
	if err != nil {
		return err
	}

	result, err := probe.Server(ctx, client, rec.URL, "", nil, userAgent)
	if err != nil {
		return fmt.Errorf("lifecycle: probing %s: %w", rec.URL, err)
	}

	_, statErr := os.Stat(rec.Destination)
	needsRestart := os.IsNotExist(statErr)
	if rec.ETag != nil && *rec.ETag != result.ETag {
		needsRestart = true
	}
	if rec.LastModified != nil && *rec.LastModified != result.LastModified {
		needsRestart = true
	}
	if rec.Size != nil {
		if !result.SizeKnown || *rec.Size != result.FileSize {
			needsRestart = true
		}
	}

	var sizePtr *int64
	if result.SizeKnown {
		sizePtr = &result.FileSize
	}

	if needsRestart {
		if err := m.catalog.UpdateHeaders(id, sizePtr, ptrOrNil(result.ContentType), ptrOrNil(result.ETag), ptrOrNil(result.LastModified), result.SupportsRange); err != nil {
			return fmt.Errorf("lifecycle: updating catalog headers for %s: %w", id, err)
		}
		if err := m.catalog.UpdateProgress(id, 0); err != nil {
			return fmt.Errorf("lifecycle: resetting progress for %s: %w", id, err)
		}
		if err := m.catalog.UpdateStatus(id, nil); err != nil {
			return fmt.Errorf("lifecycle: clearing status for %s: %w", id, err)
		}
		journal.DeleteFile(m.journalPath(id))

		m.bus.Publish(events.QueueDownload{
			ID: id, URL: rec.URL, Filename: rec.Filename, Size: sizePtr,
			Destination: rec.Destination, ResumeSupported: result.SupportsRange, Status: "queued",
		})

		return m.start(ctx, id, rec.URL, client, rec.Destination, *result, nil, settings, userAgent, nil)
	}

	if rec.Size != nil {
		result.FileSize = *rec.Size
		result.SizeKnown = true
	} else {
		result.SizeKnown = false
	}
	result.SupportsRange = rec.AcceptRanges

	state, err := journal.LoadFile(m.journalPath(id))
	if err != nil {
		if os.IsNotExist(err) {
			utils.Debug("lifecycle: no journal for %s, restarting its partition from zero progress", id)
			m.catalog.UpdateProgress(id, 0)
			return m.start(ctx, id, rec.URL, client, rec.Destination, *result, nil, settings, userAgent, nil)
		}
		return fmt.Errorf("lifecycle: loading journal for %s: %w", id, err)
	}

	if err := m.catalog.UpdateStatus(id, nil); err != nil {
		return fmt.Errorf("lifecycle: clearing status for %s: %w", id, err)
	}

	return m.start(ctx, id, rec.URL, client, rec.Destination, *result, nil, settings, userAgent, &state)
}
