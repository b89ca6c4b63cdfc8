package lifecycle

import (
	"context"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/surge-downloader/surge-core/internal/catalog"
	"github.com/surge-downloader/surge-core/internal/config"
	"github.com/surge-downloader/surge-core/internal/errs"
	"github.com/surge-downloader/surge-core/internal/testutil"
)

func newTestManager(t *testing.T) (*Manager, *catalog.Store) {
	t.Helper()
	dir := t.TempDir()

	store, err := catalog.Open(filepath.Join(dir, "catalog.db"))
	require.NoError(t, err)
	t.Cleanup(func() { store.Close() })

	settings := config.DefaultSettings()
	settings.Download.Location = filepath.Join(dir, "downloads")
	settings.Download.NumThreads = 2
	settings.Download.MaxConcurrent = 2
	settings.Network.ConnectTimeout = 5
	settings.Network.ReadTimeout = 30
	settings.Network.RetryCount = 1
	settings.Network.RetryDelayMs = 10
	require.NoError(t, os.MkdirAll(settings.Download.Location, 0755))

	m := New(store, filepath.Join(dir, "journals"), filepath.Join(dir, "settings.json"), settings)
	t.Cleanup(m.Shutdown)
	return m, store
}

func waitForStatus(t *testing.T, store *catalog.Store, id string, want string, timeout time.Duration) catalog.Record {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		rec, ok, err := store.GetByID(id)
		require.NoError(t, err)
		if ok && rec.Status != nil && *rec.Status == want {
			return rec
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("timed out waiting for %s to reach status %q", id, want)
	return catalog.Record{}
}

func firstID(t *testing.T, store *catalog.Store) string {
	t.Helper()
	recs, err := store.ListAll()
	require.NoError(t, err)
	require.Len(t, recs, 1)
	return recs[0].ID
}

func TestNewDownloadRunsToCompletion(t *testing.T) {
	m, store := newTestManager(t)

	srv := testutil.NewOriginT(t, testutil.WithFileSize(256*1024), testutil.WithRangeSupport(true))

	ctx := context.Background()
	require.NoError(t, m.New(ctx, []Request{{URL: srv.URL()}}))

	id := firstID(t, store)
	rec := waitForStatus(t, store, id, "completed", 5*time.Second)
	require.EqualValues(t, 256*1024, rec.BytesReceived)

	data, err := os.ReadFile(rec.Destination)
	require.NoError(t, err)
	require.Equal(t, srv.Data(), data)
}

func TestSingleRangeServerUsesOneWorker(t *testing.T) {
	m, store := newTestManager(t)

	srv := testutil.NewOriginT(t, testutil.WithFileSize(64*1024), testutil.WithRangeSupport(false))

	ctx := context.Background()
	require.NoError(t, m.New(ctx, []Request{{URL: srv.URL()}}))

	id := firstID(t, store)
	rec := waitForStatus(t, store, id, "completed", 5*time.Second)
	require.EqualValues(t, 64*1024, rec.BytesReceived)
	// One HEAD probe plus a single GET from the one worker a range-less
	// server gets.
	require.EqualValues(t, 2, srv.RequestCount.Load())
}

func TestPauseFlushesJournalThenResumeCompletes(t *testing.T) {
	m, store := newTestManager(t)

	srv := testutil.NewOriginT(t, testutil.WithFileSize(8*1024*1024), testutil.WithRangeSupport(true), testutil.WithByteLatency(200*time.Nanosecond))

	ctx := context.Background()
	require.NoError(t, m.New(ctx, []Request{{URL: srv.URL()}}))
	id := firstID(t, store)

	require.Eventually(t, func() bool { return m.IsActive(id) }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)

	require.True(t, m.Pause(id))
	require.False(t, m.IsActive(id))
	_, err := os.Stat(m.journalPath(id))
	require.NoError(t, err)

	rec, ok, err := store.GetByID(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.Nil(t, rec.Status)

	require.NoError(t, m.Resume(ctx, []string{id}))
	rec = waitForStatus(t, store, id, "completed", 10*time.Second)

	data, err := os.ReadFile(rec.Destination)
	require.NoError(t, err)
	require.Equal(t, srv.Data(), data)
}

func TestResumeWithChangedETagRestartsFromZero(t *testing.T) {
	m, store := newTestManager(t)

	srv := testutil.NewOriginT(t, testutil.WithFileSize(8*1024*1024), testutil.WithRangeSupport(true), testutil.WithByteLatency(200*time.Nanosecond), testutil.WithETag("aaa"))

	ctx := context.Background()
	require.NoError(t, m.New(ctx, []Request{{URL: srv.URL()}}))
	id := firstID(t, store)

	require.Eventually(t, func() bool { return m.IsActive(id) }, time.Second, 5*time.Millisecond)
	time.Sleep(20 * time.Millisecond)
	require.True(t, m.Pause(id))

	// The remote object changed while we were paused: the stored validator
	// no longer matches, so resuming must discard all local progress.
	srv.SetETag("bbb")

	require.NoError(t, m.Resume(ctx, []string{id}))
	rec := waitForStatus(t, store, id, "completed", 10*time.Second)
	require.NotNil(t, rec.ETag)
	require.Equal(t, "bbb", *rec.ETag)

	data, err := os.ReadFile(rec.Destination)
	require.NoError(t, err)
	require.Equal(t, srv.Data(), data)

	_, err = os.Stat(m.journalPath(id))
	require.True(t, os.IsNotExist(err))
}

func TestCancelMarksFailedAndDeletesJournal(t *testing.T) {
	m, store := newTestManager(t)

	srv := testutil.NewOriginT(t, testutil.WithFileSize(8*1024*1024), testutil.WithRangeSupport(true), testutil.WithByteLatency(200*time.Nanosecond))

	ctx := context.Background()
	require.NoError(t, m.New(ctx, []Request{{URL: srv.URL()}}))
	id := firstID(t, store)

	require.Eventually(t, func() bool { return m.IsActive(id) }, time.Second, 5*time.Millisecond)
	time.Sleep(10 * time.Millisecond)

	require.True(t, m.Cancel(id))

	_, err := os.Stat(m.journalPath(id))
	require.True(t, os.IsNotExist(err))

	rec, ok, err := store.GetByID(id)
	require.NoError(t, err)
	require.True(t, ok)
	require.NotNil(t, rec.Status)
	require.Equal(t, "failed", *rec.Status)
}

func TestMaxConcurrentRejectsExtraDownload(t *testing.T) {
	m, store := newTestManager(t)
	m.settings.Download.MaxConcurrent = 1

	srv := testutil.NewOriginT(t, testutil.WithFileSize(4*1024*1024), testutil.WithRangeSupport(true), testutil.WithByteLatency(1*time.Microsecond))

	ctx := context.Background()
	require.NoError(t, m.New(ctx, []Request{{URL: srv.URL()}}))
	firstID(t, store)

	require.Eventually(t, func() bool { return m.ActiveCount() == 1 }, time.Second, 5*time.Millisecond)

	err := m.New(ctx, []Request{{URL: srv.URL()}})
	require.ErrorIs(t, err, errs.ErrMaxConcurrent)
}

func TestConflictActionSkipRefusesExistingDestination(t *testing.T) {
	m, store := newTestManager(t)
	m.settings.Download.ConflictAction = config.ConflictSkip

	srv := testutil.NewOriginT(t, testutil.WithFileSize(1024), testutil.WithFilename("dup.bin"))

	existing := filepath.Join(m.settings.Download.Location, "dup.bin")
	require.NoError(t, os.WriteFile(existing, []byte("already here"), 0644))

	ctx := context.Background()
	err := m.New(ctx, []Request{{URL: srv.URL()}})
	require.ErrorIs(t, err, errs.ErrDestinationExists)

	recs, err := store.ListAll()
	require.NoError(t, err)
	require.Empty(t, recs)
}

func TestConflictActionRenameAvoidsCollision(t *testing.T) {
	m, store := newTestManager(t)
	m.settings.Download.ConflictAction = config.ConflictRename

	srv := testutil.NewOriginT(t, testutil.WithFileSize(1024), testutil.WithFilename("dup.bin"))

	existing := filepath.Join(m.settings.Download.Location, "dup.bin")
	require.NoError(t, os.WriteFile(existing, []byte("already here"), 0644))

	ctx := context.Background()
	require.NoError(t, m.New(ctx, []Request{{URL: srv.URL()}}))

	id := firstID(t, store)
	rec := waitForStatus(t, store, id, "completed", 5*time.Second)
	require.Equal(t, filepath.Join(m.settings.Download.Location, "dup (1).bin"), rec.Destination)
}
