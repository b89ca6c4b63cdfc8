// Package lifecycle is the entry point for every download request: it
// reconciles New/Resume requests against server headers to decide resume
// vs. restart-from-zero, owns the map of live downloads and their task
// handles, and mediates Pause/Cancel against the coordinator+worker pool
// pair each live download owns.
package lifecycle

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"path/filepath"
	"sync"
	"sync/atomic"
	"time"

	"github.com/surge-downloader/surge-core/internal/catalog"
	"github.com/surge-downloader/surge-core/internal/config"
	"github.com/surge-downloader/surge-core/internal/coordinator"
	"github.com/surge-downloader/surge-core/internal/errs"
	"github.com/surge-downloader/surge-core/internal/events"
	"github.com/surge-downloader/surge-core/internal/httpclient"
	"github.com/surge-downloader/surge-core/internal/identity"
	"github.com/surge-downloader/surge-core/internal/journal"
	"github.com/surge-downloader/surge-core/internal/partition"
	"github.com/surge-downloader/surge-core/internal/probe"
	"github.com/surge-downloader/surge-core/internal/utils"
	"github.com/surge-downloader/surge-core/internal/worker"
)

// Request is one URL a New call accepts, with optional deep-link-style
// hints (see internal/deeplink) that override what the probe would
// otherwise discover.
type Request struct {
	URL          string
	FilenameHint string
	SizeHint     int64
	Headers      map[string]string
}

// liveDownload is the task handle the manager keeps for one running
// download: the cancel func that stops its coordinator and workers, and a
// done channel closed once its run goroutine has flushed the journal (or
// deleted it, for cancellation) and updated the catalog.
type liveDownload struct {
	cancel    context.CancelFunc
	done      chan struct{}
	cancelled atomic.Bool
}

// Manager is the engine's lifecycle manager: the only entry point external
// callers use to start, pause, cancel, and query downloads.
type Manager struct {
	mu   sync.Mutex
	live map[string]*liveDownload

	catalog    *catalog.Store
	journalDir string
	bus        *events.Bus
	clients    *httpclient.Factory

	settingsMu   sync.RWMutex
	settings     *config.Settings
	settingsPath string
}

// New constructs a Manager. journalDir is the <app_data>/metadata directory
// journals are written under; settingsPath is where Settings are persisted.
func New(store *catalog.Store, journalDir, settingsPath string, settings *config.Settings) *Manager {
	return &Manager{
		live:         make(map[string]*liveDownload),
		catalog:      store,
		journalDir:   journalDir,
		bus:          events.NewBus(),
		clients:      httpclient.NewFactory(),
		settings:     settings,
		settingsPath: settingsPath,
	}
}

// Subscribe registers a new event listener; see internal/events.Bus.
func (m *Manager) Subscribe() (<-chan events.Event, func()) {
	return m.bus.Subscribe()
}

// GetSettings returns a copy of the current settings tree.
func (m *Manager) GetSettings() *config.Settings {
	m.settingsMu.RLock()
	defer m.settingsMu.RUnlock()
	cp := *m.settings
	return &cp
}

// UpdateSettings replaces the whole settings tree, clamping and persisting it.
func (m *Manager) UpdateSettings(s *config.Settings) error {
	s.Clamp()
	m.settingsMu.Lock()
	m.settings = s
	m.settingsMu.Unlock()
	return config.Save(m.settingsPath, s)
}

// UpdateSetting applies a single dotted-key update and persists the result.
func (m *Manager) UpdateSetting(dottedKey string, value any) error {
	m.settingsMu.Lock()
	defer m.settingsMu.Unlock()
	if err := m.settings.SetDotted(dottedKey, value); err != nil {
		return err
	}
	return config.Save(m.settingsPath, m.settings)
}

// IsActive reports whether id has a live task handle.
func (m *Manager) IsActive(id string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	_, ok := m.live[id]
	return ok
}

// ActiveCount reports how many downloads are currently live.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.live)
}

func (m *Manager) removeLive(id string) {
	m.mu.Lock()
	delete(m.live, id)
	m.mu.Unlock()
}

func (m *Manager) journalPath(id string) string {
	stem := id
	if parsed, err := identity.Parse(id); err == nil {
		stem = identity.FileStem(parsed)
	}
	return filepath.Join(m.journalDir, stem+".tur")
}

// New accepts one or more new-download requests. Requests are processed in
// order; the first error aborts the remaining ones, matching a CLI/GUI
// caller that wants to know exactly which URL failed.
func (m *Manager) New(ctx context.Context, reqs []Request) error {
	for _, r := range reqs {
		if err := m.newOne(ctx, r); err != nil {
			return err
		}
	}
	return nil
}

func (m *Manager) newOne(ctx context.Context, r Request) error {
	settings := m.GetSettings()
	if settings.Download.MaxConcurrent > 0 && m.ActiveCount() >= settings.Download.MaxConcurrent {
		return errs.ErrMaxConcurrent
	}

	id, err := identity.New()
	if err != nil {
		return fmt.Errorf("lifecycle: minting identity: %w", err)
	}
	idStr := id.String()

	client, userAgent, err := m.buildClient(settings)
	if err != nil {
		return err
	}

	result, err := probe.Server(ctx, client, r.URL, r.FilenameHint, r.Headers, userAgent)
	if err != nil {
		return fmt.Errorf("lifecycle: probing %s: %w", r.URL, err)
	}
	if r.SizeHint > 0 && !result.SizeKnown {
		result.FileSize = r.SizeHint
		result.SizeKnown = true
	}

	destination, err := resolveDestination(filepath.Join(settings.Download.Location, result.Filename), settings.Download.ConflictAction)
	if err != nil {
		return err
	}

	rec := catalog.Record{
		ID:           idStr,
		URL:          r.URL,
		Filename:     result.Filename,
		Destination:  destination,
		AcceptRanges: result.SupportsRange,
	}
	if result.SizeKnown {
		rec.Size = &result.FileSize
	}
	rec.ContentType = ptrOrNil(result.ContentType)
	rec.ETag = ptrOrNil(result.ETag)
	rec.LastModified = ptrOrNil(result.LastModified)

	if err := m.catalog.Insert(rec); err != nil {
		return fmt.Errorf("lifecycle: inserting catalog record: %w", err)
	}

	m.bus.Publish(events.QueueDownload{
		ID:              idStr,
		URL:             r.URL,
		Filename:        result.Filename,
		Size:            rec.Size,
		Destination:     destination,
		ResumeSupported: result.SupportsRange,
		Status:          "queued",
	})

	return m.start(ctx, idStr, r.URL, client, destination, *result, r.Headers, settings, userAgent, nil)
}

// start spawns the coordinator+worker goroutines (or the unbounded-size
// streaming fallback) for one download and registers its task handle.
// restored is non-nil only for a Resume call whose journal is being reused.
func (m *Manager) start(ctx context.Context, id, url string, client *http.Client, destination string, result probe.Result, headers map[string]string, settings *config.Settings, userAgent string, restored *journal.State) error {
	dctx, cancel := context.WithCancel(context.Background())
	ld := &liveDownload{cancel: cancel, done: make(chan struct{})}

	m.mu.Lock()
	m.live[id] = ld
	m.mu.Unlock()

	if !result.SizeKnown {
		readTimeout := time.Duration(settings.Network.ReadTimeout) * time.Second
		go m.runUnbounded(dctx, ld, id, url, client, destination, headers, userAgent, readTimeout)
		return nil
	}

	totalSize := uint64(result.FileSize)

	f, err := os.OpenFile(destination, os.O_CREATE|os.O_RDWR, 0644)
	if err != nil {
		m.removeLive(id)
		cancel()
		return fmt.Errorf("lifecycle: opening destination %s: %w", destination, err)
	}
	if err := worker.Preallocate(f, totalSize); err != nil {
		f.Close()
		m.removeLive(id)
		cancel()
		return err
	}

	singleRange := !result.SupportsRange
	numThreads := settings.Download.NumThreads
	if singleRange {
		numThreads = 1
	}

	var coord *coordinator.Coordinator
	switch {
	case restored != nil:
		coord = journal.ToCoordinator(*restored, totalSize, singleRange)
	case singleRange:
		coord = coordinator.NewSingleRange(totalSize)
	default:
		coord = coordinator.New(totalSize, partition.MaxIndexFor(totalSize/partition.UnitSize))
	}

	pool := worker.New(worker.Config{
		ID:           id,
		URL:          url,
		TotalSize:    totalSize,
		WorkerCount:  numThreads,
		Client:       client,
		Headers:      headers,
		UserAgent:    userAgent,
		SpeedLimit:   settings.Download.SpeedLimit,
		RetryCount:   settings.Network.RetryCount,
		RetryDelayMs: settings.Network.RetryDelayMs,
		ReadTimeout:  time.Duration(settings.Network.ReadTimeout) * time.Second,
		Single:       singleRange,
		Bus:          m.bus,
	}, coord, f)

	go m.run(dctx, ld, id, destination, pool, coord, f)
	return nil
}

// run drives one download's coordinator+worker pool to completion,
// cancellation, or failure, and reconciles the catalog and journal
// accordingly. It is the only place that decides what "done" means for a
// live download.
func (m *Manager) run(ctx context.Context, ld *liveDownload, id, destination string, pool *worker.Pool, coord *coordinator.Coordinator, f *os.File) {
	defer close(ld.done)
	defer m.removeLive(id)

	// Keep the catalog's bytes_received roughly current while the download
	// runs; the terminal paths below write the exact final value.
	tick := time.NewTicker(time.Second)
	tickDone := make(chan struct{})
	go func() {
		for {
			select {
			case <-tickDone:
				return
			case <-tick.C:
				m.catalog.UpdateProgress(id, int64(pool.BytesDownloaded()))
			}
		}
	}()

	runErr := pool.Run(ctx)
	tick.Stop()
	close(tickDone)
	f.Close()

	jp := m.journalPath(id)

	switch {
	case runErr == nil:
		m.catalog.UpdateProgress(id, int64(coord.TotalSize()))
		if err := m.catalog.FillContentType(id, destination); err != nil {
			utils.Debug("lifecycle: sniffing content type for %s: %v", id, err)
		}
		if err := m.catalog.MarkCompleted(id); err != nil {
			utils.Debug("lifecycle: marking %s completed: %v", id, err)
		}
		if err := journal.DeleteFile(jp); err != nil {
			utils.Debug("lifecycle: deleting journal for %s: %v", id, err)
		}
		m.bus.Publish(events.DownloadComplete{ID: id, Destination: destination, Status: "completed"})

	case errors.Is(runErr, context.Canceled):
		state := journal.FromCoordinator(coord)
		if err := journal.SaveFile(jp, state); err != nil {
			utils.Debug("lifecycle: saving journal for %s: %v", id, err)
		}
		m.catalog.UpdateProgress(id, int64(pool.BytesDownloaded()))

		if ld.cancelled.Load() {
			if err := journal.DeleteFile(jp); err != nil {
				utils.Debug("lifecycle: deleting journal for %s: %v", id, err)
			}
			failed := "failed"
			m.catalog.UpdateStatus(id, &failed)
			m.bus.Publish(events.DownloadCancelled{ID: id})
		} else {
			m.bus.Publish(events.DownloadPaused{ID: id})
		}

	default:
		state := journal.FromCoordinator(coord)
		if err := journal.SaveFile(jp, state); err != nil {
			utils.Debug("lifecycle: saving journal for %s: %v", id, err)
		}
		m.catalog.UpdateProgress(id, int64(pool.BytesDownloaded()))
		failed := "failed"
		m.catalog.UpdateStatus(id, &failed)
		m.bus.Publish(events.DownloadFailed{ID: id, Reason: runErr.Error()})
	}
}

// runUnbounded drives the no-total-size streaming fallback: a single
// sequential GET with no cursor, no journal, and no resumability.
func (m *Manager) runUnbounded(ctx context.Context, ld *liveDownload, id, url string, client *http.Client, destination string, headers map[string]string, userAgent string, readTimeout time.Duration) {
	defer close(ld.done)
	defer m.removeLive(id)

	f, err := os.OpenFile(destination, os.O_CREATE|os.O_TRUNC|os.O_WRONLY, 0644)
	if err != nil {
		failed := "failed"
		m.catalog.UpdateStatus(id, &failed)
		m.bus.Publish(events.DownloadFailed{ID: id, Reason: err.Error()})
		return
	}
	defer f.Close()

	written, err := worker.StreamUnbounded(ctx, worker.UnboundedConfig{
		ID: id, URL: url, Client: client, Headers: headers, UserAgent: userAgent,
		Bus: m.bus, ReadTimeout: readTimeout,
	}, f)

	m.catalog.UpdateProgress(id, written)

	switch {
	case err == nil:
		if ferr := m.catalog.FillContentType(id, destination); ferr != nil {
			utils.Debug("lifecycle: sniffing content type for %s: %v", id, ferr)
		}
		if err := m.catalog.MarkCompleted(id); err != nil {
			utils.Debug("lifecycle: marking %s completed: %v", id, err)
		}
		m.bus.Publish(events.DownloadComplete{ID: id, Destination: destination, Status: "completed"})
	case errors.Is(err, context.Canceled):
		if ld.cancelled.Load() {
			failed := "failed"
			m.catalog.UpdateStatus(id, &failed)
			m.bus.Publish(events.DownloadCancelled{ID: id})
		} else {
			m.bus.Publish(events.DownloadPaused{ID: id})
		}
	default:
		failed := "failed"
		m.catalog.UpdateStatus(id, &failed)
		m.bus.Publish(events.DownloadFailed{ID: id, Reason: err.Error()})
	}
}

// Pause stops id's coordinator and workers, blocking until its journal is
// flushed, and reports whether id was live. The catalog record keeps its
// in-progress (absent) status so auto-resume can find it later.
func (m *Manager) Pause(id string) bool {
	m.mu.Lock()
	ld, ok := m.live[id]
	m.mu.Unlock()
	if !ok {
		return false
	}
	ld.cancel()
	<-ld.done
	return true
}

// Cancel stops id (if live), deletes its journal, and marks its catalog
// record failed so history still shows it. Cancelling an id with no live
// task handle still deletes any leftover journal and updates the catalog.
func (m *Manager) Cancel(id string) bool {
	m.mu.Lock()
	ld, ok := m.live[id]
	m.mu.Unlock()

	if !ok {
		journal.DeleteFile(m.journalPath(id))
		failed := "failed"
		m.catalog.UpdateStatus(id, &failed)
		return false
	}

	ld.cancelled.Store(true)
	ld.cancel()
	<-ld.done
	return true
}

// Shutdown pauses every live download and blocks until all of their
// journals are flushed, for signal-driven graceful termination.
func (m *Manager) Shutdown() {
	m.mu.Lock()
	ids := make([]string, 0, len(m.live))
	for id := range m.live {
		ids = append(ids, id)
	}
	m.mu.Unlock()

	var wg sync.WaitGroup
	for _, id := range ids {
		wg.Add(1)
		go func(id string) {
			defer wg.Done()
			m.Pause(id)
		}(id)
	}
	wg.Wait()
}

// AutoResumePaused resumes every catalog record still marked in-progress
// (status absent), for a shell's startup auto-resume path. Per-identity
// errors are reported but do not abort the remaining resumes.
func (m *Manager) AutoResumePaused(ctx context.Context) []error {
	recs, err := m.catalog.ListByStatus(nil)
	if err != nil {
		return []error{fmt.Errorf("lifecycle: listing in-progress downloads: %w", err)}
	}

	var errsOut []error
	for _, rec := range recs {
		if err := m.resumeOne(ctx, rec.ID); err != nil {
			errsOut = append(errsOut, fmt.Errorf("lifecycle: auto-resuming %s: %w", rec.ID, err))
		}
	}
	return errsOut
}

func (m *Manager) buildClient(settings *config.Settings) (*http.Client, string, error) {
	hc := httpclient.Settings{
		MaxConnsPerHost:    settings.Download.NumThreads + 2,
		ConnectTimeout:     time.Duration(settings.Network.ConnectTimeout) * time.Second,
		UserAgentPreset:    string(settings.Network.UserAgentPreset),
		CustomUserAgent:    settings.Network.CustomUserAgent,
		InsecureSkipVerify: settings.Network.AllowInsecure,
		ForceHTTP1:         settings.Download.NumThreads > 1,
		Proxy: httpclient.ProxySettings{
			Enabled:     settings.Network.Proxy.Enabled,
			Type:        string(settings.Network.Proxy.Type),
			Host:        settings.Network.Proxy.Host,
			Port:        settings.Network.Proxy.Port,
			AuthEnabled: settings.Network.Proxy.AuthEnabled,
			Username:    settings.Network.Proxy.Username,
			Password:    settings.Network.Proxy.Password,
		},
	}
	client, err := m.clients.New(hc)
	if err != nil {
		return nil, "", fmt.Errorf("lifecycle: building http client: %w", err)
	}
	return client, hc.UserAgent(), nil
}

func ptrOrNil(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}
