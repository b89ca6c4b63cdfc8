// Package worker drives the streaming side of a download: a single-goroutine
// owner of the coordinator reached over a request channel, N worker
// goroutines issuing ranged GETs and writing at disjoint offsets, and a
// progress emitter publishing to the event bus every 100ms.
package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"os"
	"sync"
	"sync/atomic"
	"time"

	"golang.org/x/time/rate"

	"github.com/surge-downloader/surge-core/internal/coordinator"
	"github.com/surge-downloader/surge-core/internal/errs"
	"github.com/surge-downloader/surge-core/internal/events"
	"github.com/surge-downloader/surge-core/internal/probe"
	"github.com/surge-downloader/surge-core/internal/segment"
	"github.com/surge-downloader/surge-core/internal/utils"
)

const bufferSize = 512 * 1024

const progressInterval = 100 * time.Millisecond

// Config configures one Pool, covering one download's worker set.
type Config struct {
	ID          string
	URL         string
	TotalSize   uint64
	WorkerCount int
	Client      *http.Client
	Headers     map[string]string
	UserAgent   string

	// SpeedLimit is the download's total byte/sec budget across all
	// workers; 0 means unlimited. Divided evenly across WorkerCount at
	// start, not redivided as workers finish.
	SpeedLimit uint64

	RetryCount   int
	RetryDelayMs int

	// ReadTimeout bounds how long a worker waits between successive body
	// chunks before treating the connection as stalled and retrying the
	// segment. It is not a whole-request deadline: a large segment may
	// stream for hours as long as bytes keep arriving. 0 disables the
	// stall guard.
	ReadTimeout time.Duration

	// Single tolerates a 200 OK response in place of 206 Partial Content,
	// for single-worker / no-range downloads.
	Single bool

	Bus *events.Bus
}

// Pool owns the request-channel coordinator goroutine, the worker
// goroutines, and the shared bytes-downloaded counter for one download.
type Pool struct {
	cfg        Config
	coord      *coordinator.Coordinator
	file       *os.File
	downloaded atomic.Uint64
}

// New creates a Pool. coord must already be populated (fresh or restored
// from a journal); file must already be pre-allocated to cfg.TotalSize. The
// bytes-downloaded counter is seeded with whatever the coordinator says is
// already done, so a resumed download's progress picks up where the last
// session left off instead of restarting the count at zero.
func New(cfg Config, coord *coordinator.Coordinator, file *os.File) *Pool {
	p := &Pool{cfg: cfg, coord: coord, file: file}
	if remaining := coord.BytesRemaining(); remaining < cfg.TotalSize {
		p.downloaded.Store(cfg.TotalSize - remaining)
	}
	return p
}

// BytesDownloaded returns the total bytes persisted for this download,
// including bytes carried over from earlier sessions of a resumed transfer.
func (p *Pool) BytesDownloaded() uint64 { return p.downloaded.Load() }

// workRequest is what a worker sends the coordinator goroutine: a reply
// slot, plus whether the worker has finished with a previous assignment,
// completed or given up (so the coordinator can reset steal_exhausted before
// handing out more work).
type workRequest struct {
	reply       chan *coordinator.Assignment
	segmentDone bool
}

// Run starts the coordinator, progress emitter, and worker goroutines, and
// blocks until every worker has exited (the table and all stealable tails
// are exhausted, or ctx is cancelled). Returns nil if the whole file was
// downloaded, errs.ErrSegmentFailed if some bytes remain unwritten, or a
// context error if cancelled.
func (p *Pool) Run(ctx context.Context) error {
	if p.cfg.WorkerCount <= 0 {
		return fmt.Errorf("worker: WorkerCount must be positive")
	}

	requestCh := make(chan workRequest, p.cfg.WorkerCount*2)
	coordDone := make(chan struct{})
	progressDone := make(chan struct{})

	go func() {
		defer close(coordDone)
		for req := range requestCh {
			if req.segmentDone {
				p.coord.ResetSteal()
			}
			req.reply <- p.coord.RequestWork()
		}
	}()

	go p.emitProgress(ctx, progressDone)

	var wg sync.WaitGroup
	wg.Add(p.cfg.WorkerCount)
	for i := 0; i < p.cfg.WorkerCount; i++ {
		limiter := p.newLimiter()
		go func(id int) {
			defer wg.Done()
			p.runWorker(ctx, id, requestCh, limiter)
		}(i)
	}

	wg.Wait()
	close(requestCh)
	<-coordDone
	close(progressDone)

	if p.downloaded.Load() >= p.cfg.TotalSize {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	return errs.ErrSegmentFailed
}

// newLimiter builds a per-worker token bucket for SpeedLimit/WorkerCount
// bytes per second, or nil when unlimited.
func (p *Pool) newLimiter() *rate.Limiter {
	if p.cfg.SpeedLimit == 0 {
		return nil
	}
	budget := p.cfg.SpeedLimit / uint64(p.cfg.WorkerCount)
	if budget == 0 {
		budget = 1
	}
	return rate.NewLimiter(rate.Limit(budget), int(budget))
}

// runWorker is the per-worker request/stream loop: request work, stream the
// range, loop until the coordinator has nothing left to hand out.
func (p *Pool) runWorker(ctx context.Context, id int, requestCh chan<- workRequest, limiter *rate.Limiter) {
	buf := make([]byte, bufferSize)
	segmentDone := false

	for {
		reply := make(chan *coordinator.Assignment, 1)
		select {
		case requestCh <- workRequest{reply: reply, segmentDone: segmentDone}:
		case <-ctx.Done():
			return
		}

		var assignment *coordinator.Assignment
		select {
		case assignment = <-reply:
		case <-ctx.Done():
			return
		}
		if assignment == nil {
			return
		}

		if err := p.downloadSegment(ctx, assignment, buf, limiter); err != nil {
			utils.Debug("worker %d: segment %d-%d failed: %v", id, assignment.Start, assignment.End, err)
		}
		segmentDone = true
	}
}

// downloadSegment issues the ranged GET and retries with exponential
// backoff on error, a short read, or a stalled body. Each attempt runs under
// its own sub-context so the stall watchdog can abort just that request
// without touching the download's context.
func (p *Pool) downloadSegment(ctx context.Context, a *coordinator.Assignment, buf []byte, limiter *rate.Limiter) error {
	cur := a.Cursor
	attempt := 0

	for {
		if cur.Done() {
			return nil
		}

		retry, err := p.attemptSegment(ctx, a, cur, buf, limiter)
		if err != nil && !retry {
			return err
		}
		if err == nil && cur.Done() {
			return nil
		}
		// Retryable failure, or a short read (server closed the body
		// before cur.end): back off and re-request the remaining range.
		if !p.backoff(ctx, &attempt) {
			if err != nil {
				return err
			}
			return errs.ErrSegmentFailed
		}
	}
}

// attemptSegment performs one GET-and-stream attempt for cur's remaining
// range. retry reports whether a failure is worth another attempt; protocol
// violations and request-construction errors are not.
func (p *Pool) attemptSegment(ctx context.Context, a *coordinator.Assignment, cur *segment.Cursor, buf []byte, limiter *rate.Limiter) (retry bool, err error) {
	reqCtx, cancelReq := context.WithCancel(ctx)
	defer cancelReq()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, p.cfg.URL, nil)
	if err != nil {
		return false, fmt.Errorf("worker: building request: %w", err)
	}
	req.Header.Set("Range", fmt.Sprintf("bytes=%d-%d", cur.Start(), a.End-1))
	if p.cfg.UserAgent != "" {
		req.Header.Set("User-Agent", p.cfg.UserAgent)
	}
	for k, v := range p.cfg.Headers {
		req.Header.Set(k, v)
	}

	resp, err := p.cfg.Client.Do(req)
	if err != nil {
		return true, fmt.Errorf("worker: request failed: %w", err)
	}
	defer resp.Body.Close()

	// The stall watchdog cancels this attempt's context if no body bytes
	// arrive for ReadTimeout; stream resets it after every chunk.
	var stall *time.Timer
	if p.cfg.ReadTimeout > 0 {
		stall = time.AfterFunc(p.cfg.ReadTimeout, cancelReq)
		defer stall.Stop()
	}

	if resp.StatusCode != http.StatusPartialContent {
		if resp.StatusCode == http.StatusOK && !p.cfg.Single {
			return false, fmt.Errorf("worker: %w: status 200 to a ranged request", errs.ErrProtocolViolation)
		}
		tolerated := resp.StatusCode == http.StatusOK && p.cfg.Single
		if !tolerated {
			return true, fmt.Errorf("worker: unexpected status %d", resp.StatusCode)
		}
		// A 200 body starts at byte zero no matter what Range asked for;
		// on a resumed single-range download the already-written prefix
		// has to be discarded before streaming.
		if offset := cur.Start(); offset > 0 {
			if _, derr := io.CopyN(io.Discard, resp.Body, int64(offset)); derr != nil {
				return true, fmt.Errorf("worker: discarding resumed prefix: %w", derr)
			}
			if stall != nil {
				stall.Reset(p.cfg.ReadTimeout)
			}
		}
	} else if total, ok := probe.ParseContentRangeSize(resp.Header.Get("Content-Range")); ok && total != int64(p.cfg.TotalSize) {
		return false, fmt.Errorf("worker: %w: content-range total %d, expected %d", errs.ErrProtocolViolation, total, p.cfg.TotalSize)
	}

	if serr := p.stream(reqCtx, resp.Body, cur, buf, limiter, stall); serr != nil {
		return true, serr
	}
	return true, nil
}

// backoff sleeps retry_delay_ms * 2^(n-1) and reports whether another
// attempt remains under cfg.RetryCount.
func (p *Pool) backoff(ctx context.Context, attempt *int) bool {
	*attempt++
	if *attempt > p.cfg.RetryCount {
		return false
	}
	delay := time.Duration(p.cfg.RetryDelayMs) * time.Millisecond * time.Duration(uint64(1)<<uint(*attempt-1))
	select {
	case <-time.After(delay):
		return true
	case <-ctx.Done():
		return false
	}
}
