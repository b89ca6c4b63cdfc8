package worker

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync/atomic"
	"time"

	"github.com/surge-downloader/surge-core/internal/events"
)

// UnboundedConfig configures StreamUnbounded for a download whose total size
// the server never disclosed. There is no partition table, no cursor, and
// no steal: a single sequential GET writes the file from offset zero as
// bytes arrive.
type UnboundedConfig struct {
	ID        string
	URL       string
	Client    *http.Client
	Headers   map[string]string
	UserAgent string
	Bus       *events.Bus

	// ReadTimeout bounds the gap between successive body chunks before
	// the stream is treated as stalled; 0 disables the guard. With no
	// byte ranges there is nothing to retry from, so a stall is terminal
	// here rather than retryable.
	ReadTimeout time.Duration
}

// StreamUnbounded performs a single plain GET (no Range header) and copies
// the body into w sequentially, publishing download_progress events with
// Progress = -1 (unknown total) every 100ms. It returns the number of bytes
// written and any error; a nil error means the server closed the stream
// normally and the download is complete.
func StreamUnbounded(ctx context.Context, cfg UnboundedConfig, w io.Writer) (int64, error) {
	reqCtx, cancelReq := context.WithCancel(ctx)
	defer cancelReq()

	req, err := http.NewRequestWithContext(reqCtx, http.MethodGet, cfg.URL, nil)
	if err != nil {
		return 0, fmt.Errorf("worker: building request: %w", err)
	}
	for k, v := range cfg.Headers {
		req.Header.Set(k, v)
	}
	if cfg.UserAgent != "" {
		req.Header.Set("User-Agent", cfg.UserAgent)
	}

	resp, err := cfg.Client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("worker: request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("worker: unexpected status %d", resp.StatusCode)
	}

	var stall *time.Timer
	if cfg.ReadTimeout > 0 {
		stall = time.AfterFunc(cfg.ReadTimeout, cancelReq)
		defer stall.Stop()
	}

	var written atomic.Int64
	buf := make([]byte, bufferSize)

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()
	progressDone := make(chan struct{})
	defer close(progressDone)
	if cfg.Bus != nil {
		go func() {
			var lastBytes int64
			for {
				select {
				case <-progressDone:
					return
				case <-ticker.C:
					downloaded := written.Load()
					delta := downloaded - lastBytes
					lastBytes = downloaded
					speed := float64(delta) / progressInterval.Seconds()
					cfg.Bus.Publish(events.DownloadProgress{
						ID:         cfg.ID,
						Downloaded: downloaded,
						Total:      -1,
						Progress:   -1,
						Speed:      speed,
					})
				}
			}
		}()
	}

	for {
		if err := ctx.Err(); err != nil {
			return written.Load(), err
		}
		n, rerr := resp.Body.Read(buf)
		if n > 0 {
			if stall != nil {
				stall.Reset(cfg.ReadTimeout)
			}
			if _, werr := w.Write(buf[:n]); werr != nil {
				return written.Load(), fmt.Errorf("worker: write: %w", werr)
			}
			written.Add(int64(n))
		}
		if rerr == io.EOF {
			return written.Load(), nil
		}
		if rerr != nil {
			if err := ctx.Err(); err != nil {
				return written.Load(), err
			}
			if reqCtx.Err() != nil {
				// Only the watchdog cancels reqCtx without ctx; report
				// it as a stall, not a caller cancellation.
				return written.Load(), fmt.Errorf("worker: no data for %s, stream stalled", cfg.ReadTimeout)
			}
			return written.Load(), fmt.Errorf("worker: read: %w", rerr)
		}
	}
}
