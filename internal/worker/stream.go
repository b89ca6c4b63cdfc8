package worker

import (
	"context"
	"fmt"
	"io"
	"time"

	"golang.org/x/time/rate"

	"github.com/surge-downloader/surge-core/internal/segment"
)

// stream copies body into the pre-allocated file at cur's advancing start
// offset, never reading past the cursor's end. End is reloaded on every
// iteration rather than captured once: a steal can shrink it mid-stream, and
// the worker must observe that as early termination instead of writing bytes
// the coordinator has already handed to someone else. Each chunk is written
// before cur.start is advanced past it, satisfying the contract that start
// never outruns what was actually persisted. stall, when non-nil, is the
// attempt's watchdog timer; every chunk that arrives pushes it back.
func (p *Pool) stream(ctx context.Context, body io.Reader, cur *segment.Cursor, buf []byte, limiter *rate.Limiter, stall *time.Timer) error {
	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		remaining := cur.Remaining()
		if remaining == 0 {
			return nil
		}

		readSize := uint64(len(buf))
		if readSize > remaining {
			readSize = remaining
		}
		// WaitN rejects n > burst, so never read more than the limiter's
		// bucket in one chunk when a limiter is active.
		if limiter != nil {
			if burst := uint64(limiter.Burst()); readSize > burst {
				readSize = burst
			}
		}

		n, err := body.Read(buf[:readSize])
		if n > 0 {
			if stall != nil {
				stall.Reset(p.cfg.ReadTimeout)
			}
			offset := cur.Start()
			if _, werr := p.file.WriteAt(buf[:n], int64(offset)); werr != nil {
				return fmt.Errorf("worker: write at %d: %w", offset, werr)
			}
			cur.Advance(uint64(n))
			p.downloaded.Add(uint64(n))

			if limiter != nil {
				if werr := limiter.WaitN(ctx, n); werr != nil {
					return werr
				}
				// The limiter sleep is deliberate, not a stall; don't
				// let it eat into the watchdog window.
				if stall != nil {
					stall.Reset(p.cfg.ReadTimeout)
				}
			}
		}

		if err == io.EOF {
			return nil
		}
		if err != nil {
			return fmt.Errorf("worker: read: %w", err)
		}
	}
}
