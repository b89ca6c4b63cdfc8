package worker

import (
	"context"
	"time"

	"github.com/surge-downloader/surge-core/internal/events"
)

// emitProgress publishes a download_progress event every 100ms until ctx is
// cancelled or done is closed by Run once every worker has exited.
func (p *Pool) emitProgress(ctx context.Context, done <-chan struct{}) {
	if p.cfg.Bus == nil {
		return
	}

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	var lastBytes uint64

	for {
		select {
		case <-ctx.Done():
			return
		case <-done:
			return
		case <-ticker.C:
			downloaded := p.downloaded.Load()

			var deltaBytes uint64
			if downloaded > lastBytes {
				deltaBytes = downloaded - lastBytes
			}
			lastBytes = downloaded
			speed := float64(deltaBytes) / progressInterval.Seconds()

			progress := -1.0
			if p.cfg.TotalSize > 0 {
				progress = float64(downloaded) / float64(p.cfg.TotalSize)
			}

			var timeLeft time.Duration
			if speed > 0 && downloaded < p.cfg.TotalSize {
				secondsLeft := float64(p.cfg.TotalSize-downloaded) / speed
				timeLeft = time.Duration(secondsLeft * float64(time.Second))
			}

			p.cfg.Bus.Publish(events.DownloadProgress{
				ID:         p.cfg.ID,
				Downloaded: int64(downloaded),
				Total:      int64(p.cfg.TotalSize),
				Progress:   progress,
				Speed:      speed,
				TimeLeft:   timeLeft,
			})
		}
	}
}
