// Package probe determines what a server can offer for a download before any
// worker is started: its size, whether it honors byte ranges, and the
// validators (ETag / Last-Modified) a later resume attempt needs to check.
package probe

import (
	"context"
	"fmt"
	"io"
	"net/http"

	"github.com/surge-downloader/surge-core/internal/utils"
)

// Result is everything a probe learns about a download target.
type Result struct {
	FileSize      int64
	SizeKnown     bool // false when the server gave no Content-Length
	SupportsRange bool
	Filename      string
	ContentType   string
	ETag          string
	LastModified  string
}

// Server issues a HEAD request to determine server capabilities: range
// support from Accept-Ranges, size from Content-Length, and the resume
// validators. filenameHint, when non-empty (e.g. from a deep link),
// overrides any filename the server or URL would otherwise suggest. headers
// carries caller-supplied headers (cookies, auth) to forward; Range is
// never sent (a probe must not be ranged) and User-Agent is set only if the
// caller didn't supply one.
func Server(ctx context.Context, client *http.Client, rawURL string, filenameHint string, headers map[string]string, userAgent string) (*Result, error) {
	utils.Debug("probe: %s", rawURL)

	req, err := http.NewRequestWithContext(ctx, http.MethodHead, rawURL, nil)
	if err != nil {
		return nil, fmt.Errorf("probe: building request: %w", err)
	}
	for key, val := range headers {
		if key == "Range" {
			continue
		}
		req.Header.Set(key, val)
	}
	if req.Header.Get("User-Agent") == "" {
		req.Header.Set("User-Agent", userAgent)
	}

	resp, err := client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("probe: request failed: %w", err)
	}
	defer drainAndClose(resp)

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("probe: unexpected status code %d", resp.StatusCode)
	}

	result := &Result{SupportsRange: SupportsResume(resp.Header)}
	if size, ok := ExtractContentLength(resp.Header); ok {
		result.FileSize = size
		result.SizeKnown = true
	}

	if filenameHint != "" {
		result.Filename = filenameHint
	} else {
		result.Filename = ExtractFilename(rawURL, resp.Header)
	}
	result.ContentType = resp.Header.Get("Content-Type")
	if etag, ok := ExtractETag(resp.Header); ok {
		result.ETag = etag
	}
	if lm, ok := ExtractLastModified(resp.Header); ok {
		result.LastModified = lm
	}

	utils.Debug("probe: %s filename=%s size=%d range=%v", rawURL, result.Filename, result.FileSize, result.SupportsRange)
	return result, nil
}

func drainAndClose(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
}
