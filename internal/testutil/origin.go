// Package testutil provides the simulated origin servers the engine's tests
// download from: configurable range support, validators, and per-byte
// latency, so tests can exercise pause/resume, restart-from-zero, and rate
// behavior without a real network.
package testutil

import (
	"fmt"
	"net"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"
)

// Origin is an in-memory HTTP origin serving one deterministic file. It
// honors Range requests with 206 when range support is on, ignores them with
// a plain 200 otherwise, and lets a test swap the advertised ETag or
// Last-Modified between sessions to trigger the engine's restart-from-zero
// path.
type Origin struct {
	Server *httptest.Server

	rangeSupport bool
	filename     string
	contentType  string
	byteLatency  time.Duration

	mu           sync.Mutex
	etag         string
	lastModified string

	data []byte

	// RequestCount and RangeRequests count every request and the subset
	// that carried a Range header, for assertions about worker behavior.
	RequestCount  atomic.Int64
	RangeRequests atomic.Int64
}

// OriginOption configures an Origin before it starts serving.
type OriginOption func(*Origin)

// WithFileSize sets the size of the served file. The content is a
// deterministic byte pattern, so two downloads of the same Origin always
// produce identical files.
func WithFileSize(size int64) OriginOption {
	return func(o *Origin) {
		o.data = make([]byte, size)
		for i := range o.data {
			o.data[i] = byte(i*31 + i>>8)
		}
	}
}

// WithRangeSupport controls whether the origin honors Range requests (206)
// or ignores them (200, full body).
func WithRangeSupport(enabled bool) OriginOption {
	return func(o *Origin) { o.rangeSupport = enabled }
}

// WithFilename advertises a Content-Disposition filename.
func WithFilename(name string) OriginOption {
	return func(o *Origin) { o.filename = name }
}

// WithContentType sets the Content-Type header (default application/octet-stream).
func WithContentType(ct string) OriginOption {
	return func(o *Origin) { o.contentType = ct }
}

// WithByteLatency slows the response body down to roughly one write per
// chunk with d delay per byte, so a test can pause a download mid-flight.
func WithByteLatency(d time.Duration) OriginOption {
	return func(o *Origin) { o.byteLatency = d }
}

// WithETag sets the advertised ETag validator.
func WithETag(etag string) OriginOption {
	return func(o *Origin) { o.etag = etag }
}

// WithLastModified sets the advertised Last-Modified validator.
func WithLastModified(lm string) OriginOption {
	return func(o *Origin) { o.lastModified = lm }
}

// NewOriginT starts an Origin bound to an IPv4 loopback listener (IPv6
// listeners are unavailable in some sandboxed CI environments), skipping the
// test if no listener can be bound. The server is closed automatically when
// the test finishes.
func NewOriginT(t *testing.T, opts ...OriginOption) *Origin {
	t.Helper()

	o := &Origin{
		rangeSupport: true,
		contentType:  "application/octet-stream",
		etag:         "origin-v1",
	}
	WithFileSize(1024)(o)
	for _, opt := range opts {
		opt(o)
	}

	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Skipf("tcp4 listener unavailable: %v", err)
		return nil
	}
	o.Server = &httptest.Server{
		Listener: ln,
		Config:   &http.Server{Handler: http.HandlerFunc(o.handle)},
	}
	o.Server.Start()
	t.Cleanup(o.Close)
	return o
}

// URL returns the origin's base URL.
func (o *Origin) URL() string { return o.Server.URL }

// Close shuts the origin down.
func (o *Origin) Close() { o.Server.Close() }

// Data returns the full file content the origin serves, for byte-level
// comparison against a completed download.
func (o *Origin) Data() []byte { return o.data }

// Size returns the served file's size in bytes.
func (o *Origin) Size() int64 { return int64(len(o.data)) }

// SetETag swaps the advertised ETag, simulating the remote object changing
// between a pause and a resume.
func (o *Origin) SetETag(etag string) {
	o.mu.Lock()
	o.etag = etag
	o.mu.Unlock()
}

// SetLastModified swaps the advertised Last-Modified validator.
func (o *Origin) SetLastModified(lm string) {
	o.mu.Lock()
	o.lastModified = lm
	o.mu.Unlock()
}

func (o *Origin) handle(w http.ResponseWriter, r *http.Request) {
	o.RequestCount.Add(1)

	o.mu.Lock()
	etag, lastModified := o.etag, o.lastModified
	o.mu.Unlock()

	h := w.Header()
	h.Set("Content-Type", o.contentType)
	if o.rangeSupport {
		h.Set("Accept-Ranges", "bytes")
	}
	if o.filename != "" {
		h.Set("Content-Disposition", fmt.Sprintf(`attachment; filename="%s"`, o.filename))
	}
	if etag != "" {
		h.Set("ETag", `"`+etag+`"`)
	}
	if lastModified != "" {
		h.Set("Last-Modified", lastModified)
	}

	start, end := int64(0), o.Size()-1
	status := http.StatusOK

	if rangeHeader := r.Header.Get("Range"); rangeHeader != "" && o.rangeSupport {
		o.RangeRequests.Add(1)
		var err error
		start, end, err = parseByteRange(rangeHeader, o.Size())
		if err != nil {
			h.Set("Content-Range", fmt.Sprintf("bytes */%d", o.Size()))
			w.WriteHeader(http.StatusRequestedRangeNotSatisfiable)
			return
		}
		h.Set("Content-Range", fmt.Sprintf("bytes %d-%d/%d", start, end, o.Size()))
		status = http.StatusPartialContent
	}

	h.Set("Content-Length", strconv.FormatInt(end-start+1, 10))
	w.WriteHeader(status)
	if r.Method == http.MethodHead {
		return
	}

	body := o.data[start : end+1]
	if o.byteLatency == 0 {
		_, _ = w.Write(body)
		return
	}

	// Dribble the body out in small chunks so the transfer stays in flight
	// long enough for a test to pause or cancel it.
	const chunk = 4 * 1024
	flusher, _ := w.(http.Flusher)
	for off := 0; off < len(body); off += chunk {
		limit := off + chunk
		if limit > len(body) {
			limit = len(body)
		}
		if _, err := w.Write(body[off:limit]); err != nil {
			return
		}
		if flusher != nil {
			flusher.Flush()
		}
		time.Sleep(o.byteLatency * time.Duration(limit-off))
	}
}

// parseByteRange parses a single "bytes=a-b" range spec against size,
// handling the open-ended "bytes=a-" and suffix "bytes=-n" forms.
func parseByteRange(spec string, size int64) (start, end int64, err error) {
	spec = strings.TrimPrefix(spec, "bytes=")
	if strings.Contains(spec, ",") {
		return 0, 0, fmt.Errorf("multi-range requests not supported: %q", spec)
	}
	dash := strings.IndexByte(spec, '-')
	if dash < 0 {
		return 0, 0, fmt.Errorf("malformed range: %q", spec)
	}

	first, last := spec[:dash], spec[dash+1:]
	if first == "" {
		// Suffix form: last n bytes.
		n, perr := strconv.ParseInt(last, 10, 64)
		if perr != nil || n <= 0 {
			return 0, 0, fmt.Errorf("malformed suffix range: %q", spec)
		}
		if n > size {
			n = size
		}
		return size - n, size - 1, nil
	}

	start, err = strconv.ParseInt(first, 10, 64)
	if err != nil || start < 0 || start >= size {
		return 0, 0, fmt.Errorf("range start out of bounds: %q", spec)
	}
	end = size - 1
	if last != "" {
		end, err = strconv.ParseInt(last, 10, 64)
		if err != nil || end < start {
			return 0, 0, fmt.Errorf("malformed range end: %q", spec)
		}
		if end >= size {
			end = size - 1
		}
	}
	return start, end, nil
}
