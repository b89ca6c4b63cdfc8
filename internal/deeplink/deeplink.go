// Package deeplink parses the tur://download deep-link URL shape into its
// constituent download request fields. It is a pure function: dispatching
// the OS to register the scheme, or wiring a GUI's "Open With" handler to it,
// is owned by the shell embedding this engine, not by this package.
package deeplink

import (
	"fmt"
	"net/url"
	"strconv"
)

// Request is the parsed contents of a tur://download deep link.
type Request struct {
	URL      string
	Filename string // empty if the link carried no filename hint
	Size     int64  // 0 if the link carried no size hint
	HasSize  bool
}

// Parse parses a tur://download?url=<pct-encoded>&filename=<name>&size=<bytes>
// deep link. The url query parameter is required; filename and size are
// optional hints.
func Parse(raw string) (Request, error) {
	parsed, err := url.Parse(raw)
	if err != nil {
		return Request{}, fmt.Errorf("deeplink: invalid URL: %w", err)
	}

	query := parsed.Query()
	srcURL := query.Get("url")
	if srcURL == "" {
		return Request{}, fmt.Errorf("deeplink: missing required url parameter")
	}
	if _, err := url.Parse(srcURL); err != nil {
		return Request{}, fmt.Errorf("deeplink: url parameter is not a valid URL: %w", err)
	}

	req := Request{URL: srcURL, Filename: query.Get("filename")}

	if sizeStr := query.Get("size"); sizeStr != "" {
		size, err := strconv.ParseInt(sizeStr, 10, 64)
		if err == nil && size >= 0 {
			req.Size = size
			req.HasSize = true
		}
	}

	return req, nil
}
