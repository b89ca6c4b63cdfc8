package probe

import (
	"net/http"
	"net/url"
	"path"
	"strconv"
	"strings"

	"github.com/vfaronov/httpheader"
)

// ExtractFilename pulls a filename from Content-Disposition, falling back to
// the last path segment of the request URL, and finally to "download" if
// even that is empty (the URL has no path, or only "/"). A trailing slash is
// dropped first, so ".../dir/" yields "dir".
func ExtractFilename(rawURL string, header http.Header) string {
	if _, name, err := httpheader.ContentDisposition(header); err == nil && name != "" {
		return path.Base(name)
	}
	return ExtractFilenameFromURL(rawURL)
}

// ExtractFilenameFromURL derives a filename from a URL's path when the
// server gave no Content-Disposition header.
func ExtractFilenameFromURL(rawURL string) string {
	parsed, err := url.Parse(rawURL)
	if err != nil {
		return "download"
	}
	name := path.Base(parsed.Path)
	if name == "" || name == "." || name == "/" {
		return "download"
	}
	return name
}

// ExtractContentLength parses Content-Length, returning ok=false if absent
// or unparseable.
func ExtractContentLength(header http.Header) (size int64, ok bool) {
	v := header.Get("Content-Length")
	if v == "" {
		return 0, false
	}
	n, err := strconv.ParseInt(v, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}

// ExtractETag returns the ETag header with surrounding quotes stripped.
func ExtractETag(header http.Header) (string, bool) {
	v := header.Get("ETag")
	if v == "" {
		return "", false
	}
	return strings.Trim(v, `"`), true
}

// ExtractLastModified returns the raw Last-Modified header value.
func ExtractLastModified(header http.Header) (string, bool) {
	v := header.Get("Last-Modified")
	if v == "" {
		return "", false
	}
	return v, true
}

// SupportsResume reports whether the server advertises byte-range support.
func SupportsResume(header http.Header) bool {
	return strings.EqualFold(header.Get("Accept-Ranges"), "bytes")
}

// ParseContentRangeSize parses the total-size component of a Content-Range
// response header ("bytes 0-0/12345"), returning ok=false if the total is
// unknown ("*") or the header is malformed.
func ParseContentRangeSize(contentRange string) (size int64, ok bool) {
	idx := strings.LastIndex(contentRange, "/")
	if idx == -1 {
		return 0, false
	}
	sizeStr := contentRange[idx+1:]
	if sizeStr == "*" {
		return 0, false
	}
	n, err := strconv.ParseInt(sizeStr, 10, 64)
	if err != nil {
		return 0, false
	}
	return n, true
}
