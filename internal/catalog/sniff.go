package catalog

import (
	"fmt"
	"os"

	"github.com/h2non/filetype"
)

// sniffHeaderSize is how many leading bytes of a completed file are read to
// guess its content type when the server never sent one.
const sniffHeaderSize = 261 // filetype only ever inspects up to this many bytes

// SniffContentType reads the first bytes of the file at path and returns a
// best-guess MIME type. Used as a fallback to fill content_type when a probe
// or resume left it empty, matching the h2non/filetype signature-matching
// approach rather than trusting a possibly-missing server header.
func SniffContentType(path string) (string, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", fmt.Errorf("catalog: sniffing %s: %w", path, err)
	}
	defer f.Close()

	buf := make([]byte, sniffHeaderSize)
	n, err := f.Read(buf)
	if err != nil && n == 0 {
		return "", fmt.Errorf("catalog: reading header of %s: %w", path, err)
	}

	kind, err := filetype.Match(buf[:n])
	if err != nil || kind == filetype.Unknown {
		return "application/octet-stream", nil
	}
	return kind.MIME.Value, nil
}
