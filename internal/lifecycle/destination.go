package lifecycle

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/surge-downloader/surge-core/internal/config"
	"github.com/surge-downloader/surge-core/internal/errs"
)

// resolveDestination checks path for a collision and applies the configured
// conflict action when one exists. A missing path is returned unchanged
// regardless of action.
func resolveDestination(path string, action config.ConflictAction) (string, error) {
	_, err := os.Stat(path)
	if os.IsNotExist(err) {
		return path, nil
	}
	if err != nil {
		return "", fmt.Errorf("lifecycle: checking destination %s: %w", path, err)
	}

	switch action {
	case config.ConflictOverwrite:
		return path, nil
	case config.ConflictSkip:
		return "", errs.ErrDestinationExists
	case config.ConflictAsk:
		return "", errs.ErrConflictNeedsPrompt
	default:
		return renameUntilFree(path), nil
	}
}

// renameUntilFree appends " (n)" before the extension, starting at 1, until
// it finds a path that doesn't exist.
func renameUntilFree(path string) string {
	dir := filepath.Dir(path)
	ext := filepath.Ext(path)
	base := strings.TrimSuffix(filepath.Base(path), ext)

	for i := 1; ; i++ {
		candidate := filepath.Join(dir, fmt.Sprintf("%s (%d)%s", base, i, ext))
		if _, err := os.Stat(candidate); os.IsNotExist(err) {
			return candidate
		}
	}
}
