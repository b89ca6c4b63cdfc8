// Package cmd is the thin Cobra front end around the engine: it wires
// internal/lifecycle.Manager to a sqlite catalog and a journal directory
// under the user's app-data directory, and exposes it as either a one-shot
// "get" download or a background "server" exposing internal/api over HTTP.
// Argument parsing and terminal rendering live here, outside the engine;
// this package never touches coordinator, worker, or journal internals
// directly.
package cmd

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/surge-downloader/surge-core/internal/catalog"
	"github.com/surge-downloader/surge-core/internal/config"
	"github.com/surge-downloader/surge-core/internal/lifecycle"
)

// Version is stamped at release time.
var Version = "dev"

// appDataDir resolves the directory the catalog, journals, settings, PID
// file, port file, and auth token all live under, honoring XDG_CONFIG_HOME
// and falling back to ~/.surge-core.
func appDataDir() (string, error) {
	if xdg := os.Getenv("XDG_CONFIG_HOME"); xdg != "" {
		return filepath.Join(xdg, "surge-core"), nil
	}
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("cmd: resolving home directory: %w", err)
	}
	return filepath.Join(home, ".surge-core"), nil
}

// app bundles the long-lived pieces a Cobra command needs: the lifecycle
// manager and the catalog store it was built from, so callers can Close the
// store on the way out.
type app struct {
	dir     string
	mgr     *lifecycle.Manager
	catalog *catalog.Store
}

// newApp opens the catalog, loads settings, and constructs a Manager rooted
// at the resolved app-data directory, creating it and its metadata
// subdirectory if they don't yet exist.
func newApp() (*app, error) {
	dir, err := appDataDir()
	if err != nil {
		return nil, err
	}

	journalDir := filepath.Join(dir, "metadata")
	if err := os.MkdirAll(journalDir, 0755); err != nil {
		return nil, fmt.Errorf("cmd: creating metadata directory: %w", err)
	}

	settingsPath := config.SettingsPath(dir)
	settings, err := config.Load(settingsPath)
	if err != nil {
		return nil, fmt.Errorf("cmd: loading settings: %w", err)
	}

	store, err := catalog.Open(filepath.Join(dir, "catalog.db"))
	if err != nil {
		return nil, fmt.Errorf("cmd: opening catalog: %w", err)
	}

	mgr := lifecycle.New(store, journalDir, settingsPath, settings)
	return &app{dir: dir, mgr: mgr, catalog: store}, nil
}

func (a *app) Close() error {
	return a.catalog.Close()
}
