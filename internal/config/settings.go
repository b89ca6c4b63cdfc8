// Package config holds the user-configurable Settings tree the lifecycle
// manager and its front ends read from and write to, serialized to JSON at
// <app-data-dir>/settings.json with clamp-on-load semantics: downstream code
// assumes ranges like NumThreads in [1, 64] and never re-validates them.
package config

import (
	"encoding/json"
	"os"
	"path/filepath"
)

// Settings is the full nested settings tree.
type Settings struct {
	App       AppSettings       `json:"app"`
	Shortcuts ShortcutSettings  `json:"shortcuts"`
	Download  DownloadSettings  `json:"download"`
	Network   NetworkSettings   `json:"network"`
	Session   SessionSettings   `json:"session"`
}

// AppSettings covers application-level behavior that doesn't belong to any
// one download.
type AppSettings struct {
	Theme           string `json:"theme"` // "system", "light", "dark"
	SkipUpdateCheck bool   `json:"skip_update_check"`
}

// ShortcutSettings maps named actions to key chords; the core never
// interprets these itself, it only persists whatever the shell front end
// reads back.
type ShortcutSettings struct {
	Bindings map[string]string `json:"bindings"`
}

// ConflictAction describes what to do when a destination filename is
// already taken.
type ConflictAction string

const (
	ConflictRename    ConflictAction = "rename"
	ConflictOverwrite ConflictAction = "overwrite"
	ConflictSkip      ConflictAction = "skip"
	ConflictAsk       ConflictAction = "ask"
)

// DownloadSettings configures how the lifecycle manager and worker pool
// schedule and place new downloads.
type DownloadSettings struct {
	Location       string         `json:"location"`
	NumThreads     int            `json:"num_threads"`     // clamped to [1, 64]
	MaxConcurrent  int            `json:"max_concurrent"`  // clamped to [0, 32]; 0 = unlimited
	SpeedLimit     uint64         `json:"speed_limit"`     // bytes/sec, 0 = unlimited
	ConflictAction ConflictAction `json:"conflict_action"`
}

// UserAgentPreset selects a canned User-Agent string; see internal/httpclient.
type UserAgentPreset string

const (
	UserAgentChrome  UserAgentPreset = "chrome"
	UserAgentFirefox UserAgentPreset = "firefox"
	UserAgentEdge    UserAgentPreset = "edge"
	UserAgentSafari  UserAgentPreset = "safari"
	UserAgentCustom  UserAgentPreset = "custom"
)

// ProxyType enumerates the proxy protocols internal/httpclient supports.
type ProxyType string

const (
	ProxyHTTP   ProxyType = "http"
	ProxyHTTPS  ProxyType = "https"
	ProxySOCKS5 ProxyType = "socks5"
)

// ProxySettings mirrors httpclient.ProxySettings, kept as its own type here
// so this package has no import-time dependency on httpclient.
type ProxySettings struct {
	Enabled     bool      `json:"enabled"`
	Type        ProxyType `json:"type"`
	Host        string    `json:"host"`
	Port        int       `json:"port"`
	AuthEnabled bool      `json:"auth_enabled"`
	Username    string    `json:"username"`
	Password    string    `json:"password"`
}

// NetworkSettings configures the HTTP client factory and worker retry policy.
type NetworkSettings struct {
	UserAgentPreset UserAgentPreset `json:"user_agent"`
	CustomUserAgent string          `json:"custom_user_agent"`
	ConnectTimeout  int             `json:"connect_timeout"` // seconds, clamped to [1, 300]
	ReadTimeout     int             `json:"read_timeout"`    // seconds, clamped to [1, 300]
	RetryCount      int             `json:"retry_count"`     // clamped to [0, 10]
	RetryDelayMs    int             `json:"retry_delay_ms"`
	AllowInsecure   bool            `json:"allow_insecure"`
	Proxy           ProxySettings   `json:"proxy"`
}

// SessionSettings holds the session.history and session.metadata flags. They
// are loaded, saved and served with the rest of the settings; the lifecycle
// manager does not read them: catalog history is always kept, and journals
// are always deleted once a download completes or is cancelled.
type SessionSettings struct {
	History  bool `json:"history"`
	Metadata bool `json:"metadata"`
}

// DefaultSettings returns a Settings tree with sensible, already-clamped
// defaults. The download location defaults to ~/Downloads.
func DefaultSettings() *Settings {
	homeDir, _ := os.UserHomeDir()

	return &Settings{
		App: AppSettings{
			Theme:           "system",
			SkipUpdateCheck: false,
		},
		Shortcuts: ShortcutSettings{
			Bindings: map[string]string{},
		},
		Download: DownloadSettings{
			Location:       filepath.Join(homeDir, "Downloads"),
			NumThreads:     4,
			MaxConcurrent:  3,
			SpeedLimit:     0,
			ConflictAction: ConflictRename,
		},
		Network: NetworkSettings{
			UserAgentPreset: UserAgentChrome,
			ConnectTimeout:  10,
			ReadTimeout:     300,
			RetryCount:      3,
			RetryDelayMs:    500,
			AllowInsecure:   false,
			Proxy:           ProxySettings{Type: ProxyHTTP},
		},
		Session: SessionSettings{
			History:  true,
			Metadata: true,
		},
	}
}

// clampInt returns v clamped into [lo, hi].
func clampInt(v, lo, hi int) int {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

// Clamp enforces every documented range invariant in place. It is called
// after every load (from disk or from a partial update) so the rest of the
// engine never has to re-check a setting's range before trusting it.
func (s *Settings) Clamp() {
	s.Download.NumThreads = clampInt(s.Download.NumThreads, 1, 64)
	s.Download.MaxConcurrent = clampInt(s.Download.MaxConcurrent, 0, 32)

	switch s.Download.ConflictAction {
	case ConflictRename, ConflictOverwrite, ConflictSkip, ConflictAsk:
	default:
		s.Download.ConflictAction = ConflictRename
	}

	s.Network.ConnectTimeout = clampInt(s.Network.ConnectTimeout, 1, 300)
	s.Network.ReadTimeout = clampInt(s.Network.ReadTimeout, 1, 300)
	s.Network.RetryCount = clampInt(s.Network.RetryCount, 0, 10)
	if s.Network.RetryDelayMs < 0 {
		s.Network.RetryDelayMs = 0
	}

	switch s.Network.UserAgentPreset {
	case UserAgentChrome, UserAgentFirefox, UserAgentEdge, UserAgentSafari, UserAgentCustom:
	default:
		s.Network.UserAgentPreset = UserAgentChrome
	}

	switch s.Network.Proxy.Type {
	case ProxyHTTP, ProxyHTTPS, ProxySOCKS5:
	default:
		s.Network.Proxy.Type = ProxyHTTP
	}
	if s.Network.Proxy.Port < 0 || s.Network.Proxy.Port > 65535 {
		s.Network.Proxy.Port = 0
	}

	if s.Shortcuts.Bindings == nil {
		s.Shortcuts.Bindings = map[string]string{}
	}
}

// SettingsPath returns the path to the settings JSON file under dir (an
// app-data directory the caller resolves).
func SettingsPath(dir string) string {
	return filepath.Join(dir, "settings.json")
}

// Load reads settings from path, merging onto DefaultSettings so a partial
// or older-version file still yields a complete, clamped Settings. A
// missing file is not an error: it yields the defaults.
func Load(path string) (*Settings, error) {
	s := DefaultSettings()

	data, err := os.ReadFile(path)
	if err != nil {
		if os.IsNotExist(err) {
			return s, nil
		}
		return nil, err
	}

	if err := json.Unmarshal(data, s); err != nil {
		return nil, err
	}
	s.Clamp()
	return s, nil
}

// Save writes s to path atomically (temp file + rename), clamping first so
// an out-of-range value never reaches disk.
func Save(path string, s *Settings) error {
	s.Clamp()

	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return err
	}

	data, err := json.MarshalIndent(s, "", "  ")
	if err != nil {
		return err
	}

	tempPath := path + ".tmp"
	if err := os.WriteFile(tempPath, data, 0644); err != nil {
		return err
	}
	return os.Rename(tempPath, path)
}

// SetDotted applies a single dotted-key update (e.g. "download.num_threads")
// against a JSON-encodable value, round-tripping through JSON so the caller
// can pass any json.Unmarshal-compatible value without this package needing
// per-field setters. A path whose intermediate segments don't name existing
// objects is rejected rather than silently creating them; new leaf keys are
// allowed only under open maps like shortcuts.bindings (anywhere else the
// final unmarshal back into Settings drops them).
func (s *Settings) SetDotted(dottedKey string, value any) error {
	raw, err := json.Marshal(s)
	if err != nil {
		return err
	}

	var tree map[string]any
	if err := json.Unmarshal(raw, &tree); err != nil {
		return err
	}

	if err := setDottedPath(tree, dottedKey, value); err != nil {
		return err
	}

	merged, err := json.Marshal(tree)
	if err != nil {
		return err
	}

	next := DefaultSettings()
	if err := json.Unmarshal(merged, next); err != nil {
		return err
	}
	next.Clamp()
	*s = *next
	return nil
}

func setDottedPath(tree map[string]any, dottedKey string, value any) error {
	parts := splitDotted(dottedKey)
	cur := tree
	for i, p := range parts {
		if i == len(parts)-1 {
			cur[p] = value
			return nil
		}
		next, ok := cur[p]
		if !ok {
			return &invalidDottedKeyError{dottedKey}
		}
		nm, ok := next.(map[string]any)
		if !ok {
			return &invalidDottedKeyError{dottedKey}
		}
		cur = nm
	}
	return nil
}

func splitDotted(key string) []string {
	var parts []string
	start := 0
	for i := 0; i < len(key); i++ {
		if key[i] == '.' {
			parts = append(parts, key[start:i])
			start = i + 1
		}
	}
	parts = append(parts, key[start:])
	return parts
}

type invalidDottedKeyError struct{ key string }

func (e *invalidDottedKeyError) Error() string {
	return "config: invalid dotted key path: " + e.key
}
