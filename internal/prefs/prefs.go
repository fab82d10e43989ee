// Package prefs handles alloclog view preferences persistence.
// Preferences are stored in ~/.config/alloclog/prefs.toml.
package prefs

import (
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/bep/debounce"
	toml "github.com/pelletier/go-toml/v2"
	"github.com/pkg/errors"
)

// Prefs holds user preferences for the log viewer.
type Prefs struct {
	Theme     string `toml:"theme"`
	Wrap      bool   `toml:"wrap"`
	LogType   string `toml:"log_type"`
	ShowStats bool   `toml:"show_stats"`
}

const (
	defaultPrefsPath = "~/.config/alloclog/prefs.toml"
	defaultTheme     = "Nightfox"
	defaultLogType   = "stdout"

	// SaveDelay is how long Store waits for further changes before writing.
	SaveDelay = 500 * time.Millisecond
)

// Defaults returns the preferences used when nothing is stored.
func Defaults() Prefs {
	return Prefs{Theme: defaultTheme, Wrap: true, LogType: defaultLogType, ShowStats: true}
}

// DefaultPath returns the default preferences file path.
func DefaultPath() string {
	return defaultPrefsPath
}

// Load reads preferences from the given path, falling back to defaults if missing.
func Load(path string) (Prefs, error) {
	prefs := Defaults()

	resolved, err := resolvePath(path)
	if err != nil {
		return prefs, nil
	}

	file, err := os.Open(resolved)
	if err != nil {
		return prefs, nil // Graceful degradation
	}
	defer func() { _ = file.Close() }()

	bytes, err := io.ReadAll(file)
	if err != nil {
		return prefs, nil // Graceful degradation
	}

	if err := toml.Unmarshal(bytes, &prefs); err != nil {
		return Defaults(), nil // Graceful degradation
	}
	return normalize(prefs), nil
}

// Save writes preferences to the given path, creating directories as needed.
func Save(path string, p Prefs) error {
	resolved, err := resolvePath(path)
	if err != nil {
		return errors.Wrap(err, "resolve path")
	}

	dir := filepath.Dir(resolved)
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create prefs dir")
	}

	bytes, err := toml.Marshal(p)
	if err != nil {
		return errors.Wrap(err, "marshal prefs")
	}

	if err := os.WriteFile(resolved, bytes, 0o644); err != nil {
		return errors.Wrap(err, "write prefs")
	}

	return nil
}

func normalize(p Prefs) Prefs {
	if strings.TrimSpace(p.Theme) == "" {
		p.Theme = defaultTheme
	}
	switch strings.ToLower(strings.TrimSpace(p.LogType)) {
	case "stderr":
		p.LogType = "stderr"
	default:
		p.LogType = defaultLogType
	}
	return p
}

// Store keeps the current preferences in memory and writes them back a
// short while after the last change.
type Store struct {
	path     string
	debounce func(f func())

	mu    sync.Mutex
	prefs Prefs
	dirty bool
	err   error
}

// NewStore loads preferences from path and returns a store that persists
// changes there.
func NewStore(path string) *Store {
	p, _ := Load(path)
	return &Store{
		path:     path,
		prefs:    p,
		debounce: debounce.New(SaveDelay),
	}
}

// Prefs returns the current preferences.
func (s *Store) Prefs() Prefs {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.prefs
}

// Update applies fn to the preferences and schedules a save when anything
// changed.
func (s *Store) Update(fn func(*Prefs)) {
	s.mu.Lock()
	next := s.prefs
	fn(&next)
	next = normalize(next)
	changed := next != s.prefs
	if changed {
		s.prefs = next
		s.dirty = true
	}
	s.mu.Unlock()

	if changed {
		s.debounce(func() { _ = s.Flush() })
	}
}

// Flush writes pending changes now.
func (s *Store) Flush() error {
	s.mu.Lock()
	if !s.dirty {
		s.mu.Unlock()
		return nil
	}
	p := s.prefs
	s.dirty = false
	s.mu.Unlock()

	err := Save(s.path, p)
	s.mu.Lock()
	s.err = err
	if err != nil {
		s.dirty = true
	}
	s.mu.Unlock()
	return err
}

// Err returns the error of the last write, if any.
func (s *Store) Err() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.err
}

func resolvePath(path string) (string, error) {
	if strings.TrimSpace(path) == "" {
		return expandPath(defaultPrefsPath)
	}
	return expandPath(path)
}

func expandPath(path string) (string, error) {
	trimmed := strings.TrimSpace(path)
	if trimmed == "" {
		return "", errors.New("path is empty")
	}
	if strings.HasPrefix(trimmed, "~") {
		home, err := os.UserHomeDir()
		if err != nil {
			return "", errors.Wrap(err, "resolve home dir")
		}
		trimmed = filepath.Join(home, strings.TrimPrefix(trimmed, "~"))
	}
	return filepath.Abs(trimmed)
}
