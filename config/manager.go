package config

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"reflect"
	"sync"
	"sync/atomic"
	"time"

	"github.com/fsnotify/fsnotify"

	"github.com/dyike/TradingAgentsGo/pkg/logger"
)

// Manager owns the runtime settings file and notifies on change.
type Manager struct {
	path         string
	mu           sync.RWMutex
	settings     Settings
	watcher      *fsnotify.Watcher
	debounce     time.Duration
	onChange     func(Settings)
	suppressSelf atomic.Bool
	log          *logger.Logger
}

type managerOptions struct {
	settingsPath string
	initial      *Settings
	debounce     time.Duration
}

type ManagerOption func(*managerOptions)

func NewManager(opts ...ManagerOption) (*Manager, error) {
	options := managerOptions{
		debounce: 300 * time.Millisecond,
	}
	for _, opt := range opts {
		opt(&options)
	}
	if options.settingsPath == "" {
		return nil, errors.New("settings path is required")
	}

	if err := os.MkdirAll(filepath.Dir(options.settingsPath), 0o755); err != nil {
		return nil, fmt.Errorf("create settings dir: %w", err)
	}

	s, err := loadOrCreateSettings(options.settingsPath, options)
	if err != nil {
		return nil, err
	}

	return &Manager{
		path:     options.settingsPath,
		settings: s,
		debounce: options.debounce,
		log:      logger.Named("config"),
	}, nil
}

func (m *Manager) Get() Settings {
	m.mu.RLock()
	defer m.mu.RUnlock()
	return m.settings
}

func (m *Manager) Path() string {
	return m.path
}

func (m *Manager) UpdateFromJSON(jsonStr string) error {
	var s Settings
	if err := json.Unmarshal([]byte(jsonStr), &s); err != nil {
		return fmt.Errorf("parse settings json: %w", err)
	}
	return m.Update(s)
}

// Update validates, persists and applies new settings.
func (m *Manager) Update(next Settings) error {
	if err := next.Validate(); err != nil {
		return err
	}

	m.mu.RLock()
	current := m.settings
	m.mu.RUnlock()
	if reflect.DeepEqual(current, next) {
		return nil
	}

	m.suppressSelf.Store(true)
	defer time.AfterFunc(m.debounce, func() { m.suppressSelf.Store(false) })

	if err := writeSettingsFile(m.path, next); err != nil {
		m.suppressSelf.Store(false)
		return err
	}

	m.apply(next)
	return nil
}

// Watch reloads the file on external edits and calls onChange with the
// validated result. Invalid edits are logged and ignored.
func (m *Manager) Watch(ctx context.Context, onChange func(Settings)) error {
	m.mu.Lock()
	m.onChange = onChange
	if m.watcher != nil {
		m.mu.Unlock()
		return nil
	}

	watcher, err := fsnotify.NewWatcher()
	if err != nil {
		m.mu.Unlock()
		return err
	}
	m.watcher = watcher
	debounce := m.debounce
	path := m.path
	m.mu.Unlock()

	if err := watcher.Add(filepath.Dir(path)); err != nil {
		return fmt.Errorf("watch settings dir: %w", err)
	}

	go m.watchLoop(ctx, watcher, path, debounce)
	return nil
}

func (m *Manager) watchLoop(ctx context.Context, watcher *fsnotify.Watcher, path string, debounce time.Duration) {
	defer watcher.Close()

	var timerMu sync.Mutex
	var timer *time.Timer
	trigger := func() {
		timerMu.Lock()
		if timer != nil {
			timer.Stop()
		}
		timer = time.AfterFunc(debounce, m.reloadFromDisk)
		timerMu.Unlock()
	}

	for {
		select {
		case evt, ok := <-watcher.Events:
			if !ok {
				return
			}
			if !isSettingsEvent(evt, path) || m.suppressSelf.Load() {
				continue
			}
			trigger()
		case err, ok := <-watcher.Errors:
			if !ok {
				return
			}
			if err != nil {
				m.log.Warnw("settings watcher error", "error", err)
			}
		case <-ctx.Done():
			return
		}
	}
}

func isSettingsEvent(evt fsnotify.Event, path string) bool {
	if filepath.Clean(evt.Name) != filepath.Clean(path) {
		return false
	}
	return evt.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Rename) != 0
}

func (m *Manager) reloadFromDisk() {
	var s Settings
	if err := loadSettingsFile(m.path, &s); err != nil {
		m.log.Warnw("settings reload failed", "path", m.path, "error", err)
		return
	}
	if err := s.Validate(); err != nil {
		m.log.Warnw("settings validation failed", "path", m.path, "error", err)
		return
	}

	m.mu.RLock()
	current := m.settings
	m.mu.RUnlock()
	if reflect.DeepEqual(current, s) {
		return
	}
	m.log.Infow("settings reloaded", "path", m.path)
	m.apply(s)
}

func (m *Manager) apply(s Settings) {
	m.mu.Lock()
	m.settings = s
	cb := m.onChange
	m.mu.Unlock()

	if cb != nil {
		cb(s)
	}
}

func loadOrCreateSettings(path string, options managerOptions) (Settings, error) {
	var s Settings
	if _, err := os.Stat(path); err == nil {
		if err := loadSettingsFile(path, &s); err != nil {
			return Settings{}, fmt.Errorf("load settings: %w", err)
		}
		if err := s.Validate(); err != nil {
			return Settings{}, err
		}
		return s, nil
	} else if !errors.Is(err, os.ErrNotExist) {
		return Settings{}, fmt.Errorf("stat settings: %w", err)
	}

	if options.initial != nil {
		s = *options.initial
	} else {
		s = SettingsFrom(DefaultConfigWithRoot(filepath.Dir(path)))
	}
	if err := s.Validate(); err != nil {
		return Settings{}, err
	}
	if err := writeSettingsFile(path, s); err != nil {
		return Settings{}, fmt.Errorf("write initial settings: %w", err)
	}
	return s, nil
}

func loadSettingsFile(path string, s *Settings) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	return json.Unmarshal(data, s)
}

func writeSettingsFile(path string, s Settings) error {
	tmpFile, err := os.CreateTemp(filepath.Dir(path), "settings-*.tmp")
	if err != nil {
		return fmt.Errorf("create temp settings: %w", err)
	}
	encoder := json.NewEncoder(tmpFile)
	encoder.SetIndent("", "  ")
	if err := encoder.Encode(&s); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("encode settings: %w", err)
	}
	if err := tmpFile.Sync(); err != nil {
		tmpFile.Close()
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("flush settings: %w", err)
	}
	if err := tmpFile.Close(); err != nil {
		_ = os.Remove(tmpFile.Name())
		return fmt.Errorf("close temp settings: %w", err)
	}
	return os.Rename(tmpFile.Name(), path)
}

func WithSettingsPath(path string) ManagerOption {
	return func(o *managerOptions) {
		if path != "" {
			o.settingsPath = path
		}
	}
}

func WithSettingsDir(dir string) ManagerOption {
	return func(o *managerOptions) {
		if dir != "" {
			o.settingsPath = filepath.Join(dir, "settings.json")
		}
	}
}

func WithDebounce(d time.Duration) ManagerOption {
	return func(o *managerOptions) {
		if d > 0 {
			o.debounce = d
		}
	}
}

func WithInitialSettings(s *Settings) ManagerOption {
	return func(o *managerOptions) {
		o.initial = s
	}
}
