package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"
	"gopkg.in/yaml.v3"
)

const (
	DefaultPollInterval   = 30 * time.Second
	DefaultRequestTimeout = 3 * time.Second
)

// ErrEntryNotFound is returned when an entry id is not configured
var ErrEntryNotFound = errors.New("config entry not found")

// HomeConfig is the location used as default for location-based integrations
type HomeConfig struct {
	Name      string  `yaml:"name"`
	Latitude  float64 `yaml:"latitude"`
	Longitude float64 `yaml:"longitude"`
}

// Entry is one configured integration instance
type Entry struct {
	EntryID string                 `yaml:"entry_id" json:"entry_id"`
	Domain  string                 `yaml:"domain" json:"domain"`
	Title   string                 `yaml:"title" json:"title"`
	Data    map[string]interface{} `yaml:"data" json:"data"`
}

// IntegrationsConfig represents the integrations.yaml structure
type IntegrationsConfig struct {
	Home           HomeConfig    `yaml:"home"`
	PollInterval   time.Duration `yaml:"poll_interval"`
	RequestTimeout time.Duration `yaml:"request_timeout"`
	Entries        []Entry       `yaml:"entries"`
}

// Loader manages loading integrations.yaml and writing entry changes back
type Loader struct {
	path   string
	logger *zap.Logger

	mu     sync.RWMutex
	config IntegrationsConfig
}

// NewLoader creates a new configuration loader
func NewLoader(path string, logger *zap.Logger) *Loader {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Loader{
		path:   path,
		logger: logger,
		config: withDefaults(IntegrationsConfig{}),
	}
}

// Path returns the file the loader reads and writes
func (l *Loader) Path() string {
	return l.path
}

// Load reads the configuration file. A missing file yields an empty
// configuration so entries can be created from scratch.
func (l *Loader) Load() error {
	l.logger.Debug("Loading integrations config", zap.String("path", l.path))

	data, err := os.ReadFile(l.path)
	if errors.Is(err, os.ErrNotExist) {
		l.logger.Info("No integrations config found, starting empty", zap.String("path", l.path))
		l.mu.Lock()
		l.config = withDefaults(IntegrationsConfig{})
		l.mu.Unlock()
		return nil
	}
	if err != nil {
		return fmt.Errorf("failed to read integrations config: %w", err)
	}

	var config IntegrationsConfig
	if err := yaml.Unmarshal(data, &config); err != nil {
		return fmt.Errorf("failed to parse integrations config: %w", err)
	}

	seen := make(map[string]bool)
	for i, entry := range config.Entries {
		if entry.Domain == "" {
			return fmt.Errorf("entry %d has no domain", i)
		}
		if entry.EntryID == "" {
			config.Entries[i].EntryID = uuid.New().String()
		}
		if seen[config.Entries[i].EntryID] {
			return fmt.Errorf("duplicate entry id %q", config.Entries[i].EntryID)
		}
		seen[config.Entries[i].EntryID] = true
		if entry.Data == nil {
			config.Entries[i].Data = make(map[string]interface{})
		}
	}

	l.mu.Lock()
	l.config = withDefaults(config)
	l.mu.Unlock()

	l.logger.Info("Integrations config loaded successfully",
		zap.Int("entries", len(config.Entries)),
		zap.Duration("poll_interval", l.PollInterval()))
	return nil
}

// Save writes the configuration back to disk
func (l *Loader) Save() error {
	l.mu.RLock()
	data, err := yaml.Marshal(&l.config)
	l.mu.RUnlock()
	if err != nil {
		return fmt.Errorf("failed to encode integrations config: %w", err)
	}

	if err := os.MkdirAll(filepath.Dir(l.path), 0o755); err != nil {
		return fmt.Errorf("failed to create config dir: %w", err)
	}

	tmp := l.path + ".tmp"
	if err := os.WriteFile(tmp, data, 0o644); err != nil {
		return fmt.Errorf("failed to write integrations config: %w", err)
	}
	if err := os.Rename(tmp, l.path); err != nil {
		return fmt.Errorf("failed to replace integrations config: %w", err)
	}
	return nil
}

// Home returns the configured home location
func (l *Loader) Home() HomeConfig {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config.Home
}

// PollInterval returns how often entities are polled
func (l *Loader) PollInterval() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config.PollInterval
}

// RequestTimeout returns the per-request timeout for device clients
func (l *Loader) RequestTimeout() time.Duration {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.config.RequestTimeout
}

// AllEntries returns a copy of every configured entry
func (l *Loader) AllEntries() []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	entries := make([]Entry, 0, len(l.config.Entries))
	for _, entry := range l.config.Entries {
		entries = append(entries, entry.clone())
	}
	return entries
}

// Entries returns a copy of the entries of one domain
func (l *Loader) Entries(domain string) []Entry {
	l.mu.RLock()
	defer l.mu.RUnlock()

	var entries []Entry
	for _, entry := range l.config.Entries {
		if entry.Domain == domain {
			entries = append(entries, entry.clone())
		}
	}
	return entries
}

// AddEntry stores a new entry, assigning an id when it has none, and saves
func (l *Loader) AddEntry(entry Entry) (Entry, error) {
	if entry.Domain == "" {
		return Entry{}, fmt.Errorf("entry has no domain")
	}
	if entry.EntryID == "" {
		entry.EntryID = uuid.New().String()
	}
	entry = entry.clone()

	l.mu.Lock()
	for _, existing := range l.config.Entries {
		if existing.EntryID == entry.EntryID {
			l.mu.Unlock()
			return Entry{}, fmt.Errorf("duplicate entry id %q", entry.EntryID)
		}
	}
	l.config.Entries = append(l.config.Entries, entry)
	l.mu.Unlock()

	if err := l.Save(); err != nil {
		return Entry{}, err
	}
	l.logger.Info("Config entry added",
		zap.String("entry_id", entry.EntryID),
		zap.String("domain", entry.Domain),
		zap.String("title", entry.Title))
	return entry.clone(), nil
}

// UpdateEntryData replaces the data of an entry and saves
func (l *Loader) UpdateEntryData(entryID string, data map[string]interface{}) error {
	l.mu.Lock()
	found := false
	for i := range l.config.Entries {
		if l.config.Entries[i].EntryID == entryID {
			l.config.Entries[i].Data = copyData(data)
			found = true
			break
		}
	}
	l.mu.Unlock()

	if !found {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	return l.Save()
}

// RemoveEntry deletes an entry and saves
func (l *Loader) RemoveEntry(entryID string) error {
	l.mu.Lock()
	index := -1
	for i := range l.config.Entries {
		if l.config.Entries[i].EntryID == entryID {
			index = i
			break
		}
	}
	if index >= 0 {
		l.config.Entries = append(l.config.Entries[:index], l.config.Entries[index+1:]...)
	}
	l.mu.Unlock()

	if index < 0 {
		return fmt.Errorf("%w: %s", ErrEntryNotFound, entryID)
	}
	return l.Save()
}

func withDefaults(config IntegrationsConfig) IntegrationsConfig {
	if config.PollInterval <= 0 {
		config.PollInterval = DefaultPollInterval
	}
	if config.RequestTimeout <= 0 {
		config.RequestTimeout = DefaultRequestTimeout
	}
	if config.Home.Name == "" {
		config.Home.Name = "Home"
	}
	return config
}

func (e Entry) clone() Entry {
	e.Data = copyData(e.Data)
	return e
}

func copyData(data map[string]interface{}) map[string]interface{} {
	out := make(map[string]interface{}, len(data))
	for k, v := range data {
		out[k] = v
	}
	return out
}
