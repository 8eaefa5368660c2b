package integration

import (
	"context"
	"errors"
	"fmt"
	"reflect"
	"sort"
	"sync"
	"time"

	"homeintegrations/internal/clock"
	"homeintegrations/internal/config"
	"homeintegrations/pkg/entity"

	"github.com/prometheus/client_golang/prometheus"
	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const subscriberBuffer = 32

// ErrEntityNotFound is returned for unknown entity ids
var ErrEntityNotFound = errors.New("entity not found")

var (
	entityGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Name: "integration_entities",
		Help: "Entities by domain and availability.",
	}, []string{"domain", "available"})

	pollDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "integration_poll_duration_seconds",
		Help:    "Time taken to poll every entity once.",
		Buckets: prometheus.DefBuckets,
	})
)

func init() {
	prometheus.MustRegister(entityGauge, pollDuration)
}

// EntrySource lists the configured entries
type EntrySource interface {
	AllEntries() []config.Entry
}

// Manager starts an instance per config entry, polls the entities and
// publishes snapshot changes to subscribers
type Manager struct {
	registry *Registry
	ic       *Context
	entries  EntrySource
	clock    clock.Clock
	interval time.Duration
	logger   *zap.Logger

	mu       sync.RWMutex
	handles  map[string]Handle
	entities map[string]entity.Entity
	last     map[string]entity.Snapshot
	failed   map[string]error

	// serializes polls so an entity is never updated concurrently
	pollMu sync.Mutex

	subMu       sync.Mutex
	subscribers map[int]chan entity.Snapshot
	nextSub     int

	cancel context.CancelFunc
	done   chan struct{}
}

// NewManager creates a manager; Start sets up the entries
func NewManager(registry *Registry, ic *Context, entries EntrySource, clk clock.Clock, interval time.Duration, logger *zap.Logger) *Manager {
	if logger == nil {
		logger = zap.NewNop()
	}
	if clk == nil {
		clk = clock.NewRealClock()
	}
	if interval <= 0 {
		interval = config.DefaultPollInterval
	}
	return &Manager{
		registry:    registry,
		ic:          ic,
		entries:     entries,
		clock:       clk,
		interval:    interval,
		logger:      logger,
		handles:     make(map[string]Handle),
		entities:    make(map[string]entity.Entity),
		last:        make(map[string]entity.Snapshot),
		failed:      make(map[string]error),
		subscribers: make(map[int]chan entity.Snapshot),
	}
}

// Start sets up every configured entry, polls once and starts the poll loop.
// Entries of unknown domains or whose setup fails are logged and skipped.
func (m *Manager) Start(ctx context.Context) error {
	if m.cancel != nil {
		return fmt.Errorf("manager already started")
	}

	for _, entry := range m.entries.AllEntries() {
		m.setupEntry(ctx, entry)
	}

	m.PollOnce(ctx)

	loopCtx, cancel := context.WithCancel(context.Background())
	m.cancel = cancel
	m.done = make(chan struct{})
	go m.loop(loopCtx)

	m.logger.Info("Integration manager started",
		zap.Int("entities", len(m.Entities())),
		zap.Duration("poll_interval", m.interval))
	return nil
}

func (m *Manager) setupEntry(ctx context.Context, entry config.Entry) {
	logger := m.logger.With(zap.String("entry_id", entry.EntryID), zap.String("domain", entry.Domain))

	info := m.registry.Get(entry.Domain)
	if info == nil {
		logger.Info("No integration for entry domain, skipping")
		return
	}

	handle, err := info.Setup(ctx, m.ic, entry)
	if err != nil {
		logger.Error("Failed to set up entry", zap.Error(err))
		m.mu.Lock()
		m.failed[entry.EntryID] = err
		m.mu.Unlock()
		return
	}

	m.mu.Lock()
	defer m.mu.Unlock()
	m.handles[entry.EntryID] = handle
	for _, e := range handle.Entities() {
		id := e.UniqueID()
		if _, exists := m.entities[id]; exists {
			logger.Warn("Duplicate entity id, skipping", zap.String("entity_id", id))
			continue
		}
		m.entities[id] = e
	}
	logger.Info("Entry set up", zap.Int("entities", len(handle.Entities())))
}

// Stop ends the poll loop and stops every instance
func (m *Manager) Stop() error {
	if m.cancel != nil {
		m.cancel()
		<-m.done
		m.cancel = nil
	}

	m.subMu.Lock()
	for id, ch := range m.subscribers {
		close(ch)
		delete(m.subscribers, id)
	}
	m.subMu.Unlock()

	m.mu.Lock()
	defer m.mu.Unlock()

	var errs error
	for entryID, handle := range m.handles {
		if err := handle.Stop(); err != nil {
			errs = multierr.Append(errs, fmt.Errorf("stop %s: %w", entryID, err))
		}
		delete(m.handles, entryID)
	}
	m.entities = make(map[string]entity.Entity)
	m.logger.Info("Integration manager stopped")
	return errs
}

func (m *Manager) loop(ctx context.Context) {
	defer close(m.done)
	for {
		select {
		case <-ctx.Done():
			return
		case <-m.clock.After(m.interval):
			m.PollOnce(ctx)
		}
	}
}

// PollOnce updates every entity in id order and publishes changed snapshots
func (m *Manager) PollOnce(ctx context.Context) {
	m.pollMu.Lock()
	defer m.pollMu.Unlock()

	start := m.clock.Now()
	for _, e := range m.Entities() {
		if ctx.Err() != nil {
			return
		}
		if err := e.Update(ctx); err != nil {
			m.logger.Debug("Entity update failed", zap.String("entity_id", e.UniqueID()), zap.Error(err))
		}
		m.publishIfChanged(e.Snapshot())
	}
	pollDuration.Observe(m.clock.Since(start).Seconds())
	m.updateGauge()
}

// Refresh updates a single entity now, typically right after a write
func (m *Manager) Refresh(ctx context.Context, id string) (entity.Snapshot, error) {
	e, ok := m.Entity(id)
	if !ok {
		return entity.Snapshot{}, fmt.Errorf("%w: %s", ErrEntityNotFound, id)
	}

	m.pollMu.Lock()
	err := e.Update(ctx)
	m.pollMu.Unlock()

	snapshot := e.Snapshot()
	m.publishIfChanged(snapshot)
	return snapshot, err
}

// Entities returns every entity sorted by id
func (m *Manager) Entities() []entity.Entity {
	m.mu.RLock()
	defer m.mu.RUnlock()

	entities := make([]entity.Entity, 0, len(m.entities))
	for _, e := range m.entities {
		entities = append(entities, e)
	}
	sort.Slice(entities, func(i, j int) bool {
		return entities[i].UniqueID() < entities[j].UniqueID()
	})
	return entities
}

// Entity looks up an entity by id
func (m *Manager) Entity(id string) (entity.Entity, bool) {
	m.mu.RLock()
	defer m.mu.RUnlock()
	e, ok := m.entities[id]
	return e, ok
}

// FailedEntries returns the setup error of every entry that did not start
func (m *Manager) FailedEntries() map[string]error {
	m.mu.RLock()
	defer m.mu.RUnlock()

	failed := make(map[string]error, len(m.failed))
	for id, err := range m.failed {
		failed[id] = err
	}
	return failed
}

// Subscribe returns a channel receiving snapshot changes and a function to
// unsubscribe. Slow subscribers miss updates rather than blocking polls.
func (m *Manager) Subscribe() (<-chan entity.Snapshot, func()) {
	m.subMu.Lock()
	defer m.subMu.Unlock()

	id := m.nextSub
	m.nextSub++
	ch := make(chan entity.Snapshot, subscriberBuffer)
	m.subscribers[id] = ch

	return ch, func() {
		m.subMu.Lock()
		defer m.subMu.Unlock()
		if sub, ok := m.subscribers[id]; ok {
			close(sub)
			delete(m.subscribers, id)
		}
	}
}

func (m *Manager) publishIfChanged(snapshot entity.Snapshot) {
	m.mu.Lock()
	prev, seen := m.last[snapshot.EntityID]
	changed := !seen || prev.State != snapshot.State || prev.Name != snapshot.Name ||
		!reflect.DeepEqual(prev.Attributes, snapshot.Attributes)
	if changed {
		m.last[snapshot.EntityID] = snapshot
	}
	m.mu.Unlock()

	if !changed {
		return
	}

	m.logger.Debug("Entity state changed",
		zap.String("entity_id", snapshot.EntityID),
		zap.String("state", snapshot.State))

	m.subMu.Lock()
	defer m.subMu.Unlock()
	for id, ch := range m.subscribers {
		select {
		case ch <- snapshot:
		default:
			m.logger.Debug("Subscriber is behind, dropping update", zap.Int("subscriber", id))
		}
	}
}

func (m *Manager) updateGauge() {
	entityGauge.Reset()
	for _, e := range m.Entities() {
		snapshot := e.Snapshot()
		entityGauge.WithLabelValues(snapshot.Domain, fmt.Sprint(e.Available())).Inc()
	}
}
