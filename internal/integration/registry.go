// Package integration wires configured entries to their device integrations
// and owns the entity lifecycle: setup, polling and teardown.
package integration

import (
	"context"
	"fmt"
	"net/http"
	"sync"
	"time"

	"homeintegrations/internal/config"
	"homeintegrations/internal/twinkly"
	"homeintegrations/pkg/entity"

	"go.uber.org/zap"
)

// Handle is a running integration instance created from one config entry
type Handle interface {
	// Entities returns the entities the instance exposes
	Entities() []entity.Entity

	// Stop releases the instance's resources
	Stop() error
}

// SetupFunc starts an integration instance for entry
type SetupFunc func(ctx context.Context, ic *Context, entry config.Entry) (Handle, error)

// Context provides dependencies to integrations during setup.
type Context struct {
	// Logger is a structured logger; setups name it after their domain
	Logger *zap.Logger

	// Updater persists entry data changed at runtime, such as a device rename
	Updater entity.EntryUpdater

	// RequestTimeout bounds every request an integration makes to its device
	RequestTimeout time.Duration
}

// NewContext creates a new integration context
func NewContext(logger *zap.Logger, updater entity.EntryUpdater, requestTimeout time.Duration) *Context {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Context{
		Logger:         logger,
		Updater:        updater,
		RequestTimeout: requestTimeout,
	}
}

// HTTPClient returns a new client with its own transport for one device, so
// that devices never share connections
func (c *Context) HTTPClient() *http.Client {
	return twinkly.NewHTTPClient(c.RequestTimeout)
}

// Info describes a registered integration
type Info struct {
	// Domain matches the domain of config entries
	Domain string

	// Description is a human-readable description of the integration
	Description string

	// Setup creates an instance for a config entry
	Setup SetupFunc
}

// Registry maps entry domains to integrations
type Registry struct {
	mu     sync.RWMutex
	infos  map[string]Info
	order  []string
	logger *zap.Logger
}

// NewRegistry creates an empty registry
func NewRegistry(logger *zap.Logger) *Registry {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Registry{
		infos:  make(map[string]Info),
		order:  make([]string, 0),
		logger: logger,
	}
}

// Register adds an integration. A later registration for the same domain
// replaces the earlier one.
func (r *Registry) Register(info Info) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if info.Domain == "" {
		return fmt.Errorf("integration domain cannot be empty")
	}
	if info.Setup == nil {
		return fmt.Errorf("integration %s: setup cannot be nil", info.Domain)
	}

	if _, exists := r.infos[info.Domain]; exists {
		r.logger.Info("Integration being replaced", zap.String("domain", info.Domain))
	} else {
		r.order = append(r.order, info.Domain)
	}
	r.infos[info.Domain] = info

	r.logger.Debug("Integration registered",
		zap.String("domain", info.Domain),
		zap.String("description", info.Description))
	return nil
}

// Get returns the integration for domain, or nil if not found
func (r *Registry) Get(domain string) *Info {
	r.mu.RLock()
	defer r.mu.RUnlock()

	info, ok := r.infos[domain]
	if !ok {
		return nil
	}
	return &info
}

// Domains returns the registered domains in registration order
func (r *Registry) Domains() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return append([]string(nil), r.order...)
}

// entityHandle is the Handle used by the built-in integrations
type entityHandle struct {
	entities []entity.Entity
	stop     func() error
}

func (h *entityHandle) Entities() []entity.Entity {
	return h.entities
}

func (h *entityHandle) Stop() error {
	if h.stop == nil {
		return nil
	}
	return h.stop()
}
