// Package entity provides the public interface definitions for the entities
// exposed by the device integrations. These interfaces can be imported by
// external packages that want to drive or observe devices.
//
// The implementations live in internal/light and internal/nefit.
package entity

import (
	"context"
	"errors"
	"time"
)

// Domains an entity can belong to
const (
	DomainLight  = "light"
	DomainSwitch = "switch"
)

// States reported in a Snapshot
const (
	StateOn          = "on"
	StateOff         = "off"
	StateUnavailable = "unavailable"
)

// ErrUnavailable is returned by writes to an entity whose device is unreachable.
var ErrUnavailable = errors.New("entity unavailable")

// Snapshot is a point-in-time view of an entity.
type Snapshot struct {
	EntityID    string                 `json:"entity_id"`
	Domain      string                 `json:"domain"`
	Name        string                 `json:"name"`
	State       string                 `json:"state"`
	Attributes  map[string]interface{} `json:"attributes"`
	LastUpdated time.Time              `json:"last_updated"`
}

// Entity is a polled device entity.
type Entity interface {
	// UniqueID returns a stable identifier for the entity
	UniqueID() string

	// Name returns the display name
	Name() string

	// Available reports whether the last poll succeeded
	Available() bool

	// Update polls the device and refreshes the cached state.
	// Failures mark the entity unavailable rather than returning an error
	// for the caller to handle; the returned error is informational.
	Update(ctx context.Context) error

	// Snapshot returns the cached state
	Snapshot() Snapshot
}

// TurnOnOptions carries the optional arguments of a turn_on request.
// Nil fields are left unchanged.
type TurnOnOptions struct {
	Brightness *int        `json:"brightness,omitempty"`
	HSColor    *[2]float64 `json:"hs_color,omitempty"`
	White      *int        `json:"white_value,omitempty"`
}

// Empty reports whether no option is set
func (o TurnOnOptions) Empty() bool {
	return o.Brightness == nil && o.HSColor == nil && o.White == nil
}

// Toggler is implemented by entities that can be switched.
type Toggler interface {
	TurnOn(ctx context.Context, opts TurnOnOptions) error
	TurnOff(ctx context.Context) error
}

// EntryUpdater persists changed entry data, such as a renamed device.
type EntryUpdater interface {
	UpdateEntryData(entryID string, data map[string]interface{}) error
}
