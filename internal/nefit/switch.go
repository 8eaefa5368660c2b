package nefit

import (
	"context"
	"fmt"
	"sync"
	"time"

	"homeintegrations/pkg/entity"

	"go.uber.org/zap"
)

// Kind selects how a switch maps on/off onto boiler values
type Kind int

const (
	KindOnOff Kind = iota
	KindHotWater
	KindTrueFalse
	KindWeatherDependent
	KindHomeEntrance
)

// SwitchType describes a configurable switch
type SwitchType struct {
	Name     string
	Endpoint string
	Icon     string
	Kind     Kind
}

const (
	dhwPrefix             = "/dhwCircuits/dhwA/"
	endpointDHWClock      = dhwPrefix + "dhwOperationClockMode"
	endpointDHWManual     = dhwPrefix + "dhwOperationManualMode"
	homeEntrancePrefix    = "/ecus/rrc/homeentrancedetection/"
	homeEntranceProfiles  = 10
	KeyHomeEntrance       = "home_entrance_detection"
	KeyHotWater           = "hot_water"
	userModeClock         = "clock"
	homeEntranceActiveVal = "on"
)

// SwitchTypes lists every switch key that can be configured
var SwitchTypes = map[string]SwitchType{
	KeyHotWater: {
		Name: "Hot water",
		Icon: "mdi:water-boiler",
		Kind: KindHotWater,
	},
	"holiday_mode": {
		Name:     "Holiday mode",
		Endpoint: "/heatingCircuits/hc1/holidayMode/status",
		Icon:     "mdi:beach",
	},
	"fireplace_mode": {
		Name:     "Fireplace mode",
		Endpoint: "/ecus/rrc/userprogram/fireplacefunction",
		Icon:     "mdi:fireplace",
	},
	"today_as_sunday": {
		Name:     "Today as Sunday",
		Endpoint: "/ecus/rrc/dayassunday/day10/active",
		Icon:     "mdi:calendar-today",
	},
	"tomorrow_as_sunday": {
		Name:     "Tomorrow as Sunday",
		Endpoint: "/ecus/rrc/dayassunday/day11/active",
		Icon:     "mdi:calendar-today",
	},
	"preheating": {
		Name:     "Preheating",
		Endpoint: "/ecus/rrc/userprogram/preheating",
		Icon:     "mdi:calendar-clock",
	},
	"lockui": {
		Name:     "Lock UI",
		Endpoint: "/ecus/rrc/lockuserinterface",
		Icon:     "mdi:lock",
		Kind:     KindTrueFalse,
	},
	"weather_dependent": {
		Name:     "Weather dependent",
		Endpoint: "/heatingCircuits/hc1/control",
		Icon:     "mdi:weather-partly-cloudy",
		Kind:     KindWeatherDependent,
	},
	KeyHomeEntrance: {
		Name: "Presence %s",
		Icon: "mdi:account-arrow-right",
		Kind: KindHomeEntrance,
	},
}

// values written for on and off per kind
func onOffValues(kind Kind) (string, string) {
	switch kind {
	case KindTrueFalse:
		return "true", "false"
	case KindWeatherDependent:
		return "weather", "room"
	default:
		return "on", "off"
	}
}

// Switch is a boiler setting exposed as an on/off entity
type Switch struct {
	uniqueID string
	key      string
	name     string
	icon     string
	endpoint string
	kind     Kind
	onValue  string
	offValue string
	client   *Client
	logger   *zap.Logger

	mu          sync.RWMutex
	available   bool
	lastUpdated time.Time
}

func newSwitch(prefix, key string, typ SwitchType, client *Client, logger *zap.Logger) *Switch {
	on, off := onOffValues(typ.Kind)
	return &Switch{
		uniqueID: fmt.Sprintf("%s_%s", prefix, key),
		key:      key,
		name:     typ.Name,
		icon:     typ.Icon,
		endpoint: typ.Endpoint,
		kind:     typ.Kind,
		onValue:  on,
		offValue: off,
		client:   client,
		logger:   logger.With(zap.String("switch", key)),
	}
}

// UniqueID returns the entity id
func (s *Switch) UniqueID() string {
	return s.uniqueID
}

// Name returns the display name
func (s *Switch) Name() string {
	return s.name
}

// Key returns the configured switch key
func (s *Switch) Key() string {
	return s.key
}

// Available reports whether the last read or write succeeded
func (s *Switch) Available() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.available
}

// Endpoint returns the URI the switch currently reads and writes. For hot
// water it follows the heating program mode.
func (s *Switch) Endpoint() string {
	if s.kind != KindHotWater {
		return s.endpoint
	}
	if mode, _ := s.client.Value(KeyUserMode); mode == userModeClock {
		return endpointDHWClock
	}
	return endpointDHWManual
}

// IsOn compares the cached value with the on value of the switch kind
func (s *Switch) IsOn() bool {
	value, _ := s.client.Value(s.key)
	return value == s.onValue
}

// Update reads the switch value from the boiler
func (s *Switch) Update(ctx context.Context) error {
	if s.kind == KindHotWater {
		if _, err := s.client.GetValue(ctx, KeyUserMode, EndpointUserMode); err != nil {
			s.setAvailable(false)
			return fmt.Errorf("failed to read user mode: %w", err)
		}
	}

	if _, err := s.client.GetValue(ctx, s.key, s.Endpoint()); err != nil {
		if s.Available() {
			s.logger.Info("Nefit switch is not reachable", zap.Error(err))
		}
		s.setAvailable(false)
		return err
	}

	s.mu.Lock()
	s.available = true
	s.lastUpdated = time.Now()
	s.mu.Unlock()
	return nil
}

// TurnOn writes the on value; turn_on options do not apply to switches
func (s *Switch) TurnOn(ctx context.Context, _ entity.TurnOnOptions) error {
	return s.write(ctx, s.onValue)
}

// TurnOff writes the off value
func (s *Switch) TurnOff(ctx context.Context) error {
	return s.write(ctx, s.offValue)
}

func (s *Switch) write(ctx context.Context, value string) error {
	if !s.Available() {
		s.logger.Warn("Ignoring write to unavailable switch", zap.String("value", value))
		return entity.ErrUnavailable
	}

	endpoint := s.Endpoint()
	if err := s.client.PutValue(ctx, endpoint, value); err != nil {
		s.logger.Info("Nefit write failed", zap.String("endpoint", endpoint), zap.Error(err))
		s.setAvailable(false)
		return fmt.Errorf("write %s: %w", endpoint, err)
	}

	s.client.store(s.key, value)
	s.logger.Debug("Switch written",
		zap.String("endpoint", endpoint),
		zap.String("value", value))
	return nil
}

func (s *Switch) setAvailable(available bool) {
	s.mu.Lock()
	s.available = available
	s.mu.Unlock()
}

// Snapshot returns the entity state
func (s *Switch) Snapshot() entity.Snapshot {
	s.mu.RLock()
	available := s.available
	lastUpdated := s.lastUpdated
	s.mu.RUnlock()

	state := entity.StateUnavailable
	if available {
		state = entity.StateOff
		if s.IsOn() {
			state = entity.StateOn
		}
	}

	return entity.Snapshot{
		EntityID: s.uniqueID,
		Domain:   entity.DomainSwitch,
		Name:     s.name,
		State:    state,
		Attributes: map[string]interface{}{
			"icon":          s.icon,
			"endpoint":      s.Endpoint(),
			"assumed_state": false,
			"friendly_name": s.name,
		},
		LastUpdated: lastUpdated,
	}
}
