// Package light implements the Twinkly LED string as a polled light entity.
package light

import (
	"context"
	"fmt"
	"math"
	"sync"
	"time"

	"homeintegrations/internal/twinkly"
	"homeintegrations/pkg/entity"

	"go.uber.org/zap"
)

const (
	defaultName  = "Twinkly light"
	manufacturer = "LEDWORKS"
	icon         = "mdi:string-lights"

	supportBrightness = 1
	supportColor      = 16
	supportWhiteValue = 128
)

// Entry data keys shared with the config entry
const (
	EntryHost  = "host"
	EntryID    = "id"
	EntryName  = "name"
	EntryModel = "model"
)

// device attributes never surfaced as entity attributes
var hiddenDeviceValues = map[string]bool{
	"code":      true, // API status code
	"copyright": true,
	"mac":       true, // not the real MAC
}

// Config identifies the light. Name and model come from the stored entry so
// the entity has meaningful values while the device is offline.
type Config struct {
	EntryID string
	ID      string
	Name    string
	Model   string
}

// Light is the Twinkly light entity
type Light struct {
	entryID string
	id      string
	client  twinkly.Client
	updater entity.EntryUpdater
	logger  *zap.Logger

	mu          sync.RWMutex
	name        string
	model       string
	colour      colourState
	on          bool
	brightness  int
	available   bool
	attributes  map[string]interface{}
	lastUpdated time.Time
}

// New creates a light for an already configured device client
func New(cfg Config, client twinkly.Client, updater entity.EntryUpdater, logger *zap.Logger) (*Light, error) {
	if client == nil {
		return nil, fmt.Errorf("client for %s has not been configured", cfg.ID)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Light{
		entryID:    cfg.EntryID,
		id:         cfg.ID,
		client:     client,
		updater:    updater,
		logger:     logger,
		name:       cfg.Name,
		model:      cfg.Model,
		attributes: make(map[string]interface{}),
	}, nil
}

// UniqueID returns the device id
func (l *Light) UniqueID() string {
	return l.id
}

// Name returns the device name, falling back to a generic one
func (l *Light) Name() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.name == "" {
		return defaultName
	}
	return l.name
}

// Model returns the product code
func (l *Light) Model() string {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.model
}

// Available reports whether the last poll reached the device
func (l *Light) Available() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.available
}

// IsOn reports the last polled on/off state
func (l *Light) IsOn() bool {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.on
}

// Brightness returns the last polled brightness (0-255)
func (l *Light) Brightness() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.brightness
}

// White returns the white channel level (0-255)
func (l *Light) White() int {
	l.mu.RLock()
	defer l.mu.RUnlock()
	return l.colour.White
}

// HSColor returns the last requested hue/saturation, if any
func (l *Light) HSColor() *[2]float64 {
	l.mu.RLock()
	defer l.mu.RUnlock()
	if l.colour.HS == nil {
		return nil
	}
	hs := *l.colour.HS
	return &hs
}

// DeviceInfo describes the physical device for registries
func (l *Light) DeviceInfo() map[string]interface{} {
	if l.id == "" {
		return nil
	}
	return map[string]interface{}{
		"identifiers":  []string{"twinkly", l.id},
		"name":         l.Name(),
		"manufacturer": manufacturer,
		"model":        l.Model(),
	}
}

// TurnOn applies brightness and colour, or simply turns the string on
func (l *Light) TurnOn(ctx context.Context, opts entity.TurnOnOptions) error {
	if !l.Available() {
		l.logger.Warn("Ignoring turn_on for unavailable light", zap.String("host", l.client.Host()))
		return entity.ErrUnavailable
	}

	if opts.Brightness != nil {
		pct := int(float64(*opts.Brightness) / 2.55)

		// the device treats 0 as "limiter disabled", i.e. full brightness
		if pct == 0 {
			return l.write("turn_off", l.client.SetOn(ctx, false))
		}
		if err := l.write("set_brightness", l.client.SetBrightness(ctx, pct)); err != nil {
			return err
		}
	}

	l.mu.RLock()
	next, cmd := Reconcile(l.colour, opts)
	l.mu.RUnlock()

	if cmd != nil {
		if err := l.write("set_colour", l.client.SetStaticColour(ctx, *cmd)); err != nil {
			return err
		}
		l.mu.Lock()
		l.colour = next
		l.mu.Unlock()
	}

	if opts.Empty() {
		return l.write("turn_on", l.client.SetOn(ctx, true))
	}
	return nil
}

// TurnOff turns the string off
func (l *Light) TurnOff(ctx context.Context) error {
	if !l.Available() {
		l.logger.Warn("Ignoring turn_off for unavailable light", zap.String("host", l.client.Host()))
		return entity.ErrUnavailable
	}
	return l.write("turn_off", l.client.SetOn(ctx, false))
}

func (l *Light) write(op string, err error) error {
	if err == nil {
		return nil
	}
	l.logger.Info("Twinkly write failed",
		zap.String("host", l.client.Host()),
		zap.String("op", op),
		zap.Error(err))
	l.setUnavailable()
	return fmt.Errorf("%s: %w", op, err)
}

// Update polls the device state and metadata
func (l *Light) Update(ctx context.Context) error {
	l.logger.Debug("Updating", zap.String("host", l.client.Host()))

	on, brightness, info, err := l.poll(ctx)
	if err != nil {
		// not reachable is common for seasonal lights, so this is not an error
		if l.Available() {
			l.logger.Info("Twinkly is not reachable", zap.String("host", l.client.Host()), zap.Error(err))
		}
		l.setUnavailable()
		return err
	}

	l.mu.Lock()
	wasAvailable := l.available
	l.on = on
	l.brightness = brightness

	name, hasName := info[twinkly.AttrName].(string)
	model, hasModel := info[twinkly.AttrModel].(string)
	renamed := hasName && hasModel && (name != l.name || model != l.model)
	if renamed {
		l.name = name
		l.model = model
	}

	for key, value := range info {
		if !hiddenDeviceValues[key] {
			l.attributes[key] = value
		}
	}
	l.available = true
	l.lastUpdated = time.Now()
	l.mu.Unlock()

	if renamed {
		l.persist(name, model)
	}
	if !wasAvailable {
		l.logger.Info("Twinkly is now available", zap.String("host", l.client.Host()))
	}
	return nil
}

func (l *Light) poll(ctx context.Context) (bool, int, map[string]interface{}, error) {
	on, err := l.client.IsOn(ctx)
	if err != nil {
		return false, 0, nil, err
	}

	brightness := 0
	if on {
		pct, err := l.client.Brightness(ctx)
		if err != nil {
			return false, 0, nil, err
		}
		brightness = int(math.Round(float64(pct) * 2.55))
	}

	info, err := l.client.DeviceInfo(ctx)
	if err != nil {
		return false, 0, nil, err
	}
	return on, brightness, info, nil
}

// persist stores a changed name/model so it survives a restart while offline
func (l *Light) persist(name, model string) {
	if l.updater == nil || l.entryID == "" {
		return
	}
	err := l.updater.UpdateEntryData(l.entryID, map[string]interface{}{
		EntryHost:  l.client.Host(),
		EntryID:    l.id,
		EntryName:  name,
		EntryModel: model,
	})
	if err != nil {
		l.logger.Warn("Failed to persist device metadata", zap.String("entry_id", l.entryID), zap.Error(err))
		return
	}
	l.logger.Info("Device metadata changed",
		zap.String("entry_id", l.entryID),
		zap.String("name", name),
		zap.String("model", model))
}

func (l *Light) setUnavailable() {
	l.mu.Lock()
	l.available = false
	l.mu.Unlock()
}

// Snapshot returns the entity state and attributes
func (l *Light) Snapshot() entity.Snapshot {
	l.mu.RLock()
	defer l.mu.RUnlock()

	attributes := make(map[string]interface{}, len(l.attributes)+10)
	for k, v := range l.attributes {
		attributes[k] = v
	}
	attributes["host"] = l.client.Host()
	attributes["brightness"] = l.brightness
	attributes["white_value"] = l.colour.White
	attributes["icon"] = icon
	attributes["manufacturer"] = manufacturer
	attributes["model"] = l.model
	attributes["supported_features"] = supportBrightness | supportColor | supportWhiteValue
	if l.colour.HS != nil {
		hs := *l.colour.HS
		attributes["hs_color"] = [2]float64{round3(hs[0]), round3(hs[1])}
		attributes["rgb_color"] = HSToRGB(hs)
		attributes["xy_color"] = HSToXY(hs)
	}

	name := l.name
	if name == "" {
		name = defaultName
	}
	attributes["friendly_name"] = name

	state := entity.StateOff
	switch {
	case !l.available:
		state = entity.StateUnavailable
	case l.on:
		state = entity.StateOn
	}

	return entity.Snapshot{
		EntityID:    l.id,
		Domain:      entity.DomainLight,
		Name:        name,
		State:       state,
		Attributes:  attributes,
		LastUpdated: l.lastUpdated,
	}
}
