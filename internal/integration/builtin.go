package integration

import (
	"context"
	"fmt"

	"homeintegrations/internal/config"
	"homeintegrations/internal/light"
	"homeintegrations/internal/nefit"
	"homeintegrations/internal/twinkly"
	"homeintegrations/pkg/entity"

	"go.uber.org/zap"
)

// Entry domains of the built-in integrations
const (
	DomainTwinkly = "twinkly"
	DomainNefit   = "nefit"
)

// Nefit entry data keys
const (
	NefitURL      = "url"
	NefitSwitches = "switches"
)

// NewBuiltinRegistry returns a registry holding every integration in this module
func NewBuiltinRegistry(logger *zap.Logger) (*Registry, error) {
	registry := NewRegistry(logger)

	infos := []Info{
		{Domain: DomainTwinkly, Description: "Twinkly LED strings", Setup: SetupTwinkly},
		{Domain: DomainNefit, Description: "Nefit Easy boiler switches", Setup: SetupNefit},
	}
	for _, info := range infos {
		if err := registry.Register(info); err != nil {
			return nil, err
		}
	}
	return registry, nil
}

// SetupTwinkly creates the device client and light for a Twinkly entry
func SetupTwinkly(_ context.Context, ic *Context, entry config.Entry) (Handle, error) {
	host := entry.String(light.EntryHost)
	if host == "" {
		return nil, fmt.Errorf("twinkly entry %s has no host", entry.EntryID)
	}

	id := entry.String(light.EntryID)
	if id == "" {
		id = entry.EntryID
	}

	logger := ic.Logger.Named(DomainTwinkly).With(zap.String("entry_id", entry.EntryID))
	device := twinkly.NewDevice(host, ic.HTTPClient(), logger)

	l, err := light.New(light.Config{
		EntryID: entry.EntryID,
		ID:      id,
		Name:    entry.String(light.EntryName),
		Model:   entry.String(light.EntryModel),
	}, device, ic.Updater, logger)
	if err != nil {
		device.Close()
		return nil, err
	}

	return &entityHandle{
		entities: []entity.Entity{l},
		stop: func() error {
			device.Close()
			return nil
		},
	}, nil
}

// SetupNefit creates the gateway client and the configured switches
func SetupNefit(ctx context.Context, ic *Context, entry config.Entry) (Handle, error) {
	url := entry.String(NefitURL)
	if url == "" {
		return nil, fmt.Errorf("nefit entry %s has no url", entry.EntryID)
	}

	logger := ic.Logger.Named(DomainNefit).With(zap.String("entry_id", entry.EntryID))
	client := nefit.NewClient(url, ic.HTTPClient(), logger)

	switches, err := nefit.Setup(ctx, client, entry.EntryID, entry.Strings(NefitSwitches), logger)
	if err != nil {
		return nil, fmt.Errorf("failed to set up nefit switches: %w", err)
	}

	if err := client.Refresh(ctx); err != nil {
		logger.Warn("Initial refresh incomplete", zap.Error(err))
	}

	entities := make([]entity.Entity, 0, len(switches))
	for _, sw := range switches {
		entities = append(entities, sw)
	}
	return &entityHandle{entities: entities}, nil
}
