package nefit

import (
	"context"
	"fmt"

	"go.uber.org/zap"
)

// Setup builds the switches for the configured keys. Home entrance detection
// expands into one switch per active user profile, which requires reading
// the profiles from the boiler.
func Setup(ctx context.Context, client *Client, prefix string, keys []string, logger *zap.Logger) ([]*Switch, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	var switches []*Switch
	for _, key := range keys {
		typ, ok := SwitchTypes[key]
		if !ok {
			return nil, fmt.Errorf("unknown switch type %q", key)
		}

		if typ.Kind == KindHomeEntrance {
			found, err := setupHomeEntrance(ctx, client, prefix, typ, logger)
			if err != nil {
				return nil, err
			}
			switches = append(switches, found...)
			continue
		}

		if typ.Endpoint != "" {
			client.Watch(typ.Endpoint, key)
		}
		switches = append(switches, newSwitch(prefix, key, typ, client, logger))
	}

	logger.Debug("Nefit switches set up", zap.Int("count", len(switches)))
	return switches, nil
}

func setupHomeEntrance(ctx context.Context, client *Client, prefix string, base SwitchType, logger *zap.Logger) ([]*Switch, error) {
	var switches []*Switch
	for i := 0; i < homeEntranceProfiles; i++ {
		profile := fmt.Sprintf("userprofile%d", i)
		endpoint := homeEntrancePrefix + profile + "/"

		active, err := client.GetValue(ctx, profile, endpoint+"active")
		if err != nil {
			return nil, fmt.Errorf("failed to read %s: %w", profile, err)
		}
		logger.Debug("Home entrance detection profile", zap.String("profile", profile), zap.String("active", active))
		if active != homeEntranceActiveVal {
			continue
		}

		name, err := client.GetValue(ctx, profile, endpoint+"name")
		if err != nil {
			return nil, fmt.Errorf("failed to read %s name: %w", profile, err)
		}

		key := KeyHomeEntrance + "_" + profile
		typ := SwitchType{
			Name:     fmt.Sprintf(base.Name, name),
			Endpoint: endpoint + "detected",
			Icon:     base.Icon,
			Kind:     KindOnOff,
		}
		client.Watch(typ.Endpoint, key)
		switches = append(switches, newSwitch(prefix, key, typ, client, logger))
	}
	return switches, nil
}
