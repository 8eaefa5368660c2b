package twinkly

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"sync"

	"go.uber.org/zap"
)

const (
	staticFrameCount = 1
	staticLoopType   = 0
	staticFrameDelay = 56
)

// Client defines the device operations the light entity relies on
type Client interface {
	Host() string
	Interview(ctx context.Context) error
	Snapshot() Snapshot
	DeviceInfo(ctx context.Context) (map[string]interface{}, error)
	IsOn(ctx context.Context) (bool, error)
	SetOn(ctx context.Context, on bool) error
	Brightness(ctx context.Context) (int, error)
	SetBrightness(ctx context.Context, pct int) error
	SetStaticColour(ctx context.Context, colour Colour) error
}

// Device exposes Twinkly operations on top of an authenticated Session.
type Device struct {
	host    string
	session *Session
	logger  *zap.Logger

	mu      sync.RWMutex
	details Snapshot
}

// NewDevice creates a device facade with its own transport
func NewDevice(host string, httpClient *http.Client, logger *zap.Logger) *Device {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Device{
		host:    host,
		session: NewSession(host, httpClient, logger),
		logger:  logger,
	}
}

// Host returns the address the device was configured with
func (d *Device) Host() string {
	return d.host
}

// Session exposes the underlying session, mainly for tests and diagnostics
func (d *Device) Session() *Session {
	return d.session
}

// Close releases the device transport
func (d *Device) Close() {
	d.session.Close()
}

// Snapshot returns a copy of the cached interview result
func (d *Device) Snapshot() Snapshot {
	d.mu.RLock()
	defer d.mu.RUnlock()

	snapshot := d.details
	if d.details.Raw != nil {
		snapshot.Raw = make(map[string]interface{}, len(d.details.Raw))
		for k, v := range d.details.Raw {
			snapshot.Raw[k] = v
		}
	}
	return snapshot
}

// Length returns the LED count; only meaningful after Interview
func (d *Device) Length() int {
	return d.Snapshot().Length
}

// Interview fetches device metadata once. A populated snapshot is never
// refreshed here; use ClearSnapshot first to force a new fetch.
func (d *Device) Interview(ctx context.Context) error {
	if !d.Snapshot().Empty() {
		return nil
	}

	info, err := d.DeviceInfo(ctx)
	if err != nil {
		return err
	}

	snapshot, err := snapshotFrom(info)
	if err != nil {
		return &TransportError{Endpoint: EndpointDeviceInfo, Err: err}
	}

	d.mu.Lock()
	d.details = snapshot
	d.mu.Unlock()

	d.logger.Debug("Interviewed device",
		zap.String("host", d.host),
		zap.String("name", snapshot.Name),
		zap.Int("leds", snapshot.Length))
	return nil
}

// ClearSnapshot drops the cached interview so the next Interview hits the device
func (d *Device) ClearSnapshot() {
	d.mu.Lock()
	d.details = Snapshot{}
	d.mu.Unlock()
}

// DeviceInfo always fetches fresh device attributes
func (d *Device) DeviceInfo(ctx context.Context) (map[string]interface{}, error) {
	resp, err := d.session.Do(ctx, Call{Endpoint: EndpointDeviceInfo, RetryBudget: DefaultRetryBudget})
	if err != nil {
		return nil, err
	}

	info := make(map[string]interface{})
	decoder := json.NewDecoder(bytes.NewReader(resp))
	decoder.UseNumber()
	if err := decoder.Decode(&info); err != nil {
		return nil, &TransportError{Endpoint: EndpointDeviceInfo, Err: fmt.Errorf("failed to decode device info: %w", err)}
	}
	return info, nil
}

// Mode returns the operating mode reported by the device
func (d *Device) Mode(ctx context.Context) (string, error) {
	var resp modeResponse
	if err := d.session.Get(ctx, EndpointMode, &resp); err != nil {
		return "", err
	}
	return resp.Mode, nil
}

// SetMode switches the device operating mode. Invalid modes are rejected by the firmware.
func (d *Device) SetMode(ctx context.Context, mode string) error {
	return d.session.Post(ctx, EndpointMode, modeRequest{Mode: mode})
}

// IsOn reports whether the device is in any mode other than off
func (d *Device) IsOn(ctx context.Context) (bool, error) {
	mode, err := d.Mode(ctx)
	if err != nil {
		return false, err
	}
	return mode != ModeOff, nil
}

// SetOn plays the stored movie or turns the string off
func (d *Device) SetOn(ctx context.Context, on bool) error {
	if on {
		return d.SetMode(ctx, ModeMovie)
	}
	return d.SetMode(ctx, ModeOff)
}

// Brightness returns the brightness in percent; a disabled limiter means 100
func (d *Device) Brightness(ctx context.Context) (int, error) {
	var resp brightnessResponse
	if err := d.session.Get(ctx, EndpointBrightness, &resp); err != nil {
		return 0, err
	}
	if resp.Mode != "enabled" {
		return 100, nil
	}
	value, err := strconv.ParseFloat(resp.Value.String(), 64)
	if err != nil {
		return 0, &TransportError{Endpoint: EndpointBrightness, Err: fmt.Errorf("invalid brightness value %q: %w", resp.Value, err)}
	}
	return int(value), nil
}

// SetBrightness enables the brightness limiter at pct percent
func (d *Device) SetBrightness(ctx context.Context, pct int) error {
	return d.session.Post(ctx, EndpointBrightness, brightnessRequest{
		Mode:  "enabled",
		Type:  "A",
		Value: pct,
	})
}

// SetMovieConfig uploads playback settings and returns the device acknowledgement, if any
func (d *Device) SetMovieConfig(ctx context.Context, config MovieConfig) (map[string]interface{}, error) {
	resp, err := d.session.Do(ctx, Call{Endpoint: EndpointMovieConf, Payload: config, RetryBudget: DefaultRetryBudget})
	if err != nil {
		return nil, err
	}
	if len(bytes.TrimSpace(resp)) == 0 {
		return nil, nil
	}

	var ack map[string]interface{}
	if err := json.Unmarshal(resp, &ack); err != nil {
		d.logger.Debug("Ignoring non-JSON movie config acknowledgement", zap.Error(err))
		return nil, nil
	}
	return ack, nil
}

// UploadMovie uploads a raw frame buffer of 4 bytes (w,r,g,b) per LED per frame
func (d *Device) UploadMovie(ctx context.Context, frames []byte) error {
	return d.session.PostRaw(ctx, EndpointMovieFull, frames, contentTypeBinary)
}

// SetStaticColour shows a single colour on every LED. The upload, the movie
// config and the mode switch must happen in this order.
func (d *Device) SetStaticColour(ctx context.Context, colour Colour) error {
	if err := d.Interview(ctx); err != nil {
		return fmt.Errorf("failed to interview device: %w", err)
	}

	length := d.Length()
	if err := d.UploadMovie(ctx, StaticFrame(colour, length)); err != nil {
		return fmt.Errorf("failed to upload frame: %w", err)
	}

	if _, err := d.SetMovieConfig(ctx, MovieConfig{
		FrameCount:   staticFrameCount,
		LoopType:     staticLoopType,
		FrameDelayMs: staticFrameDelay,
		LEDCount:     length,
	}); err != nil {
		return fmt.Errorf("failed to set movie config: %w", err)
	}

	if err := d.SetMode(ctx, ModeMovie); err != nil {
		return fmt.Errorf("failed to switch to movie mode: %w", err)
	}
	return nil
}

// StaticFrame repeats colour length times as (w,r,g,b) tuples
func StaticFrame(colour Colour, length int) []byte {
	if length <= 0 {
		return []byte{}
	}
	frame := make([]byte, 0, 4*length)
	for i := 0; i < length; i++ {
		frame = append(frame, colour.W, colour.R, colour.G, colour.B)
	}
	return frame
}

func snapshotFrom(info map[string]interface{}) (Snapshot, error) {
	snapshot := Snapshot{Raw: info}

	count, ok := info[AttrLEDCount]
	if !ok {
		return Snapshot{}, fmt.Errorf("device info has no %s", AttrLEDCount)
	}
	length, err := toInt(count)
	if err != nil {
		return Snapshot{}, fmt.Errorf("invalid %s: %w", AttrLEDCount, err)
	}
	if length < 0 {
		return Snapshot{}, fmt.Errorf("invalid %s: %d", AttrLEDCount, length)
	}
	snapshot.Length = length

	snapshot.ID, _ = info[AttrID].(string)
	snapshot.Name, _ = info[AttrName].(string)
	snapshot.Model, _ = info[AttrModel].(string)
	return snapshot, nil
}

func toInt(v interface{}) (int, error) {
	switch n := v.(type) {
	case json.Number:
		i, err := n.Int64()
		return int(i), err
	case float64:
		return int(n), nil
	case int:
		return n, nil
	case string:
		return strconv.Atoi(n)
	default:
		return 0, fmt.Errorf("unexpected type %T", v)
	}
}
