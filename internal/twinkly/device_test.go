package twinkly

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"testing"

	"homeintegrations/pkg/testutil"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap"
)

func newTestDevice(t *testing.T, server *testutil.MockTwinklyServer) *Device {
	logger, _ := zap.NewDevelopment()
	device := NewDevice(server.URL(), NewHTTPClient(DefaultTimeout), logger)
	t.Cleanup(device.Close)
	return device
}

func TestDevice_Interview(t *testing.T) {
	ctx := context.Background()

	t.Run("populates snapshot", func(t *testing.T) {
		server := testutil.NewMockTwinklyServer(250)
		defer server.Close()

		device := newTestDevice(t, server)
		assert.True(t, device.Snapshot().Empty())

		require.NoError(t, device.Interview(ctx))

		snapshot := device.Snapshot()
		assert.Equal(t, 250, snapshot.Length)
		assert.Equal(t, "Twinkly_Test", snapshot.Name)
		assert.Equal(t, "TWS250STP", snapshot.Model)
		assert.Equal(t, "00000000-0000-0000-0000-000000000001", snapshot.ID)
		assert.Equal(t, 250, device.Length())
	})

	t.Run("idempotent once populated", func(t *testing.T) {
		server := testutil.NewMockTwinklyServer(100)
		defer server.Close()

		device := newTestDevice(t, server)
		require.NoError(t, device.Interview(ctx))
		server.ResetCalls()

		for i := 0; i < 5; i++ {
			require.NoError(t, device.Interview(ctx))
		}
		assert.Empty(t, server.Calls())
	})

	t.Run("never refreshes a populated snapshot", func(t *testing.T) {
		server := testutil.NewMockTwinklyServer(100)
		defer server.Close()

		device := newTestDevice(t, server)
		require.NoError(t, device.Interview(ctx))

		server.SetDeviceInfo("number_of_led", 600)
		require.NoError(t, device.Interview(ctx))
		assert.Equal(t, 100, device.Length())

		device.ClearSnapshot()
		require.NoError(t, device.Interview(ctx))
		assert.Equal(t, 600, device.Length())
	})

	t.Run("failure leaves snapshot empty", func(t *testing.T) {
		server := testutil.NewMockTwinklyServer(100)
		defer server.Close()

		device := newTestDevice(t, server)
		require.NoError(t, device.Session().Authenticate(ctx))
		server.FailNext(EndpointDeviceInfo, http.StatusInternalServerError)

		err := device.Interview(ctx)
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.True(t, device.Snapshot().Empty())
	})

	t.Run("missing LED count is rejected", func(t *testing.T) {
		server := testutil.NewMockTwinklyServer(100)
		defer server.Close()
		server.SetDeviceInfo("number_of_led", "many")

		device := newTestDevice(t, server)
		err := device.Interview(ctx)
		require.Error(t, err)
		assert.True(t, device.Snapshot().Empty())
	})

	t.Run("negative LED count is rejected", func(t *testing.T) {
		server := testutil.NewMockTwinklyServer(100)
		defer server.Close()
		server.SetDeviceInfo("number_of_led", -3)

		device := newTestDevice(t, server)
		err := device.SetStaticColour(ctx, Colour{R: 255})
		var te *TransportError
		require.ErrorAs(t, err, &te)
		assert.Equal(t, EndpointDeviceInfo, te.Endpoint)
		assert.True(t, device.Snapshot().Empty())
		assert.Zero(t, server.CallCount(EndpointMovieFull))
		assert.Zero(t, server.CallCount(EndpointMovieConf))
	})

	t.Run("snapshot is a copy", func(t *testing.T) {
		server := testutil.NewMockTwinklyServer(100)
		defer server.Close()

		device := newTestDevice(t, server)
		require.NoError(t, device.Interview(ctx))

		snapshot := device.Snapshot()
		snapshot.Raw[AttrName] = "changed"
		delete(snapshot.Raw, AttrLEDCount)

		cached := device.Snapshot()
		assert.Equal(t, "Twinkly_Test", cached.Raw[AttrName])
		assert.Contains(t, cached.Raw, AttrLEDCount)
	})
}

func TestDevice_SetStaticColour(t *testing.T) {
	ctx := context.Background()

	t.Run("uploads one frame of repeated colour", func(t *testing.T) {
		tests := []struct {
			name   string
			length int
			colour Colour
		}{
			{"single led", 1, Colour{W: 0, R: 255, G: 0, B: 0}},
			{"short string", 5, Colour{W: 10, R: 20, G: 30, B: 40}},
			{"full string", 250, Colour{W: 255, R: 0, G: 0, B: 0}},
		}

		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				server := testutil.NewMockTwinklyServer(tt.length)
				defer server.Close()
				server.SetMode(ModeOff)

				device := newTestDevice(t, server)
				require.NoError(t, device.SetStaticColour(ctx, tt.colour))

				movie := server.Movie()
				require.Len(t, movie, 4*tt.length)
				tuple := []byte{tt.colour.W, tt.colour.R, tt.colour.G, tt.colour.B}
				assert.Equal(t, bytes.Repeat(tuple, tt.length), movie)
				assert.Equal(t, ModeMovie, server.Mode())
			})
		}
	})

	t.Run("upload precedes config precedes mode", func(t *testing.T) {
		server := testutil.NewMockTwinklyServer(3)
		defer server.Close()

		device := newTestDevice(t, server)
		require.NoError(t, device.Interview(ctx))
		server.ResetCalls()

		require.NoError(t, device.SetStaticColour(ctx, Colour{W: 1, R: 2, G: 3, B: 4}))

		assert.Equal(t, []string{
			"/xled/v1/led/movie/full",
			"/xled/v1/led/movie/config",
			"/xled/v1/led/mode",
		}, testutil.Paths(server.Calls()))

		upload := testutil.LastDeviceCall(server.Calls(), "/xled/v1/led/movie/full")
		require.NotNil(t, upload)
		assert.Equal(t, "application/octet-stream", upload.ContentType)

		config := testutil.LastDeviceCall(server.Calls(), "/xled/v1/led/movie/config")
		require.NotNil(t, config)
		var got MovieConfig
		require.NoError(t, json.Unmarshal(config.Body, &got))
		assert.Equal(t, MovieConfig{FrameCount: 1, LoopType: 0, FrameDelayMs: 56, LEDCount: 3}, got)
	})

	t.Run("failed upload stops the sequence", func(t *testing.T) {
		server := testutil.NewMockTwinklyServer(3)
		defer server.Close()
		server.SetMode(ModeOff)

		device := newTestDevice(t, server)
		require.NoError(t, device.Interview(ctx))
		server.FailNext(EndpointMovieFull, http.StatusInternalServerError)
		server.ResetCalls()

		err := device.SetStaticColour(ctx, Colour{R: 255})
		var te *TransportError
		require.ErrorAs(t, err, &te)

		assert.Equal(t, []string{"/xled/v1/led/movie/full"}, testutil.Paths(server.Calls()))
		assert.Equal(t, ModeOff, server.Mode())
	})
}

func TestDevice_ModeAndBrightness(t *testing.T) {
	ctx := context.Background()
	server := testutil.NewMockTwinklyServer(10)
	defer server.Close()
	device := newTestDevice(t, server)

	t.Run("on off", func(t *testing.T) {
		require.NoError(t, device.SetOn(ctx, false))
		on, err := device.IsOn(ctx)
		require.NoError(t, err)
		assert.False(t, on)

		require.NoError(t, device.SetOn(ctx, true))
		on, err = device.IsOn(ctx)
		require.NoError(t, err)
		assert.True(t, on)
		assert.Equal(t, ModeMovie, server.Mode())
	})

	t.Run("disabled limiter reads as full brightness", func(t *testing.T) {
		server.SetBrightness(40, false)
		pct, err := device.Brightness(ctx)
		require.NoError(t, err)
		assert.Equal(t, 100, pct)
	})

	t.Run("set brightness enables limiter", func(t *testing.T) {
		require.NoError(t, device.SetBrightness(ctx, 42))
		pct, enabled := server.Brightness()
		assert.Equal(t, 42, pct)
		assert.True(t, enabled)

		got, err := device.Brightness(ctx)
		require.NoError(t, err)
		assert.Equal(t, 42, got)
	})

	t.Run("movie config ack", func(t *testing.T) {
		ack, err := device.SetMovieConfig(ctx, MovieConfig{FrameCount: 1, LEDCount: 10})
		require.NoError(t, err)
		require.NotNil(t, ack)
		assert.EqualValues(t, 1000, ack["code"])
	})
}

func TestStaticFrame(t *testing.T) {
	assert.Empty(t, StaticFrame(Colour{R: 1}, 0))
	assert.Equal(t, []byte{9, 8, 7, 6, 9, 8, 7, 6}, StaticFrame(Colour{W: 9, R: 8, G: 7, B: 6}, 2))
}
