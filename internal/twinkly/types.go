package twinkly

import (
	"encoding/json"
	"time"
)

// Endpoints relative to the device base URL
const (
	EndpointLogin      = "login"
	EndpointVerify     = "verify"
	EndpointDeviceInfo = "gestalt"
	EndpointMode       = "led/mode"
	EndpointBrightness = "led/out/brightness"
	EndpointMovieConf  = "led/movie/config"
	EndpointMovieFull  = "led/movie/full"
)

const (
	// HeaderAuthToken carries the session token on every authenticated call
	HeaderAuthToken = "X-Auth-Token"

	// LoginChallenge is the fixed challenge the firmware accepts
	LoginChallenge = "Uswkc0TgJDmwl5jrsyaYSwY8fqeLJ1ihBLAwYcuADEo="

	// DefaultTimeout bounds every request made by a Session
	DefaultTimeout = 3 * time.Second

	// DefaultRetryBudget is the number of re-authentications allowed per call
	DefaultRetryBudget = 1

	contentTypeJSON   = "application/json"
	contentTypeBinary = "application/octet-stream"
)

// Device modes understood by the firmware
const (
	ModeOff   = "off"
	ModeMovie = "movie"
	ModeColor = "color"
	ModeDemo  = "demo"
)

// Keys in the gestalt (device info) payload
const (
	AttrID       = "uuid"
	AttrName     = "device_name"
	AttrModel    = "product_code"
	AttrLEDCount = "number_of_led"
)

// Colour is a single white/red/green/blue command, serialized in that order.
type Colour struct {
	W uint8
	R uint8
	G uint8
	B uint8
}

// MovieConfig defines playback of an uploaded frame buffer.
type MovieConfig struct {
	FrameCount   int `json:"frames_number"`
	LoopType     int `json:"loop_type"`
	FrameDelayMs int `json:"frame_delay"`
	LEDCount     int `json:"leds_number"`
}

// Snapshot is the interviewed device metadata.
type Snapshot struct {
	ID     string
	Name   string
	Model  string
	Length int
	Raw    map[string]interface{}
}

// Empty reports whether the snapshot has never been populated
func (s Snapshot) Empty() bool {
	return len(s.Raw) == 0
}

type loginRequest struct {
	Challenge string `json:"challenge"`
}

type loginResponse struct {
	AuthenticationToken string `json:"authentication_token"`
}

type modeRequest struct {
	Mode string `json:"mode"`
}

type modeResponse struct {
	Mode string `json:"mode"`
}

type brightnessRequest struct {
	Mode  string `json:"mode"`
	Type  string `json:"type"`
	Value int    `json:"value"`
}

type brightnessResponse struct {
	Mode  string      `json:"mode"`
	Value json.Number `json:"value"`
}
