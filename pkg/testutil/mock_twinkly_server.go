// Package testutil provides testing utilities for the device integrations.
// It contains mock Twinkly and boiler gateway HTTP servers and helpers for
// writing integration tests against them.
package testutil

import (
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

const twinklyPrefix = "/xled/v1/"

// MockTwinklyServer simulates the HTTP API of a Twinkly LED string
type MockTwinklyServer struct {
	server *httptest.Server

	mu          sync.Mutex
	tokens      []string
	issued      int
	validToken  string
	deviceInfo  map[string]interface{}
	mode        string
	brightness  int
	limiterOn   bool
	movie       []byte
	movieConfig map[string]interface{}
	failures    map[string][]int
	reject      map[string]bool
	calls       []DeviceCall
}

// NewMockTwinklyServer starts a mock device with ledCount LEDs
func NewMockTwinklyServer(ledCount int) *MockTwinklyServer {
	s := &MockTwinklyServer{
		deviceInfo: map[string]interface{}{
			"uuid":          "00000000-0000-0000-0000-000000000001",
			"device_name":   "Twinkly_Test",
			"product_code":  "TWS250STP",
			"number_of_led": ledCount,
			"fw_family":     "F",
			"code":          1000,
			"copyright":     "LEDWORKS 2018",
			"mac":           "98:f4:ab:00:00:00",
		},
		mode:       "movie",
		brightness: 100,
		failures:   make(map[string][]int),
		reject:     make(map[string]bool),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the base URL of the mock, usable as a device host
func (s *MockTwinklyServer) URL() string {
	return s.server.URL
}

// Close shuts the mock down
func (s *MockTwinklyServer) Close() {
	s.server.Close()
}

// SetTokens sets the tokens handed out by successive logins.
// Once exhausted, tokens are generated as "token-<n>".
func (s *MockTwinklyServer) SetTokens(tokens ...string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.tokens = append([]string(nil), tokens...)
}

// ExpireToken invalidates the current token so the next authenticated call gets a 401
func (s *MockTwinklyServer) ExpireToken() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.validToken = ""
}

// FailNext makes the next requests to endpoint return the given statuses, in order
func (s *MockTwinklyServer) FailNext(endpoint string, statuses ...int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failures[endpoint] = append(s.failures[endpoint], statuses...)
}

// RejectAlways makes every request to endpoint return 401 until cleared
func (s *MockTwinklyServer) RejectAlways(endpoint string, reject bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.reject[endpoint] = reject
}

// SetDeviceInfo overrides a device info attribute
func (s *MockTwinklyServer) SetDeviceInfo(key string, value interface{}) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.deviceInfo[key] = value
}

// SetMode sets the mode reported by the device
func (s *MockTwinklyServer) SetMode(mode string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.mode = mode
}

// SetBrightness sets the brightness limiter reported by the device
func (s *MockTwinklyServer) SetBrightness(pct int, enabled bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.brightness = pct
	s.limiterOn = enabled
}

// Mode returns the current device mode
func (s *MockTwinklyServer) Mode() string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mode
}

// Brightness returns the brightness limiter value and whether it is enabled
func (s *MockTwinklyServer) Brightness() (int, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.brightness, s.limiterOn
}

// Movie returns the last uploaded frame buffer
func (s *MockTwinklyServer) Movie() []byte {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]byte(nil), s.movie...)
}

// MovieConfig returns the last uploaded movie config
func (s *MockTwinklyServer) MovieConfig() map[string]interface{} {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.movieConfig
}

// Calls returns every request received so far
func (s *MockTwinklyServer) Calls() []DeviceCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeviceCall(nil), s.calls...)
}

// CallCount returns how many requests hit endpoint (relative, e.g. "gestalt")
func (s *MockTwinklyServer) CallCount(endpoint string) int {
	return len(FilterDeviceCalls(s.Calls(), "", twinklyPrefix+endpoint))
}

// ResetCalls forgets the recorded requests
func (s *MockTwinklyServer) ResetCalls() {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls = nil
}

func (s *MockTwinklyServer) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	token := r.Header.Get("X-Auth-Token")

	s.mu.Lock()
	s.calls = append(s.calls, DeviceCall{
		Timestamp:   time.Now(),
		Method:      r.Method,
		Path:        r.URL.Path,
		Token:       token,
		ContentType: r.Header.Get("Content-Type"),
		Body:        body,
	})

	endpoint := strings.TrimPrefix(r.URL.Path, twinklyPrefix)
	if queued := s.failures[endpoint]; len(queued) > 0 {
		status := queued[0]
		s.failures[endpoint] = queued[1:]
		s.mu.Unlock()
		http.Error(w, http.StatusText(status), status)
		return
	}
	rejected := s.reject[endpoint]
	s.mu.Unlock()

	if rejected {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	switch endpoint {
	case "login":
		s.handleLogin(w, r, body)
		return
	case "verify":
		if !s.authorized(token) {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]interface{}{"code": 1000})
		return
	}

	if !s.authorized(token) {
		http.Error(w, "Unauthorized", http.StatusUnauthorized)
		return
	}

	switch endpoint {
	case "gestalt":
		s.mu.Lock()
		info := make(map[string]interface{}, len(s.deviceInfo))
		for k, v := range s.deviceInfo {
			info[k] = v
		}
		s.mu.Unlock()
		writeJSON(w, info)

	case "led/mode":
		if r.Method == http.MethodGet {
			writeJSON(w, map[string]interface{}{"mode": s.Mode(), "code": 1000})
			return
		}
		var req struct {
			Mode string `json:"mode"`
		}
		if err := json.Unmarshal(body, &req); err != nil || req.Mode == "" {
			http.Error(w, "invalid mode", http.StatusBadRequest)
			return
		}
		s.SetMode(req.Mode)
		writeJSON(w, map[string]interface{}{"code": 1000})

	case "led/out/brightness":
		if r.Method == http.MethodGet {
			pct, enabled := s.Brightness()
			mode := "disabled"
			if enabled {
				mode = "enabled"
			}
			writeJSON(w, map[string]interface{}{"mode": mode, "value": pct, "code": 1000})
			return
		}
		var req struct {
			Mode  string `json:"mode"`
			Value int    `json:"value"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid brightness", http.StatusBadRequest)
			return
		}
		s.SetBrightness(req.Value, req.Mode == "enabled")
		writeJSON(w, map[string]interface{}{"code": 1000})

	case "led/movie/full":
		s.mu.Lock()
		s.movie = body
		frames := len(body) / 4
		s.mu.Unlock()
		writeJSON(w, map[string]interface{}{"frames_number": frames, "code": 1000})

	case "led/movie/config":
		var cfg map[string]interface{}
		if err := json.Unmarshal(body, &cfg); err != nil {
			http.Error(w, "invalid movie config", http.StatusBadRequest)
			return
		}
		s.mu.Lock()
		s.movieConfig = cfg
		s.mu.Unlock()
		writeJSON(w, map[string]interface{}{"code": 1000})

	default:
		http.NotFound(w, r)
	}
}

func (s *MockTwinklyServer) handleLogin(w http.ResponseWriter, r *http.Request, body []byte) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	var req struct {
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(body, &req); err != nil || req.Challenge == "" {
		http.Error(w, "missing challenge", http.StatusBadRequest)
		return
	}

	s.mu.Lock()
	s.issued++
	token := fmt.Sprintf("token-%d", s.issued)
	if len(s.tokens) > 0 {
		token = s.tokens[0]
		s.tokens = s.tokens[1:]
	}
	s.validToken = token
	s.mu.Unlock()

	writeJSON(w, map[string]interface{}{
		"authentication_token":            token,
		"authentication_token_expires_in": 14400,
		"challenge-response":              "0000",
		"code":                            1000,
	})
}

func (s *MockTwinklyServer) authorized(token string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	return token != "" && token == s.validToken
}

func writeJSON(w http.ResponseWriter, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	json.NewEncoder(w).Encode(v)
}
