package testutil

import (
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"time"
)

const gatewayPrefix = "/api"

// MockGatewayServer simulates the REST bridge in front of a Nefit Easy boiler
type MockGatewayServer struct {
	server *httptest.Server

	mu       sync.Mutex
	values   map[string]string
	failures map[string]int
	calls    []DeviceCall
}

// NewMockGatewayServer starts a mock gateway with a few common endpoints populated
func NewMockGatewayServer() *MockGatewayServer {
	s := &MockGatewayServer{
		values: map[string]string{
			"/heatingCircuits/hc1/usermode":            "clock",
			"/dhwCircuits/dhwA/dhwOperationClockMode":  "on",
			"/dhwCircuits/dhwA/dhwOperationManualMode": "off",
			"/ecus/rrc/lockuserinterface":              "false",
			"/heatingCircuits/hc1/control":             "weather",
			"/heatingCircuits/hc1/holidayMode/status":  "off",
		},
		failures: make(map[string]int),
	}
	s.server = httptest.NewServer(http.HandlerFunc(s.handle))
	return s
}

// URL returns the base URL of the gateway
func (s *MockGatewayServer) URL() string {
	return s.server.URL
}

// Close shuts the mock down
func (s *MockGatewayServer) Close() {
	s.server.Close()
}

// SetValue sets the value reported for uri
func (s *MockGatewayServer) SetValue(uri, value string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.values[uri] = value
}

// Value returns the current value stored for uri
func (s *MockGatewayServer) Value(uri string) string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.values[uri]
}

// FailWith makes every request to uri return status until cleared with 0
func (s *MockGatewayServer) FailWith(uri string, status int) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if status == 0 {
		delete(s.failures, uri)
		return
	}
	s.failures[uri] = status
}

// Calls returns every request received so far
func (s *MockGatewayServer) Calls() []DeviceCall {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]DeviceCall(nil), s.calls...)
}

func (s *MockGatewayServer) handle(w http.ResponseWriter, r *http.Request) {
	body, _ := io.ReadAll(r.Body)
	uri := strings.TrimPrefix(r.URL.Path, gatewayPrefix)

	s.mu.Lock()
	s.calls = append(s.calls, DeviceCall{
		Timestamp:   time.Now(),
		Method:      r.Method,
		Path:        uri,
		ContentType: r.Header.Get("Content-Type"),
		Body:        body,
	})
	status, failing := s.failures[uri]
	value, known := s.values[uri]
	s.mu.Unlock()

	if failing {
		http.Error(w, http.StatusText(status), status)
		return
	}

	switch r.Method {
	case http.MethodGet:
		if !known {
			http.NotFound(w, r)
			return
		}
		writeJSON(w, map[string]interface{}{
			"id":        uri,
			"type":      "stringValue",
			"writeable": 1,
			"value":     value,
		})
	case http.MethodPut:
		var req struct {
			Value string `json:"value"`
		}
		if err := json.Unmarshal(body, &req); err != nil {
			http.Error(w, "invalid body", http.StatusBadRequest)
			return
		}
		s.SetValue(uri, req.Value)
		writeJSON(w, map[string]interface{}{"status": "ok"})
	default:
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
	}
}
