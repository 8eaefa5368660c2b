// Package nefit drives a Nefit Easy boiler through the REST bridge that sits
// in front of its XMPP backend, and exposes the boiler's switches as entities.
package nefit

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"sort"
	"strings"
	"sync"

	"go.uber.org/multierr"
	"go.uber.org/zap"
)

const (
	apiPrefix = "/api"

	// KeyUserMode holds the heating program mode ("clock" or "manual")
	KeyUserMode      = "user_mode"
	EndpointUserMode = "/heatingCircuits/hc1/usermode"
)

type valueResponse struct {
	ID    string      `json:"id"`
	Type  string      `json:"type"`
	Value interface{} `json:"value"`
}

type valueRequest struct {
	Value string `json:"value"`
}

// Client reads and writes boiler values by endpoint URI and caches them by key
type Client struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	mu   sync.RWMutex
	keys map[string]string // endpoint -> key
	data map[string]string // key -> value
}

// NewClient creates a gateway client. The user mode is always watched since
// the hot water switch depends on it.
func NewClient(baseURL string, httpClient *http.Client, logger *zap.Logger) *Client {
	if httpClient == nil {
		httpClient = &http.Client{Transport: http.DefaultTransport.(*http.Transport).Clone()}
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	c := &Client{
		baseURL:    strings.TrimRight(baseURL, "/"),
		httpClient: httpClient,
		logger:     logger,
		keys:       make(map[string]string),
		data:       make(map[string]string),
	}
	c.Watch(EndpointUserMode, KeyUserMode)
	return c
}

// Watch registers endpoint so Refresh stores its value under key
func (c *Client) Watch(endpoint, key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.keys[endpoint] = key
}

// Value returns the cached value for key
func (c *Client) Value(key string) (string, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	v, ok := c.data[key]
	return v, ok
}

func (c *Client) store(key, value string) {
	c.mu.Lock()
	c.data[key] = value
	c.mu.Unlock()
}

// GetValue fetches endpoint from the boiler and caches it under key
func (c *Client) GetValue(ctx context.Context, key, endpoint string) (string, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, c.baseURL+apiPrefix+endpoint, nil)
	if err != nil {
		return "", fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}

	body, err := c.roundTrip(req)
	if err != nil {
		return "", err
	}

	var resp valueResponse
	decoder := json.NewDecoder(bytes.NewReader(body))
	decoder.UseNumber()
	if err := decoder.Decode(&resp); err != nil {
		return "", fmt.Errorf("failed to decode %s: %w", endpoint, err)
	}

	value := stringify(resp.Value)
	c.store(key, value)
	c.logger.Debug("Fetched value",
		zap.String("key", key),
		zap.String("endpoint", endpoint),
		zap.String("value", value))
	return value, nil
}

// PutValue writes value to endpoint
func (c *Client) PutValue(ctx context.Context, endpoint, value string) error {
	payload, err := json.Marshal(valueRequest{Value: value})
	if err != nil {
		return fmt.Errorf("failed to marshal value: %w", err)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodPut, c.baseURL+apiPrefix+endpoint, bytes.NewReader(payload))
	if err != nil {
		return fmt.Errorf("failed to build request for %s: %w", endpoint, err)
	}
	req.Header.Set("Content-Type", "application/json")

	_, err = c.roundTrip(req)
	return err
}

// Refresh fetches every watched endpoint. Failures do not stop the other
// fetches; all of them are returned together.
func (c *Client) Refresh(ctx context.Context) error {
	c.mu.RLock()
	endpoints := make([]string, 0, len(c.keys))
	for endpoint := range c.keys {
		endpoints = append(endpoints, endpoint)
	}
	c.mu.RUnlock()
	sort.Strings(endpoints)

	var errs error
	for _, endpoint := range endpoints {
		c.mu.RLock()
		key := c.keys[endpoint]
		c.mu.RUnlock()
		if _, err := c.GetValue(ctx, key, endpoint); err != nil {
			errs = multierr.Append(errs, err)
		}
	}
	return errs
}

func (c *Client) roundTrip(req *http.Request) ([]byte, error) {
	resp, err := c.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s %s: %w", req.Method, req.URL.Path, err)
	}
	defer resp.Body.Close()

	body, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}
	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return nil, fmt.Errorf("%s %s: unexpected status %d: %s",
			req.Method, req.URL.Path, resp.StatusCode, strings.TrimSpace(string(body)))
	}
	return body, nil
}

func stringify(v interface{}) string {
	switch value := v.(type) {
	case nil:
		return ""
	case string:
		return value
	default:
		return fmt.Sprint(value)
	}
}
