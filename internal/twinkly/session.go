package twinkly

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
)

// Call describes one authenticated request.
// A call with neither Payload nor Raw is a GET, anything else is a POST.
type Call struct {
	Endpoint    string
	Payload     interface{}
	Raw         []byte
	ContentType string
	RetryBudget int
}

func (c Call) method() string {
	if c.Payload == nil && c.Raw == nil {
		return http.MethodGet
	}
	return http.MethodPost
}

// Session owns the token for a single device endpoint and refreshes it
// transparently. Calls are not serialized: two goroutines racing on an
// expired token may both log in, and the last stored token wins.
type Session struct {
	baseURL    string
	httpClient *http.Client
	logger     *zap.Logger

	tokenMu sync.RWMutex
	token   string
}

// NewSession creates a session for the device at host. The http client is
// owned by the session and must not be shared with other devices.
func NewSession(host string, httpClient *http.Client, logger *zap.Logger) *Session {
	if httpClient == nil {
		httpClient = NewHTTPClient(DefaultTimeout)
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Session{
		baseURL:    baseURL(host),
		httpClient: httpClient,
		logger:     logger,
	}
}

// NewHTTPClient builds a client with a private transport. Closing its idle
// connections does not affect any other device.
func NewHTTPClient(timeout time.Duration) *http.Client {
	return &http.Client{
		Timeout:   timeout,
		Transport: http.DefaultTransport.(*http.Transport).Clone(),
	}
}

func baseURL(host string) string {
	if strings.HasPrefix(host, "http://") || strings.HasPrefix(host, "https://") {
		return strings.TrimSuffix(host, "/") + "/xled/v1/"
	}
	return fmt.Sprintf("http://%s/xled/v1/", host)
}

// BaseURL returns the root all endpoints are resolved against
func (s *Session) BaseURL() string {
	return s.baseURL
}

// Token returns the stored token, or "" when the session is not authenticated
func (s *Session) Token() string {
	s.tokenMu.RLock()
	defer s.tokenMu.RUnlock()
	return s.token
}

// ClearToken forgets the stored token; the next call logs in again
func (s *Session) ClearToken() {
	s.setToken("")
}

func (s *Session) setToken(token string) {
	s.tokenMu.Lock()
	s.token = token
	s.tokenMu.Unlock()
}

// Close releases idle connections held by the session's transport
func (s *Session) Close() {
	s.httpClient.CloseIdleConnections()
}

// Authenticate logs in with the fixed challenge and verifies the returned
// token. The token is stored only after verification succeeds.
func (s *Session) Authenticate(ctx context.Context) error {
	body, err := json.Marshal(loginRequest{Challenge: LoginChallenge})
	if err != nil {
		return fmt.Errorf("failed to encode login challenge: %w", err)
	}

	resp, err := s.roundTrip(ctx, http.MethodPost, EndpointLogin, bytes.NewReader(body), contentTypeJSON, "")
	if err != nil {
		authCounter.WithLabelValues("login_failed").Inc()
		return transportError(EndpointLogin, err)
	}

	var login loginResponse
	if err := json.Unmarshal(resp, &login); err != nil {
		authCounter.WithLabelValues("login_failed").Inc()
		return &TransportError{Endpoint: EndpointLogin, Err: fmt.Errorf("failed to decode login response: %w", err)}
	}
	if login.AuthenticationToken == "" {
		authCounter.WithLabelValues("login_failed").Inc()
		return &TransportError{Endpoint: EndpointLogin, Err: errors.New("login response carried no authentication_token")}
	}

	if _, err := s.roundTrip(ctx, http.MethodPost, EndpointVerify, nil, "", login.AuthenticationToken); err != nil {
		authCounter.WithLabelValues("verify_failed").Inc()
		return transportError(EndpointVerify, err)
	}

	s.setToken(login.AuthenticationToken)
	authCounter.WithLabelValues("ok").Inc()
	s.logger.Debug("Authenticated to device", zap.String("base_url", s.baseURL))
	return nil
}

// Do sends an authenticated call and returns the response body. On 401 the
// token is dropped and the call is retried while RetryBudget allows it.
func (s *Session) Do(ctx context.Context, call Call) ([]byte, error) {
	if s.Token() == "" {
		if err := s.Authenticate(ctx); err != nil {
			return nil, err
		}
	}

	var body io.Reader
	contentType := call.ContentType
	switch {
	case call.Raw != nil:
		body = bytes.NewReader(call.Raw)
	case call.Payload != nil:
		encoded, err := json.Marshal(call.Payload)
		if err != nil {
			return nil, fmt.Errorf("failed to encode payload for %s: %w", call.Endpoint, err)
		}
		body = bytes.NewReader(encoded)
		if contentType == "" {
			contentType = contentTypeJSON
		}
	}

	resp, err := s.roundTrip(ctx, call.method(), call.Endpoint, body, contentType, s.Token())
	if err == nil {
		requestCounter.WithLabelValues(call.Endpoint, "ok").Inc()
		return resp, nil
	}

	var se statusError
	if errors.As(err, &se) && se.status == http.StatusUnauthorized {
		// a rejected token is never kept
		s.ClearToken()
		if call.RetryBudget > 0 {
			requestCounter.WithLabelValues(call.Endpoint, "reauth").Inc()
			s.logger.Debug("Token rejected, re-authenticating",
				zap.String("endpoint", call.Endpoint),
				zap.Int("retry_budget", call.RetryBudget))
			call.RetryBudget--
			return s.Do(ctx, call)
		}
		requestCounter.WithLabelValues(call.Endpoint, "unauthorized").Inc()
		return nil, &AuthError{Endpoint: call.Endpoint, Err: err}
	}

	requestCounter.WithLabelValues(call.Endpoint, "error").Inc()
	return nil, transportError(call.Endpoint, err)
}

// Get performs an authenticated GET and decodes the JSON body into out
func (s *Session) Get(ctx context.Context, endpoint string, out interface{}) error {
	resp, err := s.Do(ctx, Call{Endpoint: endpoint, RetryBudget: DefaultRetryBudget})
	if err != nil {
		return err
	}
	if err := json.Unmarshal(resp, out); err != nil {
		return &TransportError{Endpoint: endpoint, Err: fmt.Errorf("failed to decode response: %w", err)}
	}
	return nil
}

// Post performs an authenticated JSON write and discards the response body
func (s *Session) Post(ctx context.Context, endpoint string, payload interface{}) error {
	_, err := s.Do(ctx, Call{Endpoint: endpoint, Payload: payload, RetryBudget: DefaultRetryBudget})
	return err
}

// PostRaw performs an authenticated write with a non-JSON body
func (s *Session) PostRaw(ctx context.Context, endpoint string, body []byte, contentType string) error {
	_, err := s.Do(ctx, Call{
		Endpoint:    endpoint,
		Raw:         body,
		ContentType: contentType,
		RetryBudget: DefaultRetryBudget,
	})
	return err
}

func (s *Session) roundTrip(ctx context.Context, method, endpoint string, body io.Reader, contentType, token string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, method, s.baseURL+endpoint, body)
	if err != nil {
		return nil, fmt.Errorf("could not create request %s %s: %w", method, endpoint, err)
	}
	if contentType != "" {
		req.Header.Set("Content-Type", contentType)
	}
	if token != "" {
		req.Header.Set(HeaderAuthToken, token)
	}

	resp, err := s.httpClient.Do(req)
	if err != nil {
		return nil, err
	}
	defer resp.Body.Close()

	data, err := io.ReadAll(resp.Body)
	if err != nil {
		return nil, fmt.Errorf("failed to read response: %w", err)
	}

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, statusError{status: resp.StatusCode, body: strings.TrimSpace(string(data))}
	}
	return data, nil
}

func transportError(endpoint string, err error) error {
	te := &TransportError{Endpoint: endpoint, Err: err}
	var se statusError
	if errors.As(err, &se) {
		te.StatusCode = se.status
	}
	return te
}
