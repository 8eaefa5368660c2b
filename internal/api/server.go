package api

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net/http"
	"strings"
	"time"

	"homeintegrations/internal/buienradar"
	"homeintegrations/pkg/entity"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"
)

// EntityService is the view of the integration manager the API needs
type EntityService interface {
	Entities() []entity.Entity
	Entity(id string) (entity.Entity, bool)
	Refresh(ctx context.Context, id string) (entity.Snapshot, error)
	Subscribe() (<-chan entity.Snapshot, func())
}

// FlowService runs the Buienradar configuration flow
type FlowService interface {
	StepUser(input map[string]interface{}) (buienradar.Result, error)
	StepImport(input map[string]interface{}) (buienradar.Result, error)
}

// Server provides HTTP API endpoints for the integrations
type Server struct {
	entities EntityService
	flow     FlowService
	logger   *zap.Logger
	server   *http.Server
}

// NewServer creates a new API server
func NewServer(entities EntityService, flow FlowService, logger *zap.Logger, port int) *Server {
	if logger == nil {
		logger = zap.NewNop()
	}
	s := &Server{
		entities: entities,
		flow:     flow,
		logger:   logger,
	}

	s.server = &http.Server{
		Addr:         fmt.Sprintf(":%d", port),
		Handler:      s.Handler(),
		ReadTimeout:  10 * time.Second,
		WriteTimeout: 10 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	return s
}

// Handler builds the router
func (s *Server) Handler() http.Handler {
	r := chi.NewRouter()
	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(s.requestLogger)

	r.Get("/", s.handleSitemap)
	r.Get("/health", s.handleHealth)
	r.Handle("/metrics", promhttp.Handler())

	r.Route("/api", func(r chi.Router) {
		r.Get("/ws", s.handleWebsocket)

		r.Route("/entities", func(r chi.Router) {
			r.Get("/", s.handleListEntities)
			r.Route("/{id}", func(r chi.Router) {
				r.Get("/", s.handleGetEntity)
				r.Post("/turn_on", s.handleTurnOn)
				r.Post("/turn_off", s.handleTurnOff)
			})
		})

		r.Route("/flows/buienradar", func(r chi.Router) {
			r.Post("/user", s.handleFlowUser)
			r.Post("/import", s.handleFlowImport)
		})
	})

	return r
}

func (s *Server) requestLogger(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)
		s.logger.Debug("Request served",
			zap.String("method", r.Method),
			zap.String("path", r.URL.Path),
			zap.Int("status", ww.Status()),
			zap.Duration("duration", time.Since(start)),
			zap.String("request_id", chimw.GetReqID(r.Context())),
			zap.String("remote_addr", r.RemoteAddr))
	})
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, map[string]string{"error": msg})
}

// handleHealth returns a simple health check response
func (s *Server) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{
		"status": "ok",
	})
}

func (s *Server) handleListEntities(w http.ResponseWriter, r *http.Request) {
	entities := s.entities.Entities()
	snapshots := make([]entity.Snapshot, 0, len(entities))
	for _, e := range entities {
		snapshots = append(snapshots, e.Snapshot())
	}
	writeJSON(w, http.StatusOK, snapshots)
}

func (s *Server) handleGetEntity(w http.ResponseWriter, r *http.Request) {
	e, ok := s.entities.Entity(chi.URLParam(r, "id"))
	if !ok {
		writeError(w, http.StatusNotFound, "entity not found")
		return
	}
	writeJSON(w, http.StatusOK, e.Snapshot())
}

func (s *Server) toggler(w http.ResponseWriter, r *http.Request) (string, entity.Toggler, bool) {
	id := chi.URLParam(r, "id")
	e, ok := s.entities.Entity(id)
	if !ok {
		writeError(w, http.StatusNotFound, "entity not found")
		return id, nil, false
	}
	t, ok := e.(entity.Toggler)
	if !ok {
		writeError(w, http.StatusMethodNotAllowed, "entity cannot be switched")
		return id, nil, false
	}
	return id, t, true
}

func (s *Server) handleTurnOn(w http.ResponseWriter, r *http.Request) {
	id, t, ok := s.toggler(w, r)
	if !ok {
		return
	}

	var opts entity.TurnOnOptions
	if err := decodeBody(r, &opts); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	s.finishWrite(w, r, id, t.TurnOn(r.Context(), opts))
}

func (s *Server) handleTurnOff(w http.ResponseWriter, r *http.Request) {
	id, t, ok := s.toggler(w, r)
	if !ok {
		return
	}
	s.finishWrite(w, r, id, t.TurnOff(r.Context()))
}

// finishWrite maps a write result to a status and returns the refreshed state
func (s *Server) finishWrite(w http.ResponseWriter, r *http.Request, id string, err error) {
	switch {
	case errors.Is(err, entity.ErrUnavailable):
		writeError(w, http.StatusServiceUnavailable, err.Error())
		return
	case err != nil:
		s.logger.Warn("Entity write failed", zap.String("entity_id", id), zap.Error(err))
		writeError(w, http.StatusBadGateway, err.Error())
		return
	}

	snapshot, err := s.entities.Refresh(r.Context(), id)
	if err != nil {
		s.logger.Debug("Refresh after write failed", zap.String("entity_id", id), zap.Error(err))
	}
	writeJSON(w, http.StatusOK, snapshot)
}

func (s *Server) handleFlowUser(w http.ResponseWriter, r *http.Request) {
	var input map[string]interface{}
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	s.runFlowStep(w, s.flow.StepUser, input)
}

func (s *Server) handleFlowImport(w http.ResponseWriter, r *http.Request) {
	var input map[string]interface{}
	if err := decodeBody(r, &input); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	if input == nil {
		writeError(w, http.StatusBadRequest, "import requires a body")
		return
	}
	s.runFlowStep(w, s.flow.StepImport, input)
}

func (s *Server) runFlowStep(w http.ResponseWriter, step func(map[string]interface{}) (buienradar.Result, error), input map[string]interface{}) {
	result, err := step(input)
	if err != nil {
		s.logger.Error("Flow step failed", zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	status := http.StatusOK
	if result.Type == buienradar.ResultCreateEntry {
		status = http.StatusCreated
	}
	writeJSON(w, status, result)
}

// decodeBody decodes a JSON body; an empty body leaves v untouched
func decodeBody(r *http.Request, v interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return fmt.Errorf("invalid JSON body: %w", err)
	}
	return nil
}

// Endpoint represents an API endpoint with its documentation
type Endpoint struct {
	Path        string `json:"path"`
	Method      string `json:"method"`
	Description string `json:"description"`
}

var endpoints = []Endpoint{
	{Path: "/", Method: "GET", Description: "This sitemap - lists all available API endpoints"},
	{Path: "/health", Method: "GET", Description: "Health check endpoint - returns {\"status\": \"ok\"}"},
	{Path: "/metrics", Method: "GET", Description: "Prometheus metrics"},
	{Path: "/api/entities", Method: "GET", Description: "List all entities with state and attributes"},
	{Path: "/api/entities/{id}", Method: "GET", Description: "Get one entity"},
	{Path: "/api/entities/{id}/turn_on", Method: "POST", Description: "Turn on; optional body {brightness, hs_color, white_value}"},
	{Path: "/api/entities/{id}/turn_off", Method: "POST", Description: "Turn off"},
	{Path: "/api/flows/buienradar/user", Method: "POST", Description: "Buienradar user step; empty body shows the form"},
	{Path: "/api/flows/buienradar/import", Method: "POST", Description: "Buienradar import step"},
	{Path: "/api/ws", Method: "GET", Description: "WebSocket stream of entity state changes"},
}

// handleSitemap returns a list of all available API endpoints
func (s *Server) handleSitemap(w http.ResponseWriter, r *http.Request) {
	// Browsers get HTML, terminals get plain text
	preferHTML := strings.Contains(r.Header.Get("Accept"), "text/html")

	if preferHTML {
		w.Header().Set("Content-Type", "text/html; charset=utf-8")
		fmt.Fprintf(w, `<!DOCTYPE html>
<html>
<head>
    <title>Home Integrations API</title>
    <style>
        body { font-family: monospace; margin: 40px; background: #1e1e1e; color: #d4d4d4; }
        h1 { color: #4ec9b0; }
        .endpoint { background: #2d2d2d; padding: 15px; margin: 10px 0; border-left: 3px solid #007acc; }
        .method { color: #4ec9b0; font-weight: bold; }
        .path { color: #ce9178; }
        .description { color: #9cdcfe; margin-top: 5px; }
    </style>
</head>
<body>
    <h1>Home Integrations API</h1>
`)
		for _, ep := range endpoints {
			fmt.Fprintf(w, `    <div class="endpoint">
        <div><span class="method">%s</span> <span class="path">%s</span></div>
        <div class="description">%s</div>
    </div>
`, ep.Method, ep.Path, ep.Description)
		}
		fmt.Fprintf(w, "</body>\n</html>\n")
		return
	}

	w.Header().Set("Content-Type", "text/plain; charset=utf-8")
	fmt.Fprintf(w, "Home Integrations API\n")
	fmt.Fprintf(w, "=====================\n\n")
	fmt.Fprintf(w, "Available endpoints:\n\n")
	for _, ep := range endpoints {
		fmt.Fprintf(w, "  %-6s %-30s %s\n", ep.Method, ep.Path, ep.Description)
	}
}

// Start begins serving HTTP requests
func (s *Server) Start() error {
	s.logger.Info("Starting HTTP API server", zap.String("addr", s.server.Addr))

	go func() {
		if err := s.server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			s.logger.Error("HTTP server error", zap.Error(err))
		}
	}()

	return nil
}

// Stop gracefully shuts down the HTTP server
func (s *Server) Stop() error {
	s.logger.Info("Stopping HTTP API server")

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := s.server.Shutdown(ctx); err != nil {
		return fmt.Errorf("failed to shutdown HTTP server: %w", err)
	}

	return nil
}
