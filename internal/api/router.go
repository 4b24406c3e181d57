package api

import (
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"

	"persona-chat/internal/assistant"
	"persona-chat/internal/config"
	"persona-chat/internal/db"
)

// responseWriter wraps http.ResponseWriter to capture status code
type responseWriter struct {
	http.ResponseWriter
	statusCode int
}

func newResponseWriter(w http.ResponseWriter) *responseWriter {
	return &responseWriter{ResponseWriter: w, statusCode: http.StatusOK}
}

func (rw *responseWriter) WriteHeader(code int) {
	rw.statusCode = code
	rw.ResponseWriter.WriteHeader(code)
}

// Flush implements http.Flusher interface for SSE support
func (rw *responseWriter) Flush() {
	if f, ok := rw.ResponseWriter.(http.Flusher); ok {
		f.Flush()
	}
}

// Router holds the HTTP multiplexer and dependencies
type Router struct {
	mux             *http.ServeMux
	personaHandler  *PersonaHandler
	chatHandler     *ChatHandler
	settingsHandler *SettingsHandler
	eventsHandler   *PersonaEventsHandler
	broadcaster     *EventBroadcaster
	staticDir       string
}

// NewRouter creates a new router with all routes configured
func NewRouter(database *db.DB, service *assistant.Service, settings *config.Settings, staticDir string) *Router {
	// Create event broadcaster for SSE
	broadcaster := NewEventBroadcaster()

	r := &Router{
		mux:             http.NewServeMux(),
		personaHandler:  NewPersonaHandler(database),
		chatHandler:     NewChatHandler(database, service, broadcaster),
		settingsHandler: NewSettingsHandler(settings),
		eventsHandler:   NewPersonaEventsHandler(database, broadcaster),
		broadcaster:     broadcaster,
		staticDir:       staticDir,
	}
	r.setupRoutes()
	return r
}

// setupRoutes configures all HTTP routes
func (r *Router) setupRoutes() {
	// Health check and metrics
	r.mux.HandleFunc("GET /health", HealthHandler)
	r.mux.Handle("GET /metrics", promhttp.Handler())

	// Persona routes
	r.mux.HandleFunc("GET /api/personas", r.personaHandler.List)
	r.mux.HandleFunc("POST /api/personas", r.personaHandler.Create)
	r.mux.HandleFunc("GET /api/personas/{id}", r.personaHandler.Get)
	r.mux.HandleFunc("DELETE /api/personas/{id}", r.personaHandler.Delete)
	r.mux.HandleFunc("DELETE /api/personas/{id}/session", r.personaHandler.ResetSession)

	// Message routes
	r.mux.HandleFunc("GET /api/personas/{id}/messages", r.chatHandler.GetMessages)
	r.mux.HandleFunc("POST /api/personas/{id}/messages", r.chatHandler.SendMessage)
	r.mux.HandleFunc("POST /api/personas/{id}/content", r.chatHandler.GenerateContent)

	// SSE events route
	r.mux.HandleFunc("GET /api/personas/{id}/events", r.eventsHandler.HandleEvents)

	// Settings routes
	r.mux.HandleFunc("GET /api/settings/ai", r.settingsHandler.Get)
	r.mux.HandleFunc("PUT /api/settings/ai/provider", r.settingsHandler.SelectProvider)
	r.mux.HandleFunc("PUT /api/settings/ai/providers/{provider}", r.settingsHandler.UpdateProvider)

	// Static file serving (for frontend)
	if r.staticDir != "" {
		r.mux.HandleFunc("GET /", r.serveStatic)
	}
}

// serveStatic serves static files from the static directory
func (r *Router) serveStatic(w http.ResponseWriter, req *http.Request) {
	path := req.URL.Path
	if path == "/" {
		path = "/index.html"
	}

	filePath := filepath.Join(r.staticDir, path)

	// Check if file exists
	if _, err := os.Stat(filePath); os.IsNotExist(err) {
		// Serve index.html for SPA routing
		filePath = filepath.Join(r.staticDir, "index.html")
	}

	http.ServeFile(w, req, filePath)
}

// ServeHTTP implements the http.Handler interface
func (r *Router) ServeHTTP(w http.ResponseWriter, req *http.Request) {
	start := time.Now()

	// Add CORS headers for development
	w.Header().Set("Access-Control-Allow-Origin", "*")
	w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
	w.Header().Set("Access-Control-Allow-Headers", "Content-Type, "+ActorHeader)

	if req.Method == "OPTIONS" {
		log.Printf("[HTTP] CORS preflight method=OPTIONS path=%s", req.URL.Path)
		w.WriteHeader(http.StatusOK)
		return
	}

	// Skip logging for static files, health checks, and SSE endpoints
	shouldLog := strings.HasPrefix(req.URL.Path, "/api/") && !strings.HasSuffix(req.URL.Path, "/events")

	if shouldLog {
		log.Printf("[HTTP] Request started method=%s path=%s", req.Method, req.URL.Path)
	}

	// Wrap response writer to capture status code
	wrapped := newResponseWriter(w)
	r.mux.ServeHTTP(wrapped, req)

	if shouldLog {
		log.Printf("[HTTP] Request completed method=%s path=%s status=%d duration=%v",
			req.Method, req.URL.Path, wrapped.statusCode, time.Since(start))
	}
}

// GetBroadcaster returns the event broadcaster
func (r *Router) GetBroadcaster() *EventBroadcaster {
	return r.broadcaster
}
