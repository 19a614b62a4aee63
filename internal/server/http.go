package server

import (
	"context"
	"encoding/json"
	"log/slog"
	"net"
	"net/http"

	"github.com/gorilla/mux"
)

// HTTPServer exposes health, statistics and WebSocket replay sessions.
type HTTPServer struct {
	httpServer *http.Server
	router     *mux.Router
	dispatcher *Dispatcher
}

// NewHTTPServer creates the HTTP surface for d. Sessions started over
// WebSocket are served by the same engine and counted in the same stats.
func NewHTTPServer(addr string, d *Dispatcher) *HTTPServer {
	s := &HTTPServer{
		router:     mux.NewRouter(),
		dispatcher: d,
	}
	s.routes()
	s.httpServer = &http.Server{
		Addr:    addr,
		Handler: s.router,
	}
	return s
}

func (s *HTTPServer) routes() {
	s.router.HandleFunc("/health", s.handleHealth).Methods(http.MethodGet)
	s.router.HandleFunc("/api/stats", s.handleStats).Methods(http.MethodGet)
	s.router.HandleFunc("/ws", s.handleWebSocket).Methods(http.MethodGet)
}

// Handler returns the root handler, for tests and embedding.
func (s *HTTPServer) Handler() http.Handler { return s.router }

func (s *HTTPServer) handleHealth(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *HTTPServer) handleStats(w http.ResponseWriter, r *http.Request) {
	d := s.dispatcher
	settings := d.engine.Settings()

	body := map[string]interface{}{
		"active": d.Active(),
		"file":   settings.File,
		"pacing": settings.Pacing,
		"skip":   settings.Skip,
	}
	if d.opts.Stats != nil {
		counters, err := d.opts.Stats.Snapshot(r.Context())
		if err != nil {
			d.logger.Warn("stats snapshot failed", slog.Any("err", err))
			writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": err.Error()})
			return
		}
		body["counters"] = counters
	}
	writeJSON(w, http.StatusOK, body)
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}

// StartOnListener serves on ln until Shutdown. Request contexts, and so
// WebSocket sessions, derive from ctx and end when it is cancelled.
func (s *HTTPServer) StartOnListener(ctx context.Context, ln net.Listener) error {
	s.httpServer.BaseContext = func(net.Listener) context.Context { return ctx }
	s.dispatcher.logger.Info("http: listening", slog.String("addr", ln.Addr().String()))
	err := s.httpServer.Serve(ln)
	if err == http.ErrServerClosed {
		return nil
	}
	return err
}

// Shutdown gracefully shuts down the server.
func (s *HTTPServer) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}
