package server

import (
	"crypto/subtle"
	"log/slog"
	"net/http"
	"sync"

	"github.com/gorilla/websocket"

	"github.com/SmitUplenchwar2687/txreplay/internal/storage"
)

// authHeader carries the shared secret for WebSocket clients.
const authHeader = "X-Auth-Key"

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool {
		return true // replay server for local test rigs
	},
}

// wsSink delivers each payload as one text message.
type wsSink struct {
	mu   sync.Mutex
	conn *websocket.Conn
}

func (s *wsSink) Send(payload string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.conn.WriteMessage(websocket.TextMessage, []byte(payload))
}

func (s *wsSink) close(reason string) {
	s.mu.Lock()
	defer s.mu.Unlock()
	msg := websocket.FormatCloseMessage(websocket.CloseNormalClosure, reason)
	_ = s.conn.WriteMessage(websocket.CloseMessage, msg)
	_ = s.conn.Close()
}

// handleWebSocket authenticates the request, upgrades it and streams one replay pass.
func (s *HTTPServer) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	d := s.dispatcher
	id := "ws-" + d.nextID()
	log := d.logger.With(slog.String("session", id), slog.String("remote", r.RemoteAddr))

	if key := d.opts.Key; len(key) > 0 {
		got := r.Header.Get(authHeader)
		if got == "" {
			got = r.URL.Query().Get("key")
		}
		if subtle.ConstantTimeCompare([]byte(got), key) != 1 {
			log.Warn("websocket auth failed")
			d.count(r.Context(), storage.StatAuthFailures, log)
			http.Error(w, `{"error":"unauthorized"}`, http.StatusUnauthorized)
			return
		}
	}
	if !d.admit(r.Context(), r.RemoteAddr, log) {
		http.Error(w, `{"error":"too many sessions"}`, http.StatusTooManyRequests)
		return
	}

	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Warn("websocket upgrade error", slog.Any("err", err))
		return
	}
	log.Info("server: websocket client accepted")

	ws := &wsSink{conn: conn}
	sink := watchPeer(ws, func() error {
		_, _, err := conn.ReadMessage()
		return err
	})
	summary := d.runSession(r.Context(), id, sink, log)
	ws.close(string(summary.State))
	log.Info("server: close")
}
