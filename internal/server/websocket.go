package server

import (
	"errors"
	"net/http"
	"time"

	"github.com/gorilla/websocket"

	"github.com/hermesync/hermesync/internal/core/observability/log"
)

var upgrader = websocket.Upgrader{
	ReadBufferSize:  1024,
	WriteBufferSize: 1024,
	CheckOrigin:     func(*http.Request) bool { return true },
}

// startWebSocket brings up the HTTP listener serving the websocket endpoint
// and a health probe.
func (s *Server) startWebSocket() error {
	mux := http.NewServeMux()
	mux.HandleFunc("/events", s.handleWebSocket)
	mux.HandleFunc("/healthz", s.handleHealth)
	s.httpServer = &http.Server{
		Addr:    s.cfg.WebSocketAddr,
		Handler: mux,
	}
	errCh := make(chan error, 1)
	s.wg.Add(1)
	go func() {
		defer s.wg.Done()
		err := s.httpServer.ListenAndServe()
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			s.log.Error("websocket listener failed", log.Error(err))
		}
		errCh <- err
	}()
	// Give the listener a moment to surface a bind failure.
	select {
	case err := <-errCh:
		if err != nil && !errors.Is(err, http.ErrServerClosed) {
			return err
		}
		return nil
	case <-time.After(50 * time.Millisecond):
		return nil
	}
}

// handleWebSocket upgrades the connection and pumps frames until the client
// disconnects or the gateway stops.
func (s *Server) handleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", log.Error(err))
		return
	}
	sess, err := s.register("websocket", conn.RemoteAddr().String(), conn.Close)
	if err != nil {
		_ = conn.WriteControl(websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.ClosePolicyViolation, err.Error()),
			time.Now().Add(s.cfg.WriteTimeout))
		_ = conn.Close()
		return
	}
	defer func() {
		_ = conn.Close()
		s.unregister(sess)
	}()

	conn.SetReadLimit(s.cfg.MaxMessageSize)
	for {
		if s.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}
		msgType, data, err := conn.ReadMessage()
		if err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway) {
				s.log.Debug("websocket read failed", log.Error(err))
			}
			return
		}
		if msgType != websocket.TextMessage && msgType != websocket.BinaryMessage {
			continue
		}
		reply := s.handleFrame(sess, data)
		if s.cfg.WriteTimeout > 0 {
			_ = conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
		}
		if err = conn.WriteJSON(reply); err != nil {
			s.log.Debug("websocket write failed", log.Error(err))
			return
		}
	}
}

func (s *Server) handleHealth(w http.ResponseWriter, _ *http.Request) {
	if !s.running.Load() {
		w.WriteHeader(http.StatusServiceUnavailable)
		return
	}
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte("ok"))
}
