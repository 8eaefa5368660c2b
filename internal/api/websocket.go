package api

import (
	"net/http"
	"time"

	"homeintegrations/pkg/entity"

	"github.com/gorilla/websocket"
	"go.uber.org/zap"
)

const (
	wsPingInterval = 25 * time.Second
	wsWriteTimeout = 5 * time.Second
)

var upgrader = websocket.Upgrader{
	CheckOrigin: func(r *http.Request) bool { return true },
}

// StateMessage is pushed to websocket clients for every entity change
type StateMessage struct {
	Type   string          `json:"type"`
	Entity entity.Snapshot `json:"entity"`
}

// handleWebsocket sends the current state of every entity, then each change
func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Debug("Websocket upgrade failed", zap.Error(err))
		return
	}
	defer conn.Close()

	// subscribe before the initial dump so no change is lost in between
	updates, unsubscribe := s.entities.Subscribe()
	defer unsubscribe()

	for _, e := range s.entities.Entities() {
		if err := s.writeState(conn, "state", e.Snapshot()); err != nil {
			return
		}
	}

	// read pump only detects disconnects
	done := make(chan struct{})
	go func() {
		defer close(done)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(wsPingInterval)
	defer ticker.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-done:
			return
		case <-ticker.C:
			if err := conn.WriteControl(websocket.PingMessage, nil, time.Now().Add(wsWriteTimeout)); err != nil {
				return
			}
		case snapshot, ok := <-updates:
			if !ok {
				_ = conn.WriteControl(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseGoingAway, "shutting down"),
					time.Now().Add(wsWriteTimeout))
				return
			}
			if err := s.writeState(conn, "state_changed", snapshot); err != nil {
				return
			}
		}
	}
}

func (s *Server) writeState(conn *websocket.Conn, kind string, snapshot entity.Snapshot) error {
	_ = conn.SetWriteDeadline(time.Now().Add(wsWriteTimeout))
	if err := conn.WriteJSON(StateMessage{Type: kind, Entity: snapshot}); err != nil {
		s.logger.Debug("Websocket write failed", zap.Error(err))
		return err
	}
	return nil
}
