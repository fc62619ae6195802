package httpapi

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
)

// streamSnapshotThenDeltas sends an initial snapshot frame, subscribes
// to the delta channel and forwards every delta until the client
// disconnects or ctx is canceled — the shape common to all three
// progress WebSocket endpoints (§4.8).
func streamSnapshotThenDeltas(ctx context.Context, conn *websocket.Conn, snapshot any, deltas <-chan []byte) {
	if err := conn.WriteJSON(map[string]any{"type": "snapshot", "data": snapshot}); err != nil {
		return
	}
	for {
		select {
		case <-ctx.Done():
			return
		case raw, ok := <-deltas:
			if !ok {
				return
			}
			var parsed json.RawMessage = raw
			if err := conn.WriteJSON(map[string]any{"type": "delta", "data": parsed}); err != nil {
				return
			}
		}
	}
}

func (s *Server) authorizeOrClose(conn *websocket.Conn, r *http.Request) bool {
	if s.authorizeWS(r) {
		return true
	}
	_ = conn.WriteControl(websocket.CloseMessage,
		websocket.FormatCloseMessage(closeCodeAuthFailed, "authentication required"),
		time.Now().Add(time.Second))
	return false
}

func (s *Server) handleFirmwareProgressWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	if !s.authorizeOrClose(conn, r) {
		return
	}

	snapshot, err := s.deps.Broker.FirmwareSnapshot(r.Context())
	if err != nil {
		return
	}
	deltas, unsubscribe := s.deps.Broker.SubscribeFirmware(r.Context())
	defer unsubscribe()
	streamSnapshotThenDeltas(r.Context(), conn, snapshot, deltas)
}

func (s *Server) handleBuildProgressWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	if !s.authorizeOrClose(conn, r) {
		return
	}

	snapshot, err := s.deps.Broker.BuildSnapshot(r.Context())
	if err != nil {
		return
	}
	deltas, unsubscribe := s.deps.Broker.SubscribeBuild(r.Context())
	defer unsubscribe()
	streamSnapshotThenDeltas(r.Context(), conn, snapshot, deltas)
}

func (s *Server) handleRepoProgressWS(w http.ResponseWriter, r *http.Request) {
	conn, err := wsUpgrader.Upgrade(w, r, nil)
	if err != nil {
		return
	}
	defer conn.Close()
	if !s.authorizeOrClose(conn, r) {
		return
	}

	snapshot, ok, err := s.deps.Broker.RepoSnapshot(r.Context())
	if err != nil {
		return
	}
	var data any
	if ok {
		data = snapshot
	}
	deltas, unsubscribe := s.deps.Broker.SubscribeRepo(r.Context())
	defer unsubscribe()
	streamSnapshotThenDeltas(r.Context(), conn, data, deltas)
}
