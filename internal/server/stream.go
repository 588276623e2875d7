package server

import (
	"encoding/json"
	"net/http"

	"nhooyr.io/websocket"

	"github.com/lotas/tabtriage/internal/applog"
	"github.com/lotas/tabtriage/internal/progress"
)

// handleProgressStream pushes progress snapshots over a websocket
// until the session reaches done, then closes normally. A client
// asking for an unknown session gets one terminal snapshot.
func (s *Server) handleProgressStream(w http.ResponseWriter, r *http.Request) {
	id, ok := pathID(w, r)
	if !ok {
		return
	}

	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true,
	})
	if err != nil {
		applog.Error("ws.accept", err)
		return
	}
	defer conn.CloseNow()

	ctx := r.Context()
	updates, cancel := s.progress.Subscribe(id)
	defer cancel()

	applog.Info("ws.progress_stream", "session", id, "remote", r.RemoteAddr)

	for {
		select {
		case snap, open := <-updates:
			if !open {
				conn.Close(websocket.StatusNormalClosure, "done")
				return
			}
			data, err := json.Marshal(snap)
			if err != nil {
				applog.Error("ws.marshal", err, "session", id)
				return
			}
			if err := conn.Write(ctx, websocket.MessageText, data); err != nil {
				return
			}
			if snap.Phase == progress.PhaseDone {
				conn.Close(websocket.StatusNormalClosure, "done")
				return
			}
		case <-ctx.Done():
			return
		}
	}
}
