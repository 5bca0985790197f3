package gateway

import (
	"net/http"

	"github.com/coder/websocket"
	"github.com/coder/websocket/wsjson"
)

// handleWS implements GET /ws: the same push channel as /sse, carried as
// JSON frames over a WebSocket. The server only writes; client frames are
// drained and ignored so pings and close frames are processed.
func (s *Server) handleWS(w http.ResponseWriter, r *http.Request) {
	conn, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		OriginPatterns: s.cfg.AllowOrigins,
	})
	if err != nil {
		return
	}

	ch := s.cfg.Channels.Open()
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.OpenChannels.Add(r.Context(), 1)
		defer s.cfg.Metrics.OpenChannels.Add(r.Context(), -1)
	}
	s.logger.Info("ws: client connected", "client_id", ch.ID())
	defer func() {
		s.cfg.Channels.Close(ch.ID())
		s.logger.Info("ws: client disconnecting", "client_id", ch.ID())
		_ = conn.Close(websocket.StatusNormalClosure, "bye")
	}()

	ctx := r.Context()
	go func() {
		// Reader loop: required for control frame handling. Any client
		// data is discarded.
		for {
			if _, _, err := conn.Read(ctx); err != nil {
				return
			}
		}
	}()

	for {
		select {
		case <-ctx.Done():
			return
		case msg, ok := <-ch.Queue():
			if !ok {
				return
			}
			if err := wsjson.Write(ctx, conn, msg.Wire()); err != nil {
				s.logger.Debug("ws: write failed (client disconnected?)",
					"client_id", ch.ID(), "error", err)
				return
			}
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.MessagesDelivered.Add(ctx, 1)
			}
		}
	}
}
