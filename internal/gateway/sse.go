package gateway

import (
	"net/http"
)

// handleSSE implements GET /sse: open a push channel and stream its frames
// until the client disconnects or the channel closes.
func (s *Server) handleSSE(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodGet {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}
	flusher, ok := w.(http.Flusher)
	if !ok {
		httpError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	ch := s.cfg.Channels.Open()
	if s.cfg.Metrics != nil {
		s.cfg.Metrics.OpenChannels.Add(r.Context(), 1)
		defer s.cfg.Metrics.OpenChannels.Add(r.Context(), -1)
	}
	defer s.cfg.Channels.Close(ch.ID())

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.Header().Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	flusher.Flush()

	ctx := r.Context()
	for {
		select {
		case <-ctx.Done():
			// Client disconnected.
			s.logger.Debug("sse: client disconnected", "client_id", ch.ID())
			return
		case msg, ok := <-ch.Queue():
			if !ok {
				// Channel closed server-side (heartbeat reap or shutdown).
				return
			}
			frame, err := msg.EncodeSSE()
			if err != nil {
				s.logger.Error("sse: encode frame", "client_id", ch.ID(), "error", err)
				continue
			}
			if _, err := w.Write(frame); err != nil {
				s.logger.Debug("sse: write failed (client disconnected?)",
					"client_id", ch.ID(), "error", err)
				return
			}
			flusher.Flush()
			if s.cfg.Metrics != nil {
				s.cfg.Metrics.MessagesDelivered.Add(ctx, 1)
			}
		}
	}
}
