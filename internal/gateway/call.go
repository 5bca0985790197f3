package gateway

import (
	"encoding/json"
	"errors"
	"net/http"

	"github.com/basket/geomcp/internal/channel"
	"github.com/basket/geomcp/internal/dispatch"
	"github.com/basket/geomcp/internal/functions"
)

// callRequest is the POST /mcp_call body.
type callRequest struct {
	Function string         `json:"function"`
	Params   map[string]any `json:"params"`
	ClientID string         `json:"client_id"`
}

// handleCall implements POST /mcp_call. With a client_id the call is
// validated, acked, and executed in the background with the result pushed
// onto that client's channel. Without one the call runs synchronously and
// the result comes back in the response.
func (s *Server) handleCall(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		httpError(w, http.StatusMethodNotAllowed, "method not allowed")
		return
	}

	var req callRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.Function == "" {
		httpError(w, http.StatusBadRequest, "missing function name")
		return
	}

	if req.ClientID == "" {
		result, err := s.cfg.Dispatcher.Call(r.Context(), req.Function, req.Params)
		if err != nil {
			s.writeCallError(w, err)
			return
		}
		writeJSON(w, http.StatusOK, map[string]any{"status": "success", "result": result})
		return
	}

	ack, err := s.cfg.Dispatcher.Submit(r.Context(), dispatch.Request{
		Function: req.Function,
		Params:   req.Params,
		ClientID: req.ClientID,
	})
	if err != nil {
		s.writeCallError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, ack)
}

// writeCallError maps dispatch validation failures onto the HTTP surface:
// unknown client 404, unknown function or bad params 400, everything
// else 500.
func (s *Server) writeCallError(w http.ResponseWriter, err error) {
	var verr *functions.ValidationError
	switch {
	case errors.Is(err, channel.ErrNotFound):
		httpError(w, http.StatusNotFound, err.Error())
	case errors.Is(err, dispatch.ErrFunctionNotFound):
		httpError(w, http.StatusBadRequest, err.Error())
	case errors.As(err, &verr):
		httpError(w, http.StatusBadRequest, verr.Error())
	default:
		s.logger.Error("call failed", "error", err)
		httpError(w, http.StatusInternalServerError, err.Error())
	}
}
