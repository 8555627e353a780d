package api

import (
	"encoding/json"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"

	"github.com/hivechat/callbridge/pkg/call"
	"github.com/hivechat/callbridge/pkg/callerr"
)

// handleInitiate creates a ringing session and starts the fan-out.
// POST /calls/initiate {roomId, callKind, callerId, credential}
func (h *Handler) handleInitiate(w http.ResponseWriter, r *http.Request) {
	var req struct {
		RoomID     string `json:"roomId"`
		CallKind   string `json:"callKind"`
		CallerID   string `json:"callerId"`
		Credential string `json:"credential"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.controller.Initiate(r.Context(), call.InitiateRequest{
		RoomID:     req.RoomID,
		Kind:       call.Kind(req.CallKind),
		CallerID:   req.CallerID,
		Credential: req.Credential,
	})
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusCreated, result)
}

// POST /calls/{callID}/answer {userId, credential}
func (h *Handler) handleAnswer(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.controller.Answer(r.Context(), chi.URLParam(r, "callID"), req.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// POST /calls/{callID}/reject {userId, credential}
func (h *Handler) handleReject(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.controller.Reject(r.Context(), chi.URLParam(r, "callID"), req.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// POST /calls/{callID}/end {userId}
func (h *Handler) handleEnd(w http.ResponseWriter, r *http.Request) {
	var req struct {
		UserID string `json:"userId"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	result, err := h.controller.End(r.Context(), chi.URLParam(r, "callID"), req.UserID)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// POST /calls/{callID}/toggle-audio {userId, enabled}
func (h *Handler) handleToggleAudio(w http.ResponseWriter, r *http.Request) {
	h.handleToggle(w, r, call.MediaAudio)
}

// POST /calls/{callID}/toggle-video {userId, enabled}
func (h *Handler) handleToggleVideo(w http.ResponseWriter, r *http.Request) {
	h.handleToggle(w, r, call.MediaVideo)
}

func (h *Handler) handleToggle(w http.ResponseWriter, r *http.Request, kind call.MediaKind) {
	var req struct {
		UserID  string `json:"userId"`
		Enabled bool   `json:"enabled"`
	}
	if !decodeBody(w, r, &req) {
		return
	}

	p, err := h.controller.ToggleMedia(r.Context(), chi.URLParam(r, "callID"), req.UserID, kind, req.Enabled)
	if err != nil {
		h.writeError(w, err)
		return
	}

	if kind == call.MediaAudio {
		writeJSON(w, http.StatusOK, map[string]bool{"audioEnabled": p.AudioEnabled})
	} else {
		writeJSON(w, http.StatusOK, map[string]bool{"videoEnabled": p.VideoEnabled})
	}
}

// GET /calls/{callID}/status
func (h *Handler) handleStatus(w http.ResponseWriter, r *http.Request) {
	result, err := h.controller.Status(r.Context(), chi.URLParam(r, "callID"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GET /calls/active?userId=, the polling fallback for missed ring
// notifications
func (h *Handler) handleActive(w http.ResponseWriter, r *http.Request) {
	result, err := h.controller.PendingForUser(r.Context(), r.URL.Query().Get("userId"))
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, result)
}

// GET /calls/history?roomId=&limit=
func (h *Handler) handleHistory(w http.ResponseWriter, r *http.Request) {
	limit, _ := strconv.Atoi(r.URL.Query().Get("limit"))
	sessions, err := h.controller.History(r.Context(), r.URL.Query().Get("roomId"), limit)
	if err != nil {
		h.writeError(w, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"calls": sessions})
}

// decodeBody decodes a JSON request body, answering 400 on failure
func decodeBody(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(r.Body).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]any{
			"error": map[string]string{
				"code":    callerr.CodeMissingField,
				"message": "invalid request body",
			},
		})
		return false
	}
	return true
}

// writeError maps a lifecycle error onto its HTTP status with a
// structured body
func (h *Handler) writeError(w http.ResponseWriter, err error) {
	status := callerr.HTTPStatus(err)
	if status >= http.StatusInternalServerError {
		h.log.Error("request failed", "error", err)
		// Internal detail stays in the logs
		writeJSON(w, status, map[string]any{
			"error": map[string]string{
				"code":    callerr.CodeOf(err),
				"message": "internal error",
			},
		})
		return
	}
	writeJSON(w, status, map[string]any{
		"error": map[string]string{
			"code":    callerr.CodeOf(err),
			"message": err.Error(),
		},
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	json.NewEncoder(w).Encode(v)
}
