// Outbound chat. Lets the dashboard or an agent runner reply into a chat.
// Delivery goes through the channel manager, which publishes message-sent on
// success.
package api

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"time"

	"github.com/sipeed/clawfeed/pkg/channels"
)

const sendTimeout = 15 * time.Second

type sendMessageRequest struct {
	ChatJID string `json:"chatJid"`
	Text    string `json:"text"`
}

// handleMessages handles POST /api/messages.
func (s *Server) handleMessages(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "POST required"})
		return
	}

	var req sendMessageRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid request body"})
		return
	}
	if req.ChatJID == "" || req.Text == "" {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "chatJid and text required"})
		return
	}

	if s.channelManager == nil {
		writeJSON(w, http.StatusServiceUnavailable, map[string]string{"error": "no channels configured"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), sendTimeout)
	defer cancel()

	err := s.channelManager.Send(ctx, req.ChatJID, req.Text)
	switch {
	case err == nil:
		writeJSON(w, http.StatusOK, map[string]interface{}{"ok": true, "chatJid": req.ChatJID})
	case errors.Is(err, channels.ErrInvalidJID):
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
	case errors.Is(err, channels.ErrChannelNotFound):
		writeJSON(w, http.StatusNotFound, map[string]string{"error": err.Error()})
	default:
		writeJSON(w, http.StatusBadGateway, map[string]string{"error": err.Error()})
	}
}
