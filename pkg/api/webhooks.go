// Producer ingestion: out-of-process producers (container supervisor, agent
// runners, scripts) report telemetry over HTTP.
package api

import (
	"encoding/json"
	"net/http"

	"github.com/sipeed/clawfeed/pkg/events"
	"github.com/sipeed/clawfeed/pkg/logger"
)

// maxEventBody caps the size of one ingested event.
const maxEventBody = 1 << 20

// handleEvents serves /api/events.
//
// GET returns the retained history:
//
//	{"events": [...], "capacity": 100}
//
// POST publishes one event:
//
//	{
//	  "type": "container-spawned",
//	  "timestamp": "2026-03-01T12:00:00Z",
//	  "groupFolder": "main",
//	  "data": { "name": "agent-main-1" }
//	}
//
// Only type and timestamp are checked; data is stored as raw JSON and passed
// through untouched.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	switch r.Method {
	case http.MethodGet:
		writeJSON(w, http.StatusOK, map[string]interface{}{
			"events":   s.bus.RecentEvents(),
			"capacity": s.bus.Capacity(),
		})
	case http.MethodPost:
		s.ingestEvent(w, r)
	default:
		writeJSON(w, http.StatusMethodNotAllowed, map[string]string{"error": "method not allowed"})
	}
}

func (s *Server) ingestEvent(w http.ResponseWriter, r *http.Request) {
	// Data stays raw so the bus never holds a decoded map that readers share.
	var in struct {
		events.Event
		Data json.RawMessage `json:"data"`
	}
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxEventBody)).Decode(&in); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": "invalid JSON payload"})
		return
	}
	ev := in.Event
	if len(in.Data) > 0 {
		ev.Data = in.Data
	}

	if err := ev.Validate(); err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]string{"error": err.Error()})
		return
	}

	s.bus.Publish(ev)

	logger.DebugCF("ingest", "Event received and published", map[string]interface{}{
		"type":         ev.Type,
		"group_folder": ev.GroupFolder,
		"chat_jid":     ev.ChatJID,
	})

	writeJSON(w, http.StatusAccepted, map[string]interface{}{
		"ok":   true,
		"type": ev.Type,
	})
}
