package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/harrison/umd/internal/events"
	"github.com/harrison/umd/internal/logger"
)

// heartbeatInterval keeps idle SSE connections alive through proxies.
const heartbeatInterval = 15 * time.Second

// handleEvents streams bus events to the client as server-sent events.
// Payload fields are flattened into the event object alongside type and
// timestamp, one `data:` frame per event.
func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	flusher, ok := w.(http.Flusher)
	if !ok {
		s.writeError(w, http.StatusInternalServerError, "streaming not supported")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	fmt.Fprint(w, ": connected\n\n")
	flusher.Flush()

	ch, cancel := s.bus.Subscribe()
	defer cancel()

	heartbeat := time.NewTicker(heartbeatInterval)
	defer heartbeat.Stop()

	for {
		select {
		case <-r.Context().Done():
			return
		case <-heartbeat.C:
			fmt.Fprint(w, ": heartbeat\n\n")
			flusher.Flush()
		case ev := <-ch:
			frame, err := encodeEvent(ev)
			if err != nil {
				logger.Warnf(s.log, "encode event %s: %v", ev.Type, err)
				continue
			}
			fmt.Fprintf(w, "data: %s\n\n", frame)
			flusher.Flush()
		}
	}
}

// encodeEvent flattens an event's payload into one JSON object with the
// type and timestamp. Payload keys never collide with those two by
// convention; if one does, type and timestamp win.
func encodeEvent(ev events.Event) ([]byte, error) {
	flat := make(map[string]interface{}, len(ev.Payload)+2)
	for k, v := range ev.Payload {
		flat[k] = v
	}
	flat["type"] = ev.Type
	flat["timestamp"] = ev.Timestamp
	return json.Marshal(flat)
}
