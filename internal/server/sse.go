package server

import (
	"encoding/json"
	"fmt"
	"net/http"
)

// eventStream writes Server-Sent Events, flushing after each one.
type eventStream struct {
	w       http.ResponseWriter
	flusher http.Flusher
}

func newEventStream(w http.ResponseWriter) *eventStream {
	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")
	w.WriteHeader(http.StatusOK)

	flusher, _ := w.(http.Flusher)
	return &eventStream{w: w, flusher: flusher}
}

// send writes one event. A nil payload writes an event without a data line.
func (s *eventStream) send(event string, data any) error {
	if data == nil {
		if _, err := fmt.Fprintf(s.w, "event: %s\n\n", event); err != nil {
			return err
		}
	} else {
		payload, err := json.Marshal(data)
		if err != nil {
			return fmt.Errorf("marshal %s event: %w", event, err)
		}
		if _, err := fmt.Fprintf(s.w, "event: %s\ndata: %s\n\n", event, payload); err != nil {
			return fmt.Errorf("write %s event: %w", event, err)
		}
	}

	if s.flusher != nil {
		s.flusher.Flush()
	}
	return nil
}
