package api

import (
	"fmt"
	"net/http"

	"stepflow/events"
)

// SSEHandler streams run and step events to the client as Server-Sent
// Events.
func SSEHandler() http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("Access-Control-Allow-Origin", "*")

		// Buffered so a slow client drops events instead of stalling runs.
		client := make(chan string, 10)
		broker := events.GetBroker()
		broker.Register(client)
		defer broker.Unregister(client)

		fmt.Fprint(w, "event: connected\ndata: {\"message\": \"Connected to stepflow events\"}\n\n")
		if flusher, ok := w.(http.Flusher); ok {
			flusher.Flush()
		}

		for {
			select {
			case message := <-client:
				fmt.Fprint(w, message)
				if flusher, ok := w.(http.Flusher); ok {
					flusher.Flush()
				}
			case <-r.Context().Done():
				return
			}
		}
	}
}
