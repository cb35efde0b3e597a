package server

import (
	"encoding/json"
	"fmt"
	"net/http"
	"path"
	"time"

	"github.com/go-chi/chi/v5"

	"atrium/internal/notify"
)

const streamHeartbeat = 15 * time.Second

// registerStream exposes the live notification feed as server-sent
// events. The route bypasses Huma because SSE needs a long-lived
// flushable response.
func registerStream(router chi.Router, basePath string, hub *notify.Hub) {
	if hub == nil {
		return
	}
	router.Get(path.Join(basePath, "notifications/stream"), func(w http.ResponseWriter, r *http.Request) {
		principal, ok := principalFromContext(r.Context())
		if !ok || principal.ActorID == "" {
			respondStatusError(w, newAPIError(http.StatusUnauthorized, "unauthorized", "authentication required", nil))
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			respondStatusError(w, newAPIError(http.StatusInternalServerError, "internal_error", "streaming unsupported", nil))
			return
		}

		sub := hub.Subscribe(principal.ActorID)
		defer hub.Unsubscribe(sub)

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.WriteHeader(http.StatusOK)
		fmt.Fprintf(w, "event: ready\ndata: {}\n\n")
		flusher.Flush()

		heartbeat := time.NewTicker(streamHeartbeat)
		defer heartbeat.Stop()

		for {
			select {
			case <-r.Context().Done():
				return
			case n, open := <-sub.C():
				if !open {
					return
				}
				if sub.Lagged() {
					// Dropped deliveries; the client must refetch from
					// the list endpoint to catch up.
					fmt.Fprintf(w, "event: resync\ndata: {}\n\n")
					sub.ClearLagged()
				}
				payload, err := json.Marshal(notificationResponse(n))
				if err != nil {
					continue
				}
				fmt.Fprintf(w, "event: notification\ndata: %s\n\n", payload)
				flusher.Flush()
			case <-heartbeat.C:
				// A lagged subscriber with a quiet stream would
				// otherwise never learn it must refetch.
				if sub.Lagged() {
					fmt.Fprintf(w, "event: resync\ndata: {}\n\n")
					sub.ClearLagged()
				}
				fmt.Fprintf(w, ": keep-alive\n\n")
				flusher.Flush()
			}
		}
	})
}
