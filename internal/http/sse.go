package httpapi

import (
	"encoding/json"
	"net/http"

	"github.com/hperssn/moodflow/internal/domain"
	"github.com/hperssn/moodflow/internal/notify"
	"github.com/hperssn/moodflow/internal/stats"
)

// StreamStatsEvents sends the caller's current stats, then one event per
// change to their aggregate, until the client goes away.
func StreamStatsEvents(svc *stats.Service, hub *notify.Hub) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		userID := GetUserID(r)

		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "streaming unsupported", http.StatusInternalServerError)
			return
		}
		if hub == nil {
			http.Error(w, "stats events disabled", http.StatusNotFound)
			return
		}

		events, cancel := hub.Subscribe(userID)
		defer cancel()

		initial, err := svc.Report(r.Context(), userID, r.URL.Query().Get("today"))
		if err != nil {
			respondError(w, err.Error(), statusFor(err))
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")

		writeEvent(w, initial)
		flusher.Flush()

		for {
			select {
			case report, ok := <-events:
				if !ok {
					return
				}
				writeEvent(w, report)
				flusher.Flush()

			case <-r.Context().Done():
				return
			}
		}
	}
}

func writeEvent(w http.ResponseWriter, report domain.StatsReport) {
	data, _ := json.Marshal(report)
	w.Write([]byte("data: "))
	w.Write(data)
	w.Write([]byte("\n\n"))
}
