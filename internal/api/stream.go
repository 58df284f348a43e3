package api

import (
	"encoding/json"
	"fmt"
	"net/http"
	"time"

	"github.com/devrimkaya/flagship/internal/auth"
	"github.com/devrimkaya/flagship/internal/telemetry"
)

// changeFrame is the wire shape of one Subscribe stream frame:
// {action, flag_key, environment, timestamp}. It carries no enabled
// bit, since store.ChangeEvent does not record one.
type changeFrame struct {
	Action      string    `json:"action"`
	FlagKey     string    `json:"flag_key"`
	Environment string    `json:"environment"`
	Timestamp   time.Time `json:"timestamp"`
}

// handleStream implements the Subscribe stream: a long-lived SSE
// connection scoped to a project, delivering Change Bus events. Grounded
// verbatim on the teacher's handleStream SSE loop (ping ticker, flusher,
// subscribe/unsubscribe), re-wired onto internal/changebus.Bus instead of
// the snapshot package's in-process pub/sub.
func (s *Server) handleStream(w http.ResponseWriter, r *http.Request) {
	projectKey := auth.ProjectKeyFromRequest(r)
	if projectKey == "" {
		UnauthorizedError(w, r, "missing "+auth.ProjectKeyHeader+" header")
		return
	}

	w.Header().Set("Content-Type", "text/event-stream")
	w.Header().Set("Cache-Control", "no-cache")
	w.Header().Set("Connection", "keep-alive")

	flusher, ok := w.(http.Flusher)
	if !ok {
		http.Error(w, "streaming unsupported", http.StatusInternalServerError)
		return
	}

	events, unsubscribe := s.bus.Subscribe()
	defer unsubscribe()

	telemetry.SSEClients.Inc()
	defer telemetry.SSEClients.Dec()

	writeSSE(w, "init", map[string]string{"status": "connected"})
	flusher.Flush()

	ticker := time.NewTicker(25 * time.Second)
	defer ticker.Stop()

	ctx := r.Context()
	for {
		select {
		case ev, ok := <-events:
			if !ok {
				return
			}
			if ev.Change.ProjectKey != projectKey {
				continue
			}
			writeSSE(w, "change", changeFrame{
				Action:      ev.Change.Action,
				FlagKey:     ev.Change.FlagKey,
				Environment: ev.Change.EnvironmentKey,
				Timestamp:   time.Now(),
			})
			flusher.Flush()

		case <-ticker.C:
			fmt.Fprint(w, ": ping\n\n")
			flusher.Flush()

		case <-ctx.Done():
			return
		}
	}
}

func writeSSE(w http.ResponseWriter, event string, data any) {
	dataJSON, err := json.Marshal(data)
	if err != nil {
		dataJSON = []byte(`{"error":"marshal failed"}`)
	}
	w.Write([]byte("event: " + event + "\n"))
	w.Write([]byte("data: "))
	w.Write(dataJSON)
	w.Write([]byte("\n\n"))
}
