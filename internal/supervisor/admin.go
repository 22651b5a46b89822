package supervisor

import (
	"fmt"
	"net/http"

	"github.com/bytedance/sonic"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"tailscale.com/tsweb"

	"github.com/banshee-data/sensorbridge/internal/httputil"
	"github.com/banshee-data/sensorbridge/internal/monitoring"
)

// statusResponse is served by the status route.
type statusResponse struct {
	Status  Status  `json:"status"`
	Summary Summary `json:"summary"`
}

// AttachAdminRoutes mounts supervisor debug routes under /debug/. When
// gatherer is non-nil its metrics are served at /debug/prometheus.
func (s *Supervisor) AttachAdminRoutes(mux *http.ServeMux, gatherer prometheus.Gatherer) {
	debug := tsweb.Debugger(mux)

	debug.HandleFunc("status", "ingestion status and recent reading summary", func(w http.ResponseWriter, r *http.Request) {
		httputil.WriteJSONOK(w, statusResponse{Status: s.Status(), Summary: s.Summary()})
	})

	// Request a supervised restart of the ingestion pipeline.
	debug.HandleSilentFunc("restart", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			httputil.MethodNotAllowed(w)
			return
		}
		monitoring.Logf("[supervisor] restart requested from %s", r.RemoteAddr)
		s.Restart()
		httputil.WriteJSON(w, http.StatusAccepted, map[string]string{"status": "restart requested"})
	})

	// Server-Sent Events, one per accepted or rejected frame.
	debug.HandleSilentFunc("tail", func(w http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodGet {
			http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
			return
		}
		flusher, ok := w.(http.Flusher)
		if !ok {
			http.Error(w, "Streaming unsupported", http.StatusInternalServerError)
			return
		}

		w.Header().Set("Content-Type", "text/event-stream")
		w.Header().Set("Cache-Control", "no-cache")
		w.Header().Set("Connection", "keep-alive")
		w.Header().Set("X-Accel-Buffering", "no") // Disable buffering for nginx

		id, c := s.Subscribe()
		defer s.Unsubscribe(id)

		w.Write([]byte(": ping\n\n"))
		flusher.Flush()

		for {
			select {
			case e, ok := <-c:
				if !ok {
					return
				}
				payload, err := sonic.Marshal(e)
				if err != nil {
					continue
				}
				if _, err := fmt.Fprintf(w, "event: %s\ndata: %s\n\n", e.Kind, payload); err != nil {
					return
				}
				flusher.Flush()
			case <-r.Context().Done():
				return
			}
		}
	})

	if gatherer != nil {
		// tsweb already owns /debug/metrics for expvar.
		debug.Handle("prometheus", "Prometheus metrics", promhttp.HandlerFor(gatherer, promhttp.HandlerOpts{}))
	}
}
