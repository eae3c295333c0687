package observability

import (
	"encoding/json"
	"net/http"

	"github.com/book-expert/indextts-service/internal/model"
	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// StatusFunc reports the model lifecycle state.
type StatusFunc func() model.Status

// Router serves /metrics, /healthz and /readyz. Ready means the model is
// loaded.
func Router(metrics *Metrics, status StatusFunc) http.Handler {
	r := chi.NewRouter()

	r.Get("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		respondJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		current := status()

		code := http.StatusOK
		if !current.Loaded {
			code = http.StatusServiceUnavailable
		}

		respondJSON(w, code, current)
	})
	r.Handle("/metrics", promhttp.HandlerFor(metrics.Registry, promhttp.HandlerOpts{}))

	return r
}

func respondJSON(w http.ResponseWriter, code int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	_ = json.NewEncoder(w).Encode(body)
}
