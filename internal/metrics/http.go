package metrics

import (
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/render"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/kstaniek/go-bxcan/internal/logging"
)

// StatusFunc returns the JSON body of /status.
type StatusFunc func() any

type statusResponse struct {
	Ready      bool     `json:"ready"`
	Controller any      `json:"controller,omitempty"`
	Counters   Snapshot `json:"counters"`
}

// Router serves /metrics, /ready and /status. status may be nil.
func Router(status StatusFunc) http.Handler {
	r := chi.NewRouter()
	r.Use(middleware.Recoverer)
	r.Handle("/metrics", promhttp.Handler())
	r.Get("/ready", func(w http.ResponseWriter, r *http.Request) {
		if IsReady() {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready\n"))
			return
		}
		w.WriteHeader(http.StatusServiceUnavailable)
		_, _ = w.Write([]byte("not ready\n"))
	})
	r.Get("/status", func(w http.ResponseWriter, r *http.Request) {
		resp := statusResponse{Ready: IsReady(), Counters: Snap()}
		if status != nil {
			resp.Controller = status()
		}
		if !resp.Ready {
			render.Status(r, http.StatusServiceUnavailable)
		}
		render.JSON(w, r, resp)
	})
	return r
}

// StartHTTP serves Router(status) on addr in the background.
func StartHTTP(addr string, status StatusFunc) *http.Server {
	srv := &http.Server{
		Addr:    addr,
		Handler: Router(status),
	}
	go func() {
		logging.L().Info("metrics_listen", "addr", addr)
		if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			logging.L().Error("metrics_http_error", "error", err)
		}
	}()
	return srv
}
