// Copyright 2025 James Ross
package obs

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"

	"github.com/gorilla/mux"
	promhttp "github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/jross/cumin-go/internal/audit"
	"github.com/jross/cumin-go/internal/config"
)

// StartHTTPServer exposes /metrics, /healthz, /readyz and, when store is
// non-nil, /runs/{id} for reading back a persisted run's summary (§6).
// readiness is a callback that should return nil when the app is ready.
func StartHTTPServer(cfg *config.Config, readiness func(context.Context) error, store *audit.Store) *http.Server {
	r := mux.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	r.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		// Liveness: if the process is up, return 200.
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.HandleFunc("/readyz", func(w http.ResponseWriter, r *http.Request) {
		if readiness == nil {
			w.WriteHeader(http.StatusOK)
			_, _ = w.Write([]byte("ready"))
			return
		}
		if err := readiness(r.Context()); err != nil {
			http.Error(w, fmt.Sprintf("not ready: %v", err), http.StatusServiceUnavailable)
			return
		}
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ready"))
	})
	if store != nil {
		r.HandleFunc("/runs/{id}", func(w http.ResponseWriter, req *http.Request) {
			id := mux.Vars(req)["id"]
			run, err := store.GetRun(req.Context(), id)
			if err != nil {
				http.Error(w, fmt.Sprintf("run %s not found: %v", id, err), http.StatusNotFound)
				return
			}
			hostResults, err := store.ListHostResults(req.Context(), id)
			if err != nil {
				http.Error(w, fmt.Sprintf("failed to load host results: %v", err), http.StatusInternalServerError)
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(struct {
				Run         audit.Run                 `json:"run"`
				HostResults []audit.HostResultSummary `json:"host_results"`
			}{Run: run, HostResults: hostResults})
		}).Methods(http.MethodGet)
	}
	srv := &http.Server{Addr: fmt.Sprintf(":%d", cfg.Observability.MetricsPort), Handler: r}
	go func() { _ = srv.ListenAndServe() }()
	return srv
}
