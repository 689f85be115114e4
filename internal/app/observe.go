package app

import (
	"errors"
	"fmt"
	"log"
	"net/http"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"telemetry-ingest/internal/metrics"
	"telemetry-ingest/internal/signaltable"
)

// ServeMetrics exposes m on addr at /metrics. An empty addr disables the
// endpoint and returns nil.
func ServeMetrics(addr string, m *metrics.Metrics) (*http.Server, error) {
	if addr == "" {
		return nil, nil
	}

	reg := prometheus.NewRegistry()
	if err := m.Register(reg); err != nil {
		return nil, fmt.Errorf("failed to register metrics: %w", err)
	}

	mux := http.NewServeMux()
	mux.Handle("/metrics", promhttp.HandlerFor(reg, promhttp.HandlerOpts{}))
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})

	srv := &http.Server{Addr: addr, Handler: mux}
	go func() {
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.Printf("metrics server exited: %v", err)
		}
	}()
	log.Printf("Metrics available at http://%s/metrics", addr)
	return srv, nil
}

// LoadTable loads the signal table from a DBC file. Without a file every CAN
// frame resolves to an unknown id.
func LoadTable(path string) (*signaltable.Static, error) {
	if path == "" {
		log.Printf("Warning: no DBC_FILE configured, CAN frames will not be decoded")
		return signaltable.NewStatic(), nil
	}
	table, err := signaltable.LoadDBC(path)
	if err != nil {
		return nil, err
	}
	log.Printf("Loaded %d messages from %s", table.Len(), path)
	return table, nil
}
