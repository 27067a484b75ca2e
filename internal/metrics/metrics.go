package metrics

import (
	"context"
	"errors"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/shadimotaali/first-full-paper/internal/health"
	"github.com/shadimotaali/first-full-paper/internal/logging"
)

var (
	FilesTotal       = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ris_files_total", Help: "archive files handled, by pipeline stage and outcome"}, []string{"stage", "status"})
	DownloadBytes    = prometheus.NewCounter(prometheus.CounterOpts{Name: "ris_download_bytes_total", Help: "bytes downloaded from the archive"})
	RecordsTotal     = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ris_records_total", Help: "update records collected"}, []string{"entry_type"})
	LinesRejected    = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "ris_lines_rejected_total", Help: "dump lines discarded"}, []string{"reason"})
	BreakerState     = prometheus.NewGaugeVec(prometheus.GaugeOpts{Name: "ris_breaker_open", Help: "1 while a host circuit breaker is open"}, []string{"host"})
	VerifyFilesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{Name: "mrt_verify_files_total", Help: "snapshot files verified"}, []string{"status"})
	VerifyElements   = prometheus.NewCounter(prometheus.CounterOpts{Name: "mrt_verify_elements_total", Help: "elements read while verifying"})
)

func init() {
	prometheus.MustRegister(FilesTotal, DownloadBytes, RecordsTotal, LinesRejected, BreakerState, VerifyFilesTotal, VerifyElements)
}

// Router serves /metrics and, when h is set, the health endpoints.
func Router(h *health.Handler) http.Handler {
	r := chi.NewRouter()
	r.Handle("/metrics", promhttp.Handler())
	if h != nil {
		r.Get("/health", h.ServeHealth)
		r.Get("/ready", h.ServeReady)
	}
	return r
}

// Serve listens on addr until ctx is done.
func Serve(ctx context.Context, addr string, h *health.Handler, log *logging.Logger) {
	srv := &http.Server{Addr: addr, Handler: Router(h), ReadHeaderTimeout: 5 * time.Second}
	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		srv.Shutdown(shutdownCtx)
	}()
	if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Warnw("metrics server stopped", "err", err)
	}
}
