package collector

import (
	"context"
	"fmt"
	"io"

	"github.com/shadimotaali/first-full-paper/internal/circuitbreaker"
	"github.com/shadimotaali/first-full-paper/internal/config"
	"github.com/shadimotaali/first-full-paper/internal/dump"
	"github.com/shadimotaali/first-full-paper/internal/fetch"
	"github.com/shadimotaali/first-full-paper/internal/httpclient"
	"github.com/shadimotaali/first-full-paper/internal/logging"
	"github.com/shadimotaali/first-full-paper/internal/metrics"
	"github.com/shadimotaali/first-full-paper/internal/rate"
	"github.com/shadimotaali/first-full-paper/internal/record"
	"github.com/shadimotaali/first-full-paper/internal/robots"
	"github.com/shadimotaali/first-full-paper/internal/sink"
	"github.com/shadimotaali/first-full-paper/internal/ui"
)

// New wires a Collector from cfg. progress may be nil. The returned close
// function releases the database connection when one was opened.
func New(ctx context.Context, cfg *config.Config, log *logging.Logger, out io.Writer, progress *ui.Stats) (*Collector, func() error, error) {
	hc := httpclient.Default(cfg.HTTPTimeout())
	client := httpclient.NewResilientClient(hc, cfg.UA, func(host string, from, to circuitbreaker.State) {
		log.Warnw("circuit breaker state change", "host", host, "from", from.String(), "to", to.String())
		open := 0.0
		if to == circuitbreaker.StateOpen {
			open = 1
		}
		metrics.BreakerState.WithLabelValues(host).Set(open)
	})

	opts := fetch.Options{
		MaxRetries: cfg.MaxRetries,
		Limiter:    rate.New(cfg.RequestsPerSecond, 1),
		Log:        log,
		OnFile: func(name string, status fetch.Status, n int64) {
			metrics.FilesTotal.WithLabelValues("download", string(status)).Inc()
			metrics.DownloadBytes.Add(float64(n))
		},
	}
	if cfg.RespectRobots {
		opts.Robots = robots.NewCache(hc, cfg.UA)
	}

	dumper, err := newDumper(cfg)
	if err != nil {
		return nil, nil, err
	}

	agg := &dump.Aggregator{
		Dumper:     dumper,
		Parser:     record.NewParser(),
		Log:        log,
		DebugFirst: cfg.DebugFirstFile,
		OnFile: func(index, total int, res dump.FileResult) {
			stage, status := dump.StageDump, "ok"
			if res.Err != nil {
				stage, status = res.Stage, "failed"
			}
			metrics.FilesTotal.WithLabelValues(stage, status).Inc()
			for reason, n := range res.Rejected {
				metrics.LinesRejected.WithLabelValues(reason.String()).Add(float64(n))
			}
			if progress != nil {
				progress.FileDone(res.Err == nil, int64(len(res.Records)))
			}
		},
	}

	c := &Collector{
		Config:     cfg,
		Fetcher:    fetch.New(client, opts),
		Aggregator: agg,
		Out:        out,
		Log:        log,
	}

	closeFn := func() error { return nil }
	if cfg.PostgresDSN != "" {
		store, err := sink.Open(ctx, cfg.PostgresDSN, cfg.PostgresTable)
		if err != nil {
			log.Warnw("postgres sink disabled", "err", err)
		} else if err := store.EnsureSchema(ctx); err != nil {
			log.Warnw("postgres sink disabled", "err", err)
			store.Close()
		} else {
			c.Store = store
			closeFn = store.Close
		}
	}
	return c, closeFn, nil
}

func newDumper(cfg *config.Config) (dump.Dumper, error) {
	switch cfg.DumpBackend {
	case "", "exec":
		return dump.NewExecDumper(cfg.DumpTool, cfg.DumpArgs...), nil
	case "native":
		return &dump.NativeDumper{}, nil
	default:
		return nil, fmt.Errorf("unknown dump backend %q", cfg.DumpBackend)
	}
}
