package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"

	"github.com/shadimotaali/first-full-paper/internal/cache"
	"github.com/shadimotaali/first-full-paper/internal/config"
	"github.com/shadimotaali/first-full-paper/internal/health"
	"github.com/shadimotaali/first-full-paper/internal/logging"
	"github.com/shadimotaali/first-full-paper/internal/metrics"
	"github.com/shadimotaali/first-full-paper/internal/mrt"
	"github.com/shadimotaali/first-full-paper/internal/telemetry"
	"github.com/shadimotaali/first-full-paper/internal/verify"
)

func main() {
	var configFile string
	var pattern, cacheKind, redisAddr string
	var logLevel, metricsAddr, otelEndpoint string

	flag.StringVar(&configFile, "config", "", "path to config file (YAML or JSON)")
	flag.StringVar(&pattern, "pattern", "", "file glob inside the directory (default bview.*.gz)")
	flag.StringVar(&cacheKind, "cache", "", "verdict cache kept across runs (none, redis)")
	flag.StringVar(&redisAddr, "redis_addr", "", "redis address for cache=redis")
	flag.StringVar(&logLevel, "log_level", "", "log level (debug, info, warn, error)")
	flag.StringVar(&metricsAddr, "metrics_addr", "", "metrics listen addr (empty to disable)")
	flag.StringVar(&otelEndpoint, "otel_endpoint", "", "OTLP HTTP endpoint (host:port)")

	flag.Usage = func() {
		fmt.Printf("Usage: %s [options] /path/to/mrt_files/\n", filepath.Base(os.Args[0]))
		fmt.Println("\nExample:")
		fmt.Printf("  %s ./bgp_graph_features/data/mrt_files\n", filepath.Base(os.Args[0]))
		fmt.Println("\nOptions:")
		flag.CommandLine.SetOutput(os.Stdout)
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() < 1 {
		flag.Usage()
		os.Exit(1)
	}
	dir := flag.Arg(0)

	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			fmt.Printf("ERROR: %v\n", err)
			os.Exit(1)
		}
	} else {
		cfg = config.Defaults()
		cfg.LogLevel = "warn"
		cfg.OTELService = "mrt-verify"
	}
	cfg.LoadFromEnv()
	cfg.MergeWithFlags(map[string]interface{}{
		"pattern":       pattern,
		"cache":         cacheKind,
		"redis_addr":    redisAddr,
		"log_level":     logLevel,
		"metrics_addr":  metricsAddr,
		"otel_endpoint": otelEndpoint,
	})
	if err := cfg.ValidateVerifier(); err != nil {
		fmt.Printf("ERROR: %v\n", err)
		os.Exit(1)
	}

	if st, err := os.Stat(dir); err != nil || !st.IsDir() {
		fmt.Printf("ERROR: %s is not a directory\n", dir)
		os.Exit(1)
	}
	files, err := verify.FindFiles(dir, cfg.Pattern)
	if err != nil || len(files) == 0 {
		fmt.Printf("ERROR: No %s files found in %s\n", cfg.Pattern, dir)
		os.Exit(1)
	}

	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.OTELService, cfg.OTELInsecure)
	if err != nil {
		log.Warnw("otel init failed", "err", err)
	} else {
		defer shutdown(context.Background())
	}

	healthHandler := health.NewHandler()
	healthHandler.SetInfo("directory", dir)

	analyzer := &verify.Analyzer{
		Source: &mrt.ProtoparseSource{},
		Log:    log,
		OnResult: func(res verify.Result, cached bool) {
			status := "error"
			switch {
			case res.Err != nil:
			case res.Pass:
				status = "pass"
			default:
				status = "fail"
			}
			metrics.VerifyFilesTotal.WithLabelValues(status).Inc()
			if !cached {
				metrics.VerifyElements.Add(float64(res.TotalElements))
			}
		},
	}
	if cfg.Cache == "redis" {
		rc, err := cache.NewRedis[verify.Result](ctx, cfg.RedisAddr, cfg.CacheTTL(), log)
		if err != nil {
			log.Warnw("redis cache unavailable, verifying without cache", "addr", cfg.RedisAddr, "err", err)
		} else {
			defer rc.Close()
			analyzer.Cache = rc
			healthHandler.Register("redis", health.NewPingChecker("redis", rc.Ping))
		}
	}

	if cfg.MetricsAddr != "" {
		go metrics.Serve(ctx, cfg.MetricsAddr, healthHandler, log)
	}
	healthHandler.SetReady(true)

	report := verify.NewReport(os.Stdout)
	report.Header(dir, len(files))

	results := make([]verify.Result, 0, len(files))
	for _, f := range files {
		if ctx.Err() != nil {
			log.Warnw("verification interrupted", "err", ctx.Err())
			break
		}
		var size int64
		if st, err := os.Stat(f); err == nil {
			size = st.Size()
		}
		report.Parsing(filepath.Base(f), size)
		res := analyzer.AnalyzeFile(ctx, f)
		report.File(res)
		results = append(results, res)
	}
	report.Summary(results)
}
