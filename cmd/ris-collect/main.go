package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"runtime"
	"strings"
	"syscall"

	"github.com/shadimotaali/first-full-paper/internal/collector"
	"github.com/shadimotaali/first-full-paper/internal/config"
	"github.com/shadimotaali/first-full-paper/internal/dump"
	"github.com/shadimotaali/first-full-paper/internal/health"
	"github.com/shadimotaali/first-full-paper/internal/logging"
	"github.com/shadimotaali/first-full-paper/internal/metrics"
	"github.com/shadimotaali/first-full-paper/internal/telemetry"
	"github.com/shadimotaali/first-full-paper/internal/ui"
	"github.com/shadimotaali/first-full-paper/internal/window"
)

const version = "1.0.0"

func main() {
	var configFile string
	var baseURL, collectorName string
	var start, end string
	var step int
	var nameTemplate string
	var rootDir, csvOutput, outputFormat string
	var dumpBackend, dumpTool string
	var maxRetries int
	var rps float64
	var respectRobots, checkIndex bool
	var postgresDSN string
	var metricsAddr string
	var otelEndpoint, otelService string
	var otelInsecure bool
	var logLevel string
	var progress bool
	var showVersion bool

	flag.StringVar(&configFile, "config", "", "path to config file (YAML or JSON)")
	flag.StringVar(&baseURL, "base_url", "", "archive directory URL holding the update files")
	flag.StringVar(&collectorName, "collector", "", "RIS collector name, e.g. rrc04")
	flag.StringVar(&start, "start", "", "first file stamp (YYYYMMDD.HHMM, UTC)")
	flag.StringVar(&end, "end", "", "last file stamp, inclusive")
	flag.IntVar(&step, "step", 0, "minutes between files")
	flag.StringVar(&nameTemplate, "name_template", "", "file name template with one %s for the stamp")
	flag.StringVar(&rootDir, "root", "", "root directory for downloads, scratch files and output")
	flag.StringVar(&csvOutput, "out", "", "output file name under the root directory")
	flag.StringVar(&outputFormat, "output_format", "", "output format (csv, jsonl)")
	flag.StringVar(&dumpBackend, "dump_backend", "", "dump backend (exec, native)")
	flag.StringVar(&dumpTool, "dump_tool", "", "dump tool binary for the exec backend")
	flag.IntVar(&maxRetries, "max_retries", 0, "download retries per file (0 = single attempt)")
	flag.Float64Var(&rps, "rps", 0, "requests per second per host (0 = unpaced)")
	flag.BoolVar(&respectRobots, "respect_robots", false, "honour the archive's robots.txt")
	flag.BoolVar(&checkIndex, "check_index", false, "skip files missing from the archive's directory listing")
	flag.StringVar(&postgresDSN, "postgres_dsn", "", "also load records into PostgreSQL (empty to disable)")
	flag.StringVar(&metricsAddr, "metrics_addr", "", "metrics listen addr (empty to disable)")
	flag.StringVar(&otelEndpoint, "otel_endpoint", "", "OTLP HTTP endpoint (host:port)")
	flag.BoolVar(&otelInsecure, "otel_insecure", true, "OTLP insecure (no TLS)")
	flag.StringVar(&otelService, "otel_service", "", "OTEL service.name")
	flag.StringVar(&logLevel, "log_level", "", "log level (debug, info, warn, error)")
	flag.BoolVar(&progress, "progress", false, "draw a per-file progress bar on stderr")
	flag.BoolVar(&showVersion, "version", false, "show version and exit")

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, "ris-collect downloads RIPE RIS update archives for a time window and\n")
		fmt.Fprintf(os.Stderr, "writes every BGP announcement and withdrawal to one CSV file.\n\n")
		fmt.Fprintf(os.Stderr, "Usage: %s [options]\n\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "Options:\n")
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, "\nExamples:\n")
		fmt.Fprintf(os.Stderr, "  %s -collector=rrc04 -start=20251117.0005 -end=20251118.0000\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "  %s -config=collect.yaml -dump_backend=native\n", os.Args[0])
		fmt.Fprintf(os.Stderr, "\nEnvironment Variables:\n")
		fmt.Fprintf(os.Stderr, "  RIS_BASE_URL     Archive directory URL\n")
		fmt.Fprintf(os.Stderr, "  RIS_ROOT_DIR     Root directory\n")
		fmt.Fprintf(os.Stderr, "  BGPDUMP_BIN      Dump tool binary\n")
		fmt.Fprintf(os.Stderr, "  POSTGRES_DSN     PostgreSQL sink\n")
		fmt.Fprintf(os.Stderr, "  LOG_LEVEL        Log level (debug, info, warn, error)\n")
	}

	flag.Parse()

	if showVersion {
		fmt.Println("ris-collect v" + version)
		fmt.Println("Built with Go", strings.TrimPrefix(runtime.Version(), "go"))
		os.Exit(0)
	}

	var cfg *config.Config
	var err error
	if configFile != "" {
		cfg, err = config.LoadFromFile(configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "failed to load config file %s: %v\n", configFile, err)
			os.Exit(1)
		}
	} else {
		cfg = config.Defaults()
	}

	cfg.LoadFromEnv()

	flags := map[string]interface{}{
		"base_url":            baseURL,
		"collector":           collectorName,
		"start":               start,
		"end":                 end,
		"step_minutes":        step,
		"name_template":       nameTemplate,
		"root_dir":            rootDir,
		"csv_output":          csvOutput,
		"output_format":       outputFormat,
		"dump_backend":        dumpBackend,
		"dump_tool":           dumpTool,
		"max_retries":         maxRetries,
		"requests_per_second": rps,
		"postgres_dsn":        postgresDSN,
		"metrics_addr":        metricsAddr,
		"otel_endpoint":       otelEndpoint,
		"otel_service":        otelService,
		"log_level":           logLevel,
	}
	// Booleans only override the file when given explicitly.
	flag.Visit(func(f *flag.Flag) {
		switch f.Name {
		case "respect_robots":
			flags["respect_robots"] = respectRobots
		case "check_index":
			flags["check_index"] = checkIndex
		case "otel_insecure":
			flags["otel_insecure"] = otelInsecure
		}
	})
	cfg.MergeWithFlags(flags)

	// A new collector or window without an explicit URL points at that
	// collector's month directory.
	if baseURL == "" && os.Getenv("RIS_BASE_URL") == "" && (collectorName != "" || start != "") {
		if t, err := window.ParseStamp(cfg.Start); err == nil {
			cfg.BaseURL = "https://data.ris.ripe.net/" + cfg.Collector + "/" + window.DatePath(t)
		}
	}

	log := logging.New(cfg.LogLevel)
	defer log.Sync()

	if err := cfg.Validate(); err != nil {
		log.Fatalw("invalid configuration", "err", err)
	}

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	shutdown, err := telemetry.Init(ctx, cfg.OTELEndpoint, cfg.OTELService, cfg.OTELInsecure)
	if err != nil {
		log.Warnw("otel init failed", "err", err)
	} else {
		defer shutdown(context.Background())
	}

	var stats *ui.Stats
	if progress {
		stats = ui.NewStats()
	}

	c, closeStore, err := collector.New(ctx, cfg, log, os.Stdout, stats)
	if err != nil {
		log.Fatalw("setup failed", "err", err)
	}
	defer closeStore()

	healthHandler := health.NewHandler()
	healthHandler.SetInfo("collector", cfg.Collector)
	healthHandler.SetInfo("version", version)
	if stats != nil {
		healthHandler.Register("files", health.NewProgressChecker(stats.Counts, 0.5))
	}
	if cfg.MetricsAddr != "" {
		go metrics.Serve(ctx, cfg.MetricsAddr, healthHandler, log)
		log.Infow("metrics and health server started", "addr", cfg.MetricsAddr)
	}

	if stats != nil {
		prev := c.Aggregator.OnFile
		c.Aggregator.OnFile = func(index, total int, res dump.FileResult) {
			if index == 0 {
				stats.SetTotal(int64(total), "Processing files")
			}
			prev(index, total, res)
			if bar := stats.Bar(); bar != nil {
				bar.Render(os.Stderr)
			}
		}
	}

	log.Infow("starting collection",
		"collector", cfg.Collector,
		"base_url", cfg.BaseURL,
		"start", cfg.Start,
		"end", cfg.End,
		"dump_backend", cfg.DumpBackend,
		"config_file", configFile,
	)
	healthHandler.SetReady(true)

	rep, err := c.Run(ctx)
	if stats != nil {
		stats.Finish()
		log.Infow(stats.Summary())
	}
	if rep.Problems != nil {
		log.Warnw("run finished with problems", "run_id", rep.RunID, "err", rep.Problems)
	}
	if err != nil {
		log.Errorw("collection failed", "run_id", rep.RunID, "err", err)
		log.Sync()
		os.Exit(1)
	}
	log.Infow("collection complete", "run_id", rep.RunID, "files", len(rep.Files), "records", rep.Records)
}
