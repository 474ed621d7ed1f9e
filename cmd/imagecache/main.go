package main

import (
	"context"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/cli"
	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/imagecache"
	"github.com/aluiziolira/go-scrape-catalog/pipeline"
)

func main() {
	defaults := config.DefaultImageConfig()

	configPath := flag.String("config", "", "Optional YAML config file (applied before env and flags)")
	input := flag.String("input", defaults.InputFile, "Product CSV to read")
	output := flag.String("output", defaults.OutputFile, "Rewritten CSV to write")
	imagesDir := flag.String("images-dir", defaults.ImagesDir, "Local image cache directory")
	column := flag.String("column", defaults.Column, "Column holding |-separated image URLs")
	publicBase := flag.String("public-base", defaults.PublicBaseURL, "Base URL that replaces cached image URLs")
	threads := flag.Int("threads", defaults.Workers, "Concurrent downloads")
	delayMs := flag.Int("delay", int(defaults.Delay/time.Millisecond), "Minimum spacing between completed downloads (milliseconds)")
	timeoutSec := flag.Int("timeout", int(defaults.Timeout/time.Second), "Per-request timeout (seconds)")
	maxRetries := flag.Int("max-retries", defaults.MaxRetries, "Maximum retry attempts per image")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")

	flag.Parse()

	_, logLevel := cli.SetupLogging(*verbose)

	cfg := config.DefaultImageConfig()
	if *configPath != "" {
		if err := config.LoadFile(*configPath, cfg); err != nil {
			cli.Fatal("loading config file", err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		cli.Fatal("reading environment", err)
	}
	cli.ApplySetFlags(flag.CommandLine, map[string]func(){
		"input":        func() { cfg.InputFile = *input },
		"output":       func() { cfg.OutputFile = *output },
		"images-dir":   func() { cfg.ImagesDir = *imagesDir },
		"column":       func() { cfg.Column = *column },
		"public-base":  func() { cfg.PublicBaseURL = *publicBase },
		"threads":      func() { cfg.Workers = *threads },
		"delay":        func() { cfg.Delay = time.Duration(*delayMs) * time.Millisecond },
		"timeout":      func() { cfg.Timeout = time.Duration(*timeoutSec) * time.Second },
		"max-retries":  func() { cfg.MaxRetries = *maxRetries },
		"v":            func() { cfg.Verbose = *verbose },
		"metrics-addr": func() { cfg.MetricsAddr = *metricsAddr },
	})
	if cfg.Verbose {
		logLevel.Set(slog.LevelDebug)
	}

	if err := cfg.Validate(); err != nil {
		cli.Fatal("invalid configuration", err)
	}

	table, err := pipeline.ReadTable(cfg.InputFile, cfg.Column)
	if err != nil {
		cli.Fatal("reading input", err)
	}
	urls, err := pipeline.CollectImageURLs(table, cfg.Column)
	if err != nil {
		cli.Fatal("collecting image urls", err)
	}
	slog.Info("collected image urls",
		slog.String("input", cfg.InputFile),
		slog.Int("rows", len(table.Rows)),
		slog.Int("distinct_urls", urls.Len()),
	)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	engine := imagecache.NewFromConfig(cfg, nil)
	metricsServer := cli.ServeMetrics(cfg.MetricsAddr, engine.Metrics.Registry)

	report, err := engine.FetchAll(ctx, urls)
	if err != nil {
		cli.Fatal("fetching images", err)
	}

	rewritten, err := pipeline.RewriteImages(table, cfg.Column, report.Outcomes, pipeline.PublicLink(cfg.PublicBaseURL))
	if err != nil {
		cli.Fatal("rewriting image column", err)
	}
	if err := pipeline.WriteTable(cfg.OutputFile, rewritten); err != nil {
		cli.Fatal("writing output", err)
	}

	cli.ShutdownMetrics(metricsServer)

	fmt.Printf("total_images=%d\n", report.Total)
	fmt.Printf("successful=%d\n", report.Succeeded)
	fmt.Printf("failed=%d\n", report.Failed)
}

func applyEnv(cfg *config.ImageConfig) error {
	if value, ok := config.EnvString("IMAGES_INPUT"); ok {
		cfg.InputFile = value
	}
	if value, ok := config.EnvString("IMAGES_OUTPUT"); ok {
		cfg.OutputFile = value
	}
	if value, ok := config.EnvString("IMAGES_DIR"); ok {
		cfg.ImagesDir = value
	}
	if value, ok := config.EnvString("IMAGES_PUBLIC_BASE"); ok {
		cfg.PublicBaseURL = value
	}
	if value, ok, err := config.EnvInt("IMAGES_THREADS"); err != nil {
		return err
	} else if ok {
		cfg.Workers = value
	}
	if value, ok, err := config.EnvDuration("IMAGES_DELAY"); err != nil {
		return err
	} else if ok {
		cfg.Delay = value
	}
	if value, ok := config.EnvString("IMAGES_METRICS_ADDR"); ok {
		cfg.MetricsAddr = value
	}
	return nil
}
