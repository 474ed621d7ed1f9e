package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/cli"
	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
	"github.com/aluiziolira/go-scrape-catalog/pipeline"
	"github.com/aluiziolira/go-scrape-catalog/scraper"
)

func main() {
	defaults := config.DefaultConfig()

	configPath := flag.String("config", "", "Optional YAML config file (applied before env and flags)")
	baseURL := flag.String("base-url", defaults.BaseURL, "Category listing URL to walk")
	maxPages := flag.Int("pages", defaults.MaxPages, "Maximum listing pages to walk")
	maxProducts := flag.Int("max-products", defaults.MaxProductsPerPage, "Maximum products per listing page (0 = all)")
	delayMs := flag.Int("delay", int(defaults.Delay/time.Millisecond), "Delay before each product request (milliseconds)")
	randomDelayMs := flag.Int("random-delay", int(defaults.RandomDelay/time.Millisecond), "Random jitter added to delay (milliseconds)")
	timeoutSec := flag.Int("timeout", int(defaults.Timeout/time.Second), "Per-request timeout (seconds)")
	maxRetries := flag.Int("max-retries", defaults.MaxRetries, "Maximum retry attempts per request")
	retryBackoffMs := flag.Int("retry-backoff", int(defaults.RetryBackoff/time.Millisecond), "Initial retry backoff (milliseconds)")
	retryBackoffMaxMs := flag.Int("retry-backoff-max", int(defaults.RetryBackoffMax/time.Millisecond), "Maximum retry backoff (milliseconds)")
	outputFile := flag.String("output", defaults.OutputFile, "Output file path")
	outputFormat := flag.String("format", defaults.OutputFormat, "Output format: csv, json, or dual")
	seed := flag.Uint64("seed", 0, "Seed for synthetic sku/stock values (0 = random)")
	verbose := flag.Bool("v", false, "Enable verbose logging")
	metricsAddr := flag.String("metrics-addr", "", "Prometheus metrics listen address (e.g. :9090)")

	flag.Parse()

	_, logLevel := cli.SetupLogging(*verbose)

	cfg := config.DefaultConfig()
	if *configPath != "" {
		if err := config.LoadFile(*configPath, cfg); err != nil {
			cli.Fatal("loading config file", err)
		}
	}
	if err := applyEnv(cfg); err != nil {
		cli.Fatal("reading environment", err)
	}
	cli.ApplySetFlags(flag.CommandLine, map[string]func(){
		"base-url":          func() { cfg.BaseURL = *baseURL },
		"pages":             func() { cfg.MaxPages = *maxPages },
		"max-products":      func() { cfg.MaxProductsPerPage = *maxProducts },
		"delay":             func() { cfg.Delay = time.Duration(*delayMs) * time.Millisecond },
		"random-delay":      func() { cfg.RandomDelay = time.Duration(*randomDelayMs) * time.Millisecond },
		"timeout":           func() { cfg.Timeout = time.Duration(*timeoutSec) * time.Second },
		"max-retries":       func() { cfg.MaxRetries = *maxRetries },
		"retry-backoff":     func() { cfg.RetryBackoff = time.Duration(*retryBackoffMs) * time.Millisecond },
		"retry-backoff-max": func() { cfg.RetryBackoffMax = time.Duration(*retryBackoffMaxMs) * time.Millisecond },
		"output":            func() { cfg.OutputFile = *outputFile },
		"format":            func() { cfg.OutputFormat = *outputFormat },
		"v":                 func() { cfg.Verbose = *verbose },
		"metrics-addr":      func() { cfg.MetricsAddr = *metricsAddr },
	})
	cfg.OutputFormat = strings.ToLower(cfg.OutputFormat)
	if cfg.Verbose {
		logLevel.Set(slog.LevelDebug)
	}

	if err := cfg.Validate(); err != nil {
		cli.Fatal("invalid configuration", err)
	}

	slog.Info("starting category walk",
		slog.String("base_url", cfg.BaseURL),
		slog.Int("pages", cfg.MaxPages),
		slog.String("output", cfg.OutputFile),
	)

	ids := parser.NewIdentityGenerator()
	if *seed != 0 {
		ids = parser.NewSeededIdentityGenerator(*seed)
	}
	w, err := scraper.NewWalker(cfg, parser.NewExtractor(nil, ids))
	if err != nil {
		cli.Fatal("initialising walker", err)
	}

	writer, err := createWriter(cfg.OutputFormat, cfg.OutputFile)
	if err != nil {
		cli.Fatal("creating writer", err)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	go func() {
		<-ctx.Done()
		slog.Info("shutdown signal received, finishing the current product")
	}()

	metricsServer := cli.ServeMetrics(cfg.MetricsAddr, w.Metrics.Registry)

	startTime := time.Now()
	result, metrics, runErr := walk(ctx, cfg, w, writer)
	closeErr := writer.Close()
	stop()
	cli.ShutdownMetrics(metricsServer)

	if closeErr != nil {
		closeErr = fmt.Errorf("close writer: %w", closeErr)
	}
	if err := errors.Join(runErr, closeErr); err != nil {
		cli.Fatal("walk failed", err)
	}

	printSummary(result, w.Retries(), time.Since(startTime), cfg.OutputFile, metrics)
}

// walk feeds the walker into the output pipeline and drains it. The writer
// is left open for the caller to close.
func walk(ctx context.Context, cfg *config.Config, w *scraper.Walker, writer pipeline.OutputWriter) (*models.ScraperResult, map[string]interface{}, error) {
	// One worker keeps output rows in walk order.
	p := pipeline.NewPipeline(ctx, writer, cfg)
	p.Start(1)
	if cfg.Verbose {
		p.StartMetricsReporting(10 * time.Second)
	}

	result, err := w.Run(ctx, p)
	if err != nil {
		return nil, nil, errors.Join(err, p.Close())
	}
	if err := p.Close(); err != nil {
		return nil, nil, fmt.Errorf("pipeline shutdown: %w", err)
	}
	if err := writer.Validate(); err != nil {
		return nil, nil, fmt.Errorf("output validation: %w", err)
	}
	return result, p.GetMetrics(), nil
}

func applyEnv(cfg *config.Config) error {
	if value, ok := config.EnvString("SCRAPER_BASE_URL"); ok {
		cfg.BaseURL = value
	}
	if value, ok, err := config.EnvInt("SCRAPER_PAGES"); err != nil {
		return err
	} else if ok {
		cfg.MaxPages = value
	}
	if value, ok, err := config.EnvDuration("SCRAPER_DELAY"); err != nil {
		return err
	} else if ok {
		cfg.Delay = value
	}
	if value, ok := config.EnvString("SCRAPER_OUTPUT"); ok {
		cfg.OutputFile = value
	}
	if value, ok := config.EnvString("SCRAPER_METRICS_ADDR"); ok {
		cfg.MetricsAddr = value
	}
	return nil
}

func createWriter(format, filename string) (pipeline.OutputWriter, error) {
	switch format {
	case "json":
		return pipeline.NewJSONWriter(filename)
	case "csv":
		return pipeline.NewCSVWriter(filename)
	case "dual":
		jsonFilename := strings.TrimSuffix(filename, ".csv") + ".jsonl"
		return pipeline.NewDualWriter(filename, jsonFilename)
	default:
		return nil, fmt.Errorf("unsupported format: %s", format)
	}
}

func printSummary(result *models.ScraperResult, retries int, duration time.Duration, outputFile string, metrics map[string]interface{}) {
	separator := "--------------------------------------------------"
	fmt.Println("\n" + separator)
	fmt.Println("Walk complete")

	written := int64(0)
	if processed, ok := metrics["processed_products"].(int64); ok {
		written = processed
	}
	perSec := 0.0
	if duration.Seconds() > 0 {
		perSec = float64(written) / duration.Seconds()
	}

	fmt.Printf("  Products:      %d\n", written)
	fmt.Printf("  Pages:         %d\n", result.PageCount)
	fmt.Printf("  Stopped:       %s\n", result.StopReason)
	successRate := 0.0
	if result.RequestCount > 0 {
		successRate = float64(result.RequestCount-result.ErrorCount) / float64(result.RequestCount) * 100
	}
	fmt.Printf("  Success rate:  %.2f%%\n", successRate)
	fmt.Printf("  Errors:        %d\n", result.ErrorCount)
	fmt.Printf("  Retries:       %d\n", retries)
	fmt.Printf("  Failed URLs:   %d\n", len(result.FailedURLs))
	if len(result.ErrorsByType) > 0 {
		fmt.Printf("  Error types:   %v\n", result.ErrorsByType)
	}
	if valErrors, ok := metrics["validation_errors"].(map[string]int); ok && len(valErrors) > 0 {
		fmt.Printf("  Validation:    %v\n", valErrors)
	}
	fmt.Printf("  Duration:      %v\n", duration.Round(time.Millisecond))
	fmt.Printf("  Products/sec:  %.2f\n", perSec)
	fmt.Printf("  Output file:   %s\n", outputFile)
	fmt.Println(separator)
}
