// Package imagecache downloads a set of image URLs into a flat local
// directory, skipping files that are already present.
package imagecache

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"time"

	"golang.org/x/sync/errgroup"
	"golang.org/x/time/rate"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/transport"
)

// DefaultWorkers is the download pool size used when Options.Workers is unset.
const DefaultWorkers = 8

const acceptImage = "image/avif,image/webp,image/apng,image/*,*/*;q=0.8"

// Options configures an Engine.
type Options struct {
	Dir     string
	Workers int
	// Delay is the minimum spacing between reported completions.
	Delay time.Duration
	// ReadTimeout fails a download when its body stalls for this long.
	// Zero leaves body reads to the client.
	ReadTimeout time.Duration
	Client      *http.Client
	Metrics     *Metrics
}

// Engine fetches URLs into Dir with a bounded worker pool.
type Engine struct {
	client      *http.Client
	dir         string
	workers     int
	delay       time.Duration
	readTimeout time.Duration
	Metrics     *Metrics
}

// New builds an Engine from opts.
func New(opts Options) *Engine {
	workers := opts.Workers
	if workers <= 0 {
		workers = DefaultWorkers
	}
	client := opts.Client
	if client == nil {
		client = http.DefaultClient
	}
	metrics := opts.Metrics
	if metrics == nil {
		metrics = NewMetrics()
	}
	return &Engine{
		client:      client,
		dir:         opts.Dir,
		workers:     workers,
		delay:       opts.Delay,
		readTimeout: opts.ReadTimeout,
		Metrics:     metrics,
	}
}

// NewFromConfig builds an Engine with a retrying client configured from cfg.
// A nil base selects the pooled HTTP transport. cfg.Timeout bounds the wait
// for response headers and each body read, not the whole download.
func NewFromConfig(cfg *config.ImageConfig, base http.RoundTripper) *Engine {
	metrics := NewMetrics()
	client := transport.NewClient(transport.ClientOptions{
		Timeout:   cfg.Timeout,
		Streaming: true,
		UserAgent: cfg.UserAgent,
		Accept:    acceptImage,
		Base:      base,
		Policy: transport.RetryPolicy{
			MaxRetries: cfg.MaxRetries,
			Backoff:    cfg.RetryBackoff,
			BackoffMax: cfg.RetryBackoffMax,
		},
		OnRetry: func(*http.Request, int, error) {
			metrics.IncRetries()
		},
	})

	return New(Options{
		Dir:         cfg.ImagesDir,
		Workers:     cfg.Workers,
		Delay:       cfg.Delay,
		ReadTimeout: cfg.Timeout,
		Client:      client,
		Metrics:     metrics,
	})
}

// Dir returns the cache directory.
func (e *Engine) Dir() string {
	return e.dir
}

// FetchAll makes sure every URL in urls has a local copy and reports one
// outcome per URL. Per-URL failures are recorded in the report; the only
// returned error is a cache directory that cannot be created.
//
// Cancelling ctx stops new downloads from starting. URLs not yet started
// fail with the context error; downloads already running finish.
func (e *Engine) FetchAll(ctx context.Context, urls models.URLSet) (*models.FetchReport, error) {
	if err := os.MkdirAll(e.dir, 0o755); err != nil {
		return nil, fmt.Errorf("create cache dir %s: %w", e.dir, err)
	}

	targets := urls.Sorted()
	names := AssignNames(targets)
	report := models.NewFetchReport(len(targets))
	if len(targets) == 0 {
		return report, nil
	}

	results := make(chan models.FetchOutcome)
	var g errgroup.Group
	g.SetLimit(e.workers)

	go func() {
		defer close(results)
		for _, target := range targets {
			if err := ctx.Err(); err != nil {
				results <- models.FetchOutcome{URL: target, LocalName: names[target], Err: err}
				continue
			}
			g.Go(func() error {
				results <- e.fetchOne(context.WithoutCancel(ctx), target, names[target])
				return nil
			})
		}
		_ = g.Wait()
	}()

	var limiter *rate.Limiter
	if e.delay > 0 {
		limiter = rate.NewLimiter(rate.Every(e.delay), 1)
	}

	for outcome := range results {
		if limiter != nil {
			_ = limiter.Wait(ctx)
		}
		report.Add(outcome)
		e.record(outcome, report.Total, len(targets))
	}

	slog.Info("image cache finished",
		slog.Int("total", report.Total),
		slog.Int("succeeded", report.Succeeded),
		slog.Int("cached", report.Cached),
		slog.Int("failed", report.Failed),
	)
	return report, nil
}

func (e *Engine) record(o models.FetchOutcome, done, total int) {
	switch {
	case o.Success && o.Cached:
		e.Metrics.IncFetch("cached")
		slog.Debug("image already cached", slog.String("url", o.URL), slog.String("file", o.LocalName))
	case o.Success:
		e.Metrics.IncFetch("downloaded")
		slog.Info("image downloaded",
			slog.String("url", o.URL),
			slog.String("file", o.LocalName),
			slog.Int("done", done),
			slog.Int("total", total),
		)
	default:
		label := transport.Label(o.Err)
		e.Metrics.IncFetch("failed")
		e.Metrics.IncError(label)
		slog.Warn("image fetch failed",
			slog.String("url", o.URL),
			slog.String("category", label),
			slog.Any("error", o.Err),
		)
	}
}

// fetchOne downloads target into the cache unless the file already exists.
// The body is written to a temp file in the same directory and renamed into
// place, so a partial download never looks cached.
func (e *Engine) fetchOne(ctx context.Context, target, name string) models.FetchOutcome {
	outcome := models.FetchOutcome{URL: target, LocalName: name}
	dest := filepath.Join(e.dir, name)

	if _, err := os.Stat(dest); err == nil {
		outcome.Success = true
		outcome.Cached = true
		return outcome
	}

	start := time.Now()
	n, err := e.download(ctx, target, dest)
	if err != nil {
		outcome.Err = err
		return outcome
	}
	e.Metrics.ObserveDownload(time.Since(start), n)
	outcome.Success = true
	return outcome
}

func (e *Engine) download(ctx context.Context, target, dest string) (int64, error) {
	ctx, cancel := context.WithCancelCause(ctx)
	defer cancel(nil)

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return 0, fmt.Errorf("build request for %s: %w", target, err)
	}

	resp, err := e.client.Do(req)
	if err != nil {
		return 0, transport.Classify(fmt.Errorf("get %s: %w", target, err), 0)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return 0, transport.StatusError(resp.StatusCode, target)
	}

	tmp, err := os.CreateTemp(e.dir, ".fetch-*.part")
	if err != nil {
		return 0, fmt.Errorf("create temp file in %s: %w", e.dir, err)
	}
	tmpName := tmp.Name()

	var body io.Reader = resp.Body
	if e.readTimeout > 0 {
		idle := newIdleReader(resp.Body, e.readTimeout, cancel)
		defer idle.stop()
		body = idle
	}

	n, copyErr := io.Copy(tmp, body)
	if copyErr != nil && errors.Is(context.Cause(ctx), errReadStalled) {
		copyErr = transport.ErrTimeout{Err: errReadStalled}
	}
	closeErr := tmp.Close()
	if err := errors.Join(copyErr, closeErr); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("write %s: %w", dest, err)
	}
	if err := os.Rename(tmpName, dest); err != nil {
		os.Remove(tmpName)
		return 0, fmt.Errorf("rename into %s: %w", dest, err)
	}
	return n, nil
}

var errReadStalled = errors.New("body read stalled")

// idleReader cancels the request when no bytes arrive within timeout.
type idleReader struct {
	r       io.Reader
	timeout time.Duration
	timer   *time.Timer
}

func newIdleReader(r io.Reader, timeout time.Duration, cancel context.CancelCauseFunc) *idleReader {
	return &idleReader{
		r:       r,
		timeout: timeout,
		timer:   time.AfterFunc(timeout, func() { cancel(errReadStalled) }),
	}
}

func (r *idleReader) Read(p []byte) (int, error) {
	n, err := r.r.Read(p)
	if n > 0 {
		r.timer.Reset(r.timeout)
	}
	return n, err
}

func (r *idleReader) stop() {
	r.timer.Stop()
}
