package scraper

import (
	"context"
	"errors"
	"fmt"
	"iter"
	"log/slog"
	"math/rand/v2"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/parser"
	"github.com/aluiziolira/go-scrape-catalog/pipeline"
	"github.com/aluiziolira/go-scrape-catalog/transport"
	"github.com/gocolly/colly/v2"
)

// Reasons a walk ends, reported in models.ScraperResult.StopReason.
const (
	StopExhausted  = "listing_exhausted"
	StopPageFailed = "page_fetch_failed"
	StopMaxPages   = "max_pages_reached"
	StopCancelled  = "cancelled"
	StopConsumer   = "consumer_stopped"
)

const acceptHTML = "text/html,application/xhtml+xml,application/xml;q=0.9,image/avif,image/webp,*/*;q=0.8"

// ProductSink receives extracted products.
type ProductSink interface {
	Process(products ...*models.Product) error
}

// Walker paginates a category listing and extracts every product it links
// to. Requests are issued one at a time.
type Walker struct {
	cfg       *config.Config
	baseURL   *url.URL
	collector *colly.Collector
	extractor *parser.Extractor
	retry     *transport.RetryTransport
	Metrics   *Metrics

	started atomic.Bool
	body    []byte

	requestCount int64
	pageCount    int64
	productCount int64
	errorCount   int64

	mu           sync.Mutex
	failedURLs   []string
	errorsByType map[string]int
	start        time.Time
	end          time.Time
	stopReason   string
}

// NewWalker builds a walker configured from cfg. A nil extractor selects
// the default one.
func NewWalker(cfg *config.Config, extractor *parser.Extractor) (*Walker, error) {
	parsed, err := url.Parse(cfg.BaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse base url: %w", err)
	}
	if parsed.Host == "" {
		return nil, fmt.Errorf("base url must include a host")
	}
	if extractor == nil {
		extractor = parser.NewExtractor(nil, nil)
	}

	collector := colly.NewCollector(
		colly.AllowedDomains(parsed.Hostname()),
		colly.UserAgent(cfg.UserAgent),
		colly.AllowURLRevisit(),
	)
	collector.SetRequestTimeout(cfg.Timeout)
	collector.IgnoreRobotsTxt = true

	w := &Walker{
		cfg:          cfg,
		baseURL:      parsed,
		collector:    collector,
		extractor:    extractor,
		errorsByType: make(map[string]int),
		Metrics:      NewMetrics(),
	}

	w.retry = transport.NewRetryTransport(transport.NewHTTPTransport(cfg.Timeout), transport.RetryPolicy{
		MaxRetries: cfg.MaxRetries,
		Backoff:    cfg.RetryBackoff,
		BackoffMax: cfg.RetryBackoffMax,
	})
	w.retry.OnRetry = func(*http.Request, int, error) {
		w.Metrics.IncRetries()
	}
	collector.WithTransport(w.retry)

	w.configureHandlers()
	return w, nil
}

func (w *Walker) configureHandlers() {
	w.collector.OnRequest(func(r *colly.Request) {
		r.Headers.Set("Accept", acceptHTML)
		r.Headers.Set("Accept-Language", "en-US,en;q=0.9")
		r.Ctx.Put("start", time.Now())
		atomic.AddInt64(&w.requestCount, 1)
		w.Metrics.IncRequest("started")
	})

	w.collector.OnResponse(func(r *colly.Response) {
		w.body = r.Body
		w.Metrics.IncRequest("completed")
		if start, ok := r.Request.Ctx.GetAny("start").(time.Time); ok {
			w.Metrics.ObserveDuration(time.Since(start))
		}
	})

	w.collector.OnError(func(r *colly.Response, err error) {
		atomic.AddInt64(&w.errorCount, 1)
		statusCode := 0
		target := ""
		if r != nil {
			statusCode = r.StatusCode
			if r.Request != nil && r.Request.URL != nil {
				target = r.Request.URL.String()
			}
		}
		category := transport.Label(transport.Classify(err, statusCode))

		w.mu.Lock()
		w.errorsByType[category]++
		w.failedURLs = append(w.failedURLs, target)
		w.mu.Unlock()

		slog.Debug("request error",
			slog.String("url", target),
			slog.Int("status", statusCode),
			slog.String("category", category),
			slog.Any("error", err),
		)
		w.Metrics.IncError(category)
	})
}

// Products walks the listing lazily, yielding one product per successfully
// extracted product page. The sequence can be consumed only once.
func (w *Walker) Products(ctx context.Context) iter.Seq[*models.Product] {
	return func(yield func(*models.Product) bool) {
		if !w.started.CompareAndSwap(false, true) {
			return
		}
		w.mu.Lock()
		w.start = time.Now()
		w.mu.Unlock()

		for page := 1; page <= w.cfg.MaxPages; page++ {
			if ctx.Err() != nil {
				w.finish(StopCancelled)
				return
			}

			links, err := w.listingLinks(ctx, page)
			if err != nil {
				slog.Warn("failed to fetch category page, stopping",
					slog.Int("page", page),
					slog.Any("error", err),
				)
				w.finish(StopPageFailed)
				return
			}
			if len(links) == 0 {
				slog.Info("no products found, stopping", slog.Int("page", page))
				w.finish(StopExhausted)
				return
			}

			atomic.AddInt64(&w.pageCount, 1)
			w.Metrics.IncPages()
			slog.Info("found product links", slog.Int("page", page), slog.Int("links", len(links)))

			if limit := w.cfg.MaxProductsPerPage; limit > 0 && len(links) > limit {
				links = links[:limit]
			}

			for i, link := range links {
				if err := w.pause(ctx); err != nil {
					w.finish(StopCancelled)
					return
				}

				product, err := w.product(ctx, link)
				if err != nil {
					slog.Error("error scraping product", slog.String("url", link), slog.Any("error", err))
					continue
				}

				atomic.AddInt64(&w.productCount, 1)
				w.Metrics.IncItems()
				title := product.Title
				if title == "" {
					title = "untitled"
				}
				slog.Info("scraped product",
					slog.Int("index", i+1),
					slog.Int("total", len(links)),
					slog.Int("page", page),
					slog.String("title", title),
				)

				if !yield(product) {
					w.finish(StopConsumer)
					return
				}
			}
		}
		w.finish(StopMaxPages)
	}
}

// Run drains the walk into sink and returns the walk summary. Only a sink
// failure is returned as an error.
func (w *Walker) Run(ctx context.Context, sink ProductSink) (*models.ScraperResult, error) {
	if ctx == nil {
		ctx = context.Background()
	}

	var sinkErr error
	for product := range w.Products(ctx) {
		if err := sink.Process(product); err != nil {
			if !errors.Is(err, pipeline.ErrPipelineClosed) {
				sinkErr = fmt.Errorf("process product %s: %w", product.URL, err)
			}
			break
		}
	}

	return w.Result(), sinkErr
}

// Result returns a snapshot of the walk counters.
func (w *Walker) Result() *models.ScraperResult {
	w.mu.Lock()
	defer w.mu.Unlock()

	failed := make([]string, len(w.failedURLs))
	copy(failed, w.failedURLs)
	byType := make(map[string]int, len(w.errorsByType))
	for k, v := range w.errorsByType {
		byType[k] = v
	}

	return &models.ScraperResult{
		StartTime:    w.start,
		EndTime:      w.end,
		PageCount:    int(atomic.LoadInt64(&w.pageCount)),
		ProductCount: int(atomic.LoadInt64(&w.productCount)),
		RequestCount: int(atomic.LoadInt64(&w.requestCount)),
		ErrorCount:   int(atomic.LoadInt64(&w.errorCount)),
		FailedURLs:   failed,
		ErrorsByType: byType,
		StopReason:   w.stopReason,
	}
}

// Retries returns the number of transport retries issued so far.
func (w *Walker) Retries() int {
	return w.retry.Retries()
}

// listingLinks fetches one listing page. Page 1 is the base URL; later pages
// try /page/N/ first and fall back to ?paged=N.
func (w *Walker) listingLinks(ctx context.Context, page int) ([]string, error) {
	if page == 1 {
		return w.linksAt(ctx, w.baseURL.String())
	}

	pathURL := PagePathURL(w.baseURL, page)
	links, err := w.linksAt(ctx, pathURL)
	if err == nil && len(links) > 0 {
		return links, nil
	}
	slog.Debug("path pagination yielded nothing, trying query pagination",
		slog.Int("page", page),
		slog.String("url", pathURL),
		slog.Any("error", err),
	)
	return w.linksAt(ctx, PageQueryURL(w.baseURL, page))
}

func (w *Walker) linksAt(ctx context.Context, target string) ([]string, error) {
	body, err := w.fetch(ctx, target)
	if err != nil {
		return nil, err
	}
	return parser.ProductLinks(body, target)
}

func (w *Walker) product(ctx context.Context, link string) (*models.Product, error) {
	body, err := w.fetch(ctx, link)
	if err != nil {
		return nil, err
	}
	return w.extractor.Extract(body, link)
}

// fetch performs one synchronous visit and returns the response body.
func (w *Walker) fetch(ctx context.Context, target string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	w.body = nil
	if err := w.collector.Visit(target); err != nil {
		return nil, fmt.Errorf("visit %s: %w", target, err)
	}
	return w.body, nil
}

// pause sleeps Delay plus up to RandomDelay of jitter before a product fetch.
func (w *Walker) pause(ctx context.Context) error {
	delay := w.cfg.Delay
	if jitter := w.cfg.RandomDelay; jitter > 0 {
		delay += time.Duration(rand.Int64N(int64(jitter)))
	}
	if delay <= 0 {
		return ctx.Err()
	}

	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

func (w *Walker) finish(reason string) {
	w.mu.Lock()
	w.stopReason = reason
	w.end = time.Now()
	w.mu.Unlock()
}

// PagePathURL returns base with "/page/N/" appended to its path.
func PagePathURL(base *url.URL, page int) string {
	u := *base
	u.Path = strings.TrimSuffix(u.Path, "/") + "/page/" + strconv.Itoa(page) + "/"
	u.RawPath = ""
	return u.String()
}

// PageQueryURL returns base with the "paged" query parameter set to N.
func PageQueryURL(base *url.URL, page int) string {
	u := *base
	q := u.Query()
	q.Set("paged", strconv.Itoa(page))
	u.RawQuery = q.Encode()
	return u.String()
}
