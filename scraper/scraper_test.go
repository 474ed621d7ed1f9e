package scraper

import (
	"context"
	"fmt"
	"net/http"
	"net/url"
	"reflect"
	"strings"
	"sync"
	"testing"

	"github.com/jarcoal/httpmock"

	"github.com/aluiziolira/go-scrape-catalog/config"
	"github.com/aluiziolira/go-scrape-catalog/models"
	"github.com/aluiziolira/go-scrape-catalog/pipeline"
)

const categoryURL = "http://shop.test/product-category/lcd/"

func testConfig() *config.Config {
	cfg := config.DefaultConfig()
	cfg.BaseURL = categoryURL
	cfg.MaxPages = 10
	cfg.Delay = 0
	cfg.RandomDelay = 0
	cfg.MaxRetries = 0
	cfg.PipelineBufferSize = 16
	cfg.BatchSize = 1
	return cfg
}

func newTestWalker(t *testing.T, cfg *config.Config, mock *httpmock.MockTransport) *Walker {
	t.Helper()
	w, err := NewWalker(cfg, nil)
	if err != nil {
		t.Fatalf("new walker: %v", err)
	}
	w.collector.WithTransport(mock)
	return w
}

func htmlResponder(body string) httpmock.Responder {
	resp := httpmock.NewStringResponse(200, body)
	resp.Header.Set("Content-Type", "text/html")
	return httpmock.ResponderFromResponse(resp)
}

func productURL(page, i int) string {
	return fmt.Sprintf("http://shop.test/product/item-%d-%d/", page, i)
}

func buildListingPage(page, count int) string {
	var builder strings.Builder
	builder.WriteString(`<html><body><ul class="products">`)
	for i := 1; i <= count; i++ {
		fmt.Fprintf(&builder, `<li class="product"><a class="woocommerce-LoopProduct-link" href="%s">Item %d-%d</a></li>`, productURL(page, i), page, i)
	}
	builder.WriteString(`</ul></body></html>`)
	return builder.String()
}

func buildProductPage(page, i int) string {
	return fmt.Sprintf(`<html><body><div class="product">
		<h1 class="product_title">Item %d-%d</h1>
		<p class="price"><span class="woocommerce-Price-amount">RM %d.00</span></p>
		<div class="woocommerce-product-gallery"><img src="/wp-content/uploads/item-%d-%d.jpg"></div>
	</div></body></html>`, page, i, page*10+i, page, i)
}

// registerCatalog serves listing pages with the given product counts, page 1
// at the category URL and later pages under /page/N/.
func registerCatalog(mock *httpmock.MockTransport, counts ...int) {
	for idx, count := range counts {
		page := idx + 1
		target := categoryURL
		if page > 1 {
			target = fmt.Sprintf("%spage/%d/", categoryURL, page)
		}
		mock.RegisterResponder("GET", target, htmlResponder(buildListingPage(page, count)))
		registerProducts(mock, page, count)
	}
}

func registerProducts(mock *httpmock.MockTransport, page, count int) {
	for i := 1; i <= count; i++ {
		mock.RegisterResponder("GET", productURL(page, i), htmlResponder(buildProductPage(page, i)))
	}
}

func collect(w *Walker) []*models.Product {
	var out []*models.Product
	for p := range w.Products(context.Background()) {
		out = append(out, p)
	}
	return out
}

func TestWalkerStopsAtEmptyPage(t *testing.T) {
	mock := httpmock.NewMockTransport()
	registerCatalog(mock, 3, 3, 2, 0)
	mock.RegisterResponderWithQuery("GET", categoryURL, "paged=4", htmlResponder(buildListingPage(4, 0)))

	w := newTestWalker(t, testConfig(), mock)
	products := collect(w)

	if len(products) != 8 {
		t.Fatalf("products = %d, want 8", len(products))
	}
	result := w.Result()
	if result.StopReason != StopExhausted {
		t.Fatalf("stop reason = %q, want %q", result.StopReason, StopExhausted)
	}
	if result.PageCount != 3 || result.ProductCount != 8 {
		t.Fatalf("pages=%d products=%d, want 3/8", result.PageCount, result.ProductCount)
	}
	// 3 listing pages, both page 4 variants, 8 product pages.
	if got := mock.GetTotalCallCount(); got != 13 {
		t.Fatalf("http calls = %d, want 13", got)
	}

	first := products[0]
	if first.URL != productURL(1, 1) || first.Title != "Item 1-1" || first.Price != "RM 11.00" {
		t.Fatalf("first product = %+v", first)
	}
	wantImages := []string{"http://shop.test/wp-content/uploads/item-1-1.jpg"}
	if !reflect.DeepEqual(first.Images, wantImages) {
		t.Fatalf("images = %v, want %v", first.Images, wantImages)
	}
}

func TestWalkerFallsBackToQueryPagination(t *testing.T) {
	mock := httpmock.NewMockTransport()
	registerCatalog(mock, 3)
	notFound := httpmock.NewStringResponder(http.StatusNotFound, "")
	mock.RegisterResponder("GET", categoryURL+"page/2/", notFound)
	mock.RegisterResponderWithQuery("GET", categoryURL, "paged=2", htmlResponder(buildListingPage(2, 2)))
	registerProducts(mock, 2, 2)
	mock.RegisterResponder("GET", categoryURL+"page/3/", notFound)
	mock.RegisterResponderWithQuery("GET", categoryURL, "paged=3", htmlResponder(buildListingPage(3, 0)))

	w := newTestWalker(t, testConfig(), mock)
	products := collect(w)

	if len(products) != 5 {
		t.Fatalf("products = %d, want 5", len(products))
	}
	result := w.Result()
	if result.StopReason != StopExhausted {
		t.Fatalf("stop reason = %q, want %q", result.StopReason, StopExhausted)
	}
	if result.ErrorsByType["not_found"] != 2 {
		t.Fatalf("not_found errors = %d, want 2", result.ErrorsByType["not_found"])
	}
}

func TestWalkerStopsWhenPageFetchFails(t *testing.T) {
	mock := httpmock.NewMockTransport()
	registerCatalog(mock, 3)
	serverError := httpmock.NewStringResponder(http.StatusInternalServerError, "")
	mock.RegisterResponder("GET", categoryURL+"page/2/", serverError)
	mock.RegisterResponderWithQuery("GET", categoryURL, "paged=2", serverError)

	w := newTestWalker(t, testConfig(), mock)
	products := collect(w)

	if len(products) != 3 {
		t.Fatalf("products = %d, want 3", len(products))
	}
	result := w.Result()
	if result.StopReason != StopPageFailed {
		t.Fatalf("stop reason = %q, want %q", result.StopReason, StopPageFailed)
	}
	if result.ErrorsByType["server"] != 2 {
		t.Fatalf("server errors = %d, want 2", result.ErrorsByType["server"])
	}
}

func TestWalkerSkipsFailedProducts(t *testing.T) {
	mock := httpmock.NewMockTransport()
	registerCatalog(mock, 3, 0)
	mock.RegisterResponderWithQuery("GET", categoryURL, "paged=2", htmlResponder(buildListingPage(2, 0)))
	mock.RegisterResponder("GET", productURL(1, 2), httpmock.NewStringResponder(http.StatusNotFound, ""))

	w := newTestWalker(t, testConfig(), mock)
	products := collect(w)

	if len(products) != 2 {
		t.Fatalf("products = %d, want 2", len(products))
	}
	for _, p := range products {
		if p.URL == productURL(1, 2) {
			t.Fatalf("failed product was yielded")
		}
	}
	result := w.Result()
	if result.ErrorCount != 1 || len(result.FailedURLs) != 1 || result.FailedURLs[0] != productURL(1, 2) {
		t.Fatalf("errors=%d failed=%v", result.ErrorCount, result.FailedURLs)
	}
}

func TestWalkerCapsProductsPerPage(t *testing.T) {
	mock := httpmock.NewMockTransport()
	registerCatalog(mock, 5)

	cfg := testConfig()
	cfg.MaxPages = 1
	cfg.MaxProductsPerPage = 2
	w := newTestWalker(t, cfg, mock)
	products := collect(w)

	if len(products) != 2 {
		t.Fatalf("products = %d, want 2", len(products))
	}
	if got := w.Result().StopReason; got != StopMaxPages {
		t.Fatalf("stop reason = %q, want %q", got, StopMaxPages)
	}
}

func TestWalkerSequenceIsSingleUse(t *testing.T) {
	mock := httpmock.NewMockTransport()
	registerCatalog(mock, 3)

	cfg := testConfig()
	cfg.MaxPages = 1
	w := newTestWalker(t, cfg, mock)

	for range w.Products(context.Background()) {
		break
	}
	if got := w.Result().StopReason; got != StopConsumer {
		t.Fatalf("stop reason = %q, want %q", got, StopConsumer)
	}
	if rest := collect(w); len(rest) != 0 {
		t.Fatalf("second pass yielded %d products, want 0", len(rest))
	}
}

func TestWalkerCancelledContext(t *testing.T) {
	mock := httpmock.NewMockTransport()
	registerCatalog(mock, 3)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	w := newTestWalker(t, testConfig(), mock)
	for range w.Products(ctx) {
		t.Fatalf("cancelled walk yielded a product")
	}
	if got := w.Result().StopReason; got != StopCancelled {
		t.Fatalf("stop reason = %q, want %q", got, StopCancelled)
	}
	if got := mock.GetTotalCallCount(); got != 0 {
		t.Fatalf("http calls = %d, want 0", got)
	}
}

func TestWalkerHTTPStatusClassification(t *testing.T) {
	tests := []struct {
		status   int
		expected string
	}{
		{status: http.StatusTooManyRequests, expected: "rate_limited"},
		{status: http.StatusForbidden, expected: "forbidden"},
		{status: http.StatusNotFound, expected: "not_found"},
		{status: http.StatusBadGateway, expected: "server"},
	}

	for _, tt := range tests {
		t.Run(fmt.Sprintf("status_%d", tt.status), func(t *testing.T) {
			cfg := testConfig()
			cfg.MaxPages = 1

			mock := httpmock.NewMockTransport()
			mock.RegisterResponder("GET", categoryURL, httpmock.NewStringResponder(tt.status, ""))

			w := newTestWalker(t, cfg, mock)

			writer := &collectingWriter{}
			p := pipeline.NewPipeline(context.Background(), writer, cfg)
			p.Start(1)

			result, err := w.Run(context.Background(), p)
			if err != nil {
				t.Fatalf("run: %v", err)
			}
			if err := p.Close(); err != nil {
				t.Fatalf("close pipeline: %v", err)
			}

			if got := result.ErrorsByType[tt.expected]; got == 0 {
				t.Fatalf("expected %q classification for status %d, got %v", tt.expected, tt.status, result.ErrorsByType)
			}
			if result.StopReason != StopPageFailed {
				t.Fatalf("stop reason = %q, want %q", result.StopReason, StopPageFailed)
			}
		})
	}
}

func TestWalkerRunFeedsPipeline(t *testing.T) {
	mock := httpmock.NewMockTransport()
	registerCatalog(mock, 3, 2, 0)
	mock.RegisterResponderWithQuery("GET", categoryURL, "paged=3", htmlResponder(buildListingPage(3, 0)))

	cfg := testConfig()
	w := newTestWalker(t, cfg, mock)

	writer := &collectingWriter{}
	p := pipeline.NewPipeline(context.Background(), writer, cfg)
	p.Start(2)

	result, err := w.Run(context.Background(), p)
	if err != nil {
		t.Fatalf("run: %v", err)
	}
	if err := p.Close(); err != nil {
		t.Fatalf("close pipeline: %v", err)
	}

	if got := writer.Count(); got != 5 {
		t.Fatalf("written=%d, want 5 (requests=%d errors=%d failed=%v)", got, result.RequestCount, result.ErrorCount, result.FailedURLs)
	}
	if result.ProductCount != 5 || result.PageCount != 2 {
		t.Fatalf("result = %+v", result)
	}
	if result.EndTime.Before(result.StartTime) {
		t.Fatalf("end %v before start %v", result.EndTime, result.StartTime)
	}
}

func TestPaginationURLs(t *testing.T) {
	tests := []struct {
		base      string
		wantPath  string
		wantQuery string
	}{
		{
			base:      "https://shop.test/product-category/lcd/",
			wantPath:  "https://shop.test/product-category/lcd/page/3/",
			wantQuery: "https://shop.test/product-category/lcd/?paged=3",
		},
		{
			base:      "https://shop.test/product-category/lcd",
			wantPath:  "https://shop.test/product-category/lcd/page/3/",
			wantQuery: "https://shop.test/product-category/lcd?paged=3",
		},
		{
			base:      "https://shop.test/shop/?orderby=price",
			wantPath:  "https://shop.test/shop/page/3/?orderby=price",
			wantQuery: "https://shop.test/shop/?orderby=price&paged=3",
		},
	}

	for _, tt := range tests {
		base, err := url.Parse(tt.base)
		if err != nil {
			t.Fatalf("parse %s: %v", tt.base, err)
		}
		if got := PagePathURL(base, 3); got != tt.wantPath {
			t.Errorf("PagePathURL(%s) = %s, want %s", tt.base, got, tt.wantPath)
		}
		if got := PageQueryURL(base, 3); got != tt.wantQuery {
			t.Errorf("PageQueryURL(%s) = %s, want %s", tt.base, got, tt.wantQuery)
		}
	}
}

type collectingWriter struct {
	mu       sync.Mutex
	products []*models.Product
}

func (cw *collectingWriter) Write(products []*models.Product) error {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	cw.products = append(cw.products, products...)
	return nil
}

func (cw *collectingWriter) Close() error {
	return nil
}

func (cw *collectingWriter) Validate() error {
	return nil
}

func (cw *collectingWriter) Count() int {
	cw.mu.Lock()
	defer cw.mu.Unlock()
	return len(cw.products)
}
