package parser

import (
	"bytes"
	"fmt"
	"regexp"
	"sort"
	"strings"

	"github.com/PuerkitoBio/goquery"
	"golang.org/x/net/html"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

const (
	productLinkSelector = "li.product a.woocommerce-LoopProduct__link, li.product a.woocommerce-LoopProduct-link, ul.products li.product a[href]"
	productPathMarker   = "/product/"

	titleSelector        = "h1.product_title, h1.entry-title, h1"
	galleryImageSelector = ".woocommerce-product-gallery img, .images img"
	galleryLinkSelector  = ".woocommerce-product-gallery__image a[href], .images a[href]"
	socialImageSelector  = "meta[property='og:image'], meta[name='twitter:image']"
)

var descriptionSelectors = []string{
	"div.woocommerce-Tabs-panel--description",
	"div#tab-description",
	"div.product div.entry-content",
	"div.woocommerce-product-details__short-description",
	"div.summary.entry-summary",
}

// Lazy-load attributes come before the plain src.
var (
	imageSourceAttrs = []string{"data-src", "data-lazy-src", "data-original", "data-orig-src", "src"}
	imageSrcsetAttrs = []string{"data-srcset", "srcset"}
	imageFullAttrs   = []string{"data-large_image", "data-zoom-image", "data-full_image", "data-image"}
)

var uploadURLPattern = regexp.MustCompile(`(?i)https?://[^"'\s]+/wp-content/uploads/[^"'\s]+`)

// Extractor turns product page markup into a models.Product.
type Extractor struct {
	canon *Canonicalizer
	ids   *IdentityGenerator
}

// NewExtractor builds an Extractor. Nil arguments select the defaults.
func NewExtractor(canon *Canonicalizer, ids *IdentityGenerator) *Extractor {
	if canon == nil {
		canon = NewCanonicalizer()
	}
	if ids == nil {
		ids = NewIdentityGenerator()
	}
	return &Extractor{canon: canon, ids: ids}
}

// Extract parses one product page. Missing fields are left empty; an error
// is returned only when the markup cannot be parsed.
func (e *Extractor) Extract(markup []byte, pageURL string) (*models.Product, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse product page %s: %w", pageURL, err)
	}

	return &models.Product{
		Title:       firstOf(doc, selectText(titleSelector)),
		Price:       firstOf(doc, selectText("p.price"), joinAll("span.woocommerce-Price-amount")),
		Description: firstOf(doc, selectTexts(descriptionSelectors)...),
		Images:      SelectImages(e.collectImages(doc, pageURL), markup),
		URL:         pageURL,
		SKU:         e.ids.SKU(),
		Stock:       e.ids.Stock(),
	}, nil
}

func (e *Extractor) collectImages(doc *goquery.Document, pageURL string) []string {
	var raw []string
	doc.Find(galleryImageSelector).Each(func(_ int, img *goquery.Selection) {
		if src := imageURL(img); src != "" {
			raw = append(raw, src)
		}
	})
	doc.Find(galleryLinkSelector).Each(func(_ int, a *goquery.Selection) {
		raw = append(raw, strings.TrimSpace(a.AttrOr("href", "")))
	})
	doc.Find(socialImageSelector).Each(func(_ int, meta *goquery.Selection) {
		raw = append(raw, strings.TrimSpace(meta.AttrOr("content", "")))
	})

	canonical := make([]string, 0, len(raw))
	for _, ref := range raw {
		if u := e.canon.Canonicalize(ref, pageURL); u != "" {
			canonical = append(canonical, u)
		}
	}
	return canonical
}

func imageURL(img *goquery.Selection) string {
	if src := firstAttr(img, imageSourceAttrs...); src != "" {
		return src
	}
	if src := WidestCandidate(firstAttr(img, imageSrcsetAttrs...)); src != "" {
		return src
	}
	return firstAttr(img, imageFullAttrs...)
}

// SelectImages narrows canonical image URLs to the preferred set: origin
// uploads first, then anything not served by the proxy plugin, then uploads
// URLs found anywhere in the raw markup, then everything collected.
func SelectImages(canonical []string, markup []byte) []string {
	var uploads, direct []string
	for _, u := range canonical {
		if strings.Contains(u, DefaultUploadMarker) {
			uploads = append(uploads, u)
		}
		if !strings.Contains(u, DefaultPluginMarker) {
			direct = append(direct, u)
		}
	}
	switch {
	case len(uploads) > 0:
		return sortedUnique(uploads)
	case len(direct) > 0:
		return sortedUnique(direct)
	}
	if found := uploadURLPattern.FindAllString(string(markup), -1); len(found) > 0 {
		return sortedUnique(found)
	}
	return sortedUnique(canonical)
}

// ProductLinks returns the distinct, sorted product detail links on a
// category page.
func ProductLinks(markup []byte, pageURL string) ([]string, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewReader(markup))
	if err != nil {
		return nil, fmt.Errorf("parse category page %s: %w", pageURL, err)
	}

	links := productHrefs(doc.Find(productLinkSelector))
	if len(links) == 0 {
		links = productHrefs(doc.Find("a[href]"))
	}

	resolved := make([]string, 0, len(links))
	for _, href := range links {
		if abs := Resolve(href, pageURL); abs != "" {
			resolved = append(resolved, abs)
		}
	}
	return sortedUnique(resolved), nil
}

func productHrefs(anchors *goquery.Selection) []string {
	var out []string
	anchors.Each(func(_ int, a *goquery.Selection) {
		href := strings.TrimSpace(a.AttrOr("href", ""))
		if strings.Contains(href, productPathMarker) {
			out = append(out, href)
		}
	})
	return out
}

// fieldFunc is one candidate source for a field; ok is false on a miss.
type fieldFunc func(doc *goquery.Document) (value string, ok bool)

func firstOf(doc *goquery.Document, candidates ...fieldFunc) string {
	for _, candidate := range candidates {
		if value, ok := candidate(doc); ok {
			return value
		}
	}
	return ""
}

func selectText(selector string) fieldFunc {
	return func(doc *goquery.Document) (string, bool) {
		sel := doc.Find(selector).First()
		if sel.Length() == 0 {
			return "", false
		}
		text := NormalizeWhitespace(nodeText(sel))
		return text, text != ""
	}
}

func selectTexts(selectors []string) []fieldFunc {
	out := make([]fieldFunc, 0, len(selectors))
	for _, selector := range selectors {
		out = append(out, selectText(selector))
	}
	return out
}

func joinAll(selector string) fieldFunc {
	return func(doc *goquery.Document) (string, bool) {
		var parts []string
		doc.Find(selector).Each(func(_ int, s *goquery.Selection) {
			if text := NormalizeWhitespace(nodeText(s)); text != "" {
				parts = append(parts, text)
			}
		})
		text := strings.Join(parts, " ")
		return text, text != ""
	}
}

func firstAttr(s *goquery.Selection, attrs ...string) string {
	for _, attr := range attrs {
		if value := strings.TrimSpace(s.AttrOr(attr, "")); value != "" {
			return value
		}
	}
	return ""
}

// nodeText joins the stripped text nodes under sel with single spaces, so
// "<span>RM</span><span>10</span>" reads "RM 10" rather than "RM10".
func nodeText(sel *goquery.Selection) string {
	var parts []string
	var walk func(n *html.Node)
	walk = func(n *html.Node) {
		if n.Type == html.ElementNode && (n.Data == "script" || n.Data == "style") {
			return
		}
		if n.Type == html.TextNode {
			if text := strings.TrimSpace(n.Data); text != "" {
				parts = append(parts, text)
			}
		}
		for child := n.FirstChild; child != nil; child = child.NextSibling {
			walk(child)
		}
	}
	for _, n := range sel.Nodes {
		walk(n)
	}
	return strings.Join(parts, " ")
}

func sortedUnique(values []string) []string {
	seen := make(map[string]struct{}, len(values))
	out := make([]string, 0, len(values))
	for _, v := range values {
		if _, ok := seen[v]; ok || v == "" {
			continue
		}
		seen[v] = struct{}{}
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}
