// Package parser extracts product records and image references from
// WooCommerce markup.
package parser

import (
	"fmt"
	"math/rand/v2"
	"strings"
	"sync"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

const skuAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ0123456789"

// MaxStock is the inclusive upper bound of generated stock counts.
const MaxStock = 100

// ValidateProduct reports problems that make a record unusable downstream.
// Empty scraped fields are allowed; only the identity fields are checked.
func ValidateProduct(p *models.Product) error {
	if p == nil {
		return fmt.Errorf("product is nil")
	}
	if strings.TrimSpace(p.URL) == "" {
		return fmt.Errorf("product missing url")
	}
	if len(p.SKU) != len("SKU-")+6 || !strings.HasPrefix(p.SKU, "SKU-") {
		return fmt.Errorf("product %s has malformed sku %q", p.URL, p.SKU)
	}
	if p.Stock < 0 || p.Stock > MaxStock {
		return fmt.Errorf("product %s stock %d out of range", p.URL, p.Stock)
	}
	return nil
}

// NormalizeWhitespace collapses runs of whitespace and trims the result.
func NormalizeWhitespace(text string) string {
	return strings.Join(strings.Fields(text), " ")
}

// IdentityGenerator produces the synthetic SKU and stock values attached to
// each product. They stand in for ERP data and are never scraped.
type IdentityGenerator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewIdentityGenerator returns a generator backed by the global source.
func NewIdentityGenerator() *IdentityGenerator {
	return &IdentityGenerator{}
}

// NewSeededIdentityGenerator returns a reproducible generator.
func NewSeededIdentityGenerator(seed uint64) *IdentityGenerator {
	return &IdentityGenerator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

// SKU returns "SKU-" followed by six characters from [A-Z0-9].
func (g *IdentityGenerator) SKU() string {
	var b strings.Builder
	b.WriteString("SKU-")
	for i := 0; i < 6; i++ {
		b.WriteByte(skuAlphabet[g.intN(len(skuAlphabet))])
	}
	return b.String()
}

// Stock returns a uniform integer in [0, MaxStock].
func (g *IdentityGenerator) Stock() int {
	return g.intN(MaxStock + 1)
}

func (g *IdentityGenerator) intN(n int) int {
	if g.rng == nil {
		return rand.IntN(n)
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.rng.IntN(n)
}
