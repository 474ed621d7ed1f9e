package pipeline

import (
	"fmt"
	"strings"

	"github.com/aluiziolira/go-scrape-catalog/models"
)

// LinkFunc maps a cached file name to the URL that should replace the
// original image reference.
type LinkFunc func(localName string) string

// PublicLink returns a LinkFunc producing "<base>/<name>".
func PublicLink(base string) LinkFunc {
	base = strings.TrimRight(base, "/")
	return func(localName string) string {
		return base + "/" + localName
	}
}

// SplitImages splits an image cell on the separator, trimming entries and
// dropping empty ones.
func SplitImages(cell string) []string {
	var out []string
	for _, part := range strings.Split(cell, ImageSeparator) {
		if part = strings.TrimSpace(part); part != "" {
			out = append(out, part)
		}
	}
	return out
}

// CollectImageURLs returns the distinct image URLs referenced by column
// across all rows.
func CollectImageURLs(t *models.Table, column string) (models.URLSet, error) {
	idx := t.Column(column)
	if idx < 0 {
		return models.URLSet{}, fmt.Errorf("table has no %q column", column)
	}

	set := models.NewURLSet()
	for _, row := range t.Rows {
		if idx >= len(row) {
			continue
		}
		for _, u := range SplitImages(row[idx]) {
			set.Add(u)
		}
	}
	return set, nil
}

// RewriteImages returns a copy of t where every successfully fetched URL in
// column is replaced by link(LocalName). Failed or unknown URLs keep their
// original text and element order is preserved.
func RewriteImages(t *models.Table, column string, outcomes map[string]models.FetchOutcome, link LinkFunc) (*models.Table, error) {
	idx := t.Column(column)
	if idx < 0 {
		return nil, fmt.Errorf("table has no %q column", column)
	}

	out := t.Clone()
	for _, row := range out.Rows {
		if idx >= len(row) {
			continue
		}
		images := SplitImages(row[idx])
		for i, u := range images {
			if o, ok := outcomes[u]; ok && o.Success {
				images[i] = link(o.LocalName)
			}
		}
		row[idx] = strings.Join(images, ImageSeparator)
	}
	return out, nil
}
