// Package models defines data structures shared by the scraper and the image cache.
package models

import "time"

// Product is one extracted product page. SKU and Stock are synthetic.
type Product struct {
	Title       string   `json:"title"`
	Price       string   `json:"price"`
	Description string   `json:"description"`
	Images      []string `json:"images"`
	URL         string   `json:"url"`
	SKU         string   `json:"sku"`
	Stock       int      `json:"stock"`
}

// ScraperResult holds the overall result of a category walk.
type ScraperResult struct {
	StartTime    time.Time
	EndTime      time.Time
	PageCount    int
	ProductCount int
	RequestCount int
	ErrorCount   int
	FailedURLs   []string
	ErrorsByType map[string]int
	StopReason   string
}
