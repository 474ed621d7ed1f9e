package config

import (
	"fmt"
	"net/url"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

const defaultUserAgent = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"

// Config holds category scraper configuration.
type Config struct {
	BaseURL            string        `yaml:"base_url"`
	MaxPages           int           `yaml:"max_pages"`
	MaxProductsPerPage int           `yaml:"max_products_per_page"`
	Delay              time.Duration `yaml:"delay"`
	RandomDelay        time.Duration `yaml:"random_delay"`
	Timeout            time.Duration `yaml:"timeout"`
	MaxRetries         int           `yaml:"max_retries"`
	RetryBackoff       time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax    time.Duration `yaml:"retry_backoff_max"`
	OutputFile         string        `yaml:"output"`
	OutputFormat       string        `yaml:"format"` // csv, json, or dual
	UserAgent          string        `yaml:"user_agent"`
	Verbose            bool          `yaml:"verbose"`
	MetricsAddr        string        `yaml:"metrics_addr"`

	PipelineBufferSize int `yaml:"pipeline_buffer_size"`
	BatchSize          int `yaml:"batch_size"`
	DedupeMaxSize      int `yaml:"dedupe_max_size"`
}

// DefaultConfig returns conservative defaults for a WooCommerce category.
func DefaultConfig() *Config {
	return &Config{
		BaseURL:            "https://www.cmedistribution.my/product-category/lcd-screen/",
		MaxPages:           10,
		MaxProductsPerPage: 0,
		Delay:              time.Second,
		RandomDelay:        time.Second,
		Timeout:            30 * time.Second,
		MaxRetries:         3,
		RetryBackoff:       500 * time.Millisecond,
		RetryBackoffMax:    4 * time.Second,
		OutputFile:         "cmedistribution_lcd_products.csv",
		OutputFormat:       "csv",
		UserAgent:          defaultUserAgent,
		PipelineBufferSize: 512,
		BatchSize:          64,
		DedupeMaxSize:      100000,
	}
}

// Validate ensures all configuration values are coherent.
func (c *Config) Validate() error {
	if c.BaseURL == "" {
		return fmt.Errorf("base URL cannot be empty")
	}

	parsedURL, err := url.Parse(c.BaseURL)
	if err != nil {
		return fmt.Errorf("invalid base URL: %w", err)
	}
	if parsedURL.Host == "" {
		return fmt.Errorf("base URL must include a host")
	}

	if c.MaxPages <= 0 {
		return fmt.Errorf("max pages must be positive")
	}
	if c.MaxProductsPerPage < 0 {
		return fmt.Errorf("max products per page cannot be negative")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.RandomDelay < 0 {
		return fmt.Errorf("random delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if err := validateRetry(c.MaxRetries, c.RetryBackoff, c.RetryBackoffMax); err != nil {
		return err
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.OutputFormat != "csv" && c.OutputFormat != "json" && c.OutputFormat != "dual" {
		return fmt.Errorf("output format must be csv, json, or dual")
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	if c.PipelineBufferSize <= 0 {
		return fmt.Errorf("pipeline buffer size must be positive")
	}
	if c.BatchSize <= 0 {
		return fmt.Errorf("batch size must be positive")
	}
	if c.DedupeMaxSize <= 0 {
		return fmt.Errorf("dedupe max size must be positive")
	}

	return nil
}

// ImageConfig holds configuration for the image cache run.
type ImageConfig struct {
	InputFile       string        `yaml:"input"`
	OutputFile      string        `yaml:"output"`
	ImagesDir       string        `yaml:"images_dir"`
	Column          string        `yaml:"column"`
	PublicBaseURL   string        `yaml:"public_base_url"`
	Workers         int           `yaml:"threads"`
	Delay           time.Duration `yaml:"delay"`
	Timeout         time.Duration `yaml:"timeout"`
	MaxRetries      int           `yaml:"max_retries"`
	RetryBackoff    time.Duration `yaml:"retry_backoff"`
	RetryBackoffMax time.Duration `yaml:"retry_backoff_max"`
	UserAgent       string        `yaml:"user_agent"`
	Verbose         bool          `yaml:"verbose"`
	MetricsAddr     string        `yaml:"metrics_addr"`
}

// DefaultImageConfig returns the defaults used by the image cache command.
func DefaultImageConfig() *ImageConfig {
	return &ImageConfig{
		InputFile:       "cme_lcd.csv",
		OutputFile:      "images_updated.csv",
		ImagesDir:       "images",
		Column:          "images",
		PublicBaseURL:   "https://raw.githubusercontent.com/saiful3278/Csv-orgenizer/main/images",
		Workers:         8,
		Delay:           0,
		Timeout:         30 * time.Second,
		MaxRetries:      3,
		RetryBackoff:    500 * time.Millisecond,
		RetryBackoffMax: 4 * time.Second,
		UserAgent:       defaultUserAgent,
	}
}

// Validate ensures all configuration values are coherent.
func (c *ImageConfig) Validate() error {
	if c.InputFile == "" {
		return fmt.Errorf("input file cannot be empty")
	}
	if c.OutputFile == "" {
		return fmt.Errorf("output file cannot be empty")
	}
	if c.InputFile == c.OutputFile {
		return fmt.Errorf("output file must differ from input file")
	}
	if c.ImagesDir == "" {
		return fmt.Errorf("images dir cannot be empty")
	}
	if c.Column == "" {
		return fmt.Errorf("column cannot be empty")
	}
	parsed, err := url.Parse(c.PublicBaseURL)
	if err != nil {
		return fmt.Errorf("invalid public base URL: %w", err)
	}
	if parsed.Host == "" {
		return fmt.Errorf("public base URL must include a host")
	}
	if c.Workers <= 0 {
		return fmt.Errorf("threads must be positive")
	}
	if c.Delay < 0 {
		return fmt.Errorf("delay cannot be negative")
	}
	if c.Timeout <= 0 {
		return fmt.Errorf("timeout must be positive")
	}
	if err := validateRetry(c.MaxRetries, c.RetryBackoff, c.RetryBackoffMax); err != nil {
		return err
	}
	if c.UserAgent == "" {
		return fmt.Errorf("user agent cannot be empty")
	}
	return nil
}

func validateRetry(maxRetries int, backoff, backoffMax time.Duration) error {
	if maxRetries < 0 {
		return fmt.Errorf("max retries cannot be negative")
	}
	if backoff < 0 {
		return fmt.Errorf("retry backoff cannot be negative")
	}
	if backoffMax < 0 {
		return fmt.Errorf("retry backoff max cannot be negative")
	}
	if backoffMax > 0 && backoff > backoffMax {
		return fmt.Errorf("retry backoff (%s) cannot exceed retry backoff max (%s)", backoff, backoffMax)
	}
	return nil
}

// LoadFile overlays the YAML document at path onto dst. Keys missing from the
// file keep their current value.
func LoadFile(path string, dst any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("read config %q: %w", path, err)
	}
	if err := yaml.Unmarshal(data, dst); err != nil {
		return fmt.Errorf("parse config %q: %w", path, err)
	}
	return nil
}

// EnvString returns the trimmed value of key and whether it was set.
func EnvString(key string) (string, bool) {
	value, ok := os.LookupEnv(key)
	if !ok {
		return "", false
	}
	value = strings.TrimSpace(value)
	if value == "" {
		return "", false
	}
	return value, true
}

// EnvInt parses key as an integer.
func EnvInt(key string) (int, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	parsed, err := strconv.Atoi(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, true, nil
}

// EnvDuration parses key as a time.Duration ("1500ms", "2s").
func EnvDuration(key string) (time.Duration, bool, error) {
	value, ok := EnvString(key)
	if !ok {
		return 0, false, nil
	}
	parsed, err := time.ParseDuration(value)
	if err != nil {
		return 0, false, fmt.Errorf("%s: %w", key, err)
	}
	return parsed, true, nil
}
