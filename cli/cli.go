// Package cli holds the process setup shared by the commands: logging,
// run identity, and the metrics endpoint.
package cli

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"time"

	"github.com/google/uuid"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// NewLogger returns a text logger on a terminal and a JSON logger otherwise.
// Every record carries the run id.
func NewLogger(verbose bool, runID string) (*slog.Logger, *slog.LevelVar) {
	level := &slog.LevelVar{}
	if verbose {
		level.Set(slog.LevelDebug)
	} else {
		level.Set(slog.LevelInfo)
	}

	opts := &slog.HandlerOptions{Level: level}
	var handler slog.Handler
	if isTerminal(os.Stdout) {
		handler = slog.NewTextHandler(os.Stdout, opts)
	} else {
		handler = slog.NewJSONHandler(os.Stdout, opts)
	}

	return slog.New(handler).With(slog.String("run_id", runID)), level
}

// SetupLogging installs a default logger for a new run. The returned level
// can be raised once the final configuration is known.
func SetupLogging(verbose bool) (runID string, level *slog.LevelVar) {
	runID = uuid.NewString()
	logger, level := NewLogger(verbose, runID)
	slog.SetDefault(logger)
	return runID, level
}

func isTerminal(f *os.File) bool {
	info, err := f.Stat()
	if err != nil {
		return false
	}
	return (info.Mode() & os.ModeCharDevice) != 0
}

// ServeMetrics exposes registry on addr in the background. It returns nil
// when addr is empty.
func ServeMetrics(addr string, registry *prometheus.Registry) *http.Server {
	if addr == "" || registry == nil {
		return nil
	}
	server := &http.Server{
		Addr:              addr,
		Handler:           promhttp.HandlerFor(registry, promhttp.HandlerOpts{}),
		ReadHeaderTimeout: 5 * time.Second,
	}
	go func() {
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			slog.Error("metrics server failed", slog.Any("error", err))
		}
	}()
	slog.Info("metrics server enabled", slog.String("addr", addr))
	return server
}

// ShutdownMetrics stops a server started by ServeMetrics.
func ShutdownMetrics(server *http.Server) {
	if server == nil {
		return
	}
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := server.Shutdown(ctx); err != nil {
		slog.Error("metrics server shutdown failed", slog.Any("error", err))
	}
}

// ApplySetFlags runs the setter for every flag given on the command line, so
// explicit flags win over file and environment values.
func ApplySetFlags(fs *flag.FlagSet, setters map[string]func()) {
	fs.Visit(func(f *flag.Flag) {
		if apply, ok := setters[f.Name]; ok {
			apply()
		}
	})
}

// Fatal logs msg with err and exits with status 1.
func Fatal(msg string, err error) {
	slog.Error(msg, slog.Any("error", err))
	os.Exit(1)
}
