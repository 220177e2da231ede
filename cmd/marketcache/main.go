// cmd/marketcache/main.go
package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/FairForge/marketcache/internal/api"
	"github.com/FairForge/marketcache/internal/clock"
	"github.com/FairForge/marketcache/internal/config"
	"github.com/FairForge/marketcache/internal/intelligence"
)

func main() {
	logger, _ := zap.NewProduction()
	defer func() { _ = logger.Sync() }()

	cfg, err := loadConfig()
	if err != nil {
		logger.Fatal("loading config failed", zap.Error(err))
	}
	config.LoadFromEnv(cfg)

	if level, perr := zap.ParseAtomicLevel(cfg.Server.LogLevel); perr == nil {
		zcfg := zap.NewProductionConfig()
		zcfg.Level = level
		if leveled, berr := zcfg.Build(); berr == nil {
			logger = leveled
		}
	}

	// Upstream market-data API; without it, warming tasks fail and the
	// cache serves only loader-driven traffic.
	var source *httpSource
	if upstream := os.Getenv("MARKETCACHE_UPSTREAM_URL"); upstream != "" {
		source = newHTTPSource(upstream)
		logger.Info("using upstream data source", zap.String("url", upstream))
	} else {
		logger.Warn("no upstream configured, warming disabled")
	}

	var svc *intelligence.Service
	if source != nil {
		svc = intelligence.NewService(cfg, logger, clock.NewReal(), source, nil)
	} else {
		svc = intelligence.NewService(cfg, logger, clock.NewReal(), nil, nil)
	}
	svc.Start(context.Background())

	server := api.NewServer(cfg, logger, svc)

	go func() {
		sigChan := make(chan os.Signal, 1)
		signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)
		<-sigChan

		logger.Info("shutting down...")
		ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
		defer cancel()

		if err := server.Shutdown(ctx); err != nil {
			logger.Error("shutdown error", zap.Error(err))
		}
		svc.Stop()
		os.Exit(0)
	}()

	if err := server.Start(); err != nil {
		logger.Fatal("server failed", zap.Error(err))
	}
}

func loadConfig() (*config.Config, error) {
	if path := os.Getenv("MARKETCACHE_CONFIG"); path != "" {
		return config.Load(path)
	}
	return config.Default(), nil
}

// httpSource fetches payloads from an upstream REST API laid out as
// /{dataType}/{symbol}.
type httpSource struct {
	base   string
	client *http.Client
}

func newHTTPSource(base string) *httpSource {
	return &httpSource{
		base:   base,
		client: &http.Client{Timeout: 10 * time.Second},
	}
}

func (s *httpSource) Fetch(ctx context.Context, dataType, symbol string) ([]byte, error) {
	endpoint := fmt.Sprintf("%s/%s", s.base, url.PathEscape(dataType))
	if symbol != "" {
		endpoint += "/" + url.PathEscape(symbol)
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
	if err != nil {
		return nil, fmt.Errorf("building request: %w", err)
	}

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, fmt.Errorf("fetching %s: %w", endpoint, err)
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("fetching %s: status %d", endpoint, resp.StatusCode)
	}
	return io.ReadAll(resp.Body)
}
