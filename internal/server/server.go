// Package server wires the HTTP API: ingestion, question answering, session
// management, health and metrics.
package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"

	"github.com/chatvault/chatvault/config"
	"github.com/chatvault/chatvault/internal/embedding"
	"github.com/chatvault/chatvault/internal/hooks"
	"github.com/chatvault/chatvault/internal/ingest"
	"github.com/chatvault/chatvault/internal/query"
	"github.com/chatvault/chatvault/internal/store"
	"github.com/chatvault/chatvault/provider"
)

// corsConfig allows credentials only for enumerated origins. Browsers reject
// credentialed responses carrying a wildcard origin, so the open default
// stays cookie-less.
func corsConfig(origins []string) middleware.CORSConfig {
	cfg := middleware.CORSConfig{
		AllowOrigins:     origins,
		AllowMethods:     []string{"GET", "POST", "PATCH", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Authorization", "Cookie"},
		AllowCredentials: true,
	}
	if len(origins) == 0 {
		cfg.AllowOrigins = []string{"*"}
		cfg.AllowCredentials = false
	}
	return cfg
}

// Run assembles dependencies from config and serves until the listener
// fails. All state is request-scoped apart from the pooled store, provider
// and cache handles.
func Run(cfg *config.Config) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())

	baseLogger := log.New(log.Writer(), "[HTTP] ", log.LstdFlags)
	e.HTTPErrorHandler = func(err error, c echo.Context) {
		code := http.StatusInternalServerError
		msg := err.Error()
		if he, ok := err.(*echo.HTTPError); ok {
			code = he.Code
			if he.Message != nil {
				msg = fmt.Sprint(he.Message)
			}
		}
		req := c.Request()
		baseLogger.Printf("%d %s %s from %s: %v", code, req.Method, req.URL.Path, c.RealIP(), err)
		if !c.Response().Committed {
			_ = c.JSON(code, map[string]interface{}{"error": msg})
		}
	}
	e.Use(middleware.CORSWithConfig(corsConfig(cfg.General.CORSOrigins)))

	e.GET("/healthz", func(c echo.Context) error { return c.String(http.StatusOK, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	ctx := context.Background()

	st, err := store.NewWithDSN(ctx, cfg.Storage.Postgres.DSN())
	if err != nil {
		return fmt.Errorf("connect postgres: %w", err)
	}

	// Degraded mode: no API key means deterministic embeddings and offline
	// answers. Chosen here, once, by configuration.
	var (
		emb embedding.Embedder
		gen query.Generator
	)
	if cfg.Providers.OpenAI.APIKey != "" {
		llm, err := provider.NewProvider(provider.OpenAI, cfg.Providers.OpenAI)
		if err != nil {
			return err
		}
		emb = embedding.NewFallbackEmbedder(
			embedding.NewProviderEmbedder(llm, cfg.Ingest.EmbeddingDimensions),
			cfg.Ingest.EmbeddingDimensions, nil)
		gen = llm
	} else {
		baseLogger.Printf("no completion provider configured, running in degraded mode")
		emb = embedding.NewFallbackEmbedder(nil, cfg.Ingest.EmbeddingDimensions, nil)
		gen = query.OfflineGenerator{}
	}

	metrics := NewMetrics()
	cache := NewAnswerCache(ctx, cfg.Storage.Redis, nil)

	ingestPipeline := ingest.NewPipeline(st, emb, hooks.ForName(cfg.Hooks.Archiver), cfg.Ingest, nil)
	queryPipeline := query.NewPipeline(st, emb, gen, cfg.Search, metrics, nil)

	api := e.Group("/api")
	sh := &SessionsHandler{
		Store:   st,
		Ingest:  ingestPipeline,
		Metrics: metrics,
		Cache:   cache,
		Secret:  []byte(cfg.General.JWTSecret),
	}
	sh.Register(api.Group("/sessions"))

	ah := &AskHandler{Pipeline: queryPipeline, Cache: cache}
	ah.Register(api)

	addr := cfg.General.Listen
	if addr == "" {
		addr = ":8080"
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
