package server

import (
	"context"
	"fmt"
	"log"
	"net/http"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"kokoni/config"
	"kokoni/internal/research"
	"kokoni/internal/runtime"
	"kokoni/internal/store"
	"kokoni/provider"
	"kokoni/tools/web_fetch"
	"kokoni/tools/web_search"
)

// Run wires the whole service and blocks serving HTTP.
func Run(cfg *config.Config, addr string) error {
	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Recover())
	// Unified HTTP error handler with structured JSON and logging
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
	e.Use(middleware.CORSWithConfig(middleware.CORSConfig{
		AllowOrigins:     []string{"*"},
		AllowMethods:     []string{"GET", "POST", "PUT", "DELETE", "OPTIONS"},
		AllowHeaders:     []string{"Content-Type", "Cookie", "Authorization"},
		AllowCredentials: true,
	}))

	e.GET("/healthz", func(c echo.Context) error { return c.String(200, "ok") })
	e.GET("/metrics", echo.WrapHandler(promhttp.Handler()))

	dsn := cfg.Storage.Postgres.DSN()
	if err := Migrate("file://migrations", dsn, "up", 0); err != nil {
		return fmt.Errorf("migrate: %w", err)
	}

	ctx := context.Background()
	st, err := store.NewWithDSN(ctx, dsn)
	if err != nil {
		return err
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Storage.Redis.Addr(),
		Password: cfg.Storage.Redis.Password,
		DB:       cfg.Storage.Redis.DB,
	})
	if err := rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("redis connection failed (%s): %w", cfg.Storage.Redis.Addr(), err)
	}

	llm, err := provider.NewProvider(provider.Client(cfg.LLM.Provider), provider.Options{
		APIKey:      cfg.LLM.APIKey,
		Model:       cfg.LLM.Model,
		Temperature: cfg.LLM.Temperature,
		MaxTokens:   cfg.LLM.MaxTokens,
		Timeout:     cfg.LLM.Timeout,
	})
	if err != nil {
		return err
	}

	// Web search is advisory everywhere; a service without it still works.
	var searcher web_search.WebSearcher
	if cfg.Search.Type != "" {
		key := cfg.Search.SerperAPIKey
		if web_search.Provider(cfg.Search.Type) == web_search.BraveProvider {
			key = cfg.Search.BraveAPIKey
		}
		searcher, err = web_search.NewWebSearcher(web_search.Provider(cfg.Search.Type), key)
		if err != nil {
			return err
		}
	}

	fetcher, err := web_fetch.NewWebFetcher(web_fetch.ChromedpFetcherType,
		cfg.Fetch.TimeoutMS, cfg.Fetch.MaxChars)
	if err != nil {
		return err
	}

	secret, err := runtime.LoadJWTSecret(cfg)
	if err != nil {
		return err
	}

	seedLogger := log.New(log.Writer(), "[SEED] ", log.LstdFlags)
	expandLogger := log.New(log.Writer(), "[EXPAND] ", log.LstdFlags)
	reportLogger := log.New(log.Writer(), "[REPORT] ", log.LstdFlags)

	seeder := &research.Seeder{LLM: llm, Searcher: searcher, MaxResults: cfg.Search.MaxResults, Logger: seedLogger}
	expander := &research.Expander{Storage: st, LLM: llm, Rdb: rdb, Logger: expandLogger}
	pipeline := &research.ReportPipeline{
		Storage:          st,
		LLM:              llm,
		Searcher:         searcher,
		Logger:           reportLogger,
		MaxConcurrency:   cfg.Limits.ReportConcurrency,
		MaxSearchResults: cfg.Search.MaxResults,
	}

	api := e.Group("/api")
	auth := &AuthHandler{Store: st, Secret: secret}
	auth.Register(api.Group("/auth"))

	me := api.Group("/me")
	me.Use(func(next echo.HandlerFunc) echo.HandlerFunc { return withAuth(next, secret) })
	me.GET("", func(c echo.Context) error {
		uid, ok := runtime.SubjectFromContext(c.Request().Context())
		if !ok {
			return echo.NewHTTPError(http.StatusUnauthorized, "unauthorized")
		}
		return c.JSON(200, map[string]string{"user_id": uid})
	})

	sh := &SearchesHandler{Store: st, Seeder: seeder, MaxSearches: cfg.Limits.MaxSearchesPerUser}
	sh.Register(api.Group("/searches"), secret)

	nh := &NodesHandler{Store: st, Expander: expander}
	nh.Register(api.Group("/searches"), api.Group("/nodes"), secret)

	rh := &ReportsHandler{Store: st, Pipeline: pipeline}
	rh.Register(api.Group("/searches"), api.Group("/share"), secret)

	srcH := &SourcesHandler{Store: st, Fetcher: fetcher}
	srcH.Register(api.Group("/searches"), api.Group("/sources"), api.Group("/blocks"), secret)

	if addr == "" {
		addr = cfg.Server.Address
		if addr == "" {
			addr = ":8080"
		}
	}
	log.Printf("listening on %s", addr)
	return e.Start(addr)
}
