package main

import (
	"context"
	"fmt"
	"os"

	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"

	"github.com/schemaflow/schemaflow/common/config"
	"github.com/schemaflow/schemaflow/common/db"
	"github.com/schemaflow/schemaflow/common/logger"
	commonredis "github.com/schemaflow/schemaflow/common/redis"
	"github.com/schemaflow/schemaflow/common/server"
	"github.com/schemaflow/schemaflow/engine"
	"github.com/schemaflow/schemaflow/engine/actions"
	"github.com/schemaflow/schemaflow/engine/ai"
	"github.com/schemaflow/schemaflow/engine/browser"
	"github.com/schemaflow/schemaflow/engine/locator"
	"github.com/schemaflow/schemaflow/engine/stream"
	"github.com/schemaflow/schemaflow/store"
	"github.com/schemaflow/schemaflow/workflow"
)

func main() {
	ctx := context.Background()

	cfg, err := config.Load("engine")
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logger.New(cfg.Service.LogLevel, cfg.Service.LogFormat)

	executionStore, closeStore, err := setupExecutionStore(ctx, cfg, log)
	if err != nil {
		log.Error("failed to set up execution store", "error", err)
		os.Exit(1)
	}
	defer closeStore()

	driver, err := browser.NewPlaywrightDriver()
	if err != nil {
		log.Error("failed to start browser driver", "error", err)
		os.Exit(1)
	}
	defer driver.Stop()

	var llm *ai.Client
	if cfg.LLM.APIKey != "" {
		llm = ai.NewClient(ai.Config{
			APIKey:      cfg.LLM.APIKey,
			BaseURL:     cfg.LLM.BaseURL,
			Model:       cfg.LLM.Model,
			VisionModel: cfg.LLM.VisionModel,
			Timeout:     cfg.LLM.Timeout,
		})
	} else {
		log.Warn("no LLM API key configured, AI location and intervention detection disabled")
	}

	var rdb *redis.Client
	var selectorCache locator.SelectorCache
	if cfg.Redis.Enabled {
		rdb = redis.NewClient(&redis.Options{Addr: cfg.Redis.Addr, DB: cfg.Redis.DB})
		wrapped := commonredis.NewClient(rdb, log)
		defer wrapped.Close()
		if err := wrapped.Health(ctx); err != nil {
			log.Warn("redis unreachable, events will not be mirrored", "error", err)
		}
		selectorCache = locator.NewRedisSelectorCache(wrapped)
	}

	manager := browser.NewManager(driver, cfg.Browser.DebugURLs, log)
	executor := engine.NewExecutor(actions.Default(), manager, executionStore, llm, log)
	if selectorCache != nil {
		executor.WithSelectorCache(selectorCache)
	}
	hub := stream.NewHub()
	workflows := workflow.NewFileStore(cfg.Store.DataDir)

	e := setupEcho()
	setupMiddleware(e)
	setupHealthCheck(e)

	ws := newWSHandler(cfg, executor, hub, workflows, llm, rdb, log)
	api := newAPIHandler(cfg, executor, hub, workflows, executionStore, rdb, log)
	registerRoutes(e, ws, api)

	srv := server.New("engine", cfg.Service.Port, e, log)
	if err := srv.Start(); err != nil {
		log.Error("server stopped", "error", err)
		os.Exit(1)
	}
}

func setupEcho() *echo.Echo {
	e := echo.New()
	e.HideBanner = true
	return e
}

func setupMiddleware(e *echo.Echo) {
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	e.Use(middleware.CORS())
	e.Use(middleware.RequestID())
}

func setupHealthCheck(e *echo.Echo) {
	e.GET("/health", func(c echo.Context) error {
		return c.JSON(200, map[string]string{
			"status":  "ok",
			"service": "engine",
		})
	})
}

func registerRoutes(e *echo.Echo, ws *wsHandler, api *apiHandler) {
	e.GET("/ws", ws.Serve)
	e.GET("/api/actions", api.ListActions)
	e.POST("/api/executions/:workflowID", api.TriggerExecution)
	e.GET("/api/executions/:workflowID", api.GetExecution)
}

// setupExecutionStore selects the record store backend. The file backend is
// the single-instance default; postgres serves multi-instance deployments.
func setupExecutionStore(ctx context.Context, cfg *config.Config, log *logger.Logger) (store.ExecutionStore, func(), error) {
	switch cfg.Store.Backend {
	case "postgres":
		database, err := db.New(ctx, cfg, log)
		if err != nil {
			return nil, nil, err
		}
		pg, err := store.NewPostgresStore(ctx, database.Pool)
		if err != nil {
			database.Close()
			return nil, nil, err
		}
		return pg, database.Close, nil
	default:
		fs, err := store.NewFileStore(cfg.Store.DataDir)
		if err != nil {
			return nil, nil, err
		}
		return fs, func() {}, nil
	}
}
