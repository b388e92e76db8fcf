package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"todo-service/internal/cache"
	"todo-service/internal/config"
	"todo-service/internal/database"
	"todo-service/internal/handlers"
	"todo-service/internal/logger"
	"todo-service/internal/middleware"
	"todo-service/internal/monitoring"
	"todo-service/internal/repositories"
	"todo-service/internal/services"

	"github.com/gin-gonic/gin"
	"github.com/rs/zerolog/log"
)

type application struct {
	cfg    *config.Config
	db     *database.DatabasePool
	cache  cache.Cache
	router *gin.Engine

	cacheStats func() map[string]interface{}
}

func main() {
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatal().Err(err).Msg("failed to load config")
	}

	logger.InitLogging(cfg.Log.Level, cfg.Log.Format, os.Stdout)

	if err := run(cfg); err != nil {
		log.Fatal().Err(err).Msg("server failed")
	}
}

// run serves until a signal arrives or the listener fails. Resources are
// released before it returns.
func run(cfg *config.Config) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	app, err := newApplication(ctx, cfg)
	if err != nil {
		return fmt.Errorf("initialize application: %w", err)
	}
	defer app.Close()

	srv := &http.Server{
		Addr:         cfg.GetServerAddr(),
		Handler:      app.router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	serverErr := make(chan error, 1)
	go func() {
		log.Info().
			Str("addr", srv.Addr).
			Str("environment", cfg.Server.Environment).
			Str("api_prefix", cfg.Server.APIPrefix).
			Msg("starting server")
		if err := srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverErr <- err
		}
	}()

	select {
	case err := <-serverErr:
		return err
	case <-ctx.Done():
	}
	log.Info().Msg("shutting down server")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.ShutdownTimeout)
	defer cancel()
	if err := srv.Shutdown(shutdownCtx); err != nil {
		log.Error().Err(err).Msg("server forced to shutdown")
	}

	log.Info().Msg("server exited")
	return nil
}

// newApplication opens the database, builds the todo service stack and the
// router. Background loops started here stop when ctx is done.
func newApplication(ctx context.Context, cfg *config.Config) (*application, error) {
	if cfg.IsProduction() {
		gin.SetMode(gin.ReleaseMode)
	}

	db, err := database.NewDatabasePool(database.PoolConfigFromConfig(cfg))
	if err != nil {
		return nil, err
	}
	if err := db.Migrate(); err != nil {
		db.Close()
		return nil, err
	}

	app := &application{cfg: cfg, db: db}

	repo := repositories.NewTodoRepository(db.DB)
	var todoService services.TodoService = services.NewTodoService(repo)

	if cfg.Cache.Enabled {
		var redisCache *cache.RedisCache
		if cfg.Redis.Enabled {
			redisCache = cache.NewRedisCache(&cache.RedisConfig{
				Addr:         cfg.GetRedisAddr(),
				Password:     cfg.Redis.Password,
				DB:           cfg.Redis.DB,
				PoolSize:     cfg.Redis.PoolSize,
				MinIdleConns: cfg.Redis.MinIdleConns,
				MaxRetries:   cfg.Redis.MaxRetries,
				DialTimeout:  cfg.Redis.DialTimeout,
				ReadTimeout:  cfg.Redis.ReadTimeout,
				WriteTimeout: cfg.Redis.WriteTimeout,
			})
			if err := redisCache.Health(ctx); err != nil {
				log.Warn().Err(err).Msg("redis unavailable at startup, serving from memory cache")
			}
		}

		multiLevel := cache.NewMultiLevelCache(redisCache, cache.DefaultCircuitBreakerConfig()).
			WithFlushPattern("todo*")
		app.cache = multiLevel

		cached := services.NewCachedTodoService(todoService, multiLevel, cfg.Cache.ItemTTL, cfg.Cache.ListTTL)
		if err := cached.WarmCache(ctx); err != nil {
			log.Warn().Err(err).Msg("cache warming failed")
		}
		todoService = cached
		app.cacheStats = cached.GetCacheStats
	}

	registerMonitoring(app, repo)
	app.router = setupRouter(ctx, cfg, todoService)

	return app, nil
}

func registerMonitoring(app *application, repo repositories.TodoRepository) {
	monitoring.RegisterHealthCheck("database", app.db.Health)
	monitoring.RegisterStatsProvider("database", func() interface{} {
		return app.db.Stats()
	})
	monitoring.RegisterStatsProvider("todos", func() interface{} {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()

		count, err := repo.Count(ctx)
		if err != nil {
			return map[string]interface{}{"error": err.Error()}
		}
		return map[string]interface{}{"count": count}
	})

	// A failing cache degrades /health but never fails readiness.
	if app.cache != nil {
		monitoring.RegisterOptionalHealthCheck("cache", app.cache.Health)
		monitoring.RegisterStatsProvider("cache", func() interface{} {
			return app.cacheStats()
		})
	}
}

func setupRouter(ctx context.Context, cfg *config.Config, todoService services.TodoService) *gin.Engine {
	router := gin.New()

	router.Use(middleware.RecoveryWithLog())
	router.Use(middleware.RequestID())
	router.Use(middleware.RequestLogger())
	router.Use(middleware.CORS(cfg.CORS))
	router.Use(monitoring.MetricsMiddleware())

	// Health and metrics routes sit outside the rate limiter.
	monitoring.RegisterRoutes(router)

	api := router.Group(cfg.Server.APIPrefix, middleware.RateLimit(ctx, cfg.RateLimit))
	handlers.RegisterTodoRoutes(api, handlers.NewTodoHandler(todoService))

	return router
}

func (a *application) Close() {
	if a.cache != nil {
		if err := a.cache.Close(); err != nil {
			log.Error().Err(err).Msg("failed to close cache")
		}
	}
	if err := a.db.Close(); err != nil {
		log.Error().Err(err).Msg("failed to close database")
	}
}
