package main

import (
	"context"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/redis/go-redis/v9"

	"sharewear/internal/compositor"
	"sharewear/internal/job"
	"sharewear/internal/pkg/logger"
	"sharewear/internal/renderer"
	"sharewear/internal/scheduler"
	"sharewear/internal/storage"
	"sharewear/internal/template"
)

func main() {
	log := logger.New(logger.Config{
		Level:       getEnv("LOG_LEVEL", "info"),
		Format:      getEnv("LOG_FORMAT", "json"),
		ServiceName: "sharewear-worker",
		AddSource:   getEnv("LOG_SOURCE", "false") == "true",
	})

	log.Info("starting sharewear worker", "version", "0.1.0")

	dbURL := mustEnv(log, "DATABASE_URL")
	redisAddr := mustEnv(log, "REDIS_ADDR")

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	pool, err := pgxpool.New(ctx, dbURL)
	if err != nil {
		log.LogFatal("failed to connect to PostgreSQL", err)
	}
	defer pool.Close()

	if err := pool.Ping(ctx); err != nil {
		log.LogFatal("failed to ping PostgreSQL", err)
	}

	rdb := redis.NewClient(&redis.Options{Addr: redisAddr})
	defer rdb.Close()

	if err := rdb.Ping(ctx).Err(); err != nil {
		log.LogFatal("failed to ping Redis", err)
	}

	sp, err := storage.NewProvider()
	if err != nil {
		log.LogFatal("failed to initialize storage provider", err)
	}
	log.Info("storage provider initialized", "provider", sp.Provider())

	store := job.NewStore(pool, log)
	registry := template.NewRegistry(pool, log)

	comp := compositor.New(compositor.Config{
		DefaultTemplatePath: getEnv("DEFAULT_TEMPLATE_PATH", "/data/templates/tshirt.png"),
		FetchTimeout:        envDuration(log, "DESIGN_FETCH_TIMEOUT", 30*time.Second),
	}, sp, log)

	renderTimeout := envDuration(log, "RENDER_TIMEOUT", 5*time.Minute)
	engine := buildEngine(log, renderTimeout)

	wake := scheduler.NewWakeQueue(rdb, getEnv("DISPATCH_WAKE_LIST", scheduler.DefaultWakeList))

	d := scheduler.New(scheduler.Config{
		CompositingWorkers: envInt(log, "COMPOSITING_WORKERS", 4),
		RenderingWorkers:   envInt(log, "RENDERING_WORKERS", 2),
		PollInterval:       envDuration(log, "DISPATCH_POLL_INTERVAL", 5*time.Second),
		StageTimeout:       renderTimeout,
		// Zero lets the dispatcher derive a lease covering the render
		// timeout across every retry.
		LeaseTTL: envDuration(log, "CLAIM_LEASE_TTL", 0),
		Retry: scheduler.RetryPolicy{
			MaxAttempts:     envInt(log, "STAGE_MAX_ATTEMPTS", 3),
			InitialInterval: 500 * time.Millisecond,
			MaxInterval:     10 * time.Second,
		},
		WorkDir:          getEnv("WORK_DIR", "/tmp/sharewear-render"),
		DefaultBlendFile: getEnv("DEFAULT_BLEND_FILE", "/data/templates/tshirt.blend"),
	}, store, registry, comp, engine, sp, wake, log)

	if err := d.Run(ctx); err != nil && err != context.Canceled {
		log.LogFatal("dispatcher stopped", err)
	}
	log.Info("worker stopped")
}

// buildEngine selects the render engine: a local Blender subprocess by
// default, or the HTTP sidecar when RENDER_ENGINE=http.
func buildEngine(log *logger.Logger, timeout time.Duration) renderer.Client {
	if getEnv("RENDER_ENGINE", "blender") == "http" {
		return renderer.NewHTTPClient(renderer.HTTPConfig{
			BaseURL: mustEnv(log, "RENDERER_HTTP_BASEURL"),
			Timeout: timeout,
		}, log)
	}
	return renderer.NewBlender(renderer.BlenderConfig{
		BinaryPath: getEnv("BLENDER_PATH", "blender"),
		ScriptPath: getEnv("RENDER_SCRIPT_PATH", "/data/scripts/render_design.py"),
		Timeout:    timeout,
	}, log)
}

func getEnv(key, defaultValue string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		return defaultValue
	}
	return v
}

func mustEnv(log *logger.Logger, key string) string {
	v := strings.TrimSpace(os.Getenv(key))
	if v == "" {
		log.Error("missing required environment variable", "key", key)
		os.Exit(1)
	}
	return v
}

func envInt(log *logger.Logger, key string, def int) int {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := strconv.Atoi(raw)
	if err != nil {
		log.Warn("invalid integer environment variable, using default", "key", key, "value", raw)
		return def
	}
	return v
}

func envDuration(log *logger.Logger, key string, def time.Duration) time.Duration {
	raw := strings.TrimSpace(os.Getenv(key))
	if raw == "" {
		return def
	}
	v, err := time.ParseDuration(raw)
	if err != nil {
		log.Warn("invalid duration environment variable, using default", "key", key, "value", raw)
		return def
	}
	return v
}
