package main

import (
	"context"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/shiran1989/magshimim-cyber-homework/internal/dashboard"
	"github.com/shiran1989/magshimim-cyber-homework/internal/storage"
	"github.com/shiran1989/magshimim-cyber-homework/internal/util"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/client"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/logger"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/logger/console"
	"github.com/shiran1989/magshimim-cyber-homework/pkg/theme"
)

func main() {
	util.LoadEnv()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	consoleLogger := console.NewConsoleLogger(console.ConsoleLoggerParams{
		Debug:  util.GetEnvBool("DEBUG", false),
		JSON:   util.GetEnvString("LOG_FORMAT", "text") == "json",
		Prefix: "dashboard",
	})
	logger.Init(consoleLogger)

	clientOpts := []client.Option{
		client.WithTTL(util.GetEnvDuration("CACHE_TTL", client.DefaultTTL)),
	}
	if redisURL := util.GetEnv("REDIS_URL"); redisURL != "" {
		cache, err := client.NewRedisCache(client.RedisOptions{URL: redisURL})
		if err != nil {
			logger.Fatal("Failed to connect to Redis", "err", err)
		}
		defer cache.Close()
		clientOpts = append(clientOpts, client.WithCache(cache))
		logger.Info("Using Redis response cache")
	}
	api := client.New(util.GetEnvString("API_BASE_URL", client.DefaultBaseURL), clientOpts...)

	opts := []dashboard.Option{
		dashboard.WithAllowedOrigins(util.GetEnvList("CORS_ORIGINS", []string{"*"})),
		dashboard.WithGraphLimit(util.GetEnvInt("GRAPH_LIMIT", dashboard.DefaultGraphLimit)),
	}

	if path := util.GetEnv("THEME_FILE"); path != "" {
		palette, err := theme.Load(path)
		if err != nil {
			logger.Fatal("Failed to load theme", "path", path, "err", err)
		}
		opts = append(opts, dashboard.WithPalette(palette))
	}

	if util.GetEnv("AWS_BUCKET") != "" {
		s3Client, err := storage.NewS3Client(ctx)
		if err != nil {
			logger.Fatal("Failed to create S3 client", "err", err)
		}
		opts = append(opts, dashboard.WithArchive(storage.NewArchive(s3Client)))
	}

	pingCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	if h, err := api.Health(pingCtx); err != nil {
		logger.Warn("Catalog API is not reachable yet", "url", api.BaseURL(), "err", err)
	} else {
		logger.Info("Catalog API is up", "url", api.BaseURL(), "status", h.Status)
	}
	cancel()

	srv := dashboard.New(api, opts...)
	if err := srv.Run(ctx, ":"+util.GetEnvString("PORT", "3000")); err != nil {
		logger.Fatal("Dashboard server failed", "err", err)
	}
	logger.Info("Shutdown signal received, exiting...")
}
