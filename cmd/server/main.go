// Command server starts the ChirpStream video API HTTP service.
package main

import (
	"context"
	"errors"
	"flag"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	"chirpstream/internal/api"
	"chirpstream/internal/media/hls"
	"chirpstream/internal/media/ingest"
	"chirpstream/internal/media/probe"
	"chirpstream/internal/media/queue"
	"chirpstream/internal/observability/logging"
	"chirpstream/internal/observability/metrics"
	"chirpstream/internal/server"
	"chirpstream/internal/status"
)

func main() {
	addr := flag.String("addr", "", "HTTP listen address")
	stagingDir := flag.String("staging-dir", "", "directory holding staged uploads and finished renditions")
	publicBaseURL := flag.String("public-base-url", "", "base URL embedded in playback descriptors")
	statusDriver := flag.String("status-driver", "", "status store driver (json, postgres, or redis)")
	dataPath := flag.String("data", "", "path to the JSON status snapshot")
	postgresDSN := flag.String("postgres-dsn", "", "Postgres connection string for the status store")
	postgresAppName := flag.String("postgres-app-name", "", "application_name reported to Postgres")
	redisAddr := flag.String("redis-addr", "", "Redis address for the status store")
	redisUsername := flag.String("redis-username", "", "Redis username")
	redisPassword := flag.String("redis-password", "", "Redis password")
	redisDB := flag.Int("redis-db", 0, "Redis database number")
	ffmpegPath := flag.String("ffmpeg", "", "path to the ffmpeg binary")
	ffprobePath := flag.String("ffprobe", "", "path to the ffprobe binary")
	maxUploadBytes := flag.Int64("max-upload-bytes", 0, "maximum accepted upload size in bytes")
	queueSize := flag.Int("queue-size", 0, "pending transcode job buffer size")
	encodeTimeout := flag.Duration("encode-timeout", 0, "per-job encode deadline")
	token := flag.String("token", "", "bearer token guarding the API endpoints")
	logLevel := flag.String("log-level", "info", "log level (debug, info, warn, error)")
	logFormat := flag.String("log-format", "", "log format (json or text)")
	flag.Parse()

	logger := logging.Init(logging.Config{
		Level:  firstNonEmpty(*logLevel, os.Getenv("CHIRPSTREAM_LOG_LEVEL")),
		Format: firstNonEmpty(*logFormat, os.Getenv("CHIRPSTREAM_LOG_FORMAT")),
	})
	recorder := metrics.Default()

	listenAddr := firstNonEmpty(*addr, os.Getenv("CHIRPSTREAM_ADDR"))
	if listenAddr == "" {
		listenAddr = ":8080"
	}
	staging := firstNonEmpty(*stagingDir, os.Getenv("CHIRPSTREAM_STAGING_DIR"))
	if staging == "" {
		staging = "data/media"
	}
	baseURL := firstNonEmpty(*publicBaseURL, os.Getenv("CHIRPSTREAM_PUBLIC_BASE_URL"))
	if baseURL == "" {
		baseURL = "http://localhost:8080"
	}

	dsn := firstNonEmpty(*postgresDSN, os.Getenv("CHIRPSTREAM_POSTGRES_DSN"))
	redisAddress := firstNonEmpty(*redisAddr, os.Getenv("CHIRPSTREAM_REDIS_ADDR"))
	driver := resolveStatusDriver(*statusDriver, os.Getenv("CHIRPSTREAM_STATUS_DRIVER"), dsn, redisAddress)

	bootCtx, bootCancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer bootCancel()

	var (
		store status.Store
		err   error
	)
	switch driver {
	case "json":
		snapshot := firstNonEmpty(*dataPath, os.Getenv("CHIRPSTREAM_DATA"))
		if snapshot == "" {
			snapshot = "data/status.json"
		}
		store, err = status.NewJSONStore(snapshot)
	case "postgres":
		if dsn == "" {
			logger.Error("postgres status driver selected without DSN")
			os.Exit(1)
		}
		store, err = status.NewPostgresStore(bootCtx, status.PostgresConfig{
			DSN:             dsn,
			ApplicationName: firstNonEmpty(*postgresAppName, os.Getenv("CHIRPSTREAM_POSTGRES_APP_NAME")),
		})
	case "redis":
		if redisAddress == "" {
			logger.Error("redis status driver selected without address")
			os.Exit(1)
		}
		store, err = status.NewRedisStore(bootCtx, status.RedisConfig{
			Addr:     redisAddress,
			Username: firstNonEmpty(*redisUsername, os.Getenv("CHIRPSTREAM_REDIS_USERNAME")),
			Password: firstNonEmpty(*redisPassword, os.Getenv("CHIRPSTREAM_REDIS_PASSWORD")),
			DB:       resolveInt(*redisDB, "CHIRPSTREAM_REDIS_DB"),
		})
	default:
		logger.Error("unsupported status driver", "driver", driver)
		os.Exit(1)
	}
	if err != nil {
		logger.Error("failed to open status store", "driver", driver, "error", err)
		os.Exit(1)
	}

	prober := probe.New(probe.WithBinary(firstNonEmpty(*ffprobePath, os.Getenv("CHIRPSTREAM_FFPROBE"))))
	encoder := hls.NewEncoder(
		hls.WithEncoderBinary(firstNonEmpty(*ffmpegPath, os.Getenv("CHIRPSTREAM_FFMPEG"))),
		hls.WithEncoderLogger(logging.WithComponent(logger, "encoder")),
	)

	jobQueue := queue.New(queue.Config{
		Store:         store,
		Prober:        prober,
		Encoder:       encoder,
		QueueSize:     resolveInt(*queueSize, "CHIRPSTREAM_QUEUE_SIZE"),
		EncodeTimeout: resolveDuration(*encodeTimeout, "CHIRPSTREAM_ENCODE_TIMEOUT", 0),
		Logger:        logging.WithComponent(logger, "queue"),
		Metrics:       recorder,
	})
	jobQueue.Start()

	ingestor, err := ingest.New(ingest.Config{
		StagingDir:    staging,
		PublicBaseURL: baseURL,
		MaxBytes:      resolveInt64(*maxUploadBytes, "CHIRPSTREAM_MAX_UPLOAD_BYTES"),
		Queue:         jobQueue,
		Logger:        logging.WithComponent(logger, "ingest"),
	})
	if err != nil {
		logger.Error("failed to initialise ingestor", "error", err)
		os.Exit(1)
	}

	handler, err := api.NewHandler(api.Config{
		Ingestor: ingestor,
		Store:    store,
		Logger:   logging.WithComponent(logger, "api"),
	})
	if err != nil {
		logger.Error("failed to initialise handlers", "error", err)
		os.Exit(1)
	}

	srv, err := server.New(handler, server.Config{
		Addr:      listenAddr,
		Token:     firstNonEmpty(*token, os.Getenv("CHIRPSTREAM_TOKEN")),
		StaticDir: staging,
		Logger:    logger,
		Metrics:   recorder,
	})
	if err != nil {
		logger.Error("failed to initialise server", "error", err)
		os.Exit(1)
	}

	errs := make(chan error, 1)
	go func() {
		logger.Info("ChirpStream video API listening", "addr", listenAddr, "status_driver", driver)
		logger.Info("metrics endpoint available", "path", "/metrics")
		if err := srv.Start(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errs <- err
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-quit:
		logger.Info("received shutdown signal", "signal", sig.String())
	case err := <-errs:
		logger.Error("server error", "error", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()

	if err := srv.Shutdown(ctx); err != nil {
		logger.Warn("graceful shutdown failed", "error", err)
	}
	if err := jobQueue.Shutdown(ctx); err != nil {
		logger.Warn("failed to stop transcode queue", "error", err)
	}
	if err := store.Close(ctx); err != nil {
		logger.Warn("failed to close status store", "error", err)
	}

	logger.Info("server stopped")
}

func resolveStatusDriver(flagValue, envValue, postgresDSN, redisAddr string) string {
	driver := strings.ToLower(strings.TrimSpace(flagValue))
	if driver == "" {
		driver = strings.ToLower(strings.TrimSpace(envValue))
	}
	if driver != "" {
		return driver
	}
	switch {
	case postgresDSN != "":
		return "postgres"
	case redisAddr != "":
		return "redis"
	default:
		return "json"
	}
}

func firstNonEmpty(values ...string) string {
	for _, value := range values {
		if trimmed := strings.TrimSpace(value); trimmed != "" {
			return trimmed
		}
	}
	return ""
}

func resolveInt(flagValue int, envKey string) int {
	if flagValue > 0 {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		if value, err := strconv.Atoi(env); err == nil {
			return value
		}
	}
	return flagValue
}

func resolveInt64(flagValue int64, envKey string) int64 {
	if flagValue > 0 {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		if value, err := strconv.ParseInt(env, 10, 64); err == nil {
			return value
		}
	}
	return flagValue
}

func resolveDuration(flagValue time.Duration, envKey string, fallback time.Duration) time.Duration {
	if flagValue > 0 {
		return flagValue
	}
	if env := strings.TrimSpace(os.Getenv(envKey)); env != "" {
		if value, err := time.ParseDuration(env); err == nil {
			return value
		}
	}
	if fallback > 0 {
		return fallback
	}
	return flagValue
}
