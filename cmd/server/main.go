package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/gofiber/fiber/v2"
	"github.com/gofiber/fiber/v2/middleware/cors"
	"github.com/gofiber/fiber/v2/middleware/logger"
	"github.com/gofiber/fiber/v2/middleware/recover"
	"github.com/gofiber/fiber/v2/middleware/requestid"
	"github.com/hibiken/asynq"
	"github.com/redis/go-redis/v9"

	"github.com/clipforge/api/internal/auth"
	"github.com/clipforge/api/internal/client"
	"github.com/clipforge/api/internal/config"
	"github.com/clipforge/api/internal/handler"
	"github.com/clipforge/api/internal/logging"
	"github.com/clipforge/api/internal/middleware"
	"github.com/clipforge/api/internal/pipeline"
	"github.com/clipforge/api/internal/service"
	ws "github.com/clipforge/api/internal/websocket"
	"github.com/clipforge/api/internal/worker"
	"github.com/clipforge/api/pkg/response"
)

func main() {
	// Load configuration
	cfg, err := config.Load()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to load config: %v\n", err)
		os.Exit(1)
	}

	log := logging.NewLogger(cfg.Server.LogLevel, cfg.Server.LogFormat)
	slog.SetDefault(log)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize Redis client
	redisOpt := asynq.RedisClientOpt{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	}
	redisClient := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
		DB:       cfg.Redis.DB,
	})
	defer redisClient.Close()

	pingCtx, cancelPing := context.WithTimeout(ctx, 3*time.Second)
	if err := redisClient.Ping(pingCtx).Err(); err != nil {
		log.Warn("redis not available", slog.String("addr", cfg.Redis.Addr), slog.String("error", err.Error()))
	}
	cancelPing()

	asynqClient := asynq.NewClient(redisOpt)
	defer asynqClient.Close()

	validate := validator.New()

	hub := ws.NewHub(log)
	go hub.Run(ctx)

	// External tools
	ffmpeg := client.NewFFmpegClient(&cfg.FFmpeg, log)
	if err := ffmpeg.VerifyInstalled(ctx); err != nil {
		log.Warn("ffmpeg not usable, clip requests will fail", slog.String("error", err.Error()))
	}
	fetcher := client.NewYtDlpClient(&cfg.Fetcher, log)

	// Object storage (optional - artifacts are served from disk otherwise)
	var r2Client *client.R2Client
	if cfg.R2.AccessKeyID != "" && cfg.R2.SecretAccessKey != "" {
		r2Client, err = client.NewR2Client(&cfg.R2)
		if err != nil {
			log.Warn("R2 client not initialized", slog.String("error", err.Error()))
			r2Client = nil
		}
	} else {
		log.Info("R2 storage not configured, serving artifacts from disk")
	}

	var publisher service.Publisher = service.NewLocalPublisher(cfg.Server.PublicBase)
	if r2Client != nil {
		publisher = service.NewObjectPublisher(r2Client)
	}

	transcriber := client.NewTranscribeClient(&cfg.Transcribe)
	if transcriber.IsConfigured() {
		log.Info("transcription enabled", slog.String("api_key", logging.SanitizeToken(cfg.Transcribe.APIKey)))
	}
	history := client.NewHistoryClient(&cfg.History)

	// OIDC JWKS verifier (optional - falls back to legacy JWT)
	var jwksVerifier *auth.JWKSVerifier
	if cfg.OIDC.Issuer != "" || cfg.OIDC.Domain != "" {
		jwksVerifier, err = auth.NewJWKSVerifier(&cfg.OIDC)
		if err != nil {
			log.Warn("JWKS verifier not initialized", slog.String("error", err.Error()))
			jwksVerifier = nil
		} else {
			defer jwksVerifier.Close()
		}
	}
	var tokenVerifier auth.TokenVerifier
	if jwksVerifier != nil {
		tokenVerifier = jwksVerifier
	}

	// Pipeline
	resolver := pipeline.NewResolver(fetcher, ffmpeg, &cfg.Fetcher, cfg.Storage.WorkDir, log)
	executor := pipeline.NewExecutor(ffmpeg, ffmpeg, &cfg.Pipeline, &cfg.Storage, log)
	orchestrator := pipeline.NewOrchestrator(executor, cfg.Pipeline.MaxConcurrency, pipeline.ParseBatchPolicy(cfg.Pipeline.BatchPolicy), log)
	bundler := pipeline.NewBundler(cfg.Storage.ExportDir)

	// Services
	clipService := service.NewClipService(resolver, orchestrator, bundler, publisher, &cfg.Pipeline, log)
	if transcriber.IsConfigured() {
		clipService.WithTranscription(ffmpeg, transcriber)
	}
	if history.IsConfigured() {
		clipService.WithHistory(history)
	}
	stagingDir := filepath.Join(cfg.Storage.WorkDir, "staged")
	jobService := service.NewClipJobService(service.NewRedisJobStore(redisClient), asynqClient, clipService, stagingDir)

	// Auth
	var identify, requireUser fiber.Handler
	if cfg.Gateway.Enabled {
		// Behind the gateway: auth is handled by ForwardAuth, read X-User-* headers
		log.Info("gateway mode enabled, using header-based auth")
		identify = middleware.GatewayAuthMiddleware(false)
		requireUser = middleware.GatewayAuthMiddleware(true)
	} else {
		var authMiddleware *middleware.AuthMiddleware
		switch {
		case jwksVerifier != nil && cfg.JWT.Secret != "":
			authMiddleware = middleware.NewAuthMiddlewareWithFallback(jwksVerifier, cfg.JWT.Secret)
		case jwksVerifier != nil:
			authMiddleware = middleware.NewAuthMiddleware(jwksVerifier)
		default:
			authMiddleware = middleware.NewLegacyAuthMiddleware(cfg.JWT.Secret)
		}
		authMiddleware.WithDevFallback(cfg.JWT.DevFallback)
		identify = authMiddleware.Optional()
		requireUser = authMiddleware.Authenticate()
	}

	routes := &handler.Routes{
		Health: handler.NewHealthHandler(handler.Services{
			R2:         r2Client != nil,
			Transcribe: transcriber.IsConfigured(),
			History:    history.IsConfigured(),
			Fetcher:    cfg.Fetcher.YtDlpPath != "",
			Auth:       jwksVerifier != nil || cfg.JWT.Secret != "",
		}),
		Auth:        handler.NewAuthHandler(tokenVerifier, cfg.JWT.Secret),
		Clips:       handler.NewClipHandler(clipService, validate, log),
		Jobs:        handler.NewJobHandler(jobService, validate, log),
		Hub:         hub,
		Identify:    identify,
		RequireUser: requireUser,
		Limiter:     middleware.NewRateLimiter(redisClient, log),
		Limits:      cfg.RateLimit,
	}
	if r2Client == nil {
		routes.PreviewDir = cfg.Storage.PreviewDir
		routes.ExportDir = cfg.Storage.ExportDir
	}

	app := fiber.New(fiber.Config{
		ErrorHandler: customErrorHandler,
		BodyLimit:    cfg.Server.BodyLimit,
	})

	// Global middleware
	app.Use(recover.New())
	app.Use(requestid.New())
	logFormat := "[${time}] ${status} - ${latency} ${method} ${path} ${respHeader:X-Request-ID}\n"
	if strings.EqualFold(cfg.Server.LogLevel, "debug") {
		logFormat = "[${time}] ${status} - ${latency} ${method} ${path} ${queryParams} ${reqHeaders}\n"
	}
	app.Use(logger.New(logger.Config{
		Format: logFormat,
	}))
	app.Use(cors.New(cors.Config{
		AllowOrigins: "*",
		AllowMethods: "GET,POST,OPTIONS",
		AllowHeaders: "Origin,Content-Type,Accept,Authorization",
	}))

	routes.Register(app)

	// Workers
	srv, scheduler := startWorkers(ctx, cfg, redisOpt, asynqClient, jobService, hub, []string{cfg.Storage.WorkDir, stagingDir}, log)

	go func() {
		<-ctx.Done()
		log.Info("shutting down server")
		if err := app.ShutdownWithTimeout(10 * time.Second); err != nil {
			log.Error("server shutdown error", slog.String("error", err.Error()))
		}
	}()

	addr := ":" + cfg.Server.Port
	log.Info("server starting", slog.String("addr", addr), slog.String("env", cfg.Server.Env))
	if err := app.Listen(addr); err != nil {
		log.Error("server error", slog.String("error", err.Error()))
	}

	if scheduler != nil {
		scheduler.Shutdown()
	}
	if srv != nil {
		srv.Shutdown()
	}
	clipService.Wait()
}

func startWorkers(
	ctx context.Context,
	cfg *config.Config,
	redisOpt asynq.RedisClientOpt,
	asynqClient *asynq.Client,
	jobs *service.ClipJobService,
	hub *ws.Hub,
	workRoots []string,
	log *slog.Logger,
) (*asynq.Server, *asynq.Scheduler) {
	srv := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: max(1, cfg.Pipeline.MaxConcurrency),
		Queues: map[string]int{
			service.QueueClips:       9,
			service.QueueMaintenance: 1,
		},
		LogLevel: asynqLogLevel(cfg.Server.LogLevel),
	})

	clipWorker := worker.NewClipWorker(jobs, hub, log)
	retentionWorker := worker.NewRetentionWorker(&cfg.Storage, workRoots, log)

	mux := asynq.NewServeMux()
	mux.HandleFunc(service.TaskTypeClip, clipWorker.ProcessTask)
	mux.HandleFunc(service.TaskTypeRetention, retentionWorker.ProcessTask)

	if err := srv.Start(mux); err != nil {
		log.Error("asynq worker not started", slog.String("error", err.Error()))
		return nil, nil
	}

	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{LogLevel: asynqLogLevel(cfg.Server.LogLevel)})
	cronSpec := "@every " + cfg.Storage.SweepInterval.String()
	if _, err := scheduler.Register(cronSpec, service.NewRetentionTask(), asynq.Queue(service.QueueMaintenance)); err != nil {
		log.Error("retention schedule rejected", slog.String("schedule", cronSpec), slog.String("error", err.Error()))
		return srv, nil
	}
	if err := scheduler.Start(); err != nil {
		log.Error("scheduler not started", slog.String("error", err.Error()))
		return srv, nil
	}

	if _, err := asynqClient.EnqueueContext(ctx, service.NewRetentionTask(), asynq.Queue(service.QueueMaintenance)); err != nil {
		log.Warn("initial retention sweep not queued", slog.String("error", err.Error()))
	}
	return srv, scheduler
}

func asynqLogLevel(level string) asynq.LogLevel {
	switch strings.ToLower(level) {
	case "debug":
		return asynq.DebugLevel
	case "warn":
		return asynq.WarnLevel
	case "error":
		return asynq.ErrorLevel
	default:
		return asynq.InfoLevel
	}
}

func customErrorHandler(c *fiber.Ctx, err error) error {
	code := fiber.StatusInternalServerError
	message := "Internal Server Error"

	if e, ok := err.(*fiber.Error); ok {
		code = e.Code
		message = e.Message
	}

	return response.Error(c, code, response.CodeServiceError, message, nil)
}
