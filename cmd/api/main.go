package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"cloud.google.com/go/firestore"
	"cloud.google.com/go/pubsub"
	goredis "github.com/redis/go-redis/v9"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"

	"github.com/folioshelf/api/internal/di"
	"github.com/folioshelf/api/internal/handlers"
	"github.com/folioshelf/api/internal/payments"
	"github.com/folioshelf/api/internal/platform/auth"
	"github.com/folioshelf/api/internal/platform/cache"
	"github.com/folioshelf/api/internal/platform/config"
	pfirestore "github.com/folioshelf/api/internal/platform/firestore"
	"github.com/folioshelf/api/internal/platform/genai"
	"github.com/folioshelf/api/internal/platform/idempotency"
	"github.com/folioshelf/api/internal/platform/jobs"
	"github.com/folioshelf/api/internal/platform/observability"
	"github.com/folioshelf/api/internal/platform/pagination"
	"github.com/folioshelf/api/internal/platform/secrets"
	platformstorage "github.com/folioshelf/api/internal/platform/storage"
	"github.com/folioshelf/api/internal/repositories"
	firestoreRepo "github.com/folioshelf/api/internal/repositories/firestore"
	redisRepo "github.com/folioshelf/api/internal/repositories/redis"
	"github.com/folioshelf/api/internal/services"
)

func main() {
	ctx := context.Background()
	startedAt := time.Now().UTC()

	baseLogger, err := observability.NewLogger()
	if err != nil {
		fmt.Fprintf(os.Stderr, "failed to initialise logger: %v\n", err)
		os.Exit(1)
	}
	defer func() {
		_ = baseLogger.Sync()
	}()

	logger := baseLogger.Named("api")
	ctx = observability.WithLogger(ctx, logger)

	envValues, err := config.EnvironmentValues()
	if err != nil {
		logger.Fatal("failed to read environment values", zap.Error(err))
	}

	fetcher, err := newSecretFetcher(ctx, logger, envValues)
	if err != nil {
		logger.Fatal("failed to initialise secret fetcher", zap.Error(err))
	}
	defer func() {
		if err := fetcher.Close(); err != nil {
			logger.Warn("secret fetcher close error", zap.Error(err))
		}
	}()

	cfg, err := config.Load(ctx,
		config.WithSecretResolver(fetcher),
		config.WithRequiredSecrets(requiredSecretNames(envValues)...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)
	eventLogger := observability.EventLogger(logger.Named("pipeline"))

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	probes := []repositories.Probe{firestoreProbe(firestoreClient)}
	registryOpts := []firestoreRepo.RegistryOption{}
	var replayStore idempotency.Store = idempotency.NewMemoryStore()

	if strings.TrimSpace(cfg.Redis.URL) != "" {
		redisClient, err := cache.NewClient(ctx, cfg.Redis.URL)
		if err != nil {
			// Ratings are served from Firestore when the cache is unreachable at boot.
			logger.Warn("rating cache disabled", zap.Error(err))
		} else {
			registryOpts = append(registryOpts,
				firestoreRepo.WithReviewRepository(func(next repositories.ReviewRepository) repositories.ReviewRepository {
					cached, err := redisRepo.NewReviewCache(next, redisClient,
						redisRepo.WithTTL(cfg.Redis.RatingsTTL),
						redisRepo.WithLogger(eventLogger),
					)
					if err != nil {
						logger.Warn("rating cache disabled", zap.Error(err))
						return next
					}
					return cached
				}),
				firestoreRepo.WithCloser(func(context.Context) error { return redisClient.Close() }),
			)
			probes = append(probes, redisProbe(redisClient))
			if shared, err := idempotency.NewRedisStore(redisClient); err == nil {
				replayStore = shared
			}
		}
	}

	health, err := repositories.NewProbeSet(probes)
	if err != nil {
		logger.Fatal("failed to initialise health probes", zap.Error(err))
	}
	registryOpts = append(registryOpts, firestoreRepo.WithHealthRepository(health))

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, registryOpts...)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	store, closeStore, err := platformstorage.Open(ctx, cfg.Storage)
	if err != nil {
		logger.Fatal("failed to initialise object storage", zap.Error(err), zap.String("driver", cfg.Storage.Driver))
	}
	defer func() {
		if err := closeStore(); err != nil {
			logger.Warn("storage close error", zap.Error(err))
		}
	}()

	judge, err := newContentJudge(ctx, cfg.Moderation)
	if err != nil {
		logger.Fatal("failed to initialise moderation judge", zap.Error(err))
	}

	metrics, err := observability.NewPipelineMetrics(nil)
	if err != nil {
		logger.Fatal("failed to register pipeline metrics", zap.Error(err))
	}

	adapters := di.Adapters{
		Store:   store,
		Judge:   judge,
		Metrics: metrics,
		Logger:  eventLogger,
		Clock:   time.Now,
	}

	if key := strings.TrimSpace(cfg.PSP.StripeAPIKey); key != "" {
		verifier, err := payments.NewStripeSubscriptionVerifier(payments.StripeConfig{APIKey: key})
		if err != nil {
			logger.Fatal("failed to initialise stripe subscription verifier", zap.Error(err))
		}
		adapters.Subscriptions = verifier
	} else {
		logger.Warn("stripe api key not configured; trusting stored subscription status")
	}

	if topicName := strings.TrimSpace(cfg.PubSub.EventsTopic); topicName != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer pubsubClient.Close()
		publisher, err := jobs.NewPubSubEventPublisher(pubsubClient.Topic(topicName))
		if err != nil {
			logger.Fatal("failed to initialise event publisher", zap.Error(err))
		}
		defer publisher.Stop()
		adapters.Events = publisher
	}

	container, err := di.NewContainer(ctx, cfg, registry, adapters)
	if err != nil {
		logger.Fatal("failed to build services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("repository close error", zap.Error(err))
		}
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier)

	publicationHandlers := handlers.NewPublicationHandlers(handlers.PublicationHandlersConfig{
		Authn:        authenticator,
		Publications: container.Services.Publications,
		Promotions:   container.Services.Promotions,
		Catalog:      container.Services.Catalog,
		Paging: pagination.Options{
			DefaultLimit: cfg.Catalog.DefaultPageSize,
			MaxLimit:     cfg.Catalog.MaxPageSize,
		},
		MaxUploadBytes:       cfg.Server.MaxUploadBytes,
		SubmissionsPerMinute: cfg.RateLimits.SubmissionsPerMinute,
		PromotionsPerMinute:  cfg.RateLimits.PromotionsPerMinute,
		RateBurst:            cfg.RateLimits.Burst,
		Idempotency:          replayStore,
	})

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthRepository(registry.Health()),
	)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithPublicationRoutes(publicationHandlers.Routes),
	)
	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("folioshelf api listening",
			zap.String("version", buildInfo.Version),
			zap.String("storage", cfg.Storage.Driver),
			zap.String("quota_table", cfg.Quotas.Version),
		)
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) handlers.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(cfg.Security.Environment)
	if environment == "" {
		environment = "local"
	}
	return handlers.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
	}
}

func newContentJudge(ctx context.Context, cfg config.ModerationConfig) (services.ContentJudge, error) {
	switch cfg.Driver {
	case "vertex", "":
		return genai.NewVertexJudge(ctx, genai.VertexConfig{
			ProjectID: cfg.ProjectID,
			Location:  cfg.Location,
			Model:     cfg.Model,
		})
	default:
		return nil, fmt.Errorf("unsupported moderation driver %q", cfg.Driver)
	}
}

func firestoreProbe(client *firestore.Client) repositories.Probe {
	return repositories.Probe{
		Name:     "firestore",
		Critical: true,
		Timeout:  1500 * time.Millisecond,
		Check: func(ctx context.Context) error {
			_, err := client.Collections(ctx).Next()
			if errors.Is(err, iterator.Done) {
				return nil
			}
			return err
		},
	}
}

func redisProbe(client *goredis.Client) repositories.Probe {
	return repositories.Probe{
		Name:    "redis",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			return client.Ping(ctx).Err()
		},
	}
}

func traceProjectID(cfg config.Config) string {
	if id := strings.TrimSpace(cfg.Firebase.ProjectID); id != "" {
		return id
	}
	return strings.TrimSpace(cfg.Firestore.ProjectID)
}

func newSecretFetcher(ctx context.Context, logger *zap.Logger, env map[string]string) (*secrets.Fetcher, error) {
	lookup := func(key string) string {
		return strings.TrimSpace(env[key])
	}

	project := lookup("API_SECRET_PROJECT_ID")
	if project == "" {
		project = lookup("API_FIREBASE_PROJECT_ID")
	}
	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithProject(project),
	}
	if path := lookup("API_SECRET_FALLBACK_FILE"); path != "" {
		opts = append(opts, secrets.WithFallbackFile(path))
	}
	if credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}
	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames lists the secrets the selected storage driver cannot run without.
func requiredSecretNames(env map[string]string) []string {
	switch strings.ToLower(strings.TrimSpace(env["API_STORAGE_DRIVER"])) {
	case "cloudinary":
		return []string{"Storage.CloudinaryURL"}
	case "s3":
		if strings.TrimSpace(env["API_S3_ACCESS_KEY_ID"]) != "" {
			return []string{"Storage.S3.SecretAccessKey"}
		}
	}
	return nil
}
