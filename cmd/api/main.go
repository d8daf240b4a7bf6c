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

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/iterator"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/sahra-camps/api/internal/di"
	"github.com/sahra-camps/api/internal/handlers"
	"github.com/sahra-camps/api/internal/notifications"
	"github.com/sahra-camps/api/internal/payments"
	"github.com/sahra-camps/api/internal/platform/auth"
	"github.com/sahra-camps/api/internal/platform/config"
	pfirestore "github.com/sahra-camps/api/internal/platform/firestore"
	"github.com/sahra-camps/api/internal/platform/idempotency"
	"github.com/sahra-camps/api/internal/platform/jobs"
	"github.com/sahra-camps/api/internal/platform/mail"
	"github.com/sahra-camps/api/internal/platform/observability"
	"github.com/sahra-camps/api/internal/platform/scheduler"
	"github.com/sahra-camps/api/internal/platform/secrets"
	"github.com/sahra-camps/api/internal/refunds"
	"github.com/sahra-camps/api/internal/repositories"
	firestoreRepo "github.com/sahra-camps/api/internal/repositories/firestore"
	"github.com/sahra-camps/api/internal/services"
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

	cfg, err := config.Load(ctx, config.WithSecretResolver(fetcher))
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore, pfirestore.WithDialTimeout(10*time.Second))
	if _, err := firestoreProvider.Client(ctx); err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	var publisher services.BookingEventPublisher
	var topic *pubsub.Topic
	if name := strings.TrimSpace(cfg.PubSub.BookingEventsTopic); name != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic = pubsubClient.Topic(name)
		defer topic.Stop()
		bookingEvents, err := jobs.NewPubSubBookingEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise booking event publisher", zap.Error(err))
		}
		publisher = bookingEvents
	}

	healthRepo, err := newHealthRepository(firestoreProvider, fetcher, topic)
	if err != nil {
		logger.Fatal("failed to initialise health checks", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, healthRepo,
		pfirestore.WithTxAttempts(5),
		pfirestore.WithTxTimeout(20*time.Second),
	)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}

	engine, err := newRefundEngine(cfg.Refunds)
	if err != nil {
		logger.Fatal("failed to initialise refund engine", zap.Error(err))
	}

	paymentManager, err := newPaymentManager(cfg.PSP, logger)
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	var notifier services.CancellationNotifier
	if strings.TrimSpace(cfg.Mail.SendGridAPIKey) != "" {
		sender, err := mail.NewSendGridSender(mail.SendGridConfig{
			APIKey:      cfg.Mail.SendGridAPIKey,
			FromAddress: cfg.Mail.FromAddress,
			FromName:    cfg.Mail.FromName,
		})
		if err != nil {
			logger.Fatal("failed to initialise sendgrid sender", zap.Error(err))
		}
		emailNotifier, err := notifications.NewEmailNotifier(sender)
		if err != nil {
			logger.Fatal("failed to initialise email notifier", zap.Error(err))
		}
		notifier = emailNotifier
	} else {
		logger.Info("mail disabled: no sendgrid api key configured")
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Integrations{
		Engine:   engine,
		Payments: paymentManager,
		Events:   publisher,
		Notifier: notifier,
		Metrics:  observability.NewRefundMetrics(nil, logger.Named("metrics")),
		Build:    buildInfo,
		Logger:   logger,
		Clock:    time.Now,
	})
	if err != nil {
		logger.Fatal("failed to initialise services", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier,
		auth.WithFallbackRole(auth.RoleGuest),
		auth.WithRoleClaim(envValues["API_AUTH_ROLE_CLAIM"]),
		auth.WithVerificationTimeout(5*time.Second),
	)

	idempotencyStore := idempotency.NewFirestoreStore(firestoreProvider)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(logger.Named("idempotency")),
	)

	jobScheduler := scheduler.New(logger.Named("scheduler"))
	registerJobs(jobScheduler, cfg, container.Services.Refunds, idempotencyStore, logger)
	jobScheduler.Start()

	cancellationHandlers := handlers.NewCancellationHandlers(
		authenticator,
		container.Services.Cancellations,
		container.Services.Refunds,
		handlers.WithCancellationIdempotency(idempotencyMiddleware),
		handlers.WithReconcileLimit(cfg.Refunds.ReconcileBatchSize),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(),
	}

	healthOpts := []handlers.HealthOption{handlers.WithHealthBuildInfo(buildInfo)}
	if container.Services.System != nil {
		healthOpts = append(healthOpts, handlers.WithHealthSystemService(container.Services.System))
	}
	healthHandlers := handlers.NewHealthHandlers(healthOpts...)

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithBookingRoutes(cancellationHandlers.GuestRoutes),
		handlers.WithHostRoutes(cancellationHandlers.HostRoutes),
		handlers.WithAdminRoutes(cancellationHandlers.AdminRoutes),
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
		serverLogger.Info("sahra refunds api listening")
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
	if err := jobScheduler.Stop(shutdownCtx); err != nil {
		logger.Warn("scheduler did not stop cleanly", zap.Error(err))
	}
}

func registerJobs(s *scheduler.Scheduler, cfg config.Config, refundSvc services.RefundService, store idempotency.Store, logger *zap.Logger) {
	jobList := []scheduler.Job{
		{
			Name:     "refund-reconcile",
			Schedule: cfg.Refunds.ReconcileSchedule,
			Timeout:  5 * time.Minute,
			Run:      scheduler.ReconcileRefunds(refundSvc, cfg.Refunds.ReconcileBatchSize),
		},
		{
			Name:     "idempotency-cleanup",
			Schedule: "@every " + cfg.Idempotency.CleanupInterval.String(),
			Timeout:  time.Minute,
			Run:      scheduler.CleanupIdempotencyKeys(store, cfg.Idempotency.CleanupBatchSize, time.Now),
		},
	}
	for _, job := range jobList {
		enabled, err := s.Register(job)
		if err != nil {
			logger.Fatal("failed to register scheduled job", zap.String("job", job.Name), zap.Error(err))
		}
		if !enabled {
			logger.Info("scheduled job disabled", zap.String("job", job.Name))
		}
	}
}

func newRefundEngine(cfg config.RefundConfig) (*refunds.Engine, error) {
	policy := refunds.DefaultConfig()
	if path := strings.TrimSpace(cfg.PolicyFile); path != "" {
		loaded, err := refunds.LoadConfigFile(path, policy)
		if err != nil {
			return nil, err
		}
		policy = loaded
	}
	return refunds.NewEngine(policy)
}

func newPaymentManager(cfg config.PSPConfig, logger *zap.Logger) (*payments.Manager, error) {
	providers := make(map[string]payments.Provider, 2)
	if key := strings.TrimSpace(cfg.StripeAPIKey); key != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:    key,
			AccountID: cfg.StripeAccountID,
			Logger:    payments.StripeLogger(observability.EventLogger(logger, "payments.stripe")),
			Clock:     time.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("stripe provider: %w", err)
		}
		providers[payments.ProviderStripe] = stripeProvider
	}
	if key := strings.TrimSpace(cfg.TapSecretKey); key != "" {
		tapProvider, err := payments.NewTapProvider(payments.TapProviderConfig{
			SecretKey: key,
			BaseURL:   cfg.TapBaseURL,
			PostURL:   cfg.TapPostURL,
			Logger:    payments.TapLogger(observability.EventLogger(logger, "payments.tap")),
			Clock:     time.Now,
		})
		if err != nil {
			return nil, fmt.Errorf("tap provider: %w", err)
		}
		providers[payments.ProviderTap] = tapProvider
	}
	opts := []payments.ManagerOption{payments.WithCurrencyRoutes(cfg.CurrencyRoutes)}
	switch {
	case cfg.DefaultProvider != "":
		opts = append(opts, payments.WithDefaultProvider(cfg.DefaultProvider))
	case providers[payments.ProviderStripe] == nil:
		opts = append(opts, payments.WithDefaultProvider(payments.ProviderTap))
	}
	return payments.NewManager(providers, opts...)
}

func newHealthRepository(provider *pfirestore.Provider, fetcher *secrets.Fetcher, topic *pubsub.Topic) (repositories.HealthRepository, error) {
	checks := []repositories.DependencyCheck{
		{
			Name:     "firestore",
			Critical: true,
			Check: func(ctx context.Context) error {
				client, err := provider.Client(ctx)
				if err != nil {
					return err
				}
				iter := client.Collections(ctx)
				_, err = iter.Next()
				if errors.Is(err, iterator.Done) {
					return nil
				}
				return err
			},
		},
	}
	if fetcher != nil {
		const secretHealthReference = "secret://system-healthz?version=latest"
		checks = append(checks, repositories.DependencyCheck{
			Name:    "secretManager",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				_, err := fetcher.Resolve(ctx, secretHealthReference)
				if err == nil {
					return nil
				}
				if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
					return nil
				}
				return err
			},
		})
	}
	if topic != nil {
		checks = append(checks, repositories.DependencyCheck{
			Name:    "pubsub",
			Timeout: time.Second,
			Check: func(ctx context.Context) error {
				ok, err := topic.Exists(ctx)
				if err != nil {
					return err
				}
				if !ok {
					return fmt.Errorf("topic %s not found", topic.ID())
				}
				return nil
			},
		})
	}
	return repositories.NewDependencyHealthRepository(checks, repositories.WithDependencyTimeout(2*time.Second))
}

func buildInfoFromEnv(env map[string]string, started time.Time) services.BuildInfo {
	version := strings.TrimSpace(env["API_BUILD_VERSION"])
	if version == "" {
		version = "dev"
	}
	commit := strings.TrimSpace(env["API_BUILD_COMMIT_SHA"])
	if commit == "" {
		commit = "unknown"
	}
	environment := strings.TrimSpace(env["API_ENVIRONMENT"])
	if environment == "" {
		environment = "local"
	}
	return services.BuildInfo{
		Version:     version,
		CommitSHA:   commit,
		Environment: environment,
		StartedAt:   started,
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
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}

	opts := []secrets.Option{
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if project != "" {
		opts = append(opts, secrets.WithProject(project))
	}
	if credentials := lookup("API_FIREBASE_CREDENTIALS_FILE"); credentials != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentials)))
	}
	return secrets.NewFetcher(ctx, opts...)
}
