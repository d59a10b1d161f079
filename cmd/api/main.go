package main

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"sort"
	"strings"
	"sync"
	"syscall"
	"time"

	"cloud.google.com/go/pubsub"
	"go.uber.org/zap"
	"google.golang.org/api/option"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"

	"github.com/warungkita/api/internal/di"
	"github.com/warungkita/api/internal/handlers"
	"github.com/warungkita/api/internal/payments"
	"github.com/warungkita/api/internal/platform/auth"
	"github.com/warungkita/api/internal/platform/config"
	pfirestore "github.com/warungkita/api/internal/platform/firestore"
	"github.com/warungkita/api/internal/platform/idempotency"
	"github.com/warungkita/api/internal/platform/jobs"
	"github.com/warungkita/api/internal/platform/observability"
	"github.com/warungkita/api/internal/platform/secrets"
	"github.com/warungkita/api/internal/repositories"
	firestoreRepo "github.com/warungkita/api/internal/repositories/firestore"
	"github.com/warungkita/api/internal/services"
)

const (
	invoiceProviderKey = "invoice"
	stripeProviderKey  = "stripe"
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

	requiredSecrets := requiredSecretNames(envValues)
	cfg, err := config.Load(ctx,
		config.WithSecretResolver(config.SecretResolverFunc(fetcher.Resolve)),
		config.WithRequiredSecrets(requiredSecrets...),
	)
	if err != nil {
		var missing *config.MissingSecretsError
		if errors.As(err, &missing) {
			logger.Fatal("missing required secrets", zap.Strings("secrets", missing.RedactedNames()))
		}
		logger.Fatal("failed to load configuration", zap.Error(err))
	}

	buildInfo := buildInfoFromEnv(envValues, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := firestoreProvider.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	registry, err := firestoreRepo.NewRegistry(firestoreProvider, secretManagerCheck(fetcher))
	if err != nil {
		logger.Fatal("failed to initialise repository registry", zap.Error(err))
	}

	paymentManager, err := newPaymentManager(cfg, logger.Named("payments"))
	if err != nil {
		logger.Fatal("failed to initialise payment manager", zap.Error(err))
	}

	var publisher services.OrderEventPublisher
	if cfg.PubSub.Enabled && cfg.PubSub.ProjectID != "" {
		pubsubClient, err := pubsub.NewClient(ctx, cfg.PubSub.ProjectID)
		if err != nil {
			logger.Fatal("failed to initialise pubsub client", zap.Error(err))
		}
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
		topic := pubsubClient.Topic(cfg.PubSub.Topic)
		defer topic.Stop()
		publisher, err = jobs.NewPubSubOrderEventPublisher(topic)
		if err != nil {
			logger.Fatal("failed to initialise order event publisher", zap.Error(err))
		}
	} else {
		logger.Info("order event notifications disabled")
	}

	container, err := di.NewContainer(ctx, cfg, di.Dependencies{
		Registry:  registry,
		Payments:  paymentManager,
		Publisher: publisher,
		Build:     buildInfo,
		Logger:    logger,
	})
	if err != nil {
		logger.Fatal("failed to build service container", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := container.Close(closeCtx); err != nil {
			logger.Warn("container close error", zap.Error(err))
		}
	}()

	var authenticator *auth.Authenticator
	if cfg.Firebase.ProjectID != "" {
		firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
		if err != nil {
			logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
		}
		authenticator = auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))
	} else {
		logger.Warn("firebase project not configured; admin endpoints are unauthenticated")
	}

	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}
	idempotencyStore := idempotency.NewFirestoreStore(firestoreClient)
	idempotencyMiddleware := idempotency.Middleware(
		idempotencyStore,
		idempotency.WithHeader(cfg.Idempotency.Header),
		idempotency.WithTTL(cfg.Idempotency.TTL),
		idempotency.WithLogger(observability.NewPrintfAdapter(logger.Named("idempotency"))),
	)

	cleanupCtx, cleanupCancel := context.WithCancel(context.Background())
	var cleanupWG sync.WaitGroup
	var cleanupTicker *time.Ticker
	if cfg.Idempotency.CleanupInterval > 0 {
		cleanupTicker = time.NewTicker(cfg.Idempotency.CleanupInterval)
		cleanupWG.Add(1)
		go func() {
			defer cleanupWG.Done()
			cleanupLogger := logger.Named("idempotency")
			for {
				select {
				case <-cleanupTicker.C:
					runCtx, cancel := context.WithTimeout(cleanupCtx, time.Minute)
					removed, err := idempotencyStore.CleanupExpired(runCtx, time.Now().UTC(), cfg.Idempotency.CleanupBatchSize)
					cancel()
					if err != nil {
						cleanupLogger.Error("idempotency cleanup error", zap.Error(err))
						continue
					}
					if removed > 0 {
						cleanupLogger.Info("idempotency cleanup removed records", zap.Int("count", removed))
					}
				case <-cleanupCtx.Done():
					return
				}
			}
		}()
	}

	var webhookMiddleware func(http.Handler) http.Handler
	if token := strings.TrimSpace(cfg.Provider.CallbackToken); token != "" {
		validator, err := auth.NewCallbackTokenValidator(auth.StaticCallbackToken(token), "")
		if err != nil {
			logger.Fatal("failed to initialise callback token validator", zap.Error(err))
		}
		webhookMiddleware = validator.RequireCallbackToken()
	} else {
		logger.Warn("provider callback token not configured; webhook endpoints will reject all requests")
		webhookMiddleware = rejectAllMiddleware()
	}

	svc := container.Services

	orderHandlers := handlers.NewOrderHandlers(svc.Checkout, svc.Orders)
	catalogHandlers := handlers.NewCatalogHandlers(svc.Products)
	var paymentOpts []handlers.PaymentOption
	if svc.Poller != nil {
		paymentOpts = append(paymentOpts, handlers.WithOrderWatcher(svc.Poller))
	}
	paymentHandlers := handlers.NewPaymentHandlers(svc.Invoices, svc.Reconciliation, paymentOpts...)
	adminHandlers := handlers.NewAdminHandlers(authenticator, svc.Orders, svc.Products, svc.Reconciliation)
	webhookHandlers := handlers.NewWebhookHandlers(svc.Reconciliation)
	internalHandlers := handlers.NewInternalHandlers(svc.System, svc.Reconciliation)
	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(svc.System),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
		idempotencyMiddleware,
	}

	router := handlers.NewRouter(
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithProductRoutes(catalogHandlers.Routes),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
		handlers.WithAdminRoutes(adminHandlers.Routes),
		handlers.WithWebhookRoutes(webhookHandlers.Routes),
		handlers.WithWebhookMiddlewares(webhookMiddleware),
		handlers.WithInternalRoutes(internalHandlers.Routes),
	)

	server := &http.Server{
		Addr:         ":" + cfg.Server.Port,
		Handler:      router,
		ReadTimeout:  cfg.Server.ReadTimeout,
		WriteTimeout: cfg.Server.WriteTimeout,
		IdleTimeout:  cfg.Server.IdleTimeout,
	}

	pollerCtx, pollerCancel := context.WithCancel(ctx)
	var pollerWG sync.WaitGroup
	if svc.Poller != nil {
		pollerWG.Add(1)
		go func() {
			defer pollerWG.Done()
			if err := svc.Poller.Run(pollerCtx); err != nil && !errors.Is(err, context.Canceled) {
				logger.Warn("reconciliation poller stopped", zap.Error(err))
			}
		}()
	}

	shutdown := make(chan os.Signal, 1)
	signal.Notify(shutdown, syscall.SIGINT, syscall.SIGTERM)

	serverLogger := logger.Named("http").With(zap.String("addr", server.Addr))
	go func() {
		serverLogger.Info("warungkita api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

	pollerCancel()
	pollerWG.Wait()

	if cleanupTicker != nil {
		cleanupTicker.Stop()
	}
	cleanupCancel()
	cleanupWG.Wait()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := server.Shutdown(shutdownCtx); err != nil {
		logger.Error("graceful shutdown failed", zap.Error(err))
	}
}

func newPaymentManager(cfg config.Config, logger *zap.Logger) (*payments.Manager, error) {
	if logger == nil {
		logger = zap.NewNop()
	}

	invoiceProvider, err := payments.NewInvoiceProvider(payments.InvoiceProviderConfig{
		BaseURL:         cfg.Provider.BaseURL,
		APIKey:          cfg.Provider.APIKey,
		Timeout:         cfg.Provider.Timeout,
		InvoiceDuration: cfg.Provider.InvoiceDuration,
		Logger:          zapEventLogger(logger.Named("invoice")),
		Clock:           time.Now,
	})
	if err != nil {
		return nil, err
	}

	providers := map[string]payments.Provider{
		invoiceProviderKey: invoiceProvider,
	}
	opts := []payments.ManagerOption{
		payments.WithDefaultProvider(invoiceProviderKey),
	}

	if cfg.Features.EnableStripe && strings.TrimSpace(cfg.Stripe.APIKey) != "" {
		stripeProvider, err := payments.NewStripeProvider(payments.StripeProviderConfig{
			APIKey:     cfg.Stripe.APIKey,
			SuccessURL: cfg.Stripe.SuccessURL,
			CancelURL:  cfg.Stripe.CancelURL,
			Logger:     zapEventLogger(logger.Named("stripe")),
			Clock:      time.Now,
		})
		if err != nil {
			return nil, err
		}
		providers[stripeProviderKey] = stripeProvider
		// Non-IDR currencies settle through Stripe Checkout.
		opts = append(opts, payments.WithCurrencyRoutes(map[string]string{
			"USD": stripeProviderKey,
			"SGD": stripeProviderKey,
		}))
	}

	return payments.NewManager(providers, opts...)
}

func zapEventLogger(logger *zap.Logger) func(ctx context.Context, event string, fields map[string]any) {
	return func(_ context.Context, event string, fields map[string]any) {
		zapFields := make([]zap.Field, 0, len(fields))
		for key, value := range fields {
			zapFields = append(zapFields, zap.Any(key, value))
		}
		logger.Debug(event, zapFields...)
	}
}

func rejectAllMiddleware() func(http.Handler) http.Handler {
	return func(http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, _ *http.Request) {
			http.Error(w, "webhook token not configured", http.StatusServiceUnavailable)
		})
	}
}

func buildInfoFromEnv(env map[string]string, started time.Time) services.BuildInfo {
	lookup := func(key, fallback string) string {
		if env != nil {
			if value := strings.TrimSpace(env[key]); value != "" {
				return value
			}
		}
		return fallback
	}
	return services.BuildInfo{
		Version:     lookup("API_BUILD_VERSION", "dev"),
		CommitSHA:   lookup("API_BUILD_COMMIT_SHA", "unknown"),
		Environment: lookup("API_ENVIRONMENT", "local"),
		StartedAt:   started,
	}
}

func secretManagerCheck(fetcher *secrets.Fetcher) repositories.DependencyCheck {
	const healthReference = "secret://system/healthz?version=latest"
	return repositories.DependencyCheck{
		Name:    "secretManager",
		Timeout: time.Second,
		Check: func(ctx context.Context) error {
			if fetcher == nil {
				return nil
			}
			_, err := fetcher.Resolve(ctx, healthReference)
			if err == nil {
				return nil
			}
			if st, ok := status.FromError(err); ok && st.Code() == codes.NotFound {
				return nil
			}
			return err
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
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("API_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	defaultProject := lookup("API_SECRET_DEFAULT_PROJECT_ID")
	if defaultProject == "" {
		defaultProject = lookup("API_FIREBASE_PROJECT_ID")
	}
	fallbackPath := lookup("API_SECRET_FALLBACK_FILE")
	if fallbackPath == "" {
		fallbackPath = ".secrets.local"
	}
	credentialsFile := lookup("API_FIREBASE_CREDENTIALS_FILE")

	opts := []secrets.Option{
		secrets.WithEnvironment(envLabel),
		secrets.WithLogger(logger.Named("secrets")),
		secrets.WithFallbackFile(fallbackPath),
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

// requiredSecretNames marks config fields whose environment values point at
// Secret Manager as mandatory, so startup fails loudly when a referenced
// secret cannot be resolved.
func requiredSecretNames(env map[string]string) []string {
	candidates := map[string]string{
		"Provider.APIKey":        "API_PROVIDER_API_KEY",
		"Provider.CallbackToken": "API_PROVIDER_CALLBACK_TOKEN",
		"Stripe.APIKey":          "API_STRIPE_API_KEY",
		"Stripe.WebhookSecret":   "API_STRIPE_WEBHOOK_SECRET",
	}

	var required []string
	for name, key := range candidates {
		value := ""
		if env != nil {
			value = strings.TrimSpace(env[key])
		}
		if strings.HasPrefix(value, "secret://") || strings.HasPrefix(value, "sm://") {
			required = append(required, name)
		}
	}
	sort.Strings(required)
	return required
}
