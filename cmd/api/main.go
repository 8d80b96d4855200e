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
	"github.com/go-chi/chi/v5"
	"go.uber.org/zap"
	"google.golang.org/api/option"

	"github.com/chandanhastantram/artsstore-sub000/internal/di"
	"github.com/chandanhastantram/artsstore-sub000/internal/handlers"
	"github.com/chandanhastantram/artsstore-sub000/internal/platform/auth"
	"github.com/chandanhastantram/artsstore-sub000/internal/platform/config"
	pfirestore "github.com/chandanhastantram/artsstore-sub000/internal/platform/firestore"
	"github.com/chandanhastantram/artsstore-sub000/internal/platform/idempotency"
	"github.com/chandanhastantram/artsstore-sub000/internal/platform/jobs"
	"github.com/chandanhastantram/artsstore-sub000/internal/platform/observability"
	"github.com/chandanhastantram/artsstore-sub000/internal/platform/secrets"
	firestoreRepo "github.com/chandanhastantram/artsstore-sub000/internal/repositories/firestore"
	"github.com/chandanhastantram/artsstore-sub000/internal/services"
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

	buildInfo := buildInfoFromEnv(envValues, cfg, startedAt)

	firestoreProvider := pfirestore.NewProvider(cfg.Firestore)
	firestoreClient, err := firestoreProvider.Client(ctx)
	if err != nil {
		logger.Fatal("failed to initialise firestore client", zap.Error(err))
	}

	registry, err := firestoreRepo.NewRegistry(firestoreProvider)
	if err != nil {
		logger.Fatal("failed to initialise repositories", zap.Error(err))
	}
	defer func() {
		closeCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := registry.Close(closeCtx); err != nil {
			logger.Warn("firestore close error", zap.Error(err))
		}
	}()

	publishers, pubsubClient, err := newEventPublishers(ctx, cfg, envValues)
	if err != nil {
		logger.Fatal("failed to initialise event publishers", zap.Error(err))
	}
	if pubsubClient != nil {
		defer func() {
			if err := pubsubClient.Close(); err != nil {
				logger.Warn("pubsub close error", zap.Error(err))
			}
		}()
	}

	container, err := di.NewContainer(ctx, cfg, registry, di.Options{
		Logger:     logger,
		Publishers: publishers,
		Build:      buildInfo,
	})
	if err != nil {
		logger.Fatal("failed to assemble services", zap.Error(err))
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

	firebaseVerifier, err := auth.NewFirebaseVerifier(ctx, cfg.Firebase)
	if err != nil {
		logger.Fatal("failed to initialise firebase verifier", zap.Error(err))
	}
	authenticator := auth.NewAuthenticator(firebaseVerifier, auth.WithUserGetter(firebaseVerifier))

	adminGate := newAdminGate(cfg, authenticator)

	orderHandlers := handlers.NewOrderHandlers(authenticator, container.Services.Checkout, container.Services.Orders)
	adminOrderHandlers := handlers.NewAdminOrderHandlers(container.Services.Orders)
	paymentHandlers := handlers.NewPaymentHandlers(authenticator, container.Payments, cfg.Pricing.Currency)

	var couponHandlers *handlers.CouponHandlers
	if cfg.Features.EnableCoupons {
		couponHandlers = handlers.NewCouponHandlers(container.Services.Coupons)
	}
	var newsletterHandlers *handlers.NewsletterHandlers
	if cfg.Features.EnableNewsletter {
		newsletterHandlers = handlers.NewNewsletterHandlers(
			container.Services.Newsletter,
			handlers.WithSubscribeRateLimit(cfg.RateLimits.DefaultPerMinute),
		)
	}

	healthHandlers := handlers.NewHealthHandlers(
		handlers.WithHealthBuildInfo(buildInfo),
		handlers.WithHealthSystemService(container.Services.System),
	)

	projectID := traceProjectID(cfg)
	middlewares := []func(http.Handler) http.Handler{
		observability.InjectLoggerMiddleware(logger.Named("http")),
		observability.TraceMiddleware(projectID),
		observability.RecoveryMiddleware(logger.Named("http")),
		observability.RequestLoggerMiddleware(projectID),
	}

	opts := []handlers.Option{
		handlers.WithMiddlewares(middlewares...),
		handlers.WithHealthHandlers(healthHandlers),
		handlers.WithOrderRoutes(orderHandlers.Routes),
		handlers.WithOrderMiddlewares(idempotencyMiddleware),
		handlers.WithPaymentRoutes(paymentHandlers.Routes),
	}
	if couponHandlers != nil {
		opts = append(opts, handlers.WithCouponRoutes(couponHandlers.Routes))
	}
	if newsletterHandlers != nil {
		opts = append(opts, handlers.WithNewsletterRoutes(newsletterHandlers.Routes))
	}
	opts = append(opts,
		handlers.WithAdminRoutes(adminRoutes(adminOrderHandlers, newsletterHandlers)),
		handlers.WithAdminMiddlewares(adminGate.Middleware()),
	)

	router := handlers.NewRouter(opts...)
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
		serverLogger.Info("artsstore api listening")
		if err := server.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			serverLogger.Fatal("http server error", zap.Error(err))
		}
	}()

	<-shutdown
	logger.Info("shutdown signal received; draining requests")

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

// adminHMACSecretName selects the shared secret used for signed
// server-to-server admin calls.
const adminHMACSecretName = "admin"

// newAdminGate assembles the admin-group authentication: Firebase admins by
// default, plus HMAC-signed and Google OIDC callers when configured.
func newAdminGate(cfg config.Config, authenticator *auth.Authenticator) *auth.AdminGate {
	gateOpts := []auth.AdminGateOption{}

	hmacCfg := cfg.Security.HMAC
	if _, ok := hmacCfg.Secrets[adminHMACSecretName]; ok {
		secrets := hmacCfg.Secrets
		validator := auth.NewHMACValidator(
			auth.SecretProviderFunc(func(_ context.Context, name string) (string, error) {
				secret, found := secrets[name]
				if !found {
					return "", fmt.Errorf("hmac secret %q not configured", name)
				}
				return secret, nil
			}),
			auth.NewInMemoryNonceStore(),
			auth.WithHMACHeaders(hmacCfg.SignatureHeader, hmacCfg.TimestampHeader, hmacCfg.NonceHeader),
			auth.WithHMACClockSkew(hmacCfg.ClockSkew),
			auth.WithHMACNonceTTL(hmacCfg.NonceTTL),
		)
		gateOpts = append(gateOpts, auth.WithAdminHMAC(validator.RequireHMAC(adminHMACSecretName), hmacCfg.SignatureHeader))
	}

	oidcCfg := cfg.Security.OIDC
	if strings.TrimSpace(oidcCfg.JWKSURL) != "" && strings.TrimSpace(oidcCfg.Audience) != "" {
		cache := auth.NewJWKSCache(oidcCfg.JWKSURL)
		validator := auth.NewOIDCValidator(cache)
		gateOpts = append(gateOpts, auth.WithAdminOIDC(validator.RequireOIDC(oidcCfg.Audience, oidcCfg.Issuers)))
	}

	return auth.NewAdminGate(authenticator.RequireFirebaseAuth("admin"), gateOpts...)
}

func adminRoutes(orders *handlers.AdminOrderHandlers, newsletter *handlers.NewsletterHandlers) handlers.RouteRegistrar {
	return func(r chi.Router) {
		r.Route("/orders", orders.Routes)
		if newsletter != nil {
			r.Route("/newsletter", newsletter.AdminRoutes)
		}
	}
}

func newEventPublishers(ctx context.Context, cfg config.Config, env map[string]string) (di.Publishers, *pubsub.Client, error) {
	projectID := traceProjectID(cfg)
	if projectID == "" {
		return di.Publishers{}, nil, nil
	}

	var opts []option.ClientOption
	if file := strings.TrimSpace(env["API_FIREBASE_CREDENTIALS_FILE"]); file != "" {
		opts = append(opts, option.WithCredentialsFile(file))
	}
	client, err := pubsub.NewClient(ctx, projectID, opts...)
	if err != nil {
		return di.Publishers{}, nil, fmt.Errorf("pubsub client: %w", err)
	}

	orderPublisher, err := jobs.NewPubSubOrderEventPublisher(client.Topic(cfg.Events.OrderEventsTopic))
	if err != nil {
		_ = client.Close()
		return di.Publishers{}, nil, err
	}
	stockPublisher, err := jobs.NewPubSubStockEventPublisher(client.Topic(cfg.Events.StockEventsTopic))
	if err != nil {
		_ = client.Close()
		return di.Publishers{}, nil, err
	}

	return di.Publishers{Orders: orderPublisher, Stock: stockPublisher}, client, nil
}

func buildInfoFromEnv(env map[string]string, cfg config.Config, started time.Time) services.BuildInfo {
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
		if env == nil {
			return ""
		}
		if value, ok := env[key]; ok {
			return strings.TrimSpace(value)
		}
		return ""
	}

	envLabel := strings.ToLower(lookup("API_SECURITY_ENVIRONMENT"))
	if envLabel == "" {
		envLabel = "local"
	}
	projectMap := secretProjectMapFromEnv(env)
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
	if len(projectMap) > 0 {
		opts = append(opts, secrets.WithProjectMap(projectMap))
	}
	if defaultProject != "" {
		opts = append(opts, secrets.WithDefaultProject(defaultProject))
	}
	if credentialsFile != "" {
		opts = append(opts, secrets.WithClientOptions(option.WithCredentialsFile(credentialsFile)))
	}

	return secrets.NewFetcher(ctx, opts...)
}

func secretProjectMapFromEnv(env map[string]string) map[string]string {
	raw := ""
	if env != nil {
		raw = env["API_SECRET_PROJECT_IDS"]
	}
	raw = strings.TrimSpace(raw)
	projects := make(map[string]string)
	if raw == "" {
		return projects
	}
	entries := strings.Split(raw, ",")
	for _, entry := range entries {
		entry = strings.TrimSpace(entry)
		if entry == "" {
			continue
		}
		parts := strings.SplitN(entry, "=", 2)
		if len(parts) != 2 {
			continue
		}
		envLabel := strings.ToLower(strings.TrimSpace(parts[0]))
		project := strings.TrimSpace(parts[1])
		if envLabel == "" || project == "" {
			continue
		}
		projects[envLabel] = project
	}
	return projects
}

func requiredSecretNames(env map[string]string) []string {
	required := []string{
		"Payments.GatewaySigningSecret",
	}
	if env != nil {
		if key := strings.TrimSpace(env["API_PAYMENTS_STRIPE_API_KEY"]); key != "" {
			required = append(required, "Payments.StripeAPIKey")
		}
	}
	return uniqueStrings(required)
}

func uniqueStrings(values []string) []string {
	seen := make(map[string]struct{})
	out := make([]string, 0, len(values))
	for _, value := range values {
		trimmed := strings.TrimSpace(value)
		if trimmed == "" {
			continue
		}
		if _, ok := seen[trimmed]; ok {
			continue
		}
		seen[trimmed] = struct{}{}
		out = append(out, trimmed)
	}
	sort.Strings(out)
	return out
}
