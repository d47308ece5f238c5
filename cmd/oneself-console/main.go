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

	"github.com/gofiber/fiber/v2"
	"github.com/nats-io/nats.go"

	"github.com/Checker-Finance/oneself-console/internal/api"
	"github.com/Checker-Finance/oneself-console/internal/auth"
	"github.com/Checker-Finance/oneself-console/internal/crypto"
	"github.com/Checker-Finance/oneself-console/internal/httpclient"
	"github.com/Checker-Finance/oneself-console/internal/jobs"
	"github.com/Checker-Finance/oneself-console/internal/navigation"
	"github.com/Checker-Finance/oneself-console/internal/publisher"
	"github.com/Checker-Finance/oneself-console/internal/rate"
	internalsecrets "github.com/Checker-Finance/oneself-console/internal/secrets"
	"github.com/Checker-Finance/oneself-console/internal/session"
	"github.com/Checker-Finance/oneself-console/internal/system"
	"github.com/Checker-Finance/oneself-console/pkg/config"
	"github.com/Checker-Finance/oneself-console/pkg/logger"
	"github.com/Checker-Finance/oneself-console/pkg/secrets"
	"github.com/Checker-Finance/oneself-console/pkg/utils"
)

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	// --- Load configuration ---
	cfg := config.Load()

	logger.Init(cfg.ServiceName, cfg.Env, cfg.LogLevel)
	defer logger.Sync()
	logg := logger.S()
	logg.Infof("starting [%s]...", cfg.ServiceName)
	logg.Infow("gateway",
		"auth_base_url", utils.MaskDSN(cfg.APIBaseURL),
		"system_base_url", utils.MaskDSN(cfg.SystemAPIBaseURL),
		"request_timeout", cfg.RequestTimeout)

	// --- Session store ---
	backend, err := session.Open(ctx, session.BackendConfig{
		Kind:      cfg.SessionBackend,
		FilePath:  cfg.SessionFile,
		RedisAddr: cfg.RedisAddr,
		RedisDB:   cfg.RedisDB,
		RedisPass: cfg.RedisPass,
		KeyPrefix: cfg.SessionKeyPrefix,
	}, logger.Named("session"))
	if err != nil {
		logg.Fatalw("failed to open session backend", "backend", cfg.SessionBackend, "error", err)
	}
	store := session.NewStore(backend, logger.Named("session"))
	if err := store.Load(ctx); err != nil {
		logg.Warnw("session.load_failed", "error", err)
	}

	// --- RSA key material ---
	var (
		provider secrets.Provider
		keyCache *secrets.Cache[crypto.KeyPair]
	)
	if cfg.PublicKey == "" && cfg.RSAKeySecret != "" {
		awsProvider, err := secrets.NewAWSProvider(ctx, cfg.AWSRegion)
		if err != nil {
			logg.Fatalw("failed to create AWS Secrets Manager provider", "error", err)
		}
		provider = awsProvider
		if cfg.KeyCacheTTL > 0 {
			keyCache = secrets.NewCache[crypto.KeyPair](cfg.KeyCacheTTL)
			go keyCache.StartCleaner(ctx, cfg.KeyCacheTTL)
		}
	}
	keys := internalsecrets.NewKeyResolver(
		logger.Named("keys"),
		crypto.KeyPair{PublicKey: cfg.PublicKey, PrivateKey: cfg.PrivateKey},
		cfg.RSAKeySecret,
		provider,
		keyCache,
	)
	if _, err := keys.Verify(ctx); err != nil {
		if errors.Is(err, internalsecrets.ErrKeyMismatch) {
			logg.Fatalw("configured RSA private key does not match the public key", "error", err)
		}
		logg.Warnw("RSA public key unavailable or unusable; login will fail until one is configured", "error", err)
	}

	// --- Session events ---
	pub, nc := openPublisher(cfg)
	defer func() {
		if err := pub.Close(); err != nil {
			logg.Warnw("publisher.close_failed", "error", err)
		}
	}()

	// --- Navigation ---
	router := navigation.NewRouter(logger.Named("navigation"), store, nil)

	// --- Gateway transport ---
	gateway := httpclient.New(logger.Named("gateway"), &http.Client{}, store, httpclient.Config{
		BaseURL:          cfg.APIBaseURL,
		Timeout:          cfg.RequestTimeout,
		CredentialHeader: cfg.CredentialHeader,
	})

	authSvc := auth.NewService(logger.Named("auth"), gateway, keys, store, pub, cfg.ServiceName)
	gateway.SetOnAuthLost(func() {
		router.RedirectToLogin()
		authSvc.AuthLost(context.WithoutCancel(ctx), "gateway rejected the session")
	})

	// --- Token expiry watcher ---
	var watcher *jobs.ExpiryWatcher
	if cfg.ExpiryCheckInterval > 0 {
		watcher = jobs.NewExpiryWatcher(logger.Named("jobs"), store, cfg.ExpiryCheckInterval, cfg.ExpiryLeeway, func() {
			router.RedirectToLogin()
			authSvc.AuthLost(context.WithoutCancel(ctx), "access token expired")
		})
		go watcher.Start(ctx)
	}

	systemClient := system.NewClient(gateway, cfg.SystemAPIBaseURL)

	// --- Fiber HTTP Server ---
	app := fiber.New(fiber.Config{
		ReadTimeout:  cfg.HTTPReadTimeout,
		WriteTimeout: cfg.HTTPWriteTimeout,
		IdleTimeout:  cfg.HTTPIdleTimeout,
		BodyLimit:    cfg.HTTPBodyLimit,
	})

	checks := map[string]api.HealthCheck{}
	if rb, ok := backend.(*session.RedisBackend); ok {
		checks["session"] = rb.HealthCheck
	}
	if nc != nil {
		checks["nats"] = func(context.Context) error {
			if !nc.IsConnected() {
				return fmt.Errorf("nats disconnected")
			}
			return nc.FlushTimeout(time.Second)
		}
	}

	consoleHandler := api.NewConsoleHandler(logger.Named("api"), authSvc, store, router)
	if cfg.LoginPerMinute > 0 {
		limiter := rate.New(rate.Config{PerMinute: cfg.LoginPerMinute, Burst: cfg.LoginBurst})
		consoleHandler.WithLoginLimiter(limiter)
		go sweepLimiter(ctx, limiter, 10*time.Minute)
	}
	systemHandler := api.NewSystemHandler(logger.Named("api"), systemClient)
	api.RegisterRoutes(app, consoleHandler, systemHandler, checks)

	// Start HTTP server
	go func() {
		logg.Infof("console API listening on :%d", cfg.Port)
		if err := app.Listen(fmt.Sprintf(":%d", cfg.Port)); err != nil {
			logg.Fatalw("fiber.listen_failed", "error", err)
		}
	}()

	logg.Infow(fmt.Sprintf("[%s] running", cfg.ServiceName),
		"env", cfg.Env,
		"session_backend", cfg.SessionBackend,
		"events_backend", cfg.EventsBackend,
		"authenticated", store.IsAuthenticated())

	<-ctx.Done()
	logg.Infof("shutting down [%s]...", cfg.ServiceName)

	if watcher != nil {
		watcher.Stop()
	}
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := app.ShutdownWithContext(shutdownCtx); err != nil {
		logg.Warnw("fiber.shutdown_failed", "error", err)
	}
	if err := store.Close(); err != nil {
		logg.Warnw("session.close_failed", "error", err)
	}
}

// openPublisher connects the configured event backend. Connection failures
// degrade to Noop so the console keeps working without a broker.
func openPublisher(cfg *config.Config) (publisher.Publisher, *nats.Conn) {
	logg := logger.S()
	switch cfg.EventsBackend {
	case "nats":
		nc, err := nats.Connect(cfg.NATSURL, nats.Name(cfg.ServiceName))
		if err != nil {
			logg.Warnw("failed to connect to NATS; session events disabled", "url", utils.MaskDSN(cfg.NATSURL), "error", err)
			return publisher.Noop{}, nil
		}
		pub, err := publisher.NewNATS(nc, cfg.NATSSubject, cfg.ServiceName, logger.Named("publisher"))
		if err != nil {
			nc.Close()
			logg.Warnw("failed to init NATS publisher; session events disabled", "error", err)
			return publisher.Noop{}, nil
		}
		if err := pub.EnsureStream(cfg.NATSStream); err != nil {
			logg.Warnw("nats.ensure_stream_failed", "stream", cfg.NATSStream, "error", err)
		}
		return pub, nc
	case "amqp":
		pub, err := publisher.DialAMQP(cfg.AMQPURL, cfg.AMQPRoutingKey, cfg.ServiceName, logger.Named("publisher"))
		if err != nil {
			logg.Warnw("failed to connect to RabbitMQ; session events disabled", "url", utils.MaskDSN(cfg.AMQPURL), "error", err)
			return publisher.Noop{}, nil
		}
		return pub, nil
	}
	return publisher.Noop{}, nil
}

// sweepLimiter periodically forgets idle client buckets.
func sweepLimiter(ctx context.Context, l *rate.Limiter, idle time.Duration) {
	ticker := time.NewTicker(idle)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if n := l.Sweep(idle); n > 0 {
				logger.S().Debugw("rate.swept_idle_buckets", "count", n)
			}
		}
	}
}
