// Package app wires the icauth service from its configuration.
package app

import (
	"context"
	"crypto/rand"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/redis/go-redis/v9"
	"github.com/uptrace/bun"

	"icauth/internal/icauth"
	"icauth/internal/icauth/adapter/canister"
	"icauth/internal/icauth/adapter/inmem"
	"icauth/internal/icauth/adapter/jwtissuer"
	"icauth/internal/icauth/adapter/redisstore"
	"icauth/internal/icauth/adapter/sqlstore"
	"icauth/internal/icauth/bridge"
	"icauth/internal/icauth/coordinator"
	"icauth/internal/icauth/httpapi"
	"icauth/internal/icauth/middleware"
	"icauth/internal/platform/config"
	"icauth/internal/platform/database"
	"icauth/internal/platform/server"
	"icauth/internal/platform/telemetry"
)

const (
	userCacheSize = 4096
	sweepInterval = 5 * time.Minute
)

// Options adjust how New assembles the service.
type Options struct {
	// SkipMigrations leaves the schema alone; `icauth migrate up` owns it.
	SkipMigrations bool
	// HTTPClient overrides the client used for canister calls.
	HTTPClient *http.Client
}

// App is an assembled service. Close releases what New opened.
type App struct {
	Handler  http.Handler
	Identity *canister.Identity

	db       *bun.DB
	redis    *redis.Client
	throttle *inmem.LoginThrottle
	sessions *inmem.Sessions // nil when sessions live in Redis
}

// New opens the stores, builds the canister client and returns the HTTP
// handler for the whole service.
func New(ctx context.Context, cfg config.Config, logger *slog.Logger, opts Options) (*App, error) {
	a := &App{}
	ok := false
	defer func() {
		if !ok {
			a.Close()
		}
	}()

	metrics, err := telemetry.NewMetrics()
	if err != nil {
		return nil, fmt.Errorf("metrics initialization: %w", err)
	}

	// Users
	a.db, err = database.Open(ctx, cfg.DatabaseURL)
	if err != nil {
		return nil, fmt.Errorf("opening user database: %w", err)
	}
	if !opts.SkipMigrations {
		if _, err := sqlstore.Migrate(ctx, a.db, logger); err != nil {
			return nil, err
		}
	}
	sqlUsers := sqlstore.NewUsers(a.db, time.Now)
	users, err := sqlstore.NewCachedUsers(sqlUsers, userCacheSize)
	if err != nil {
		return nil, err
	}
	ready := []httpapi.ReadinessCheck{{Name: "database", Check: sqlUsers.Ping}}

	// Sessions
	var sessions icauth.SessionStore
	if cfg.RedisURL != "" {
		redisOpts, err := redis.ParseURL(cfg.RedisURL)
		if err != nil {
			return nil, fmt.Errorf("parsing REDIS_URL: %w", err)
		}
		a.redis = redis.NewClient(redisOpts)
		store, err := redisstore.New(redisstore.Config{Client: a.redis})
		if err != nil {
			return nil, err
		}
		if err := store.Ping(ctx); err != nil {
			return nil, fmt.Errorf("pinging redis: %w", err)
		}
		sessions = store
		ready = append(ready, httpapi.ReadinessCheck{Name: "redis", Check: store.Ping})
	} else {
		a.sessions = inmem.NewSessions(time.Now)
		sessions = a.sessions
	}

	// Canister
	a.Identity, err = loadIdentity(cfg.Canister.IdentityPEMEncoded, logger)
	if err != nil {
		return nil, err
	}
	client, err := canister.New(canister.Config{
		URL:        cfg.Canister.NetworkURL,
		CanisterID: cfg.Canister.CanisterID,
		Identity:   a.Identity,
		Timeout:    cfg.Canister.CallTimeout,
		HTTPClient: opts.HTTPClient,
		Metrics:    metrics,
		Logger:     logger,
	})
	if err != nil {
		return nil, fmt.Errorf("canister client: %w", err)
	}
	ready = append(ready, httpapi.ReadinessCheck{Name: "canister", Check: func(ctx context.Context) error {
		_, err := client.Whoami(ctx)
		return err
	}})
	if p, err := client.Whoami(ctx); err != nil {
		logger.Warn("canister whoami failed", "canister_id", cfg.Canister.CanisterID, "error", err)
	} else {
		logger.Info("canister reachable", "canister_id", cfg.Canister.CanisterID, "principal", p)
	}

	// Tokens
	key := []byte(cfg.Token.SecretKey)
	if len(key) == 0 {
		logger.Warn("SECRET_JWT_KEY is empty, signing tokens with a random key")
		key = make([]byte, 32)
		if _, err := rand.Read(key); err != nil {
			return nil, fmt.Errorf("generating token key: %w", err)
		}
	}
	tokens, err := jwtissuer.New(jwtissuer.Config{
		Key:    key,
		Method: cfg.Token.Method,
		Issuer: cfg.Token.Issuer,
		TTL:    cfg.Session.Age,
	})
	if err != nil {
		return nil, err
	}

	coord, err := coordinator.New(coordinator.Config{
		Auth:       bridge.NewLogging(logger, bridge.New(client, users, logger, metrics)),
		Identity:   client,
		Users:      users,
		Sessions:   sessions,
		Tokens:     tokens,
		PendingTTL: cfg.Session.PendingTTL,
		SessionTTL: cfg.Session.Age,
		Logger:     logger,
		Metrics:    metrics,
	})
	if err != nil {
		return nil, err
	}

	sameSite, err := cfg.Session.SameSiteMode()
	if err != nil {
		return nil, err
	}
	a.throttle = inmem.NewLoginThrottle(cfg.RateLimit.Rate, cfg.RateLimit.Burst, time.Now)
	router := httpapi.NewRouter(coord, httpapi.Config{
		BasePath: cfg.BasePath,
		Cookie: httpapi.CookieConfig{
			Name:     cfg.Session.CookieName,
			Path:     "/",
			MaxAge:   cfg.Session.Age,
			SameSite: sameSite,
			Secure:   cfg.UseSSL,
		},
		Ready:        ready,
		LoginLimiter: a.throttle,
		Logger:       logger,
		Metrics:      metrics,
	})

	router.Handle("GET /metrics", telemetry.MetricsHandler())
	a.Handler = middleware.Chain(
		router,
		middleware.Metrics(metrics),
		middleware.RequestID,
		middleware.Logging(logger, cfg.BasePath+"/health", cfg.BasePath+"/readyz", "/metrics"),
		middleware.Recovery(logger),
		middleware.CORS(cfg.CORSAllowedOrigins),
		middleware.Session(sessions, cfg.Session.CookieName, logger),
	)

	ok = true
	return a, nil
}

// Maintain sweeps idle throttle buckets and expired in-memory sessions
// until ctx is done.
func (a *App) Maintain(ctx context.Context) {
	ticker := time.NewTicker(sweepInterval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			a.throttle.Sweep()
			if a.sessions != nil {
				a.sessions.Cleanup()
			}
		}
	}
}

// Close releases the database and Redis connections.
func (a *App) Close() error {
	var errs []error
	if a.redis != nil {
		errs = append(errs, a.redis.Close())
	}
	errs = append(errs, database.Close(a.db))
	return errors.Join(errs...)
}

// Serve runs the service on ln until ctx is cancelled.
func Serve(ctx context.Context, cfg config.Config, ln net.Listener, logger *slog.Logger, opts Options) error {
	a, err := New(ctx, cfg, logger, opts)
	if err != nil {
		return err
	}
	defer func() {
		if err := a.Close(); err != nil {
			logger.Error("closing stores", "error", err)
		}
	}()

	go a.Maintain(ctx)

	// A canister call may take the full timeout twice per login.
	writeTimeout := 2*cfg.Canister.CallTimeout + 5*time.Second
	srv := server.New(ln.Addr().String(), a.Handler, writeTimeout, logger)
	logger.Info("icauth starting",
		"addr", ln.Addr().String(),
		"base_path", cfg.BasePath,
		"network_url", cfg.Canister.NetworkURL,
		"canister_id", cfg.Canister.CanisterID,
		"sender", a.Identity.Principal(),
		"redis_sessions", cfg.RedisURL != "",
		"database", string(database.Detect(cfg.DatabaseURL)),
	)
	return srv.Serve(ctx, ln)
}

func loadIdentity(encoded string, logger *slog.Logger) (*canister.Identity, error) {
	if encoded == "" {
		logger.Warn("IC_IDENTITY_PEM_ENCODED is empty, using an ephemeral identity")
		return canister.GenerateIdentity()
	}
	id, err := canister.LoadIdentity(encoded)
	if err != nil {
		return nil, fmt.Errorf("loading canister identity: %w", err)
	}
	return id, nil
}
