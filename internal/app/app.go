// Package app wires configuration, stores, services and the HTTP stack into
// a runnable CA server.
package app

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/http"

	kmstypes "github.com/aws/aws-sdk-go-v2/service/kms/types"
	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	_ "github.com/lib/pq" // PostgreSQL driver

	"github.com/roastedbeans/certification-authority/internal/auth"
	"github.com/roastedbeans/certification-authority/internal/client"
	"github.com/roastedbeans/certification-authority/internal/config"
	"github.com/roastedbeans/certification-authority/internal/detection"
	"github.com/roastedbeans/certification-authority/internal/flow"
	"github.com/roastedbeans/certification-authority/internal/handler"
	"github.com/roastedbeans/certification-authority/internal/middleware"
	"github.com/roastedbeans/certification-authority/internal/repository"
	"github.com/roastedbeans/certification-authority/internal/service"
	"github.com/roastedbeans/certification-authority/internal/telemetry"
	"github.com/roastedbeans/certification-authority/internal/util"
	"github.com/roastedbeans/certification-authority/internal/util/logger"
	"github.com/roastedbeans/certification-authority/internal/validation"
	"github.com/roastedbeans/certification-authority/pkg/security"
	revocation "github.com/roastedbeans/certification-authority/security"
)

// App is a fully wired server. Build it, start its workers with Run and
// release it with Close.
type App struct {
	Config  *config.Config
	Handler http.Handler

	Shipper *telemetry.KafkaShipper
	Limiter *middleware.RateLimiter

	db      *sql.DB
	redis   *client.RedisClient
	logs    *detection.LogSet
	closers []func() error
}

// stores are the persistence capabilities handed to the services.
type stores struct {
	clients     repository.ClientRepository
	certs       repository.CertificateRepository
	flow        repository.FlowStateStore
	idempotency repository.IdempotencyStore
	revocations revocation.RevocationStore
}

// Build opens every dependency named by cfg. On error everything opened so
// far is closed again.
func Build(ctx context.Context, cfg *config.Config, version string) (*App, error) {
	logger.ReplaceGlobal(&logger.Config{Level: cfg.Logger.Level, Encoding: cfg.Logger.Encoding})

	a := &App{Config: cfg}
	if err := a.build(ctx, version); err != nil {
		_ = a.Close(context.Background())
		return nil, err
	}
	return a, nil
}

func (a *App) build(ctx context.Context, version string) error {
	cfg := a.Config

	st, err := a.openStores(ctx)
	if err != nil {
		return err
	}

	tokens, err := util.NewTokenManager(util.TokenConfig{
		SigningKey:  []byte(cfg.Auth.SigningKey),
		Issuer:      cfg.Auth.Issuer,
		Audience:    cfg.Auth.Audience,
		TTL:         cfg.Auth.TokenTTL,
		ClockSkew:   cfg.Auth.ClockSkew,
		MaxIATDrift: cfg.Auth.MaxIATDrift,
	})
	if err != nil {
		return fmt.Errorf("token manager: %w", err)
	}
	signer, err := newSigner(ctx, cfg.Signer)
	if err != nil {
		return err
	}
	consentSigner := security.NewConsentSigner(signer)

	v := validation.New()
	fv := flow.NewValidator(st.flow, st.certs)
	guard := auth.NewGuard(tokens, st.revocations)
	tokenSvc := service.NewTokenService(st.clients, tokens, fv, v)
	consentSvc := service.NewConsentService(st.certs, fv, v, consentSigner, service.SignURLs{
		IOSAppScheme: cfg.SignURLs.IOSAppScheme,
		AOSAppScheme: cfg.SignURLs.AOSAppScheme,
		Web:          cfg.SignURLs.Web,
	})

	var checkers []handler.HealthChecker
	if a.db != nil {
		checkers = append(checkers, handler.PingChecker{CheckName: "database", Ping: a.db.PingContext})
	}
	if a.redis != nil {
		checkers = append(checkers, handler.PingChecker{CheckName: "redis", Ping: a.redis.HealthCheck})
	}
	checkers = append(checkers, handler.SignerChecker{Health: consentSigner.Health})

	handlers := &handler.Handlers{
		Mgmt:   handler.NewMgmtHandler(tokenSvc, service.NewOrgService(st.clients, fv, v), v),
		CA:     handler.NewCAHandler(tokenSvc, consentSvc, service.NewIdempotency(st.idempotency), guard, v),
		Health: handler.NewHealthHandler(cfg.Env, version, checkers...),
		Guard:  guard,
	}

	shipper, err := telemetry.NewKafkaShipper(cfg.Kafka)
	if err != nil {
		return err
	}
	a.Shipper = shipper
	var publisher telemetry.Publisher = telemetry.Nop{}
	if cfg.Kafka.Enabled {
		publisher = a.Shipper
	}

	r := chi.NewRouter()
	r.Use(chimw.RequestID, chimw.RealIP, chimw.Recoverer)
	r.Use(middleware.SecurityHeaders(middleware.DefaultSecurityHeadersConfig()))

	var anomalies middleware.AnomalySink
	if cfg.Detection.Enabled {
		a.logs, err = detection.OpenLogSet(cfg.Detection.LogDir)
		if err != nil {
			return fmt.Errorf("open detection logs: %w", err)
		}
		anomalies = a.logs
		det := middleware.NewDetection(
			detection.NewSignature(),
			detection.NewSpecification(v, detection.DefaultEndpoints()),
			a.logs, publisher,
		)
		r.Use(det.Handler)
		logger.Infow("detection logging enabled", "dir", cfg.Detection.LogDir)
	}

	r.Use(middleware.NewRejectionAudit(publisher).Handler)

	if cfg.RateLimit.Enabled {
		a.Limiter = middleware.NewRateLimiter(middleware.LimiterConfig{
			RPS:              cfg.RateLimit.RPS,
			Burst:            cfg.RateLimit.Burst,
			Window:           cfg.RateLimit.Window,
			AnomalyThreshold: cfg.RateLimit.AnomalyThreshold,
			Routes:           r,
			Redis:            a.redis,
		}, middleware.ClientKey(tokens), anomalies, publisher)
		r.Use(a.Limiter.Handler)
	}

	r.Use(chimw.Timeout(cfg.Server.RequestTimeout))
	handlers.Routes(r)
	a.Handler = r
	return nil
}

func (a *App) openStores(ctx context.Context) (*stores, error) {
	cfg := a.Config
	st := &stores{}

	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return nil, fmt.Errorf("open database: %w", err)
		}
		a.db = db
		a.closers = append(a.closers, db.Close)
		if err := db.PingContext(ctx); err != nil {
			return nil, fmt.Errorf("ping database: %w", err)
		}
		if err := repository.EnsureSchema(ctx, db); err != nil {
			return nil, err
		}
		clients := repository.NewPostgresClientRepository(db)
		if err := clients.UpsertClients(ctx, cfg.Clients); err != nil {
			return nil, fmt.Errorf("register clients: %w", err)
		}
		st.clients = clients
		st.certs = repository.NewPostgresCertificateRepository(db)
		logger.Infow("consent registry on postgres")
	} else {
		st.clients = repository.NewMemoryClientRepository(cfg.Clients)
		st.certs = repository.NewMemoryCertificateRepository()
		logger.Warnw("no database_url, consent registry is in memory")
	}

	if cfg.UsesRedis() {
		if cfg.RedisURL == "" {
			return nil, errors.New("redis_url required by flow.store or auth.revocation_store")
		}
		rc, err := client.NewRedisClient(ctx, client.RedisConfig{URL: cfg.RedisURL})
		if err != nil {
			return nil, err
		}
		a.redis = rc
		a.closers = append(a.closers, rc.Close)
	}

	if cfg.Flow.Store == "redis" {
		st.flow = repository.NewRedisFlowStateStore(a.redis, cfg.Flow.StateTTL)
		st.idempotency = repository.NewRedisIdempotencyStore(a.redis, cfg.Flow.IdempotencyTTL)
	} else {
		st.flow = repository.NewMemoryFlowStateStore()
		st.idempotency = repository.NewMemoryIdempotencyStore(cfg.Flow.IdempotencyTTL)
	}
	if cfg.Auth.RevocationStore == "redis" {
		st.revocations = revocation.NewRedisRevocationStore(a.redis)
	} else {
		st.revocations = revocation.NewMemoryRevocationStore()
	}
	return st, nil
}

func newSigner(ctx context.Context, cfg config.SignerConfig) (security.Signer, error) {
	switch cfg.Mode {
	case "kms":
		s, err := security.NewKMSSigner(ctx, security.KMSConfig{
			KeyID:             cfg.KMSKeyID,
			Algorithm:         kmstypes.SigningAlgorithmSpec(cfg.KMSAlgorithm),
			Timeout:           cfg.KMSTimeout,
			PublicKeyCacheTTL: cfg.PublicKeyTTL,
		})
		if err != nil {
			return nil, fmt.Errorf("kms signer: %w", err)
		}
		logger.Infow("consent signer on kms", "key_id", cfg.KMSKeyID)
		return s, nil
	default:
		if cfg.PrivateKeyFile != "" {
			s, err := security.LoadLocalSigner(cfg.PrivateKeyFile)
			if err != nil {
				return nil, err
			}
			logger.Infow("consent signer from key file", "key_id", s.KeyID())
			return s, nil
		}
		s, err := security.GenerateLocalSigner()
		if err != nil {
			return nil, err
		}
		logger.Warnw("no signer key configured, generated an ephemeral key", "key_id", s.KeyID())
		return s, nil
	}
}

// Run starts the background workers and blocks until ctx ends.
func (a *App) Run(ctx context.Context) {
	if a.Shipper != nil {
		a.Shipper.Start()
	}
	if a.Limiter != nil {
		a.Limiter.Run(ctx)
		return
	}
	<-ctx.Done()
}

// Close drains the event shipper and releases every dependency.
func (a *App) Close(ctx context.Context) error {
	if a.Shipper != nil {
		a.Shipper.Stop(ctx)
	}
	var errs []error
	if a.logs != nil {
		errs = append(errs, a.logs.Close())
	}
	for i := len(a.closers) - 1; i >= 0; i-- {
		errs = append(errs, a.closers[i]())
	}
	a.closers = nil
	logger.Sync()
	return errors.Join(errs...)
}
