package routes

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/redis/go-redis/v9"

	"github.com/dee-identity/dee_registry/internal/access"
	"github.com/dee-identity/dee_registry/internal/config"
	"github.com/dee-identity/dee_registry/internal/credential"
	"github.com/dee-identity/dee_registry/internal/database"
	"github.com/dee-identity/dee_registry/internal/domain"
	"github.com/dee-identity/dee_registry/internal/events"
	"github.com/dee-identity/dee_registry/internal/logging"
	"github.com/dee-identity/dee_registry/internal/metrics"
	"github.com/dee-identity/dee_registry/internal/pause"
	"github.com/dee-identity/dee_registry/internal/ratelimit"
	"github.com/dee-identity/dee_registry/internal/registry"
)

// Deps aggregates shared dependencies required to wire routes.
type Deps struct {
	Cfg    config.Config
	DB     *pgxpool.Pool
	Cache  *redis.Client
	Logger *slog.Logger
	// Metrics registers collectors; nil uses a fresh registry.
	Metrics *prometheus.Registry
	// Clock defaults to a monotonic system clock.
	Clock domain.Clock
}

// Services holds the wired domain services.
type Services struct {
	Events   *events.Emitter
	Access   *access.Controller
	Pause    *pause.Switch
	Registry *registry.Service
	Ledger   *credential.Ledger
	Metrics  *metrics.Metrics
	Gatherer prometheus.Gatherer
}

// NewServices picks Postgres and Redis backends when configured and
// in-memory ones otherwise.
func NewServices(ctx context.Context, d Deps) (*Services, error) {
	if !d.Cfg.IsDev() {
		if d.DB == nil {
			return nil, fmt.Errorf("database is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
		if d.Cache == nil {
			return nil, fmt.Errorf("redis is required when APP_ENV=%s", d.Cfg.AppEnv)
		}
	}
	if d.Clock == nil {
		d.Clock = domain.NewMonotonicClock(domain.SystemClock{})
	}
	reg := d.Metrics
	if reg == nil {
		reg = prometheus.NewRegistry()
	}
	m := metrics.New(reg)

	hashPolicy, err := registry.ParseHashPolicy(d.Cfg.HashPolicy)
	if err != nil {
		return nil, err
	}

	var (
		journal   events.Journal
		roleRepo  access.Repository
		pauseRepo pause.Repository
		didRepo   registry.Repository
		credStore credential.Store
		rateStore ratelimit.Store
	)
	publishers := []events.Publisher{events.NewLoggerPublisher(logging.Component(d.Logger, "events"))}
	if d.DB != nil {
		journal = events.NewPostgresJournal(d.DB)
		roleRepo = access.NewPostgresRepository(d.DB)
		pauseRepo = pause.NewPostgresRepository(d.DB)
		didRepo = registry.NewPostgresRepository(d.DB)
		credStore = credential.NewPostgresStore(d.DB)
	} else {
		journal = events.NewMemoryJournal()
		roleRepo = access.NewMemoryRepository()
		pauseRepo = pause.NewMemoryRepository()
		didRepo = registry.NewMemoryRepository()
		credStore = credential.NewInMemory()
	}
	if d.Cache != nil {
		rateStore = ratelimit.NewRedisStore(d.Cache)
		publishers = append(publishers, events.NewRedisStreamPublisher(d.Cache, d.Cfg.EventStream))
	} else {
		rateStore = ratelimit.NewMemoryStore()
	}

	emitter := events.NewEmitter(journal, d.Logger, publishers...)
	tx := database.NewTxManager(d.DB)

	ac, err := access.NewController(ctx, roleRepo, access.Options{
		Tx: tx, Owner: d.Cfg.OwnerAddress, Events: emitter, Clock: d.Clock, Metrics: m, Logger: d.Logger,
	})
	if err != nil {
		return nil, err
	}
	sw, err := pause.NewSwitch(ctx, pauseRepo, ac, pause.Options{
		Tx: tx, StartPaused: d.Cfg.StartPaused, Events: emitter, Clock: d.Clock, Metrics: m, Logger: d.Logger,
	})
	if err != nil {
		return nil, err
	}
	registrySvc := registry.NewService(didRepo, ac, sw, ratelimit.New(rateStore, d.Cfg.RateLimitCooldown), registry.Options{
		Tx:                  tx,
		Clock:               d.Clock,
		Events:              emitter,
		Metrics:             m,
		Logger:              d.Logger,
		HashPolicy:          hashPolicy,
		RateLimitDeactivate: d.Cfg.RateLimitDeactivate,
		MaxPageSize:         d.Cfg.MaxPageSize,
	})
	stats, err := registrySvc.GetContractStats(ctx)
	if err != nil {
		return nil, fmt.Errorf("load registry stats: %w", err)
	}
	m.SetDIDStats(stats.TotalDIDs, stats.ActiveDIDs)

	ledger, err := credential.NewLedger(ctx, credStore, registrySvc, credential.Options{
		Tx: tx, Owner: d.Cfg.OwnerAddress, BaseURI: d.Cfg.CredentialBaseURI, Events: emitter, Clock: d.Clock, Metrics: m, Logger: d.Logger,
	})
	if err != nil {
		return nil, err
	}

	return &Services{
		Events:   emitter,
		Access:   ac,
		Pause:    sw,
		Registry: registrySvc,
		Ledger:   ledger,
		Metrics:  m,
		Gatherer: reg,
	}, nil
}
