package bootstrap

import (
	"context"
	"fmt"
	"os"
	"time"

	"jenn_worker/adapter/in/http"
	adaptercache "jenn_worker/adapter/out/cache"
	connectorout "jenn_worker/adapter/out/connector"
	"jenn_worker/adapter/out/graph"
	"jenn_worker/adapter/out/mongodb"
	"jenn_worker/adapter/out/persistence"
	"jenn_worker/adapter/out/provider"
	"jenn_worker/config"
	"jenn_worker/core/agent"
	"jenn_worker/core/agent/llm"
	"jenn_worker/core/domain"
	"jenn_worker/core/port/out"
	"jenn_worker/core/service/bridge"
	connectorsvc "jenn_worker/core/service/connector"
	mail "jenn_worker/core/service/email"
	"jenn_worker/core/service/rules"
	"jenn_worker/infra/database"
	"jenn_worker/pkg/cache"
	"jenn_worker/pkg/crypto"
	"jenn_worker/pkg/httputil"
	"jenn_worker/pkg/logger"
	"jenn_worker/pkg/metrics"
	"jenn_worker/pkg/ratelimit"

	"github.com/jmoiron/sqlx"
	"github.com/neo4j/neo4j-go-driver/v5/neo4j"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/readpref"
	"golang.org/x/oauth2"
)

// Dependencies holds every wired component. Optional backends are nil when not configured.
type Dependencies struct {
	DB      *sqlx.DB
	Redis   *redis.Client
	MongoDB *mongo.Client
	Neo4j   neo4j.DriverWithContext
	Log     zerolog.Logger

	// Repositories
	Mailboxes   *persistence.MailboxAdapter
	Connections *persistence.ConnectionAdapter
	LLMStore    *persistence.LLMAdapter
	AgentRuns   *mongodb.AgentRunLog

	// Services
	Orchestrator *llm.Orchestrator
	Planner      *llm.Planner
	Agent        *agent.BusinessAgent
	ToolResolver *connectorsvc.ToolResolver
	OrderBridge  *bridge.OrderBridge
	Pipeline     *rules.Pipeline
	SyncService  *mail.SyncService

	Health http.HealthChecks
}

type pingFunc func(ctx context.Context) error

func (f pingFunc) Ping(ctx context.Context) error { return f(ctx) }

// newZerolog builds the component logger: console output in development, JSON otherwise.
func newZerolog(cfg *config.Config) zerolog.Logger {
	if cfg.IsDevelopment() {
		return zerolog.New(zerolog.ConsoleWriter{Out: os.Stdout}).With().Timestamp().Logger()
	}
	return zerolog.New(os.Stdout).Level(zerolog.InfoLevel).With().Timestamp().Logger()
}

func NewDependencies(ctx context.Context, cfg *config.Config) (*Dependencies, func(), error) {
	deps := &Dependencies{Log: newZerolog(cfg), Health: http.HealthChecks{}}
	var cleanups []func()
	cleanup := func() {
		for i := len(cleanups) - 1; i >= 0; i-- {
			cleanups[i]()
		}
	}
	fail := func(err error) (*Dependencies, func(), error) {
		cleanup()
		return nil, nil, err
	}

	enc, err := crypto.NewEncryptor([]byte(cfg.EncryptionKey))
	if err != nil {
		return fail(fmt.Errorf("encryption key: %w", err))
	}

	// =========================================================================
	// Storage
	// =========================================================================

	db, err := database.NewPostgres(ctx, cfg.DatabaseURL, database.DefaultPostgresConfig())
	if err != nil {
		return fail(err)
	}
	deps.DB = db
	cleanups = append(cleanups, func() { db.Close() })

	dbPool := metrics.NewDBPool("postgres", db.DB)
	if err := dbPool.Register(nil); err != nil {
		logger.WithError(err).Warn("DB pool metrics not registered")
	}
	deps.Health["postgres"] = dbPool
	logger.Info("PostgreSQL connected")

	var (
		locker   out.Locker
		mappings out.EntityMappingStore
		runs     out.AgentRunLog
		redisKV  *cache.RedisCache
	)

	if cfg.RedisURL != "" {
		client, err := database.NewRedis(ctx, cfg.RedisURL, database.DefaultRedisConfig())
		if err != nil {
			logger.WithError(err).Warn("Redis unavailable, locks are process-local")
		} else {
			deps.Redis = client
			redisKV = cache.NewRedisCache(client)
			cleanups = append(cleanups, func() { redisKV.Close() })
			locker = adaptercache.NewRedisLocker(redisKV, "jenn:lock:")
			deps.Health["redis"] = redisKV
			logger.Info("Redis connected")
		}
	}

	if cfg.Neo4jURL != "" {
		driver, err := graph.NewDriver(ctx, cfg.Neo4jURL, cfg.Neo4jUsername, cfg.Neo4jPassword)
		if err != nil {
			logger.WithError(err).Warn("Neo4j unavailable, bridge mappings disabled")
		} else {
			deps.Neo4j = driver
			cleanups = append(cleanups, func() { driver.Close(context.Background()) })

			store := graph.NewMappingStore(driver, "")
			if err := store.EnsureIndexes(ctx); err != nil {
				logger.WithError(err).Warn("Neo4j mapping indexes not created")
			}
			mappings = store
			if redisKV != nil {
				mappings = adaptercache.NewMappingCache(redisKV, store, 24*time.Hour)
			}
			deps.Health["neo4j"] = pingFunc(driver.VerifyConnectivity)
			logger.Info("Neo4j connected")
		}
	}

	if cfg.MongoDBURL != "" {
		client, err := mongodb.NewClient(ctx, cfg.MongoDBURL)
		if err != nil {
			logger.WithError(err).Warn("MongoDB unavailable, agent runs are not audited")
		} else {
			deps.MongoDB = client
			cleanups = append(cleanups, func() { client.Disconnect(context.Background()) })

			runLog := mongodb.NewAgentRunLog(client, cfg.MongoDBName)
			if err := runLog.EnsureIndexes(ctx, cfg.AgentRunRetention); err != nil {
				logger.WithError(err).Warn("MongoDB agent run indexes not created")
			}
			runs = runLog
			deps.AgentRuns = runLog
			deps.Health["mongodb"] = pingFunc(func(ctx context.Context) error {
				return client.Ping(ctx, readpref.Primary())
			})
			logger.Info("MongoDB connected")
		}
	}

	deps.Mailboxes = persistence.NewMailboxAdapter(db, enc)
	deps.Connections = persistence.NewConnectionAdapter(db, enc)
	deps.LLMStore = persistence.NewLLMAdapter(db, enc)

	// =========================================================================
	// LLM
	// =========================================================================

	catalog, err := config.LoadModelCatalog(cfg.ModelCatalogPath)
	if err != nil {
		return fail(err)
	}
	specs := make([]llm.ProviderSpec, 0, len(catalog.Providers))
	for _, p := range catalog.Providers {
		specs = append(specs, llm.ProviderSpec{
			Name:         p.Name,
			BaseURL:      p.BaseURL,
			APIKey:       p.APIKey,
			DefaultModel: p.DefaultModel,
		})
	}
	llmCatalog := llm.NewCatalog(specs, httputil.NewOptimizedClient(httputil.LLMClientConfig()), cfg.LLMMaxRetries, deps.Log)

	orchCfg := llm.DefaultOrchestratorConfig()
	orchCfg.ObjectRetries = cfg.LLMObjectRetries
	orchCfg.Deadline = time.Duration(cfg.LLMTimeoutSec) * time.Second
	deps.Orchestrator = llm.NewOrchestrator(orchCfg, deps.LLMStore, deps.LLMStore, deps.Log)
	deps.Planner = llm.NewPlanner(deps.LLMStore, llmCatalog, defaultModelSettings(catalog.Defaults))

	// =========================================================================
	// Connectors, bridge, agent
	// =========================================================================

	clients := connectorout.NewFactory(connectorout.FactoryConfig{
		HTTPClient: httputil.NewOptimizedClient(httputil.ConnectorClientConfig()),
		Limiter: ratelimit.NewKeyedLimiter(ratelimit.Config{
			RequestsPerSecond: cfg.ConnectorRPS,
			BurstSize:         cfg.ConnectorBurst,
			IdleTTL:           30 * time.Minute,
		}),
		QuickBooksOAuth: oauth2.Config{
			ClientID:     cfg.QuickBooksClientID,
			ClientSecret: cfg.QuickBooksClientSecret,
		},
	})

	deps.OrderBridge = bridge.NewOrderBridge(deps.Connections, clients, mappings, locker)
	deps.ToolResolver = connectorsvc.NewToolResolver(deps.Connections, clients, deps.OrderBridge)
	deps.Agent = agent.NewBusinessAgent(deps.Orchestrator, deps.Planner, runs, deps.Log)
	deps.Pipeline = rules.NewPipeline(deps.Orchestrator, deps.Planner, deps.Agent, deps.ToolResolver)

	// =========================================================================
	// Mail sync
	// =========================================================================

	providers := provider.NewFactory(provider.FactoryConfig{
		Gmail: provider.OAuthConfig{
			ClientID:     cfg.GoogleClientID,
			ClientSecret: cfg.GoogleClientSecret,
		},
		Outlook: provider.OAuthConfig{
			ClientID:     cfg.MicrosoftClientID,
			ClientSecret: cfg.MicrosoftClientSecret,
			TenantID:     cfg.MicrosoftTenantID,
		},
		DialTimeout: 30 * time.Second,
	})

	syncCfg := mail.DefaultSyncConfig()
	syncCfg.CronBatchLimit = cfg.SyncCronBatchLimit
	syncCfg.ManualBatchLimit = cfg.SyncManualBatchLimit
	syncCfg.Policy = domain.AdvancePolicy(cfg.SyncAdvancePolicy)

	deps.SyncService = mail.NewSyncService(
		deps.Mailboxes,
		persistence.NewSyncCursorAdapter(db),
		persistence.NewRuleAdapter(db),
		providers,
		deps.Pipeline,
		locker,
		syncCfg,
	)

	logger.Info("Dependencies initialized (health checks: %d)", len(deps.Health))
	return deps, cleanup, nil
}

func defaultModelSettings(d config.ModelDefaults) domain.ModelSettings {
	choice := func(r config.ModelRef) domain.ModelChoice {
		return domain.ModelChoice{Provider: r.Provider, Model: r.Model}
	}
	settings := domain.ModelSettings{Primary: choice(d.Primary)}
	if d.Backup != nil {
		backup := choice(*d.Backup)
		settings.Backup = &backup
	}
	for _, f := range d.Fallbacks {
		settings.Fallbacks = append(settings.Fallbacks, choice(f))
	}
	return settings
}
