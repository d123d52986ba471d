package factory

import (
	"context"
	"fmt"
	"sync"
	"time"

	"identity-service/internal/audit"
	"identity-service/internal/authz"
	"identity-service/internal/bucketing"
	"identity-service/internal/client"
	"identity-service/internal/config"
	"identity-service/internal/delivery"
	"identity-service/internal/encryption"
	"identity-service/internal/hashing"
	"identity-service/internal/models"
	"identity-service/internal/repository/postgres"
	"identity-service/internal/repository/redis"
	"identity-service/internal/seed"
	"identity-service/internal/service"
	"identity-service/internal/tls"
	"identity-service/internal/token"
	"identity-service/internal/util"
)

// Factory manages the lifecycle of all application dependencies
type Factory struct {
	config     *config.Config
	tlsManager *tls.TLSManager

	// Clients
	postgresClient   *postgres.Client
	redisClient      *client.RedisClient
	kafkaProducer    *client.KafkaProducer
	esClient         *client.ESClient
	clickhouseClient *client.ClickHouseClient

	// Managers
	hasher            *hashing.Hasher
	encryptionManager *encryption.EncryptionManager
	bucketingManager  *bucketing.BucketingManager
	tokenManager      *token.Manager

	// Pipelines
	recorder *audit.Recorder
	sender   delivery.CodeSender

	// Repositories
	identityRepository  models.IdentityStore
	challengeRepository models.ChallengeStore
	roleRepository      models.RoleStore

	loginThrottle  *redis.LoginThrottle
	roleHierarchy  *authz.RoleHierarchy
	serviceFactory *service.ServiceFactory

	closeOnce sync.Once
	closed    chan struct{}
}

// NewFactory creates and initializes all application dependencies
func NewFactory(cfg *config.Config) (*Factory, error) {
	factory := &Factory{
		config: cfg,
		closed: make(chan struct{}),
	}

	if cfg.Server.EnableTLS {
		factory.tlsManager = tls.NewTLSManager(&cfg.Server)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if err := factory.initializeClients(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize clients: %w", err)
	}

	if err := factory.initializeManagers(ctx); err != nil {
		return nil, fmt.Errorf("failed to initialize managers: %w", err)
	}

	factory.initializeAudit(ctx)
	factory.initializeDelivery()

	if err := factory.seedOperator(ctx); err != nil {
		return nil, fmt.Errorf("failed to provision operator identity: %w", err)
	}

	factory.loginThrottle = redis.NewLoginThrottle(factory.redisClient, factory.bucketingManager, &cfg.Throttle)

	util.Info("Factory initialized successfully",
		util.String("environment", cfg.Environment),
		util.Bool("tls_enabled", cfg.Server.EnableTLS),
		util.Bool("kms_enabled", cfg.KMS.Enabled),
	)

	return factory, nil
}

// initializeClients initializes all external service clients with
// health checks. In production any failure is fatal; in development
// the service starts degraded and the failures are logged.
func (f *Factory) initializeClients(ctx context.Context) error {
	var initErrors []error

	// Postgres. The client pings and runs migrations inside its
	// constructor, so an error here already covers health.
	if pgClient, err := postgres.NewClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("postgres: %w", err))
	} else {
		f.postgresClient = pgClient
		util.Info("Postgres client initialized and healthy")
	}

	// Redis
	if redisClient, err := client.NewRedisClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("redis: %w", err))
	} else {
		f.redisClient = redisClient
		if err := f.redisClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("redis health check: %w", err))
		} else {
			util.Info("Redis client initialized and healthy")
		}
	}

	// Kafka is optional in every environment; without it code delivery
	// falls back to the log sender.
	if producer, err := client.NewKafkaProducer(f.config, util.Get()); err != nil {
		util.Warn("Kafka producer initialization failed - proceeding without Kafka", util.ErrorField(err))
	} else {
		f.kafkaProducer = producer
		util.Info("Kafka producer initialized")
	}

	// Elasticsearch
	if esClient, err := client.NewElasticsearchClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("elasticsearch: %w", err))
	} else {
		f.esClient = esClient
		if err := f.esClient.HealthCheck(); err != nil {
			initErrors = append(initErrors, fmt.Errorf("elasticsearch health check: %w", err))
		} else {
			util.Info("Elasticsearch client initialized and healthy")
		}
	}

	// ClickHouse
	if chClient, err := client.NewClickHouseClient(f.config, util.Get()); err != nil {
		initErrors = append(initErrors, fmt.Errorf("clickhouse: %w", err))
	} else {
		f.clickhouseClient = chClient
		if err := f.clickhouseClient.HealthCheck(ctx); err != nil {
			initErrors = append(initErrors, fmt.Errorf("clickhouse health check: %w", err))
		} else {
			util.Info("ClickHouse client initialized and healthy")
		}
	}

	if len(initErrors) > 0 {
		if f.config.IsProduction() {
			return fmt.Errorf("critical service initialization failed: %v", initErrors)
		}
		for _, err := range initErrors {
			util.Warn("Service initialization warning", util.ErrorField(err))
		}
	}

	return nil
}

// initializeManagers initializes hashing, encryption, bucketing and
// token managers
func (f *Factory) initializeManagers(ctx context.Context) error {
	f.hasher = hashing.NewHasher(f.config)
	f.bucketingManager = bucketing.NewBucketingManager(f.config)
	f.tokenManager = token.NewManager(f.config)

	encryptionManager, err := encryption.NewEncryptionManager(ctx, f.config)
	if err != nil {
		return fmt.Errorf("encryption: %w", err)
	}
	f.encryptionManager = encryptionManager

	util.Info("Managers initialized successfully",
		util.Bool("hashing_initialized", f.hasher != nil),
		util.Bool("encryption_initialized", f.encryptionManager != nil),
		util.Bool("bucketing_initialized", f.bucketingManager != nil),
	)

	return nil
}

// initializeAudit builds the audit recorder with whichever sinks have a
// healthy client behind them. A recorder with no sinks still absorbs
// events so callers never block.
func (f *Factory) initializeAudit(ctx context.Context) {
	var sinks []audit.Sink

	if f.clickhouseClient != nil {
		sink, err := audit.NewClickHouseSink(ctx, f.clickhouseClient, f.config.Audit.ClickhouseTable)
		if err != nil {
			util.Warn("ClickHouse audit sink unavailable", util.ErrorField(err))
		} else {
			sinks = append(sinks, sink)
		}
	}

	if f.esClient != nil {
		sinks = append(sinks, audit.NewElasticsearchSink(f.esClient, f.config.Audit.ESIndex))
	}

	f.recorder = audit.NewRecorder(&f.config.Audit, f.bucketingManager, sinks...)
	util.Info("Audit recorder initialized", util.Int("sinks", len(sinks)))
}

// initializeDelivery picks the code delivery path: Kafka when the
// producer is up, the metadata-only log sender otherwise.
func (f *Factory) initializeDelivery() {
	if f.kafkaProducer != nil {
		f.sender = delivery.NewKafkaPublisher(f.kafkaProducer, f.config.Kafka.CodeDeliveryTopic)
		return
	}

	f.sender = delivery.NewLogSender()
	util.Warn("Kafka unavailable, verification code delivery events will only be logged")
}

// seedOperator provisions the privileged identity from config on every
// start.
func (f *Factory) seedOperator(ctx context.Context) error {
	if f.postgresClient == nil {
		util.Warn("Skipping operator provisioning, postgres unavailable")
		return nil
	}

	seeder := seed.NewSeeder(f.IdentityRepository(), f.hasher, f.encryptionManager, &f.config.Admin)
	if err := seeder.Run(ctx); err != nil {
		if f.config.IsProduction() {
			return err
		}
		util.Warn("Operator provisioning failed", util.ErrorField(err))
	}

	return nil
}

// ==============================
// Repository Initialization
// ==============================

func (f *Factory) IdentityRepository() models.IdentityStore {
	if f.identityRepository == nil {
		f.identityRepository = postgres.NewIdentityRepository(f.postgresClient)
	}
	return f.identityRepository
}

func (f *Factory) ChallengeRepository() models.ChallengeStore {
	if f.challengeRepository == nil {
		f.challengeRepository = postgres.NewChallengeRepository(f.postgresClient)
	}
	return f.challengeRepository
}

func (f *Factory) RoleRepository() models.RoleStore {
	if f.roleRepository == nil {
		f.roleRepository = postgres.NewRoleRepository(f.postgresClient)
	}
	return f.roleRepository
}

// ==============================
// Service Factory
// ==============================

func (f *Factory) ServiceFactory() *service.ServiceFactory {
	if f.serviceFactory == nil {
		f.serviceFactory = service.NewServiceFactory(
			f.IdentityRepository(),
			f.ChallengeRepository(),
			f.RoleRepository(),
			f.Hasher(),
			f.EncryptionManager(),
			f.TokenManager(),
			f.sender,
			f.recorder,
			f.config,
			util.Get(),
		)
	}
	return f.serviceFactory
}

func (f *Factory) RoleHierarchy() *authz.RoleHierarchy {
	if f.roleHierarchy == nil {
		f.roleHierarchy = authz.NewRoleHierarchy(f.RoleRepository())
	}
	return f.roleHierarchy
}

// ==============================
// Health Checks
// ==============================

// HealthCheck reports the state of every dependency, keyed by name.
// Kafka is omitted when it was never configured.
func (f *Factory) HealthCheck(ctx context.Context) map[string]string {
	statuses := make(map[string]string)

	record := func(name string, err error) {
		if err != nil {
			statuses[name] = err.Error()
		} else {
			statuses[name] = "healthy"
		}
	}

	if f.postgresClient != nil {
		record("postgres", f.postgresClient.HealthCheck(ctx))
	} else {
		statuses["postgres"] = "not initialized"
	}

	if f.redisClient != nil {
		record("redis", f.redisClient.HealthCheck(ctx))
	} else {
		statuses["redis"] = "not initialized"
	}

	if f.esClient != nil {
		record("elasticsearch", f.esClient.HealthCheck())
	} else {
		statuses["elasticsearch"] = "not initialized"
	}

	if f.clickhouseClient != nil {
		record("clickhouse", f.clickhouseClient.HealthCheck(ctx))
	} else {
		statuses["clickhouse"] = "not initialized"
	}

	if f.kafkaProducer != nil {
		record("kafka", f.kafkaProducer.HealthCheck(ctx))
	}

	return statuses
}

// IsHealthy reports whether every required dependency is up. Kafka is
// optional and never counts against health.
func (f *Factory) IsHealthy(ctx context.Context) bool {
	for name, status := range f.HealthCheck(ctx) {
		if name == "kafka" {
			continue
		}
		if status != "healthy" {
			return false
		}
	}
	return true
}

// ==============================
// Other Utility Methods
// ==============================

// Close shuts dependencies down in dependency order: the audit
// recorder drains into its sinks before their clients are closed.
func (f *Factory) Close() error {
	f.closeOnce.Do(func() {
		close(f.closed)
		util.Info("Shutting down factory...")

		if f.recorder != nil {
			f.recorder.Close()
			util.Info("Audit recorder drained")
		}

		if f.kafkaProducer != nil {
			if err := f.kafkaProducer.Close(); err != nil {
				util.Error("Failed to close Kafka producer", util.ErrorField(err))
			} else {
				util.Info("Kafka producer closed")
			}
		}

		if f.clickhouseClient != nil {
			if err := f.clickhouseClient.Close(); err != nil {
				util.Error("Failed to close ClickHouse client", util.ErrorField(err))
			} else {
				util.Info("ClickHouse client closed")
			}
		}

		if f.esClient != nil {
			f.esClient.Close()
			util.Info("Elasticsearch client closed")
		}

		if f.postgresClient != nil {
			f.postgresClient.Close()
			util.Info("Postgres client closed")
		}

		if f.redisClient != nil {
			if err := f.redisClient.Close(); err != nil {
				util.Error("Failed to close Redis client", util.ErrorField(err))
			} else {
				util.Info("Redis client closed")
			}
		}

		if f.encryptionManager != nil {
			f.encryptionManager.ClearCache()
			util.Info("Encryption manager cache cleared")
		}

		util.Sync()
		util.Info("Factory shutdown completed")
	})

	return nil
}

func (f *Factory) WaitForClose() {
	<-f.closed
}

func (f *Factory) Config() *config.Config {
	return f.config
}

func (f *Factory) TLSManager() *tls.TLSManager {
	return f.tlsManager
}

func (f *Factory) Hasher() *hashing.Hasher {
	return f.hasher
}

func (f *Factory) EncryptionManager() *encryption.EncryptionManager {
	return f.encryptionManager
}

func (f *Factory) BucketingManager() *bucketing.BucketingManager {
	return f.bucketingManager
}

func (f *Factory) TokenManager() *token.Manager {
	return f.tokenManager
}

func (f *Factory) Recorder() *audit.Recorder {
	return f.recorder
}

func (f *Factory) LoginThrottle() *redis.LoginThrottle {
	return f.loginThrottle
}
