package di

import (
	"context"
	"errors"
	"fmt"
	"net/http"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	awsdynamodb "github.com/aws/aws-sdk-go-v2/service/dynamodb"
	awseventbridge "github.com/aws/aws-sdk-go-v2/service/eventbridge"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"designgraph/application/policycache"
	"designgraph/application/ports"
	"designgraph/application/services"
	"designgraph/infrastructure/cache"
	"designgraph/infrastructure/config"
	"designgraph/infrastructure/messaging"
	"designgraph/infrastructure/messaging/eventbridge"
	"designgraph/infrastructure/observability"
	"designgraph/infrastructure/persistence/badger"
	"designgraph/infrastructure/persistence/dynamodb"
	"designgraph/infrastructure/persistence/memory"
	"designgraph/infrastructure/policyfile"
	"designgraph/infrastructure/resilience"
	"designgraph/interfaces/http/rest"
	pkgerrors "designgraph/pkg/errors"
)

// ProvideLogger creates a new logger instance
func ProvideLogger(cfg *config.Config) (*zap.Logger, error) {
	var zcfg zap.Config
	if cfg.IsProduction() {
		zcfg = zap.NewProductionConfig()
	} else {
		zcfg = zap.NewDevelopmentConfig()
	}

	level, err := zapcore.ParseLevel(cfg.LogLevel)
	if err != nil {
		return nil, fmt.Errorf("invalid LOG_LEVEL %q: %w", cfg.LogLevel, err)
	}
	zcfg.Level = zap.NewAtomicLevelAt(level)

	logger, err := zcfg.Build()
	if err != nil {
		return nil, err
	}
	return logger.With(zap.String("environment", cfg.Environment)), nil
}

// ProvideErrorHandler creates the HTTP error handler. Stack traces and raw
// messages are only shown outside production.
func ProvideErrorHandler(cfg *config.Config, logger *zap.Logger) *pkgerrors.ErrorHandler {
	return pkgerrors.NewErrorHandler(logger, cfg.IsDevelopment())
}

// ProvideAWSConfig creates AWS configuration
func ProvideAWSConfig(ctx context.Context, cfg *config.Config) (aws.Config, error) {
	return awsconfig.LoadDefaultConfig(ctx, awsconfig.WithRegion(cfg.AWSRegion))
}

// ProvideDynamoDBClient creates a DynamoDB client, or nil when no component
// is configured to use DynamoDB
func ProvideDynamoDBClient(awsCfg aws.Config, cfg *config.Config) *awsdynamodb.Client {
	if !cfg.UsesDynamoDB() {
		return nil
	}
	return awsdynamodb.NewFromConfig(awsCfg, func(o *awsdynamodb.Options) {
		if cfg.DynamoDBEndpoint != "" {
			o.BaseEndpoint = aws.String(cfg.DynamoDBEndpoint)
		}
	})
}

// ProvideBadgerDB opens the embedded database when it is the storage backend
func ProvideBadgerDB(cfg *config.Config, logger *zap.Logger) (*badger.DB, func(), error) {
	if cfg.StorageBackend != config.StorageBadger {
		return nil, func() {}, nil
	}
	db, err := badger.Open(badger.DefaultConfig(cfg.BadgerPath), logger)
	if err != nil {
		return nil, nil, err
	}
	cleanup := func() {
		if err := db.Close(); err != nil {
			logger.Error("Failed to close badger", zap.Error(err))
		}
	}
	return db, cleanup, nil
}

// ProvideGraphRepository selects the graph store
func ProvideGraphRepository(cfg *config.Config, client *awsdynamodb.Client, db *badger.DB, logger *zap.Logger) ports.GraphRepository {
	switch cfg.StorageBackend {
	case config.StorageDynamoDB:
		return dynamodb.NewGraphRepository(client, cfg.TableName, logger)
	case config.StorageBadger:
		return badger.NewGraphRepository(db, logger)
	default:
		return memory.NewGraphRepository()
	}
}

// ProvideApprovalRepository selects the approval store
func ProvideApprovalRepository(cfg *config.Config, client *awsdynamodb.Client, db *badger.DB, logger *zap.Logger) ports.ApprovalRepository {
	switch cfg.StorageBackend {
	case config.StorageDynamoDB:
		return dynamodb.NewApprovalRepository(client, cfg.TableName, logger)
	case config.StorageBadger:
		return badger.NewApprovalRepository(db, logger)
	default:
		return memory.NewApprovalRepository()
	}
}

// ProvidePolicyStore selects the writable policy store. It is nil for the
// read-only file source.
func ProvidePolicyStore(cfg *config.Config, client *awsdynamodb.Client, db *badger.DB, logger *zap.Logger) ports.PolicyStore {
	switch cfg.Policy.Source {
	case config.PolicySourceDynamoDB:
		return dynamodb.NewPolicyStore(client, cfg.TableName, logger)
	case config.PolicySourceBadger:
		return badger.NewPolicyStore(db, logger)
	case config.PolicySourceFile:
		return nil
	default:
		return memory.NewPolicyStore()
	}
}

// ProvidePolicyFile opens the YAML policy file when it is the policy source
func ProvidePolicyFile(cfg *config.Config) (*policyfile.Source, error) {
	if cfg.Policy.Source != config.PolicySourceFile {
		return nil, nil
	}
	return policyfile.Open(cfg.Policy.File)
}

// ProvidePolicySource puts a circuit breaker in front of whichever source
// answers policy loads
func ProvidePolicySource(store ports.PolicyStore, file *policyfile.Source, logger *zap.Logger) (ports.PolicySource, error) {
	var next ports.PolicySource
	switch {
	case file != nil:
		next = file
	case store != nil:
		next = store
	default:
		return nil, errors.New("no policy source configured")
	}
	return resilience.NewPolicySource(next, resilience.DefaultBreakerConfig("policy-source"), logger), nil
}

// ProvideMetrics creates the Prometheus collector
func ProvideMetrics() *observability.Collector {
	return observability.NewCollector("designgraph")
}

// ProvideMetricsCollector hands the collector to the services, or discards
// everything when metrics are disabled
func ProvideMetricsCollector(cfg *config.Config, collector *observability.Collector) ports.MetricsCollector {
	if !cfg.EnableMetrics {
		return ports.NoOpMetrics{}
	}
	return collector
}

// ProvidePolicyCache builds the two-tier policy cache
func ProvidePolicyCache(
	cfg *config.Config,
	source ports.PolicySource,
	client *awsdynamodb.Client,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *policycache.Cache {
	local := cache.NewMemoryCache(cfg.Policy.LocalEntries, logger)

	var shared ports.PolicyTier
	if cfg.Policy.SharedTier == config.SharedTierDynamoDB {
		shared = dynamodb.NewPolicyCacheTier(client, cfg.TableName, logger)
	}

	return policycache.New(local, shared, source, policycache.Config{
		TTL:           cfg.Policy.CacheTTL,
		SourceTimeout: cfg.Policy.SourceTimeout,
	}, metrics, logger.Named("policycache"))
}

// ProvidePolicyWatcher reloads the policy file on change and invalidates the
// tenants it touched
func ProvidePolicyWatcher(file *policyfile.Source, pc *policycache.Cache, logger *zap.Logger) (*policyfile.Watcher, func(), error) {
	if file == nil {
		return nil, func() {}, nil
	}
	w, err := policyfile.NewWatcher(file, pc, logger.Named("policyfile"))
	if err != nil {
		return nil, nil, err
	}
	w.Start()
	return w, w.Stop, nil
}

// ProvideEventPublisher logs every event and, when events are enabled, also
// sends them to EventBridge
func ProvideEventPublisher(awsCfg aws.Config, cfg *config.Config, logger *zap.Logger) ports.EventPublisher {
	logPublisher := messaging.NewLogPublisher(logger)
	if !cfg.EnableEvents {
		return logPublisher
	}
	client := awseventbridge.NewFromConfig(awsCfg)
	return messaging.FanOut{
		logPublisher,
		eventbridge.NewPublisher(client, cfg.EventBusName, logger.Named("eventbridge")),
	}
}

// ProvideGraphService creates the graph service
func ProvideGraphService(repo ports.GraphRepository, publisher ports.EventPublisher, metrics ports.MetricsCollector, logger *zap.Logger) *services.GraphService {
	return services.NewGraphService(repo, publisher, metrics, logger.Named("graphs"))
}

// ProvideApprovalService creates the approval service
func ProvideApprovalService(
	repo ports.ApprovalRepository,
	graphs *services.GraphService,
	publisher ports.EventPublisher,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *services.ApprovalService {
	return services.NewApprovalService(repo, graphs, publisher, metrics, logger.Named("approvals"))
}

// ProvideMutationService creates the mutation service
func ProvideMutationService(pc *policycache.Cache, graphs *services.GraphService, approvals *services.ApprovalService, logger *zap.Logger) *services.MutationService {
	return services.NewMutationService(pc, graphs, approvals, logger.Named("mutations"))
}

// ProvidePolicyService creates the policy admin service
func ProvidePolicyService(
	pc *policycache.Cache,
	store ports.PolicyStore,
	publisher ports.EventPublisher,
	metrics ports.MetricsCollector,
	logger *zap.Logger,
) *services.PolicyService {
	return services.NewPolicyService(pc, store, publisher, metrics, logger.Named("policies"))
}

// ProvideReadiness probes the graph store with a lookup that is expected to
// miss
func ProvideReadiness(repo ports.GraphRepository) rest.ReadinessCheck {
	return func(ctx context.Context) error {
		_, err := repo.Get(ctx, "readiness-probe")
		if err == nil || pkgerrors.IsNotFound(err) {
			return nil
		}
		return err
	}
}

// ProvideHTTPHandler assembles the router
func ProvideHTTPHandler(
	cfg *config.Config,
	graphs *services.GraphService,
	views *services.ViewService,
	approvals *services.ApprovalService,
	mutations *services.MutationService,
	policies *services.PolicyService,
	collector *observability.Collector,
	readiness rest.ReadinessCheck,
	logger *zap.Logger,
	errorHandler *pkgerrors.ErrorHandler,
) http.Handler {
	opts := rest.Options{
		EnableCORS: cfg.EnableCORS,
		Readiness:  readiness,
	}
	if cfg.EnableMetrics {
		opts.MetricsHandler = collector.Handler()
		opts.MetricsRecorder = collector
	}

	router := rest.NewRouter(rest.Services{
		Graphs:    graphs,
		Views:     views,
		Approvals: approvals,
		Mutations: mutations,
		Policies:  policies,
	}, opts, logger.Named("http"), errorHandler)
	return router.Setup()
}
