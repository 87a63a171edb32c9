//go:build wireinject
// +build wireinject

package di

import (
	"context"

	"github.com/google/wire"

	"designgraph/application/services"
	"designgraph/infrastructure/config"
)

// SuperSet is the main provider set containing all providers
var SuperSet = wire.NewSet(
	ProvideLogger,
	ProvideErrorHandler,
	ProvideAWSConfig,
	ProvideDynamoDBClient,
	ProvideBadgerDB,
	ProvideGraphRepository,
	ProvideApprovalRepository,
	ProvidePolicyStore,
	ProvidePolicyFile,
	ProvidePolicySource,
	ProvideMetrics,
	ProvideMetricsCollector,
	ProvidePolicyCache,
	ProvidePolicyWatcher,
	ProvideEventPublisher,
	ProvideGraphService,
	services.NewViewService,
	ProvideApprovalService,
	ProvideMutationService,
	ProvidePolicyService,
	ProvideReadiness,
	ProvideHTTPHandler,
	wire.Struct(new(Container), "*"),
)

// InitializeContainer creates a fully wired container
func InitializeContainer(ctx context.Context, cfg *config.Config) (*Container, func(), error) {
	wire.Build(SuperSet)
	return nil, nil, nil // Wire will replace this
}
