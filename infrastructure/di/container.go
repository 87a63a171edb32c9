// Package di wires the application together with google/wire.
package di

import (
	"net/http"

	"go.uber.org/zap"

	"designgraph/application/policycache"
	"designgraph/application/services"
	"designgraph/infrastructure/config"
	"designgraph/infrastructure/observability"
	"designgraph/infrastructure/policyfile"
)

// Container holds all application dependencies
type Container struct {
	Config      *config.Config
	Logger      *zap.Logger
	Handler     http.Handler
	Graphs      *services.GraphService
	Approvals   *services.ApprovalService
	Policies    *services.PolicyService
	PolicyCache *policycache.Cache
	Metrics     *observability.Collector
	// nil unless the policy source is a file
	PolicyWatcher *policyfile.Watcher
}
