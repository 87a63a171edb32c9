package dynamodb

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"designgraph/application/ports"
	"designgraph/domain/core/aggregates"
	pkgerrors "designgraph/pkg/errors"
)

// graphItem is the stored form of a session graph. The snapshot body is
// kept as JSON so attribute maps keep their open wire shape.
type graphItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	SessionID  string `dynamodbav:"SessionID"`
	Version    int    `dynamodbav:"Version"`
	NodeCount  int    `dynamodbav:"NodeCount"`
	EdgeCount  int    `dynamodbav:"EdgeCount"`
	Body       string `dynamodbav:"Body"`
	CreatedAt  string `dynamodbav:"CreatedAt"`
	UpdatedAt  string `dynamodbav:"UpdatedAt"`
}

// GraphRepository implements ports.GraphRepository on DynamoDB. Writes are
// conditional puts on the Version attribute.
type GraphRepository struct {
	client    API
	tableName string
	logger    *zap.Logger
}

// NewGraphRepository creates a new GraphRepository
func NewGraphRepository(client API, tableName string, logger *zap.Logger) *GraphRepository {
	return &GraphRepository{client: client, tableName: tableName, logger: logger}
}

var _ ports.GraphRepository = (*GraphRepository)(nil)

func toGraphItem(g *aggregates.Graph) (graphItem, error) {
	body, err := json.Marshal(g.Snapshot())
	if err != nil {
		return graphItem{}, fmt.Errorf("failed to marshal graph snapshot: %w", err)
	}
	return graphItem{
		PK:         sessionPK(g.SessionID()),
		SK:         skGraph,
		EntityType: entityGraph,
		SessionID:  g.SessionID(),
		Version:    g.Version(),
		NodeCount:  g.NodeCount(),
		EdgeCount:  g.EdgeCount(),
		Body:       string(body),
		CreatedAt:  g.CreatedAt().Format(time.RFC3339Nano),
		UpdatedAt:  g.UpdatedAt().Format(time.RFC3339Nano),
	}, nil
}

func (it graphItem) toGraph() (*aggregates.Graph, error) {
	var snap aggregates.Snapshot
	if err := json.Unmarshal([]byte(it.Body), &snap); err != nil {
		return nil, fmt.Errorf("failed to unmarshal graph snapshot: %w", err)
	}
	return aggregates.FromSnapshot(snap)
}

// Create stores a new graph if the session has none
func (r *GraphRepository) Create(ctx context.Context, graph *aggregates.Graph) error {
	cond := expression.Name("PK").AttributeNotExists()
	err := r.put(ctx, graph, cond)
	if isConditionFailed(err) {
		return pkgerrors.NewConflictError("session already exists").
			WithCode(pkgerrors.CodeSessionExists).
			WithDetail("session_id", graph.SessionID())
	}
	return err
}

// Get loads the latest snapshot
func (r *GraphRepository) Get(ctx context.Context, sessionID string) (*aggregates.Graph, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(sessionPK(sessionID), skGraph),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classify("GetItem", err)
	}
	if out.Item == nil {
		return nil, pkgerrors.NewNotFoundError("session", sessionID)
	}

	var item graphItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, pkgerrors.NewDatabaseError("unmarshal graph", err)
	}
	g, err := item.toGraph()
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("decode graph", err)
	}
	return g, nil
}

// CompareAndSwap writes next only while the stored Version equals
// expectedVersion
func (r *GraphRepository) CompareAndSwap(ctx context.Context, expectedVersion int, next *aggregates.Graph) error {
	cond := expression.Name("Version").Equal(expression.Value(expectedVersion))
	err := r.put(ctx, next, cond)
	if err == nil {
		return nil
	}
	if !isConditionFailed(err) {
		return err
	}

	current, gerr := r.Get(ctx, next.SessionID())
	if gerr != nil {
		if pkgerrors.IsNotFound(gerr) {
			return gerr
		}
		r.logger.Warn("failed to read current version after conflict",
			zap.String("session_id", next.SessionID()),
			zap.Error(gerr),
		)
		return pkgerrors.NewConflictError("version conflict").
			WithCode(pkgerrors.CodeVersionConflict).
			WithDetail("expected_version", expectedVersion)
	}
	return pkgerrors.NewVersionConflictError(next.SessionID(), expectedVersion, current.Version())
}

func (r *GraphRepository) put(ctx context.Context, g *aggregates.Graph, cond expression.ConditionBuilder) error {
	item, err := toGraphItem(g)
	if err != nil {
		return pkgerrors.NewInternalError(err.Error())
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return pkgerrors.NewInternalError(fmt.Sprintf("failed to marshal graph: %v", err))
	}
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return pkgerrors.NewInternalError(fmt.Sprintf("failed to build expression: %v", err))
	}

	_, err = r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(r.tableName),
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionFailed(err) {
			return err
		}
		r.logger.Error("failed to save graph",
			zap.String("session_id", g.SessionID()),
			zap.Int("version", g.Version()),
			zap.Error(err),
		)
		return classify("PutItem", err)
	}

	r.logger.Debug("graph saved",
		zap.String("session_id", g.SessionID()),
		zap.Int("version", g.Version()),
		zap.Int("nodes", item.NodeCount),
		zap.Int("edges", item.EdgeCount),
	)
	return nil
}
