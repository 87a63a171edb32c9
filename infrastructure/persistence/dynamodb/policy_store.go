package dynamodb

import (
	"context"
	"fmt"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/attributevalue"
	"github.com/aws/aws-sdk-go-v2/feature/dynamodb/expression"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"go.uber.org/zap"

	"designgraph/application/ports"
	"designgraph/domain/policy"
	pkgerrors "designgraph/pkg/errors"
)

type policyItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	policy.Document
}

// PolicyStore is the durable tenant policy source
type PolicyStore struct {
	client    API
	tableName string
	logger    *zap.Logger
}

// NewPolicyStore creates a new PolicyStore
func NewPolicyStore(client API, tableName string, logger *zap.Logger) *PolicyStore {
	return &PolicyStore{client: client, tableName: tableName, logger: logger}
}

var _ ports.PolicyStore = (*PolicyStore)(nil)

// Load returns the tenant's stored policy or NotFound
func (s *PolicyStore) Load(ctx context.Context, tenantID string) (policy.Document, error) {
	out, err := s.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(s.tableName),
		Key:       itemKey(tenantPK(tenantID), skPolicy),
	})
	if err != nil {
		return policy.Document{}, classify("GetItem", err)
	}
	if out.Item == nil {
		return policy.Document{}, pkgerrors.NewNotFoundError("policy", tenantID)
	}

	var item policyItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return policy.Document{}, pkgerrors.NewDatabaseError("unmarshal policy", err)
	}
	return item.Document.Normalize(), nil
}

// Save writes doc as version doc.Version+1. The put is conditional on the
// stored version still being doc.Version.
func (s *PolicyStore) Save(ctx context.Context, doc policy.Document) (policy.Document, error) {
	saved := doc.Normalize()
	saved.Version = doc.Version + 1
	saved.UpdatedAt = time.Now().UTC()

	av, err := attributevalue.MarshalMap(policyItem{
		PK:         tenantPK(doc.TenantID),
		SK:         skPolicy,
		EntityType: entityPolicy,
		Document:   saved,
	})
	if err != nil {
		return policy.Document{}, pkgerrors.NewInternalError(fmt.Sprintf("failed to marshal policy: %v", err))
	}

	cond := expression.Name("PK").AttributeNotExists()
	if doc.Version > 0 {
		cond = expression.Name("Version").Equal(expression.Value(doc.Version))
	}
	expr, err := expression.NewBuilder().WithCondition(cond).Build()
	if err != nil {
		return policy.Document{}, pkgerrors.NewInternalError(fmt.Sprintf("failed to build expression: %v", err))
	}

	_, err = s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:                 aws.String(s.tableName),
		Item:                      av,
		ConditionExpression:       expr.Condition(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})
	if err != nil {
		if isConditionFailed(err) {
			conflict := pkgerrors.NewConflictError("policy version changed").
				WithDetail("tenant_id", doc.TenantID)
			if current, lerr := s.Load(ctx, doc.TenantID); lerr == nil {
				conflict = conflict.WithDetail("current_version", current.Version)
			}
			return policy.Document{}, conflict
		}
		return policy.Document{}, classify("PutItem", err)
	}

	s.logger.Info("policy stored", zap.String("tenant_id", saved.TenantID), zap.Int("version", saved.Version))
	return saved, nil
}
