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
	"designgraph/domain/policy"
	pkgerrors "designgraph/pkg/errors"
)

type policyCacheItem struct {
	PK         string `dynamodbav:"PK"`
	SK         string `dynamodbav:"SK"`
	EntityType string `dynamodbav:"EntityType"`
	TenantID   string `dynamodbav:"TenantID"`
	Body       string `dynamodbav:"Body"`
	ExpiresAt  int64  `dynamodbav:"ExpiresAt"` // unix millis
	TTL        int64  `dynamodbav:"TTL"`       // unix seconds, DynamoDB TTL attribute
}

// PolicyCacheTier is the shared policy cache tier. DynamoDB's TTL sweep
// is lazy, so expiry is also checked on read.
type PolicyCacheTier struct {
	client    API
	tableName string
	logger    *zap.Logger
	now       func() time.Time
}

// NewPolicyCacheTier creates a shared tier on the given table
func NewPolicyCacheTier(client API, tableName string, logger *zap.Logger) *PolicyCacheTier {
	return &PolicyCacheTier{client: client, tableName: tableName, logger: logger, now: time.Now}
}

var _ ports.PolicyTier = (*PolicyCacheTier)(nil)

// Get returns an unexpired entry
func (t *PolicyCacheTier) Get(ctx context.Context, tenantID string) (policy.Document, time.Time, bool, error) {
	out, err := t.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName: aws.String(t.tableName),
		Key:       itemKey(policyCachePK(tenantID), skEntry),
	})
	if err != nil {
		return policy.Document{}, time.Time{}, false, classify("GetItem", err)
	}
	if out.Item == nil {
		return policy.Document{}, time.Time{}, false, nil
	}

	var item policyCacheItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return policy.Document{}, time.Time{}, false, pkgerrors.NewDatabaseError("unmarshal policy cache entry", err)
	}
	expiresAt := time.UnixMilli(item.ExpiresAt)
	if !t.now().Before(expiresAt) {
		return policy.Document{}, time.Time{}, false, nil
	}

	var doc policy.Document
	if err := json.Unmarshal([]byte(item.Body), &doc); err != nil {
		return policy.Document{}, time.Time{}, false, pkgerrors.NewDatabaseError("decode policy cache entry", err)
	}
	return doc, expiresAt, true, nil
}

// Set stores doc until expiresAt
func (t *PolicyCacheTier) Set(ctx context.Context, doc policy.Document, expiresAt time.Time) error {
	body, err := json.Marshal(doc)
	if err != nil {
		return pkgerrors.NewInternalError(fmt.Sprintf("failed to marshal policy: %v", err))
	}
	av, err := attributevalue.MarshalMap(policyCacheItem{
		PK:         policyCachePK(doc.TenantID),
		SK:         skEntry,
		EntityType: entityPolicyCache,
		TenantID:   doc.TenantID,
		Body:       string(body),
		ExpiresAt:  expiresAt.UnixMilli(),
		TTL:        expiresAt.Unix() + 1,
	})
	if err != nil {
		return pkgerrors.NewInternalError(fmt.Sprintf("failed to marshal cache entry: %v", err))
	}

	if _, err := t.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(t.tableName),
		Item:      av,
	}); err != nil {
		return classify("PutItem", err)
	}
	return nil
}

// Delete drops a tenant's entry
func (t *PolicyCacheTier) Delete(ctx context.Context, tenantID string) error {
	if _, err := t.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName: aws.String(t.tableName),
		Key:       itemKey(policyCachePK(tenantID), skEntry),
	}); err != nil {
		return classify("DeleteItem", err)
	}
	return nil
}

// Clear scans for every cache entry and deletes it
func (t *PolicyCacheTier) Clear(ctx context.Context) error {
	filter := expression.Name("EntityType").Equal(expression.Value(entityPolicyCache))
	proj := expression.NamesList(expression.Name("TenantID"))
	expr, err := expression.NewBuilder().WithFilter(filter).WithProjection(proj).Build()
	if err != nil {
		return pkgerrors.NewInternalError(fmt.Sprintf("failed to build expression: %v", err))
	}

	paginator := dynamodb.NewScanPaginator(t.client, &dynamodb.ScanInput{
		TableName:                 aws.String(t.tableName),
		FilterExpression:          expr.Filter(),
		ProjectionExpression:      expr.Projection(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
	})

	deleted := 0
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return classify("Scan", err)
		}
		var items []policyCacheItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return pkgerrors.NewDatabaseError("unmarshal policy cache entries", err)
		}
		for _, it := range items {
			if err := t.Delete(ctx, it.TenantID); err != nil {
				return err
			}
			deleted++
		}
	}
	t.logger.Info("shared policy cache cleared", zap.Int("entries", deleted))
	return nil
}
