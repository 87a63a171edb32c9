// Package dynamodb stores sessions, approvals and tenant policies in a
// single DynamoDB table.
//
// Key layout:
//
//	SESSION#<id>      GRAPH     graph snapshot, conditional on Version
//	APPROVAL#<id>     APPROVAL  approval record, GSI1 SESSION#<id> / APPROVAL#<created>#<id>
//	TENANT#<id>       POLICY    tenant policy document
//	POLICYCACHE#<id>  ENTRY     shared policy cache tier, expires via TTL
package dynamodb

import (
	"context"
	"errors"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/aws/smithy-go"

	pkgerrors "designgraph/pkg/errors"
)

// API is the subset of the DynamoDB client used by this package
type API interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Query(ctx context.Context, params *dynamodb.QueryInput, optFns ...func(*dynamodb.Options)) (*dynamodb.QueryOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

var _ API = (*dynamodb.Client)(nil)

const (
	// GSI1 indexes approvals by session
	GSI1 = "GSI1"

	skGraph    = "GRAPH"
	skApproval = "APPROVAL"
	skPolicy   = "POLICY"
	skEntry    = "ENTRY"

	entityGraph       = "GRAPH"
	entityApproval    = "APPROVAL"
	entityPolicy      = "POLICY"
	entityPolicyCache = "POLICY_CACHE"
)

func sessionPK(id string) string     { return "SESSION#" + id }
func approvalPK(id string) string    { return "APPROVAL#" + id }
func tenantPK(id string) string      { return "TENANT#" + id }
func policyCachePK(id string) string { return "POLICYCACHE#" + id }

func itemKey(pk, sk string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		"PK": &types.AttributeValueMemberS{Value: pk},
		"SK": &types.AttributeValueMemberS{Value: sk},
	}
}

// NewClient loads the default AWS configuration for region. A non-empty
// endpoint points the client at DynamoDB Local.
func NewClient(ctx context.Context, region, endpoint string) (*dynamodb.Client, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return dynamodb.NewFromConfig(cfg, func(o *dynamodb.Options) {
		if endpoint != "" {
			o.BaseEndpoint = aws.String(endpoint)
		}
	}), nil
}

func isConditionFailed(err error) bool {
	var ccf *types.ConditionalCheckFailedException
	return errors.As(err, &ccf)
}

// classify maps SDK errors onto application errors. Throttling surfaces as
// Unavailable so callers may retry; everything else is a database error.
func classify(operation string, err error) error {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		switch apiErr.ErrorCode() {
		case "ProvisionedThroughputExceededException", "ThrottlingException", "RequestLimitExceeded":
			return pkgerrors.NewUnavailableError("dynamodb").WithCause(err).WithDetail("operation", operation)
		case "ResourceNotFoundException":
			return pkgerrors.NewDatabaseError(operation, err).WithDetail("reason", "table not found")
		}
	}
	return pkgerrors.NewDatabaseError(operation, err)
}
