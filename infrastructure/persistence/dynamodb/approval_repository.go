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
	"designgraph/domain/approval"
	"designgraph/domain/core/aggregates"
	pkgerrors "designgraph/pkg/errors"
)

// sortTime keeps GSI1SK lexicographically ordered by creation time
const sortTime = "20060102T150405.000000000Z"

type approvalItem struct {
	PK             string  `dynamodbav:"PK"`
	SK             string  `dynamodbav:"SK"`
	GSI1PK         string  `dynamodbav:"GSI1PK"`
	GSI1SK         string  `dynamodbav:"GSI1SK"`
	EntityType     string  `dynamodbav:"EntityType"`
	ApprovalID     string  `dynamodbav:"ApprovalID"`
	SessionID      string  `dynamodbav:"SessionID"`
	TenantID       string  `dynamodbav:"TenantID,omitempty"`
	Task           string  `dynamodbav:"Task,omitempty"`
	RequestID      string  `dynamodbav:"RequestID,omitempty"`
	ActionType     string  `dynamodbav:"ActionType,omitempty"`
	Confidence     float64 `dynamodbav:"Confidence"`
	Reason         string  `dynamodbav:"Reason,omitempty"`
	Patch          string  `dynamodbav:"Patch"`
	Status         string  `dynamodbav:"Status"`
	RequestedBy    string  `dynamodbav:"RequestedBy,omitempty"`
	DecidedBy      string  `dynamodbav:"DecidedBy,omitempty"`
	CreatedAt      string  `dynamodbav:"CreatedAt"`
	DecidedAt      string  `dynamodbav:"DecidedAt,omitempty"`
	AppliedVersion int     `dynamodbav:"AppliedVersion,omitempty"`
	Revision       int     `dynamodbav:"Revision"`
	ClaimToken     string  `dynamodbav:"ClaimToken,omitempty"`
	ClaimedAt      string  `dynamodbav:"ClaimedAt,omitempty"`
	ApplyBase      int     `dynamodbav:"ApplyBase,omitempty"`
}

func toApprovalItem(a *approval.PendingApproval) (approvalItem, error) {
	patch, err := json.Marshal(a.Patch)
	if err != nil {
		return approvalItem{}, fmt.Errorf("failed to marshal patch: %w", err)
	}
	created := a.CreatedAt.UTC()
	item := approvalItem{
		PK:             approvalPK(a.ApprovalID),
		SK:             skApproval,
		GSI1PK:         sessionPK(a.SessionID),
		GSI1SK:         fmt.Sprintf("APPROVAL#%s#%s", created.Format(sortTime), a.ApprovalID),
		EntityType:     entityApproval,
		ApprovalID:     a.ApprovalID,
		SessionID:      a.SessionID,
		TenantID:       a.TenantID,
		Task:           a.Task,
		RequestID:      a.RequestID,
		ActionType:     a.ActionType,
		Confidence:     a.Confidence,
		Reason:         a.Reason,
		Patch:          string(patch),
		Status:         string(a.Status),
		RequestedBy:    a.RequestedBy,
		DecidedBy:      a.DecidedBy,
		CreatedAt:      created.Format(time.RFC3339Nano),
		AppliedVersion: a.AppliedVersion,
		Revision:       a.Revision,
		ClaimToken:     a.ClaimToken,
		ApplyBase:      a.ApplyBase,
	}
	if a.DecidedAt != nil {
		item.DecidedAt = a.DecidedAt.UTC().Format(time.RFC3339Nano)
	}
	if !a.ClaimedAt.IsZero() {
		item.ClaimedAt = a.ClaimedAt.UTC().Format(time.RFC3339Nano)
	}
	return item, nil
}

func (it approvalItem) toApproval() (*approval.PendingApproval, error) {
	var patch aggregates.Patch
	if err := json.Unmarshal([]byte(it.Patch), &patch); err != nil {
		return nil, fmt.Errorf("failed to unmarshal patch: %w", err)
	}
	created, err := time.Parse(time.RFC3339Nano, it.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("invalid CreatedAt: %w", err)
	}

	a := &approval.PendingApproval{
		ApprovalID:     it.ApprovalID,
		SessionID:      it.SessionID,
		TenantID:       it.TenantID,
		Task:           it.Task,
		RequestID:      it.RequestID,
		ActionType:     it.ActionType,
		Confidence:     it.Confidence,
		Reason:         it.Reason,
		Patch:          patch,
		Status:         approval.Status(it.Status),
		RequestedBy:    it.RequestedBy,
		DecidedBy:      it.DecidedBy,
		CreatedAt:      created,
		AppliedVersion: it.AppliedVersion,
		Revision:       it.Revision,
		ClaimToken:     it.ClaimToken,
		ApplyBase:      it.ApplyBase,
	}
	if it.DecidedAt != "" {
		decided, err := time.Parse(time.RFC3339Nano, it.DecidedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid DecidedAt: %w", err)
		}
		a.DecidedAt = &decided
	}
	if it.ClaimedAt != "" {
		claimed, err := time.Parse(time.RFC3339Nano, it.ClaimedAt)
		if err != nil {
			return nil, fmt.Errorf("invalid ClaimedAt: %w", err)
		}
		a.ClaimedAt = claimed
	}
	return a, nil
}

// ApprovalRepository implements ports.ApprovalRepository on DynamoDB
type ApprovalRepository struct {
	client    API
	tableName string
	logger    *zap.Logger
}

// NewApprovalRepository creates a new ApprovalRepository
func NewApprovalRepository(client API, tableName string, logger *zap.Logger) *ApprovalRepository {
	return &ApprovalRepository{client: client, tableName: tableName, logger: logger}
}

var _ ports.ApprovalRepository = (*ApprovalRepository)(nil)

// Create stores a new record
func (r *ApprovalRepository) Create(ctx context.Context, record *approval.PendingApproval) error {
	err := r.put(ctx, record, expression.Name("PK").AttributeNotExists())
	if isConditionFailed(err) {
		return pkgerrors.NewConflictError("approval already exists").
			WithCode(pkgerrors.CodeApprovalExists).
			WithDetail("approval_id", record.ApprovalID)
	}
	return err
}

// Get retrieves a record by id
func (r *ApprovalRepository) Get(ctx context.Context, approvalID string) (*approval.PendingApproval, error) {
	out, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            itemKey(approvalPK(approvalID), skApproval),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return nil, classify("GetItem", err)
	}
	if out.Item == nil {
		return nil, pkgerrors.NewNotFoundError("approval", approvalID)
	}

	var item approvalItem
	if err := attributevalue.UnmarshalMap(out.Item, &item); err != nil {
		return nil, pkgerrors.NewDatabaseError("unmarshal approval", err)
	}
	rec, err := item.toApproval()
	if err != nil {
		return nil, pkgerrors.NewDatabaseError("decode approval", err)
	}
	return rec, nil
}

// Update replaces the record while its stored Revision equals
// expectedRevision
func (r *ApprovalRepository) Update(ctx context.Context, record *approval.PendingApproval, expectedRevision int) error {
	cond := expression.Name("PK").AttributeExists().
		And(expression.Name("Revision").Equal(expression.Value(expectedRevision)))
	err := r.put(ctx, record, cond)
	if isConditionFailed(err) {
		return pkgerrors.NewConflictError("approval revision changed").
			WithDetails(map[string]interface{}{
				"approval_id":       record.ApprovalID,
				"expected_revision": expectedRevision,
			})
	}
	return err
}

// ListBySession queries GSI1 for a session's records in creation order
func (r *ApprovalRepository) ListBySession(ctx context.Context, sessionID string, status approval.Status) ([]*approval.PendingApproval, error) {
	keyCond := expression.Key("GSI1PK").Equal(expression.Value(sessionPK(sessionID))).
		And(expression.Key("GSI1SK").BeginsWith("APPROVAL#"))
	builder := expression.NewBuilder().WithKeyCondition(keyCond)
	if status != "" {
		builder = builder.WithFilter(expression.Name("Status").Equal(expression.Value(string(status))))
	}
	expr, err := builder.Build()
	if err != nil {
		return nil, pkgerrors.NewInternalError(fmt.Sprintf("failed to build expression: %v", err))
	}

	input := &dynamodb.QueryInput{
		TableName:                 aws.String(r.tableName),
		IndexName:                 aws.String(GSI1),
		KeyConditionExpression:    expr.KeyCondition(),
		FilterExpression:          expr.Filter(),
		ExpressionAttributeNames:  expr.Names(),
		ExpressionAttributeValues: expr.Values(),
		ScanIndexForward:          aws.Bool(true),
	}

	out := make([]*approval.PendingApproval, 0)
	paginator := dynamodb.NewQueryPaginator(r.client, input)
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, classify("Query", err)
		}
		var items []approvalItem
		if err := attributevalue.UnmarshalListOfMaps(page.Items, &items); err != nil {
			return nil, pkgerrors.NewDatabaseError("unmarshal approvals", err)
		}
		for _, it := range items {
			rec, err := it.toApproval()
			if err != nil {
				r.logger.Warn("skipping unreadable approval", zap.String("approval_id", it.ApprovalID), zap.Error(err))
				continue
			}
			out = append(out, rec)
		}
	}
	return out, nil
}

func (r *ApprovalRepository) put(ctx context.Context, record *approval.PendingApproval, cond expression.ConditionBuilder) error {
	item, err := toApprovalItem(record)
	if err != nil {
		return pkgerrors.NewInternalError(err.Error())
	}
	av, err := attributevalue.MarshalMap(item)
	if err != nil {
		return pkgerrors.NewInternalError(fmt.Sprintf("failed to marshal approval: %v", err))
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
		return classify("PutItem", err)
	}
	return nil
}
