// Package dynamo implements checkpoint.Repository on Amazon DynamoDB.
//
// DynamoDB conditional writes provide the compare-and-set on blob_ref that
// the commit protocol needs, so several writers on different hosts can
// share one table safely.
//
// Table schema:
//   - Partition key: signal_type (string)
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name sigindex-checkpoints \
//	  --attribute-definitions AttributeName=signal_type,AttributeType=S \
//	  --key-schema AttributeName=signal_type,KeyType=HASH \
//	  --billing-mode PAY_PER_REQUEST
package dynamo

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/hupe1980/sigindex/blobstore"
	"github.com/hupe1980/sigindex/checkpoint"
)

const (
	attrSignalType  = "signal_type"
	attrSignalCount = "signal_count"
	attrItemID      = "updated_to_item_id"
	attrItemTS      = "updated_to_item_ts"
	attrModified    = "last_modified"
	attrBlobRef     = "blob_ref"
)

// DDBClient is the interface for DynamoDB operations.
type DDBClient interface {
	GetItem(ctx context.Context, params *dynamodb.GetItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.GetItemOutput, error)
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
	UpdateItem(ctx context.Context, params *dynamodb.UpdateItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.UpdateItemOutput, error)
	DeleteItem(ctx context.Context, params *dynamodb.DeleteItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.DeleteItemOutput, error)
	Scan(ctx context.Context, params *dynamodb.ScanInput, optFns ...func(*dynamodb.Options)) (*dynamodb.ScanOutput, error)
}

// Repository implements checkpoint.Repository backed by a DynamoDB table.
type Repository struct {
	client    DDBClient
	tableName string
	now       func() time.Time
}

// New creates a repository on an existing table.
func New(client DDBClient, tableName string) *Repository {
	return &Repository{
		client:    client,
		tableName: tableName,
		now:       time.Now,
	}
}

func (r *Repository) key(signalType string) map[string]types.AttributeValue {
	return map[string]types.AttributeValue{
		attrSignalType: &types.AttributeValueMemberS{Value: signalType},
	}
}

// Get reads the record with a strongly consistent read.
func (r *Repository) Get(ctx context.Context, signalType string) (checkpoint.Record, error) {
	resp, err := r.client.GetItem(ctx, &dynamodb.GetItemInput{
		TableName:      aws.String(r.tableName),
		Key:            r.key(signalType),
		ConsistentRead: aws.Bool(true),
	})
	if err != nil {
		return checkpoint.Record{}, fmt.Errorf("dynamo: get %s: %w", signalType, err)
	}
	if len(resp.Item) == 0 {
		return checkpoint.Record{}, fmt.Errorf("%s: %w", signalType, checkpoint.ErrNotFound)
	}
	return decodeItem(resp.Item)
}

// Create inserts an empty record unless one exists.
func (r *Repository) Create(ctx context.Context, signalType string) (checkpoint.Record, error) {
	item := encodeItem(checkpoint.Record{SignalType: signalType, LastModified: r.now()})

	_, err := r.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName:           aws.String(r.tableName),
		Item:                item,
		ConditionExpression: aws.String("attribute_not_exists(" + attrSignalType + ")"),
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return r.Get(ctx, signalType)
		}
		return checkpoint.Record{}, fmt.Errorf("dynamo: create %s: %w", signalType, err)
	}
	return decodeItem(item)
}

// Commit updates the record with a conditional write on blob_ref.
func (r *Repository) Commit(ctx context.Context, signalType string, prev blobstore.Handle, cp checkpoint.Checkpoint, next blobstore.Handle) (checkpoint.Record, error) {
	values := map[string]types.AttributeValue{
		":sc":   numberAttr(cp.TotalHashCount),
		":id":   numberAttr(cp.LastItemID),
		":ts":   numberAttr(cp.LastItemTimestamp),
		":lm":   numberAttr(r.now().UnixNano()),
		":next": &types.AttributeValueMemberS{Value: string(next)},
	}

	condition := "attribute_not_exists(" + attrBlobRef + ")"
	if !prev.IsZero() {
		condition = attrBlobRef + " = :prev"
		values[":prev"] = &types.AttributeValueMemberS{Value: string(prev)}
	}

	resp, err := r.client.UpdateItem(ctx, &dynamodb.UpdateItemInput{
		TableName: aws.String(r.tableName),
		Key:       r.key(signalType),
		UpdateExpression: aws.String(fmt.Sprintf("SET %s = :sc, %s = :id, %s = :ts, %s = :lm, %s = :next",
			attrSignalCount, attrItemID, attrItemTS, attrModified, attrBlobRef)),
		ConditionExpression:       aws.String(condition),
		ExpressionAttributeValues: values,
		ReturnValues:              types.ReturnValueAllNew,
	})
	if err != nil {
		var condErr *types.ConditionalCheckFailedException
		if errors.As(err, &condErr) {
			return checkpoint.Record{}, fmt.Errorf("%s: %w", signalType, checkpoint.ErrConflict)
		}
		return checkpoint.Record{}, fmt.Errorf("dynamo: commit %s: %w", signalType, err)
	}
	return decodeItem(resp.Attributes)
}

// Delete removes the record and returns its previous attributes.
func (r *Repository) Delete(ctx context.Context, signalType string) (checkpoint.Record, error) {
	resp, err := r.client.DeleteItem(ctx, &dynamodb.DeleteItemInput{
		TableName:    aws.String(r.tableName),
		Key:          r.key(signalType),
		ReturnValues: types.ReturnValueAllOld,
	})
	if err != nil {
		return checkpoint.Record{}, fmt.Errorf("dynamo: delete %s: %w", signalType, err)
	}
	if len(resp.Attributes) == 0 {
		return checkpoint.Record{}, fmt.Errorf("%s: %w", signalType, checkpoint.ErrNotFound)
	}
	return decodeItem(resp.Attributes)
}

// List scans the whole table.
func (r *Repository) List(ctx context.Context) ([]checkpoint.Record, error) {
	var out []checkpoint.Record

	paginator := dynamodb.NewScanPaginator(r.client, &dynamodb.ScanInput{
		TableName:      aws.String(r.tableName),
		ConsistentRead: aws.Bool(true),
	})
	for paginator.HasMorePages() {
		page, err := paginator.NextPage(ctx)
		if err != nil {
			return nil, fmt.Errorf("dynamo: list: %w", err)
		}
		for _, item := range page.Items {
			rec, err := decodeItem(item)
			if err != nil {
				return nil, err
			}
			out = append(out, rec)
		}
	}

	sort.Slice(out, func(i, j int) bool { return out[i].SignalType < out[j].SignalType })
	return out, nil
}

func numberAttr(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func encodeItem(rec checkpoint.Record) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		attrSignalType:  &types.AttributeValueMemberS{Value: rec.SignalType},
		attrSignalCount: numberAttr(rec.SignalCount),
		attrItemID:      numberAttr(rec.UpdatedToItemID),
		attrItemTS:      numberAttr(rec.UpdatedToItemTS),
		attrModified:    numberAttr(rec.LastModified.UnixNano()),
	}
	if rec.HasBlob() {
		item[attrBlobRef] = &types.AttributeValueMemberS{Value: string(rec.BlobRef)}
	}
	return item
}

func decodeItem(item map[string]types.AttributeValue) (checkpoint.Record, error) {
	st, ok := item[attrSignalType].(*types.AttributeValueMemberS)
	if !ok {
		return checkpoint.Record{}, errors.New("dynamo: invalid signal_type attribute")
	}

	rec := checkpoint.Record{SignalType: st.Value}

	for name, dst := range map[string]*int64{
		attrSignalCount: &rec.SignalCount,
		attrItemID:      &rec.UpdatedToItemID,
		attrItemTS:      &rec.UpdatedToItemTS,
	} {
		if err := readNumber(item, name, dst); err != nil {
			return checkpoint.Record{}, err
		}
	}

	var nanos int64
	if err := readNumber(item, attrModified, &nanos); err != nil {
		return checkpoint.Record{}, err
	}
	rec.LastModified = time.Unix(0, nanos).UTC()

	if ref, ok := item[attrBlobRef].(*types.AttributeValueMemberS); ok {
		rec.BlobRef = blobstore.Handle(ref.Value)
	}
	return rec, nil
}

func readNumber(item map[string]types.AttributeValue, name string, dst *int64) error {
	av, ok := item[name]
	if !ok {
		return nil
	}
	n, ok := av.(*types.AttributeValueMemberN)
	if !ok {
		return fmt.Errorf("dynamo: invalid %s attribute", name)
	}
	v, err := strconv.ParseInt(n.Value, 10, 64)
	if err != nil {
		return fmt.Errorf("dynamo: parse %s: %w", name, err)
	}
	*dst = v
	return nil
}
