package report

import (
	"context"
	"fmt"
	"strconv"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"

	"github.com/hupe1980/colbench/bench"
)

// SummaryKey is the sort key of the per-run summary item.
const SummaryKey = "summary"

// DDBClient is the subset of the DynamoDB API used by DynamoDBSink.
type DDBClient interface {
	PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error)
}

// DynamoDBSink stores one item per pipeline plus a summary item.
//
// Table schema:
//   - Partition key: run_id (string)
//   - Sort key: pipeline (string) - "<iteration>#<thread>" or "summary"
//
// Create table with:
//
//	aws dynamodb create-table \
//	  --table-name colbench-runs \
//	  --attribute-definitions AttributeName=run_id,AttributeType=S AttributeName=pipeline,AttributeType=S \
//	  --key-schema AttributeName=run_id,KeyType=HASH AttributeName=pipeline,KeyType=RANGE \
//	  --billing-mode PAY_PER_REQUEST
type DynamoDBSink struct {
	client DDBClient
	table  string
}

// NewDynamoDBSink creates a sink over an existing client.
func NewDynamoDBSink(client DDBClient, table string) *DynamoDBSink {
	return &DynamoDBSink{client: client, table: table}
}

// DialDynamoDB creates a sink with a client from the default AWS credential
// chain.
func DialDynamoDB(ctx context.Context, table string) (*DynamoDBSink, error) {
	cfg, err := config.LoadDefaultConfig(ctx)
	if err != nil {
		return nil, fmt.Errorf("load aws config: %w", err)
	}
	return NewDynamoDBSink(dynamodb.NewFromConfig(cfg), table), nil
}

// Name implements Sink.
func (*DynamoDBSink) Name() string { return "dynamodb" }

// Write implements Sink.
func (s *DynamoDBSink) Write(ctx context.Context, r *bench.Report) error {
	for _, res := range r.Results {
		if err := s.put(ctx, resultItem(r.RunID, res)); err != nil {
			return fmt.Errorf("put pipeline %s: %w", pipelineKey(res), err)
		}
	}
	if err := s.put(ctx, summaryItem(r)); err != nil {
		return fmt.Errorf("put summary: %w", err)
	}
	return nil
}

func (s *DynamoDBSink) put(ctx context.Context, item map[string]types.AttributeValue) error {
	_, err := s.client.PutItem(ctx, &dynamodb.PutItemInput{
		TableName: aws.String(s.table),
		Item:      item,
	})
	return err
}

func str(v string) types.AttributeValue {
	return &types.AttributeValueMemberS{Value: v}
}

func num(v int64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatInt(v, 10)}
}

func float(v float64) types.AttributeValue {
	return &types.AttributeValueMemberN{Value: strconv.FormatFloat(v, 'f', 2, 64)}
}

func resultItem(runID string, res bench.Result) map[string]types.AttributeValue {
	item := map[string]types.AttributeValue{
		"run_id":             str(runID),
		"pipeline":           str(pipelineKey(res)),
		"iteration":          num(int64(res.Iteration)),
		"thread":             num(int64(res.Thread)),
		"rows":               num(res.Rows),
		"batches":            num(res.Batches),
		"bytes":              num(res.Bytes),
		"elapsed_ns":         num(res.Elapsed.Nanoseconds()),
		"rows_per_sec":       float(res.RowsPerSec),
		"peak_bytes":         num(res.PeakBytes),
		"crossings":          num(res.Crossings),
		"failed_mitigations": num(res.FailedMitigations),
		"spills":             num(res.Spills),
		"spilled_bytes":      num(res.SpilledBytes),
	}
	if res.Err != "" {
		item["error"] = str(res.Err)
	}
	return item
}

func summaryItem(r *bench.Report) map[string]types.AttributeValue {
	t := r.Totals()
	item := map[string]types.AttributeValue{
		"run_id":       str(r.RunID),
		"pipeline":     str(SummaryKey),
		"backend":      str(r.Backend),
		"started":      str(r.Started.UTC().Format(time.RFC3339Nano)),
		"elapsed_ns":   num(r.Elapsed.Nanoseconds()),
		"memory_limit": num(r.MemoryLimit),
		"threads":      num(int64(r.Threads)),
		"iterations":   num(int64(r.Iterations)),
		"pipelines":    num(int64(t.Pipelines)),
		"failed":       num(int64(t.Failed)),
		"rows":         num(t.Rows),
		"rows_per_sec": float(t.RowsPerSec),
		"peak_bytes":   num(t.PeakBytes),
		"spills":       num(t.Spills),
	}
	if r.Shuffle {
		item["codec"] = str(r.Codec)
	}
	if r.Err != "" {
		item["error"] = str(r.Err)
	}
	return item
}
