package report

import (
	"context"
	"errors"
	"testing"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb"
	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/mock"
	"github.com/stretchr/testify/require"
)

type mockDDBClient struct {
	mock.Mock
}

func (m *mockDDBClient) PutItem(ctx context.Context, params *dynamodb.PutItemInput, optFns ...func(*dynamodb.Options)) (*dynamodb.PutItemOutput, error) {
	args := m.Called(ctx, params)
	out, _ := args.Get(0).(*dynamodb.PutItemOutput)
	return out, args.Error(1)
}

func sortKey(in *dynamodb.PutItemInput) string {
	return in.Item["pipeline"].(*types.AttributeValueMemberS).Value
}

func TestDynamoDBSink(t *testing.T) {
	client := &mockDDBClient{}
	var keys []string
	client.On("PutItem", mock.Anything, mock.MatchedBy(func(in *dynamodb.PutItemInput) bool {
		return *in.TableName == "colbench-runs"
	})).Run(func(args mock.Arguments) {
		keys = append(keys, sortKey(args.Get(1).(*dynamodb.PutItemInput)))
	}).Return(&dynamodb.PutItemOutput{}, nil)

	s := NewDynamoDBSink(client, "colbench-runs")
	require.NoError(t, s.Write(context.Background(), sampleReport()))

	client.AssertNumberOfCalls(t, "PutItem", 3)
	assert.Equal(t, []string{"0000#0001", "0000#0000", SummaryKey}, keys)
}

func TestDynamoDBSink_Items(t *testing.T) {
	r := sampleReport()

	item := resultItem(r.RunID, r.Results[1])
	assert.Equal(t, "run-1", item["run_id"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "2500", item["rows"].(*types.AttributeValueMemberN).Value)
	assert.Equal(t, "2500.00", item["rows_per_sec"].(*types.AttributeValueMemberN).Value)
	assert.NotContains(t, item, "error")

	sum := summaryItem(r)
	assert.Equal(t, "4000", sum["rows"].(*types.AttributeValueMemberN).Value)
	assert.Equal(t, "lz4", sum["codec"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "2026-01-02T03:04:05Z", sum["started"].(*types.AttributeValueMemberS).Value)
	assert.Equal(t, "67108864", sum["memory_limit"].(*types.AttributeValueMemberN).Value)
}

func TestDynamoDBSink_Error(t *testing.T) {
	client := &mockDDBClient{}
	throttled := errors.New("throttled")
	client.On("PutItem", mock.Anything, mock.Anything).Return(nil, throttled).Once()

	err := NewDynamoDBSink(client, "t").Write(context.Background(), sampleReport())
	require.ErrorIs(t, err, throttled)
	assert.Contains(t, err.Error(), "put pipeline 0000#0001")
	client.AssertExpectations(t)
}
