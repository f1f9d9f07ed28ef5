package sns

import (
	"context"
	"encoding/json"
	"errors"
	"strings"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"
	"github.com/ethereum/go-ethereum/common"

	"github.com/archon-research/stl-liquidator/internal/testutil"
)

// mockSNSClient implements SNSPublisher for testing.
type mockSNSClient struct {
	publishFunc func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
	calls       []*sns.PublishInput
}

func (m *mockSNSClient) Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
	m.calls = append(m.calls, params)
	if m.publishFunc != nil {
		return m.publishFunc(ctx, params, optFns...)
	}
	return &sns.PublishOutput{MessageId: aws.String("test-message-id")}, nil
}

const (
	testTopicARN = "arn:aws:sns:us-east-1:123456789:liquidations"
	testFIFOARN  = "arn:aws:sns:us-east-1:123456789:liquidations.fifo"
)

var (
	testAccount  = common.HexToAddress("0x4000000000000000000000000000000000000001")
	testRegistry = common.HexToAddress("0x1000000000000000000000000000000000000001")
	testMarket   = common.HexToAddress("0x3000000000000000000000000000000000000001")
)

func fastConfig(arn string) Config {
	return Config{
		TopicARN:       arn,
		MaxRetries:     3,
		InitialBackoff: time.Millisecond,
		MaxBackoff:     5 * time.Millisecond,
		BackoffFactor:  2,
	}
}

func TestNewAccountSink_Validation(t *testing.T) {
	if _, err := NewAccountSink(nil, Config{TopicARN: testTopicARN}); err == nil || err.Error() != "sns client is required" {
		t.Errorf("unexpected error: %v", err)
	}
	if _, err := NewAccountSink(&mockSNSClient{}, Config{}); err == nil || err.Error() != "topic ARN is required" {
		t.Errorf("unexpected error: %v", err)
	}
}

func TestNewAccountSink_AppliesDefaults(t *testing.T) {
	sink, err := NewAccountSink(&mockSNSClient{}, Config{TopicARN: testTopicARN})
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if sink.config.MaxRetries != 3 {
		t.Errorf("expected MaxRetries=3, got %d", sink.config.MaxRetries)
	}
	if sink.config.InitialBackoff != 100*time.Millisecond {
		t.Errorf("expected InitialBackoff=100ms, got %v", sink.config.InitialBackoff)
	}
	if sink.config.MaxBackoff != 5*time.Second {
		t.Errorf("expected MaxBackoff=5s, got %v", sink.config.MaxBackoff)
	}
	if sink.fifo {
		t.Error("standard topic detected as FIFO")
	}
}

func TestPublish_Success(t *testing.T) {
	client := &mockSNSClient{}
	sink, err := NewAccountSink(client, fastConfig(testTopicARN))
	if err != nil {
		t.Fatal(err)
	}

	account := testutil.ValidatedAccount(testAccount, testRegistry, testMarket, 9)
	if err := sink.Publish(context.Background(), account); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if len(client.calls) != 1 {
		t.Fatalf("expected 1 call, got %d", len(client.calls))
	}

	call := client.calls[0]
	if *call.TopicArn != testTopicARN {
		t.Errorf("topic = %s", *call.TopicArn)
	}
	if call.MessageGroupId != nil || call.MessageDeduplicationId != nil {
		t.Error("standard topics must not carry FIFO fields")
	}

	var raw map[string]json.RawMessage
	if err := json.Unmarshal([]byte(*call.Message), &raw); err != nil {
		t.Fatalf("message is not JSON: %v", err)
	}
	if string(raw["address"]) != `"`+account.Address+`"` {
		t.Errorf("address = %s", raw["address"])
	}
	if string(raw["shortfallUsd18"]) != account.ShortfallUSD18.String() {
		t.Errorf("shortfall = %s, want %s", raw["shortfallUsd18"], account.ShortfallUSD18)
	}

	attrs := call.MessageAttributes
	if *attrs["account"].StringValue != account.Address {
		t.Errorf("account attribute = %s", *attrs["account"].StringValue)
	}
	if *attrs["primaryMarket"].StringValue != strings.ToLower(testMarket.Hex()) {
		t.Errorf("primaryMarket attribute = %s", *attrs["primaryMarket"].StringValue)
	}
	if *attrs["cycle"].StringValue != "9" || *attrs["cycle"].DataType != "Number" {
		t.Errorf("cycle attribute = %+v", attrs["cycle"])
	}
}

func TestPublish_FIFO(t *testing.T) {
	client := &mockSNSClient{}
	sink, err := NewAccountSink(client, fastConfig(testFIFOARN))
	if err != nil {
		t.Fatal(err)
	}

	account := testutil.ValidatedAccount(testAccount, testRegistry, testMarket, 3)
	if err := sink.Publish(context.Background(), account); err != nil {
		t.Fatal(err)
	}

	call := client.calls[0]
	if call.MessageGroupId == nil || *call.MessageGroupId != strings.ToLower(testRegistry.Hex()) {
		t.Errorf("group id = %v", call.MessageGroupId)
	}
	wantDedup := account.Key().String() + ":3"
	if call.MessageDeduplicationId == nil || *call.MessageDeduplicationId != wantDedup {
		t.Errorf("dedup id = %v, want %s", call.MessageDeduplicationId, wantDedup)
	}
}

func TestPublish_RetryOnThrottling(t *testing.T) {
	callCount := 0
	client := &mockSNSClient{
		publishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			callCount++
			if callCount < 3 {
				return nil, &types.ThrottledException{Message: aws.String("throttled")}
			}
			return &sns.PublishOutput{MessageId: aws.String("success")}, nil
		},
	}
	sink, err := NewAccountSink(client, fastConfig(testTopicARN))
	if err != nil {
		t.Fatal(err)
	}

	if err := sink.Publish(context.Background(), testutil.ValidatedAccount(testAccount, testRegistry, testMarket, 1)); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if callCount != 3 {
		t.Errorf("expected 3 calls, got %d", callCount)
	}
}

func TestPublish_NonRetryableError(t *testing.T) {
	client := &mockSNSClient{
		publishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			return nil, &types.NotFoundException{Message: aws.String("topic does not exist")}
		},
	}
	sink, err := NewAccountSink(client, fastConfig(testTopicARN))
	if err != nil {
		t.Fatal(err)
	}

	err = sink.Publish(context.Background(), testutil.ValidatedAccount(testAccount, testRegistry, testMarket, 1))
	var notFound *types.NotFoundException
	if !errors.As(err, &notFound) {
		t.Fatalf("expected NotFoundException, got %v", err)
	}
	if len(client.calls) != 1 {
		t.Errorf("expected no retries, got %d calls", len(client.calls))
	}
}

func TestPublish_ExhaustsRetries(t *testing.T) {
	client := &mockSNSClient{
		publishFunc: func(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error) {
			return nil, &types.InternalErrorException{Message: aws.String("internal")}
		},
	}
	sink, err := NewAccountSink(client, fastConfig(testTopicARN))
	if err != nil {
		t.Fatal(err)
	}

	if err := sink.Publish(context.Background(), testutil.ValidatedAccount(testAccount, testRegistry, testMarket, 1)); err == nil {
		t.Fatal("expected error after retries")
	}
	if len(client.calls) != 4 {
		t.Errorf("expected 4 calls (1 + 3 retries), got %d", len(client.calls))
	}
}

func TestPublish_AfterClose(t *testing.T) {
	client := &mockSNSClient{}
	sink, err := NewAccountSink(client, fastConfig(testTopicARN))
	if err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatal(err)
	}
	if err := sink.Close(); err != nil {
		t.Fatalf("second Close: %v", err)
	}

	err = sink.Publish(context.Background(), testutil.ValidatedAccount(testAccount, testRegistry, testMarket, 1))
	if !errors.Is(err, ErrClosed) {
		t.Errorf("expected ErrClosed, got %v", err)
	}
	if len(client.calls) != 0 {
		t.Error("closed sink must not publish")
	}
}

func TestIsRetryableError(t *testing.T) {
	tests := []struct {
		name string
		err  error
		want bool
	}{
		{"nil", nil, false},
		{"canceled", context.Canceled, false},
		{"deadline", context.DeadlineExceeded, false},
		{"throttled", &types.ThrottledException{}, true},
		{"internal", &types.InternalErrorException{}, true},
		{"kms throttled", &types.KMSThrottlingException{}, true},
		{"not found", &types.NotFoundException{}, false},
		{"invalid parameter", &types.InvalidParameterException{}, false},
		{"auth", &types.AuthorizationErrorException{}, false},
		{"network", errors.New("connection reset"), true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := isRetryableError(tt.err); got != tt.want {
				t.Errorf("isRetryableError(%v) = %v, want %v", tt.err, got, tt.want)
			}
		})
	}
}
