package notify

import (
	"context"
	"encoding/json"
	"testing"
	"time"

	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/S-Corkum/caching-platform/internal/monitor"
	"github.com/S-Corkum/caching-platform/internal/platform"
	"github.com/S-Corkum/caching-platform/pkg/observability"
)

type fakeSQS struct {
	inputs []*sqs.SendMessageInput
	err    error
}

func (f *fakeSQS) SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error) {
	f.inputs = append(f.inputs, params)
	if f.err != nil {
		return nil, f.err
	}
	return &sqs.SendMessageOutput{}, nil
}

func sampleAlert() monitor.Alert {
	return monitor.Alert{
		ID:        "a-1",
		Title:     "Redis Unavailable",
		Message:   "ping failed",
		Severity:  monitor.SeverityCritical,
		Source:    "redis_monitor",
		Category:  "availability",
		CreatedAt: time.Date(2025, 6, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestLogNotifier(t *testing.T) {
	n := NewLogNotifier(observability.NewNoopLogger())
	assert.NoError(t, n.Notify(context.Background(), sampleAlert()))
}

func TestSQSNotifier(t *testing.T) {
	t.Run("publishes alert with attributes", func(t *testing.T) {
		fake := &fakeSQS{}
		n := NewSQSNotifierWithClient(fake, "https://sqs.example/ops-alerts", observability.NewNoopLogger())

		require.NoError(t, n.Notify(context.Background(), sampleAlert()))
		require.Len(t, fake.inputs, 1)

		input := fake.inputs[0]
		assert.Equal(t, "https://sqs.example/ops-alerts", *input.QueueUrl)
		assert.Equal(t, "critical", *input.MessageAttributes["severity"].StringValue)
		assert.Equal(t, "redis_monitor", *input.MessageAttributes["source"].StringValue)

		var decoded monitor.Alert
		require.NoError(t, json.Unmarshal([]byte(*input.MessageBody), &decoded))
		assert.Equal(t, "Redis Unavailable", decoded.Title)
	})

	t.Run("send failure surfaces as unavailable", func(t *testing.T) {
		fake := &fakeSQS{err: errors.New("throttled")}
		n := NewSQSNotifierWithClient(fake, "https://sqs.example/ops-alerts", observability.NewNoopLogger())

		err := n.Notify(context.Background(), sampleAlert())
		assert.True(t, platform.IsCode(err, platform.CodeUnavailable))
	})
}
