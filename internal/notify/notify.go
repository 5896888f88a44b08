// Package notify delivers escalated alerts to operators. The log notifier
// is the default; the SQS notifier publishes to an operations queue when
// one is configured.
package notify

import (
	"context"
	"encoding/json"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/sqs"
	"github.com/aws/aws-sdk-go-v2/service/sqs/types"

	"github.com/S-Corkum/caching-platform/internal/monitor"
	"github.com/S-Corkum/caching-platform/internal/platform"
	"github.com/S-Corkum/caching-platform/pkg/observability"
)

// LogNotifier writes escalations to the log. Used when no queue is
// configured, and as the fallback delivery path.
type LogNotifier struct {
	logger observability.Logger
}

// NewLogNotifier creates a LogNotifier
func NewLogNotifier(logger observability.Logger) *LogNotifier {
	return &LogNotifier{logger: logger.WithPrefix("escalation")}
}

// Notify implements monitor.Notifier
func (n *LogNotifier) Notify(ctx context.Context, alert monitor.Alert) error {
	n.logger.Error("escalating alert", map[string]interface{}{
		"alert":    alert.ID,
		"title":    alert.Title,
		"message":  alert.Message,
		"severity": string(alert.Severity),
		"source":   alert.Source,
	})
	return nil
}

// sqsAPI is the slice of the SQS client the notifier uses
type sqsAPI interface {
	SendMessage(ctx context.Context, params *sqs.SendMessageInput, optFns ...func(*sqs.Options)) (*sqs.SendMessageOutput, error)
}

// SQSNotifier publishes escalated alerts to an SQS queue
type SQSNotifier struct {
	client   sqsAPI
	queueURL string
	logger   observability.Logger
}

// NewSQSNotifier resolves AWS configuration from the environment and
// targets the given queue URL.
func NewSQSNotifier(ctx context.Context, queueURL, region string, logger observability.Logger) (*SQSNotifier, error) {
	opts := []func(*awsconfig.LoadOptions) error{}
	if region != "" {
		opts = append(opts, awsconfig.WithRegion(region))
	}
	cfg, err := awsconfig.LoadDefaultConfig(ctx, opts...)
	if err != nil {
		return nil, platform.Wrap(err, platform.CodeUnavailable, "failed to load AWS configuration")
	}
	return NewSQSNotifierWithClient(sqs.NewFromConfig(cfg), queueURL, logger), nil
}

// NewSQSNotifierWithClient wraps an existing client. Tests use this with
// a fake.
func NewSQSNotifierWithClient(client sqsAPI, queueURL string, logger observability.Logger) *SQSNotifier {
	return &SQSNotifier{
		client:   client,
		queueURL: queueURL,
		logger:   logger.WithPrefix("escalation"),
	}
}

// Notify implements monitor.Notifier. The alert rides as a JSON body with
// severity and source attributes so consumers can filter without parsing.
func (n *SQSNotifier) Notify(ctx context.Context, alert monitor.Alert) error {
	body, err := json.Marshal(alert)
	if err != nil {
		return platform.Wrap(err, platform.CodeInternal, "failed to encode alert")
	}

	_, err = n.client.SendMessage(ctx, &sqs.SendMessageInput{
		QueueUrl:    aws.String(n.queueURL),
		MessageBody: aws.String(string(body)),
		MessageAttributes: map[string]types.MessageAttributeValue{
			"severity": {
				DataType:    aws.String("String"),
				StringValue: aws.String(string(alert.Severity)),
			},
			"source": {
				DataType:    aws.String("String"),
				StringValue: aws.String(alert.Source),
			},
		},
	})
	if err != nil {
		return platform.Wrap(err, platform.CodeUnavailable, "failed to publish alert to SQS")
	}

	n.logger.Info("alert published", map[string]interface{}{
		"alert": alert.ID,
		"queue": n.queueURL,
	})
	return nil
}
