// internal/engine/notifier.go
package engine

import (
	"context"
	"fmt"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	sestypes "github.com/aws/aws-sdk-go-v2/service/ses/types"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	snstypes "github.com/aws/aws-sdk-go-v2/service/sns/types"

	commonaws "jobmarket-client/internal/common/aws"
	"jobmarket-client/internal/common/config"
	"jobmarket-client/internal/common/logger"
)

// Interfaces for mocking the AWS clients in tests.
type SESService interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

type SNSService interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// Result is the outcome of one best-effort delivery attempt. Failure holds
// the user-facing failure sentence, empty when delivered or skipped.
type Result struct {
	Delivered bool
	Failure   string
}

// TransitionNotifier delivers the side-effect notifications of a status
// transition. Implementations never return errors; delivery is best effort
// and the outcome is folded into the combined status message.
type TransitionNotifier interface {
	Email(ctx context.Context, to, subject, body string) Result
	SMS(ctx context.Context, to, message string) Result
}

const (
	emailFailureText = "Failed to send notification email."
	smsFailureText   = "Failed to send SMS notification."
)

// Notifier sends transition notifications over SES email and SNS SMS.
type Notifier struct {
	config    config.NotificationConfig
	logger    logger.Logger
	sesClient SESService
	snsClient SNSService
}

func NewNotifier(ctx context.Context, cfg config.NotificationConfig, log logger.Logger) (*Notifier, error) {
	sesClient, err := commonaws.NewSESClient(ctx, cfg.AWS.Region)
	if err != nil {
		return nil, fmt.Errorf("create ses client: %w", err)
	}
	snsClient, err := commonaws.NewSNSClient(ctx, cfg.AWS.Region)
	if err != nil {
		return nil, fmt.Errorf("create sns client: %w", err)
	}
	return &Notifier{
		config:    cfg,
		logger:    log.WithFields(map[string]interface{}{"component": "notifier"}),
		sesClient: sesClient,
		snsClient: snsClient,
	}, nil
}

func (n *Notifier) Email(ctx context.Context, to, subject, body string) Result {
	if !n.config.Email.Enabled || to == "" {
		return Result{}
	}

	_, err := n.sesClient.SendEmail(ctx, &ses.SendEmailInput{
		Destination: &sestypes.Destination{
			ToAddresses: []string{to},
		},
		Message: &sestypes.Message{
			Subject: &sestypes.Content{Data: aws.String(subject)},
			Body: &sestypes.Body{
				Text: &sestypes.Content{Data: aws.String(body)},
				Html: &sestypes.Content{Data: aws.String(body)},
			},
		},
		Source: aws.String(n.config.Email.FromEmail),
	})
	if err != nil {
		n.logger.Error("email notification failed", map[string]interface{}{
			"to":    to,
			"error": err.Error(),
		})
		return Result{Failure: emailFailureText}
	}
	return Result{Delivered: true}
}

func (n *Notifier) SMS(ctx context.Context, to, message string) Result {
	if !n.config.SMS.Enabled || to == "" {
		return Result{}
	}

	input := &sns.PublishInput{
		PhoneNumber: aws.String(to),
		Message:     aws.String(message),
	}
	if n.config.SMS.SenderID != "" {
		input.MessageAttributes = map[string]snstypes.MessageAttributeValue{
			"AWS.SNS.SMS.SenderID": {
				DataType:    aws.String("String"),
				StringValue: aws.String(n.config.SMS.SenderID),
			},
		}
	}

	if _, err := n.snsClient.Publish(ctx, input); err != nil {
		n.logger.Error("sms notification failed", map[string]interface{}{
			"to":    to,
			"error": err.Error(),
		})
		return Result{Failure: smsFailureText}
	}
	return Result{Delivered: true}
}
