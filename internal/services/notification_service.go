package services

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/aws/aws-sdk-go-v2/aws"
	"github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"
)

// SESClient is the subset of the SES API used for admin alerts
type SESClient interface {
	SendEmail(ctx context.Context, params *ses.SendEmailInput, optFns ...func(*ses.Options)) (*ses.SendEmailOutput, error)
}

// SESNotifier emails security alerts to administrators using AWS SES
type SESNotifier struct {
	client      SESClient
	fromAddress string
	recipients  []string
	logger      *slog.Logger
}

// NewSESNotifier loads the default AWS credential chain for region.
func NewSESNotifier(ctx context.Context, region, fromAddress string, recipients []string, logger *slog.Logger) (*SESNotifier, error) {
	cfg, err := config.LoadDefaultConfig(ctx, config.WithRegion(region))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}
	return NewSESNotifierWithClient(ses.NewFromConfig(cfg), fromAddress, recipients, logger), nil
}

// NewSESNotifierWithClient creates a notifier around an existing SES client
func NewSESNotifierWithClient(client SESClient, fromAddress string, recipients []string, logger *slog.Logger) *SESNotifier {
	return &SESNotifier{
		client:      client,
		fromAddress: fromAddress,
		recipients:  recipients,
		logger:      logger,
	}
}

// NotifyAdmins sends one plain-text email to every configured recipient
func (n *SESNotifier) NotifyAdmins(ctx context.Context, subject, body string) error {
	if len(n.recipients) == 0 {
		return nil
	}

	input := &ses.SendEmailInput{
		Source: aws.String(n.fromAddress),
		Destination: &types.Destination{
			ToAddresses: n.recipients,
		},
		Message: &types.Message{
			Subject: &types.Content{
				Data: aws.String("[SlideGenie Security] " + subject),
			},
			Body: &types.Body{
				Text: &types.Content{
					Data: aws.String(body + "\n\nThis is an automated security alert."),
				},
			},
		},
	}

	result, err := n.client.SendEmail(ctx, input)
	if err != nil {
		n.logger.Error("failed to send admin alert via SES",
			slog.String("subject", subject),
			slog.Any("error", err))
		return fmt.Errorf("failed to send admin alert: %w", err)
	}

	n.logger.Info("admin alert sent",
		slog.String("subject", subject),
		slog.Int("recipients", len(n.recipients)),
		slog.String("message_id", aws.ToString(result.MessageId)))

	return nil
}

// LogNotifier writes alerts to the process log. It is used when SES is not
// configured.
type LogNotifier struct {
	logger *slog.Logger
}

// NewLogNotifier creates a new LogNotifier
func NewLogNotifier(logger *slog.Logger) *LogNotifier {
	return &LogNotifier{logger: logger}
}

func (n *LogNotifier) NotifyAdmins(ctx context.Context, subject, body string) error {
	n.logger.WarnContext(ctx, "security alert",
		slog.String("subject", subject),
		slog.String("body", body))
	return nil
}
