package alert

import (
	"context"
	"fmt"
	"time"

	awsConfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/credentials"
	"github.com/aws/aws-sdk-go-v2/service/sns"
	"github.com/aws/aws-sdk-go-v2/service/sns/types"

	"token-warden/internal/common/logging"
	"token-warden/internal/config"
	"token-warden/internal/notify"
)

var attributeTypeString = "String"

// SNSPublisher is the slice of the SNS client the SMS channel needs.
type SNSPublisher interface {
	Publish(ctx context.Context, params *sns.PublishInput, optFns ...func(*sns.Options)) (*sns.PublishOutput, error)
}

// SMSChannel sends expiry alerts directly to an E.164 phone number via
// Amazon SNS.
type SMSChannel struct {
	client SNSPublisher
	phone  string
	logger logging.Logger
}

func NewSMSChannel(cfg *config.Config, logger logging.Logger) (*SMSChannel, error) {
	loadOpts := []func(*awsConfig.LoadOptions) error{
		awsConfig.WithRegion(cfg.AWSRegion),
	}
	if cfg.AWSAccessKey != "" && cfg.AWSSecretKey != "" {
		loadOpts = append(loadOpts, awsConfig.WithCredentialsProvider(
			credentials.NewStaticCredentialsProvider(cfg.AWSAccessKey, cfg.AWSSecretKey, "")))
	}

	awsCfg, err := awsConfig.LoadDefaultConfig(context.Background(), loadOpts...)
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SMSChannel{
		client: sns.NewFromConfig(awsCfg),
		phone:  cfg.AlertPhone,
		logger: logger.WithFields(logging.Field{Key: "channel", Value: "sms"}),
	}, nil
}

// NewSMSChannelWithClient wires an existing publisher, used by tests.
func NewSMSChannelWithClient(client SNSPublisher, phone string, logger logging.Logger) *SMSChannel {
	return &SMSChannel{
		client: client,
		phone:  phone,
		logger: logger.WithFields(logging.Field{Key: "channel", Value: "sms"}),
	}
}

func (s *SMSChannel) Send(ctx context.Context, a notify.Alert) error {
	if s.phone == "" {
		return fmt.Errorf("sms channel is not configured")
	}

	message := smsTextFor(a)
	smsType := "Transactional"
	_, err := s.client.Publish(ctx, &sns.PublishInput{
		Message:     &message,
		PhoneNumber: &s.phone,
		MessageAttributes: map[string]types.MessageAttributeValue{
			"AWS.SNS.SMS.SMSType": {
				DataType:    &attributeTypeString,
				StringValue: &smsType,
			},
		},
	})
	if err != nil {
		return fmt.Errorf("failed to publish SMS: %w", err)
	}
	return nil
}

// smsTextFor only handles the urgent variants; the dispatcher never routes
// routine alerts to SMS.
func smsTextFor(a notify.Alert) string {
	if a.TokenMissing {
		return "URGENT: the service has no valid API credential. Authorize again now."
	}
	msg := fmt.Sprintf("URGENT: API credential expires in %d day(s).", a.DaysRemaining)
	if !a.ExpiresAt.IsZero() {
		msg += " Deadline: " + a.ExpiresAt.Format(time.RFC822)
	}
	return msg + " Renew it now."
}
