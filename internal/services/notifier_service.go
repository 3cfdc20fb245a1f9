package services

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/aws/aws-sdk-go-v2/aws"
	awsconfig "github.com/aws/aws-sdk-go-v2/config"
	"github.com/aws/aws-sdk-go-v2/service/ses"
	"github.com/aws/aws-sdk-go-v2/service/ses/types"

	"github.com/darienwest/gatehouse/internal/config"
	"github.com/darienwest/gatehouse/internal/models"
	pkglogger "github.com/darienwest/gatehouse/pkg/logger"
)

// alertDedupeWindow suppresses repeat alerts for the same account while an
// attack is still in progress
const alertDedupeWindow = 30 * time.Minute

// EventCounter is the slice of the event store the notifier uses for
// dedupe
type EventCounter interface {
	CountRecent(ctx context.Context, eventType, identifier string, since time.Time) (int, error)
}

// SESNotifier sends security alert emails using AWS SES. Sends run in
// their own goroutine with a detached context so a slow SES call never
// holds up a login response.
type SESNotifier struct {
	sesClient   *ses.Client
	fromAddress string
	alertsTo    string
	events      EventCounter
	logger      *slog.Logger
	now         func() time.Time
}

// NewSESNotifier creates a new SES-backed notifier
func NewSESNotifier(cfg config.NotifierConfig, events EventCounter, logger *slog.Logger) (*SESNotifier, error) {
	awsCfg, err := awsconfig.LoadDefaultConfig(context.Background(), awsconfig.WithRegion(cfg.AWSRegion))
	if err != nil {
		return nil, fmt.Errorf("failed to load AWS config: %w", err)
	}

	return &SESNotifier{
		sesClient:   ses.NewFromConfig(awsCfg),
		fromAddress: cfg.FromAddress,
		alertsTo:    cfg.AlertsTo,
		events:      events,
		logger:      logger,
		now:         time.Now,
	}, nil
}

// NotifyLockout alerts the account holder that their account was locked
// after repeated failures
func (n *SESNotifier) NotifyLockout(ctx context.Context, user *models.User, status models.LockoutStatus) {
	if n.suppressed(ctx, models.EventLockout, user.Email) {
		return
	}

	remaining := status.RemainingTime.Round(time.Minute)
	if remaining < time.Minute {
		remaining = time.Minute
	}

	subject := "Your account has been temporarily locked"
	body := fmt.Sprintf(`Hello %s,

We detected several unsuccessful sign-in attempts on your account, so sign-in has been paused for about %s.

If this was you, you can try again once the pause ends, or reset your password now.

If this was not you, no one has accessed your account. We recommend resetting your password as a precaution.

This is an automated message. Please do not reply to this email.
`, user.Name, remaining)

	n.send(user.Email, subject, body)
}

// NotifySuspiciousActivity alerts on a flagged sign-in pattern that has
// not yet crossed the lockout line
func (n *SESNotifier) NotifySuspiciousActivity(ctx context.Context, user *models.User, report models.SuspicionReport) {
	if n.suppressed(ctx, models.EventSuspicious, user.Email) {
		return
	}

	subject := "Unusual sign-in activity on your account"
	body := fmt.Sprintf(`Hello %s,

We noticed sign-in activity on your account that looks unusual (%s).

If this was you, no action is needed. If it was not, we recommend resetting your password.

This is an automated message. Please do not reply to this email.
`, user.Name, strings.Join(report.Reasons, ", "))

	n.send(user.Email, subject, body)
}

// suppressed reports whether an alert of this type already fired for the
// identifier inside the dedupe window. Counter errors never block the
// alert; a duplicate email beats a missed one.
func (n *SESNotifier) suppressed(ctx context.Context, eventType, identifier string) bool {
	if n.events == nil {
		return false
	}

	count, err := n.events.CountRecent(ctx, eventType, identifier, n.now().Add(-alertDedupeWindow))
	if err != nil {
		n.logger.Warn("alert dedupe check failed", slog.Any("error", err))
		return false
	}

	return count > 1
}

func (n *SESNotifier) send(to, subject, body string) {
	recipients := []string{to}
	if n.alertsTo != "" {
		recipients = append(recipients, n.alertsTo)
	}

	go func() {
		ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		input := &ses.SendEmailInput{
			Source: aws.String(n.fromAddress),
			Destination: &types.Destination{
				ToAddresses: recipients,
			},
			Message: &types.Message{
				Subject: &types.Content{
					Data: aws.String(subject),
				},
				Body: &types.Body{
					Text: &types.Content{
						Data: aws.String(body),
					},
				},
			},
		}

		result, err := n.sesClient.SendEmail(ctx, input)
		if err != nil {
			n.logger.Error("failed to send security alert via SES",
				slog.String("email", pkglogger.SanitizedIdentifier(to)),
				slog.Any("error", err))
			return
		}

		n.logger.Info("security alert sent",
			slog.String("email", pkglogger.SanitizedIdentifier(to)),
			slog.String("message_id", aws.ToString(result.MessageId)))
	}()
}
