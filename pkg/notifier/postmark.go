package notifier

import (
	"context"
	"errors"
	"fmt"

	"github.com/mrz1836/postmark"
)

var ErrSendFailed = errors.New("failed to send notification email")

// PostmarkConfig configures the email sink.
type PostmarkConfig struct {
	ServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	AccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail  string `env:"POSTMARK_SENDER_EMAIL"`
}

// Enabled reports whether the config carries enough to construct the sink.
func (c PostmarkConfig) Enabled() bool {
	return c.ServerToken != "" && c.SenderEmail != ""
}

// PostmarkNotifier delivers notifications through Postmark's transactional
// email API.
type PostmarkNotifier struct {
	client *postmark.Client
	sender string
}

func NewPostmarkNotifier(cfg PostmarkConfig) (*PostmarkNotifier, error) {
	if cfg.ServerToken == "" {
		return nil, fmt.Errorf("%w: server token is required", ErrSendFailed)
	}
	if cfg.SenderEmail == "" {
		return nil, fmt.Errorf("%w: sender email is required", ErrSendFailed)
	}
	return &PostmarkNotifier{
		client: postmark.NewClient(cfg.ServerToken, cfg.AccountToken),
		sender: cfg.SenderEmail,
	}, nil
}

func (n *PostmarkNotifier) Notify(ctx context.Context, msg Message) error {
	if msg.Email == "" {
		return fmt.Errorf("%w: recipient email is empty", ErrSendFailed)
	}
	resp, err := n.client.SendEmail(ctx, postmark.Email{
		From:     n.sender,
		To:       msg.Email,
		Subject:  msg.Subject,
		TextBody: msg.Body,
		Tag:      "billing",
	})
	if err != nil {
		return errors.Join(ErrSendFailed, err)
	}
	if resp.ErrorCode > 0 {
		return fmt.Errorf("%w: postmark error %d: %s", ErrSendFailed, resp.ErrorCode, resp.Message)
	}
	return nil
}
