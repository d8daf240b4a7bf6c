package mail

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sendgrid/rest"
	"github.com/sendgrid/sendgrid-go"
	sgmail "github.com/sendgrid/sendgrid-go/helpers/mail"
)

const (
	defaultHost  = "https://api.sendgrid.com"
	sendEndpoint = "/v3/mail/send"
)

// Message is a single transactional email.
type Message struct {
	To         string
	ToName     string
	Subject    string
	PlainText  string
	HTML       string
	Categories []string
}

// SendGridConfig configures the SendGrid sender.
type SendGridConfig struct {
	APIKey      string
	FromAddress string
	FromName    string
	// Host overrides the API origin, mainly for tests.
	Host string
}

// SendGridSender delivers messages through the SendGrid v3 mail API.
type SendGridSender struct {
	apiKey string
	host   string
	from   *sgmail.Email
	do     func(ctx context.Context, req rest.Request) (*rest.Response, error)
}

// NewSendGridSender validates cfg and returns a sender.
func NewSendGridSender(cfg SendGridConfig) (*SendGridSender, error) {
	key := strings.TrimSpace(cfg.APIKey)
	if key == "" {
		return nil, errors.New("mail: sendgrid api key is required")
	}
	from := strings.TrimSpace(cfg.FromAddress)
	if from == "" {
		return nil, errors.New("mail: from address is required")
	}
	host := strings.TrimRight(strings.TrimSpace(cfg.Host), "/")
	if host == "" {
		host = defaultHost
	}
	return &SendGridSender{
		apiKey: key,
		host:   host,
		from:   sgmail.NewEmail(strings.TrimSpace(cfg.FromName), from),
		do:     sendgrid.MakeRequestWithContext,
	}, nil
}

// Send delivers msg. Any 4xx or 5xx response is returned as an error carrying the status code.
func (s *SendGridSender) Send(ctx context.Context, msg Message) error {
	if s == nil {
		return errors.New("mail: sender not initialised")
	}
	to := strings.TrimSpace(msg.To)
	if to == "" {
		return errors.New("mail: recipient is required")
	}
	if strings.TrimSpace(msg.PlainText) == "" && strings.TrimSpace(msg.HTML) == "" {
		return errors.New("mail: message body is required")
	}

	m := sgmail.NewSingleEmail(s.from, msg.Subject, sgmail.NewEmail(msg.ToName, to), msg.PlainText, msg.HTML)
	if len(msg.Categories) > 0 {
		m.AddCategories(msg.Categories...)
	}

	req := sendgrid.GetRequest(s.apiKey, sendEndpoint, s.host)
	req.Method = rest.Post
	req.Body = sgmail.GetRequestBody(m)

	resp, err := s.do(ctx, req)
	if err != nil {
		return fmt.Errorf("mail: send: %w", err)
	}
	if resp.StatusCode >= 400 {
		return &SendError{StatusCode: resp.StatusCode, Body: resp.Body}
	}
	return nil
}

// SendError reports a non-success SendGrid response.
type SendError struct {
	StatusCode int
	Body       string
}

func (e *SendError) Error() string {
	return fmt.Sprintf("mail: sendgrid responded %d: %s", e.StatusCode, strings.TrimSpace(e.Body))
}
