package sender

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"
)

// classify maps a provider HTTP response to a delivery outcome.
func classify(provider string, resp *resty.Response, err error) error {
	if err != nil {
		return fmt.Errorf("%s: %w", provider, err)
	}
	code := resp.StatusCode()
	switch {
	case code >= 200 && code < 300:
		return nil
	case code == http.StatusTooManyRequests || code >= 500:
		return fmt.Errorf("%s: status %d", provider, code)
	default:
		return Permanent(fmt.Errorf("%s: status %d: %s", provider, code, strings.TrimSpace(resp.String())))
	}
}

// PushGateway posts mobile push requests to an HTTP push gateway.
type PushGateway struct {
	client *resty.Client
	url    string
}

type pushRequest struct {
	To    string            `json:"to"`
	Title string            `json:"title"`
	Body  string            `json:"body"`
	Data  map[string]string `json:"data,omitempty"`
}

// NewPushGateway builds a push sender; token is sent as a bearer token.
func NewPushGateway(url, token string, timeout time.Duration) *PushGateway {
	c := resty.New().SetTimeout(timeout).SetHeader("Content-Type", "application/json")
	if token != "" {
		c.SetAuthToken(token)
	}
	return &PushGateway{client: c, url: url}
}

func (p *PushGateway) Send(ctx context.Context, msg Message) error {
	if msg.Contact == "" {
		return Permanent(errors.New("recipient has no device token"))
	}
	resp, err := p.client.R().SetContext(ctx).
		SetBody(pushRequest{To: msg.Contact, Title: msg.Title, Body: msg.Body, Data: msg.Properties}).
		Post(p.url)
	return classify("push", resp, err)
}

// SlackWebhook posts to a Slack incoming webhook. A contact that is itself a webhook URL
// overrides the default one.
type SlackWebhook struct {
	client     *resty.Client
	defaultURL string
}

func NewSlackWebhook(defaultURL string, timeout time.Duration) *SlackWebhook {
	return &SlackWebhook{
		client:     resty.New().SetTimeout(timeout).SetHeader("Content-Type", "application/json"),
		defaultURL: defaultURL,
	}
}

func (s *SlackWebhook) Send(ctx context.Context, msg Message) error {
	target := s.defaultURL
	if strings.HasPrefix(msg.Contact, "https://") || strings.HasPrefix(msg.Contact, "http://") {
		target = msg.Contact
	}
	if target == "" {
		return Permanent(errors.New("no slack webhook configured"))
	}
	resp, err := s.client.R().SetContext(ctx).
		SetBody(map[string]string{"text": fmt.Sprintf("*%s*\n%s", msg.Title, msg.Body)}).
		Post(target)
	return classify("slack", resp, err)
}
