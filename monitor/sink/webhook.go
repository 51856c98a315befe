package sink

import (
	"context"
	_ "embed"
	"fmt"
	"strings"
	"text/template"
	"time"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
	"golang.org/x/time/rate"

	"github.com/sthembisoo/api-error-monitor/monitor/types"
)

//go:embed message.tmpl
var messageTemplate string

// WebhookOptions configures a WebhookSink.
type WebhookOptions struct {
	URL string
	// RatePerMinute caps deliveries; zero disables the guard.
	RatePerMinute int
	Timeout       time.Duration
	// Client is used when set, e.g. to share transport settings.
	Client *resty.Client
	Logger *zap.Logger
}

// WebhookSink posts reports as JSON to a chat-style incoming webhook.
type WebhookSink struct {
	url     string
	client  *resty.Client
	tmpl    *template.Template
	limiter *rate.Limiter
	logger  *zap.Logger
}

// webhookReport is the structured part of the payload.
type webhookReport struct {
	AppName      string `json:"appName"`
	Endpoint     string `json:"endpoint"`
	Key          string `json:"key,omitempty"`
	ExpectedType string `json:"expectedType,omitempty"`
	ReceivedType string `json:"receivedType,omitempty"`
	Kind         string `json:"kind,omitempty"`
	ErrorExcerpt string `json:"errorExcerpt"`
	Timestamp    string `json:"timestamp"`
}

type webhookPayload struct {
	Text   string        `json:"text"`
	Report webhookReport `json:"report"`
}

// NewWebhookSink validates opts and parses the message template.
func NewWebhookSink(opts WebhookOptions) (*WebhookSink, error) {
	if opts.URL == "" {
		return nil, fmt.Errorf("webhook url required")
	}
	tmpl, err := template.New("message").Parse(messageTemplate)
	if err != nil {
		return nil, fmt.Errorf("failed to parse message template: %w", err)
	}

	client := opts.Client
	if client == nil {
		client = resty.New()
	}
	if opts.Timeout > 0 {
		client.SetTimeout(opts.Timeout)
	}

	limiter := rate.NewLimiter(rate.Inf, 0)
	if opts.RatePerMinute > 0 {
		limiter = rate.NewLimiter(rate.Every(time.Minute/time.Duration(opts.RatePerMinute)), opts.RatePerMinute)
	}

	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &WebhookSink{
		url:     opts.URL,
		client:  client,
		tmpl:    tmpl,
		limiter: limiter,
		logger:  logger.Named("webhook"),
	}, nil
}

// Send renders r and posts it. Any non-2xx status is a *StatusError.
func (s *WebhookSink) Send(ctx context.Context, r types.ApiErrorReport) error {
	if !s.limiter.Allow() {
		return ErrRateLimited
	}

	payload, err := s.render(r)
	if err != nil {
		return err
	}

	response, err := s.client.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/json").
		SetBody(payload).
		Post(s.url)
	if err != nil {
		return fmt.Errorf("failed to post webhook: %w", err)
	}

	if !response.IsSuccess() {
		return &StatusError{StatusCode: response.StatusCode(), Body: truncate(string(response.Body()), 200)}
	}

	s.logger.Debug("report delivered", zap.String("report_id", r.ID), zap.Int("status", response.StatusCode()))
	return nil
}

func (s *WebhookSink) render(r types.ApiErrorReport) (webhookPayload, error) {
	report := webhookReport{
		AppName:      r.AppName,
		Endpoint:     r.Endpoint,
		Key:          reportKey(r.Key),
		ExpectedType: r.ExpectedType,
		ReceivedType: r.ReceivedType,
		Kind:         string(r.Kind),
		ErrorExcerpt: Excerpt(r.ErrorMessage),
		Timestamp:    r.Timestamp.UTC().Format(time.RFC3339),
	}

	var text strings.Builder
	if err := s.tmpl.Execute(&text, report); err != nil {
		return webhookPayload{}, fmt.Errorf("failed to execute message template: %w", err)
	}
	return webhookPayload{Text: text.String(), Report: report}, nil
}
