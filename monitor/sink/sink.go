package sink

import (
	"context"
	"errors"
	"fmt"
	"time"
	"unicode/utf8"

	"go.uber.org/zap"

	"github.com/sthembisoo/api-error-monitor/monitor/config"
	"github.com/sthembisoo/api-error-monitor/monitor/forensics"
	"github.com/sthembisoo/api-error-monitor/monitor/types"
)

// Sink delivers a report to an external destination. A nil error means the destination
// accepted it; any error is a delivery failure the caller may retry.
type Sink interface {
	Send(ctx context.Context, r types.ApiErrorReport) error
}

// ErrRateLimited is returned when the local flood guard rejects a delivery.
var ErrRateLimited = errors.New("sink rate limited")

const maxExcerptBytes = 500

// StatusError is a delivery rejected by the destination.
type StatusError struct {
	StatusCode int
	Body       string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("sink returned status %d: %s", e.StatusCode, e.Body)
}

// Excerpt returns the report message with stack lines removed, cut to 500 bytes.
func Excerpt(msg string) string {
	return truncate(forensics.StripStackLines(msg), maxExcerptBytes)
}

// truncate cuts s to at most max bytes, ending in "..." when cut, without splitting a rune.
func truncate(s string, max int) string {
	if len(s) <= max {
		return s
	}
	cut := max - 3
	for cut > 0 && !utf8.RuneStart(s[cut]) {
		cut--
	}
	return s[:cut] + "..."
}

// reportKey drops keys that are really primitive type names.
func reportKey(key string) string {
	if forensics.IsPrimitiveTypeName(key) {
		return ""
	}
	return key
}

// FromConfig builds the sinks cfg enables. It returns nil when none is configured.
func FromConfig(cfg config.Config, logger *zap.Logger) (Sink, error) {
	var sinks []Sink
	if cfg.WebhookURL != "" {
		webhook, err := NewWebhookSink(WebhookOptions{
			URL:           cfg.WebhookURL,
			RatePerMinute: cfg.WebhookRatePerMinute,
			Timeout:       10 * time.Second,
			Logger:        logger,
		})
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, webhook)
	}
	if cfg.SentryDSN != "" {
		s, err := NewSentrySink(cfg.SentryDSN)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, s)
	}

	switch len(sinks) {
	case 0:
		return nil, nil
	case 1:
		return sinks[0], nil
	default:
		return NewMultiSink(sinks...), nil
	}
}
