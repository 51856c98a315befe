package sink

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"github.com/getsentry/sentry-go"

	"github.com/sthembisoo/api-error-monitor/monitor/types"
)

// ErrNotCaptured is returned when Sentry did not accept the event.
var ErrNotCaptured = errors.New("sentry did not capture the event")

const sentryTimeout = 10 * time.Second

// SentrySink reports each ApiErrorReport as a Sentry event.
type SentrySink struct {
	hub *sentry.Hub

	// mu serializes sends so recorder holds the outcome of exactly one upload.
	mu       sync.Mutex
	recorder *uploadRecorder
}

// NewSentrySink creates a synchronous client for dsn on its own hub. Send reports
// unreachable servers and non-2xx answers as failures.
func NewSentrySink(dsn string) (*SentrySink, error) {
	transport := sentry.NewHTTPSyncTransport()
	transport.Timeout = sentryTimeout
	recorder := &uploadRecorder{base: http.DefaultTransport}

	client, err := sentry.NewClient(sentry.ClientOptions{
		Dsn:           dsn,
		Transport:     transport,
		HTTPTransport: recorder,
	})
	if err != nil {
		return nil, fmt.Errorf("failed to create sentry client: %w", err)
	}
	s := NewSentrySinkWithClient(client)
	s.recorder = recorder
	return s, nil
}

// NewSentrySinkWithClient uses an existing client, e.g. one with a custom transport.
// Only a nil event ID counts as a failure then.
func NewSentrySinkWithClient(client *sentry.Client) *SentrySink {
	return &SentrySink{hub: sentry.NewHub(client, sentry.NewScope())}
}

func (s *SentrySink) Send(ctx context.Context, r types.ApiErrorReport) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	event := sentry.NewEvent()
	event.Level = sentry.LevelError
	event.Message = Excerpt(r.ErrorMessage)
	event.Timestamp = r.Timestamp
	event.Fingerprint = []string{r.AppName, r.Endpoint, string(r.Kind), r.Key}
	event.Tags = map[string]string{
		"app":      r.AppName,
		"endpoint": r.Endpoint,
		"kind":     string(r.Kind),
	}
	if key := reportKey(r.Key); key != "" {
		event.Tags["key"] = key
	}
	if r.ExpectedType != "" {
		event.Tags["expected_type"] = r.ExpectedType
	}
	if r.ReceivedType != "" {
		event.Tags["received_type"] = r.ReceivedType
	}
	event.Extra = map[string]any{"report_id": r.ID}
	if len(r.RequestData) > 0 {
		event.Extra["request_data"] = r.RequestData
	}
	if r.ResponseData != nil {
		event.Extra["response_data"] = r.ResponseData
	}

	if s.recorder == nil {
		if id := s.hub.CaptureEvent(event); id == nil {
			return ErrNotCaptured
		}
		return nil
	}

	s.mu.Lock()
	defer s.mu.Unlock()
	s.recorder.reset()
	if id := s.hub.CaptureEvent(event); id == nil {
		return ErrNotCaptured
	}
	sent, err := s.recorder.result()
	if err != nil {
		return fmt.Errorf("failed to deliver sentry event: %w", err)
	}
	if !sent {
		// The transport skipped the upload, e.g. while Sentry rate limits us.
		return ErrNotCaptured
	}
	return nil
}

// uploadRecorder is the HTTP transport under the sentry client. It keeps the outcome
// of the last upload, which the sync transport otherwise only logs.
type uploadRecorder struct {
	base http.RoundTripper

	mu   sync.Mutex
	sent bool
	err  error
}

func (u *uploadRecorder) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := u.base.RoundTrip(req)

	var failure error
	switch {
	case err != nil:
		failure = err
	case resp.StatusCode < 200 || resp.StatusCode > 299:
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		resp.Body = struct {
			io.Reader
			io.Closer
		}{io.MultiReader(bytes.NewReader(body), resp.Body), resp.Body}
		failure = &StatusError{StatusCode: resp.StatusCode, Body: string(body)}
	}

	u.mu.Lock()
	u.sent = true
	u.err = failure
	u.mu.Unlock()
	return resp, err
}

func (u *uploadRecorder) reset() {
	u.mu.Lock()
	defer u.mu.Unlock()
	u.sent = false
	u.err = nil
}

func (u *uploadRecorder) result() (bool, error) {
	u.mu.Lock()
	defer u.mu.Unlock()
	return u.sent, u.err
}
