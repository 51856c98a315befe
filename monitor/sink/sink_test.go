package sink

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync/atomic"
	"testing"
	"time"

	"github.com/getsentry/sentry-go"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/sthembisoo/api-error-monitor/monitor/config"
	"github.com/sthembisoo/api-error-monitor/monitor/types"
)

func sampleReport() types.ApiErrorReport {
	return types.NewReport(types.ReportInput{
		AppName:      "shop",
		Endpoint:     "https://api.example.com/v1/products",
		ErrorMessage: "type 'int' is not a subtype of type 'String'\n#0      Product.fromJson (package:shop/product.dart:12:5)",
		Timestamp:    time.Date(2025, 3, 14, 9, 26, 53, 0, time.UTC),
		Kind:         types.KindTypeMismatch,
		Info:         types.ApiErrorInfo{Key: "price", ExpectedType: "String", ReceivedType: "int"},
	})
}

func TestWebhookSink_Send(t *testing.T) {
	var got webhookPayload
	server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		assert.Equal(t, http.MethodPost, r.Method)
		assert.Equal(t, "application/json", r.Header.Get("Content-Type"))
		body, _ := io.ReadAll(r.Body)
		assert.NoError(t, json.Unmarshal(body, &got))
		w.WriteHeader(http.StatusNoContent)
	}))
	defer server.Close()

	s, err := NewWebhookSink(WebhookOptions{URL: server.URL})
	require.NoError(t, err)

	require.NoError(t, s.Send(context.Background(), sampleReport()))

	assert.Equal(t, webhookReport{
		AppName:      "shop",
		Endpoint:     "https://api.example.com/v1/products",
		Key:          "price",
		ExpectedType: "String",
		ReceivedType: "int",
		Kind:         "type_mismatch",
		ErrorExcerpt: "type 'int' is not a subtype of type 'String'",
		Timestamp:    "2025-03-14T09:26:53Z",
	}, got.Report)
	assert.Contains(t, got.Text, "*API error in shop*")
	assert.Contains(t, got.Text, "*Field:* `price`")
	assert.Contains(t, got.Text, "expected `String`, received `int`")
	assert.NotContains(t, got.Text, "#0")
}

func TestWebhookSink_Failures(t *testing.T) {
	t.Run("non-success status", func(t *testing.T) {
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			http.Error(w, "invalid_token", http.StatusForbidden)
		}))
		defer server.Close()
		s, err := NewWebhookSink(WebhookOptions{URL: server.URL})
		require.NoError(t, err)

		err = s.Send(context.Background(), sampleReport())

		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusForbidden, statusErr.StatusCode)
		assert.Contains(t, statusErr.Body, "invalid_token")
	})

	t.Run("transport error", func(t *testing.T) {
		server := httptest.NewServer(http.NotFoundHandler())
		url := server.URL
		server.Close()
		s, err := NewWebhookSink(WebhookOptions{URL: url, Timeout: time.Second})
		require.NoError(t, err)

		assert.Error(t, s.Send(context.Background(), sampleReport()))
	})

	t.Run("rate limited", func(t *testing.T) {
		var calls atomic.Int32
		server := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			calls.Add(1)
		}))
		defer server.Close()
		s, err := NewWebhookSink(WebhookOptions{URL: server.URL, RatePerMinute: 1})
		require.NoError(t, err)

		require.NoError(t, s.Send(context.Background(), sampleReport()))
		assert.ErrorIs(t, s.Send(context.Background(), sampleReport()), ErrRateLimited)
		assert.Equal(t, int32(1), calls.Load())
	})
}

func TestWebhookSink_OmitsPrimitiveKeys(t *testing.T) {
	s, err := NewWebhookSink(WebhookOptions{URL: "http://localhost"})
	require.NoError(t, err)
	r := sampleReport()
	r.Key = "String"
	r.ExpectedType = ""
	r.ReceivedType = ""

	payload, err := s.render(r)
	require.NoError(t, err)

	assert.Empty(t, payload.Report.Key)
	assert.NotContains(t, payload.Text, "*Field:*")
	assert.NotContains(t, payload.Text, "*Type:*")
}

func TestExcerpt(t *testing.T) {
	assert.Equal(t, "boom", Excerpt("boom\n    at main (app.js:1:1)"))

	long := strings.Repeat("é", 400)
	got := Excerpt(long)
	assert.LessOrEqual(t, len(got), maxExcerptBytes)
	assert.True(t, strings.HasSuffix(got, "..."))
	assert.True(t, strings.HasPrefix(long, strings.TrimSuffix(got, "...")))
}

type mockTransport struct{ events []*sentry.Event }

func (t *mockTransport) SendEvent(event *sentry.Event)              { t.events = append(t.events, event) }
func (t *mockTransport) Flush(timeout time.Duration) bool          { return true }
func (t *mockTransport) FlushWithContext(ctx context.Context) bool { return true }
func (t *mockTransport) Configure(options sentry.ClientOptions)    {}
func (t *mockTransport) Close()                                    {}

func TestSentrySink_Send(t *testing.T) {
	transport := &mockTransport{}
	client, err := sentry.NewClient(sentry.ClientOptions{Transport: transport})
	require.NoError(t, err)
	s := NewSentrySinkWithClient(client)

	require.NoError(t, s.Send(context.Background(), sampleReport()))

	require.Len(t, transport.events, 1)
	event := transport.events[0]
	assert.Equal(t, "type 'int' is not a subtype of type 'String'", event.Message)
	assert.Equal(t, "shop", event.Tags["app"])
	assert.Equal(t, "price", event.Tags["key"])
	assert.Equal(t, "int", event.Tags["received_type"])
	assert.Equal(t, "type_mismatch", event.Tags["kind"])
}

func TestSentrySink_Dropped(t *testing.T) {
	client, err := sentry.NewClient(sentry.ClientOptions{
		Transport: &mockTransport{},
		BeforeSend: func(event *sentry.Event, hint *sentry.EventHint) *sentry.Event {
			return nil
		},
	})
	require.NoError(t, err)

	err = NewSentrySinkWithClient(client).Send(context.Background(), sampleReport())
	assert.ErrorIs(t, err, ErrNotCaptured)
}

// sentryServer answers every upload with status and counts the uploads.
func sentryServer(t *testing.T, status int, header http.Header) (string, *atomic.Int32) {
	t.Helper()
	var uploads atomic.Int32
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		uploads.Add(1)
		_, _ = io.Copy(io.Discard, r.Body)
		for k, v := range header {
			w.Header()[k] = v
		}
		w.WriteHeader(status)
		_, _ = w.Write([]byte(`{"detail":"rejected"}`))
	}))
	t.Cleanup(srv.Close)
	return strings.Replace(srv.URL, "http://", "http://public@", 1) + "/1", &uploads
}

func TestSentrySink_Delivery(t *testing.T) {
	t.Run("accepted", func(t *testing.T) {
		dsn, uploads := sentryServer(t, http.StatusOK, nil)
		s, err := NewSentrySink(dsn)
		require.NoError(t, err)

		require.NoError(t, s.Send(context.Background(), sampleReport()))
		assert.Equal(t, int32(1), uploads.Load())
	})

	t.Run("server error", func(t *testing.T) {
		dsn, _ := sentryServer(t, http.StatusInternalServerError, nil)
		s, err := NewSentrySink(dsn)
		require.NoError(t, err)

		err = s.Send(context.Background(), sampleReport())
		var statusErr *StatusError
		require.ErrorAs(t, err, &statusErr)
		assert.Equal(t, http.StatusInternalServerError, statusErr.StatusCode)
		assert.Contains(t, statusErr.Body, "rejected")
	})

	t.Run("unreachable", func(t *testing.T) {
		srv := httptest.NewServer(http.NotFoundHandler())
		dsn := strings.Replace(srv.URL, "http://", "http://public@", 1) + "/1"
		srv.Close()
		s, err := NewSentrySink(dsn)
		require.NoError(t, err)

		err = s.Send(context.Background(), sampleReport())
		require.Error(t, err)
		assert.NotErrorIs(t, err, ErrNotCaptured)
	})

	t.Run("rate limited uploads are skipped", func(t *testing.T) {
		dsn, uploads := sentryServer(t, http.StatusTooManyRequests, http.Header{"Retry-After": []string{"60"}})
		s, err := NewSentrySink(dsn)
		require.NoError(t, err)

		var statusErr *StatusError
		require.ErrorAs(t, s.Send(context.Background(), sampleReport()), &statusErr)
		assert.ErrorIs(t, s.Send(context.Background(), sampleReport()), ErrNotCaptured)
		assert.Equal(t, int32(1), uploads.Load())
	})
}

type funcSink func(ctx context.Context, r types.ApiErrorReport) error

func (f funcSink) Send(ctx context.Context, r types.ApiErrorReport) error { return f(ctx, r) }

func TestMultiSink(t *testing.T) {
	var delivered atomic.Int32
	ok := funcSink(func(context.Context, types.ApiErrorReport) error {
		delivered.Add(1)
		return nil
	})
	failing := funcSink(func(context.Context, types.ApiErrorReport) error {
		return errors.New("down")
	})

	require.NoError(t, NewMultiSink(ok, ok).Send(context.Background(), sampleReport()))
	assert.Equal(t, int32(2), delivered.Load())

	err := NewMultiSink(ok, failing).Send(context.Background(), sampleReport())
	assert.ErrorContains(t, err, "sink 1: down")
	assert.Equal(t, int32(3), delivered.Load())
}

func TestFromConfig(t *testing.T) {
	cfg := config.Default()
	cfg.AppName = "shop"

	s, err := FromConfig(cfg, nil)
	require.NoError(t, err)
	assert.Nil(t, s)

	cfg.WebhookURL = "https://hooks.example.com/x"
	s, err = FromConfig(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &WebhookSink{}, s)

	cfg.SentryDSN = "https://public@sentry.example.com/1"
	s, err = FromConfig(cfg, nil)
	require.NoError(t, err)
	assert.IsType(t, &MultiSink{}, s)
}
