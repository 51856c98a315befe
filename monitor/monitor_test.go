package monitor

import (
	"context"
	"errors"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/sthembisoo/api-error-monitor/monitor/config"
	"github.com/sthembisoo/api-error-monitor/monitor/retry"
	"github.com/sthembisoo/api-error-monitor/monitor/store"
	"github.com/sthembisoo/api-error-monitor/monitor/types"
)

// fakeSink fails while failing is set and records what it accepted.
type fakeSink struct {
	mu      sync.Mutex
	failing bool
	panics  bool
	calls   int
	sent    []types.ApiErrorReport
}

func (s *fakeSink) Send(_ context.Context, r types.ApiErrorReport) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.calls++
	if s.panics {
		panic("sink exploded")
	}
	if s.failing {
		return errors.New("sink unreachable")
	}
	s.sent = append(s.sent, r)
	return nil
}

func (s *fakeSink) setFailing(v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.failing = v
}

// failingStore rejects every write.
type failingStore struct{ store.Store }

func (failingStore) Persist(context.Context, types.ApiErrorReport) error {
	return errors.New("disk full")
}

func (failingStore) Close() error { return nil }

func testConfig() config.Config {
	cfg := config.Default()
	cfg.AppName = "shop"
	cfg.RetryDelay = time.Millisecond
	return cfg
}

func noSleep(ctx context.Context, _ time.Duration) error { return ctx.Err() }

func newTestMonitor(t *testing.T, cfg config.Config, sk *fakeSink) (*Monitor, store.Store) {
	t.Helper()
	st, err := store.NewFileStore(filepath.Join(t.TempDir(), "reports"), nil)
	require.NoError(t, err)
	m := New(Options{Config: cfg, Sink: sk, Store: st, Sleep: noSleep})
	t.Cleanup(func() { _ = m.Close() })
	return m, st
}

const dartTrace = "      price: json['price'],\n#0      Product.fromJson (package:shop/product.dart:12:5)"

func TestCapture_DeliversReport(t *testing.T) {
	sk := &fakeSink{}
	m, st := newTestMonitor(t, testConfig(), sk)

	m.Capture(context.Background(), errors.New("type 'String' is not a subtype of type 'num'"), CaptureInput{
		StackTrace:   dartTrace,
		Endpoint:     "https://api.example.com/v1/products",
		RequestData:  map[string]any{"page": 1},
		ResponseData: `{"price":"12"}`,
	})

	require.Len(t, sk.sent, 1)
	r := sk.sent[0]
	assert.Equal(t, "shop", r.AppName)
	assert.Equal(t, "https://api.example.com/v1/products", r.Endpoint)
	assert.Equal(t, types.ApiErrorInfo{Key: "price", ExpectedType: "num", ReceivedType: "String"}, r.Info())
	assert.Equal(t, types.KindTypeMismatch, r.Kind)
	assert.Equal(t, "type 'String' is not a subtype of type 'num'", r.ErrorMessage)
	assert.NotEmpty(t, r.ID)

	stored, err := st.ListAll(context.Background())
	require.NoError(t, err)
	require.Len(t, stored, 1)
	assert.Equal(t, r.ID, stored[0].ID)
	assert.Zero(t, m.Pending())
}

func TestCapture_ExplicitFieldsWin(t *testing.T) {
	sk := &fakeSink{}
	m, _ := newTestMonitor(t, testConfig(), sk)

	m.Capture(context.Background(), errors.New("type 'int' is not a subtype of type 'String'"), CaptureInput{
		StackTrace:   "  heuristic: json['heuristic']",
		Key:          "explicit",
		ReceivedType: "bool",
	})

	require.Len(t, sk.sent, 1)
	assert.Equal(t, types.ApiErrorInfo{Key: "explicit", ExpectedType: "String", ReceivedType: "bool"}, sk.sent[0].Info())
}

func TestCapture_StripsStackFromMessage(t *testing.T) {
	sk := &fakeSink{}
	m, _ := newTestMonitor(t, testConfig(), sk)

	m.Capture(context.Background(), errors.New("FormatException: bad\n#0      main (package:shop/main.dart:3:1)"), CaptureInput{})

	require.Len(t, sk.sent, 1)
	assert.Equal(t, "FormatException: bad", sk.sent[0].ErrorMessage)
	assert.Equal(t, types.KindUnclassified, sk.sent[0].Kind)
	assert.True(t, sk.sent[0].Info().IsEmpty())
}

func TestCapture_EmptyError(t *testing.T) {
	sk := &fakeSink{}
	m, _ := newTestMonitor(t, testConfig(), sk)

	assert.NotPanics(t, func() {
		m.Capture(context.Background(), errors.New(""), CaptureInput{})
	})

	require.Len(t, sk.sent, 1)
	assert.Equal(t, types.KindUnclassified, sk.sent[0].Kind)
	assert.True(t, sk.sent[0].Info().IsEmpty())
}

func TestCapture_UnclassifiedKeepsExtractedKey(t *testing.T) {
	sk := &fakeSink{}
	m, _ := newTestMonitor(t, testConfig(), sk)

	m.Capture(context.Background(), errors.New("FormatException: Unexpected character\n  price: json['price'],"), CaptureInput{})

	require.Len(t, sk.sent, 1)
	assert.Equal(t, types.KindMissingKey, sk.sent[0].Kind)
	assert.Equal(t, "price", sk.sent[0].Key)
}

func TestCapture_Gating(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*config.Config)
		err    error
		want   int
	}{
		{name: "disabled", mutate: func(c *config.Config) { c.Enabled = false }, err: errors.New("x"), want: 0},
		{name: "dev mode", mutate: func(c *config.Config) { c.DevMode = true }, err: errors.New("x"), want: 0},
		{name: "dev mode enabled", mutate: func(c *config.Config) { c.DevMode = true; c.EnableInDevMode = true }, err: errors.New("x"), want: 1},
		{name: "network filtered", mutate: func(c *config.Config) {}, err: errors.New("SocketException: Connection refused"), want: 0},
		{name: "network kept", mutate: func(c *config.Config) { c.FilterNetworkErrors = false }, err: errors.New("SocketException: Connection refused"), want: 1},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := testConfig()
			tt.mutate(&cfg)
			sk := &fakeSink{}
			m, _ := newTestMonitor(t, cfg, sk)

			m.Capture(context.Background(), tt.err, CaptureInput{})

			assert.Len(t, sk.sent, tt.want)
		})
	}
}

func TestCapture_FailedDeliveryIsQueued(t *testing.T) {
	sk := &fakeSink{failing: true}
	m, st := newTestMonitor(t, testConfig(), sk)

	m.Capture(context.Background(), errors.New(`key not found: "sku"`), CaptureInput{Endpoint: "/v1/cart"})

	assert.Equal(t, 1, m.Pending())
	stored, err := st.ListAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, stored, 1)

	sk.setFailing(false)
	res, err := m.Drain(context.Background())
	require.NoError(t, err)
	assert.Equal(t, retry.Result{Delivered: 1}, res)
	require.Len(t, sk.sent, 1)
	assert.Equal(t, "sku", sk.sent[0].Key)
	assert.Zero(t, m.Pending())
}

func TestCapture_StoreFailureStillDelivers(t *testing.T) {
	sk := &fakeSink{}
	m := New(Options{Config: testConfig(), Sink: sk, Store: failingStore{}, Sleep: noSleep})

	m.Capture(context.Background(), errors.New("boom"), CaptureInput{})

	assert.Len(t, sk.sent, 1)
}

func TestCapture_RecoversFromPanics(t *testing.T) {
	sk := &fakeSink{panics: true}
	m, _ := newTestMonitor(t, testConfig(), sk)

	assert.NotPanics(t, func() {
		m.Capture(context.Background(), errors.New("boom"), CaptureInput{})
	})
	assert.Equal(t, 1, sk.calls)
}

func TestCapture_NoSink(t *testing.T) {
	m := New(Options{Config: testConfig()})
	assert.False(t, m.HasSink())

	m.Capture(context.Background(), errors.New("boom"), CaptureInput{})

	_, err := m.Drain(context.Background())
	assert.ErrorIs(t, err, ErrNoSink)
}

func TestCapture_Span(t *testing.T) {
	exporter := tracetest.NewInMemoryExporter()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSyncer(exporter))
	otel.SetTracerProvider(tp)
	t.Cleanup(func() { _ = tp.Shutdown(context.Background()) })

	m, _ := newTestMonitor(t, testConfig(), &fakeSink{})
	m.Capture(context.Background(), errors.New("type 'null' is not a subtype of type 'String'"), CaptureInput{Endpoint: "/v1/me"})

	spans := exporter.GetSpans()
	require.Len(t, spans, 1)
	assert.Equal(t, "monitor.capture", spans[0].Name)
	attrs := map[string]string{}
	for _, kv := range spans[0].Attributes {
		attrs[string(kv.Key)] = kv.Value.Emit()
	}
	assert.Equal(t, "/v1/me", attrs["endpoint"])
	assert.Equal(t, "null_value", attrs["report.kind"])
}

func TestMonitor_Extract(t *testing.T) {
	m := New(Options{Config: testConfig()})

	info := m.Extract(context.Background(), errors.New("type 'int' is not a subtype of type 'String'"), dartTrace)

	assert.Equal(t, types.ApiErrorInfo{Key: "price", ExpectedType: "String", ReceivedType: "int"}, info)
}

func TestRefineKind(t *testing.T) {
	assert.Equal(t, types.KindNullValue, refineKind(types.KindUnclassified, types.ApiErrorInfo{ReceivedType: "null"}))
	assert.Equal(t, types.KindTypeMismatch, refineKind(types.KindUnclassified, types.ApiErrorInfo{ExpectedType: "int"}))
	assert.Equal(t, types.KindMissingKey, refineKind(types.KindUnclassified, types.ApiErrorInfo{Key: "id"}))
	assert.Equal(t, types.KindUnclassified, refineKind(types.KindUnclassified, types.ApiErrorInfo{}))
	assert.Equal(t, types.KindMissingKey, refineKind(types.KindMissingKey, types.ApiErrorInfo{}))
}

func TestOpen(t *testing.T) {
	cfg := testConfig()
	cfg.StorageDir = t.TempDir()
	cfg.WebhookURL = "https://hooks.example.com/x"

	m, err := Open(cfg, nil)
	require.NoError(t, err)
	defer m.Close()

	assert.NotNil(t, m.Store())
	assert.Equal(t, cfg.StorageDir, m.Store().DirectoryPath())
}
