package monitor

import (
	"context"
	"errors"
	"fmt"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/trace"
	"go.uber.org/zap"

	"github.com/sthembisoo/api-error-monitor/monitor/config"
	"github.com/sthembisoo/api-error-monitor/monitor/forensics"
	"github.com/sthembisoo/api-error-monitor/monitor/metrics"
	"github.com/sthembisoo/api-error-monitor/monitor/retry"
	"github.com/sthembisoo/api-error-monitor/monitor/sink"
	"github.com/sthembisoo/api-error-monitor/monitor/store"
	"github.com/sthembisoo/api-error-monitor/monitor/types"
)

const tracerName = "github.com/sthembisoo/api-error-monitor/monitor"

// ErrNoSink is returned by Drain when no sink is configured.
var ErrNoSink = errors.New("no sink configured")

// CaptureInput is the context a caller supplies with a captured error.
// Key, ExpectedType and ReceivedType override whatever extraction finds.
type CaptureInput struct {
	StackTrace   string
	Endpoint     string
	RequestData  map[string]any
	ResponseData any
	Key          string
	ExpectedType string
	ReceivedType string
}

// Options wires a Monitor. Sink and Store may be nil.
type Options struct {
	Config config.Config
	Sink   sink.Sink
	Store  store.Store
	Logger *zap.Logger
	// Sleep overrides the retry queue's wait between attempts.
	Sleep retry.Sleeper
}

// Monitor captures deserialization failures, persists them and delivers them to a sink.
// It is safe for concurrent use.
type Monitor struct {
	cfg       config.Config
	extractor *forensics.Extractor
	sink      sink.Sink
	store     store.Store
	queue     *retry.Queue
	logger    *zap.Logger
}

// New builds a Monitor from already constructed collaborators.
func New(opts Options) *Monitor {
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	cfg := opts.Config
	return &Monitor{
		cfg: cfg,
		extractor: forensics.NewExtractor(forensics.Options{
			DevMode:             cfg.DevMode,
			SourceSearchRoots:   cfg.SourceSearchRoots,
			SourceLookupTimeout: cfg.SourceLookupTimeout,
			Logger:              logger,
		}),
		sink:  opts.Sink,
		store: opts.Store,
		queue: retry.New(retry.Options{
			MaxRetries: cfg.MaxRetries,
			BaseDelay:  cfg.RetryDelay,
			Sleep:      opts.Sleep,
			Logger:     logger,
			OnDepth:    metrics.SetQueueDepth,
		}),
		logger: logger.Named("monitor"),
	}
}

// Open builds the store and sinks cfg asks for and returns a Monitor over them.
func Open(cfg config.Config, logger *zap.Logger) (*Monitor, error) {
	var st store.Store
	if cfg.EnableLocalStorage {
		var err error
		st, err = store.Open(cfg, logger)
		if err != nil {
			return nil, fmt.Errorf("failed to open store: %w", err)
		}
	}
	sk, err := sink.FromConfig(cfg, logger)
	if err != nil {
		if st != nil {
			_ = st.Close()
		}
		return nil, fmt.Errorf("failed to configure sink: %w", err)
	}
	return New(Options{Config: cfg, Sink: sk, Store: st, Logger: logger}), nil
}

// Capture records err. It never panics and never returns an error: failures inside the
// monitor are logged and swallowed. err itself is only read.
func (m *Monitor) Capture(ctx context.Context, err error, in CaptureInput) {
	ctx, span := otel.Tracer(tracerName).Start(ctx, "monitor.capture",
		trace.WithAttributes(attribute.String("endpoint", in.Endpoint)),
	)
	defer span.End()

	defer func() {
		if r := recover(); r != nil {
			loggerWithTrace(ctx, m.logger).Error("capture panicked", zap.Any("panic", r))
			span.SetStatus(codes.Error, fmt.Sprint(r))
			metrics.RecordCapture(metrics.OutcomeFailed)
		}
	}()

	if !m.cfg.ReportingActive() {
		metrics.RecordCapture(metrics.OutcomeDisabled)
		return
	}

	d := forensics.Classify(err, in.StackTrace)
	span.SetAttributes(attribute.String("error.kind", string(d.Kind)))
	if m.cfg.FilterNetworkErrors && d.Kind == types.KindNetwork {
		metrics.RecordCapture(metrics.OutcomeFiltered)
		return
	}

	info := m.extractor.Extract(ctx, d)
	metrics.RecordExtraction(d.Kind, info)

	r := m.assemble(d, info, in)
	span.SetAttributes(
		attribute.String("report.id", r.ID),
		attribute.String("report.kind", string(r.Kind)),
		attribute.String("report.key", r.Key),
	)
	m.dispatch(ctx, span, r)
	metrics.RecordCapture(metrics.OutcomeReported)
}

// Extract classifies err and runs extraction without producing a report.
func (m *Monitor) Extract(ctx context.Context, err error, stackTrace string) types.ApiErrorInfo {
	return m.extractor.Extract(ctx, forensics.Classify(err, stackTrace))
}

// dispatch persists r, then tries the sink; a failed delivery goes to the retry queue.
func (m *Monitor) dispatch(ctx context.Context, span trace.Span, r types.ApiErrorReport) {
	logger := loggerWithTrace(ctx, m.logger).With(zap.String("report_id", r.ID))

	if m.store != nil && m.cfg.EnableLocalStorage {
		if err := m.store.Persist(ctx, r); err != nil {
			logger.Warn("failed to persist report", zap.Error(err))
			metrics.RecordStoreFailure()
			span.RecordError(err)
		}
	}

	if m.sink == nil {
		metrics.RecordDelivery(metrics.DeliverySkipped)
		return
	}
	if err := m.sink.Send(ctx, r); err != nil {
		logger.Warn("delivery failed, queued for retry", zap.Error(err))
		span.RecordError(err)
		m.queue.Enqueue(r)
		metrics.RecordDelivery(metrics.DeliveryQueued)
		return
	}
	metrics.RecordDelivery(metrics.DeliverySent)
}

// Enqueue puts r on the retry queue directly.
func (m *Monitor) Enqueue(r types.ApiErrorReport) {
	m.queue.Enqueue(r)
}

// Drain redelivers queued reports to the sink. The embedding application decides when,
// e.g. once connectivity is back.
func (m *Monitor) Drain(ctx context.Context) (retry.Result, error) {
	if m.sink == nil {
		return retry.Result{}, ErrNoSink
	}
	res, err := m.queue.Drain(ctx, m.sink)
	metrics.RecordDrain(res.Delivered, res.Dropped)
	if err != nil {
		return res, fmt.Errorf("failed to drain retry queue: %w", err)
	}
	m.logger.Info("retry queue drained", zap.Int("delivered", res.Delivered), zap.Int("dropped", res.Dropped))
	return res, nil
}

// Draining reports whether a Drain is running.
func (m *Monitor) Draining() bool {
	return m.queue.Draining()
}

// HasSink reports whether any sink is configured.
func (m *Monitor) HasSink() bool {
	return m.sink != nil
}

// Pending returns the number of reports waiting for redelivery.
func (m *Monitor) Pending() int {
	return m.queue.Len()
}

// Store returns the local store, or nil when persistence is off.
func (m *Monitor) Store() store.Store {
	return m.store
}

// Config returns the configuration the monitor was built with.
func (m *Monitor) Config() config.Config {
	return m.cfg
}

// Close releases the store.
func (m *Monitor) Close() error {
	if m.store == nil {
		return nil
	}
	return m.store.Close()
}

// loggerWithTrace tags logger with the active span's trace and span IDs.
func loggerWithTrace(ctx context.Context, logger *zap.Logger) *zap.Logger {
	sc := trace.SpanContextFromContext(ctx)
	if !sc.IsValid() {
		return logger
	}
	return logger.With(
		zap.String("trace_id", sc.TraceID().String()),
		zap.String("span_id", sc.SpanID().String()),
	)
}
