package forensics

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.uber.org/zap"

	"github.com/sthembisoo/api-error-monitor/monitor/types"
)

const (
	// proximityWindow is the number of lines scanned before and after a locator line.
	proximityWindow = 3

	defaultSourceLookupTimeout = 2 * time.Second
)

// Options configures an Extractor.
type Options struct {
	// DevMode enables the source-line lookup. It must stay false in production builds.
	DevMode bool
	// SourceSearchRoots are the only directories the source-line lookup may read from.
	SourceSearchRoots []string
	// SourceLookupTimeout bounds the source-line lookup. Zero means 2s.
	SourceLookupTimeout time.Duration
	// Logger receives debug traces of extraction decisions. Nil disables tracing.
	Logger *zap.Logger
}

// Extractor reverse-engineers the JSON key and type pair behind a deserialization failure.
// It holds no per-call state and is safe for concurrent use.
type Extractor struct {
	opts   Options
	logger *zap.Logger
}

// NewExtractor returns an Extractor configured by opts.
func NewExtractor(opts Options) *Extractor {
	if opts.SourceLookupTimeout <= 0 {
		opts.SourceLookupTimeout = defaultSourceLookupTimeout
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Extractor{opts: opts, logger: logger.Named("forensics")}
}

// Extract runs the extraction cascade over d. It never panics; an all-empty result means
// there was not enough information.
func (e *Extractor) Extract(ctx context.Context, d types.Diagnostic) (info types.ApiErrorInfo) {
	defer func() {
		if r := recover(); r != nil {
			e.logger.Debug("extraction panicked", zap.Any("panic", r))
			info = types.ApiErrorInfo{}
		}
	}()

	corpus := d.Corpus()

	var pair typePair
	pair.fillFrom(primaryTemplates, corpus)
	excluded := NewTypeNameSet(pair.received, pair.expected)
	if pair.received != "" || pair.expected != "" {
		e.logger.Debug("type pair found",
			zap.String("received", pair.received),
			zap.String("expected", pair.expected),
		)
	}

	info.Key = e.findKey(ctx, corpus, excluded)

	if !pair.complete() {
		pair.fillFrom(secondaryTemplates, corpus)
	}
	if !pair.complete() && d.ErrorText != "" && d.ErrorText != d.Message {
		pair.fillFrom(primaryTemplates, d.ErrorText)
		pair.fillFrom(secondaryTemplates, d.ErrorText)
	}

	info.ReceivedType = pair.received
	info.ExpectedType = pair.expected
	e.logger.Debug("extraction finished", zap.Object("info", info))
	return info
}

// findKey runs the key cascade and stops at the first strategy that yields a candidate.
func (e *Extractor) findKey(ctx context.Context, corpus string, excluded TypeNameSet) string {
	if strings.TrimSpace(corpus) == "" {
		return ""
	}

	if key, family := scanFamilies(keyFamilies, corpus, excluded); key != "" {
		e.trace("direct_scan", key, zap.String("family", family))
		return key
	}

	lines := splitLines(corpus)
	locators := findLocators(lines)
	for _, loc := range locators {
		from := max(0, loc.index-proximityWindow)
		to := min(len(lines), loc.index+proximityWindow+1)
		window := strings.Join(lines[from:to], " ")
		if key, family := scanFamilies(keyFamilies, window, excluded); key != "" {
			e.trace("proximity_scan", key, zap.String("family", family), zap.Stringer("locator", loc.frame))
			return key
		}
	}

	for _, line := range lines {
		if key := ScanAssignment(line, excluded); key != "" {
			e.trace("assignment_scan", key)
			return key
		}
	}

	if e.opts.DevMode && len(e.opts.SourceSearchRoots) > 0 && len(locators) > 0 {
		if key, frame := e.sourceLookupKey(ctx, locators, excluded); key != "" {
			e.trace("source_lookup", key, zap.Stringer("locator", frame))
			return key
		}
	}
	return ""
}

func (e *Extractor) trace(strategy, key string, fields ...zap.Field) {
	e.logger.Debug(fmt.Sprintf("key found by %s", strategy), append(fields, zap.String("key", key))...)
}
