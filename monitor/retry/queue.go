package retry

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"time"

	"go.uber.org/zap"

	"github.com/sthembisoo/api-error-monitor/monitor/types"
)

// ErrDrainInProgress is returned by Drain when another drain is running.
var ErrDrainInProgress = errors.New("drain already in progress")

const (
	defaultMaxRetries = 3
	defaultBaseDelay  = 5 * time.Second
)

// Sender delivers one report. A nil error is a successful delivery.
type Sender interface {
	Send(ctx context.Context, r types.ApiErrorReport) error
}

// Sleeper waits for d or until ctx is done.
type Sleeper func(ctx context.Context, d time.Duration) error

// Options configures a Queue.
type Options struct {
	MaxRetries int
	BaseDelay  time.Duration
	// Sleep defaults to a timer that honours ctx.
	Sleep  Sleeper
	Logger *zap.Logger
	// OnDepth is called with the queue length after every change.
	OnDepth func(depth int)
}

// Result summarizes one drain.
type Result struct {
	Delivered int `json:"delivered"`
	Dropped   int `json:"dropped"`
}

// QueuedReport is a report waiting for redelivery.
type QueuedReport struct {
	Report     types.ApiErrorReport
	Attempts   int
	EnqueuedAt time.Time
	LastError  string
}

// Queue is a FIFO of undelivered reports. Enqueue is safe from any goroutine;
// only one Drain runs at a time. Contents live for the process lifetime only.
type Queue struct {
	opts     Options
	mu       sync.Mutex
	items    []*QueuedReport
	draining atomic.Bool
	logger   *zap.Logger
}

// New returns an empty queue.
func New(opts Options) *Queue {
	if opts.MaxRetries <= 0 {
		opts.MaxRetries = defaultMaxRetries
	}
	if opts.BaseDelay < 0 {
		opts.BaseDelay = defaultBaseDelay
	}
	if opts.Sleep == nil {
		opts.Sleep = sleepContext
	}
	logger := opts.Logger
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Queue{opts: opts, logger: logger.Named("retry")}
}

// Enqueue appends r to the back of the queue.
func (q *Queue) Enqueue(r types.ApiErrorReport) {
	q.mu.Lock()
	q.items = append(q.items, &QueuedReport{Report: r, EnqueuedAt: time.Now()})
	depth := len(q.items)
	q.mu.Unlock()
	q.notify(depth)
}

// Len returns the number of queued reports.
func (q *Queue) Len() int {
	q.mu.Lock()
	defer q.mu.Unlock()
	return len(q.items)
}

// Draining reports whether a Drain is running.
func (q *Queue) Draining() bool {
	return q.draining.Load()
}

// Snapshot returns a copy of the queued entries, front first.
func (q *Queue) Snapshot() []QueuedReport {
	q.mu.Lock()
	defer q.mu.Unlock()
	out := make([]QueuedReport, len(q.items))
	for i, item := range q.items {
		out[i] = *item
	}
	return out
}

// Drain redelivers queued reports front to back until the queue is empty.
//
// Each report gets up to MaxRetries attempts; the wait before attempt n is BaseDelay*n.
// A report that fails every attempt is dropped. If ctx ends mid-report, that report goes
// back to the front with its attempt count kept and ctx.Err() is returned.
func (q *Queue) Drain(ctx context.Context, sender Sender) (Result, error) {
	var res Result
	if !q.draining.CompareAndSwap(false, true) {
		return res, ErrDrainInProgress
	}
	defer q.draining.Store(false)

	for {
		item := q.popFront()
		if item == nil {
			return res, nil
		}

		delivered, err := q.deliver(ctx, sender, item)
		if err != nil {
			q.pushFront(item)
			return res, err
		}
		if delivered {
			res.Delivered++
			continue
		}
		res.Dropped++
		q.logger.Debug("dropping report after retries",
			zap.String("report_id", item.Report.ID),
			zap.Int("attempts", item.Attempts),
			zap.String("last_error", item.LastError),
		)
	}
}

// deliver runs the remaining attempts for item. The error is non-nil only when ctx ended.
func (q *Queue) deliver(ctx context.Context, sender Sender, item *QueuedReport) (bool, error) {
	for item.Attempts < q.opts.MaxRetries {
		n := item.Attempts + 1
		if err := q.opts.Sleep(ctx, q.opts.BaseDelay*time.Duration(n)); err != nil {
			return false, err
		}
		if err := ctx.Err(); err != nil {
			return false, err
		}
		item.Attempts = n
		err := sender.Send(ctx, item.Report)
		if err == nil {
			return true, nil
		}
		item.LastError = err.Error()
		q.logger.Debug("redelivery failed",
			zap.String("report_id", item.Report.ID),
			zap.Int("attempt", n),
			zap.Error(err),
		)
	}
	return false, nil
}

func (q *Queue) popFront() *QueuedReport {
	q.mu.Lock()
	if len(q.items) == 0 {
		q.mu.Unlock()
		return nil
	}
	item := q.items[0]
	q.items[0] = nil
	q.items = q.items[1:]
	depth := len(q.items)
	q.mu.Unlock()
	q.notify(depth)
	return item
}

func (q *Queue) pushFront(item *QueuedReport) {
	q.mu.Lock()
	q.items = append([]*QueuedReport{item}, q.items...)
	depth := len(q.items)
	q.mu.Unlock()
	q.notify(depth)
}

func (q *Queue) notify(depth int) {
	if q.opts.OnDepth != nil {
		q.opts.OnDepth(depth)
	}
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
