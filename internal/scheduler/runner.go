// internal/scheduler/runner.go - periodic worker scheduling on robfig/cron
package scheduler

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/John-MustangGT/sentinel/internal/metrics"
	"github.com/robfig/cron/v3"
	"github.com/sirupsen/logrus"
)

// Worker is one independently scheduled background job. Tick handles its own
// per-item failures; a returned error means the tick as a whole failed.
type Worker interface {
	Name() string
	Interval() time.Duration
	Tick(ctx context.Context) error
}

// Runner schedules workers with "@every" specs. A worker never overlaps with
// its own previous tick, and a panicking tick is recovered and logged.
type Runner struct {
	cron    *cron.Cron
	metrics *metrics.Collector
	workers []Worker

	mu      sync.Mutex
	ctx     context.Context
	cancel  context.CancelFunc
	running bool
}

func NewRunner(collector *metrics.Collector) *Runner {
	logger := cronLogger{entry: logrus.WithField("component", "scheduler")}
	return &Runner{
		cron: cron.New(
			cron.WithLogger(logger),
			cron.WithChain(cron.Recover(logger), cron.SkipIfStillRunning(logger)),
		),
		metrics: collector,
	}
}

// Register adds a worker. Workers with a non-positive interval are disabled.
func (r *Runner) Register(w Worker) error {
	interval := w.Interval()
	if interval <= 0 {
		logrus.WithField("worker", w.Name()).Info("Worker disabled")
		return nil
	}

	_, err := r.cron.AddFunc(fmt.Sprintf("@every %s", interval), func() { r.run(w) })
	if err != nil {
		return fmt.Errorf("failed to schedule worker %s: %w", w.Name(), err)
	}
	r.workers = append(r.workers, w)
	logrus.WithFields(logrus.Fields{
		"worker":   w.Name(),
		"interval": interval.String(),
	}).Info("Worker registered")
	return nil
}

func (r *Runner) Workers() []Worker {
	return r.workers
}

// Start begins scheduling. Ticks run with a context derived from ctx and
// are cancelled by Stop.
func (r *Runner) Start(ctx context.Context) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.running {
		return
	}
	r.ctx, r.cancel = context.WithCancel(ctx)
	r.running = true
	r.cron.Start()
	logrus.WithField("workers", len(r.workers)).Info("Scheduler started")
}

// Stop cancels in-flight ticks and waits for them to return.
func (r *Runner) Stop() {
	r.mu.Lock()
	if !r.running {
		r.mu.Unlock()
		return
	}
	r.running = false
	r.cancel()
	r.mu.Unlock()

	<-r.cron.Stop().Done()
	logrus.Info("Scheduler stopped")
}

func (r *Runner) run(w Worker) {
	r.mu.Lock()
	parent := r.ctx
	r.mu.Unlock()
	if parent == nil || parent.Err() != nil {
		return
	}
	_ = RunOnce(parent, w, r.metrics)
}

// RunOnce executes a single tick bounded by the worker's interval. The tick
// error is logged and returned.
func RunOnce(parent context.Context, w Worker, collector *metrics.Collector) error {
	timeout := w.Interval()
	if timeout <= 0 {
		timeout = time.Minute
	}
	ctx, cancel := context.WithTimeout(parent, timeout)
	defer cancel()

	start := time.Now()
	err := w.Tick(ctx)
	collector.RecordTick(w.Name(), time.Since(start))
	if err != nil {
		logrus.WithError(err).WithField("worker", w.Name()).Error("Worker tick failed")
	}
	return err
}

// cronLogger routes cron's own logging through logrus.
type cronLogger struct {
	entry *logrus.Entry
}

func (l cronLogger) Info(msg string, keysAndValues ...interface{}) {
	l.entry.WithFields(fieldsOf(keysAndValues)).Debug(msg)
}

func (l cronLogger) Error(err error, msg string, keysAndValues ...interface{}) {
	l.entry.WithError(err).WithFields(fieldsOf(keysAndValues)).Error(msg)
}

func fieldsOf(keysAndValues []interface{}) logrus.Fields {
	fields := logrus.Fields{}
	for i := 0; i+1 < len(keysAndValues); i += 2 {
		fields[fmt.Sprint(keysAndValues[i])] = keysAndValues[i+1]
	}
	return fields
}
