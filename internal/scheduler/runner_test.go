package scheduler

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type fakeWorker struct {
	name     string
	interval time.Duration
	ticks    int
	deadline time.Time
	err      error
}

func (f *fakeWorker) Name() string            { return f.name }
func (f *fakeWorker) Interval() time.Duration { return f.interval }
func (f *fakeWorker) Tick(ctx context.Context) error {
	f.ticks++
	f.deadline, _ = ctx.Deadline()
	return f.err
}

func TestRegisterSkipsDisabledWorkers(t *testing.T) {
	r := NewRunner(nil)
	require.NoError(t, r.Register(&fakeWorker{name: "on", interval: time.Minute}))
	require.NoError(t, r.Register(&fakeWorker{name: "off", interval: -1}))
	require.NoError(t, r.Register(&fakeWorker{name: "zero"}))

	require.Len(t, r.Workers(), 1)
	assert.Equal(t, "on", r.Workers()[0].Name())
}

func TestRunOnceBoundsTickByInterval(t *testing.T) {
	w := &fakeWorker{name: "w", interval: 5 * time.Second}
	before := time.Now()
	require.NoError(t, RunOnce(context.Background(), w, nil))

	assert.Equal(t, 1, w.ticks)
	assert.WithinDuration(t, before.Add(5*time.Second), w.deadline, time.Second)
}

func TestRunOnceReturnsTickError(t *testing.T) {
	w := &fakeWorker{name: "w", interval: time.Second, err: errors.New("boom")}
	err := RunOnce(context.Background(), w, nil)
	assert.EqualError(t, err, "boom")
	assert.Equal(t, 1, w.ticks)
}

func TestStartStopIsIdempotent(t *testing.T) {
	r := NewRunner(nil)
	require.NoError(t, r.Register(&fakeWorker{name: "w", interval: time.Hour}))

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	r.Start(ctx)
	r.Start(ctx)
	r.Stop()
	r.Stop()
}

func TestRunAfterStopDoesNothing(t *testing.T) {
	r := NewRunner(nil)
	w := &fakeWorker{name: "w", interval: time.Hour}
	r.run(w)
	assert.Zero(t, w.ticks, "not started")

	r.Start(context.Background())
	r.run(w)
	assert.Equal(t, 1, w.ticks)

	r.Stop()
	r.run(w)
	assert.Equal(t, 1, w.ticks)
}
