package api

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"

	"github.com/warp/points-engine/ledger"
)

type countingReloader struct {
	calls atomic.Int32
	err   error
}

func (c *countingReloader) Reload(context.Context) error {
	c.calls.Add(1)
	return c.err
}

func TestRefreshScheduler_RunsImmediatelyAndOnTick(t *testing.T) {
	target := &countingReloader{}
	rs := NewRefreshScheduler(target, 10*time.Millisecond, nil)

	rs.Start()
	assert.Eventually(t, func() bool { return target.calls.Load() >= 3 }, time.Second, 5*time.Millisecond)
	rs.Stop()

	after := target.calls.Load()
	time.Sleep(30 * time.Millisecond)
	assert.Equal(t, after, target.calls.Load(), "no refresh after Stop")
	assert.False(t, rs.LastRun().IsZero())
}

func TestRefreshScheduler_DisabledByZeroInterval(t *testing.T) {
	target := &countingReloader{}
	rs := NewRefreshScheduler(target, 0, nil)

	rs.Start()
	time.Sleep(20 * time.Millisecond)
	rs.Stop()

	assert.Zero(t, target.calls.Load())
}

func TestRefreshScheduler_RunNowReportsFailure(t *testing.T) {
	target := &countingReloader{err: ledger.ErrActionInFlight}
	rs := NewRefreshScheduler(target, time.Hour, nil)

	err := rs.RunNow(context.Background())

	assert.True(t, errors.Is(err, ledger.ErrActionInFlight))
	assert.Equal(t, int32(1), target.calls.Load())
}
