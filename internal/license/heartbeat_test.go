package license

import (
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	apperrors "cardkeyd/internal/errors"
)

func TestMonitorFailureCallbackFiresOnce(t *testing.T) {
	m := NewMonitor(10*time.Millisecond, time.Millisecond, time.Second, nil)

	var checks, failures atomic.Int32
	valid := atomic.Bool{}
	valid.Store(true)

	m.Start(func() bool {
		checks.Add(1)
		return valid.Load()
	}, func() {
		failures.Add(1)
	})

	// let a few healthy checks pass, then pull trust
	require.Eventually(t, func() bool { return checks.Load() >= 2 }, time.Second, time.Millisecond)
	valid.Store(false)

	require.Eventually(t, func() bool { return failures.Load() == 1 }, time.Second, time.Millisecond)

	// loop exited after the failure; no further checks or callbacks
	settled := checks.Load()
	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, settled, checks.Load())
	assert.Equal(t, int32(1), failures.Load())
}

func TestMonitorStopIsPromptAndIdempotent(t *testing.T) {
	m := NewMonitor(time.Hour, time.Millisecond, time.Second, nil)
	m.Start(func() bool { return true }, func() { t.Error("unexpected failure callback") })

	start := time.Now()
	require.NoError(t, m.Stop())
	assert.Less(t, time.Since(start), 500*time.Millisecond, "stop must be observed within a tick, not an interval")

	require.NoError(t, m.Stop())
}

func TestMonitorStopTimeoutReported(t *testing.T) {
	m := NewMonitor(10*time.Millisecond, time.Millisecond, 20*time.Millisecond, nil)

	block := make(chan struct{})
	started := make(chan struct{})
	m.Start(func() bool {
		close(started)
		<-block // wedge the check so the loop cannot observe stop
		return true
	}, func() {})

	<-started
	err := m.Stop()
	assert.ErrorIs(t, err, apperrors.ErrHeartbeatStopTimeout)
	close(block)
}

func TestMonitorRestartsAfterFailureExit(t *testing.T) {
	m := NewMonitor(10*time.Millisecond, time.Millisecond, time.Second, nil)

	var failures atomic.Int32
	m.Start(func() bool { return false }, func() { failures.Add(1) })
	require.Eventually(t, func() bool { return failures.Load() == 1 }, time.Second, time.Millisecond)

	// previous run exited on failure; a new start spins up a fresh loop
	var checks atomic.Int32
	m.Start(func() bool { checks.Add(1); return true }, func() {})
	require.Eventually(t, func() bool { return checks.Load() >= 1 }, time.Second, time.Millisecond)
	require.NoError(t, m.Stop())
}

func TestMonitorStartWhileRunningIsNoOp(t *testing.T) {
	m := NewMonitor(time.Hour, time.Millisecond, time.Second, nil)

	var first atomic.Int32
	m.Start(func() bool { first.Add(1); return true }, func() {})
	require.Eventually(t, func() bool { return first.Load() >= 1 }, time.Second, time.Millisecond)

	m.Start(func() bool { t.Error("second check func must not run"); return true }, func() {})
	require.NoError(t, m.Stop())
}
