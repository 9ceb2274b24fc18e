package eventloop

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func startLoop(t *testing.T) *Loop {
	t.Helper()
	l := New(16, zaptest.NewLogger(t).Sugar())
	ctx, cancel := context.WithCancel(context.Background())
	go l.Run(ctx)
	t.Cleanup(cancel)
	return l
}

func TestLoop_RunsTasksInOrder(t *testing.T) {
	l := startLoop(t)

	var got []int
	for i := 0; i < 10; i++ {
		i := i
		require.True(t, l.Post(func() { got = append(got, i) }))
	}
	require.NoError(t, l.Call(context.Background(), func() {}))

	assert.Equal(t, []int{0, 1, 2, 3, 4, 5, 6, 7, 8, 9}, got)
}

func TestLoop_RecoversFromPanics(t *testing.T) {
	l := startLoop(t)

	l.Post(func() { panic("boom") })
	ran := false
	require.NoError(t, l.Call(context.Background(), func() { ran = true }))
	assert.True(t, ran)
}

func TestLoop_PostAfterStop(t *testing.T) {
	l := startLoop(t)
	l.Stop()

	assert.False(t, l.Post(func() {}))
	assert.ErrorIs(t, l.Call(context.Background(), func() {}), ErrStopped)
}

func TestTimer_EveryStopsSynchronously(t *testing.T) {
	l := startLoop(t)

	var count atomic.Int32
	timer := l.Every(5*time.Millisecond, func() { count.Add(1) })
	assert.Eventually(t, func() bool { return count.Load() >= 3 }, time.Second, 5*time.Millisecond)

	require.NoError(t, l.Call(context.Background(), timer.Stop))
	stoppedAt := count.Load()
	time.Sleep(30 * time.Millisecond)
	require.NoError(t, l.Call(context.Background(), func() {}))

	assert.Equal(t, stoppedAt, count.Load())
	assert.True(t, timer.Stopped())
}

func TestTimer_AfterFiresOnce(t *testing.T) {
	l := startLoop(t)

	var count atomic.Int32
	l.After(5*time.Millisecond, func() { count.Add(1) })
	assert.Eventually(t, func() bool { return count.Load() == 1 }, time.Second, 5*time.Millisecond)

	time.Sleep(20 * time.Millisecond)
	assert.Equal(t, int32(1), count.Load())
}

func TestTimer_AfterCancelled(t *testing.T) {
	l := startLoop(t)

	var count atomic.Int32
	timer := l.After(20*time.Millisecond, func() { count.Add(1) })
	timer.Stop()
	timer.Stop()

	time.Sleep(50 * time.Millisecond)
	assert.Equal(t, int32(0), count.Load())
}
