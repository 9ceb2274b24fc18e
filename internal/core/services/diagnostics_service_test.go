package services

import (
	"testing"
	"time"

	"duelnet/internal/core/domain"

	"github.com/stretchr/testify/assert"
)

func TestRateWindow_RollsOff(t *testing.T) {
	w := NewRateWindow(5 * time.Second)
	base := time.Unix(1_700_000_000, 0)

	w.Add(base, 10)
	w.Add(base.Add(time.Second), 5)
	assert.Equal(t, uint64(15), w.Total(base.Add(time.Second)))
	assert.InDelta(t, 3.0, w.Rate(base.Add(time.Second)), 1e-9)

	// first bucket leaves the window after five seconds
	assert.Equal(t, uint64(5), w.Total(base.Add(5*time.Second)))
	assert.Equal(t, uint64(0), w.Total(base.Add(7*time.Second)))

	// reusing a bucket resets it
	w.Add(base.Add(5*time.Second), 1)
	assert.Equal(t, uint64(6), w.Total(base.Add(5*time.Second)))
}

func TestDiagnosticsService_Fill(t *testing.T) {
	now := time.Unix(1_700_000_000, 0)
	d := NewDiagnosticsService()
	d.now = func() time.Time { return now }

	var diag domain.Diagnostics
	d.Fill(&diag)
	assert.Equal(t, int64(-1), diag.LastStateAgeMs)

	for i := 0; i < 10; i++ {
		d.RecordIn()
	}
	d.RecordOut(5)
	d.RecordOut(0)
	d.RecordDecodeError()
	d.RecordSendError()
	d.RecordSendError()
	d.RecordState(now.Add(-250 * time.Millisecond))

	d.Fill(&diag)
	assert.InDelta(t, 2.0, diag.InRate, 1e-9)
	assert.InDelta(t, 1.0, diag.OutRate, 1e-9)
	assert.Equal(t, uint64(1), diag.DecodeErrors)
	assert.Equal(t, uint64(2), diag.SendErrors)
	assert.Equal(t, int64(250), diag.LastStateAgeMs)
	assert.Equal(t, now, diag.Timestamp)
}
