package services

import (
	"sync"
	"time"

	"duelnet/internal/core/domain"
)

// DiagnosticsWindow is the span packet rates are averaged over.
const DiagnosticsWindow = 5 * time.Second

// RateWindow counts events over a rolling window using one bucket per second.
type RateWindow struct {
	window  time.Duration
	buckets []uint64
	// stamps holds the unix second each bucket was last reset for.
	stamps []int64
}

func NewRateWindow(window time.Duration) *RateWindow {
	n := int(window / time.Second)
	if n < 1 {
		n = 1
	}
	return &RateWindow{
		window:  time.Duration(n) * time.Second,
		buckets: make([]uint64, n),
		stamps:  make([]int64, n),
	}
}

func (w *RateWindow) Add(now time.Time, n uint64) {
	sec := now.Unix()
	i := int(sec % int64(len(w.buckets)))
	if w.stamps[i] != sec {
		w.stamps[i] = sec
		w.buckets[i] = 0
	}
	w.buckets[i] += n
}

// Total is the number of events recorded within the window ending at now.
func (w *RateWindow) Total(now time.Time) uint64 {
	sec := now.Unix()
	oldest := sec - int64(len(w.buckets)) + 1
	var total uint64
	for i, stamp := range w.stamps {
		if stamp >= oldest && stamp <= sec {
			total += w.buckets[i]
		}
	}
	return total
}

// Rate is the per-second average over the window.
func (w *RateWindow) Rate(now time.Time) float64 {
	return float64(w.Total(now)) / w.window.Seconds()
}

// DiagnosticsService aggregates the peripheral packet counters both roles keep.
type DiagnosticsService struct {
	mu sync.Mutex

	in  *RateWindow
	out *RateWindow

	decodeErrors uint64
	sendErrors   uint64
	lastStateAt  time.Time
	now          func() time.Time
}

func NewDiagnosticsService() *DiagnosticsService {
	return &DiagnosticsService{
		in:  NewRateWindow(DiagnosticsWindow),
		out: NewRateWindow(DiagnosticsWindow),
		now: time.Now,
	}
}

func (d *DiagnosticsService) RecordIn() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.in.Add(d.now(), 1)
}

func (d *DiagnosticsService) RecordOut(n int) {
	if n <= 0 {
		return
	}
	d.mu.Lock()
	defer d.mu.Unlock()
	d.out.Add(d.now(), uint64(n))
}

func (d *DiagnosticsService) RecordDecodeError() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.decodeErrors++
}

func (d *DiagnosticsService) RecordSendError() {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sendErrors++
}

func (d *DiagnosticsService) RecordState(at time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.lastStateAt = at
}

// Fill copies the counters into diag.
func (d *DiagnosticsService) Fill(diag *domain.Diagnostics) {
	d.mu.Lock()
	defer d.mu.Unlock()

	now := d.now()
	diag.InRate = d.in.Rate(now)
	diag.OutRate = d.out.Rate(now)
	diag.DecodeErrors = d.decodeErrors
	diag.SendErrors = d.sendErrors
	diag.LastStateAgeMs = -1
	if !d.lastStateAt.IsZero() {
		diag.LastStateAgeMs = now.Sub(d.lastStateAt).Milliseconds()
	}
	diag.Timestamp = now
}
