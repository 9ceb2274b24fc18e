// Package scheduler drives the steady-state data path once connections are
// open: the host's fixed-step tick, state broadcast and input ingest, and the
// guest's input send and state ingest.
//
// Schedulers are not safe for concurrent use. Every method except
// LatestDiagnostics must run on the session event loop.
package scheduler

import (
	"sync"
	"time"

	"duelnet/internal/core/domain"
)

// Message kinds reported to Metrics.
const (
	KindInput = "input"
	KindState = "state"
)

// Metrics receives data path events.
type Metrics interface {
	TickCompleted(elapsed time.Duration)
	MessagesSent(kind string, n int)
	MessageReceived(kind string)
	SendFailed(kind string, n int)
	DecodeFailed(kind string)
	StaleInputs(n int)
}

type nopMetrics struct{}

func (nopMetrics) TickCompleted(time.Duration) {}
func (nopMetrics) MessagesSent(string, int)    {}
func (nopMetrics) MessageReceived(string)      {}
func (nopMetrics) SendFailed(string, int)      {}
func (nopMetrics) DecodeFailed(string)         {}
func (nopMetrics) StaleInputs(int)             {}

// ConnectionStats is the read side of the connection manager used for
// diagnostics.
type ConnectionStats interface {
	Connections() (total int, open int)
	Peers() []domain.PeerDiagnostics
}

// Broadcaster sends a state payload to every open state channel.
type Broadcaster interface {
	ConnectionStats
	Broadcast(payload string) (sent int, failed int)
}

// InputSender writes an input payload to the host.
type InputSender interface {
	ConnectionStats
	SendInput(payload string) error
}

// snapshotCache holds the last diagnostics snapshot for readers outside the
// event loop.
type snapshotCache struct {
	mu   sync.RWMutex
	last domain.Diagnostics
}

func (c *snapshotCache) store(d domain.Diagnostics) {
	c.mu.Lock()
	c.last = d
	c.mu.Unlock()
}

func (c *snapshotCache) load() domain.Diagnostics {
	c.mu.RLock()
	defer c.mu.RUnlock()
	d := c.last
	d.Peers = append([]domain.PeerDiagnostics(nil), c.last.Peers...)
	return d
}
