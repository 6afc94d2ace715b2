package session

import (
	"sync/atomic"
	"time"
)

// Gate admits one capture cycle at a time.
type Gate struct {
	busy atomic.Bool
}

// TryEnter claims the gate. It returns false while a cycle holds it.
func (g *Gate) TryEnter() bool {
	return g.busy.CompareAndSwap(false, true)
}

// Exit releases the gate unconditionally.
func (g *Gate) Exit() {
	g.busy.Store(false)
}

func (g *Gate) Busy() bool {
	return g.busy.Load()
}

// Ticker paces the analysis loop.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

type intervalTicker struct {
	t *time.Ticker
}

// NewIntervalTicker ticks every d. Ticks missed while the loop is busy are
// dropped, so a slow detector paces the loop.
func NewIntervalTicker(d time.Duration) Ticker {
	return &intervalTicker{t: time.NewTicker(d)}
}

func (t *intervalTicker) C() <-chan time.Time { return t.t.C }
func (t *intervalTicker) Stop()               { t.t.Stop() }
