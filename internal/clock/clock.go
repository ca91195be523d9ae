// Package clock provides the ticker abstraction shared by the periodic loops.
package clock

import "time"

// TickerFunc starts a ticker with period d and returns its channel and a stop
// function.
type TickerFunc func(d time.Duration) (<-chan time.Time, func())

// Real is a TickerFunc backed by time.NewTicker
func Real(d time.Duration) (<-chan time.Time, func()) {
	t := time.NewTicker(d)
	return t.C, t.Stop
}

// Manual is a hand-driven ticker for tests. Every ticker it creates shares
// one unbuffered channel, so Tick returns only once a loop has received the
// tick.
type Manual struct {
	ch chan time.Time
}

// NewManual creates a Manual clock
func NewManual() *Manual {
	return &Manual{ch: make(chan time.Time)}
}

// Ticker implements TickerFunc
func (m *Manual) Ticker(time.Duration) (<-chan time.Time, func()) {
	return m.ch, func() {}
}

// Tick delivers one tick. It reports false if no loop took it within timeout.
func (m *Manual) Tick(timeout time.Duration) bool {
	select {
	case m.ch <- time.Now():
		return true
	case <-time.After(timeout):
		return false
	}
}
