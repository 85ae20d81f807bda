package watchdog

import "time"

// Ticker delivers periodic ticks. It exists so tests can drive the loop
// without waiting on wall-clock time.
type Ticker interface {
	C() <-chan time.Time
	Stop()
}

// NewTicker returns a Ticker backed by time.Ticker.
func NewTicker(d time.Duration) Ticker {
	return &timeTicker{t: time.NewTicker(d)}
}

type timeTicker struct {
	t *time.Ticker
}

func (t *timeTicker) C() <-chan time.Time { return t.t.C }
func (t *timeTicker) Stop()               { t.t.Stop() }

// ManualTicker is a Ticker whose ticks are sent by the caller.
type ManualTicker struct {
	ch      chan time.Time
	stopped chan struct{}
}

// NewManualTicker returns a ManualTicker with an unbuffered channel, so
// Tick blocks until the loop has received the tick.
func NewManualTicker() *ManualTicker {
	return &ManualTicker{ch: make(chan time.Time), stopped: make(chan struct{})}
}

// C implements Ticker.
func (m *ManualTicker) C() <-chan time.Time { return m.ch }

// Stop implements Ticker.
func (m *ManualTicker) Stop() {
	select {
	case <-m.stopped:
	default:
		close(m.stopped)
	}
}

// Tick delivers one tick. It returns false if the ticker was stopped first.
func (m *ManualTicker) Tick() bool {
	select {
	case m.ch <- time.Now():
		return true
	case <-m.stopped:
		return false
	}
}
