package updater

import (
	"context"
	"log"
	"time"

	"github.com/jonboulle/clockwork"
)

// Ticker is driven once per tick.
type Ticker interface {
	Tick()
}

// TickUpdater calls Tick at a fixed period. In poll mode this detects zone
// transitions; in event mode it only drives countdowns.
type TickUpdater struct {
	target   Ticker
	interval time.Duration
	clock    clockwork.Clock
	ctx      context.Context
	cancel   context.CancelFunc
	done     chan struct{}
}

// NewTickUpdater creates an updater. A nil clock uses the real clock.
func NewTickUpdater(target Ticker, interval time.Duration, clock clockwork.Clock) *TickUpdater {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	ctx, cancel := context.WithCancel(context.Background())
	return &TickUpdater{
		target:   target,
		interval: interval,
		clock:    clock,
		ctx:      ctx,
		cancel:   cancel,
		done:     make(chan struct{}),
	}
}

// Start runs the tick loop until Stop. It should be run in a goroutine.
func (tu *TickUpdater) Start() {
	defer close(tu.done)
	log.Printf("INFO: TickUpdater: starting with tick interval %v", tu.interval)
	ticker := tu.clock.NewTicker(tu.interval)
	defer ticker.Stop()

	for {
		select {
		case <-tu.ctx.Done():
			log.Println("INFO: TickUpdater: shutting down.")
			return
		case <-ticker.Chan():
			tu.target.Tick()
		}
	}
}

// Stop ends the loop and waits for the current tick to finish.
func (tu *TickUpdater) Stop() {
	tu.cancel()
	<-tu.done
}
