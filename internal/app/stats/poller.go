package stats

import (
	"sync"
	"time"

	"github.com/benbjohnson/clock"
)

// Poller calls a tick function at a fixed interval until stopped.
type Poller struct {
	clock    clock.Clock
	interval time.Duration

	mu     sync.Mutex
	ticker *clock.Ticker
	stop   chan struct{}
}

func NewPoller(clk clock.Clock, interval time.Duration) *Poller {
	if interval <= 0 {
		interval = time.Second
	}
	return &Poller{clock: clk, interval: interval}
}

// Start begins ticking, replacing any previous schedule.
func (p *Poller) Start(tick func()) {
	p.Stop()

	p.mu.Lock()
	defer p.mu.Unlock()
	ticker := p.clock.Ticker(p.interval)
	stop := make(chan struct{})
	p.ticker, p.stop = ticker, stop

	go func() {
		for {
			select {
			case <-stop:
				return
			case <-ticker.C:
				select {
				case <-stop:
					return
				default:
				}
				tick()
			}
		}
	}()
}

// Stop halts the schedule. A tick already running may still finish.
func (p *Poller) Stop() {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.ticker == nil {
		return
	}
	p.ticker.Stop()
	close(p.stop)
	p.ticker, p.stop = nil, nil
}

// Running reports whether a schedule is active.
func (p *Poller) Running() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.ticker != nil
}
