package stats

import (
	"sync"
	"time"

	"github.com/pion/webrtc/v4"
)

// Collector keeps the previous snapshot per connection key so consecutive
// samples can compute bitrate.
type Collector struct {
	mu   sync.Mutex
	last map[string]Snapshot
}

func NewCollector() *Collector {
	return &Collector{last: make(map[string]Snapshot)}
}

// Sample derives a snapshot for key and stores it as the new baseline.
// On error the previous baseline is kept.
func (c *Collector) Sample(key string, report webrtc.StatsReport, now time.Time) (Snapshot, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	var prev *Snapshot
	if s, ok := c.last[key]; ok {
		prev = &s
	}
	snap, err := Sample(report, prev, now)
	if err != nil {
		return Snapshot{}, err
	}
	c.last[key] = snap
	return snap, nil
}

func (c *Collector) Last(key string) (Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	s, ok := c.last[key]
	return s, ok
}

// All returns a copy of the latest snapshot per key.
func (c *Collector) All() map[string]Snapshot {
	c.mu.Lock()
	defer c.mu.Unlock()
	out := make(map[string]Snapshot, len(c.last))
	for k, v := range c.last {
		out[k] = v
	}
	return out
}

func (c *Collector) Forget(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	delete(c.last, key)
}

func (c *Collector) Reset() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.last = make(map[string]Snapshot)
}
