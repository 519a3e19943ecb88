package metrics

import (
	"context"
	"runtime"
	"sync"
	"time"
)

// Collector periodically refreshes gauges that are sampled rather than
// updated inline, such as uptime and relay occupancy.
type Collector struct {
	interval time.Duration
	start    time.Time

	mu       sync.Mutex
	samplers []func()
}

// NewCollector creates a collector that samples every interval.
func NewCollector(interval time.Duration) *Collector {
	return &Collector{interval: interval, start: time.Now()}
}

// AddSampler registers a function run on every collection.
func (c *Collector) AddSampler(fn func()) {
	c.mu.Lock()
	c.samplers = append(c.samplers, fn)
	c.mu.Unlock()
}

// Collect refreshes the runtime gauges and runs every registered sampler once.
func (c *Collector) Collect() {
	if UptimeSeconds != nil {
		_ = UptimeSeconds.Set(time.Since(c.start).Seconds())
	}
	if Goroutines != nil {
		_ = Goroutines.Set(float64(runtime.NumGoroutine()))
	}

	c.mu.Lock()
	samplers := append([]func(){}, c.samplers...)
	c.mu.Unlock()
	for _, sample := range samplers {
		sample()
	}
}

// Run collects immediately and then on every tick until ctx is done.
func (c *Collector) Run(ctx context.Context) error {
	ticker := time.NewTicker(c.interval)
	defer ticker.Stop()

	c.Collect()
	for {
		select {
		case <-ticker.C:
			c.Collect()
		case <-ctx.Done():
			return nil
		}
	}
}
