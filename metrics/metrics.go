// Package metrics keeps in-process counters and latency samples for the /metrics endpoint.
package metrics

import (
	"sort"
	"strings"
	"sync"
	"time"
)

const maxLatencySamples = 100

// Collector is safe for concurrent use. A nil *Collector discards everything.
type Collector struct {
	counters  map[string]map[string]int64
	latencies map[string][]time.Duration
	mutex     sync.RWMutex
}

func NewCollector() *Collector {
	return &Collector{
		counters:  make(map[string]map[string]int64),
		latencies: make(map[string][]time.Duration),
	}
}

func labelKey(labels map[string]string) string {
	if len(labels) == 0 {
		return "default"
	}
	parts := make([]string, 0, len(labels))
	for k, v := range labels {
		parts = append(parts, k+":"+v)
	}
	sort.Strings(parts)
	return strings.Join(parts, ",")
}

func (c *Collector) IncrementCounter(name string, labels map[string]string) {
	if c == nil {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	if _, exists := c.counters[name]; !exists {
		c.counters[name] = make(map[string]int64)
	}
	c.counters[name][labelKey(labels)]++
}

func (c *Collector) ObserveLatency(name string, d time.Duration) {
	if c == nil {
		return
	}
	c.mutex.Lock()
	defer c.mutex.Unlock()

	samples := append(c.latencies[name], d)
	if len(samples) > maxLatencySamples {
		samples = samples[len(samples)-maxLatencySamples:]
	}
	c.latencies[name] = samples
}

func (c *Collector) Counters() map[string]map[string]int64 {
	out := make(map[string]map[string]int64)
	if c == nil {
		return out
	}
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for name, labels := range c.counters {
		out[name] = make(map[string]int64, len(labels))
		for label, value := range labels {
			out[name][label] = value
		}
	}
	return out
}

// Latencies reports average and max in milliseconds over the retained samples.
func (c *Collector) Latencies() map[string]map[string]float64 {
	out := make(map[string]map[string]float64)
	if c == nil {
		return out
	}
	c.mutex.RLock()
	defer c.mutex.RUnlock()

	for name, samples := range c.latencies {
		if len(samples) == 0 {
			continue
		}
		var sum, max time.Duration
		for _, d := range samples {
			sum += d
			if d > max {
				max = d
			}
		}
		out[name] = map[string]float64{
			"avg_ms": float64(sum) / float64(len(samples)) / float64(time.Millisecond),
			"max_ms": float64(max) / float64(time.Millisecond),
			"count":  float64(len(samples)),
		}
	}
	return out
}
