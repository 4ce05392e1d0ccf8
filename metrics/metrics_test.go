package metrics

import (
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestCounterLabelsAreOrderIndependent(t *testing.T) {
	c := NewCollector()
	c.IncrementCounter("offers_rejected", map[string]string{"reason": "BelowMinimumBid", "source": "api"})
	c.IncrementCounter("offers_rejected", map[string]string{"source": "api", "reason": "BelowMinimumBid"})
	c.IncrementCounter("offers_submitted", nil)

	counters := c.Counters()
	assert.Equal(t, int64(2), counters["offers_rejected"]["reason:BelowMinimumBid,source:api"])
	assert.Equal(t, int64(1), counters["offers_submitted"]["default"])
}

func TestLatencyWindow(t *testing.T) {
	c := NewCollector()
	for i := 0; i < maxLatencySamples+20; i++ {
		c.ObserveLatency("ocr_scan", 10*time.Millisecond)
	}
	c.ObserveLatency("ocr_scan", 30*time.Millisecond)

	l := c.Latencies()["ocr_scan"]
	assert.Equal(t, float64(maxLatencySamples), l["count"])
	assert.Equal(t, 30.0, l["max_ms"])
	assert.InDelta(t, 10.2, l["avg_ms"], 0.001)
}

func TestNilCollectorIsNoop(t *testing.T) {
	var c *Collector
	c.IncrementCounter("x", nil)
	c.ObserveLatency("x", time.Second)
	assert.Empty(t, c.Counters())
	assert.Empty(t, c.Latencies())
}

func TestConcurrentIncrements(t *testing.T) {
	c := NewCollector()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			c.IncrementCounter("n", nil)
		}()
	}
	wg.Wait()
	assert.Equal(t, int64(50), c.Counters()["n"]["default"])
}
