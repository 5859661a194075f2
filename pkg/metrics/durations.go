package metrics

import (
	"sort"
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

// durationRing is a bounded ring buffer of recent request durations exposed
// as a gauge with p50/p90/p99 quantile labels. Quantiles are computed from
// a sorted copy at collect time, so writes stay O(1).
type durationRing struct {
	mu   sync.Mutex
	buf  []float64
	next int
	full bool

	desc *prometheus.Desc
}

var quantiles = []struct {
	label string
	q     float64
}{
	{"0.5", 0.5},
	{"0.9", 0.9},
	{"0.99", 0.99},
}

func newDurationRing(capacity int) *durationRing {
	return &durationRing{
		buf: make([]float64, capacity),
		desc: prometheus.NewDesc(
			"nebula_request_duration_ms",
			"Recent mission durations in milliseconds (windowed quantiles)",
			[]string{"quantile"}, nil,
		),
	}
}

func (d *durationRing) observe(ms float64) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.buf[d.next] = ms
	d.next++
	if d.next == len(d.buf) {
		d.next = 0
		d.full = true
	}
}

// snapshot returns a copy of the currently held samples.
func (d *durationRing) snapshot() []float64 {
	d.mu.Lock()
	defer d.mu.Unlock()
	n := d.next
	if d.full {
		n = len(d.buf)
	}
	out := make([]float64, n)
	copy(out, d.buf[:n])
	return out
}

// Describe implements prometheus.Collector.
func (d *durationRing) Describe(ch chan<- *prometheus.Desc) {
	ch <- d.desc
}

// Collect implements prometheus.Collector.
func (d *durationRing) Collect(ch chan<- prometheus.Metric) {
	samples := d.snapshot()
	if len(samples) == 0 {
		return
	}
	sort.Float64s(samples)
	for _, q := range quantiles {
		idx := int(q.q * float64(len(samples)))
		if idx >= len(samples) {
			idx = len(samples) - 1
		}
		ch <- prometheus.MustNewConstMetric(d.desc, prometheus.GaugeValue, samples[idx], q.label)
	}
}
