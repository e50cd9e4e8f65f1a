// Package nimblemetrics implements the small-window aggregator spec.md §9
// calls for: rate-over-window counters (datagrams/s, octets/s) and
// min/avg/max aggregation over the last N samples (default N=10), each
// additionally exposed as a Prometheus collector so the numbers can be
// scraped the way luxfi-consensus exposes its own consensus metrics.
package nimblemetrics

import (
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// DefaultWindowSamples is the default sample window for the min/avg/max
// aggregator.
const DefaultWindowSamples = 10

// RateCounter tracks a rate-over-window (e.g. datagrams/s, octets/s): an
// accumulating count and the timestamp of the last reset, from which a
// per-second rate is derived on demand.
type RateCounter struct {
	mu        sync.Mutex
	count     uint64
	windowLen time.Duration
	lastReset time.Time
}

// NewRateCounter creates a RateCounter over windowLen (e.g. 1s).
func NewRateCounter(windowLen time.Duration) *RateCounter {
	return &RateCounter{windowLen: windowLen, lastReset: time.Time{}}
}

// Add records n units (datagrams, octets, ...) at time now.
func (r *RateCounter) Add(now time.Time, n uint64) {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastReset.IsZero() {
		r.lastReset = now
	}
	r.count += n
}

// RatePerSecond returns the accumulated count divided by elapsed window
// time, and resets the window if windowLen has elapsed.
func (r *RateCounter) RatePerSecond(now time.Time) float64 {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.lastReset.IsZero() {
		return 0
	}
	elapsed := now.Sub(r.lastReset)
	if elapsed <= 0 {
		return 0
	}
	rate := float64(r.count) / elapsed.Seconds()
	if elapsed >= r.windowLen {
		r.count = 0
		r.lastReset = now
	}
	return rate
}

// Describe implements prometheus.Collector.
func (r *RateCounter) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(r, ch)
}

// Collect implements prometheus.Collector, exporting the current
// rate-per-second as a gauge.
func (r *RateCounter) Collect(ch chan<- prometheus.Metric) {
	desc := prometheus.NewDesc("nimble_rate_per_second", "rate over window", nil, nil)
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, r.RatePerSecond(time.Now()))
}

// WindowAggregate tracks min/avg/max over the last N samples, e.g. RTT or
// per-datagram drop-count.
type WindowAggregate struct {
	mu      sync.Mutex
	samples []float64
	max     int
}

// NewWindowAggregate creates an aggregate over the last maxSamples
// observations.
func NewWindowAggregate(maxSamples int) *WindowAggregate {
	return &WindowAggregate{max: maxSamples}
}

// Observe records one sample, dropping the oldest if the window is full.
func (w *WindowAggregate) Observe(v float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	w.samples = append(w.samples, v)
	if len(w.samples) > w.max {
		w.samples = w.samples[len(w.samples)-w.max:]
	}
}

// MinAvgMax returns the min, average, and max of the current window. All
// zero when no samples have been observed.
func (w *WindowAggregate) MinAvgMax() (min, avg, max float64) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if len(w.samples) == 0 {
		return 0, 0, 0
	}
	min, max = w.samples[0], w.samples[0]
	sum := 0.0
	for _, s := range w.samples {
		if s < min {
			min = s
		}
		if s > max {
			max = s
		}
		sum += s
	}
	return min, sum / float64(len(w.samples)), max
}

// Describe implements prometheus.Collector.
func (w *WindowAggregate) Describe(ch chan<- *prometheus.Desc) {
	prometheus.DescribeByCollect(w, ch)
}

// Collect implements prometheus.Collector, exporting min/avg/max as three
// gauges sharing one metric name distinguished by an "agg" label.
func (w *WindowAggregate) Collect(ch chan<- prometheus.Metric) {
	desc := prometheus.NewDesc("nimble_window_aggregate", "min/avg/max over the sample window", []string{"agg"}, nil)
	min, avg, max := w.MinAvgMax()
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, min, "min")
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, avg, "avg")
	ch <- prometheus.MustNewConstMetric(desc, prometheus.GaugeValue, max, "max")
}

// ConnectionMetrics bundles the counters and aggregates one connection
// tracks: datagram/octet rates in both directions, and latency/drop-count
// aggregation.
type ConnectionMetrics struct {
	DatagramsIn  *RateCounter
	DatagramsOut *RateCounter
	OctetsIn     *RateCounter
	OctetsOut    *RateCounter
	Latency      *WindowAggregate
	DropCount    *WindowAggregate
}

// NewConnectionMetrics creates a full set of per-connection metrics with
// default window sizes.
func NewConnectionMetrics() *ConnectionMetrics {
	return &ConnectionMetrics{
		DatagramsIn:  NewRateCounter(time.Second),
		DatagramsOut: NewRateCounter(time.Second),
		OctetsIn:     NewRateCounter(time.Second),
		OctetsOut:    NewRateCounter(time.Second),
		Latency:      NewWindowAggregate(DefaultWindowSamples),
		DropCount:    NewWindowAggregate(DefaultWindowSamples),
	}
}

// Collectors returns every collector in this bundle, for registration with
// a prometheus.Registry.
func (c *ConnectionMetrics) Collectors() []prometheus.Collector {
	return []prometheus.Collector{c.DatagramsIn, c.DatagramsOut, c.OctetsIn, c.OctetsOut, c.Latency, c.DropCount}
}

// EstimateRTTMillis reconstructs a round-trip time in milliseconds from a
// 16-bit "now" timestamp and the low 16 bits echoed back by a Pong or
// connect-response, per spec.md §4.7 and §9: the echo carries only the low
// 16 bits of client time, so subtraction wraps within the ~65s window that
// is vastly larger than any realistic RTT.
func EstimateRTTMillis(nowLow16, echoedLow16 uint16) uint16 {
	return nowLow16 - echoedLow16
}
