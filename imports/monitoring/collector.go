// Package monitoring records queue depth, per-stage latency and outcome
// counts for the import pipeline. The same data is exported to Prometheus
// and exposed in-process through Snapshot.
package monitoring

import (
	"math"
	"sort"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

const (
	OutcomeSuccess = "success"
	OutcomeError   = "error"

	defaultWindow = 1024
)

// StageStats summarizes one stage over the retained latency window; counts
// cover the collector's whole lifetime.
type StageStats struct {
	Count       int64         `json:"count"`
	Errors      int64         `json:"errors"`
	SuccessRate float64       `json:"success_rate"`
	ErrorRate   float64       `json:"error_rate"`
	P50         time.Duration `json:"p50"`
	P95         time.Duration `json:"p95"`
	P99         time.Duration `json:"p99"`
}

type Snapshot struct {
	QueueDepth int64                 `json:"queue_depth"`
	Stages     map[string]StageStats `json:"stages"`
	Items      map[string]int64      `json:"items"`
	TakenAt    time.Time             `json:"taken_at"`
}

type stageWindow struct {
	samples []time.Duration
	next    int
	count   int64
	errors  int64
}

func (w *stageWindow) add(d time.Duration, size int) {
	if len(w.samples) < size {
		w.samples = append(w.samples, d)
		return
	}
	w.samples[w.next] = d
	w.next = (w.next + 1) % size
}

// Collector is safe for concurrent use. A nil *Collector ignores every call,
// so components can take one optionally.
type Collector struct {
	mu         sync.Mutex
	window     int
	stages     map[string]*stageWindow
	items      map[string]int64
	queueDepth int64

	stageDuration *prometheus.HistogramVec
	stageTotal    *prometheus.CounterVec
	itemsTotal    *prometheus.CounterVec
	queueGauge    prometheus.Gauge
}

// NewCollector registers the import metrics on reg. A nil reg keeps the
// metrics unregistered, which tests use to avoid global state.
func NewCollector(reg prometheus.Registerer) *Collector {
	c := &Collector{
		window: defaultWindow,
		stages: map[string]*stageWindow{},
		items:  map[string]int64{},
		stageDuration: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "imports",
			Name:      "stage_duration_seconds",
			Help:      "Duration of pipeline stages.",
			Buckets:   prometheus.ExponentialBuckets(0.005, 2, 14),
		}, []string{"stage"}),
		stageTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imports",
			Name:      "stage_total",
			Help:      "Pipeline stage executions by outcome.",
		}, []string{"stage", "outcome"}),
		itemsTotal: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "imports",
			Name:      "items_total",
			Help:      "Items that reached a terminal status.",
		}, []string{"status"}),
		queueGauge: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "imports",
			Name:      "queue_depth",
			Help:      "Items enqueued and not yet finished.",
		}),
	}
	if reg != nil {
		reg.MustRegister(c.stageDuration, c.stageTotal, c.itemsTotal, c.queueGauge)
	}
	return c
}

func (c *Collector) ObserveStage(stage string, d time.Duration, err error) {
	if c == nil {
		return
	}
	outcome := OutcomeSuccess
	if err != nil {
		outcome = OutcomeError
	}
	c.stageDuration.WithLabelValues(stage).Observe(d.Seconds())
	c.stageTotal.WithLabelValues(stage, outcome).Inc()

	c.mu.Lock()
	defer c.mu.Unlock()
	w := c.stages[stage]
	if w == nil {
		w = &stageWindow{}
		c.stages[stage] = w
	}
	w.add(d, c.window)
	w.count++
	if err != nil {
		w.errors++
	}
}

// ObserveItem counts an item reaching a terminal status.
func (c *Collector) ObserveItem(status string) {
	if c == nil {
		return
	}
	c.itemsTotal.WithLabelValues(status).Inc()
	c.mu.Lock()
	c.items[status]++
	c.mu.Unlock()
}

func (c *Collector) Enqueued(n int) {
	c.addQueue(int64(n))
}

func (c *Collector) Dequeued() {
	c.addQueue(-1)
}

func (c *Collector) addQueue(delta int64) {
	if c == nil {
		return
	}
	c.mu.Lock()
	c.queueDepth += delta
	if c.queueDepth < 0 {
		c.queueDepth = 0
	}
	depth := c.queueDepth
	c.mu.Unlock()
	c.queueGauge.Set(float64(depth))
}

func (c *Collector) Snapshot() Snapshot {
	s := Snapshot{Stages: map[string]StageStats{}, Items: map[string]int64{}, TakenAt: time.Now().UTC()}
	if c == nil {
		return s
	}
	c.mu.Lock()
	defer c.mu.Unlock()
	s.QueueDepth = c.queueDepth
	for k, v := range c.items {
		s.Items[k] = v
	}
	for name, w := range c.stages {
		sorted := append([]time.Duration(nil), w.samples...)
		sort.Slice(sorted, func(i, j int) bool { return sorted[i] < sorted[j] })
		st := StageStats{
			Count:  w.count,
			Errors: w.errors,
			P50:    Percentile(sorted, 50),
			P95:    Percentile(sorted, 95),
			P99:    Percentile(sorted, 99),
		}
		if w.count > 0 {
			st.ErrorRate = float64(w.errors) / float64(w.count)
			st.SuccessRate = 1 - st.ErrorRate
		}
		s.Stages[name] = st
	}
	return s
}

// Percentile is the nearest-rank percentile of ascending samples.
func Percentile(sorted []time.Duration, p float64) time.Duration {
	if len(sorted) == 0 {
		return 0
	}
	rank := int(math.Ceil(p / 100 * float64(len(sorted))))
	if rank < 1 {
		rank = 1
	}
	if rank > len(sorted) {
		rank = len(sorted)
	}
	return sorted[rank-1]
}
