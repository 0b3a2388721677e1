package scheduler

import (
	"github.com/prometheus/client_golang/prometheus"

	"github.com/NavarchProject/eventdriver/pkg/alarm"
)

// Metrics provides Prometheus metrics for a scheduler. A nil *Metrics
// records nothing.
type Metrics struct {
	drives     prometheus.Counter
	fired      *prometheus.CounterVec
	wakes      *prometheus.CounterVec
	skipped    *prometheus.CounterVec
	faults     *prometheus.CounterVec
	pending    *prometheus.GaugeVec
	rearms     *prometheus.CounterVec
	alarmDelay prometheus.Histogram
}

// NewMetrics creates a new Metrics instance. Register it with a
// prometheus.Registerer to expose it.
func NewMetrics() *Metrics {
	return &Metrics{
		drives: prometheus.NewCounter(
			prometheus.CounterOpts{
				Name: "eventdriver_drives_total",
				Help: "Total number of host invocations driven",
			},
		),
		fired: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventdriver_actions_fired_total",
				Help: "Total number of scheduled callbacks run by queue",
			},
			[]string{"queue"},
		),
		wakes: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventdriver_wakes_total",
				Help: "Total number of wake sentinels drained by queue",
			},
			[]string{"queue"},
		),
		skipped: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventdriver_actions_skipped_total",
				Help: "Total number of cancelled entries drained without running by queue",
			},
			[]string{"queue"},
		),
		faults: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventdriver_action_faults_total",
				Help: "Total number of scheduled callbacks that returned an error by queue",
			},
			[]string{"queue"},
		),
		pending: prometheus.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "eventdriver_pending_actions",
				Help: "Number of entries waiting in each queue",
			},
			[]string{"queue"},
		),
		rearms: prometheus.NewCounterVec(
			prometheus.CounterOpts{
				Name: "eventdriver_rearms_total",
				Help: "Total number of host re-arm decisions by kind",
			},
			[]string{"decision"},
		),
		alarmDelay: prometheus.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "eventdriver_alarm_delay_seconds",
				Help:    "Delay requested from the host alarm",
				Buckets: []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 300, 3600},
			},
		),
	}
}

// Describe implements prometheus.Collector.
func (m *Metrics) Describe(ch chan<- *prometheus.Desc) {
	m.drives.Describe(ch)
	m.fired.Describe(ch)
	m.wakes.Describe(ch)
	m.skipped.Describe(ch)
	m.faults.Describe(ch)
	m.pending.Describe(ch)
	m.rearms.Describe(ch)
	m.alarmDelay.Describe(ch)
}

// Collect implements prometheus.Collector.
func (m *Metrics) Collect(ch chan<- prometheus.Metric) {
	m.drives.Collect(ch)
	m.fired.Collect(ch)
	m.wakes.Collect(ch)
	m.skipped.Collect(ch)
	m.faults.Collect(ch)
	m.pending.Collect(ch)
	m.rearms.Collect(ch)
	m.alarmDelay.Collect(ch)
}

func (m *Metrics) observeDrive() {
	if m == nil {
		return
	}
	m.drives.Inc()
}

func (m *Metrics) observeFired(q QueueKind) {
	if m == nil {
		return
	}
	m.fired.WithLabelValues(string(q)).Inc()
}

func (m *Metrics) observeWake(q QueueKind) {
	if m == nil {
		return
	}
	m.wakes.WithLabelValues(string(q)).Inc()
}

func (m *Metrics) observeSkipped(q QueueKind) {
	if m == nil {
		return
	}
	m.skipped.WithLabelValues(string(q)).Inc()
}

func (m *Metrics) observeFault(q QueueKind) {
	if m == nil {
		return
	}
	m.faults.WithLabelValues(string(q)).Inc()
}

func (m *Metrics) setPending(ticks, timed int) {
	if m == nil {
		return
	}
	m.pending.WithLabelValues(string(QueueTick)).Set(float64(ticks))
	m.pending.WithLabelValues(string(QueueTime)).Set(float64(timed))
}

func (m *Metrics) observeRearm(d alarm.Decision) {
	if m == nil {
		return
	}
	m.rearms.WithLabelValues(string(d.Kind)).Inc()
	if d.Kind == alarm.KindDelayed {
		m.alarmDelay.Observe(d.Delay.Seconds())
	}
}
