package queue

import "github.com/prometheus/client_golang/prometheus"

// metrics holds the queue's Prometheus collectors. They are created
// unregistered so tests can build many queues; main registers the one
// production queue via RegisterMetrics.
type metrics struct {
	enqueued  prometheus.Counter
	completed prometheus.Counter
	failed    prometheus.Counter
	retried   prometheus.Counter
	stalled   prometheus.Counter
	depth     *prometheus.GaugeVec
}

func newMetrics(queueName string) *metrics {
	labels := prometheus.Labels{"queue": queueName}
	counter := func(name, help string) prometheus.Counter {
		return prometheus.NewCounter(prometheus.CounterOpts{
			Namespace:   "report_export",
			Subsystem:   "queue",
			Name:        name,
			Help:        help,
			ConstLabels: labels,
		})
	}
	return &metrics{
		enqueued:  counter("jobs_enqueued_total", "Jobs accepted onto the waiting list."),
		completed: counter("jobs_completed_total", "Jobs finished successfully."),
		failed:    counter("jobs_failed_total", "Jobs that exhausted their attempts."),
		retried:   counter("jobs_retried_total", "Failed attempts scheduled for retry."),
		stalled:   counter("jobs_stalled_total", "Stalled jobs returned to the waiting list."),
		depth: prometheus.NewGaugeVec(prometheus.GaugeOpts{
			Namespace:   "report_export",
			Subsystem:   "queue",
			Name:        "depth",
			Help:        "Number of jobs per state, refreshed on each stats call.",
			ConstLabels: labels,
		}, []string{"state"}),
	}
}

// RegisterMetrics registers the queue's collectors with reg. Call at most
// once per registry.
func (q *Queue) RegisterMetrics(reg prometheus.Registerer) {
	reg.MustRegister(
		q.metrics.enqueued,
		q.metrics.completed,
		q.metrics.failed,
		q.metrics.retried,
		q.metrics.stalled,
		q.metrics.depth,
	)
}

func (m *metrics) observeDepth(c Counts) {
	m.depth.WithLabelValues(string(StateWaiting)).Set(float64(c.Waiting))
	m.depth.WithLabelValues(string(StateActive)).Set(float64(c.Active))
	m.depth.WithLabelValues(string(StateCompleted)).Set(float64(c.Completed))
	m.depth.WithLabelValues(string(StateFailed)).Set(float64(c.Failed))
	m.depth.WithLabelValues(string(StateDelayed)).Set(float64(c.Delayed))
}
