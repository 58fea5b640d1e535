package engine

import "github.com/prometheus/client_golang/prometheus"

// Metrics 为 nil 时所有方法都是空操作。
type Metrics struct {
	submitted *prometheus.CounterVec
	results   *prometheus.CounterVec
	running   prometheus.Gauge
	codes     *prometheus.CounterVec
	orders    prometheus.Counter
	risk      *prometheus.CounterVec
}

func NewMetrics(reg prometheus.Registerer) *Metrics {
	m := &Metrics{
		submitted: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticket_grabber",
			Name:      "tasks_submitted_total",
			Help:      "Submitted tasks by kind.",
		}, []string{"kind"}),
		results: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticket_grabber",
			Name:      "grab_results_total",
			Help:      "Emitted grab results by outcome.",
		}, []string{"success"}),
		running: prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: "ticket_grabber",
			Name:      "tasks_running",
			Help:      "Tasks currently running.",
		}),
		codes: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticket_grabber",
			Name:      "remote_codes_total",
			Help:      "Remote result codes seen per step.",
		}, []string{"step", "outcome"}),
		orders: prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: "ticket_grabber",
			Name:      "order_attempts_total",
			Help:      "Order creation requests sent.",
		}),
		risk: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: "ticket_grabber",
			Name:      "risk_verifications_total",
			Help:      "Risk verifications by result.",
		}, []string{"result"}),
	}
	if reg != nil {
		reg.MustRegister(m.submitted, m.results, m.running, m.codes, m.orders, m.risk)
	}
	return m
}

func (m *Metrics) taskSubmitted(kind string) {
	if m != nil {
		m.submitted.WithLabelValues(kind).Inc()
	}
}

func (m *Metrics) taskStarted() {
	if m != nil {
		m.running.Inc()
	}
}

func (m *Metrics) taskFinished() {
	if m != nil {
		m.running.Dec()
	}
}

func (m *Metrics) result(success bool) {
	if m == nil {
		return
	}
	label := "false"
	if success {
		label = "true"
	}
	m.results.WithLabelValues(label).Inc()
}

func (m *Metrics) code(step string, outcome Outcome) {
	if m != nil {
		m.codes.WithLabelValues(step, outcome.String()).Inc()
	}
}

func (m *Metrics) orderSent() {
	if m != nil {
		m.orders.Inc()
	}
}

func (m *Metrics) riskVerified(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.risk.WithLabelValues("ok").Inc()
		return
	}
	m.risk.WithLabelValues("failed").Inc()
}
