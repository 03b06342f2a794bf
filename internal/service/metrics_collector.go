package service

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

type MetricsCollector struct {
	activationsStarted *prometheus.CounterVec
	activationsClosed  *prometheus.CounterVec
	activationEarnings prometheus.Counter
	activationDuration *prometheus.HistogramVec
	noNumbers          *prometheus.CounterVec
	smsForwarded       prometheus.Counter
	smsForwardFailed   prometheus.Counter
	smsUnmatched       prometheus.Counter
	scanDuration       prometheus.Histogram
	devicesByStatus    *prometheus.GaugeVec
}

func NewMetricsCollector() *MetricsCollector {
	return &MetricsCollector{
		activationsStarted: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_activations_started_total",
				Help: "Total number of activations opened by GET_NUMBER",
			},
			[]string{"service"},
		),
		activationsClosed: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_activations_closed_total",
				Help: "Total number of activations closed, by terminal state",
			},
			[]string{"service", "state"},
		),
		activationEarnings: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_activation_earnings_total",
				Help: "Accumulated earnings from sold activations",
			},
		),
		activationDuration: promauto.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "agent_activation_duration_seconds",
				Help:    "Open-to-close latency of sold activations",
				Buckets: prometheus.ExponentialBuckets(1, 2, 12),
			},
			[]string{"service"},
		),
		noNumbers: promauto.NewCounterVec(
			prometheus.CounterOpts{
				Name: "agent_no_numbers_total",
				Help: "GET_NUMBER requests answered with NO_NUMBERS",
			},
			[]string{"service"},
		),
		smsForwarded: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_sms_forwarded_total",
				Help: "SMS successfully forwarded upstream",
			},
		),
		smsForwardFailed: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_sms_forward_failed_total",
				Help: "SMS dropped after the forward retry budget was exhausted",
			},
		),
		smsUnmatched: promauto.NewCounter(
			prometheus.CounterOpts{
				Name: "agent_sms_unmatched_total",
				Help: "Inbound SMS with no open activation for the number",
			},
		),
		scanDuration: promauto.NewHistogram(
			prometheus.HistogramOpts{
				Name:    "agent_scan_duration_seconds",
				Help:    "Duration of one modem discovery pass",
				Buckets: prometheus.ExponentialBuckets(0.1, 2, 10),
			},
		),
		devicesByStatus: promauto.NewGaugeVec(
			prometheus.GaugeOpts{
				Name: "agent_devices",
				Help: "Devices currently tracked, by lifecycle status",
			},
			[]string{"status"},
		),
	}
}

func (m *MetricsCollector) ActivationStarted(service string) {
	m.activationsStarted.WithLabelValues(service).Inc()
}

func (m *MetricsCollector) ActivationClosed(service, state string) {
	m.activationsClosed.WithLabelValues(service, state).Inc()
}

func (m *MetricsCollector) RecordEarnings(amount float64) {
	m.activationEarnings.Add(amount)
}

func (m *MetricsCollector) RecordActivationDuration(service string, seconds float64) {
	m.activationDuration.WithLabelValues(service).Observe(seconds)
}

func (m *MetricsCollector) NoNumbers(service string) {
	m.noNumbers.WithLabelValues(service).Inc()
}

func (m *MetricsCollector) SMSForwarded()     { m.smsForwarded.Inc() }
func (m *MetricsCollector) SMSForwardFailed() { m.smsForwardFailed.Inc() }
func (m *MetricsCollector) SMSUnmatched()     { m.smsUnmatched.Inc() }

func (m *MetricsCollector) RecordScanDuration(seconds float64) {
	m.scanDuration.Observe(seconds)
}

func (m *MetricsCollector) SetDeviceCount(status string, count int) {
	m.devicesByStatus.WithLabelValues(status).Set(float64(count))
}
