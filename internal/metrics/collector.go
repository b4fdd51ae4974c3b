package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/contractguard/contract-monitor/internal/model"
)

// Collector owns the Prometheus metrics for the monitoring engine. All
// methods are nil-safe so components can run unmetered in tests.
type Collector struct {
	checksTotal         *prometheus.CounterVec
	checkDuration       *prometheus.HistogramVec
	violationsTotal     *prometheus.CounterVec
	alertsRouted        *prometheus.CounterVec
	alertsSuppressed    *prometheus.CounterVec
	deliveryFailures    *prometheus.CounterVec
	schedulerSkips      *prometheus.CounterVec
	openIncidents       prometheus.Gauge
	incidentsOpened     prometheus.Counter
	incidentsClosed     prometheus.Counter
	contractsRegistered prometheus.Gauge
}

// NewCollector registers and returns the engine metrics.
func NewCollector() *Collector {
	return &Collector{
		checksTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "contract_monitor_checks_total",
			Help: "Total check executions by contract, check type and status",
		}, []string{"contract", "check_type", "status"}),
		checkDuration: promauto.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "contract_monitor_check_duration_seconds",
			Help:    "Check execution time in seconds",
			Buckets: prometheus.DefBuckets,
		}, []string{"check_type"}),
		violationsTotal: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "contract_monitor_violations_total",
			Help: "Total contract violations by contract and severity",
		}, []string{"contract", "severity"}),
		alertsRouted: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "contract_monitor_alerts_routed_total",
			Help: "Alert deliveries attempted by channel and outcome",
		}, []string{"channel", "outcome"}),
		alertsSuppressed: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "contract_monitor_alerts_suppressed_total",
			Help: "Routing calls suppressed by reason (dedup, rate_limit)",
		}, []string{"reason"}),
		deliveryFailures: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "contract_monitor_delivery_failures_total",
			Help: "Failed alert deliveries by channel",
		}, []string{"channel"}),
		schedulerSkips: promauto.NewCounterVec(prometheus.CounterOpts{
			Name: "contract_monitor_scheduler_skips_total",
			Help: "Ticks skipped because the previous run was in flight",
		}, []string{"task"}),
		openIncidents: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "contract_monitor_open_incidents",
			Help: "Incidents currently open or acknowledged",
		}),
		incidentsOpened: promauto.NewCounter(prometheus.CounterOpts{
			Name: "contract_monitor_incidents_opened_total",
			Help: "Incidents opened",
		}),
		incidentsClosed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "contract_monitor_incidents_closed_total",
			Help: "Incidents closed or resolved",
		}),
		contractsRegistered: promauto.NewGauge(prometheus.GaugeOpts{
			Name: "contract_monitor_contracts_registered",
			Help: "Contracts currently registered and active",
		}),
	}
}

// CheckExecuted records one check execution.
func (c *Collector) CheckExecuted(result *model.CheckResult) {
	if c == nil {
		return
	}
	c.checksTotal.WithLabelValues(result.ContractName, string(result.CheckType), string(result.Status)).Inc()
	c.checkDuration.WithLabelValues(string(result.CheckType)).Observe(result.DurationSeconds)
	if result.Violation != nil {
		c.violationsTotal.WithLabelValues(result.ContractName, string(result.Violation.Severity)).Inc()
	}
}

// AlertRouted records the outcome of one channel delivery attempt.
func (c *Collector) AlertRouted(channelName string, ok bool) {
	if c == nil {
		return
	}
	outcome := "delivered"
	if !ok {
		outcome = "failed"
		c.deliveryFailures.WithLabelValues(channelName).Inc()
	}
	c.alertsRouted.WithLabelValues(channelName, outcome).Inc()
}

// AlertSuppressed records a routing call suppressed by dedup or rate limit.
func (c *Collector) AlertSuppressed(reason string) {
	if c == nil {
		return
	}
	c.alertsSuppressed.WithLabelValues(reason).Inc()
}

// SchedulerSkip records a skipped tick.
func (c *Collector) SchedulerSkip(task string) {
	if c == nil {
		return
	}
	c.schedulerSkips.WithLabelValues(task).Inc()
}

// SetOpenIncidents updates the open-incident gauge.
func (c *Collector) SetOpenIncidents(n int) {
	if c == nil {
		return
	}
	c.openIncidents.Set(float64(n))
}

// IncidentOpened bumps the opened counter.
func (c *Collector) IncidentOpened() {
	if c == nil {
		return
	}
	c.incidentsOpened.Inc()
}

// IncidentClosed bumps the closed counter.
func (c *Collector) IncidentClosed() {
	if c == nil {
		return
	}
	c.incidentsClosed.Inc()
}

// SetRegisteredContracts updates the registered-contract gauge.
func (c *Collector) SetRegisteredContracts(n int) {
	if c == nil {
		return
	}
	c.contractsRegistered.Set(float64(n))
}
