package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus collectors for the application.
// Following the explicit dependency injection pattern, this struct
// is passed to all components that need to record metrics.
//
// All Record* methods are safe to call on a nil *Metrics, so components can
// be constructed without metrics in tests and CLIs.
type Metrics struct {
	// Solana RPC Metrics
	solanaRPCCallsTotal     *prometheus.CounterVec
	solanaRPCCallDuration   *prometheus.HistogramVec
	confirmationPolls       *prometheus.HistogramVec
	confirmationOutcomes    *prometheus.CounterVec
	confirmationLatency     *prometheus.HistogramVec
	externalAPICallsTotal   *prometheus.CounterVec
	externalAPICallDuration *prometheus.HistogramVec

	// Balance Metrics
	reconcilesTotal  *prometheus.CounterVec
	reconcileLegErrs *prometheus.CounterVec

	// Trade Metrics
	tradesTotal        *prometheus.CounterVec
	tradeDuration      *prometheus.HistogramVec
	tradeStateChanges  *prometheus.CounterVec
	resolveWorkflows   *prometheus.CounterVec
	resolveWorkflowDur *prometheus.HistogramVec

	// Database Metrics
	dbQueryDuration   *prometheus.HistogramVec
	dbOperationsTotal *prometheus.CounterVec

	// HTTP Metrics
	httpRequestDuration *prometheus.HistogramVec
	httpRequestsTotal   *prometheus.CounterVec

	// NATS Metrics
	natsMessagesPublished *prometheus.CounterVec
	natsPublishDuration   *prometheus.HistogramVec
}

// NewMetrics creates a new Metrics instance and registers all collectors.
// If registry is nil, prometheus.DefaultRegisterer is used.
func NewMetrics(registry prometheus.Registerer) *Metrics {
	if registry == nil {
		registry = prometheus.DefaultRegisterer
	}

	factory := promauto.With(registry)

	return &Metrics{
		// Solana RPC Metrics
		solanaRPCCallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_rpc_calls_total",
				Help: "Total number of Solana RPC calls by method and status",
			},
			[]string{"method", "status", "endpoint"},
		),
		solanaRPCCallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_rpc_call_duration_seconds",
				Help:    "Duration of Solana RPC calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"method", "endpoint"},
		),
		confirmationPolls: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_confirmation_polls",
				Help:    "Number of getSignatureStatuses polls per confirmation",
				Buckets: []float64{1, 2, 5, 10, 20, 50, 100},
			},
			[]string{"commitment"},
		),
		confirmationOutcomes: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "solana_confirmation_outcomes_total",
				Help: "Confirmation results by requested commitment and observed status",
			},
			[]string{"commitment", "status"},
		),
		confirmationLatency: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "solana_confirmation_duration_seconds",
				Help:    "Time from first poll to a terminal confirmation status",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"commitment", "status"},
		),
		externalAPICallsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "external_api_calls_total",
				Help: "Total number of calls to external HTTP APIs (aggregator, token data)",
			},
			[]string{"api", "operation", "status"},
		),
		externalAPICallDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "external_api_call_duration_seconds",
				Help:    "Duration of external HTTP API calls in seconds",
				Buckets: []float64{0.05, 0.1, 0.25, 0.5, 1.0, 2.5, 5.0, 10.0},
			},
			[]string{"api", "operation"},
		),

		// Balance Metrics
		reconcilesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balance_reconciles_total",
				Help: "Total number of balance reconciliations by path",
			},
			[]string{"path"},
		),
		reconcileLegErrs: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "balance_reconcile_leg_errors_total",
				Help: "Balance legs that came back unavailable",
			},
			[]string{"leg", "path"},
		),

		// Trade Metrics
		tradesTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trades_total",
				Help: "Total number of trades by direction and final state",
			},
			[]string{"direction", "state"},
		),
		tradeDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "trade_duration_seconds",
				Help:    "Duration of a trade from order request to terminal state",
				Buckets: []float64{0.5, 1, 2, 5, 10, 20, 30, 60},
			},
			[]string{"direction", "state"},
		),
		tradeStateChanges: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "trade_state_transitions_total",
				Help: "Executor state transitions",
			},
			[]string{"from", "to"},
		),
		resolveWorkflows: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "resolve_trade_workflow_executions_total",
				Help: "Total number of resolve-trade workflow executions by result",
			},
			[]string{"status"},
		),
		resolveWorkflowDur: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "resolve_trade_activity_duration_seconds",
				Help:    "Duration of resolve-trade activities in seconds",
				Buckets: []float64{0.1, 0.5, 1, 5, 10, 30, 60},
			},
			[]string{"activity"},
		),

		// Database Metrics
		dbQueryDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "db_query_duration_seconds",
				Help:    "Duration of database queries in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5, 1.0},
			},
			[]string{"operation", "table"},
		),
		dbOperationsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "db_operations_total",
				Help: "Total number of database operations",
			},
			[]string{"operation", "status"},
		),

		// HTTP Metrics
		httpRequestDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "http_request_duration_seconds",
				Help:    "Duration of HTTP requests in seconds",
				Buckets: []float64{0.005, 0.01, 0.025, 0.05, 0.1, 0.25, 0.5, 1.0, 2.5},
			},
			[]string{"handler", "method", "status"},
		),
		httpRequestsTotal: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "http_requests_total",
				Help: "Total number of HTTP requests",
			},
			[]string{"handler", "method", "status"},
		),

		// NATS Metrics
		natsMessagesPublished: factory.NewCounterVec(
			prometheus.CounterOpts{
				Name: "nats_messages_published_total",
				Help: "Total number of NATS messages published",
			},
			[]string{"subject", "status"},
		),
		natsPublishDuration: factory.NewHistogramVec(
			prometheus.HistogramOpts{
				Name:    "nats_publish_duration_seconds",
				Help:    "Duration of NATS publish operations in seconds",
				Buckets: []float64{0.001, 0.005, 0.01, 0.05, 0.1, 0.5},
			},
			[]string{"subject"},
		),
	}
}

// Solana RPC metric helpers

// RecordRPCCall records a Solana RPC call with duration.
func (m *Metrics) RecordRPCCall(method, status, endpoint string, duration float64) {
	if m == nil {
		return
	}
	m.solanaRPCCallsTotal.WithLabelValues(method, status, endpoint).Inc()
	m.solanaRPCCallDuration.WithLabelValues(method, endpoint).Observe(duration)
}

// RecordConfirmation records the result of a confirmation loop.
func (m *Metrics) RecordConfirmation(commitment, status string, polls int, duration float64) {
	if m == nil {
		return
	}
	m.confirmationPolls.WithLabelValues(commitment).Observe(float64(polls))
	m.confirmationOutcomes.WithLabelValues(commitment, status).Inc()
	m.confirmationLatency.WithLabelValues(commitment, status).Observe(duration)
}

// RecordExternalCall records a call to the swap aggregator or the token-data API.
func (m *Metrics) RecordExternalCall(api, operation, status string, duration float64) {
	if m == nil {
		return
	}
	m.externalAPICallsTotal.WithLabelValues(api, operation, status).Inc()
	m.externalAPICallDuration.WithLabelValues(api, operation).Observe(duration)
}

// Balance metric helpers

// RecordReconcile records a reconciliation and which path served it
// ("bulk", "rpc" or "bulk_fallback").
func (m *Metrics) RecordReconcile(path string) {
	if m == nil {
		return
	}
	m.reconcilesTotal.WithLabelValues(path).Inc()
}

// RecordReconcileLegError records a leg ("native" or "token") that failed.
func (m *Metrics) RecordReconcileLegError(leg, path string) {
	if m == nil {
		return
	}
	m.reconcileLegErrs.WithLabelValues(leg, path).Inc()
}

// Trade metric helpers

// RecordTrade records a finished trade.
func (m *Metrics) RecordTrade(direction, state string, duration float64) {
	if m == nil {
		return
	}
	m.tradesTotal.WithLabelValues(direction, state).Inc()
	m.tradeDuration.WithLabelValues(direction, state).Observe(duration)
}

// RecordStateTransition records an executor state transition.
func (m *Metrics) RecordStateTransition(from, to string) {
	if m == nil {
		return
	}
	m.tradeStateChanges.WithLabelValues(from, to).Inc()
}

// RecordResolveWorkflow records the result of a resolve-trade workflow.
func (m *Metrics) RecordResolveWorkflow(status string) {
	if m == nil {
		return
	}
	m.resolveWorkflows.WithLabelValues(status).Inc()
}

// RecordActivityDuration records activity execution duration.
func (m *Metrics) RecordActivityDuration(activity string, duration float64) {
	if m == nil {
		return
	}
	m.resolveWorkflowDur.WithLabelValues(activity).Observe(duration)
}

// Database metric helpers

// RecordDBQuery records a database query with duration.
func (m *Metrics) RecordDBQuery(operation, table string, duration float64, err error) {
	if m == nil {
		return
	}
	status := "success"
	if err != nil {
		status = "error"
	}
	m.dbQueryDuration.WithLabelValues(operation, table).Observe(duration)
	m.dbOperationsTotal.WithLabelValues(operation, status).Inc()
}

// HTTP metric helpers

// RecordHTTPRequest records an HTTP request with duration.
func (m *Metrics) RecordHTTPRequest(handler, method string, statusCode int, duration float64) {
	if m == nil {
		return
	}
	status := statusCodeToString(statusCode)
	m.httpRequestDuration.WithLabelValues(handler, method, status).Observe(duration)
	m.httpRequestsTotal.WithLabelValues(handler, method, status).Inc()
}

// NATS metric helpers

// RecordNATSPublish records a NATS publish operation.
func (m *Metrics) RecordNATSPublish(subject, status string, duration float64) {
	if m == nil {
		return
	}
	m.natsMessagesPublished.WithLabelValues(subject, status).Inc()
	m.natsPublishDuration.WithLabelValues(subject).Observe(duration)
}

// Helper functions

func statusCodeToString(code int) string {
	// Group status codes by class
	switch {
	case code >= 200 && code < 300:
		return "2xx"
	case code >= 300 && code < 400:
		return "3xx"
	case code >= 400 && code < 500:
		return "4xx"
	case code >= 500 && code < 600:
		return "5xx"
	default:
		return "unknown"
	}
}
