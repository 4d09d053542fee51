package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Prometheus metrics
var (
	HTTPRequestsTotal = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_funnel_http_requests_total",
			Help: "Total number of HTTP requests",
		},
		[]string{"method", "endpoint", "status"},
	)

	HTTPRequestDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quote_funnel_http_request_duration_seconds",
			Help:    "HTTP request duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"method", "endpoint"},
	)

	DBConnectionStatus = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quote_funnel_db_connection_status",
		Help: "Database connection status (1 = connected, 0 = disconnected)",
	})

	ServiceInfo = promauto.NewGaugeVec(
		prometheus.GaugeOpts{
			Name: "quote_funnel_info",
			Help: "Service information",
		},
		[]string{"version"},
	)

	AbandonedSessions = promauto.NewCounter(prometheus.CounterOpts{
		Name: "quote_funnel_abandoned_sessions_total",
		Help: "Telemetry rows marked abandoned by the scheduler",
	})

	DispatchedTasks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_funnel_dispatched_tasks_total",
			Help: "Background side effects by task name and result",
		},
		[]string{"task", "result"},
	)

	DispatchedTaskDuration = promauto.NewHistogramVec(
		prometheus.HistogramOpts{
			Name:    "quote_funnel_dispatched_task_duration_seconds",
			Help:    "Background side effect duration in seconds",
			Buckets: prometheus.DefBuckets,
		},
		[]string{"task"},
	)

	TasksInFlight = promauto.NewGauge(prometheus.GaugeOpts{
		Name: "quote_funnel_dispatched_tasks_in_flight",
		Help: "Background side effects currently running",
	})

	LeadsCreated = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_funnel_leads_created_total",
			Help: "Leads created from the contact step",
		},
		[]string{"partner"},
	)

	OTPSends = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_funnel_otp_sends_total",
			Help: "OTP send attempts by provider and result",
		},
		[]string{"provider", "result"},
	)

	OTPChecks = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_funnel_otp_checks_total",
			Help: "OTP verification attempts by result",
		},
		[]string{"result"},
	)

	EmailsSent = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_funnel_emails_sent_total",
			Help: "Emails sent by template, provider and result",
		},
		[]string{"template", "provider", "result"},
	)

	CRMSyncs = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_funnel_crm_syncs_total",
			Help: "CRM contact upserts by result",
		},
		[]string{"result"},
	)

	PartnerResolutions = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "quote_funnel_partner_resolutions_total",
			Help: "Hostname to partner lookups by source",
		},
		[]string{"source"}, // cache, db, miss, error
	)
)
