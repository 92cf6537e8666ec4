package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	ScanCount        prometheus.Counter
	MessagesScanned  prometheus.Counter
	Skipped          prometheus.Counter
	Deduped          prometheus.Counter
	LeaseDenied      prometheus.Counter
	Committed        prometheus.Counter
	Failed           prometheus.Counter
	Abandoned        prometheus.Counter
	RepliesSent      prometheus.Counter
	RepliesThrottled prometheus.Counter
	ProcessingTime   prometheus.Histogram
}

// NewMetrics creates new Prometheus metrics
func NewMetrics() *Metrics {
	return &Metrics{
		ScanCount: promauto.NewCounter(prometheus.CounterOpts{
			Name: "task_mail_intake_scan_count",
			Help: "Total number of mailbox scan cycles",
		}),
		MessagesScanned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "task_mail_intake_messages_scanned",
			Help: "Total number of candidate messages read from the mailbox",
		}),
		Skipped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "task_mail_intake_skipped",
			Help: "Total number of messages classified as irrelevant or ambiguous",
		}),
		Deduped: promauto.NewCounter(prometheus.CounterOpts{
			Name: "task_mail_intake_deduped",
			Help: "Total number of messages already recorded as processed",
		}),
		LeaseDenied: promauto.NewCounter(prometheus.CounterOpts{
			Name: "task_mail_intake_lease_denied",
			Help: "Total number of messages skipped because another worker holds the lease",
		}),
		Committed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "task_mail_intake_committed",
			Help: "Total number of messages handed off and durably recorded",
		}),
		Failed: promauto.NewCounter(prometheus.CounterOpts{
			Name: "task_mail_intake_failed",
			Help: "Total number of failed coordinator passes",
		}),
		Abandoned: promauto.NewCounter(prometheus.CounterOpts{
			Name: "task_mail_intake_abandoned",
			Help: "Total number of messages abandoned after exhausting retries",
		}),
		RepliesSent: promauto.NewCounter(prometheus.CounterOpts{
			Name: "task_mail_intake_replies_sent",
			Help: "Total number of reply emails sent",
		}),
		RepliesThrottled: promauto.NewCounter(prometheus.CounterOpts{
			Name: "task_mail_intake_replies_throttled",
			Help: "Total number of reply emails dropped by the outbound throttle",
		}),
		ProcessingTime: promauto.NewHistogram(prometheus.HistogramOpts{
			Name:    "task_mail_intake_processing_duration_seconds",
			Help:    "Time spent processing a single message",
			Buckets: prometheus.DefBuckets,
		}),
	}
}
