package metrics

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics holds all Prometheus metrics
type Metrics struct {
	Received       *prometheus.CounterVec
	Rejected       *prometheus.CounterVec
	Duplicates     prometheus.Counter
	Analyses       *prometheus.CounterVec
	RepliesSent    *prometheus.CounterVec
	ReplyFailures  prometheus.Counter
	Translations   *prometheus.CounterVec
	ProcessingTime *prometheus.HistogramVec
	CompletionTime prometheus.Histogram
	CleanedEmails  prometheus.Counter
}

// NewMetrics creates the metrics and registers them with reg.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)
	return &Metrics{
		Received: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replyd_emails_received_total",
			Help: "Total number of inbound emails accepted, by ingress",
		}, []string{"ingress"}),
		Rejected: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replyd_emails_rejected_total",
			Help: "Total number of inbound payloads rejected, by reason",
		}, []string{"reason"}),
		Duplicates: factory.NewCounter(prometheus.CounterOpts{
			Name: "replyd_emails_duplicate_total",
			Help: "Total number of inbound emails skipped as already processed",
		}),
		Analyses: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replyd_analyses_total",
			Help: "Total number of analyses, by outcome (model or fallback)",
		}, []string{"outcome"}),
		RepliesSent: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replyd_replies_sent_total",
			Help: "Total number of replies delivered, by method",
		}, []string{"method"}),
		ReplyFailures: factory.NewCounter(prometheus.CounterOpts{
			Name: "replyd_reply_failures_total",
			Help: "Total number of replies that could not be delivered",
		}),
		Translations: factory.NewCounterVec(prometheus.CounterOpts{
			Name: "replyd_translations_total",
			Help: "Total number of translations, by target language",
		}, []string{"target"}),
		ProcessingTime: factory.NewHistogramVec(prometheus.HistogramOpts{
			Name:    "replyd_processing_duration_seconds",
			Help:    "Time spent handling one inbound email",
			Buckets: prometheus.DefBuckets,
		}, []string{"pipeline"}),
		CompletionTime: factory.NewHistogram(prometheus.HistogramOpts{
			Name:    "replyd_completion_duration_seconds",
			Help:    "Time spent waiting on the completion endpoint",
			Buckets: []float64{0.25, 0.5, 1, 2, 5, 10, 20, 30},
		}),
		CleanedEmails: factory.NewCounter(prometheus.CounterOpts{
			Name: "replyd_cleaned_emails_total",
			Help: "Total number of stored emails removed by retention cleanup",
		}),
	}
}
