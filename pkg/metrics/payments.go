package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
)

// PaymentMetrics records the health of the payment pipeline: push
// submissions, gateway callbacks, and status polls.
type PaymentMetrics struct {
	submissions  *prometheus.CounterVec
	callbacks    *prometheus.CounterVec
	polls        *prometheus.CounterVec
	pushDuration *prometheus.HistogramVec
}

// NewPaymentMetrics registers the payment metrics on the provided registerer.
func NewPaymentMetrics(reg prometheus.Registerer) *PaymentMetrics {
	if reg == nil {
		return &PaymentMetrics{}
	}
	submissions := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_submissions_total",
		Help: "STK push submissions by outcome.",
	}, []string{"outcome"})
	callbacks := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_callbacks_total",
		Help: "Gateway callbacks by result.",
	}, []string{"result"})
	polls := prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "payment_status_polls_total",
		Help: "Status poll requests by resolved state.",
	}, []string{"state"})
	pushDuration := prometheus.NewHistogramVec(prometheus.HistogramOpts{
		Name:    "payment_push_duration_seconds",
		Help:    "Duration of STK push round trips in seconds.",
		Buckets: prometheus.DefBuckets,
	}, []string{"outcome"})
	reg.MustRegister(submissions, callbacks, polls, pushDuration)
	return &PaymentMetrics{
		submissions:  submissions,
		callbacks:    callbacks,
		polls:        polls,
		pushDuration: pushDuration,
	}
}

// IncSubmission counts one STK push submission for the given outcome.
func (p *PaymentMetrics) IncSubmission(outcome string) {
	if p == nil || p.submissions == nil {
		return
	}
	p.submissions.WithLabelValues(normalizeLabel(outcome)).Inc()
}

// IncCallback counts one gateway callback for the given result.
func (p *PaymentMetrics) IncCallback(result string) {
	if p == nil || p.callbacks == nil {
		return
	}
	p.callbacks.WithLabelValues(normalizeLabel(result)).Inc()
}

// IncPoll counts one status poll for the resolved state.
func (p *PaymentMetrics) IncPoll(state string) {
	if p == nil || p.polls == nil {
		return
	}
	p.polls.WithLabelValues(normalizeLabel(state)).Inc()
}

// ObservePushDuration records the round trip to the gateway.
func (p *PaymentMetrics) ObservePushDuration(outcome string, duration time.Duration) {
	if p == nil || p.pushDuration == nil {
		return
	}
	p.pushDuration.WithLabelValues(normalizeLabel(outcome)).Observe(duration.Seconds())
}

func normalizeLabel(value string) string {
	if value == "" {
		return "unknown"
	}
	return value
}
