package observability

import (
	"net/http"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

// OutcomeOK labels a chat turn that produced a reply.
const OutcomeOK = "ok"

// Metrics groups all Prometheus instruments used by the service. A nil
// *Metrics is valid and records nothing.
type Metrics struct {
	ChatTurns            *prometheus.CounterVec
	ConversationsExpired prometheus.Counter
	UpstreamLatency      *prometheus.HistogramVec

	reg       prometheus.Registerer
	namespace string
}

// NewMetrics registers the instruments on reg, or on the default registry when reg is nil.
func NewMetrics(namespace string, reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)
	return &Metrics{
		ChatTurns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "chat_turns_total",
			Help:      "Chat turns by outcome code.",
		}, []string{"outcome"}),
		ConversationsExpired: factory.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "conversations_expired_total",
			Help:      "Conversations removed by the idle sweep.",
		}),
		UpstreamLatency: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "upstream_latency_ms",
			Help:      "Language model call latency in milliseconds.",
			Buckets:   []float64{250, 500, 1000, 2000, 4000, 8000, 15000, 30000},
		}, []string{"outcome"}),
		reg:       reg,
		namespace: namespace,
	}
}

// TrackConversations exposes the live conversation count, sampled at scrape time.
func (m *Metrics) TrackConversations(count func() int) {
	if m == nil {
		return
	}
	promauto.With(m.reg).NewGaugeFunc(prometheus.GaugeOpts{
		Namespace: m.namespace,
		Name:      "active_conversations",
		Help:      "Conversations currently held in memory.",
	}, func() float64 { return float64(count()) })
}

func (m *Metrics) ObserveTurn(outcome string) {
	if m == nil {
		return
	}
	m.ChatTurns.WithLabelValues(outcome).Inc()
}

func (m *Metrics) ObserveUpstream(outcome string, d time.Duration) {
	if m == nil {
		return
	}
	m.UpstreamLatency.WithLabelValues(outcome).Observe(float64(d.Milliseconds()))
}

func (m *Metrics) ConversationExpired() {
	if m == nil {
		return
	}
	m.ConversationsExpired.Inc()
}

// MetricsHandler serves the gatherer in the Prometheus text format, or the
// default registry when g is nil.
func MetricsHandler(g prometheus.Gatherer) http.Handler {
	if g == nil {
		return promhttp.Handler()
	}
	return promhttp.HandlerFor(g, promhttp.HandlerOpts{})
}
