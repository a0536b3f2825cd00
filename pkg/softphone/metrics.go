package softphone

import (
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

// Metrics собирает и экспортирует метрики ядра софтфона.
//
// Prometheus метрики для внешнего мониторинга: количество вызовов по
// направлениям, сбои, активные линии и состояние регистрации.
type Metrics struct {
	callsTotal       *prometheus.CounterVec
	callsFailedTotal prometheus.Counter
	teardownsTotal   prometheus.Counter
	linesActive      prometheus.Gauge
	registered       prometheus.Gauge
}

// NewMetrics создает и регистрирует метрики в указанном Registerer.
// reg == nil использует глобальный регистратор Prometheus.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	if reg == nil {
		reg = prometheus.DefaultRegisterer
	}
	factory := promauto.With(reg)

	return &Metrics{
		callsTotal: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "webphone",
			Subsystem: "lines",
			Name:      "calls_total",
			Help:      "Total number of call attempts by direction",
		}, []string{"direction"}),
		callsFailedTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "webphone",
			Subsystem: "lines",
			Name:      "calls_failed_total",
			Help:      "Total number of calls that ended in a failure path",
		}),
		teardownsTotal: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "webphone",
			Subsystem: "lines",
			Name:      "teardowns_total",
			Help:      "Total number of line teardowns performed",
		}),
		linesActive: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "webphone",
			Subsystem: "lines",
			Name:      "active",
			Help:      "Number of lines currently in the active set",
		}),
		registered: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "webphone",
			Subsystem: "registration",
			Name:      "registered",
			Help:      "1 while the registration status is Registered",
		}),
	}
}

func (m *Metrics) callStarted(direction string) {
	if m == nil {
		return
	}
	m.callsTotal.WithLabelValues(direction).Inc()
	m.linesActive.Inc()
}

func (m *Metrics) callFailed() {
	if m == nil {
		return
	}
	m.callsFailedTotal.Inc()
}

func (m *Metrics) teardownDone() {
	if m == nil {
		return
	}
	m.teardownsTotal.Inc()
}

func (m *Metrics) lineRemoved() {
	if m == nil {
		return
	}
	m.linesActive.Dec()
}

func (m *Metrics) setRegistered(registered bool) {
	if m == nil {
		return
	}
	if registered {
		m.registered.Set(1)
	} else {
		m.registered.Set(0)
	}
}
