package netframe

import (
	"time"

	"github.com/pkg/errors"
	"github.com/prometheus/client_golang/prometheus"
)

const metricsNamespace = "netframe"

// metrics holds the Prometheus collectors of one server or client.
// A nil *metrics records nothing.
type metrics struct {
	connections   *prometheus.CounterVec
	handshakes    *prometheus.CounterVec
	active        prometheus.Gauge
	framesIn      prometheus.Counter
	framesOut     prometheus.Counter
	bytesIn       prometheus.Counter
	bytesOut      prometheus.Counter
	dispatchTimes prometheus.Histogram
}

// newMetrics registers the collectors with reg under a constant role label.
// Collectors already registered by another instance with the same role are
// shared rather than rejected.
func newMetrics(reg prometheus.Registerer, role Role) *metrics {
	if reg == nil {
		return nil
	}
	reg = prometheus.WrapRegistererWith(prometheus.Labels{"role": role.String()}, reg)

	return &metrics{
		connections: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "connections_total",
			Help:      "Total number of connections by outcome of the connect hook",
		}, []string{"result"})),

		handshakes: register(reg, prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "handshakes_total",
			Help:      "Total number of validation handshakes by result",
		}, []string{"result"})),

		active: register(reg, prometheus.NewGauge(prometheus.GaugeOpts{
			Namespace: metricsNamespace,
			Name:      "active_connections",
			Help:      "Number of validated connections with an open socket",
		})),

		framesIn: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_received_total",
			Help:      "Total number of frames read from the wire",
		})),

		framesOut: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "frames_sent_total",
			Help:      "Total number of frames written to the wire",
		})),

		bytesIn: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "received_bytes_total",
			Help:      "Total number of frame bytes read, headers included",
		})),

		bytesOut: register(reg, prometheus.NewCounter(prometheus.CounterOpts{
			Namespace: metricsNamespace,
			Name:      "sent_bytes_total",
			Help:      "Total number of frame bytes written, headers included",
		})),

		dispatchTimes: register(reg, prometheus.NewHistogram(prometheus.HistogramOpts{
			Namespace: metricsNamespace,
			Name:      "dispatch_duration_seconds",
			Help:      "Time spent in the message hook per dispatched message",
			Buckets:   prometheus.DefBuckets,
		})),
	}
}

func register[C prometheus.Collector](reg prometheus.Registerer, c C) C {
	if err := reg.Register(c); err != nil {
		var are prometheus.AlreadyRegisteredError
		if errors.As(err, &are) {
			if existing, ok := are.ExistingCollector.(C); ok {
				return existing
			}
		}
		panic(err)
	}
	return c
}

func (m *metrics) connection(accepted bool) {
	if m == nil {
		return
	}
	if accepted {
		m.connections.WithLabelValues("accepted").Inc()
	} else {
		m.connections.WithLabelValues("denied").Inc()
	}
}

func (m *metrics) handshake(ok bool) {
	if m == nil {
		return
	}
	if ok {
		m.handshakes.WithLabelValues("ok").Inc()
	} else {
		m.handshakes.WithLabelValues("failed").Inc()
	}
}

func (m *metrics) opened() {
	if m == nil {
		return
	}
	m.active.Inc()
}

func (m *metrics) closed() {
	if m == nil {
		return
	}
	m.active.Dec()
}

func (m *metrics) received(n int) {
	if m == nil {
		return
	}
	m.framesIn.Inc()
	m.bytesIn.Add(float64(n))
}

func (m *metrics) sent(n int) {
	if m == nil {
		return
	}
	m.framesOut.Inc()
	m.bytesOut.Add(float64(n))
}

func (m *metrics) dispatched(start time.Time) {
	if m == nil {
		return
	}
	m.dispatchTimes.Observe(time.Since(start).Seconds())
}
