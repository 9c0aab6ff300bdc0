package metrics

import (
	"net/http"
	"time"

	"github.com/berfenger/wastemon/internal/core/domain"
	"github.com/berfenger/wastemon/internal/core/service"
	"github.com/berfenger/wastemon/pkg/plc_modbus"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const NAMESPACE = "wastemon"

type Metrics struct {
	Registry       *prometheus.Registry
	modbusRequests *prometheus.HistogramVec
	pollTicks      *prometheus.CounterVec
	alertsRaised   *prometheus.CounterVec
}

func New() *Metrics {
	m := &Metrics{
		Registry: prometheus.NewRegistry(),
		modbusRequests: prometheus.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: NAMESPACE,
			Name:      "modbus_request_seconds",
			Help:      "Duration of Modbus requests by device, function and result.",
			Buckets:   []float64{.005, .01, .025, .05, .1, .25, .5, 1, 2.5},
		}, []string{"device", "fn", "result"}),
		pollTicks: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "poll_ticks_total",
			Help:      "Polling ticks by device and outcome.",
		}, []string{"device", "outcome"}),
		alertsRaised: prometheus.NewCounterVec(prometheus.CounterOpts{
			Namespace: NAMESPACE,
			Name:      "alerts_raised_total",
			Help:      "Alerts raised by device and kind.",
		}, []string{"device", "kind"}),
	}
	m.Registry.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		m.modbusRequests,
		m.pollTicks,
		m.alertsRaised,
	)
	return m
}

// ModbusInstrument times the requests of one device transport.
func (m *Metrics) ModbusInstrument(device string) *plc_modbus.Instrument {
	return &plc_modbus.Instrument{
		RecordTime: func(fnName string, elapsed time.Duration, err error) {
			result := "ok"
			if err != nil {
				result = "error"
			}
			m.modbusRequests.WithLabelValues(device, fnName, result).Observe(elapsed.Seconds())
		},
	}
}

func (m *Metrics) PollInstrument() *service.PollInstrument {
	return &service.PollInstrument{
		RecordTick: func(device string, outcome service.TickOutcome) {
			m.pollTicks.WithLabelValues(device, string(outcome)).Inc()
		},
		RecordAlert: func(device string, kind domain.AlertKind) {
			m.alertsRaised.WithLabelValues(device, string(kind)).Inc()
		},
	}
}

func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.Registry, promhttp.HandlerOpts{Registry: m.Registry})
}
