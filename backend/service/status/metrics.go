package status

import (
	"github.com/prometheus/client_golang/prometheus"

	"secureproxy/backend/domain"
)

const namespace = "secureproxy"

var (
	lifecycleGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "lifecycle_state",
		Help:      "Current engine lifecycle state (1 for the active state).",
	}, []string{"state"})

	interfaceGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "interface_state",
		Help:      "Current virtual interface state (1 for the active state).",
	}, []string{"state"})

	logLinesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "log_lines_total",
		Help:      "Log lines recorded by the status aggregator.",
	}, []string{"source", "level"})

	engineStartsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "engine_starts_total",
		Help:      "Engine processes launched.",
	})

	engineExitsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Namespace: namespace,
		Name:      "engine_exits_total",
		Help:      "Engine process exits by lifecycle state at exit.",
	}, []string{"state"})

	trafficGauge = prometheus.NewGaugeVec(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "traffic_kbps",
		Help:      "Last reported engine throughput in KB/s.",
	}, []string{"direction"})

	activeConnectionsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "active_connections",
		Help:      "Last reported number of active engine connections.",
	})

	packetsGauge = prometheus.NewGauge(prometheus.GaugeOpts{
		Namespace: namespace,
		Name:      "interface_packets",
		Help:      "Packets read from the virtual interface since it came up.",
	})
)

var lifecycleStates = []domain.LifecycleState{
	domain.StateDisconnected, domain.StateConnecting, domain.StateConnected, domain.StateError,
}

var interfaceStates = []domain.InterfaceState{
	domain.InterfaceInvalid, domain.InterfaceDisconnected, domain.InterfaceConnecting,
	domain.InterfaceConnected, domain.InterfaceDisconnecting, domain.InterfaceReasserting,
}

func init() {
	prometheus.MustRegister(
		lifecycleGauge,
		interfaceGauge,
		logLinesTotal,
		engineStartsTotal,
		engineExitsTotal,
		trafficGauge,
		activeConnectionsGauge,
		packetsGauge,
	)
	observeLifecycle(domain.StateDisconnected)
	observeInterface(domain.InterfaceInvalid)
}

func observeLifecycle(current domain.LifecycleState) {
	for _, s := range lifecycleStates {
		v := 0.0
		if s == current {
			v = 1
		}
		lifecycleGauge.WithLabelValues(string(s)).Set(v)
	}
}

func observeInterface(current domain.InterfaceState) {
	for _, s := range interfaceStates {
		v := 0.0
		if s == current {
			v = 1
		}
		interfaceGauge.WithLabelValues(string(s)).Set(v)
	}
}

func observeTraffic(t domain.TrafficStats) {
	trafficGauge.WithLabelValues("up").Set(t.UpKBps)
	trafficGauge.WithLabelValues("down").Set(t.DownKBps)
	activeConnectionsGauge.Set(float64(t.ActiveConnections))
}
