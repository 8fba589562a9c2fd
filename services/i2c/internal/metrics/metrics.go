// Package metrics exports arbiter and transport telemetry as Prometheus
// collectors. A Collector plugs into the arbiter as an Observer.
package metrics

import (
	"strconv"
	"sync"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"i2cserver-go/errcode"
	"i2cserver-go/types"
)

// Collector owns a private registry so several servers can coexist in one
// process (tests, the host demo).
type Collector struct {
	registry *prometheus.Registry

	controllerState *prometheus.GaugeVec
	terminal        *prometheus.GaugeVec

	txTotal   *prometheus.CounterVec
	txLatency *prometheus.HistogramVec

	recoveryTotal  *prometheus.CounterVec
	recoveryPulses *prometheus.CounterVec

	ipcCalls *prometheus.CounterVec
	faults   prometheus.Counter

	// Resolved children, so the request path does no label formatting.
	mu       sync.Mutex
	txCount  map[txKey]prometheus.Counter
	txObs    map[latKey]prometheus.Observer
	ctrlSeen map[types.ControllerID]ctrlMetrics
}

type txKey struct {
	ctrl types.ControllerID
	op   types.OpKind
	code errcode.Code
}

type latKey struct {
	ctrl types.ControllerID
	op   types.OpKind
}

type ctrlMetrics struct {
	state    prometheus.Gauge
	terminal prometheus.Gauge
}

var ctrlLabels [256]string

func init() {
	for i := range ctrlLabels {
		ctrlLabels[i] = "i2c" + strconv.Itoa(i)
	}
}

func ctrlLabel(c types.ControllerID) string { return ctrlLabels[c] }

func NewCollector(namespace string) *Collector {
	if namespace == "" {
		namespace = "i2c"
	}
	c := &Collector{
		registry: prometheus.NewRegistry(),
		txCount:  make(map[txKey]prometheus.Counter),
		txObs:    make(map[latKey]prometheus.Observer),
		ctrlSeen: make(map[types.ControllerID]ctrlMetrics),
	}

	c.controllerState = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "state",
			Help:      "Controller state (0=idle, 1=busy, 2=error, 3=recovering)",
		},
		[]string{"controller"},
	)
	c.terminal = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: namespace,
			Subsystem: "controller",
			Name:      "terminal",
			Help:      "1 while a controller needs an explicit reset",
		},
		[]string{"controller"},
	)
	c.txTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "total",
			Help:      "Transactions by operation and result code",
		},
		[]string{"controller", "op", "code"},
	)
	c.txLatency = prometheus.NewHistogramVec(
		prometheus.HistogramOpts{
			Namespace: namespace,
			Subsystem: "transaction",
			Name:      "duration_seconds",
			Help:      "Time from admission to completion",
			Buckets:   prometheus.ExponentialBuckets(0.0001, 2, 12), // 100us to ~200ms
		},
		[]string{"controller", "op"},
	)
	c.recoveryTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "attempts_total",
			Help:      "Bus recovery attempts",
		},
		[]string{"controller", "trigger", "result"},
	)
	c.recoveryPulses = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "recovery",
			Name:      "pulses_total",
			Help:      "SCL pulses driven during recovery",
		},
		[]string{"controller"},
	)
	c.ipcCalls = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ipc",
			Name:      "calls_total",
			Help:      "Server calls by operation and reply code",
		},
		[]string{"op", "code"},
	)
	c.faults = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: namespace,
			Subsystem: "ipc",
			Name:      "faults_total",
			Help:      "Handler faults contained by the server loop",
		},
	)

	c.registry.MustRegister(
		c.controllerState,
		c.terminal,
		c.txTotal,
		c.txLatency,
		c.recoveryTotal,
		c.recoveryPulses,
		c.ipcCalls,
		c.faults,
	)
	return c
}

func (c *Collector) Registry() *prometheus.Registry { return c.registry }

func (c *Collector) controller(ctrl types.ControllerID) ctrlMetrics {
	c.mu.Lock()
	defer c.mu.Unlock()
	m, ok := c.ctrlSeen[ctrl]
	if !ok {
		id := ctrlLabel(ctrl)
		m = ctrlMetrics{
			state:    c.controllerState.WithLabelValues(id),
			terminal: c.terminal.WithLabelValues(id),
		}
		c.ctrlSeen[ctrl] = m
	}
	return m
}

func (c *Collector) StateChanged(ctrl types.ControllerID, _, to types.ControllerState, terminal bool) {
	m := c.controller(ctrl)
	m.state.Set(float64(to))
	t := 0.0
	if terminal && to == types.StateError {
		t = 1
	}
	m.terminal.Set(t)
}

func (c *Collector) Transaction(ctrl types.ControllerID, op types.OpKind, err error, elapsed time.Duration) {
	tk := txKey{ctrl: ctrl, op: op, code: errcode.Of(err)}
	lk := latKey{ctrl: ctrl, op: op}

	c.mu.Lock()
	cnt, ok := c.txCount[tk]
	if !ok {
		cnt = c.txTotal.WithLabelValues(ctrlLabel(ctrl), op.String(), string(tk.code))
		c.txCount[tk] = cnt
	}
	obs, ok := c.txObs[lk]
	if !ok {
		obs = c.txLatency.WithLabelValues(ctrlLabel(ctrl), op.String())
		c.txObs[lk] = obs
	}
	c.mu.Unlock()

	cnt.Inc()
	obs.Observe(elapsed.Seconds())
}

func (c *Collector) Recovery(ev types.RecoveryEvent, _ error) {
	id := ctrlLabel(ev.Controller)
	trigger := "explicit"
	if ev.Auto {
		trigger = "auto"
	}
	result := "success"
	if !ev.OK {
		result = "failure"
	}
	c.recoveryTotal.WithLabelValues(id, trigger, result).Inc()
	c.recoveryPulses.WithLabelValues(id).Add(float64(ev.Pulses))
}

// RecordCall counts one server call by operation name and reply code.
func (c *Collector) RecordCall(op string, code errcode.Code) {
	c.ipcCalls.WithLabelValues(op, string(code)).Inc()
	if code == errcode.TaskFault {
		c.faults.Inc()
	}
}
