// Package metrics exposes Prometheus collectors over bus and engine
// statistics. Nothing in the protocol stack depends on it; callers that
// want an exporter record snapshots explicitly.
package metrics

import (
	"strconv"
	"sync"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/agribus-protocol/agribus-go/pkg/bus"
	"github.com/agribus-protocol/agribus-go/pkg/engine"
)

var (
	registerOnce sync.Once

	framesTransmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agribus",
			Subsystem: "bus",
			Name:      "frames_transmitted_total",
			Help:      "Frames put on the wire.",
		},
		[]string{"bus"},
	)
	framesDelivered = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agribus",
			Subsystem: "bus",
			Name:      "frames_delivered_total",
			Help:      "Frame deliveries into node receive queues.",
		},
		[]string{"bus"},
	)
	framesDropped = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "agribus",
			Subsystem: "bus",
			Name:      "frames_dropped_total",
			Help:      "Frames dropped at full receive queues.",
		},
		[]string{"bus"},
	)
	busLoad = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agribus",
			Subsystem: "bus",
			Name:      "load_ratio",
			Help:      "Bus utilization over the sliding window, in [0, 1].",
		},
		[]string{"bus"},
	)
	nodeQueueDepth = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agribus",
			Subsystem: "bus",
			Name:      "node_queue_depth",
			Help:      "Pending frames per node queue.",
		},
		[]string{"bus", "node", "queue"},
	)
	deviceStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agribus",
			Subsystem: "engine",
			Name:      "devices",
			Help:      "Device records per lifecycle state.",
		},
		[]string{"state"},
	)
	taskStates = prometheus.NewGaugeVec(
		prometheus.GaugeOpts{
			Namespace: "agribus",
			Subsystem: "engine",
			Name:      "tasks",
			Help:      "Task records per lifecycle state.",
		},
		[]string{"state"},
	)
)

// Register registers all collectors with the default registry. It is
// safe to call more than once.
func Register() {
	registerOnce.Do(func() {
		prometheus.MustRegister(framesTransmitted, framesDelivered, framesDropped,
			busLoad, nodeQueueDepth, deviceStates, taskStates)
	})
}

// counterState remembers the last observed counter values so snapshot
// deltas can feed monotonic Prometheus counters.
type counterState struct {
	transmitted uint64
	delivered   uint64
	dropped     uint64
}

var (
	stateMu sync.Mutex
	lastBus = make(map[string]counterState)
)

// RecordBus records a bus statistics snapshot.
func RecordBus(s bus.Statistics) {
	Register()

	stateMu.Lock()
	prev := lastBus[s.BusID]
	lastBus[s.BusID] = counterState{
		transmitted: s.Transmitted,
		delivered:   s.Delivered,
		dropped:     s.Dropped,
	}
	stateMu.Unlock()

	framesTransmitted.WithLabelValues(s.BusID).Add(float64(s.Transmitted - prev.transmitted))
	framesDelivered.WithLabelValues(s.BusID).Add(float64(s.Delivered - prev.delivered))
	framesDropped.WithLabelValues(s.BusID).Add(float64(s.Dropped - prev.dropped))
	busLoad.WithLabelValues(s.BusID).Set(s.Load)

	for addr, n := range s.Nodes {
		label := "0x" + strconv.FormatUint(uint64(addr), 16)
		nodeQueueDepth.WithLabelValues(s.BusID, label, "tx").Set(float64(n.PendingTx))
		nodeQueueDepth.WithLabelValues(s.BusID, label, "rx").Set(float64(n.PendingRx))
	}
}

// RecordEngine records device and task state gauges from an engine.
func RecordEngine(e *engine.Engine) {
	Register()

	devices := make(map[string]int)
	for _, d := range e.Devices() {
		devices[d.State.String()]++
	}
	deviceStates.Reset()
	for state, n := range devices {
		deviceStates.WithLabelValues(state).Set(float64(n))
	}

	tasks := make(map[string]int)
	for _, t := range e.Tasks() {
		tasks[t.State.String()]++
	}
	taskStates.Reset()
	for state, n := range tasks {
		taskStates.WithLabelValues(state).Set(float64(n))
	}
}
