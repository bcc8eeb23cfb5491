package metrics

import (
	"testing"

	"github.com/agribus-protocol/agribus-go/pkg/bus"
)

func TestRecordBusCounterDeltas(t *testing.T) {
	Register()

	s := bus.Statistics{
		BusID:       "test-bus",
		Transmitted: 10,
		Delivered:   8,
		Dropped:     2,
		Load:        0.25,
	}
	RecordBus(s)

	// Counters must advance by the delta, not the absolute value.
	s.Transmitted = 15
	s.Delivered = 12
	RecordBus(s)

	stateMu.Lock()
	got := lastBus["test-bus"]
	stateMu.Unlock()
	if got.transmitted != 15 || got.delivered != 12 || got.dropped != 2 {
		t.Errorf("lastBus = %+v, want {15 12 2}", got)
	}
}
