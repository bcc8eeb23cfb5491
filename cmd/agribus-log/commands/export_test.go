package commands

import (
	"encoding/csv"
	"encoding/json"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/agribus-protocol/agribus-go/pkg/log"
	"github.com/agribus-protocol/agribus-go/pkg/wire"
)

func exportFixture(t *testing.T) string {
	t.Helper()
	ts := time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)
	taskID := uint8(1)
	value := 95.0
	return createTestLogFile(t, []log.Event{
		{Timestamp: ts, BusID: "bus", Direction: log.DirectionOut,
			Layer: log.LayerTransport, Category: log.CategoryFrame,
			NodeAddr: addr(0x01), Frame: &log.FrameEvent{ID: 0x101, Data: []byte{0xc4, 0x09}}},
		{Timestamp: ts.Add(time.Second), BusID: "bus", Direction: log.DirectionIn,
			Layer: log.LayerWire, Category: log.CategoryMessage,
			NodeAddr: addr(0x01), TaskID: &taskID,
			Message: &log.MessageEvent{Kind: uint8(wire.KindParamSet),
				Source: 0x01, Destination: 0x10, TaskID: &taskID, Value: &value}},
	})
}

func TestExportToJSONL(t *testing.T) {
	path := exportFixture(t)
	out := filepath.Join(t.TempDir(), "out.jsonl")

	if err := RunExport(path, "jsonl", out); err != nil {
		t.Fatalf("RunExport: %v", err)
	}

	data, err := os.ReadFile(out)
	if err != nil {
		t.Fatalf("failed to read output: %v", err)
	}
	lines := strings.Split(strings.TrimSpace(string(data)), "\n")
	if len(lines) != 2 {
		t.Fatalf("got %d lines, want 2", len(lines))
	}
	for i, line := range lines {
		var obj map[string]any
		if err := json.Unmarshal([]byte(line), &obj); err != nil {
			t.Errorf("line %d is not valid JSON: %v", i, err)
		}
	}
}

func TestExportToCSV(t *testing.T) {
	path := exportFixture(t)
	out := filepath.Join(t.TempDir(), "out.csv")

	if err := RunExport(path, "csv", out); err != nil {
		t.Fatalf("RunExport: %v", err)
	}

	f, err := os.Open(out)
	if err != nil {
		t.Fatalf("failed to open output: %v", err)
	}
	defer f.Close()

	rows, err := csv.NewReader(f).ReadAll()
	if err != nil {
		t.Fatalf("failed to parse CSV: %v", err)
	}
	if len(rows) != 3 {
		t.Fatalf("got %d rows, want header + 2 events", len(rows))
	}
	if rows[0][0] != "timestamp" {
		t.Errorf("unexpected header: %v", rows[0])
	}
	if rows[1][7] != "frame" {
		t.Errorf("first event type = %q, want frame", rows[1][7])
	}
	if rows[2][7] != "PARAM_SET" || rows[2][8] != "0x01->0x10" {
		t.Errorf("second event row = %v", rows[2])
	}
}

func TestExportUnknownFormat(t *testing.T) {
	path := exportFixture(t)
	if err := RunExport(path, "xml", ""); err == nil {
		t.Error("expected error for unknown format")
	}
}
