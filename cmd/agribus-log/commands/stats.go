package commands

import (
	"fmt"
	"io"
	"sort"
	"time"

	"github.com/agribus-protocol/agribus-go/pkg/log"
	"github.com/agribus-protocol/agribus-go/pkg/wire"
)

// Stats holds aggregate statistics about a log file.
type Stats struct {
	TotalEvents       int
	EventsByLayer     map[log.Layer]int
	EventsByCategory  map[log.Category]int
	EventsByDirection map[log.Direction]int
	EventsByKind      map[wire.Kind]int
	Nodes             map[uint8]*NodeStats
	Tasks             map[uint8]int
	DroppedFrames     int
	Errors            int
	TimeRange         struct {
		Start time.Time
		End   time.Time
	}
}

// NodeStats holds statistics for a single node address.
type NodeStats struct {
	FirstSeen time.Time
	LastSeen  time.Time
	Events    int
}

// RunStats analyzes the log file and prints statistics.
func RunStats(path string, w io.Writer) error {
	reader, err := log.NewReader(path)
	if err != nil {
		return fmt.Errorf("failed to open log file: %w", err)
	}
	defer reader.Close()

	stats := &Stats{
		EventsByLayer:     make(map[log.Layer]int),
		EventsByCategory:  make(map[log.Category]int),
		EventsByDirection: make(map[log.Direction]int),
		EventsByKind:      make(map[wire.Kind]int),
		Nodes:             make(map[uint8]*NodeStats),
		Tasks:             make(map[uint8]int),
	}

	for {
		event, err := reader.Next()
		if err == io.EOF {
			break
		}
		if err != nil {
			return fmt.Errorf("failed to read event: %w", err)
		}

		stats.TotalEvents++
		stats.EventsByLayer[event.Layer]++
		stats.EventsByCategory[event.Category]++
		stats.EventsByDirection[event.Direction]++

		if stats.TimeRange.Start.IsZero() || event.Timestamp.Before(stats.TimeRange.Start) {
			stats.TimeRange.Start = event.Timestamp
		}
		if event.Timestamp.After(stats.TimeRange.End) {
			stats.TimeRange.End = event.Timestamp
		}

		if event.NodeAddr != nil {
			node, ok := stats.Nodes[*event.NodeAddr]
			if !ok {
				node = &NodeStats{FirstSeen: event.Timestamp, LastSeen: event.Timestamp}
				stats.Nodes[*event.NodeAddr] = node
			}
			node.Events++
			if event.Timestamp.After(node.LastSeen) {
				node.LastSeen = event.Timestamp
			}
		}

		if event.TaskID != nil {
			stats.Tasks[*event.TaskID]++
		}
		if event.Message != nil {
			stats.EventsByKind[wire.Kind(event.Message.Kind)]++
		}
		if event.Frame != nil && event.Frame.Dropped {
			stats.DroppedFrames++
		}
		if event.Error != nil {
			stats.Errors++
		}
	}

	printStats(w, stats)
	return nil
}

func printStats(w io.Writer, stats *Stats) {
	fmt.Fprintln(w, "=== Agribus Protocol Log Statistics ===")
	fmt.Fprintln(w)

	if stats.TotalEvents > 0 {
		fmt.Fprintf(w, "Time Range: %s to %s\n",
			stats.TimeRange.Start.Format(time.RFC3339),
			stats.TimeRange.End.Format(time.RFC3339))
		fmt.Fprintf(w, "Duration:   %s\n", stats.TimeRange.End.Sub(stats.TimeRange.Start).Round(time.Second))
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Total Events: %d\n", stats.TotalEvents)
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Layer:")
	for _, layer := range []log.Layer{log.LayerTransport, log.LayerWire, log.LayerEngine} {
		if count := stats.EventsByLayer[layer]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", layer.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Category:")
	for _, cat := range []log.Category{log.CategoryFrame, log.CategoryMessage, log.CategoryState, log.CategoryError} {
		if count := stats.EventsByCategory[cat]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", cat.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	fmt.Fprintln(w, "Events by Direction:")
	for _, dir := range []log.Direction{log.DirectionIn, log.DirectionOut} {
		if count := stats.EventsByDirection[dir]; count > 0 {
			fmt.Fprintf(w, "  %-12s %d\n", dir.String()+":", count)
		}
	}
	fmt.Fprintln(w)

	if len(stats.EventsByKind) > 0 {
		fmt.Fprintln(w, "Messages by Kind:")
		kinds := make([]wire.Kind, 0, len(stats.EventsByKind))
		for k := range stats.EventsByKind {
			kinds = append(kinds, k)
		}
		sort.Slice(kinds, func(i, j int) bool { return kinds[i] < kinds[j] })
		for _, k := range kinds {
			fmt.Fprintf(w, "  %-16s %d\n", k.String()+":", stats.EventsByKind[k])
		}
		fmt.Fprintln(w)
	}

	fmt.Fprintf(w, "Nodes: %d\n", len(stats.Nodes))
	if len(stats.Nodes) > 0 {
		addrs := make([]uint8, 0, len(stats.Nodes))
		for addr := range stats.Nodes {
			addrs = append(addrs, addr)
		}
		sort.Slice(addrs, func(i, j int) bool { return addrs[i] < addrs[j] })

		fmt.Fprintln(w, "")
		for _, addr := range addrs {
			ns := stats.Nodes[addr]
			duration := ns.LastSeen.Sub(ns.FirstSeen).Round(time.Millisecond)
			fmt.Fprintf(w, "  [0x%02X] %d events, duration %s\n", addr, ns.Events, duration)
		}
	}

	if len(stats.Tasks) > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Tasks: %d\n", len(stats.Tasks))
		ids := make([]uint8, 0, len(stats.Tasks))
		for id := range stats.Tasks {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
		for _, id := range ids {
			fmt.Fprintf(w, "  [task %d] %d events\n", id, stats.Tasks[id])
		}
	}

	if stats.DroppedFrames > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Dropped Frames: %d\n", stats.DroppedFrames)
	}
	if stats.Errors > 0 {
		fmt.Fprintln(w)
		fmt.Fprintf(w, "Errors: %d\n", stats.Errors)
	}
}
