package log

import (
	"context"
	"log/slog"
)

// SlogAdapter writes protocol events to an slog.Logger.
// Useful for development when you want to see protocol events in console.
type SlogAdapter struct {
	logger *slog.Logger
}

// NewSlogAdapter creates a new SlogAdapter that writes to the given slog.Logger.
func NewSlogAdapter(logger *slog.Logger) *SlogAdapter {
	return &SlogAdapter{logger: logger}
}

// Log writes the event to the slog logger at Debug level.
func (a *SlogAdapter) Log(event Event) {
	attrs := []slog.Attr{
		slog.String("bus_id", event.BusID),
		slog.String("direction", event.Direction.String()),
		slog.String("layer", event.Layer.String()),
		slog.String("category", event.Category.String()),
	}

	if event.NodeAddr != nil {
		attrs = append(attrs, slog.String("node", addrString(*event.NodeAddr)))
	}
	if event.TaskID != nil {
		attrs = append(attrs, slog.Uint64("task", uint64(*event.TaskID)))
	}

	switch {
	case event.Frame != nil:
		attrs = append(attrs,
			slog.Uint64("frame_id", uint64(event.Frame.ID)),
			slog.Bool("extended", event.Frame.Extended),
			slog.Int("len", len(event.Frame.Data)),
		)
		if event.Frame.Dropped {
			attrs = append(attrs, slog.Bool("dropped", true))
		}
	case event.Message != nil:
		attrs = append(attrs,
			slog.Uint64("kind", uint64(event.Message.Kind)),
			slog.String("src", addrString(event.Message.Source)),
			slog.String("dst", addrString(event.Message.Destination)),
		)
		if event.Message.DefinitionID != nil {
			attrs = append(attrs, slog.Uint64("definition", uint64(*event.Message.DefinitionID)))
		}
		if event.Message.Status != nil {
			attrs = append(attrs, slog.Uint64("status", uint64(*event.Message.Status)))
		}
		if event.Message.Value != nil {
			attrs = append(attrs, slog.Float64("value", *event.Message.Value))
		}
	case event.StateChange != nil:
		attrs = append(attrs,
			slog.String("entity", event.StateChange.Entity.String()),
			slog.String("old_state", event.StateChange.OldState),
			slog.String("new_state", event.StateChange.NewState),
		)
		if event.StateChange.Reason != "" {
			attrs = append(attrs, slog.String("reason", event.StateChange.Reason))
		}
	case event.Error != nil:
		attrs = append(attrs,
			slog.String("error_layer", event.Error.Layer.String()),
			slog.String("error_msg", event.Error.Message),
		)
		if event.Error.Context != "" {
			attrs = append(attrs, slog.String("error_context", event.Error.Context))
		}
	}

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "protocol", attrs...)
}

func addrString(addr uint8) string {
	const hex = "0123456789ABCDEF"
	return "0x" + string([]byte{hex[addr>>4], hex[addr&0x0F]})
}

// Compile-time interface satisfaction check.
var _ Logger = (*SlogAdapter)(nil)
