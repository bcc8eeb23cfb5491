package log

// MultiLogger fans each event out to every sink in order. The
// simulator uses it to feed an .ablog capture and the slog console
// from the same event stream.
type MultiLogger struct {
	sinks []Logger
}

// NewMultiLogger combines the given sinks into one Logger.
func NewMultiLogger(sinks ...Logger) *MultiLogger {
	return &MultiLogger{sinks: sinks}
}

// Log forwards the event to every sink.
func (m *MultiLogger) Log(event Event) {
	for _, l := range m.sinks {
		l.Log(event)
	}
}

var _ Logger = (*MultiLogger)(nil)
