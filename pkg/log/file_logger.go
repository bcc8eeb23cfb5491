package log

import (
	"os"
	"sync"

	"github.com/fxamacker/cbor/v2"
)

// FileLogger appends protocol events to an .ablog capture file, one
// CBOR-encoded event after another. A Reader on the same path replays
// the stream. Safe for concurrent use.
type FileLogger struct {
	file *os.File
	enc  *cbor.Encoder

	mu     sync.Mutex
	closed bool
}

// NewFileLogger opens (or creates, 0644) the capture file at path.
// An existing capture is appended to, never truncated, so a simulation
// run can be resumed into the same file.
func NewFileLogger(path string) (*FileLogger, error) {
	f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0644)
	if err != nil {
		return nil, err
	}
	return &FileLogger{file: f, enc: NewEncoder(f)}, nil
}

// Log appends one event to the capture. Encode errors are discarded;
// tracing must never stall bus traffic.
func (l *FileLogger) Log(event Event) {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return
	}
	_ = l.enc.Encode(event)
}

// Close closes the capture file. Close is idempotent, and events
// logged afterwards are dropped.
func (l *FileLogger) Close() error {
	l.mu.Lock()
	defer l.mu.Unlock()

	if l.closed {
		return nil
	}
	l.closed = true
	return l.file.Close()
}

var _ Logger = (*FileLogger)(nil)
