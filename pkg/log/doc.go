// Package log provides protocol event logging for the agribus stack.
//
// Events are captured at three layers: Transport (raw frames on the
// bus), Wire (decoded application messages) and Engine (device/task
// state changes). Every layer accepts a Logger and defaults to the
// NoopLogger, so logging is strictly opt-in.
//
// # Log Files
//
// FileLogger writes a stream of CBOR-encoded Events (integer keys for
// compactness) to a .ablog file. Reader streams events back, with
// optional filtering by bus, node, direction, layer, category and time
// range. The agribus-log command builds on Reader for viewing,
// filtering, statistics and export.
//
// # Console Output
//
// SlogAdapter forwards events to a log/slog logger for development use.
// MultiLogger fans events out to several loggers at once, typically a
// FileLogger plus a SlogAdapter.
package log
