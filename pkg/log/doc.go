// Package log provides structured protocol event logging for LOOM nodes.
//
// The node and dispatcher emit log.Event values describing packets as
// they cross each layer (overlay, logical, device hooks) plus state
// changes and decode errors. Applications choose the sink: NoopLogger
// discards, SlogAdapter bridges to log/slog for human-readable output,
// FileLogger appends a stream of self-delimiting CBOR records (no length
// prefix) for offline analysis,
// and MultiLogger fans out to several sinks.
package log
