// Package metrics exposes the driver core's counters. Registration is
// global; the VictoriaMetrics set can be scraped or dumped by the
// embedding application.
package metrics

import "github.com/VictoriaMetrics/metrics"

var (
	// FramesRead counts complete inbound frames.
	FramesRead = metrics.NewCounter("cqlwire_frames_read_total")
	// FramesWritten counts frames handed to the socket.
	FramesWritten = metrics.NewCounter("cqlwire_frames_written_total")
	// BytesRead counts raw inbound bytes, before decryption.
	BytesRead = metrics.NewCounter("cqlwire_bytes_read_total")
	// BytesWritten counts bytes flushed to the socket.
	BytesWritten = metrics.NewCounter("cqlwire_bytes_written_total")

	// FlushCycles counts request-queue drain cycles.
	FlushCycles = metrics.NewCounter("cqlwire_flush_cycles_total")
	// FlushesRequested counts per-connection flushes after coalescing.
	FlushesRequested = metrics.NewCounter("cqlwire_flushes_requested_total")
	// WritesCoalesced counts submissions that shared a flush with an
	// earlier submission to the same connection.
	WritesCoalesced = metrics.NewCounter("cqlwire_writes_coalesced_total")

	// StreamExhausted counts submissions rejected for lack of a stream id.
	StreamExhausted = metrics.NewCounter("cqlwire_stream_exhausted_total")
	// BackpressureRejections counts writes rejected by a full queue.
	BackpressureRejections = metrics.NewCounter("cqlwire_backpressure_rejections_total")

	// ConnectionsClosed counts connection teardowns.
	ConnectionsClosed = metrics.NewCounter("cqlwire_connections_closed_total")
	// ProtocolErrors counts malformed frames and unknown stream ids.
	ProtocolErrors = metrics.NewCounter("cqlwire_protocol_errors_total")
)
