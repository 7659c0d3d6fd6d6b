// Package retailstreams turns recorded retail sensor feeds into
// actionable loss-prevention and operations events.
//
// The module has two halves that can run separately or together:
//
// Replay side:
//   - replay: a TCP server that streams JSONL sensor datasets to any
//     number of clients at a configurable speed multiplier, optionally
//     looping forever with timestamps re-based onto the loop boundary.
//
// Detection side:
//   - stream: a reconnecting TCP client that frames and parses the
//     JSONL feed into typed records.
//   - detect: six stateful detectors (barcode switching, scanner
//     avoidance, weight discrepancy, inventory discrepancy, queue
//     health, system health) behind a common registry.
//   - dedup: collapses duplicate candidates per (event type, entity)
//     window, keeping the highest confidence, and assigns stable
//     content-derived event IDs.
//   - sink: durable append-only JSONL commit, plus best-effort
//     WebSocket fan-out and NATS publishing.
//   - pipeline: the run loop that wires reader, detectors,
//     deduplicator, and sinks together on the stream clock, so a
//     replayed dataset always produces a byte-identical event log.
//
// Supporting packages: config (JSON/YAML with defaults), catalog
// (product reference data), record (envelope parsing), metric
// (Prometheus registry), errors (classified errors), pkg/retry and
// pkg/frame (backoff and line framing primitives).
//
// The retailstreams binary under cmd/retailstreams exposes all of it
// behind serve, detect, and all modes.
package retailstreams
