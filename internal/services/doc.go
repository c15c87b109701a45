// Package services defines shared utilities consumed by the pipeline engine and
// the remote service adapters.
//
// Key responsibilities:
//   - Context helpers that stamp job IDs, stage names, worker slots, and
//     correlation identifiers for logging.
//   - Sentinel markers plus the Wrap helper that classify failures.
//   - Typed error kinds (PipelineError, ServiceError, MediaToolError,
//     SchemaError) and the Recoverable classification that separates
//     fallback-class remote failures from fatal ones.
//
// Adapters in the asr, llm, and videogen subpackages report every failure as a
// ServiceError so callers can rely on errors.Is against the markers here.
package services
