// Package ffprobe provides a typed wrapper around ffprobe JSON output.
//
// Inspect runs the binary; Parse decodes captured output. Result helpers pick
// the first stream of a kind and parse durations and frame rates.
package ffprobe
