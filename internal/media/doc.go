// Package media wraps the ffmpeg and ffprobe invocations used by the pipeline:
// probing source geometry, extracting the ASR audio clip, normalizing clips to
// a shared resolution and frame rate, padding or trimming the generated hook,
// and concatenating the hook in front of the source.
package media
