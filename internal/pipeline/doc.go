// Package pipeline drives one job through the fixed stage sequence.
//
// Engine.Execute walks an ordered list of stage descriptors once. Stages at or
// after the job's start stage run their work; earlier stages copy the parent
// job's artifacts into the job's own directory instead. Postprocess always
// runs. Any stage error marks the job failed and is returned to the caller;
// the engine never retries.
//
// The engine reaches storage, media tooling, and remote services only through
// the interfaces declared in engine.go so each can be faked in tests.
package pipeline
