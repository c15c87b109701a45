// Package workflow runs the daemon's worker pool.
//
// The Manager takes the daemon lock, re-queues jobs an earlier process left
// in a stage status, then pulls job ids from a dispatch.Source and hands each
// to one of max_parallel_jobs workers. A worker runs one job end to end
// through the pipeline engine. Failures are logged and recorded on the job by
// the engine; they never stop the pool.
package workflow
