// Package dispatch delivers queued job ids to the worker pool.
//
// Two sources are available. SQLitePoller polls the job store for queued jobs
// on a fixed interval. RedisStream reads ids from a Redis stream so other
// processes can enqueue work with XADD; Publish is the producer side. Both
// may hand out an id more than once, so consumers must check the job is still
// queued before running it.
package dispatch
