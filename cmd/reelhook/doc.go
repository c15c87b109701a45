// Command reelhook submits source videos, runs the hook pipeline, and
// inspects job state.
//
// Jobs are stored in the SQLite database under the configured runtime
// directory. "reelhook daemon" runs the worker pool; "reelhook run" executes a
// single job in the foreground, which is convenient for debugging a rerun.
package main
