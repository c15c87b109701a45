// Package preflight provides readiness checks for the filesystem paths,
// credentials, binaries, and dispatch backend reelhook depends on.
//
// The CLI "reelhook health" command renders RunAll; the daemon calls it once
// at startup and logs failures without refusing to start, since a missing
// credential only affects the stage that needs it.
package preflight
