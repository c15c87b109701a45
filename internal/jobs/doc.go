// Package jobs persists pipeline jobs and their append-only event log in
// SQLite.
//
// Each job owns a private directory under the configured jobs root. Creating a
// job (fresh or rerun) copies the source video into that directory so a rerun
// never shares files with its parent. Status values double as the pipeline
// stage cursor: a job moves queued → preprocessing → … → postprocess and ends
// in completed, failed, or canceled.
package jobs
