// Package dispatch accepts upload batches and runs their jobs in the background.
//
// A batch is validated and staged synchronously: every file is checked
// against the service's extension list, copied into its own staging-in
// directory, and only then is background work started. Validation failures
// leave no files behind.
//
// Two dispatch policies exist:
//   - parallel: one goroutine per file, counters updated under the record lock
//   - sequential: one worker per batch, files in submission order; a cancel
//     observed before a file aborts every file still queued
//
// Each job ends in exactly one of completed, failed or canceled. Completed
// is only reported after the job's manifest has been promoted into the
// persistent area. Staging directories are discarded on every exit path.
//
// Cancellation:
//   - RequestCancel flags the record, resets its counters and cancels the
//     batch context
//   - pipelines observe the context at stage checkpoints
//   - staging-in and staging-out of the client are purged
package dispatch
