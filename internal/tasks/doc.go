// Package tasks runs long library operations with progress reporting.
//
// # Backup
//
// [Backup] exports every container of a category (the user's playlists, saved
// albums, followed artists or saved shows) into its own directory:
//
//  1. The category is listed page by page until the cursor is exhausted.
//  2. Each browsable item becomes a job for a bounded worker pool.
//  3. Workers wait on a shared rate limiter, drain the container's listing and
//     write it with [formatter.WriteExport].
//  4. A backup_manifest.json summarizing every container is written last.
//
// A container that fails does not stop the others. Cancelling the context
// skips the containers that have not started yet.
//
// # Progress Reporting
//
// Updates are sent on an optional [ProgressUpdate] channel with select and
// default, so a slow or absent reader never blocks the backup.
package tasks
