// Package repositories implements SQLite persistence for crowdspot's caches.
//
// Key Implementations:
//   - [AlbumTrackRepository] : tracks embedded in saved albums, keyed by album id and replayed
//     when the album is opened, so a saved album opens without a request
//
// The schema is created by the embedded migrations in the shared package.
package repositories
