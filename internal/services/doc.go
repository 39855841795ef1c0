// Package services talks to the Spotify Web API and turns its records into [models.MediaItem] values.
//
// # Catalog
//
// [SpotifyCatalog] implements [Catalog]. Every listing is a logical query identified by
// a key (saved-tracks, playlist:{id}, search:{term}, ...) whose pagination cursor lives
// in a [PageCache]. A cursor is unset, points at the next page, or is exhausted; an
// exhausted query returns an empty page without touching the network until it is
// refreshed. A response without a next link exhausts the query.
//
// # Response Shapes
//
// Responses are read with gjson. A query may name an unwrap key: when the response
// holds an object under that key (search results, followed artists, categories) the
// object is the page; when it holds an array (artist top tracks) the array is the item
// list. A query may also name an item key (track, album, show) for listings whose
// items wrap the record together with metadata such as added_at.
//
// # Saved Tracks
//
// [SavedTracks] caches the ids the user has liked. Track listings refresh membership
// with one contains request per page and only ever add ids; [SavedTracks.Toggle]
// is the only operation that removes one, and only after the remote change succeeds.
//
// # Errors
//
//   - [shared.ErrUnauthorized] : 401, handled by the [Authorizer] with one replay
//   - [shared.ErrRemoteRequestFailed] : transport failure or non-2xx status ([shared.RemoteError])
//   - [shared.ErrMalformedResponse] : body is not the expected JSON shape
package services
