// Package models defines the host-facing entities produced by crowdspot.
//
// Every catalog record (track, album, playlist, artist, category, show, episode)
// is translated into a [MediaItem] whose [Kind] tells the host whether the item
// plays directly, opens into a collection, or opens into a container of playables.
package models
