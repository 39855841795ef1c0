// Package audio presents forward-only content streams as random-access byte sources.
//
// A [ContentFeeder] opens the stream for a track or episode. [NewSource] wraps it in
// one of two strategies: streams that can seek are read in place, everything else is
// buffered into memory on first use. Both report [Source.Size] as the stream length
// minus the starting offset and answer reads at or past the end with io.EOF.
package audio
