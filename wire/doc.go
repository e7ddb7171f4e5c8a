// Package wire is a minimal duplex ProtocolStream/Muxer implementation
// used to drive and test Corestore's replication fan-out (spec.md
// §4.6.5, §8 scenarios #4 and #5). It is the supplemented "wire
// framing" collaborator named in spec.md §1 — deliberately not a real
// noise handshake or multiplexer, which stay out of scope per spec.md
// §1's Non-goals. Frames are gob-encoded over any io.ReadWriteCloser
// (typically one half of a net.Pipe or a TCP connection).
//
// # Protocol
//
// Three frame kinds suffice to drive attach/detach and on-demand open:
//
//	have:    "I have attached core with this discovery key"
//	request: "send me block N of this discovery key"
//	data:    the response to a request, or its error
//
// A Stream's Muxer tracks which locally attached cores it can serve
// requests for, and forwards unrecognized "have" advertisements to the
// on_discovery_key callback supplied at construction, exactly as
// spec.md §4.6.5 describes.
package wire
