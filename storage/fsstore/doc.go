// Package fsstore is a filesystem-backed implementation of
// storage.Storage: one directory tree per root, a seed file, a lock
// file excluding concurrent processes, sharded per-core directories,
// and a JSON alias table (SPEC_FULL.md §12).
//
// # Layout
//
//	<base>/
//	  .lock                         exclusive-create lock file
//	  seed                          32-byte master seed
//	  alias.json                    (namespace, name) -> discovery_key
//	  cores/<dk[0:2]>/<dk[2:4]>/<dk>/core.json
//	                                per-core auth + user-data record
//
// Every write is staged to a sibling temp file and renamed into place,
// so a crash mid-write never leaves a half-written record behind.
package fsstore
