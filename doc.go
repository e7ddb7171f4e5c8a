// Package corestore is a factory and lifecycle manager for a large
// collection of append-only, cryptographically-authenticated logs
// ("cores") that share one on-disk root, one master seed, and one
// replication fabric. It is the glue layer beneath higher-level data
// structures (key-value stores, filesystems, databases) built on top
// of such logs.
//
// # Overview
//
// Given a name or key, Store.Get returns a Session handle to the
// corresponding core: storage is opened lazily, concurrent opens for
// the same identity are deduplicated, and the core is attached to
// every live replication stream that wants it. See SPEC_FULL.md for
// the full specification this package implements.
//
// # Architecture
//
//	┌──────────────────────────────────────────────┐
//	│                     Store                      │
//	├──────────────────────────────────────────────┤
//	│  root owns: Storage, CoreRegistry,             │
//	│             StreamTracker, primary key          │
//	│  child owns: its own namespace + SessionTracker │
//	└──────────────────────────────────────────────┘
//	         │                    │
//	   store.Get(opts)      store.Replicate(role)
//	         │                    │
//	         ▼                    ▼
//	  auth.Resolve(opts)   wire.NewStream + StreamTracker.Add
//	         │                    │
//	         ▼                    ▼
//	  registry.Intern(id, factory)   attach every downloading core
//
// # Non-goals
//
// The append-log format, Merkle tree, block I/O and audit internals
// (engine.CoreEngine, package enginemem is a reference), and the real
// noise handshake / multiplexer (package wire is a minimal stand-in)
// are external collaborators, not implemented by this package.
package corestore
