// Package registry implements CoreRegistry: the process-wide map from
// discovery key to open core, with concurrent-open deduplication,
// cooperative idle GC, and core-open watcher fan-out (spec.md §4.2,
// §5, §9).
//
// # Architecture
//
//	┌─────────────────────────────────────┐
//	│            CoreRegistry              │
//	├─────────────────────────────────────┤
//	│  open:    hex(discoveryKey) → entry  │
//	│  missing: bounded LRU negative cache │
//	│  watchers: LIFO callback list        │
//	│  idle GC: 2s ticker, 3-strike close  │
//	└─────────────────────────────────────┘
//
// Concurrent-open deduplication is singleflight.Group keyed by
// hex(discoveryKey): two callers racing to open the same core share
// one in-flight CoreEngine.Create call (spec.md §5).
//
// # Idle GC
//
// GC is cooperative, not reference-counted at the registry layer —
// SessionTracker tracks sessions; CoreRegistry only tracks idle marks.
// A core marked idle survives three ~2-second ticks before it is
// closed and evicted; any Resume call on it in that window resets the
// strike counter to zero.
package registry
