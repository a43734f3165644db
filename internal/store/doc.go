// Package store persists per-tenant playback snapshots so sessions survive
// process restarts. The Store interface keeps the backing medium swappable:
// FileStore writes one JSON document wholesale, SQLiteStore keeps one row per
// tenant. Both share the same save/restore contract.
package store
