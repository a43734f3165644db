// Package models defines the value types shared across the TuneLink client.
//
// The package contains three categories of types:
//
// 1. Track data: engine-encoded tracks with display metadata
//   - [Track] : Encoded token plus [TrackInfo] and a typed metadata map
//   - [LoadResult] : Outcome of an identifier resolution against an engine
//
// 2. Platform voice packets: raw voice-gateway state forwarded by the caller
//   - [VoiceServerUpdate] : Server token, endpoint, and derived region
//   - [VoiceStateUpdate] : Channel/session state for one tenant
//
// 3. Persistence: crash-recovery snapshots of per-tenant playback state
//   - [PlayerSnapshot] : Everything needed to re-home a session after restart
//
// All types are plain data with JSON tags matching the engine wire contract;
// behavior lives in the node, player, and pool packages.
package models
