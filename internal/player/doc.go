// Package player implements the per-tenant playback session: the track
// queue, the control operations (play/pause/seek/volume/loop), outbound
// update coalescing, the voice transport mapping, and the auto-resume
// bookkeeping that lets a session survive engine-side stream loss and
// node failover.
package player
