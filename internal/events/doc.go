// Package events implements the domain event bus shared by nodes, players,
// and the pool. Subscribers receive events over buffered channels; emitters
// never block, so a slow consumer drops events rather than stalling playback.
package events
