// Package node owns the link to one audio-engine instance: the protocol
// stream (handshake, resume, reconnect-with-backoff, frame dispatch), the
// REST gateway for control commands, and the rolling health metrics the pool
// uses to rank instances.
package node
