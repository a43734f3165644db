package shared

import "fmt"

var (
	// Configuration errors: invalid constructor arguments, fatal at startup.
	ErrMissingConfig = fmt.Errorf("configuration not found")
	ErrInvalidConfig = fmt.Errorf("invalid configuration")

	// Protocol errors: malformed or unroutable frames, logged and dropped.
	ErrProtocol    = fmt.Errorf("protocol error")
	ErrUnknownOp   = fmt.Errorf("unknown op")
	ErrNoSessionID = fmt.Errorf("no engine session id assigned")

	// Transport errors: non-2xx responses from an engine's REST endpoint.
	ErrAPIRequest = fmt.Errorf("API request failed")
	ErrTimeout    = fmt.Errorf("operation timed out")

	// Connection errors: no usable engine instance.
	ErrNoHealthyNode     = fmt.Errorf("no healthy node available")
	ErrNodeDestroyed     = fmt.Errorf("node destroyed")
	ErrNodeDisconnected  = fmt.Errorf("node is not connected")
	ErrFailoverExhausted = fmt.Errorf("failover exhausted: no healthy node")

	// Player operation errors.
	ErrPlayerDestroyed = fmt.Errorf("player destroyed")
	ErrNothingPlaying  = fmt.Errorf("nothing is playing")
	ErrVolumeRange     = fmt.Errorf("volume out of range (0..1000)")
	ErrInvalidLoopMode = fmt.Errorf("invalid loop mode")

	// Persistence errors: logged, never fatal.
	ErrRestoreFailed = fmt.Errorf("state restore failed")

	// Input validation errors.
	ErrMissingArgument = fmt.Errorf("missing required argument")
)
