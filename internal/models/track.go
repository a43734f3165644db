package models

// TrackInfo carries the display metadata attached to an encoded track.
// Fields mirror the engine's track info object and are immutable once resolved.
type TrackInfo struct {
	Identifier string `json:"identifier"`
	Author     string `json:"author"`
	Title      string `json:"title"`
	Length     int64  `json:"length"` // milliseconds
	URI        string `json:"uri"`
	SourceName string `json:"sourceName"`
	ISRC       string `json:"isrc,omitempty"`
	IsSeekable bool   `json:"isSeekable"`
	IsStream   bool   `json:"isStream"`
	Position   int64  `json:"position"`
}

// Track is an engine-playable track: the opaque encoded token the engine
// produced, its display metadata, an optional typed metadata map, and a
// reference to whoever requested it.
type Track struct {
	Encoded   string            `json:"encoded"`
	Info      TrackInfo         `json:"info"`
	Metadata  map[string]string `json:"metadata,omitempty"`
	Requester string            `json:"requester,omitempty"`
}

// LoopMode controls what happens when the current track ends.
type LoopMode string

const (
	LoopNone  LoopMode = "none"
	LoopTrack LoopMode = "track"
	LoopQueue LoopMode = "queue"
)

// Valid reports whether m is one of the three defined loop modes.
func (m LoopMode) Valid() bool {
	return m == LoopNone || m == LoopTrack || m == LoopQueue
}
