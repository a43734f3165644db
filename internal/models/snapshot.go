package models

// PlayerSnapshot is the serialized form of one tenant's playback state,
// written by the persistence store and replayed at startup or on failover.
type PlayerSnapshot struct {
	GuildID    string            `json:"guild_id"`
	NodeName   string            `json:"node_name"`
	VoiceCh    string            `json:"voice_channel"`
	TextCh     string            `json:"text_channel"`
	Track      *Track            `json:"track,omitempty"`
	Queue      []Track           `json:"queue"`
	Position   int64             `json:"position"`
	Volume     int               `json:"volume"`
	Paused     bool              `json:"paused"`
	Loop       LoopMode          `json:"loop"`
	Filters    map[string]any    `json:"filters,omitempty"`
	AutoResume bool              `json:"auto_resume"`
	Data       map[string]string `json:"data,omitempty"`
	UpdatedAt  int64             `json:"updated_at"` // unix millis
}
