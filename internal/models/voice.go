package models

import "strings"

// VoiceServerUpdate is the platform's voice-server packet for one tenant.
type VoiceServerUpdate struct {
	Token    string `json:"token"`
	GuildID  string `json:"guild_id"`
	Endpoint string `json:"endpoint"`
}

// Region derives the voice region from the endpoint hostname,
// e.g. "us-west1234.example.net" -> "us-west".
func (u VoiceServerUpdate) Region() string {
	host := u.Endpoint
	if i := strings.IndexByte(host, ':'); i >= 0 {
		host = host[:i]
	}
	if i := strings.IndexByte(host, '.'); i >= 0 {
		host = host[:i]
	}
	return strings.TrimRight(host, "0123456789")
}

// VoiceStateUpdate is the platform's voice-state packet for one tenant.
// A nil ChannelID means the tenant left voice entirely.
type VoiceStateUpdate struct {
	GuildID   string  `json:"guild_id"`
	ChannelID *string `json:"channel_id"`
	UserID    string  `json:"user_id"`
	SessionID string  `json:"session_id"`
	SelfMute  bool    `json:"self_mute"`
	SelfDeaf  bool    `json:"self_deaf"`
}
