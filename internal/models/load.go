package models

// LoadType classifies the outcome of a loadtracks call.
type LoadType string

const (
	LoadTypeTrack    LoadType = "track"
	LoadTypePlaylist LoadType = "playlist"
	LoadTypeSearch   LoadType = "search"
	LoadTypeEmpty    LoadType = "empty"
	LoadTypeError    LoadType = "error"
)

// PlaylistInfo describes the playlist a LoadResult belongs to, when the
// resolved identifier pointed at one.
type PlaylistInfo struct {
	Name          string `json:"name"`
	SelectedTrack int    `json:"selectedTrack"`
}

// LoadResult is the engine's answer to an identifier resolution.
type LoadResult struct {
	LoadType     LoadType      `json:"loadType"`
	Tracks       []Track       `json:"tracks"`
	PlaylistInfo *PlaylistInfo `json:"playlistInfo,omitempty"`
}
