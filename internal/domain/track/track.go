// Package track provides track and playlist domain entities.
package track

import "time"

// Artist is a single performing artist on a track.
type Artist struct {
	ID   string `json:"id"`
	Name string `json:"name"`
}

// Track represents a playable track from the music service.
type Track struct {
	ID          string        `json:"id"`
	URI         string        `json:"uri"`
	Name        string        `json:"name"`
	Artists     []Artist      `json:"artists"`
	Album       string        `json:"album"`
	AlbumArtURL string        `json:"albumArtUrl"`
	Duration    time.Duration `json:"-"`
	DurationMs  int64         `json:"durationMs"`
	PreviewURL  string        `json:"previewUrl,omitempty"`
}

// ArtistNames returns the display names of all artists in order.
func (t *Track) ArtistNames() []string {
	names := make([]string, len(t.Artists))
	for i, a := range t.Artists {
		names[i] = a.Name
	}
	return names
}

// PlaylistInfo is the metadata of a loaded playlist.
type PlaylistInfo struct {
	ID          string `json:"id"`
	Name        string `json:"name"`
	CoverURL    string `json:"coverUrl"`
	TotalTracks int    `json:"totalTracks"`
}

// MusicAuth holds the music service tokens owned by a room's host.
// Tokens are never serialized to clients.
type MusicAuth struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
	UserID       string
}

// ExpiresWithin reports whether the access token expires within d.
func (a MusicAuth) ExpiresWithin(d time.Duration) bool {
	return time.Until(a.ExpiresAt) <= d
}
