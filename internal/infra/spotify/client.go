// Package spotify provides the music service gateway: OAuth token
// lifecycle and the playlist/track API used by the game engine.
package spotify

import (
	"context"
	cryptoRand "crypto/rand"
	"encoding/binary"
	"fmt"
	"math/rand"
	"net/http"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/cockroachdb/errors"
	spotifyapi "github.com/zmb3/spotify/v2"
	spotifyauth "github.com/zmb3/spotify/v2/auth"
	"golang.org/x/oauth2"

	"github.com/osa030/beatrace/internal/domain/track"
)

// earlyRefreshWindow is how close to expiry a token may get before
// EnsureValidToken refreshes it.
const earlyRefreshWindow = 5 * time.Minute

// maxRandomAttempts bounds the random-offset probing per track fetch.
const maxRandomAttempts = 10

// Scopes requested during authorization. The host's browser needs
// playback control on top of playlist reads.
var scopes = []string{
	spotifyauth.ScopeStreaming,
	spotifyauth.ScopeUserReadEmail,
	spotifyauth.ScopeUserReadPrivate,
	spotifyauth.ScopeUserReadPlaybackState,
	spotifyauth.ScopeUserModifyPlaybackState,
	spotifyauth.ScopePlaylistReadPrivate,
	spotifyauth.ScopePlaylistReadCollaborative,
}

// RateLimitError is returned when the music service answers 429.
type RateLimitError struct {
	RetryAfter time.Duration
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("music service rate limited, retry after %s", e.RetryAfter)
}

// AsRateLimit unwraps a rate-limit error from a gateway call chain.
func AsRateLimit(err error) (*RateLimitError, bool) {
	var rle *RateLimitError
	if errors.As(err, &rle) {
		return rle, true
	}
	return nil, false
}

// rateLimitTransport converts 429 responses into RateLimitError before
// the SDK sees them, preserving the Retry-After interval.
type rateLimitTransport struct {
	base http.RoundTripper
}

func (t *rateLimitTransport) RoundTrip(req *http.Request) (*http.Response, error) {
	resp, err := t.base.RoundTrip(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		retryAfter := parseRetryAfter(resp.Header.Get("Retry-After"))
		resp.Body.Close()
		return nil, &RateLimitError{RetryAfter: retryAfter}
	}
	return resp, nil
}

func parseRetryAfter(header string) time.Duration {
	if secs, err := strconv.Atoi(header); err == nil && secs > 0 {
		return time.Duration(secs) * time.Second
	}
	return time.Second
}

// Config represents gateway configuration.
type Config struct {
	ClientID     string
	ClientSecret string
	RedirectURI  string
}

// Client is the music service gateway. It is stateless with respect to
// tokens: each room's host auth is passed per call.
type Client struct {
	oauth       *oauth2.Config
	httpTimeout time.Duration
}

// New creates a gateway client.
func New(cfg Config) (*Client, error) {
	if cfg.ClientID == "" || cfg.ClientSecret == "" {
		return nil, errors.New("music service credentials are required")
	}

	return &Client{
		oauth: &oauth2.Config{
			ClientID:     cfg.ClientID,
			ClientSecret: cfg.ClientSecret,
			RedirectURL:  cfg.RedirectURI,
			Scopes:       scopes,
			Endpoint: oauth2.Endpoint{
				AuthURL:  spotifyauth.AuthURL,
				TokenURL: spotifyauth.TokenURL,
			},
		},
		httpTimeout: 10 * time.Second,
	}, nil
}

// AuthURL returns the authorization URL carrying the opaque state.
func (c *Client) AuthURL(state string) string {
	return c.oauth.AuthCodeURL(state)
}

// Exchange trades an authorization code for a token pair.
func (c *Client) Exchange(ctx context.Context, code string) (track.MusicAuth, error) {
	tok, err := c.oauth.Exchange(c.tokenCtx(ctx), code)
	if err != nil {
		return track.MusicAuth{}, errors.Wrap(err, "authorization code exchange failed")
	}
	return track.MusicAuth{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}, nil
}

// Refresh obtains a new access token from a refresh token. When the
// response omits a refresh token, the prior one is retained.
func (c *Client) Refresh(ctx context.Context, refreshToken string) (track.MusicAuth, error) {
	if refreshToken == "" {
		return track.MusicAuth{}, errors.New("refresh token is required")
	}

	// An already-expired expiry forces the token source to refresh.
	src := c.oauth.TokenSource(c.tokenCtx(ctx), &oauth2.Token{
		RefreshToken: refreshToken,
		Expiry:       time.Now().Add(-time.Hour),
	})
	tok, err := src.Token()
	if err != nil {
		return track.MusicAuth{}, errors.Wrap(err, "token refresh failed")
	}

	auth := track.MusicAuth{
		AccessToken:  tok.AccessToken,
		RefreshToken: tok.RefreshToken,
		ExpiresAt:    tok.Expiry,
	}
	if auth.RefreshToken == "" {
		auth.RefreshToken = refreshToken
	}
	return auth, nil
}

// EnsureValidToken returns auth unchanged while its expiry is more
// than five minutes away, otherwise refreshes it.
func (c *Client) EnsureValidToken(ctx context.Context, auth track.MusicAuth) (track.MusicAuth, error) {
	if !auth.ExpiresWithin(earlyRefreshWindow) {
		return auth, nil
	}

	fresh, err := c.Refresh(ctx, auth.RefreshToken)
	if err != nil {
		return auth, err
	}
	fresh.UserID = auth.UserID
	return fresh, nil
}

// CurrentUser returns the id of the user owning the access token.
func (c *Client) CurrentUser(ctx context.Context, accessToken string) (string, error) {
	user, err := c.api(accessToken).CurrentUser(ctx)
	if err != nil {
		return "", errors.Wrap(err, "failed to get current user")
	}
	return user.ID, nil
}

// GetPlaylist fetches playlist metadata: name, cover and track total.
func (c *Client) GetPlaylist(ctx context.Context, accessToken, playlistID string) (*track.PlaylistInfo, error) {
	p, err := c.api(accessToken).GetPlaylist(ctx, spotifyapi.ID(playlistID))
	if err != nil {
		return nil, errors.Wrap(err, "failed to get playlist")
	}

	var cover string
	if len(p.Images) > 0 {
		cover = p.Images[0].URL
	}

	return &track.PlaylistInfo{
		ID:          string(p.ID),
		Name:        p.Name,
		CoverURL:    cover,
		TotalTracks: int(p.Tracks.Total),
	}, nil
}

// RandomTrack fetches a single random track from the playlist that is
// not in the used set. Each of at most ten attempts picks a uniform
// random offset and fetches a one-item window; local files, missing
// tracks and already-used ids are skipped. Returns nil when the used
// set already covers the playlist or all attempts miss.
func (c *Client) RandomTrack(ctx context.Context, accessToken, playlistID string, totalTracks int, used map[string]struct{}) (*track.Track, error) {
	if totalTracks <= 0 || len(used) >= totalTracks {
		return nil, nil
	}

	api := c.api(accessToken)
	rng := newRNG()

	for attempt := 0; attempt < maxRandomAttempts; attempt++ {
		offset := rng.Intn(totalTracks)

		page, err := api.GetPlaylistItems(ctx, spotifyapi.ID(playlistID),
			spotifyapi.Limit(1),
			spotifyapi.Offset(offset),
		)
		if err != nil {
			return nil, errors.Wrap(err, "failed to get playlist window")
		}
		if len(page.Items) == 0 {
			continue
		}

		item := page.Items[0]
		if item.IsLocal || item.Track.Track == nil || item.Track.Track.ID == "" {
			continue
		}
		if _, ok := used[string(item.Track.Track.ID)]; ok {
			continue
		}

		return convertTrack(item.Track.Track), nil
	}

	return nil, nil
}

// api builds an SDK client bound to a host's access token.
func (c *Client) api(accessToken string) *spotifyapi.Client {
	src := oauth2.StaticTokenSource(&oauth2.Token{
		AccessToken: accessToken,
		TokenType:   "Bearer",
	})
	httpClient := &http.Client{
		Transport: &oauth2.Transport{
			Source: src,
			Base:   &rateLimitTransport{base: http.DefaultTransport},
		},
		Timeout: c.httpTimeout,
	}
	return spotifyapi.New(httpClient)
}

// tokenCtx bounds token endpoint requests with the gateway timeout.
func (c *Client) tokenCtx(ctx context.Context) context.Context {
	return context.WithValue(ctx, oauth2.HTTPClient, &http.Client{
		Transport: &rateLimitTransport{base: http.DefaultTransport},
		Timeout:   c.httpTimeout,
	})
}

func convertTrack(t *spotifyapi.FullTrack) *track.Track {
	artists := make([]track.Artist, len(t.Artists))
	for i, a := range t.Artists {
		artists[i] = track.Artist{ID: string(a.ID), Name: a.Name}
	}

	var albumArt string
	if len(t.Album.Images) > 0 {
		albumArt = t.Album.Images[0].URL
	}

	return &track.Track{
		ID:          string(t.ID),
		URI:         string(t.URI),
		Name:        t.Name,
		Artists:     artists,
		Album:       t.Album.Name,
		AlbumArtURL: albumArt,
		Duration:    time.Duration(t.Duration) * time.Millisecond,
		DurationMs:  int64(t.Duration),
		PreviewURL:  t.PreviewURL,
	}
}

func newRNG() *rand.Rand {
	var seed int64
	var buf [8]byte
	if _, err := cryptoRand.Read(buf[:]); err == nil {
		seed = int64(binary.LittleEndian.Uint64(buf[:]))
	} else {
		seed = time.Now().UnixNano()
	}
	return rand.New(rand.NewSource(seed))
}

var bareIDRe = regexp.MustCompile(`^[A-Za-z0-9]{22}$`)

// ParsePlaylistID extracts a playlist id from a bare id, a web URL
// containing "playlist/<id>", or a "<scheme>:playlist:<id>" URI.
// Returns "" when nothing matches.
func ParsePlaylistID(input string) string {
	input = strings.TrimSpace(input)
	if input == "" {
		return ""
	}

	if bareIDRe.MatchString(input) {
		return input
	}

	if idx := strings.Index(input, "playlist/"); idx >= 0 {
		id := input[idx+len("playlist/"):]
		id = strings.Split(id, "?")[0]
		id = strings.TrimRight(id, "/")
		if bareIDRe.MatchString(id) {
			return id
		}
		return ""
	}

	if idx := strings.Index(input, ":playlist:"); idx >= 0 {
		id := input[idx+len(":playlist:"):]
		if bareIDRe.MatchString(id) {
			return id
		}
		return ""
	}

	return ""
}
