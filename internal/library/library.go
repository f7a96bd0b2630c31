// Package library exposes the authenticated user's playlists and followed
// artists and lets tracks be saved into a playlist.
package library

import (
	"context"
	"fmt"
	"strings"

	spotifyapi "github.com/zmb3/spotify/v2"
	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"jammy/internal/core"
	"jammy/internal/spotify"
)

const pageLimit = 50

// api is the slice of the Spotify client the library needs. Narrowed for
// mocking in tests.
type api interface {
	CurrentUsersPlaylists(ctx context.Context, opts ...spotifyapi.RequestOption) (*spotifyapi.SimplePlaylistPage, error)
	CurrentUsersFollowedArtists(ctx context.Context, opts ...spotifyapi.RequestOption) (*spotifyapi.FullArtistCursorPage, error)
	AddTracksToPlaylist(ctx context.Context, playlistID spotifyapi.ID, trackIDs ...spotifyapi.ID) (string, error)
}

// Library wraps the Spotify Web API library endpoints behind domain types.
type Library struct {
	api    api
	logger *zap.Logger
}

// New builds a Library over tokens. The token source is shared with the
// rest of the app, so refreshes happen in one place.
func New(tokens oauth2.TokenSource, logger *zap.Logger) *Library {
	httpClient := oauth2.NewClient(context.Background(), tokens)
	return &Library{
		api:    spotifyapi.New(httpClient),
		logger: logger,
	}
}

func newWithAPI(client api, logger *zap.Logger) *Library {
	return &Library{api: client, logger: logger}
}

// Playlists returns all of the user's playlists, following pagination.
func (l *Library) Playlists(ctx context.Context) ([]core.Playlist, error) {
	var playlists []core.Playlist
	offset := 0

	for {
		page, err := l.api.CurrentUsersPlaylists(ctx,
			spotifyapi.Limit(pageLimit), spotifyapi.Offset(offset))
		if err != nil {
			return nil, fmt.Errorf("failed to list playlists: %w", err)
		}

		for i := range page.Playlists {
			p := &page.Playlists[i]
			playlists = append(playlists, core.Playlist{
				ID:         string(p.ID),
				Name:       p.Name,
				Owner:      p.Owner.DisplayName,
				TrackCount: int(p.Tracks.Total),
				Public:     p.IsPublic,
			})
		}

		if len(page.Playlists) < pageLimit {
			break
		}
		offset += pageLimit
	}

	l.logger.Debug("Listed playlists", zap.Int("count", len(playlists)))
	return playlists, nil
}

// FollowedArtists returns all artists the user follows, walking the cursor.
func (l *Library) FollowedArtists(ctx context.Context) ([]core.Artist, error) {
	var artists []core.Artist
	after := ""

	for {
		opts := []spotifyapi.RequestOption{spotifyapi.Limit(pageLimit)}
		if after != "" {
			opts = append(opts, spotifyapi.After(after))
		}

		page, err := l.api.CurrentUsersFollowedArtists(ctx, opts...)
		if err != nil {
			return nil, fmt.Errorf("failed to list followed artists: %w", err)
		}

		for i := range page.Artists {
			a := &page.Artists[i]
			artists = append(artists, core.Artist{
				ID:     string(a.ID),
				Name:   a.Name,
				Genres: a.Genres,
			})
		}

		if len(page.Artists) < pageLimit || page.Cursor.After == "" {
			break
		}
		after = page.Cursor.After
	}

	l.logger.Debug("Listed followed artists", zap.Int("count", len(artists)))
	return artists, nil
}

// SaveTracks adds tracks to a playlist. Accepts track URIs or open.spotify.com
// links; malformed entries fail the whole call before anything is added.
func (l *Library) SaveTracks(ctx context.Context, playlistID string, trackURIs []string) error {
	if playlistID == "" {
		return fmt.Errorf("playlist ID is empty")
	}
	if len(trackURIs) == 0 {
		return nil
	}

	ids := make([]spotifyapi.ID, 0, len(trackURIs))
	for _, raw := range trackURIs {
		uri, err := spotify.ParseTrackURI(raw)
		if err != nil {
			return fmt.Errorf("invalid track %q: %w", raw, err)
		}
		ids = append(ids, spotifyapi.ID(strings.TrimPrefix(uri, "spotify:track:")))
	}

	if _, err := l.api.AddTracksToPlaylist(ctx, spotifyapi.ID(playlistID), ids...); err != nil {
		return fmt.Errorf("failed to add tracks to playlist: %w", err)
	}

	l.logger.Info("Tracks added to playlist",
		zap.String("playlistID", playlistID),
		zap.Int("count", len(ids)))
	return nil
}
