package library

import (
	"context"
	"errors"
	"fmt"
	"testing"

	spotifyapi "github.com/zmb3/spotify/v2"
	"go.uber.org/zap"
)

type fakeAPI struct {
	playlistPages []*spotifyapi.SimplePlaylistPage
	playlistCalls int
	playlistErr   error

	artistPages []*spotifyapi.FullArtistCursorPage
	artistCalls int

	addedPlaylist spotifyapi.ID
	addedTracks   []spotifyapi.ID
	addCalls      int
	addErr        error
}

func (a *fakeAPI) CurrentUsersPlaylists(_ context.Context, _ ...spotifyapi.RequestOption) (*spotifyapi.SimplePlaylistPage, error) {
	call := a.playlistCalls
	a.playlistCalls++
	if a.playlistErr != nil {
		return nil, a.playlistErr
	}
	return a.playlistPages[call], nil
}

func (a *fakeAPI) CurrentUsersFollowedArtists(_ context.Context, _ ...spotifyapi.RequestOption) (*spotifyapi.FullArtistCursorPage, error) {
	call := a.artistCalls
	a.artistCalls++
	return a.artistPages[call], nil
}

func (a *fakeAPI) AddTracksToPlaylist(_ context.Context, playlistID spotifyapi.ID, trackIDs ...spotifyapi.ID) (string, error) {
	a.addCalls++
	a.addedPlaylist = playlistID
	a.addedTracks = trackIDs
	if a.addErr != nil {
		return "", a.addErr
	}
	return "snapshot", nil
}

func simplePlaylists(count, start int) []spotifyapi.SimplePlaylist {
	playlists := make([]spotifyapi.SimplePlaylist, count)
	for i := range playlists {
		playlists[i] = spotifyapi.SimplePlaylist{
			ID:       spotifyapi.ID(fmt.Sprintf("p%d", start+i)),
			Name:     fmt.Sprintf("Playlist %d", start+i),
			Owner:    spotifyapi.User{DisplayName: "alice"},
			Tracks:   spotifyapi.PlaylistTracks{Total: 3},
			IsPublic: true,
		}
	}
	return playlists
}

func fullArtists(count, start int) []spotifyapi.FullArtist {
	artists := make([]spotifyapi.FullArtist, count)
	for i := range artists {
		artists[i] = spotifyapi.FullArtist{
			SimpleArtist: spotifyapi.SimpleArtist{
				ID:   spotifyapi.ID(fmt.Sprintf("a%d", start+i)),
				Name: fmt.Sprintf("Artist %d", start+i),
			},
			Genres: []string{"rock"},
		}
	}
	return artists
}

func TestPlaylists_Pagination(t *testing.T) {
	api := &fakeAPI{
		playlistPages: []*spotifyapi.SimplePlaylistPage{
			{Playlists: simplePlaylists(50, 0)},
			{Playlists: simplePlaylists(3, 50)},
		},
	}
	l := newWithAPI(api, zap.NewNop())

	playlists, err := l.Playlists(context.Background())
	if err != nil {
		t.Fatalf("Playlists() error = %v", err)
	}
	if len(playlists) != 53 {
		t.Fatalf("got %d playlists, want 53", len(playlists))
	}
	if api.playlistCalls != 2 {
		t.Errorf("CurrentUsersPlaylists called %d times, want 2", api.playlistCalls)
	}

	first := playlists[0]
	if first.ID != "p0" || first.Name != "Playlist 0" || first.Owner != "alice" || first.TrackCount != 3 || !first.Public {
		t.Errorf("first playlist = %+v", first)
	}
}

func TestPlaylists_ShortPageStops(t *testing.T) {
	api := &fakeAPI{
		playlistPages: []*spotifyapi.SimplePlaylistPage{
			{Playlists: simplePlaylists(2, 0)},
		},
	}
	l := newWithAPI(api, zap.NewNop())

	playlists, err := l.Playlists(context.Background())
	if err != nil {
		t.Fatalf("Playlists() error = %v", err)
	}
	if len(playlists) != 2 || api.playlistCalls != 1 {
		t.Errorf("got %d playlists over %d calls, want 2 over 1", len(playlists), api.playlistCalls)
	}
}

func TestPlaylists_Error(t *testing.T) {
	api := &fakeAPI{playlistErr: errors.New("boom")}
	l := newWithAPI(api, zap.NewNop())

	if _, err := l.Playlists(context.Background()); err == nil {
		t.Fatal("Playlists() expected error")
	}
}

func TestFollowedArtists_CursorWalk(t *testing.T) {
	secondPage := &spotifyapi.FullArtistCursorPage{Artists: fullArtists(4, 50)}
	firstPage := &spotifyapi.FullArtistCursorPage{Artists: fullArtists(50, 0)}
	firstPage.Cursor.After = "a49"

	api := &fakeAPI{artistPages: []*spotifyapi.FullArtistCursorPage{firstPage, secondPage}}
	l := newWithAPI(api, zap.NewNop())

	artists, err := l.FollowedArtists(context.Background())
	if err != nil {
		t.Fatalf("FollowedArtists() error = %v", err)
	}
	if len(artists) != 54 {
		t.Fatalf("got %d artists, want 54", len(artists))
	}
	if api.artistCalls != 2 {
		t.Errorf("CurrentUsersFollowedArtists called %d times, want 2", api.artistCalls)
	}
	if artists[0].ID != "a0" || artists[0].Name != "Artist 0" || len(artists[0].Genres) != 1 {
		t.Errorf("first artist = %+v", artists[0])
	}
}

func TestFollowedArtists_FullPageWithoutCursorStops(t *testing.T) {
	page := &spotifyapi.FullArtistCursorPage{Artists: fullArtists(50, 0)}

	api := &fakeAPI{artistPages: []*spotifyapi.FullArtistCursorPage{page}}
	l := newWithAPI(api, zap.NewNop())

	artists, err := l.FollowedArtists(context.Background())
	if err != nil {
		t.Fatalf("FollowedArtists() error = %v", err)
	}
	if len(artists) != 50 || api.artistCalls != 1 {
		t.Errorf("got %d artists over %d calls, want 50 over 1", len(artists), api.artistCalls)
	}
}

func TestSaveTracks(t *testing.T) {
	api := &fakeAPI{}
	l := newWithAPI(api, zap.NewNop())

	err := l.SaveTracks(context.Background(), "playlist1", []string{
		"spotify:track:abc123",
		"https://open.spotify.com/track/def456?si=share",
	})
	if err != nil {
		t.Fatalf("SaveTracks() error = %v", err)
	}

	if api.addedPlaylist != "playlist1" {
		t.Errorf("playlist = %s, want playlist1", api.addedPlaylist)
	}
	want := []spotifyapi.ID{"abc123", "def456"}
	if len(api.addedTracks) != len(want) {
		t.Fatalf("added tracks = %v, want %v", api.addedTracks, want)
	}
	for i, id := range want {
		if api.addedTracks[i] != id {
			t.Errorf("track[%d] = %s, want %s", i, api.addedTracks[i], id)
		}
	}
}

func TestSaveTracks_MalformedURIFailsBeforeAdding(t *testing.T) {
	api := &fakeAPI{}
	l := newWithAPI(api, zap.NewNop())

	err := l.SaveTracks(context.Background(), "playlist1", []string{
		"spotify:track:abc123",
		"spotify:album:notatrack",
	})
	if err == nil {
		t.Fatal("SaveTracks() expected error for album URI")
	}
	if api.addCalls != 0 {
		t.Errorf("AddTracksToPlaylist called %d times, want 0", api.addCalls)
	}
}

func TestSaveTracks_EmptyListIsNoOp(t *testing.T) {
	api := &fakeAPI{}
	l := newWithAPI(api, zap.NewNop())

	if err := l.SaveTracks(context.Background(), "playlist1", nil); err != nil {
		t.Fatalf("SaveTracks() error = %v", err)
	}
	if api.addCalls != 0 {
		t.Errorf("AddTracksToPlaylist called %d times, want 0", api.addCalls)
	}
}

func TestSaveTracks_EmptyPlaylistID(t *testing.T) {
	l := newWithAPI(&fakeAPI{}, zap.NewNop())

	if err := l.SaveTracks(context.Background(), "", []string{"spotify:track:abc"}); err == nil {
		t.Fatal("SaveTracks() expected error for empty playlist ID")
	}
}
