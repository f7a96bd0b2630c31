package recommend

import (
	"context"
	"errors"
	"net/url"
	"testing"
	"time"

	"go.uber.org/zap"

	"jammy/internal/core"
	"jammy/internal/spotify"
	"jammy/internal/store"
)

type recResult struct {
	page *spotify.RecommendationsPage
	err  error
}

type fakeAPI struct {
	responses []recResult // response per Recommendations call
	calls     []url.Values
	seeds     []string
	seedsErr  error
	seedCalls int
}

func (a *fakeAPI) Recommendations(_ context.Context, params url.Values) (*spotify.RecommendationsPage, error) {
	call := len(a.calls)
	a.calls = append(a.calls, params)
	if call >= len(a.responses) {
		return &spotify.RecommendationsPage{}, nil
	}
	return a.responses[call].page, a.responses[call].err
}

func (a *fakeAPI) GenreSeeds(_ context.Context) ([]string, error) {
	a.seedCalls++
	if a.seedsErr != nil {
		return nil, a.seedsErr
	}
	return a.seeds, nil
}

type fakeMetrics struct {
	successes   int
	failures    int
	rateLimited int
}

func (m *fakeMetrics) Recommendation(ok bool) {
	if ok {
		m.successes++
	} else {
		m.failures++
	}
}

func (m *fakeMetrics) RateLimited() { m.rateLimited++ }

func wireTrack(name, uri string) spotify.RecommendedTrack {
	t := spotify.RecommendedTrack{
		Name:       name,
		URI:        uri,
		DurationMS: 180000,
		Popularity: 50,
		Artists:    []spotify.RecommendedArtist{{Name: "Artist"}},
	}
	t.Album.Images = []spotify.Image{{URL: "https://img.example/" + name + ".jpg", Height: 640, Width: 640}}
	return t
}

func pageOf(tracks ...spotify.RecommendedTrack) *spotify.RecommendationsPage {
	return &spotify.RecommendationsPage{Tracks: tracks}
}

func newTestFetcher(api *fakeAPI, dedup *store.DedupStore, metrics Metrics, waits *[]time.Duration) *Fetcher {
	config := core.RecommendConfig{
		Market:      "US",
		Limit:       20,
		MaxAttempts: 3,
		Backoff:     500 * time.Millisecond,
	}
	f := NewFetcher(api, dedup, config, metrics, zap.NewNop())
	f.sleep = func(_ context.Context, d time.Duration) error {
		*waits = append(*waits, d)
		return nil
	}
	return f
}

func TestPopularityWindow(t *testing.T) {
	tests := []struct {
		target, lo, hi int
	}{
		{0, 0, 60},
		{5, 0, 65},
		{10, 0, 70},
		{15, 0, 65},
		{20, 0, 70},
		{50, 10, 90},
		{80, 30, 100},
		{90, 35, 100},
		{100, 45, 100},
	}
	for _, tt := range tests {
		lo, hi := PopularityWindow(tt.target)
		if lo != tt.lo || hi != tt.hi {
			t.Errorf("PopularityWindow(%d) = (%d, %d), want (%d, %d)", tt.target, lo, hi, tt.lo, tt.hi)
		}
	}
}

func TestPopularityWindow_Bounds(t *testing.T) {
	for target := 0; target <= 100; target++ {
		lo, hi := PopularityWindow(target)
		if lo < 0 || hi > 100 || lo > target || hi < target {
			t.Errorf("PopularityWindow(%d) = (%d, %d) violates bounds", target, lo, hi)
		}
	}

	// Extreme targets get wider windows than mid-range ones
	midLo, midHi := PopularityWindow(50)
	loLo, loHi := PopularityWindow(5)
	hiLo, hiHi := PopularityWindow(95)
	if loHi-loLo <= midHi-midLo {
		t.Errorf("low-extreme window %d not wider than mid window %d", loHi-loLo, midHi-midLo)
	}
	if hiHi-hiLo <= midHi-midLo {
		t.Errorf("high-extreme window %d not wider than mid window %d", hiHi-hiLo, midHi-midLo)
	}
}

func TestRandomRecommend_Params(t *testing.T) {
	api := &fakeAPI{
		seeds:     []string{"rock", "pop", "jazz"},
		responses: []recResult{{page: pageOf(wireTrack("Song", "spotify:track:a"))}},
	}
	var waits []time.Duration
	f := newTestFetcher(api, nil, nil, &waits)
	picks := []int{2, 0}
	f.randIntn = func(n int) int {
		pick := picks[0]
		picks = picks[1:]
		return pick % n
	}

	tracks, err := f.RandomRecommend(context.Background(), 50)
	if err != nil {
		t.Fatalf("RandomRecommend() error = %v", err)
	}
	if len(tracks) != 1 || tracks[0].URI != "spotify:track:a" {
		t.Fatalf("tracks = %+v", tracks)
	}

	params := api.calls[0]
	want := map[string]string{
		"limit":             "20",
		"market":            "US",
		"seed_genres":       "jazz,rock",
		"target_popularity": "50",
		"min_popularity":    "10",
		"max_popularity":    "90",
	}
	for key, value := range want {
		if got := params.Get(key); got != value {
			t.Errorf("param %s = %q, want %q", key, got, value)
		}
	}
}

func TestRandomRecommend_PopularityOutOfRange(t *testing.T) {
	api := &fakeAPI{}
	var waits []time.Duration
	f := newTestFetcher(api, nil, nil, &waits)

	for _, target := range []int{-1, 101} {
		if _, err := f.RandomRecommend(context.Background(), target); !errors.Is(err, core.ErrInvalidQuery) {
			t.Errorf("RandomRecommend(%d) error = %v, want ErrInvalidQuery", target, err)
		}
	}
	if len(api.calls) != 0 {
		t.Errorf("API called %d times for invalid input, want 0", len(api.calls))
	}
}

func TestCustomRecommend_Params(t *testing.T) {
	api := &fakeAPI{
		seeds:     []string{"hip-hop", "drum-and-bass", "rock"},
		responses: []recResult{{page: pageOf(wireTrack("Song", "spotify:track:a"))}},
	}
	var waits []time.Duration
	f := newTestFetcher(api, nil, nil, &waits)

	query := core.RecommendationQuery{
		TargetPopularity: 70,
		Valence:          0.8,
		Energy:           0.5,
		MinTempo:         120,
		Genres:           []string{"Hip Hop", "Polka", "rock"},
	}
	if _, err := f.CustomRecommend(context.Background(), query); err != nil {
		t.Fatalf("CustomRecommend() error = %v", err)
	}

	params := api.calls[0]
	if got := params.Get("seed_genres"); got != "hip-hop,rock" {
		t.Errorf("seed_genres = %q, want %q (unmatched genres dropped, two-seed cap)", got, "hip-hop,rock")
	}
	if got := params.Get("target_valence"); got != "0.8" {
		t.Errorf("target_valence = %q, want 0.8", got)
	}
	if got := params.Get("target_energy"); got != "0.5" {
		t.Errorf("target_energy = %q, want 0.5", got)
	}
	if got := params.Get("min_tempo"); got != "120" {
		t.Errorf("min_tempo = %q, want 120", got)
	}
}

func TestCustomRecommend_Validation(t *testing.T) {
	api := &fakeAPI{}
	var waits []time.Duration
	f := newTestFetcher(api, nil, nil, &waits)

	bad := []core.RecommendationQuery{
		{TargetPopularity: 101},
		{TargetPopularity: 50, Valence: 1.5},
		{TargetPopularity: 50, Energy: -0.1},
		{TargetPopularity: 50, MinTempo: -10},
	}
	for _, query := range bad {
		if _, err := f.CustomRecommend(context.Background(), query); !errors.Is(err, core.ErrInvalidQuery) {
			t.Errorf("CustomRecommend(%+v) error = %v, want ErrInvalidQuery", query, err)
		}
	}
}

func TestFetch_RateLimitedWithHint(t *testing.T) {
	api := &fakeAPI{
		seeds: []string{"rock"},
		responses: []recResult{
			{err: &core.APIError{Status: 429, Message: "rate limited", RetryAfter: 2}},
			{page: pageOf(wireTrack("Song", "spotify:track:a"))},
		},
	}
	metrics := &fakeMetrics{}
	var waits []time.Duration
	f := newTestFetcher(api, nil, metrics, &waits)

	tracks, err := f.RandomRecommend(context.Background(), 50)
	if err != nil {
		t.Fatalf("RandomRecommend() error = %v", err)
	}
	if len(tracks) != 1 {
		t.Fatalf("got %d tracks, want 1", len(tracks))
	}
	if len(api.calls) != 2 {
		t.Errorf("API called %d times, want 2", len(api.calls))
	}
	if len(waits) != 1 || waits[0] != 2*time.Second {
		t.Errorf("waits = %v, want [2s] from the Retry-After hint", waits)
	}
	if metrics.rateLimited != 1 || metrics.successes != 1 {
		t.Errorf("metrics = %+v", metrics)
	}
}

func TestFetch_RateLimitedWithoutHint(t *testing.T) {
	api := &fakeAPI{
		seeds: []string{"rock"},
		responses: []recResult{
			{err: &core.APIError{Status: 429, Message: "rate limited", RetryAfter: -1}},
		},
	}
	metrics := &fakeMetrics{}
	var waits []time.Duration
	f := newTestFetcher(api, nil, metrics, &waits)

	_, err := f.RandomRecommend(context.Background(), 50)
	if !errors.Is(err, core.ErrRateLimited) {
		t.Fatalf("RandomRecommend() error = %v, want ErrRateLimited", err)
	}
	if len(api.calls) != 1 {
		t.Errorf("API called %d times, want 1 (no blind retry against a rate limit)", len(api.calls))
	}
	if metrics.failures != 1 {
		t.Errorf("metrics = %+v", metrics)
	}
}

func TestFetch_RateLimitExhaustsAttempts(t *testing.T) {
	limited := recResult{err: &core.APIError{Status: 429, RetryAfter: 1}}
	api := &fakeAPI{
		seeds:     []string{"rock"},
		responses: []recResult{limited, limited, limited},
	}
	var waits []time.Duration
	f := newTestFetcher(api, nil, nil, &waits)

	_, err := f.RandomRecommend(context.Background(), 50)
	if !errors.Is(err, core.ErrRateLimited) {
		t.Fatalf("RandomRecommend() error = %v, want ErrRateLimited", err)
	}
	if len(api.calls) != 3 {
		t.Errorf("API called %d times, want 3", len(api.calls))
	}
	if len(waits) != 2 {
		t.Errorf("recorded %d waits, want 2", len(waits))
	}
}

func TestFetch_EmptyResult(t *testing.T) {
	api := &fakeAPI{
		seeds:     []string{"rock"},
		responses: []recResult{{page: pageOf()}},
	}
	var waits []time.Duration
	f := newTestFetcher(api, nil, nil, &waits)

	_, err := f.RandomRecommend(context.Background(), 50)
	if !errors.Is(err, core.ErrNoTracksFound) {
		t.Fatalf("RandomRecommend() error = %v, want ErrNoTracksFound", err)
	}
	if len(api.calls) != 1 {
		t.Errorf("API called %d times, want 1 (empty result is definitive)", len(api.calls))
	}
}

func TestFetch_ServerErrorRetriesThenFails(t *testing.T) {
	broken := recResult{err: &core.APIError{Status: 500, Message: "oops", RetryAfter: -1}}
	api := &fakeAPI{
		seeds:     []string{"rock"},
		responses: []recResult{broken, broken, broken},
	}
	var waits []time.Duration
	f := newTestFetcher(api, nil, nil, &waits)

	_, err := f.RandomRecommend(context.Background(), 50)
	if !errors.Is(err, core.ErrBadServerResponse) {
		t.Fatalf("RandomRecommend() error = %v, want ErrBadServerResponse", err)
	}
	if len(api.calls) != 3 {
		t.Errorf("API called %d times, want 3", len(api.calls))
	}
	if len(waits) != 2 || waits[0] != 500*time.Millisecond {
		t.Errorf("waits = %v, want two 500ms backoffs", waits)
	}
}

func TestFetch_NetworkErrorRecovers(t *testing.T) {
	api := &fakeAPI{
		seeds: []string{"rock"},
		responses: []recResult{
			{err: errors.New("connection reset")},
			{page: pageOf(wireTrack("Song", "spotify:track:a"))},
		},
	}
	var waits []time.Duration
	f := newTestFetcher(api, nil, nil, &waits)

	tracks, err := f.RandomRecommend(context.Background(), 50)
	if err != nil {
		t.Fatalf("RandomRecommend() error = %v", err)
	}
	if len(tracks) != 1 {
		t.Errorf("got %d tracks, want 1", len(tracks))
	}
}

func TestParseTracks_Filtering(t *testing.T) {
	noName := wireTrack("", "spotify:track:noname")
	noURI := wireTrack("No URI", "")
	noDuration := wireTrack("No Duration", "spotify:track:nodur")
	noDuration.DurationMS = 0
	noImage := wireTrack("No Image", "spotify:track:noimg")
	noImage.Album.Images = nil
	noArtists := wireTrack("No Artists", "spotify:track:noart")
	noArtists.Artists = nil
	mixedArtists := wireTrack("Mixed", "spotify:track:mixed")
	mixedArtists.Artists = []spotify.RecommendedArtist{{Name: ""}, {Name: "Named"}}
	good := wireTrack("Good", "spotify:track:good")

	tracks, err := parseTracks([]spotify.RecommendedTrack{
		noName, noURI, noDuration, noImage, noArtists, mixedArtists, good,
	})
	if err != nil {
		t.Fatalf("parseTracks() error = %v", err)
	}
	if len(tracks) != 2 {
		t.Fatalf("parsed %d tracks, want 2: %+v", len(tracks), tracks)
	}
	if tracks[0].URI != "spotify:track:mixed" || tracks[1].URI != "spotify:track:good" {
		t.Errorf("tracks = %+v", tracks)
	}
	// Unnamed artist is dropped without rejecting the track
	if len(tracks[0].Artists) != 1 || tracks[0].Artists[0] != "Named" {
		t.Errorf("mixed track artists = %v, want [Named]", tracks[0].Artists)
	}
}

func TestParseTracks_AllUnparseable(t *testing.T) {
	noName := wireTrack("", "spotify:track:a")
	_, err := parseTracks([]spotify.RecommendedTrack{noName})

	var parseErr *core.ParseError
	if !errors.As(err, &parseErr) {
		t.Fatalf("parseTracks() error = %v, want ParseError", err)
	}
}

func TestFetch_FiltersSeenTracks(t *testing.T) {
	page := pageOf(
		wireTrack("One", "spotify:track:one"),
		wireTrack("Two", "spotify:track:two"),
	)
	api := &fakeAPI{
		seeds:     []string{"rock"},
		responses: []recResult{{page: page}, {page: page}},
	}
	dedup := store.NewDedupStore(100, 0.01)
	var waits []time.Duration
	f := newTestFetcher(api, dedup, nil, &waits)

	first, err := f.RandomRecommend(context.Background(), 50)
	if err != nil {
		t.Fatalf("first RandomRecommend() error = %v", err)
	}
	if len(first) != 2 {
		t.Fatalf("first call returned %d tracks, want 2", len(first))
	}

	second, err := f.RandomRecommend(context.Background(), 50)
	if err != nil {
		t.Fatalf("second RandomRecommend() error = %v", err)
	}
	if len(second) != 0 {
		t.Errorf("second call returned %d tracks, want 0 (already offered)", len(second))
	}
}

func TestGenreSeeds_CachedAcrossCalls(t *testing.T) {
	api := &fakeAPI{
		seeds: []string{"rock"},
		responses: []recResult{
			{page: pageOf(wireTrack("One", "spotify:track:one"))},
			{page: pageOf(wireTrack("Two", "spotify:track:two"))},
		},
	}
	var waits []time.Duration
	f := newTestFetcher(api, nil, nil, &waits)

	if _, err := f.RandomRecommend(context.Background(), 50); err != nil {
		t.Fatalf("first RandomRecommend() error = %v", err)
	}
	if _, err := f.RandomRecommend(context.Background(), 50); err != nil {
		t.Fatalf("second RandomRecommend() error = %v", err)
	}
	if api.seedCalls != 1 {
		t.Errorf("GenreSeeds called %d times, want 1", api.seedCalls)
	}
}
