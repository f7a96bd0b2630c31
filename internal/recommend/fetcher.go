// Package recommend queries the recommendation endpoint with randomized or
// user-tunable parameters and filters the results against a dedup store.
package recommend

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net/url"
	"strconv"
	"sync"
	"time"

	"go.uber.org/zap"

	"jammy/internal/core"
	"jammy/internal/spotify"
	"jammy/internal/store"
	"jammy/pkg/fuzzy"
	"jammy/pkg/retry"
)

const maxGenreSeeds = 2

// API is the slice of the Web API client the fetcher needs.
type API interface {
	Recommendations(ctx context.Context, params url.Values) (*spotify.RecommendationsPage, error)
	GenreSeeds(ctx context.Context) ([]string, error)
}

// Metrics receives recommendation counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	Recommendation(ok bool)
	RateLimited()
}

// Fetcher turns a target popularity and optional tuning parameters into a
// list of fresh tracks. Results the user has already been offered are
// filtered out through the dedup store.
type Fetcher struct {
	api        API
	dedup      *store.DedupStore
	normalizer *fuzzy.Normalizer
	config     core.RecommendConfig
	metrics    Metrics
	logger     *zap.Logger

	// Injectable for tests.
	randIntn func(n int) int
	sleep    func(ctx context.Context, d time.Duration) error

	seedMu    sync.Mutex
	seedCache []string
}

func NewFetcher(api API, dedup *store.DedupStore, config core.RecommendConfig, metrics Metrics, logger *zap.Logger) *Fetcher {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = core.DefaultMaxAttempts
	}
	if config.Backoff <= 0 {
		config.Backoff = core.DefaultRecommendBackoff
	}
	if config.Limit <= 0 {
		config.Limit = 20
	}
	return &Fetcher{
		api:        api,
		dedup:      dedup,
		normalizer: fuzzy.NewNormalizer(),
		config:     config,
		metrics:    metrics,
		logger:     logger,
		randIntn:   rand.Intn,
	}
}

// PopularityWindow computes the search window for a popularity target. The
// base half-width is 25; extreme targets sit close to a clamp boundary, so
// they get extra width to keep the window usefully wide.
func PopularityWindow(target int) (lo, hi int) {
	width := 25
	switch {
	case target <= 10:
		width += 35
	case target >= 90:
		width += 30
	case target <= 20 || target >= 80:
		width += 25
	default:
		width += 15
	}

	lo = target - width
	if lo < 0 {
		lo = 0
	}
	hi = target + width
	if hi > 100 {
		hi = 100
	}
	return lo, hi
}

// RandomRecommend fetches tracks around targetPopularity with up to two
// randomly chosen genre seeds.
func (f *Fetcher) RandomRecommend(ctx context.Context, targetPopularity int) ([]core.Track, error) {
	if targetPopularity < 0 || targetPopularity > 100 {
		return nil, fmt.Errorf("%w: popularity %d out of range", core.ErrInvalidQuery, targetPopularity)
	}

	seeds, err := f.randomSeeds(ctx)
	if err != nil {
		return nil, err
	}
	params := f.baseParams(targetPopularity, seeds)
	return f.fetch(ctx, params)
}

// CustomRecommend fetches tracks matching the full tunable query. Genre
// names are normalized and matched against the canonical seed list; inputs
// matching no seed are dropped.
func (f *Fetcher) CustomRecommend(ctx context.Context, query core.RecommendationQuery) ([]core.Track, error) {
	if err := validateQuery(query); err != nil {
		return nil, err
	}

	seeds, err := f.matchSeeds(ctx, query.Genres)
	if err != nil {
		return nil, err
	}

	params := f.baseParams(query.TargetPopularity, seeds)
	params.Set("target_valence", formatFloat(query.Valence))
	params.Set("target_energy", formatFloat(query.Energy))
	if query.MinTempo > 0 {
		params.Set("min_tempo", formatFloat(query.MinTempo))
	}
	return f.fetch(ctx, params)
}

func validateQuery(query core.RecommendationQuery) error {
	if query.TargetPopularity < 0 || query.TargetPopularity > 100 {
		return fmt.Errorf("%w: popularity %d out of range", core.ErrInvalidQuery, query.TargetPopularity)
	}
	if query.Valence < 0 || query.Valence > 1 {
		return fmt.Errorf("%w: valence %v out of range", core.ErrInvalidQuery, query.Valence)
	}
	if query.Energy < 0 || query.Energy > 1 {
		return fmt.Errorf("%w: energy %v out of range", core.ErrInvalidQuery, query.Energy)
	}
	if query.MinTempo < 0 {
		return fmt.Errorf("%w: tempo %v out of range", core.ErrInvalidQuery, query.MinTempo)
	}
	return nil
}

func (f *Fetcher) baseParams(targetPopularity int, seeds []string) url.Values {
	lo, hi := PopularityWindow(targetPopularity)

	params := url.Values{}
	params.Set("limit", strconv.Itoa(f.config.Limit))
	if f.config.Market != "" {
		params.Set("market", f.config.Market)
	}
	if len(seeds) > 0 {
		params.Set("seed_genres", joinSeeds(seeds))
	}
	params.Set("target_popularity", strconv.Itoa(targetPopularity))
	params.Set("min_popularity", strconv.Itoa(lo))
	params.Set("max_popularity", strconv.Itoa(hi))
	return params
}

func (f *Fetcher) fetch(ctx context.Context, params url.Values) ([]core.Track, error) {
	policy := retry.Policy{
		MaxAttempts: f.config.MaxAttempts,
		Backoff:     retry.Constant(f.config.Backoff),
		Sleep:       f.sleep,
	}

	var tracks []core.Track
	err := retry.Do(ctx, policy, func(ctx context.Context, attempt int) (bool, error) {
		page, err := f.api.Recommendations(ctx, params)
		if err != nil {
			var apiErr *core.APIError
			if errors.As(err, &apiErr) {
				if apiErr.Status == 429 {
					if f.metrics != nil {
						f.metrics.RateLimited()
					}
					if apiErr.RetryAfter >= 0 {
						wait := time.Duration(apiErr.RetryAfter) * time.Second
						f.logger.Warn("Recommendation request rate limited",
							zap.Duration("retry-after", wait),
							zap.Int("attempt", attempt),
						)
						return true, retry.After(wait, fmt.Errorf("%w: %v", core.ErrRateLimited, err))
					}
					return false, fmt.Errorf("%w: no retry-after hint", core.ErrRateLimited)
				}
				return true, fmt.Errorf("%w: %v", core.ErrBadServerResponse, err)
			}
			// Network failure; retry and surface the raw error on the
			// final attempt.
			return true, err
		}

		if len(page.Tracks) == 0 {
			// A definitive empty result, not a transient failure.
			return false, core.ErrNoTracksFound
		}

		tracks, err = parseTracks(page.Tracks)
		if err != nil {
			return false, err
		}
		return false, nil
	})

	if f.metrics != nil {
		f.metrics.Recommendation(err == nil)
	}
	if err != nil {
		return nil, err
	}

	fresh := f.filterSeen(tracks)
	f.logger.Debug("Recommendations fetched",
		zap.Int("parsed", len(tracks)),
		zap.Int("fresh", len(fresh)),
	)
	return fresh, nil
}

// parseTracks converts raw wire tracks to domain tracks. A track needs a
// name, URI, duration, at least one album image and an artist list; unnamed
// artists are dropped without rejecting their track.
func parseTracks(raw []spotify.RecommendedTrack) ([]core.Track, error) {
	tracks := make([]core.Track, 0, len(raw))
	for _, rt := range raw {
		if rt.Name == "" || rt.URI == "" || rt.DurationMS <= 0 {
			continue
		}
		if len(rt.Album.Images) == 0 || rt.Album.Images[0].URL == "" {
			continue
		}
		if len(rt.Artists) == 0 {
			continue
		}

		artists := make([]string, 0, len(rt.Artists))
		for _, a := range rt.Artists {
			if a.Name != "" {
				artists = append(artists, a.Name)
			}
		}

		track := core.Track{
			Name:          rt.Name,
			URI:           rt.URI,
			DurationMS:    rt.DurationMS,
			AlbumImageURL: rt.Album.Images[0].URL,
			Artists:       artists,
			Popularity:    rt.Popularity,
		}
		if rt.PreviewURL != nil {
			track.PreviewURL = *rt.PreviewURL
		}
		tracks = append(tracks, track)
	}

	if len(tracks) == 0 {
		return nil, &core.ParseError{Detail: "no parseable tracks in response"}
	}
	return tracks, nil
}

func (f *Fetcher) filterSeen(tracks []core.Track) []core.Track {
	if f.dedup == nil {
		return tracks
	}

	uris := make([]string, len(tracks))
	for i, t := range tracks {
		uris[i] = t.URI
	}
	freshURIs := f.dedup.FilterNew(uris)

	freshSet := make(map[string]struct{}, len(freshURIs))
	for _, uri := range freshURIs {
		freshSet[uri] = struct{}{}
	}

	fresh := make([]core.Track, 0, len(freshURIs))
	for _, t := range tracks {
		if _, ok := freshSet[t.URI]; ok {
			fresh = append(fresh, t)
		}
	}
	return fresh
}

func (f *Fetcher) randomSeeds(ctx context.Context) ([]string, error) {
	available, err := f.availableSeeds(ctx)
	if err != nil {
		return nil, err
	}
	if len(available) == 0 {
		return nil, nil
	}

	picked := make([]string, 0, maxGenreSeeds)
	used := make(map[int]struct{}, maxGenreSeeds)
	for len(picked) < maxGenreSeeds && len(used) < len(available) {
		i := f.randIntn(len(available))
		if _, dup := used[i]; dup {
			continue
		}
		used[i] = struct{}{}
		picked = append(picked, available[i])
	}
	return picked, nil
}

func (f *Fetcher) matchSeeds(ctx context.Context, genres []string) ([]string, error) {
	if len(genres) == 0 {
		return nil, nil
	}

	available, err := f.availableSeeds(ctx)
	if err != nil {
		return nil, err
	}

	matched := make([]string, 0, maxGenreSeeds)
	for _, genre := range genres {
		seed, ok := f.normalizer.Match(genre, available)
		if !ok {
			f.logger.Debug("Genre matched no seed", zap.String("genre", genre))
			continue
		}
		if containsSeed(matched, seed) {
			continue
		}
		matched = append(matched, seed)
		if len(matched) == maxGenreSeeds {
			break
		}
	}
	return matched, nil
}

// availableSeeds caches the canonical seed list; it changes rarely enough
// that one fetch per process is fine.
func (f *Fetcher) availableSeeds(ctx context.Context) ([]string, error) {
	f.seedMu.Lock()
	defer f.seedMu.Unlock()

	if f.seedCache != nil {
		return f.seedCache, nil
	}
	seeds, err := f.api.GenreSeeds(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to load genre seeds: %w", err)
	}
	f.seedCache = seeds
	return seeds, nil
}

func containsSeed(seeds []string, seed string) bool {
	for _, s := range seeds {
		if s == seed {
			return true
		}
	}
	return false
}

func joinSeeds(seeds []string) string {
	out := seeds[0]
	for _, s := range seeds[1:] {
		out += "," + s
	}
	return out
}

func formatFloat(v float64) string {
	return strconv.FormatFloat(v, 'f', -1, 64)
}
