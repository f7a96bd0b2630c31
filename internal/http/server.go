// Package http serves the playback and recommendation control API, the
// OAuth redirect callback, health endpoints and Prometheus metrics.
package http

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"go.uber.org/zap"

	"jammy/internal/core"
)

// RedirectHandler completes the authorization flow from a redirect URL.
type RedirectHandler interface {
	HandleRedirect(ctx context.Context, redirectURL string) error
}

// Player is the playback surface the API exposes.
type Player interface {
	Play(ctx context.Context, env core.PlaybackEnv, req core.PlaybackRequest) error
	Stop(ctx context.Context) error
	Seek(ctx context.Context, positionMS int) error
	Progress(ctx context.Context) (int, bool, error)
}

// Recommender is the recommendation surface the API exposes.
type Recommender interface {
	RandomRecommend(ctx context.Context, targetPopularity int) ([]core.Track, error)
	CustomRecommend(ctx context.Context, query core.RecommendationQuery) ([]core.Track, error)
}

// LibraryService is the playlist and followed-artist surface.
type LibraryService interface {
	Playlists(ctx context.Context) ([]core.Playlist, error)
	FollowedArtists(ctx context.Context) ([]core.Artist, error)
	SaveTracks(ctx context.Context, playlistID string, trackURIs []string) error
}

// Deps are the services the server fronts. Nil fields disable their routes.
type Deps struct {
	Flow        RedirectHandler
	Player      Player
	Recommender Recommender
	Library     LibraryService
	Tiers       core.TierSource

	// Playback environment knobs from config; the account tier comes from
	// Tiers per request.
	RemoteAppInstalled bool
	PreferPreviewOnly  bool
}

type Server struct {
	config  *core.ServerConfig
	logger  *zap.Logger
	server  *http.Server
	deps    Deps
	metrics *Metrics
}

func NewServer(config *core.ServerConfig, deps Deps, metrics *Metrics, logger *zap.Logger) *Server {
	s := &Server{
		config:  config,
		logger:  logger,
		deps:    deps,
		metrics: metrics,
	}

	mux := http.NewServeMux()

	mux.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ok","service":"jammy"}`))
	})

	mux.HandleFunc("/readyz", func(w http.ResponseWriter, _ *http.Request) {
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte(`{"status":"ready","service":"jammy"}`))
	})

	mux.Handle("/metrics", promhttp.HandlerFor(metrics.registry, promhttp.HandlerOpts{}))

	mux.HandleFunc("/callback", s.handleCallback)

	mux.HandleFunc("POST /api/play", s.handlePlay)
	mux.HandleFunc("POST /api/stop", s.handleStop)
	mux.HandleFunc("POST /api/seek", s.handleSeek)
	mux.HandleFunc("GET /api/progress", s.handleProgress)
	mux.HandleFunc("GET /api/recommendations", s.handleRandomRecommend)
	mux.HandleFunc("POST /api/recommendations", s.handleCustomRecommend)
	mux.HandleFunc("GET /api/playlists", s.handlePlaylists)
	mux.HandleFunc("POST /api/playlists/{id}/tracks", s.handleSaveTracks)
	mux.HandleFunc("GET /api/artists", s.handleFollowedArtists)

	s.server = &http.Server{
		Addr:         fmt.Sprintf("%s:%d", config.Host, config.Port),
		Handler:      mux,
		ReadTimeout:  config.ReadTimeout,
		WriteTimeout: config.WriteTimeout,
	}
	return s
}

func (s *Server) Start(ctx context.Context) error {
	s.logger.Info("Starting HTTP server",
		zap.String("addr", s.server.Addr))

	go func() {
		<-ctx.Done()
		s.logger.Info("Shutting down HTTP server")

		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()

		if err := s.server.Shutdown(shutdownCtx); err != nil {
			s.logger.Error("Failed to shutdown HTTP server gracefully", zap.Error(err))
		}
	}()

	if err := s.server.ListenAndServe(); err != http.ErrServerClosed {
		return fmt.Errorf("HTTP server failed: %w", err)
	}
	return nil
}

func (s *Server) handleCallback(w http.ResponseWriter, r *http.Request) {
	if s.deps.Flow == nil {
		http.Error(w, "authorization not configured", http.StatusServiceUnavailable)
		return
	}

	if err := s.deps.Flow.HandleRedirect(r.Context(), r.URL.String()); err != nil {
		s.logger.Error("Authorization callback failed", zap.Error(err))
		s.metrics.AuthRedirectsTotal.WithLabelValues("error").Inc()
		http.Error(w, "authorization failed, please retry", http.StatusBadRequest)
		return
	}

	s.metrics.AuthRedirectsTotal.WithLabelValues("ok").Inc()
	w.Header().Set("Content-Type", "text/html")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(`<!DOCTYPE html>
<html>
<body>
    <h1>Jammy</h1>
    <p>Authorization complete. You can close this window.</p>
</body>
</html>`))
}

type playRequest struct {
	TrackURI   string `json:"track_uri"`
	PreviewURL string `json:"preview_url"`
	PositionMS int    `json:"position_ms"`
}

func (s *Server) handlePlay(w http.ResponseWriter, r *http.Request) {
	if s.deps.Player == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("player not configured"))
		return
	}

	var body playRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if body.TrackURI == "" {
		s.writeError(w, http.StatusBadRequest, errors.New("track_uri is required"))
		return
	}

	env, err := s.playbackEnv(r.Context())
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}

	req := core.PlaybackRequest{
		TrackURI:   body.TrackURI,
		PreviewURL: body.PreviewURL,
		PositionMS: body.PositionMS,
	}
	if err := s.deps.Player.Play(r.Context(), env, req); err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}

	s.writeJSON(w, http.StatusOK, map[string]string{"status": "playing"})
}

func (s *Server) handleStop(w http.ResponseWriter, r *http.Request) {
	if s.deps.Player == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("player not configured"))
		return
	}

	if err := s.deps.Player.Stop(r.Context()); err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "stopped"})
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	if s.deps.Player == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("player not configured"))
		return
	}

	var body struct {
		PositionMS int `json:"position_ms"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}
	if body.PositionMS < 0 {
		s.writeError(w, http.StatusBadRequest, errors.New("position_ms must not be negative"))
		return
	}

	if err := s.deps.Player.Seek(r.Context(), body.PositionMS); err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleProgress(w http.ResponseWriter, r *http.Request) {
	if s.deps.Player == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("player not configured"))
		return
	}

	positionMS, playing, err := s.deps.Player.Progress(r.Context())
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{
		"position_ms": positionMS,
		"playing":     playing,
	})
}

func (s *Server) handleRandomRecommend(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recommender == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("recommender not configured"))
		return
	}

	popularity := 50
	if raw := r.URL.Query().Get("popularity"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil {
			s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid popularity: %w", err))
			return
		}
		popularity = parsed
	}

	tracks, err := s.deps.Recommender.RandomRecommend(r.Context(), popularity)
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks})
}

type customRecommendRequest struct {
	TargetPopularity int      `json:"target_popularity"`
	Valence          float64  `json:"valence"`
	Energy           float64  `json:"energy"`
	MinTempo         float64  `json:"min_tempo"`
	Genres           []string `json:"genres"`
}

func (s *Server) handleCustomRecommend(w http.ResponseWriter, r *http.Request) {
	if s.deps.Recommender == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("recommender not configured"))
		return
	}

	var body customRecommendRequest
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	tracks, err := s.deps.Recommender.CustomRecommend(r.Context(), core.RecommendationQuery{
		TargetPopularity: body.TargetPopularity,
		Valence:          body.Valence,
		Energy:           body.Energy,
		MinTempo:         body.MinTempo,
		Genres:           body.Genres,
	})
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"tracks": tracks})
}

func (s *Server) handlePlaylists(w http.ResponseWriter, r *http.Request) {
	if s.deps.Library == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("library not configured"))
		return
	}

	playlists, err := s.deps.Library.Playlists(r.Context())
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"playlists": playlists})
}

func (s *Server) handleSaveTracks(w http.ResponseWriter, r *http.Request) {
	if s.deps.Library == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("library not configured"))
		return
	}

	var body struct {
		URIs []string `json:"uris"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		s.writeError(w, http.StatusBadRequest, fmt.Errorf("invalid request body: %w", err))
		return
	}

	if err := s.deps.Library.SaveTracks(r.Context(), r.PathValue("id"), body.URIs); err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]string{"status": "ok"})
}

func (s *Server) handleFollowedArtists(w http.ResponseWriter, r *http.Request) {
	if s.deps.Library == nil {
		s.writeError(w, http.StatusServiceUnavailable, errors.New("library not configured"))
		return
	}

	artists, err := s.deps.Library.FollowedArtists(r.Context())
	if err != nil {
		s.writeError(w, statusForError(err), err)
		return
	}
	s.writeJSON(w, http.StatusOK, map[string]any{"artists": artists})
}

func (s *Server) playbackEnv(ctx context.Context) (core.PlaybackEnv, error) {
	env := core.PlaybackEnv{
		RemoteAppInstalled: s.deps.RemoteAppInstalled,
		PreferPreviewOnly:  s.deps.PreferPreviewOnly,
	}
	if s.deps.Tiers == nil {
		return env, nil
	}

	tier, err := s.deps.Tiers.AccountTier(ctx)
	if err != nil {
		return env, fmt.Errorf("failed to resolve account tier: %w", err)
	}
	env.Tier = tier
	return env, nil
}

func (s *Server) writeJSON(w http.ResponseWriter, status int, body any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(body); err != nil {
		s.logger.Warn("Failed to write response", zap.Error(err))
	}
}

func (s *Server) writeError(w http.ResponseWriter, status int, err error) {
	s.writeJSON(w, status, map[string]string{"error": err.Error()})
}

// statusForError maps domain errors onto response codes. Unknown errors are
// treated as upstream failures.
func statusForError(err error) int {
	switch {
	case errors.Is(err, core.ErrNotAuthorized):
		return http.StatusUnauthorized
	case errors.Is(err, core.ErrInvalidQuery):
		return http.StatusBadRequest
	case errors.Is(err, core.ErrPreviewNotAvailable),
		errors.Is(err, core.ErrNoDevicesAvailable),
		errors.Is(err, core.ErrNoTracksFound):
		return http.StatusNotFound
	case errors.Is(err, core.ErrRateLimited):
		return http.StatusTooManyRequests
	default:
		return http.StatusBadGateway
	}
}
