// Package core defines the shared configuration, domain types and
// collaborator interfaces for the Jammy playback and recommendation service.
package core

import (
	"context"
	"time"
)

// PlaybackDecision is the playback strategy chosen for a single play request.
type PlaybackDecision int

const (
	// DecisionUnavailable means no playback path exists for the track.
	DecisionUnavailable PlaybackDecision = iota
	// DecisionFullRemote plays the full track on the user's active device
	// through the remote player API.
	DecisionFullRemote
	// DecisionPreview streams the 30-second preview clip locally.
	DecisionPreview
)

func (d PlaybackDecision) String() string {
	switch d {
	case DecisionFullRemote:
		return "full_remote"
	case DecisionPreview:
		return "preview"
	default:
		return "unavailable"
	}
}

// AccountTier classifies the authenticated account once per login.
type AccountTier int

const (
	TierUnknown AccountTier = iota
	TierFree
	TierPremium
)

func (t AccountTier) String() string {
	switch t {
	case TierFree:
		return "free"
	case TierPremium:
		return "premium"
	default:
		return "unknown"
	}
}

// Credential holds the OAuth tokens and their derived absolute expiry.
// ExpiresAt is computed as now + expires_in when the token is received.
type Credential struct {
	AccessToken  string
	RefreshToken string
	ExpiresAt    time.Time
}

// PlaybackRequest describes a single play attempt. Transient, never persisted.
type PlaybackRequest struct {
	TrackURI   string
	PreviewURL string // empty when the catalog has no preview clip
	PositionMS int
}

// PlaybackEnv is the environment a playback decision is evaluated against.
// Evaluated fresh for every play request.
type PlaybackEnv struct {
	RemoteAppInstalled bool
	Tier               AccountTier
	PreferPreviewOnly  bool
}

// Track is a catalog track as surfaced by the recommendation endpoint.
type Track struct {
	Name          string
	URI           string
	DurationMS    int
	AlbumImageURL string
	Artists       []string
	PreviewURL    string // optional
	Popularity    int
}

// RecommendationQuery carries the user-tunable recommendation parameters.
type RecommendationQuery struct {
	TargetPopularity int     // 0-100
	Valence          float64 // 0-1
	Energy           float64 // 0-1
	MinTempo         float64 // BPM
	Genres           []string
}

// Playlist is a playlist summary from the library surface.
type Playlist struct {
	ID         string
	Name       string
	Owner      string
	TrackCount int
	Public     bool
}

// Artist is a followed artist from the library surface.
type Artist struct {
	ID     string
	Name   string
	Genres []string
}

// TokenStore persists OAuth credentials and answers the synchronous
// validity check. The auth flow is the only writer; playback and
// recommendation components only read and trigger refreshes.
type TokenStore interface {
	Save(accessToken, refreshToken string, expiresIn time.Duration) error
	Load() (*Credential, error)
	IsValid() bool
	Clear() error
}

// TierSource resolves the authenticated account's tier, cached until logout.
type TierSource interface {
	AccountTier(ctx context.Context) (AccountTier, error)
}
