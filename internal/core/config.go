package core

import (
	"time"
)

const (
	// DefaultMaxAttempts is the bounded attempt count shared by the
	// playback and recommendation retry loops.
	DefaultMaxAttempts = 3
	// DefaultRequestTimeout is the per-request timeout for outbound API
	// calls.
	DefaultRequestTimeout = 12 * time.Second
	// DefaultDeviceRetryWait is the wait before retrying after the remote
	// player reports no active device.
	DefaultDeviceRetryWait = 1 * time.Second
	// DefaultPlaybackBackoff is the wait between playback retries on other
	// transient failures.
	DefaultPlaybackBackoff = 500 * time.Millisecond
	// DefaultRecommendBackoff is the wait between recommendation retries.
	DefaultRecommendBackoff = 1 * time.Second
)

type Config struct {
	Spotify   SpotifyConfig
	Player    PlayerConfig
	Recommend RecommendConfig
	Server    ServerConfig
	Log       LogConfig
}

type SpotifyConfig struct {
	ClientID     string
	ClientSecret string
	RedirectURL  string
	AuthURL      string
	TokenURL     string
	APIBaseURL   string
	Scopes       []string
	StorePath    string
}

type PlayerConfig struct {
	RemoteAppInstalled bool
	PreferPreviewOnly  bool
	MaxAttempts        int
	DeviceRetryWait    time.Duration
	Backoff            time.Duration
	RequestTimeout     time.Duration
}

type RecommendConfig struct {
	Market      string
	Limit       int
	MaxAttempts int
	Backoff     time.Duration
	// DedupCapacity bounds the seen-track store; DedupFalsePositiveRate
	// sizes its Bloom filter.
	DedupCapacity          int
	DedupFalsePositiveRate float64
}

type ServerConfig struct {
	Host         string
	Port         int
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type LogConfig struct {
	Level  string
	Format string
}

func DefaultConfig() *Config {
	return &Config{
		Spotify: SpotifyConfig{
			RedirectURL: "http://localhost:8080/callback",
			AuthURL:     "https://accounts.spotify.com/authorize",
			TokenURL:    "https://accounts.spotify.com/api/token",
			APIBaseURL:  "https://api.spotify.com/v1",
			Scopes: []string{
				"user-read-private",
				"user-modify-playback-state",
				"user-read-playback-state",
				"playlist-read-private",
				"playlist-modify-public",
				"playlist-modify-private",
				"user-follow-read",
			},
			StorePath: "./jammy.db",
		},
		Player: PlayerConfig{
			RemoteAppInstalled: true,
			MaxAttempts:        DefaultMaxAttempts,
			DeviceRetryWait:    DefaultDeviceRetryWait,
			Backoff:            DefaultPlaybackBackoff,
			RequestTimeout:     DefaultRequestTimeout,
		},
		Recommend: RecommendConfig{
			Market:                 "US",
			Limit:                  20,
			MaxAttempts:            DefaultMaxAttempts,
			Backoff:                DefaultRecommendBackoff,
			DedupCapacity:          10000,
			DedupFalsePositiveRate: 0.001,
		},
		Server: ServerConfig{
			Host:         "0.0.0.0",
			Port:         8080,
			ReadTimeout:  10 * time.Second,
			WriteTimeout: 10 * time.Second,
		},
		Log: LogConfig{
			Level:  "info",
			Format: "json",
		},
	}
}
