// Package spotify provides the low-level Spotify Web API client used by the
// playback orchestrator and the recommendation fetcher. Status codes
// surface untranslated as core.APIError; retry policy belongs to callers.
package spotify

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strconv"

	"go.uber.org/zap"
	"golang.org/x/oauth2"

	"jammy/internal/core"
)

// maxErrorBody limits how much of an error response body is read.
const maxErrorBody = 4096

// Profile is the authenticated user's profile from GET /me.
type Profile struct {
	ID          string `json:"id"`
	DisplayName string `json:"display_name"`
	Product     string `json:"product"` // "premium", "free", ...
}

// Image is an album image resource.
type Image struct {
	URL    string `json:"url"`
	Height int    `json:"height"`
	Width  int    `json:"width"`
}

// RecommendedArtist is a raw artist entry in a recommendation response.
// Name may be empty; filtering is the fetcher's job.
type RecommendedArtist struct {
	Name string `json:"name"`
	URI  string `json:"uri"`
}

// RecommendedTrack is a raw track entry in a recommendation response.
type RecommendedTrack struct {
	Name       string              `json:"name"`
	URI        string              `json:"uri"`
	DurationMS int                 `json:"duration_ms"`
	Popularity int                 `json:"popularity"`
	PreviewURL *string             `json:"preview_url"`
	Artists    []RecommendedArtist `json:"artists"`
	Album      struct {
		Images []Image `json:"images"`
	} `json:"album"`
}

// RecommendationsPage is the wire shape of GET /recommendations.
type RecommendationsPage struct {
	Tracks []RecommendedTrack `json:"tracks"`
}

// Client issues bearer-authenticated requests against the Web API. Tokens
// come from the auth flow's TokenSource, so an expired token triggers a
// (single-flight) refresh transparently.
type Client struct {
	baseURL    string
	tokens     oauth2.TokenSource
	httpClient *http.Client
	logger     *zap.Logger
}

func NewClient(config *core.SpotifyConfig, tokens oauth2.TokenSource, logger *zap.Logger) *Client {
	return &Client{
		baseURL:    config.APIBaseURL,
		tokens:     tokens,
		httpClient: &http.Client{Timeout: core.DefaultRequestTimeout},
		logger:     logger,
	}
}

// playBody is the PUT /me/player/play request body.
type playBody struct {
	URIs       []string `json:"uris"`
	PositionMS *int     `json:"position_ms,omitempty"`
}

// Play starts full-track playback on the user's active device.
// 404 means no active device; 403 typically means a non-premium account.
func (c *Client) Play(ctx context.Context, uris []string, positionMS int) error {
	body := playBody{URIs: uris}
	if positionMS > 0 {
		body.PositionMS = &positionMS
	}
	return c.do(ctx, http.MethodPut, "/me/player/play", body, nil)
}

// Pause pauses remote playback.
func (c *Client) Pause(ctx context.Context) error {
	return c.do(ctx, http.MethodPut, "/me/player/pause", nil, nil)
}

// Seek moves remote playback to positionMS.
func (c *Client) Seek(ctx context.Context, positionMS int) error {
	path := fmt.Sprintf("/me/player/seek?position_ms=%d", positionMS)
	return c.do(ctx, http.MethodPut, path, nil, nil)
}

// Progress returns the remote playback position in milliseconds. The second
// return is false when no playback session exists (HTTP 204).
func (c *Client) Progress(ctx context.Context) (int, bool, error) {
	var state struct {
		ProgressMS *int `json:"progress_ms"`
	}
	err := c.do(ctx, http.MethodGet, "/me/player", nil, &state)
	if err != nil {
		return 0, false, err
	}
	if state.ProgressMS == nil {
		return 0, false, nil
	}
	return *state.ProgressMS, true, nil
}

// Me fetches the authenticated user's profile.
func (c *Client) Me(ctx context.Context) (*Profile, error) {
	var profile Profile
	if err := c.do(ctx, http.MethodGet, "/me", nil, &profile); err != nil {
		return nil, err
	}
	return &profile, nil
}

// Recommendations runs a recommendation query with the given parameters
// and returns the raw page.
func (c *Client) Recommendations(ctx context.Context, params url.Values) (*RecommendationsPage, error) {
	var page RecommendationsPage
	path := "/recommendations?" + params.Encode()
	if err := c.do(ctx, http.MethodGet, path, nil, &page); err != nil {
		return nil, err
	}
	return &page, nil
}

// GenreSeeds returns the canonical genre seed names accepted by the
// recommendation endpoint.
func (c *Client) GenreSeeds(ctx context.Context) ([]string, error) {
	var seeds struct {
		Genres []string `json:"genres"`
	}
	if err := c.do(ctx, http.MethodGet, "/recommendations/available-genre-seeds", nil, &seeds); err != nil {
		return nil, err
	}
	return seeds.Genres, nil
}

func (c *Client) do(ctx context.Context, method, path string, body, out any) error {
	token, err := c.tokens.Token()
	if err != nil {
		return err
	}

	var reqBody io.Reader
	if body != nil {
		encoded, err := json.Marshal(body)
		if err != nil {
			return fmt.Errorf("failed to encode request body: %w", err)
		}
		reqBody = bytes.NewReader(encoded)
	}

	req, err := http.NewRequestWithContext(ctx, method, c.baseURL+path, reqBody)
	if err != nil {
		return fmt.Errorf("failed to create request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}

	resp, err := c.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return c.apiError(resp)
	}

	if out != nil && resp.StatusCode != http.StatusNoContent {
		if err := json.NewDecoder(resp.Body).Decode(out); err != nil {
			return &core.ParseError{Detail: method + " " + path, Err: err}
		}
	}

	return nil
}

// apiError builds a core.APIError from a non-2xx response, pulling the
// message from the standard {"error": {"message": ...}} envelope when
// present and the Retry-After header on 429.
func (c *Client) apiError(resp *http.Response) error {
	raw, _ := io.ReadAll(io.LimitReader(resp.Body, maxErrorBody))

	message := ""
	var envelope struct {
		Error struct {
			Message string `json:"message"`
		} `json:"error"`
	}
	if err := json.Unmarshal(raw, &envelope); err == nil && envelope.Error.Message != "" {
		message = envelope.Error.Message
	} else if len(raw) > 0 {
		message = string(raw)
	}

	retryAfter := -1
	if resp.StatusCode == http.StatusTooManyRequests {
		if header := resp.Header.Get("Retry-After"); header != "" {
			if secs, err := strconv.Atoi(header); err == nil {
				retryAfter = secs
			}
		}
	}

	c.logger.Debug("API request rejected",
		zap.Int("status", resp.StatusCode),
		zap.Int("retryAfter", retryAfter))

	return &core.APIError{
		Status:     resp.StatusCode,
		Message:    message,
		RetryAfter: retryAfter,
	}
}
