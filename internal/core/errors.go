package core

import (
	"errors"
	"fmt"
)

var (
	// ErrChallengeGeneration means the PKCE code verifier or challenge
	// could not be generated.
	ErrChallengeGeneration = errors.New("code challenge generation failed")
	// ErrAuthURLConstruction means the authorization URL could not be built.
	ErrAuthURLConstruction = errors.New("authorization URL construction failed")
	// ErrNoAccessToken means the token endpoint response was missing or
	// malformed.
	ErrNoAccessToken = errors.New("token response missing access token")
	// ErrNotAuthorized means no usable credential exists; the caller must
	// restart the authorization flow.
	ErrNotAuthorized = errors.New("not authorized")

	// ErrPreviewNotAvailable means preview playback was selected but the
	// track has no preview clip.
	ErrPreviewNotAvailable = errors.New("no preview available for track")
	// ErrNoDevicesAvailable means the remote player reported no active
	// device after all retries.
	ErrNoDevicesAvailable = errors.New("no active playback device")

	// ErrInvalidQuery means recommendation parameters were out of range.
	ErrInvalidQuery = errors.New("invalid recommendation query")
	// ErrRateLimited means the server returned 429 without a usable
	// Retry-After hint.
	ErrRateLimited = errors.New("rate limited")
	// ErrNoTracksFound means the recommendation endpoint returned a
	// definitive empty result. Not retried.
	ErrNoTracksFound = errors.New("no tracks found")
	// ErrBadServerResponse means retries were exhausted on non-2xx
	// responses.
	ErrBadServerResponse = errors.New("bad server response")
)

// APIError is a non-2xx response from the remote Web API. RetryAfter is the
// parsed Retry-After header in seconds, or -1 when absent.
type APIError struct {
	Status     int
	Message    string
	RetryAfter int
}

func (e *APIError) Error() string {
	if e.Message == "" {
		return fmt.Sprintf("api error: status %d", e.Status)
	}
	return fmt.Sprintf("api error: status %d: %s", e.Status, e.Message)
}

// ParseError reports a response body that could not be interpreted.
type ParseError struct {
	Detail string
	Err    error
}

func (e *ParseError) Error() string {
	return fmt.Sprintf("parse error: %s", e.Detail)
}

func (e *ParseError) Unwrap() error { return e.Err }
