package auth

import (
	"context"
	"crypto/rand"
	"crypto/sha256"
	"encoding/base64"
	"encoding/json"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"go.uber.org/zap"
	"golang.org/x/oauth2"
	"golang.org/x/sync/singleflight"

	"jammy/internal/core"
)

// State is the authorization flow state. Failed is terminal until a new
// Authorize call restarts the cycle.
type State int

const (
	StateIdle State = iota
	StateAwaitingRedirect
	StateAuthorized
	StateFailed
)

func (s State) String() string {
	switch s {
	case StateAwaitingRedirect:
		return "awaiting_redirect"
	case StateAuthorized:
		return "authorized"
	case StateFailed:
		return "failed"
	default:
		return "idle"
	}
}

const (
	// verifierLength is the PKCE code verifier length in characters.
	verifierLength = 128
	// verifierAlphabet is the unreserved URL character set allowed in a
	// code verifier (RFC 7636 §4.1).
	verifierAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZabcdefghijklmnopqrstuvwxyz0123456789-._~"

	verifierPreferenceKey = "pkce_verifier"
)

// tokenResponse is the token endpoint's JSON body for both the code
// exchange and the refresh grant.
type tokenResponse struct {
	AccessToken  string `json:"access_token"`
	RefreshToken string `json:"refresh_token"`
	ExpiresIn    int    `json:"expires_in"`
	TokenType    string `json:"token_type"`
}

// Flow implements the PKCE authorization-code flow and token refresh
// against the Spotify accounts service. It is the only writer of the
// token store; refreshes are single-flight so concurrent callers that
// observe an expired token share one refresh and one result.
//
// Flow implements oauth2.TokenSource, so both the low-level player client
// and the zmb3 library client draw tokens from the same lifecycle.
type Flow struct {
	config     *core.SpotifyConfig
	store      *TokenStore
	httpClient *http.Client
	logger     *zap.Logger

	mu       sync.Mutex
	state    State
	verifier string
	failure  error
	tier     core.AccountTier
	doneCh   chan struct{}

	refreshGroup singleflight.Group
}

func NewFlow(config *core.SpotifyConfig, store *TokenStore, logger *zap.Logger) *Flow {
	state := StateIdle
	if store.Authorized() {
		state = StateAuthorized
	}

	return &Flow{
		config:     config,
		store:      store,
		httpClient: &http.Client{Timeout: core.DefaultRequestTimeout},
		logger:     logger,
		state:      state,
	}
}

// State returns the current flow state.
func (f *Flow) State() State {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.state
}

// Failure returns the error that moved the flow into StateFailed, or nil.
func (f *Flow) Failure() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.failure
}

// AuthorizedSignal returns a channel closed when the flow next reaches
// StateAuthorized. Valid after Authorize.
func (f *Flow) AuthorizedSignal() <-chan struct{} {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.doneCh == nil {
		f.doneCh = make(chan struct{})
		if f.state == StateAuthorized {
			close(f.doneCh)
		}
	}
	return f.doneCh
}

// Authorize starts (or restarts) the flow: generates a fresh code verifier,
// persists it, and returns the authorization URL for an external browser to
// open. Transitions Idle/Failed -> AwaitingRedirect.
func (f *Flow) Authorize() (string, error) {
	f.mu.Lock()
	defer f.mu.Unlock()

	verifier, err := generateVerifier()
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrChallengeGeneration, err)
	}

	if err := f.store.SetPreference(verifierPreferenceKey, verifier); err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrChallengeGeneration, err)
	}

	base, err := url.Parse(f.config.AuthURL)
	if err != nil {
		return "", fmt.Errorf("%w: %v", core.ErrAuthURLConstruction, err)
	}

	params := url.Values{}
	params.Set("client_id", f.config.ClientID)
	params.Set("response_type", "code")
	params.Set("redirect_uri", f.config.RedirectURL)
	params.Set("code_challenge_method", "S256")
	params.Set("code_challenge", challengeFromVerifier(verifier))
	if len(f.config.Scopes) > 0 {
		params.Set("scope", strings.Join(f.config.Scopes, " "))
	}
	base.RawQuery = params.Encode()

	f.verifier = verifier
	f.state = StateAwaitingRedirect
	f.failure = nil
	f.doneCh = make(chan struct{})

	f.logger.Info("Authorization flow started")
	return base.String(), nil
}

// HandleRedirect consumes the redirect URL delivered to the callback
// endpoint and exchanges its authorization code for tokens. On success the
// flow is Authorized; on any failure it is Failed and the user must restart
// with Authorize. The exchange is never retried.
func (f *Flow) HandleRedirect(ctx context.Context, redirectURL string) error {
	f.mu.Lock()
	if f.state != StateAwaitingRedirect {
		state := f.state
		f.mu.Unlock()
		return fmt.Errorf("unexpected redirect in state %s", state)
	}
	verifier := f.verifier
	f.mu.Unlock()

	u, err := url.Parse(redirectURL)
	if err != nil {
		return f.fail(fmt.Errorf("invalid redirect URL: %w", err))
	}
	code := u.Query().Get("code")
	if code == "" {
		errParam := u.Query().Get("error")
		if errParam == "" {
			errParam = "missing code parameter"
		}
		return f.fail(fmt.Errorf("authorization rejected: %s", errParam))
	}

	if verifier == "" {
		// Process restarted between Authorize and the redirect.
		stored, err := f.store.Preference(verifierPreferenceKey)
		if err != nil || stored == "" {
			return f.fail(fmt.Errorf("%w: no stored verifier", core.ErrChallengeGeneration))
		}
		verifier = stored
	}

	token, err := f.requestToken(ctx, url.Values{
		"grant_type":    {"authorization_code"},
		"code":          {code},
		"redirect_uri":  {f.config.RedirectURL},
		"code_verifier": {verifier},
	})
	if err != nil {
		return f.fail(err)
	}
	if token.RefreshToken == "" {
		return f.fail(fmt.Errorf("%w: no refresh token in exchange response", core.ErrNoAccessToken))
	}

	if err := f.store.Save(token.AccessToken, token.RefreshToken, time.Duration(token.ExpiresIn)*time.Second); err != nil {
		return f.fail(fmt.Errorf("failed to persist token: %w", err))
	}

	f.mu.Lock()
	f.state = StateAuthorized
	f.verifier = ""
	if f.doneCh != nil {
		close(f.doneCh)
	}
	f.mu.Unlock()

	f.logger.Info("Authorization completed")
	return nil
}

// Refresh exchanges the stored refresh token for a new access token.
// Concurrent callers share a single in-flight refresh. The refresh token is
// replaced only when the server returns a new one. Failure moves the flow
// to StateFailed, forcing re-authorization.
func (f *Flow) Refresh(ctx context.Context) error {
	_, err, shared := f.refreshGroup.Do("refresh", func() (interface{}, error) {
		return nil, f.doRefresh(ctx)
	})
	if shared {
		f.logger.Debug("Refresh shared with concurrent caller")
	}
	return err
}

func (f *Flow) doRefresh(ctx context.Context) error {
	// A concurrent caller may have refreshed while we waited on the
	// single-flight group.
	if f.store.IsValid() {
		return nil
	}

	cred, err := f.store.Load()
	if err != nil {
		return f.fail(fmt.Errorf("failed to load credential: %w", err))
	}
	if cred == nil || cred.RefreshToken == "" {
		return f.fail(core.ErrNotAuthorized)
	}

	token, err := f.requestToken(ctx, url.Values{
		"grant_type":    {"refresh_token"},
		"refresh_token": {cred.RefreshToken},
	})
	if err != nil {
		return f.fail(fmt.Errorf("token refresh failed: %w", err))
	}

	refreshToken := token.RefreshToken
	if refreshToken == "" {
		refreshToken = cred.RefreshToken
	}

	if err := f.store.Save(token.AccessToken, refreshToken, time.Duration(token.ExpiresIn)*time.Second); err != nil {
		return f.fail(fmt.Errorf("failed to persist refreshed token: %w", err))
	}

	f.logger.Debug("Access token refreshed",
		zap.Bool("refreshTokenRotated", token.RefreshToken != ""))
	return nil
}

// Token implements oauth2.TokenSource. It returns the stored access token,
// refreshing it (single-flight) when inside the expiry margin. Refresh is
// attempted at most once per call; failure surfaces to the caller.
func (f *Flow) Token() (*oauth2.Token, error) {
	if !f.store.IsValid() {
		f.mu.Lock()
		state := f.state
		f.mu.Unlock()
		if state != StateAuthorized {
			return nil, core.ErrNotAuthorized
		}
		if err := f.Refresh(context.Background()); err != nil {
			return nil, err
		}
	}

	cred, err := f.store.Load()
	if err != nil {
		return nil, err
	}
	if cred == nil {
		return nil, core.ErrNotAuthorized
	}

	return &oauth2.Token{
		AccessToken:  cred.AccessToken,
		RefreshToken: cred.RefreshToken,
		Expiry:       cred.ExpiresAt,
		TokenType:    "Bearer",
	}, nil
}

// AccountTier classifies the account from the profile endpoint's product
// field. Computed once and cached until Logout.
func (f *Flow) AccountTier(ctx context.Context) (core.AccountTier, error) {
	f.mu.Lock()
	if f.tier != core.TierUnknown {
		tier := f.tier
		f.mu.Unlock()
		return tier, nil
	}
	f.mu.Unlock()

	token, err := f.Token()
	if err != nil {
		return core.TierUnknown, err
	}

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, f.config.APIBaseURL+"/me", http.NoBody)
	if err != nil {
		return core.TierUnknown, fmt.Errorf("failed to create profile request: %w", err)
	}
	req.Header.Set("Authorization", "Bearer "+token.AccessToken)

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return core.TierUnknown, fmt.Errorf("profile request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return core.TierUnknown, &core.APIError{Status: resp.StatusCode, RetryAfter: -1}
	}

	var profile struct {
		Product string `json:"product"`
	}
	if err := json.NewDecoder(resp.Body).Decode(&profile); err != nil {
		return core.TierUnknown, &core.ParseError{Detail: "profile response", Err: err}
	}

	tier := core.TierFree
	if profile.Product == "premium" {
		tier = core.TierPremium
	}

	f.mu.Lock()
	f.tier = tier
	f.mu.Unlock()

	f.logger.Info("Account tier resolved", zap.Stringer("tier", tier))
	return tier, nil
}

// Logout clears the credential store, the cached tier and returns the flow
// to Idle.
func (f *Flow) Logout() error {
	if err := f.store.Clear(); err != nil {
		return err
	}

	f.mu.Lock()
	f.state = StateIdle
	f.verifier = ""
	f.failure = nil
	f.tier = core.TierUnknown
	f.doneCh = nil
	f.mu.Unlock()

	f.logger.Info("Logged out")
	return nil
}

func (f *Flow) fail(err error) error {
	f.mu.Lock()
	f.state = StateFailed
	f.failure = err
	f.mu.Unlock()

	f.logger.Warn("Authorization flow failed", zap.Error(err))
	return err
}

// requestToken POSTs to the token endpoint with HTTP Basic client
// credentials and decodes the token response.
func (f *Flow) requestToken(ctx context.Context, form url.Values) (*tokenResponse, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, f.config.TokenURL, strings.NewReader(form.Encode()))
	if err != nil {
		return nil, fmt.Errorf("failed to create token request: %w", err)
	}
	req.SetBasicAuth(f.config.ClientID, f.config.ClientSecret)
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")

	resp, err := f.httpClient.Do(req)
	if err != nil {
		return nil, fmt.Errorf("token request failed: %w", err)
	}
	defer resp.Body.Close()

	if resp.StatusCode != http.StatusOK {
		return nil, &core.APIError{Status: resp.StatusCode, RetryAfter: -1}
	}

	var token tokenResponse
	if err := json.NewDecoder(resp.Body).Decode(&token); err != nil {
		return nil, &core.ParseError{Detail: "token response", Err: err}
	}
	if token.AccessToken == "" || token.ExpiresIn <= 0 {
		return nil, core.ErrNoAccessToken
	}

	return &token, nil
}

// generateVerifier produces a 128-character code verifier from the
// unreserved URL alphabet.
func generateVerifier() (string, error) {
	raw := make([]byte, verifierLength)
	if _, err := rand.Read(raw); err != nil {
		return "", err
	}

	out := make([]byte, verifierLength)
	for i, b := range raw {
		out[i] = verifierAlphabet[int(b)%len(verifierAlphabet)]
	}
	return string(out), nil
}

// challengeFromVerifier derives the S256 code challenge: base64url of the
// SHA-256 digest, padding stripped.
func challengeFromVerifier(verifier string) string {
	digest := sha256.Sum256([]byte(verifier))
	return base64.RawURLEncoding.EncodeToString(digest[:])
}
