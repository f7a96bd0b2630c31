package player

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"

	"jammy/internal/core"
	"jammy/pkg/retry"
)

// RemoteController drives playback on the user's active Spotify device.
type RemoteController interface {
	Play(ctx context.Context, uris []string, positionMS int) error
	Pause(ctx context.Context) error
	Seek(ctx context.Context, positionMS int) error
	Progress(ctx context.Context) (positionMS int, playing bool, err error)
}

// Metrics receives playback counters. Implementations must be safe for
// concurrent use.
type Metrics interface {
	PlaybackAttempt(mode string, ok bool)
	PlaybackRetry(mode string)
}

type session struct {
	generation uint64
	decision   core.PlaybackDecision
	request    core.PlaybackRequest
}

// Orchestrator routes play requests to either the remote Spotify device or
// the local preview player. Only the most recent request owns the playback
// session; an earlier request that finishes late does not commit state.
type Orchestrator struct {
	remote  RemoteController
	preview PreviewPlayer
	config  core.PlayerConfig
	metrics Metrics
	logger  *zap.Logger

	// Injectable for tests.
	sleep func(ctx context.Context, d time.Duration) error

	mu         sync.Mutex
	generation uint64
	current    *session
}

func NewOrchestrator(remote RemoteController, preview PreviewPlayer, config core.PlayerConfig, metrics Metrics, logger *zap.Logger) *Orchestrator {
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = core.DefaultMaxAttempts
	}
	if config.DeviceRetryWait <= 0 {
		config.DeviceRetryWait = core.DefaultDeviceRetryWait
	}
	if config.Backoff <= 0 {
		config.Backoff = core.DefaultPlaybackBackoff
	}
	return &Orchestrator{
		remote:  remote,
		preview: preview,
		config:  config,
		metrics: metrics,
		logger:  logger,
	}
}

// Decide picks the playback mode for a request in the given environment.
// Full remote playback requires a premium account, the Spotify app installed
// and no preview-only preference; everything else falls back to the preview
// clip, or to unavailable when the track has none.
func Decide(env core.PlaybackEnv, req core.PlaybackRequest) core.PlaybackDecision {
	if env.RemoteAppInstalled && env.Tier == core.TierPremium && !env.PreferPreviewOnly {
		return core.DecisionFullRemote
	}
	if req.PreviewURL == "" {
		return core.DecisionUnavailable
	}
	return core.DecisionPreview
}

// Play starts playback for req, replacing whatever was playing before.
func (o *Orchestrator) Play(ctx context.Context, env core.PlaybackEnv, req core.PlaybackRequest) error {
	decision := Decide(env, req)
	if decision == core.DecisionUnavailable {
		return fmt.Errorf("%w: track %s", core.ErrPreviewNotAvailable, req.TrackURI)
	}

	o.mu.Lock()
	o.generation++
	generation := o.generation
	previous := o.current
	o.current = nil
	o.mu.Unlock()

	o.stopSession(ctx, previous)

	o.logger.Debug("Starting playback",
		zap.String("track", req.TrackURI),
		zap.Stringer("mode", decision),
	)

	var err error
	switch decision {
	case core.DecisionFullRemote:
		err = o.playFullTrack(ctx, req)
	case core.DecisionPreview:
		err = o.playPreview(ctx, generation, req)
	}
	if o.metrics != nil {
		o.metrics.PlaybackAttempt(decision.String(), err == nil)
	}
	if err != nil {
		return err
	}

	o.mu.Lock()
	defer o.mu.Unlock()
	if o.generation != generation {
		// A newer request replaced this one while it was in flight; leave
		// its session alone.
		o.logger.Debug("Playback request superseded", zap.String("track", req.TrackURI))
		return nil
	}
	o.current = &session{generation: generation, decision: decision, request: req}
	return nil
}

func (o *Orchestrator) playFullTrack(ctx context.Context, req core.PlaybackRequest) error {
	policy := retry.Policy{
		MaxAttempts: o.config.MaxAttempts,
		Backoff:     retry.Constant(o.config.Backoff),
		Sleep:       o.sleep,
	}
	return retry.Do(ctx, policy, func(ctx context.Context, attempt int) (bool, error) {
		err := o.remote.Play(ctx, []string{req.TrackURI}, req.PositionMS)
		if err == nil {
			return false, nil
		}

		if attempt < o.config.MaxAttempts && o.metrics != nil {
			o.metrics.PlaybackRetry(core.DecisionFullRemote.String())
		}

		var apiErr *core.APIError
		if errors.As(err, &apiErr) {
			switch apiErr.Status {
			case 404:
				// No active device. Wait a moment in case the app is still
				// registering, then try again.
				o.logger.Warn("No active Spotify device", zap.Int("attempt", attempt))
				return true, retry.After(o.config.DeviceRetryWait,
					fmt.Errorf("%w: open Spotify on a device and start playback once", core.ErrNoDevicesAvailable))
			case 403:
				// Restriction violations are often transient; retry without
				// extra wait.
				o.logger.Warn("Playback rejected", zap.String("message", apiErr.Message), zap.Int("attempt", attempt))
				return true, retry.After(0, err)
			}
		}
		return true, err
	})
}

func (o *Orchestrator) playPreview(ctx context.Context, generation uint64, req core.PlaybackRequest) error {
	err := o.preview.Play(ctx, req.PreviewURL, func() {
		o.completeSession(generation)
	})
	if err != nil {
		return fmt.Errorf("%w: %v", core.ErrPreviewNotAvailable, err)
	}
	return nil
}

// Stop halts the current playback session. Stopping when nothing is playing
// is a no-op.
func (o *Orchestrator) Stop(ctx context.Context) error {
	o.mu.Lock()
	current := o.current
	o.current = nil
	o.mu.Unlock()

	o.stopSession(ctx, current)
	return nil
}

func (o *Orchestrator) stopSession(ctx context.Context, s *session) {
	if s == nil {
		return
	}
	switch s.decision {
	case core.DecisionPreview:
		o.preview.Stop()
	case core.DecisionFullRemote:
		if err := o.remote.Pause(ctx); err != nil {
			var apiErr *core.APIError
			if errors.As(err, &apiErr) && apiErr.Status == 404 {
				// Device already gone; already stopped as far as we care.
				return
			}
			o.logger.Warn("Failed to pause remote playback", zap.Error(err))
		}
	}
}

// Seek moves the active session to positionMS.
func (o *Orchestrator) Seek(ctx context.Context, positionMS int) error {
	o.mu.Lock()
	current := o.current
	o.mu.Unlock()

	if current == nil {
		return fmt.Errorf("no active playback session")
	}
	if current.decision == core.DecisionPreview {
		return o.preview.Seek(positionMS)
	}
	return o.remote.Seek(ctx, positionMS)
}

// Progress reports the position of the active session in milliseconds.
func (o *Orchestrator) Progress(ctx context.Context) (int, bool, error) {
	o.mu.Lock()
	current := o.current
	o.mu.Unlock()

	if current == nil {
		return 0, false, nil
	}
	if current.decision == core.DecisionPreview {
		positionMS, active := o.preview.Position()
		return positionMS, active, nil
	}
	return o.remote.Progress(ctx)
}

// Current returns the request owning the active session, if any.
func (o *Orchestrator) Current() (core.PlaybackRequest, core.PlaybackDecision, bool) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current == nil {
		return core.PlaybackRequest{}, core.DecisionUnavailable, false
	}
	return o.current.request, o.current.decision, true
}

func (o *Orchestrator) completeSession(generation uint64) {
	o.mu.Lock()
	defer o.mu.Unlock()

	if o.current != nil && o.current.generation == generation {
		o.current = nil
	}
}
