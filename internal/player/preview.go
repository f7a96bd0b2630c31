package player

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"sync"
	"time"

	"go.uber.org/zap"
)

// PreviewPlayer plays 30-second preview clips locally. Stop is idempotent.
type PreviewPlayer interface {
	// Play stops any current clip, starts streaming previewURL and calls
	// onComplete when the stream ends naturally (not when stopped).
	Play(ctx context.Context, previewURL string, onComplete func()) error
	Stop()
	// Seek moves the virtual playback position to positionMS.
	Seek(positionMS int) error
	// Position returns the current position in milliseconds and whether a
	// clip is active.
	Position() (int, bool)
}

// StreamPlayer is the default PreviewPlayer: it streams the clip into an
// audio sink writer. The sink is injected; a headless deployment can use
// io.Discard.
type StreamPlayer struct {
	httpClient *http.Client
	sink       io.Writer
	logger     *zap.Logger

	mu        sync.Mutex
	cancel    context.CancelFunc
	startedAt time.Time
	baseMS    int
	active    bool
}

func NewStreamPlayer(sink io.Writer, logger *zap.Logger) *StreamPlayer {
	if sink == nil {
		sink = io.Discard
	}
	return &StreamPlayer{
		httpClient: &http.Client{Timeout: 60 * time.Second},
		sink:       sink,
		logger:     logger,
	}
}

func (p *StreamPlayer) Play(ctx context.Context, previewURL string, onComplete func()) error {
	p.Stop()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, previewURL, http.NoBody)
	if err != nil {
		return fmt.Errorf("invalid preview URL: %w", err)
	}

	resp, err := p.httpClient.Do(req)
	if err != nil {
		return fmt.Errorf("failed to open preview stream: %w", err)
	}
	if resp.StatusCode != http.StatusOK {
		resp.Body.Close()
		return fmt.Errorf("preview stream returned status %d", resp.StatusCode)
	}

	// The stream outlives the play call; Stop cancels it.
	streamCtx, cancel := context.WithCancel(context.Background())

	p.mu.Lock()
	p.cancel = cancel
	p.startedAt = time.Now()
	p.baseMS = 0
	p.active = true
	p.mu.Unlock()

	go p.stream(streamCtx, resp.Body, onComplete)

	p.logger.Debug("Preview playback started", zap.String("url", previewURL))
	return nil
}

func (p *StreamPlayer) stream(ctx context.Context, body io.ReadCloser, onComplete func()) {
	defer body.Close()

	done := make(chan error, 1)
	go func() {
		_, err := io.Copy(p.sink, body)
		done <- err
	}()

	select {
	case <-ctx.Done():
		// Stopped; closing the body unblocks the copy.
		return
	case err := <-done:
		p.mu.Lock()
		p.active = false
		p.cancel = nil
		p.mu.Unlock()

		if err != nil {
			p.logger.Debug("Preview stream ended with error", zap.Error(err))
		}
		if onComplete != nil {
			onComplete()
		}
	}
}

func (p *StreamPlayer) Stop() {
	p.mu.Lock()
	cancel := p.cancel
	p.cancel = nil
	p.active = false
	p.mu.Unlock()

	if cancel != nil {
		cancel()
	}
}

func (p *StreamPlayer) Seek(positionMS int) error {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return fmt.Errorf("no preview clip active")
	}
	p.baseMS = positionMS
	p.startedAt = time.Now()
	return nil
}

func (p *StreamPlayer) Position() (int, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()

	if !p.active {
		return 0, false
	}
	elapsed := int(time.Since(p.startedAt) / time.Millisecond)
	return p.baseMS + elapsed, true
}
