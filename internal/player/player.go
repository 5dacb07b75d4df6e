// Package player owns one playback session: the pacing clock, the decode
// worker goroutine and the frame buffer the renderer reads from.
package player

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/zsiec/vista/internal/clock"
	"github.com/zsiec/vista/internal/decode"
	"github.com/zsiec/vista/internal/media"
)

// Options configures a Player.
type Options struct {
	Opener decode.Opener
	EOS    decode.EOSPolicy
	Log    *slog.Logger

	// Step and Tolerance tune the pacing wait; zero takes the clock defaults.
	Step      time.Duration
	Tolerance time.Duration
}

// Status is a point-in-time view of the session for the control API.
type Status struct {
	ID         string       `json:"id"`
	URL        string       `json:"url"`
	State      string       `json:"state"`
	PositionUs int64        `json:"positionUs"`
	DurationUs int64        `json:"durationUs"`
	Width      int          `json:"width"`
	Height     int          `json:"height"`
	UptimeMs   int64        `json:"uptimeMs"`
	Decode     decode.Stats `json:"decode"`
}

// Player is one playback session. Frame and Status may be called from any
// goroutine; Destroy must be called exactly once by the owner.
type Player struct {
	id        string
	url       string
	log       *slog.Logger
	startedAt time.Time

	clock  *clock.Clock
	frames *media.FrameBuffer
	worker *decode.Worker

	cancel  context.CancelFunc
	done    chan struct{}
	destroy sync.Once
}

// New opens url and starts the decode worker. Failing to open the source
// or finding no video stream is returned as an error.
func New(ctx context.Context, url string, opts Options) (*Player, error) {
	if opts.Opener == nil {
		return nil, errors.New("player: no opener")
	}
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	id := uuid.NewString()
	log = log.With("session", id)

	sessCtx, cancel := context.WithCancel(ctx)
	session, err := opts.Opener.Open(sessCtx, url)
	if err != nil {
		cancel()
		return nil, fmt.Errorf("open %s: %w", url, err)
	}

	p := &Player{
		id:        id,
		url:       url,
		log:       log.With("component", "player"),
		startedAt: time.Now(),
		clock:     clock.New(clock.Options{Step: opts.Step, Tolerance: opts.Tolerance}),
		frames:    media.NewFrameBuffer(),
		cancel:    cancel,
		done:      make(chan struct{}),
	}
	p.worker = decode.NewWorker(session, p.clock, p.frames, decode.WorkerOptions{EOS: opts.EOS, Log: log})
	p.clock.SetDuration(session.Duration())

	go func() {
		defer close(p.done)
		if err := p.worker.Run(sessCtx); err != nil {
			p.log.Error("decode worker failed", "error", err)
		}
	}()

	p.log.Info("session started", "url", url, "eos", opts.EOS.String())
	return p, nil
}

// ID returns the session id.
func (p *Player) ID() string { return p.id }

// URL returns the source URL.
func (p *Player) URL() string { return p.url }

// Pause toggles pause.
func (p *Player) Pause() { p.clock.Pause() }

// Seek requests a seek relative to the current position and returns the
// clamped target.
func (p *Player) Seek(delta time.Duration) int64 {
	return p.clock.Seek(delta.Microseconds())
}

// SeekTo requests a seek to an absolute position in microseconds and
// returns the clamped target.
func (p *Player) SeekTo(positionUs int64) int64 {
	return p.clock.SeekTo(positionUs)
}

// Frame returns the latest decoded frame, or nil before the first one.
func (p *Player) Frame() *media.Frame { return p.frames.Load() }

// Done is closed once the decode worker has exited.
func (p *Player) Done() <-chan struct{} { return p.done }

// Status returns a snapshot of the session.
func (p *Player) Status() Status {
	st := p.worker.Stats()
	return Status{
		ID:         p.id,
		URL:        p.url,
		State:      p.clock.State().String(),
		PositionUs: p.clock.Current(),
		DurationUs: p.clock.Duration(),
		Width:      st.Width,
		Height:     st.Height,
		UptimeMs:   time.Since(p.startedAt).Milliseconds(),
		Decode:     st,
	}
}

// Destroy aborts the clock, interrupts blocking I/O, waits for the worker
// to release the session and drops the frame storage. It is safe to call
// more than once.
func (p *Player) Destroy() {
	p.destroy.Do(func() {
		p.clock.Abort()
		p.cancel()
		<-p.done
		p.frames.Reset()
		p.log.Info("session destroyed", "frames", p.worker.Stats().FramesDecoded)
	})
}
