// Package clock paces decoded frames against the wall clock and carries the
// cross-goroutine playback controls (pause, seek, abort) between the UI
// goroutine and the decode worker.
package clock

import (
	"math"
	"sync/atomic"
	"time"
)

// Defaults for the pacing wait. The tolerance keeps the wait from
// over-sleeping by one scheduling quantum.
const (
	DefaultStep      = 10 * time.Millisecond
	DefaultTolerance = 10 * time.Millisecond
)

// State is the externally visible playback state.
type State int

// Playback states. Aborted is terminal.
const (
	Running State = iota
	Paused
	SeekPending
	Aborted
)

func (s State) String() string {
	switch s {
	case Running:
		return "running"
	case Paused:
		return "paused"
	case SeekPending:
		return "seek-pending"
	case Aborted:
		return "aborted"
	default:
		return "unknown"
	}
}

// SeekKind tags the pending-seek value.
type SeekKind int

const (
	// SeekNone means no seek is requested.
	SeekNone SeekKind = iota
	// SeekReset is the one-shot marker left by the worker after it performed
	// a seek; the next Sync consumes it.
	SeekReset
	// SeekTarget carries an absolute target in microseconds.
	SeekTarget
)

// SeekState is the tagged pending-seek value. Target is meaningful only
// for SeekTarget.
type SeekState struct {
	Kind   SeekKind
	Target int64
}

var (
	seekNone  = &SeekState{Kind: SeekNone}
	seekReset = &SeekState{Kind: SeekReset}
)

// Options tunes the pacing wait.
type Options struct {
	// Step is the sleep increment of the pacing wait. It bounds how late
	// Abort, Pause and Seek are observed.
	Step time.Duration
	// Tolerance is how far a frame may run ahead of elapsed wall time and
	// still be released.
	Tolerance time.Duration
}

// Clock is the shared pacing state of one player session. All times are
// microseconds of stream time unless noted.
type Clock struct {
	step      time.Duration
	tolerance int64

	aborted  atomic.Bool
	paused   atomic.Bool
	base     atomic.Int64 // wall clock, unix microseconds; 0 until the first Sync
	duration atomic.Int64
	current  atomic.Int64
	seek     atomic.Pointer[SeekState]

	abortCh chan struct{}
}

// New creates a Clock. Zero option fields take the package defaults.
func New(opts Options) *Clock {
	if opts.Step <= 0 {
		opts.Step = DefaultStep
	}
	if opts.Tolerance <= 0 {
		opts.Tolerance = DefaultTolerance
	}
	c := &Clock{
		step:      opts.Step,
		tolerance: opts.Tolerance.Microseconds(),
		abortCh:   make(chan struct{}),
	}
	c.seek.Store(seekNone)
	return c
}

func nowMicros() int64 { return time.Now().UnixMicro() }

// Step returns the configured sleep increment.
func (c *Clock) Step() time.Duration { return c.step }

// SetDuration records the total stream duration.
func (c *Clock) SetDuration(d int64) {
	if d < 0 {
		d = 0
	}
	c.duration.Store(d)
}

// Duration returns the total stream duration.
func (c *Clock) Duration() int64 { return c.duration.Load() }

// Current returns the presentation timestamp of the last paced frame.
func (c *Clock) Current() int64 { return c.current.Load() }

// Pause toggles between paused and running.
func (c *Clock) Pause() {
	for {
		old := c.paused.Load()
		if c.paused.CompareAndSwap(old, !old) {
			return
		}
	}
}

// IsPaused reports the paused flag.
func (c *Clock) IsPaused() bool { return c.paused.Load() }

// Seek requests a seek relative to the current position. The target is
// clamped to [0, duration] and returned.
func (c *Clock) Seek(delta int64) int64 {
	return c.SeekTo(addSat(c.current.Load(), delta))
}

// SeekTo requests a seek to an absolute position, clamped to [0, duration].
// It returns the clamped target.
func (c *Clock) SeekTo(target int64) int64 {
	target = clamp(target, 0, c.duration.Load())
	c.seek.Store(&SeekState{Kind: SeekTarget, Target: target})
	return target
}

// PendingSeek returns the current pending-seek value.
func (c *Clock) PendingSeek() SeekState { return *c.seek.Load() }

// TakeSeek is called by the decode worker. If a target is pending it is
// returned and the pending value becomes the one-shot SeekReset marker.
func (c *Clock) TakeSeek() (int64, bool) {
	for {
		cur := c.seek.Load()
		if cur.Kind != SeekTarget {
			return 0, false
		}
		if c.seek.CompareAndSwap(cur, seekReset) {
			return cur.Target, true
		}
	}
}

// Abort moves the clock to its terminal state. It is safe to call more
// than once.
func (c *Clock) Abort() {
	if c.aborted.CompareAndSwap(false, true) {
		close(c.abortCh)
	}
}

// IsAborted reports whether Abort was called. It is polled by the demux
// interrupt callback.
func (c *Clock) IsAborted() bool { return c.aborted.Load() }

// Done is closed by Abort.
func (c *Clock) Done() <-chan struct{} { return c.abortCh }

// State derives the externally visible state.
func (c *Clock) State() State {
	switch {
	case c.aborted.Load():
		return Aborted
	case c.seek.Load().Kind == SeekTarget:
		return SeekPending
	case c.paused.Load():
		return Paused
	default:
		return Running
	}
}

// Sleep waits for one step or until Abort, whichever comes first. It
// reports false if the clock was aborted.
func (c *Clock) Sleep() bool {
	t := time.NewTimer(c.step)
	defer t.Stop()
	select {
	case <-t.C:
		return !c.aborted.Load()
	case <-c.abortCh:
		return false
	}
}

// Sync paces the frame with presentation timestamp pts. It blocks while
// paused or while the frame is ahead of elapsed wall time by more than the
// tolerance, and returns early on Abort or a new seek request. On return the
// wall-clock base is re-anchored to pts, so lag never accumulates across
// frames.
func (c *Clock) Sync(pts int64) {
	c.base.CompareAndSwap(0, nowMicros())

	for !c.aborted.Load() && c.seek.Load().Kind == SeekNone &&
		(c.paused.Load() || nowMicros()-c.base.Load() < pts-c.tolerance) {
		if !c.Sleep() {
			break
		}
	}

	if cur := c.seek.Load(); cur.Kind == SeekReset {
		c.seek.CompareAndSwap(cur, seekNone)
	}
	c.base.Store(nowMicros() - pts)
	c.current.Store(pts)
}

// addSat adds a and b, saturating at the int64 limits instead of wrapping.
func addSat(a, b int64) int64 {
	s := a + b
	if (s > a) != (b > 0) {
		if b > 0 {
			return math.MaxInt64
		}
		return math.MinInt64
	}
	return s
}

func clamp(v, lo, hi int64) int64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}
