package decode

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/zsiec/vista/internal/clock"
	"github.com/zsiec/vista/internal/media"
)

type runningWorker struct {
	w      *Worker
	clk    *clock.Clock
	frames *media.FrameBuffer
	done   chan error
}

func startWorker(t *testing.T, ctx context.Context, s Session, step time.Duration, eos EOSPolicy) *runningWorker {
	t.Helper()
	clk := clock.New(clock.Options{Step: step})
	fb := media.NewFrameBuffer()
	w := NewWorker(s, clk, fb, WorkerOptions{EOS: eos})
	rw := &runningWorker{w: w, clk: clk, frames: fb, done: make(chan error, 1)}
	go func() { rw.done <- w.Run(ctx) }()
	t.Cleanup(func() { rw.stop(t) })
	return rw
}

func (rw *runningWorker) stop(t *testing.T) {
	t.Helper()
	rw.clk.Abort()
	select {
	case <-rw.done:
	case <-time.After(2 * time.Second):
		t.Fatal("worker did not stop after Abort")
	}
	// Drained so later calls return immediately.
	rw.done <- nil
}

func waitFor(t *testing.T, timeout time.Duration, what string, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatalf("timed out waiting for %s", what)
		}
		time.Sleep(time.Millisecond)
	}
}

func TestWorkerPlaysToEnd(t *testing.T) {
	t.Parallel()

	fs := newFakeSession(10, 1, 0)
	rw := startWorker(t, context.Background(), fs, time.Millisecond, EOSFreeze)

	waitFor(t, 2*time.Second, "end of stream", func() bool {
		st := rw.w.Stats()
		return st.FramesDecoded == 10 && st.EndOfStream
	})
	rw.stop(t)

	if got := rw.clk.Duration(); got != 10_000 {
		t.Errorf("duration = %d, want 10000", got)
	}
	st := rw.w.Stats()
	if st.PacketsRead != 20 {
		t.Errorf("packets read = %d, want 20", st.PacketsRead)
	}
	if fs.read != fs.released {
		t.Errorf("released %d of %d packets", fs.released, fs.read)
	}
	if !fs.closed {
		t.Error("session not closed")
	}
	if len(fs.converters) != 1 || !fs.converters[0].closed.Load() {
		t.Errorf("want one closed converter, got %d", len(fs.converters))
	}
	if got := rw.frames.Allocations(); got != 3 {
		t.Errorf("allocations = %d, want 3", got)
	}
	f := rw.frames.Load()
	if f == nil || f.PTS != 9000 {
		t.Fatalf("last frame = %+v, want PTS 9000", f)
	}
	if st.LastPTS != 9000 || rw.clk.Current() != 9000 {
		t.Errorf("last pts %d, clock %d, want 9000", st.LastPTS, rw.clk.Current())
	}
}

func TestWorkerSeekLandsNearTarget(t *testing.T) {
	t.Parallel()

	const (
		start    = 1000 // ticks
		interval = 10   // ticks, 10ms
		frames   = 200
	)
	fs := newFakeSession(frames, interval, start)
	rw := startWorker(t, context.Background(), fs, time.Millisecond, EOSFreeze)

	for i := 0; i < 3; i++ {
		select {
		case <-fs.converted:
		case <-time.After(2 * time.Second):
			t.Fatal("no frames converted")
		}
	}

	d := rw.clk.Duration()
	if d != frames*interval*1000 {
		t.Fatalf("duration = %d, want %d", d, frames*interval*1000)
	}
	target := rw.clk.SeekTo(d / 2)

	deadline := time.After(2 * time.Second)
	for {
		select {
		case cf := <-fs.converted:
			if cf.seeks == 0 {
				continue
			}
			pts := (cf.ts - start) * 1000
			if diff := pts - target; diff < -interval*1000 || diff > interval*1000 {
				t.Fatalf("first frame after seek at %dus, want within %dus of %d", pts, interval*1000, target)
			}
			return
		case <-deadline:
			t.Fatal("no frame after seek")
		}
	}
}

func TestWorkerNewStorageOnResize(t *testing.T) {
	t.Parallel()

	fs := newFakeSession(6, 1, NoTimestamp)
	fs.sizeAt = func(i int) (int, int) {
		if i < 3 {
			return 64, 32
		}
		return 80, 48
	}
	rw := startWorker(t, context.Background(), fs, time.Millisecond, EOSFreeze)

	waitFor(t, 2*time.Second, "all frames", func() bool {
		st := rw.w.Stats()
		return st.FramesDecoded == 6 && st.EndOfStream
	})
	rw.stop(t)

	if len(fs.converters) != 2 {
		t.Fatalf("converters = %d, want 2", len(fs.converters))
	}
	for i, c := range fs.converters {
		if !c.closed.Load() {
			t.Errorf("converter %d not closed", i)
		}
	}
	if fs.converters[1].w != 80 || fs.converters[1].h != 48 {
		t.Errorf("second converter %dx%d, want 80x48", fs.converters[1].w, fs.converters[1].h)
	}
	f := rw.frames.Load()
	if f.Width != 80 || f.Height != 48 || len(f.Y) != 80*48 {
		t.Errorf("last frame %dx%d len(Y)=%d", f.Width, f.Height, len(f.Y))
	}
	if st := rw.w.Stats(); st.Width != 80 || st.Height != 48 {
		t.Errorf("stats size %dx%d, want 80x48", st.Width, st.Height)
	}
}

func TestWorkerAbortIsPrompt(t *testing.T) {
	t.Parallel()

	fs := newFakeSession(100, 1000, 0) // one frame per second
	rw := startWorker(t, context.Background(), fs, 10*time.Millisecond, EOSFreeze)

	for i := 0; i < 2; i++ {
		select {
		case <-fs.converted:
		case <-time.After(2 * time.Second):
			t.Fatal("no frames converted")
		}
	}
	time.Sleep(20 * time.Millisecond)

	begin := time.Now()
	rw.clk.Abort()
	select {
	case <-rw.done:
	case <-time.After(time.Second):
		t.Fatal("worker still running after Abort")
	}
	if elapsed := time.Since(begin); elapsed > 200*time.Millisecond {
		t.Errorf("worker stopped %v after Abort", elapsed)
	}
	rw.done <- nil
}

func TestWorkerContinuesAfterDecodeErrors(t *testing.T) {
	t.Parallel()

	fs := newFakeSession(8, 1, 0)
	fs.failAt = map[int]bool{2: true, 4: true}
	rw := startWorker(t, context.Background(), fs, time.Millisecond, EOSFreeze)

	waitFor(t, 2*time.Second, "end of stream", func() bool {
		return rw.w.Stats().EndOfStream
	})
	rw.stop(t)

	st := rw.w.Stats()
	if st.FramesDecoded != 6 || st.DecodeErrors != 2 {
		t.Errorf("decoded %d errors %d, want 6 and 2", st.FramesDecoded, st.DecodeErrors)
	}
}

func TestWorkerDrainsHeldFramesAtEndOfStream(t *testing.T) {
	t.Parallel()

	fs := newFakeSession(10, 1, 0)
	fs.delay = 2
	rw := startWorker(t, context.Background(), fs, time.Millisecond, EOSFreeze)

	waitFor(t, 2*time.Second, "drained end of stream", func() bool {
		st := rw.w.Stats()
		return st.FramesDecoded == 10 && st.EndOfStream
	})
	// Keep polling at the end for a while; the decoder is drained once.
	time.Sleep(20 * time.Millisecond)
	rw.stop(t)

	if f := rw.frames.Load(); f == nil || f.PTS != 9000 {
		t.Fatalf("frozen frame = %+v, want PTS 9000", f)
	}
	if got := rw.w.Stats().LastPTS; got != 9000 {
		t.Errorf("last pts = %d, want 9000", got)
	}
	if fs.drains != 1 {
		t.Errorf("drained %d times, want 1", fs.drains)
	}
}

// stallingSession never reaches the end of the stream; it only stalls.
type stallingSession struct {
	*fakeSession
}

func (s stallingSession) ReadPacket() (Packet, error) {
	pkt, err := s.fakeSession.ReadPacket()
	if errors.Is(err, ErrEndOfStream) {
		return nil, ErrNoPacket
	}
	return pkt, err
}

func TestWorkerDoesNotDrainOnStall(t *testing.T) {
	t.Parallel()

	fs := newFakeSession(10, 1, 0)
	fs.delay = 2
	rw := startWorker(t, context.Background(), stallingSession{fs}, time.Millisecond, EOSFreeze)

	waitFor(t, 2*time.Second, "stall", func() bool {
		st := rw.w.Stats()
		return st.FramesDecoded == 8 && st.EndOfStream
	})
	time.Sleep(20 * time.Millisecond)
	rw.stop(t)

	if fs.drains != 0 || len(fs.held) != 2 {
		t.Errorf("drains = %d, held = %v; a stall must not drain the decoder", fs.drains, fs.held)
	}
	if got := rw.w.Stats().FramesDecoded; got != 8 {
		t.Errorf("frames = %d, want 8", got)
	}
}

func TestWorkerLoopsAtEndOfStream(t *testing.T) {
	t.Parallel()

	fs := newFakeSession(5, 1, 0)
	rw := startWorker(t, context.Background(), fs, time.Millisecond, EOSLoop)

	waitFor(t, 2*time.Second, "two loops", func() bool {
		return rw.w.Stats().Seeks >= 2
	})

	deadline := time.After(2 * time.Second)
	for {
		select {
		case cf := <-fs.converted:
			if cf.seeks >= 1 && cf.ts == 0 {
				return
			}
		case <-deadline:
			t.Fatal("no frame from the start after looping")
		}
	}
}

func TestWorkerStopsOnContextCancel(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	fs := newFakeSession(100, 1000, 0)
	rw := startWorker(t, ctx, fs, 10*time.Millisecond, EOSFreeze)

	select {
	case <-fs.converted:
	case <-time.After(2 * time.Second):
		t.Fatal("no frames converted")
	}
	cancel()

	select {
	case <-rw.done:
		rw.done <- nil
	case <-time.After(time.Second):
		t.Fatal("worker still running after cancel")
	}
	if !rw.clk.IsAborted() {
		t.Error("cancel did not abort the clock")
	}
}

func TestParseEOSPolicy(t *testing.T) {
	t.Parallel()

	tests := []struct {
		in      string
		want    EOSPolicy
		wantErr bool
	}{
		{"", EOSFreeze, false},
		{"freeze", EOSFreeze, false},
		{"LOOP", EOSLoop, false},
		{"rewind", EOSFreeze, true},
	}
	for _, tt := range tests {
		got, err := ParseEOSPolicy(tt.in)
		if (err != nil) != tt.wantErr {
			t.Errorf("ParseEOSPolicy(%q) error = %v", tt.in, err)
			continue
		}
		if got != tt.want {
			t.Errorf("ParseEOSPolicy(%q) = %v, want %v", tt.in, got, tt.want)
		}
	}
}
