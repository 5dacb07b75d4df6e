package media

import (
	"sync"
	"testing"
)

func TestPlaneSizes(t *testing.T) {
	t.Parallel()

	tests := []struct {
		w, h         int
		luma, chroma int
	}{
		{1920, 1080, 1920 * 1080, 960 * 540},
		{641, 481, 641 * 481, 321 * 241},
		{1, 1, 1, 1},
		{3, 2, 6, 2},
	}
	for _, tt := range tests {
		f := NewFrame(tt.w, tt.h)
		if len(f.Y) != tt.luma {
			t.Errorf("%dx%d: len(Y) = %d, want %d", tt.w, tt.h, len(f.Y), tt.luma)
		}
		if len(f.U) != tt.chroma || len(f.V) != tt.chroma {
			t.Errorf("%dx%d: len(U)=%d len(V)=%d, want %d", tt.w, tt.h, len(f.U), len(f.V), tt.chroma)
		}
		if len(f.Block()) != BufferSize(tt.w, tt.h) {
			t.Errorf("%dx%d: block %d, want %d", tt.w, tt.h, len(f.Block()), BufferSize(tt.w, tt.h))
		}
		if cw, ch := ChromaSize(tt.w, tt.h); f.ChromaWidth() != cw || f.ChromaHeight() != ch {
			t.Errorf("%dx%d: chroma %dx%d, want %dx%d", tt.w, tt.h, f.ChromaWidth(), f.ChromaHeight(), cw, ch)
		}
	}
}

func TestPlanesDoNotOverlap(t *testing.T) {
	t.Parallel()

	f := NewFrame(5, 3)
	for i := range f.Y {
		f.Y[i] = 'y'
	}
	for i := range f.U {
		f.U[i] = 'u'
	}
	for i := range f.V {
		f.V[i] = 'v'
	}
	want := "yyyyyyyyyyyyyyyuuuuuuvvvvvv"
	if got := string(f.Block()); got != want {
		t.Errorf("block = %q, want %q", got, want)
	}

	// Appending to a plane must not spill into the next one.
	_ = append(f.Y, 'x')
	if f.U[0] != 'u' {
		t.Error("append to Y overwrote U")
	}
}

func TestFrameBufferEmpty(t *testing.T) {
	t.Parallel()

	b := NewFrameBuffer()
	if b.Load() != nil {
		t.Error("Load before Publish should be nil")
	}
}

func TestFrameBufferReusesStorage(t *testing.T) {
	t.Parallel()

	b := NewFrameBuffer()
	var blocks []*byte
	for i := 0; i < 6; i++ {
		f := b.Acquire(320, 240)
		f.PTS = int64(i)
		blocks = append(blocks, &f.Block()[0])
		b.Publish(f)
	}
	if got := b.Allocations(); got != slotCount {
		t.Fatalf("allocations for same-size frames: got %d, want %d", got, slotCount)
	}
	for i := slotCount; i < len(blocks); i++ {
		if blocks[i] != blocks[i-slotCount] {
			t.Errorf("frame %d did not reuse slot storage", i)
		}
	}
	if blocks[0] == blocks[1] || blocks[1] == blocks[2] || blocks[0] == blocks[2] {
		t.Error("consecutive frames must use different slots")
	}
	if got := b.Load().PTS; got != 5 {
		t.Errorf("Load().PTS = %d, want 5", got)
	}
	if b.Published() != 6 {
		t.Errorf("Published = %d, want 6", b.Published())
	}
}

func TestFrameBufferSparesLoadedFrames(t *testing.T) {
	t.Parallel()

	b := NewFrameBuffer()
	b.Publish(b.Acquire(8, 8))
	for i := 0; i < 10; i++ {
		held := b.Load()
		f := b.Acquire(8, 8)
		if f == held {
			t.Fatalf("publish %d: Acquire returned the frame last loaded", i)
		}
		f.PTS = int64(i)
		b.Publish(f)

		// A reader one publish behind still holds held; the next write
		// must not land there either.
		if next := b.Acquire(8, 8); next == held || next == b.Load() {
			t.Fatalf("publish %d: Acquire returned a frame a reader may hold", i)
		}
	}
}

func TestFrameBufferReallocatesOnResize(t *testing.T) {
	t.Parallel()

	b := NewFrameBuffer()
	b.Publish(b.Acquire(320, 240))
	b.Publish(b.Acquire(320, 240))
	old := b.Load()

	f := b.Acquire(641, 361)
	if f.Width != 641 || f.Height != 361 {
		t.Fatalf("acquired %dx%d, want 641x361", f.Width, f.Height)
	}
	luma, chroma := PlaneSize(641, 361)
	if len(f.Y) != luma || len(f.U) != chroma || len(f.V) != chroma {
		t.Errorf("plane sizes %d/%d/%d, want %d/%d/%d", len(f.Y), len(f.U), len(f.V), luma, chroma, chroma)
	}
	b.Publish(f)

	if old.Width != 320 || len(old.Y) != 320*240 {
		t.Error("frame held by a reader changed after reallocation")
	}
	if got := b.Allocations(); got != 3 {
		t.Errorf("allocations: got %d, want 3", got)
	}
}

func TestFrameBufferConcurrentLoad(t *testing.T) {
	t.Parallel()

	b := NewFrameBuffer()
	sizes := [][2]int{{16, 16}, {33, 17}, {64, 48}}

	var wg sync.WaitGroup
	stop := make(chan struct{})
	wg.Add(1)
	go func() {
		defer wg.Done()
		for {
			select {
			case <-stop:
				return
			default:
			}
			f := b.Load()
			if f == nil {
				continue
			}
			luma, chroma := PlaneSize(f.Width, f.Height)
			if len(f.Y) != luma || len(f.U) != chroma || len(f.V) != chroma {
				t.Errorf("inconsistent snapshot %dx%d: %d/%d/%d", f.Width, f.Height, len(f.Y), len(f.U), len(f.V))
				return
			}
		}
	}()

	for i := 0; i < 300; i++ {
		s := sizes[i%len(sizes)]
		b.Publish(b.Acquire(s[0], s[1]))
	}
	close(stop)
	wg.Wait()
}
