package media

import "sync/atomic"

// FrameBuffer is a single-producer, single-consumer latest-value slot. The
// producer fills the storage returned by Acquire and makes it visible with
// Publish; the consumer calls Load and always gets the newest published
// frame. There is no queueing.
//
// Three storage slots rotate, so the slot being written is never the
// published frame nor the one published before it. A consumer may keep the
// frame from Load until its next Load without the producer touching it, as
// long as it does not fall more than one publish behind. Storage is reused
// while dimensions stay the same and replaced when they change; a replaced
// block stays valid for any reader still holding it.
const slotCount = 3

type FrameBuffer struct {
	current atomic.Pointer[Frame]

	slots [slotCount]*Frame
	next  int

	allocations atomic.Int64
	published   atomic.Int64
}

// NewFrameBuffer creates an empty buffer. Load returns nil until the first
// Publish.
func NewFrameBuffer() *FrameBuffer {
	return &FrameBuffer{}
}

// Acquire returns writable storage for a width x height picture. It must
// only be called by the producer. Storage that is not published is handed
// out again by the next Acquire.
func (b *FrameBuffer) Acquire(width, height int) *Frame {
	f := b.slots[b.next]
	if f == nil || !f.Fits(width, height) {
		f = NewFrame(width, height)
		b.slots[b.next] = f
		b.allocations.Add(1)
	}
	return f
}

// Publish makes f the current frame and moves the producer to the next
// slot.
func (b *FrameBuffer) Publish(f *Frame) {
	b.current.Store(f)
	b.published.Add(1)
	b.next = (b.next + 1) % slotCount
}

// Load returns the newest published frame, or nil before the first
// Publish. The producer does not write into it until two more frames are
// published; a reader slower than that may see it change under it.
func (b *FrameBuffer) Load() *Frame {
	return b.current.Load()
}

// Allocations returns how many times plane storage was allocated.
func (b *FrameBuffer) Allocations() int64 { return b.allocations.Load() }

// Published returns how many frames were published.
func (b *FrameBuffer) Published() int64 { return b.published.Load() }

// Reset drops the producer's storage and the published frame.
func (b *FrameBuffer) Reset() {
	b.current.Store(nil)
	b.slots = [slotCount]*Frame{}
	b.next = 0
}
