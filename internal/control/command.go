package control

import (
	"fmt"
	"time"
)

// Op identifies a user command.
type Op int

const (
	OpPause Op = iota + 1
	OpSeek
	OpRotate
	OpZoom
	OpReset
	OpQuit
)

func (o Op) String() string {
	switch o {
	case OpPause:
		return "pause"
	case OpSeek:
		return "seek"
	case OpRotate:
		return "rotate"
	case OpZoom:
		return "zoom"
	case OpReset:
		return "reset"
	case OpQuit:
		return "quit"
	default:
		return fmt.Sprintf("op(%d)", int(o))
	}
}

// Command is one user action, from a key press or the API.
type Command struct {
	Op Op

	// OpRotate
	X, Y, Z, Degrees float32
	// OpZoom
	Delta float32
	// OpSeek: Seek is relative unless Absolute is set, then Position (µs) is used.
	Seek     time.Duration
	Position int64
	Absolute bool
}

// View is the render-side target of view commands. It is only touched on
// the goroutine that owns the GL context.
type View interface {
	Rotate(x, y, z, degrees float32)
	Zoom(inc float32)
	Reset()
}

// Playback is the session-side target of pause and seek commands.
type Playback interface {
	Pause()
	Seek(delta time.Duration) int64
	SeekTo(positionUs int64) int64
}

// Dispatch applies cmd and reports whether it asks to quit.
func Dispatch(cmd Command, view View, playback Playback) bool {
	switch cmd.Op {
	case OpPause:
		playback.Pause()
	case OpSeek:
		if cmd.Absolute {
			playback.SeekTo(cmd.Position)
		} else {
			playback.Seek(cmd.Seek)
		}
	case OpRotate:
		view.Rotate(cmd.X, cmd.Y, cmd.Z, cmd.Degrees)
	case OpZoom:
		view.Zoom(cmd.Delta)
	case OpReset:
		view.Reset()
	case OpQuit:
		return true
	}
	return false
}

// Queue carries commands from API handlers to the render goroutine. It is
// bounded; Push never blocks.
type Queue struct {
	ch chan Command
}

// DefaultQueueSize is used when NewQueue is given a non-positive size.
const DefaultQueueSize = 64

// NewQueue creates a queue holding at most size pending commands.
func NewQueue(size int) *Queue {
	if size <= 0 {
		size = DefaultQueueSize
	}
	return &Queue{ch: make(chan Command, size)}
}

// Push enqueues cmd. It returns false when the queue is full.
func (q *Queue) Push(cmd Command) bool {
	select {
	case q.ch <- cmd:
		return true
	default:
		return false
	}
}

// Drain calls fn for every pending command without blocking and returns
// how many were handled. It stops early when fn returns false.
func (q *Queue) Drain(fn func(Command) bool) int {
	n := 0
	for {
		select {
		case cmd := <-q.ch:
			n++
			if !fn(cmd) {
				return n
			}
		default:
			return n
		}
	}
}

// Len returns the number of pending commands.
func (q *Queue) Len() int { return len(q.ch) }
