package decode

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"github.com/zsiec/vista/internal/clock"
	"github.com/zsiec/vista/internal/media"
)

// EOSPolicy selects what the worker does when the demuxer runs dry.
type EOSPolicy int

const (
	// EOSFreeze keeps the last frame on screen and keeps polling, so a
	// backwards seek resumes playback.
	EOSFreeze EOSPolicy = iota
	// EOSLoop seeks back to the start.
	EOSLoop
)

func (p EOSPolicy) String() string {
	switch p {
	case EOSFreeze:
		return "freeze"
	case EOSLoop:
		return "loop"
	default:
		return "unknown"
	}
}

// ParseEOSPolicy parses "freeze" or "loop". The empty string means freeze.
func ParseEOSPolicy(s string) (EOSPolicy, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "freeze":
		return EOSFreeze, nil
	case "loop":
		return EOSLoop, nil
	default:
		return EOSFreeze, fmt.Errorf("unknown end-of-stream policy %q", s)
	}
}

// Stats are the worker counters exposed through the status API.
type Stats struct {
	PacketsRead   int64 `json:"packetsRead"`
	FramesDecoded int64 `json:"framesDecoded"`
	DecodeErrors  int64 `json:"decodeErrors"`
	ReadErrors    int64 `json:"readErrors"`
	Seeks         int64 `json:"seeks"`
	SeekErrors    int64 `json:"seekErrors"`
	LastPTS       int64 `json:"lastPtsUs"`
	Width         int   `json:"width"`
	Height        int   `json:"height"`
	EndOfStream   bool  `json:"endOfStream"`
}

// WorkerOptions configures a Worker.
type WorkerOptions struct {
	EOS EOSPolicy
	Log *slog.Logger
}

// Worker is the decode loop of one player session. Run owns the session
// and closes it on return.
type Worker struct {
	log     *slog.Logger
	session Session
	clock   *clock.Clock
	frames  *media.FrameBuffer
	eos     EOSPolicy
	info    StreamInfo

	conv         Converter
	convW, convH int
	sinceSeek    int64
	loggedEOS    bool
	undrained    bool // packets were fed since the last drain or seek

	packetsRead   atomic.Int64
	framesDecoded atomic.Int64
	decodeErrors  atomic.Int64
	readErrors    atomic.Int64
	seeks         atomic.Int64
	seekErrors    atomic.Int64
	lastPTS       atomic.Int64
	width         atomic.Int32
	height        atomic.Int32
	atEOS         atomic.Bool
}

// NewWorker creates a Worker that decodes session into frames, paced by c.
func NewWorker(session Session, c *clock.Clock, frames *media.FrameBuffer, opts WorkerOptions) *Worker {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	info := session.Video()
	return &Worker{
		log:     log.With("component", "decode-worker", "stream", info.Index),
		session: session,
		clock:   c,
		frames:  frames,
		eos:     opts.EOS,
		info:    info,
	}
}

// Stats returns a snapshot of the worker counters.
func (w *Worker) Stats() Stats {
	return Stats{
		PacketsRead:   w.packetsRead.Load(),
		FramesDecoded: w.framesDecoded.Load(),
		DecodeErrors:  w.decodeErrors.Load(),
		ReadErrors:    w.readErrors.Load(),
		Seeks:         w.seeks.Load(),
		SeekErrors:    w.seekErrors.Load(),
		LastPTS:       w.lastPTS.Load(),
		Width:         int(w.width.Load()),
		Height:        int(w.height.Load()),
		EndOfStream:   w.atEOS.Load(),
	}
}

// Run decodes until the clock is aborted or ctx is cancelled. Cancelling
// ctx aborts the clock.
func (w *Worker) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, w.clock.Abort)
	defer stop()
	defer w.release()

	w.clock.SetDuration(w.session.Duration())
	w.log.Info("decode started",
		"codec", w.info.Codec,
		"duration_us", w.session.Duration(),
		"time_base", fmt.Sprintf("%d/%d", w.info.TimeBase.Num, w.info.TimeBase.Den))

	for !w.clock.IsAborted() {
		if target, ok := w.clock.TakeSeek(); ok {
			w.seek(target)
		}

		pkt, err := w.session.ReadPacket()
		if err != nil {
			if errors.Is(err, ErrNoPacket) {
				if errors.Is(err, ErrEndOfStream) && w.undrained {
					w.drain()
				}
				w.endOfStream()
			} else {
				w.readErrors.Add(1)
				w.log.Warn("read packet failed", "error", err)
			}
			w.clock.Sleep()
			continue
		}
		w.packetsRead.Add(1)
		w.loggedEOS = false
		w.atEOS.Store(false)

		if pkt.StreamIndex() != w.info.Index {
			pkt.Release()
			continue
		}

		pic, err := w.session.Decode(pkt)
		pkt.Release()
		w.undrained = true
		if err != nil {
			w.decodeErrors.Add(1)
			w.log.Debug("decode failed", "error", err)
			continue
		}
		if pic == nil {
			continue
		}
		w.present(pic)
	}

	w.log.Info("decode stopped",
		"frames", w.framesDecoded.Load(),
		"packets", w.packetsRead.Load(),
		"decode_errors", w.decodeErrors.Load())
	return nil
}

func (w *Worker) seek(target int64) {
	ts := w.info.TimeBase.FromMicros(target)
	if w.info.StartTime != NoTimestamp {
		ts += w.info.StartTime
	}
	if err := w.session.Seek(ts); err != nil {
		w.seekErrors.Add(1)
		w.log.Warn("seek rejected", "target_us", target, "error", err)
		return
	}
	w.seeks.Add(1)
	w.sinceSeek = 0
	w.undrained = false
	w.loggedEOS = false
	w.atEOS.Store(false)
	w.log.Debug("seek", "target_us", target, "target_ts", ts)
}

// drain presents the pictures the decoder held back for reordering, so the
// frame left on screen at the end is the real last one. A pending seek or
// Abort cuts it short.
func (w *Worker) drain() {
	w.undrained = false
	n := 0
	for !w.clock.IsAborted() && w.clock.PendingSeek().Kind != clock.SeekTarget {
		pic, err := w.session.Drain()
		if err != nil {
			w.decodeErrors.Add(1)
			w.log.Debug("drain failed", "error", err)
			break
		}
		if pic == nil {
			break
		}
		w.present(pic)
		n++
	}
	w.log.Debug("decoder drained", "frames", n)
}

func (w *Worker) endOfStream() {
	w.atEOS.Store(true)
	if !w.loggedEOS {
		w.loggedEOS = true
		w.log.Info("end of stream", "policy", w.eos.String(), "frames", w.framesDecoded.Load())
	}
	if w.eos == EOSLoop && w.sinceSeek > 0 {
		w.sinceSeek = 0
		w.clock.SeekTo(0)
	}
}

func (w *Worker) present(pic Picture) {
	width, height := pic.Width(), pic.Height()
	if width <= 0 || height <= 0 {
		w.decodeErrors.Add(1)
		w.log.Debug("picture without dimensions", "width", width, "height", height)
		return
	}

	if w.conv == nil || width != w.convW || height != w.convH {
		if w.conv != nil {
			w.conv.Close()
			w.conv = nil
		}
		conv, err := w.session.NewConverter(width, height)
		if err != nil {
			w.decodeErrors.Add(1)
			w.log.Error("create converter failed", "width", width, "height", height, "error", err)
			return
		}
		w.conv, w.convW, w.convH = conv, width, height
		w.width.Store(int32(width))
		w.height.Store(int32(height))
		w.log.Info("video size", "width", width, "height", height)
	}

	f := w.frames.Acquire(width, height)
	if err := w.conv.Convert(pic, f); err != nil {
		w.decodeErrors.Add(1)
		w.log.Debug("convert failed", "error", err)
		return
	}
	pts := PresentationTime(pic.BestEffortTimestamp(), w.info)
	f.PTS = pts
	w.frames.Publish(f)

	w.framesDecoded.Add(1)
	w.sinceSeek++
	w.lastPTS.Store(pts)

	w.clock.Sync(pts)
}

func (w *Worker) release() {
	if w.conv != nil {
		w.conv.Close()
		w.conv = nil
	}
	if err := w.session.Close(); err != nil {
		w.log.Warn("close session", "error", err)
	}
}
