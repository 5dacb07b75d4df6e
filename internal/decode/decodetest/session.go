// Package decodetest provides a synthetic decode.Session for tests of
// packages built on the decode worker.
package decodetest

import (
	"context"
	"errors"
	"sync/atomic"
	"time"

	"github.com/zsiec/vista/internal/decode"
	"github.com/zsiec/vista/internal/media"
)

// Config describes the synthetic stream. Every frame is a keyframe.
type Config struct {
	Frames   int
	Interval time.Duration
	Width    int
	Height   int
}

// Session is a synthetic video stream whose luma plane is filled with the
// frame index.
type Session struct {
	cfg  Config
	info decode.StreamInfo
	next int

	seeks  atomic.Int64
	closed atomic.Bool
}

// NewSession creates a synthetic session with a microsecond timebase.
func NewSession(cfg Config) *Session {
	if cfg.Width <= 0 {
		cfg.Width = 64
	}
	if cfg.Height <= 0 {
		cfg.Height = 32
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 10 * time.Millisecond
	}
	return &Session{
		cfg: cfg,
		info: decode.StreamInfo{
			TimeBase:  decode.Microseconds,
			StartTime: decode.NoTimestamp,
			Codec:     "synthetic",
			Width:     cfg.Width,
			Height:    cfg.Height,
		},
	}
}

// Opener returns an opener that hands out s for any URL.
func (s *Session) Opener() decode.Opener {
	return decode.OpenerFunc(func(context.Context, string) (decode.Session, error) {
		return s, nil
	})
}

// FailingOpener returns an opener that always fails with err.
func FailingOpener(err error) decode.Opener {
	return decode.OpenerFunc(func(context.Context, string) (decode.Session, error) {
		return nil, err
	})
}

// Seeks returns how many seeks were performed.
func (s *Session) Seeks() int64 { return s.seeks.Load() }

// Closed reports whether Close was called.
func (s *Session) Closed() bool { return s.closed.Load() }

// Video implements decode.Session.
func (s *Session) Video() decode.StreamInfo { return s.info }

// Duration implements decode.Session.
func (s *Session) Duration() int64 {
	return int64(s.cfg.Frames) * s.cfg.Interval.Microseconds()
}

type packet int

func (packet) StreamIndex() int { return 0 }
func (packet) Release()         {}

type picture struct {
	w, h int
	ts   int64
	idx  int
}

func (p picture) Width() int                 { return p.w }
func (p picture) Height() int                { return p.h }
func (p picture) BestEffortTimestamp() int64 { return p.ts }

// ReadPacket implements decode.Session.
func (s *Session) ReadPacket() (decode.Packet, error) {
	if s.next >= s.cfg.Frames {
		return nil, decode.ErrEndOfStream
	}
	p := packet(s.next)
	s.next++
	return p, nil
}

// Decode implements decode.Session.
func (s *Session) Decode(pkt decode.Packet) (decode.Picture, error) {
	i := int(pkt.(packet))
	return picture{
		w:   s.cfg.Width,
		h:   s.cfg.Height,
		ts:  int64(i) * s.cfg.Interval.Microseconds(),
		idx: i,
	}, nil
}

// Drain implements decode.Session. The synthetic decoder holds nothing back.
func (s *Session) Drain() (decode.Picture, error) { return nil, nil }

// Seek implements decode.Session.
func (s *Session) Seek(target int64) error {
	if target < 0 {
		return errors.New("decodetest: negative seek")
	}
	idx := int(target / s.cfg.Interval.Microseconds())
	if idx > s.cfg.Frames {
		idx = s.cfg.Frames
	}
	s.next = idx
	s.seeks.Add(1)
	return nil
}

type converter struct{}

func (converter) Convert(src decode.Picture, dst *media.Frame) error {
	p := src.(picture)
	for i := range dst.Y {
		dst.Y[i] = byte(p.idx)
	}
	for i := range dst.U {
		dst.U[i] = 128
		dst.V[i] = 128
	}
	return nil
}

func (converter) Close() {}

// NewConverter implements decode.Session.
func (s *Session) NewConverter(int, int) (decode.Converter, error) {
	return converter{}, nil
}

// Close implements decode.Session.
func (s *Session) Close() error {
	s.closed.Store(true)
	return nil
}
