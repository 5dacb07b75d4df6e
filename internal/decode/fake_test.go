package decode

import (
	"errors"
	"sync/atomic"

	"github.com/zsiec/vista/internal/media"
)

// fakeSession is an in-memory video stream with a keyframe on every frame.
// Every video packet is followed by one audio packet on stream 1. With a
// non-zero delay the decoder holds that many pictures back until drained.
type fakeSession struct {
	info     StreamInfo
	frames   int
	interval int64 // ticks between frames
	sizeAt   func(i int) (int, int)
	failAt   map[int]bool
	delay    int

	next       int  // next frame index
	audioDue   bool // an audio packet follows the last video packet
	seeks      int
	converters []*fakeConverter
	read       int
	released   int
	closed     bool
	held       []int
	drains     int

	converted chan convertedFrame
}

type convertedFrame struct {
	ts    int64
	seeks int
}

type fakePacket struct {
	stream int
	index  int
	s      *fakeSession
}

func (p *fakePacket) StreamIndex() int { return p.stream }
func (p *fakePacket) Release()         { p.s.released++ }

type fakePicture struct {
	w, h int
	ts   int64
}

func (p *fakePicture) Width() int                 { return p.w }
func (p *fakePicture) Height() int                { return p.h }
func (p *fakePicture) BestEffortTimestamp() int64 { return p.ts }

type fakeConverter struct {
	s      *fakeSession
	w, h   int
	closed atomic.Bool
}

func (c *fakeConverter) Convert(src Picture, dst *media.Frame) error {
	if src.Width() != c.w || src.Height() != c.h || dst.Width != c.w || dst.Height != c.h {
		return errors.New("size mismatch")
	}
	dst.Y[0] = byte(src.BestEffortTimestamp())
	select {
	case c.s.converted <- convertedFrame{ts: src.BestEffortTimestamp(), seeks: c.s.seeks}:
	default:
	}
	return nil
}

func (c *fakeConverter) Close() { c.closed.Store(true) }

func newFakeSession(frames int, interval int64, start int64) *fakeSession {
	return &fakeSession{
		info: StreamInfo{
			Index:     0,
			TimeBase:  Rational{Num: 1, Den: 1000},
			StartTime: start,
			Codec:     "fake",
			Width:     64,
			Height:    32,
		},
		frames:    frames,
		interval:  interval,
		sizeAt:    func(int) (int, int) { return 64, 32 },
		converted: make(chan convertedFrame, 4096),
	}
}

func (s *fakeSession) Video() StreamInfo { return s.info }

func (s *fakeSession) Duration() int64 {
	return s.info.TimeBase.ToMicros(int64(s.frames) * s.interval)
}

func (s *fakeSession) ReadPacket() (Packet, error) {
	if s.audioDue {
		s.audioDue = false
		s.read++
		return &fakePacket{stream: 1, index: -1, s: s}, nil
	}
	if s.next >= s.frames {
		return nil, ErrEndOfStream
	}
	p := &fakePacket{stream: 0, index: s.next, s: s}
	s.next++
	s.audioDue = true
	s.read++
	return p, nil
}

func (s *fakeSession) Decode(pkt Packet) (Picture, error) {
	p := pkt.(*fakePacket)
	if s.failAt[p.index] {
		return nil, errors.New("corrupt packet")
	}
	s.held = append(s.held, p.index)
	if len(s.held) <= s.delay {
		return nil, nil
	}
	idx := s.held[0]
	s.held = s.held[1:]
	return s.picture(idx), nil
}

func (s *fakeSession) Drain() (Picture, error) {
	if len(s.held) == 0 {
		s.drains++
		return nil, nil
	}
	idx := s.held[0]
	s.held = s.held[1:]
	return s.picture(idx), nil
}

func (s *fakeSession) picture(idx int) *fakePicture {
	w, h := s.sizeAt(idx)
	ts := int64(idx) * s.interval
	if s.info.StartTime != NoTimestamp {
		ts += s.info.StartTime
	}
	return &fakePicture{w: w, h: h, ts: ts}
}

func (s *fakeSession) Seek(target int64) error {
	if s.info.StartTime != NoTimestamp {
		target -= s.info.StartTime
	}
	if target < 0 {
		return errors.New("seek before start")
	}
	idx := int(target / s.interval)
	if idx > s.frames {
		idx = s.frames
	}
	s.next = idx
	s.held = nil
	s.audioDue = false
	s.seeks++
	return nil
}

func (s *fakeSession) NewConverter(w, h int) (Converter, error) {
	c := &fakeConverter{s: s, w: w, h: h}
	s.converters = append(s.converters, c)
	return c, nil
}

func (s *fakeSession) Close() error {
	s.closed = true
	return nil
}
