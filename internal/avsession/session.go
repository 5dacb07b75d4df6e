// Package avsession implements decode.Session on top of FFmpeg through
// go-astiav.
package avsession

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/vista/internal/decode"
)

// ioBufferSize is the custom IO read buffer, a multiple of the 188-byte
// MPEG-TS packet size.
const ioBufferSize = 188 * 64

// Source supplies bytes for URLs FFmpeg cannot open by itself.
type Source interface {
	// Match reports whether the source handles url.
	Match(url string) bool
	// Open returns the byte stream for url and the FFmpeg input format
	// name to probe it with ("" lets FFmpeg guess).
	Open(ctx context.Context, url string) (io.ReadCloser, string, error)
}

// Opener opens FFmpeg sessions. URLs matched by one of Sources are read
// through a custom IO context; everything else goes to FFmpeg directly.
type Opener struct {
	Log     *slog.Logger
	Sources []Source
}

var _ decode.Opener = (*Opener)(nil)

// Open opens url and prepares a decoder for its first video stream.
func (o *Opener) Open(ctx context.Context, url string) (decode.Session, error) {
	log := o.Log
	if log == nil {
		log = slog.Default()
	}
	routeLogs(log)

	s := &Session{log: log.With("component", "avsession")}
	if err := s.open(ctx, url, o.source(url)); err != nil {
		s.Close()
		return nil, err
	}
	return s, nil
}

func (o *Opener) source(url string) Source {
	for _, src := range o.Sources {
		if src.Match(url) {
			return src
		}
	}
	return nil
}

// Session is an open FFmpeg demux/decode session.
type Session struct {
	log *slog.Logger

	fc          *astiav.FormatContext
	opened      bool
	interrupter *astiav.IOInterrupter
	stopAfter   func() bool
	ioc         *astiav.IOContext
	reader      io.ReadCloser

	cc       *astiav.CodecContext
	draining bool
	pkt      *astiav.Packet
	frame    *astiav.Frame
	info     decode.StreamInfo
	dur      int64
	closed   sync.Once
}

func (s *Session) open(ctx context.Context, url string, src Source) error {
	if s.fc = astiav.AllocFormatContext(); s.fc == nil {
		return errors.New("avsession: alloc format context")
	}

	s.interrupter = astiav.NewIOInterrupter()
	s.fc.SetIOInterrupter(s.interrupter)
	s.stopAfter = context.AfterFunc(ctx, s.interrupter.Interrupt)

	var input *astiav.InputFormat
	if src != nil {
		r, format, err := src.Open(ctx, url)
		if err != nil {
			return fmt.Errorf("open source %s: %w", url, err)
		}
		s.reader = r
		if format != "" {
			if input = astiav.FindInputFormat(format); input == nil {
				return fmt.Errorf("avsession: unknown input format %q", format)
			}
		}
		s.ioc, err = astiav.AllocIOContext(ioBufferSize, false, readFunc(r), nil, nil)
		if err != nil {
			return fmt.Errorf("alloc io context: %w", err)
		}
		s.fc.SetPb(s.ioc)
		url = ""
	}

	if err := s.fc.OpenInput(url, input, nil); err != nil {
		return fmt.Errorf("open input %s: %w", displayURL(url, src), err)
	}
	s.opened = true
	if err := s.fc.FindStreamInfo(nil); err != nil {
		return fmt.Errorf("find stream info: %w", err)
	}

	var video *astiav.Stream
	for _, st := range s.fc.Streams() {
		if st.CodecParameters().MediaType() == astiav.MediaTypeVideo {
			video = st
			break
		}
	}
	if video == nil {
		return decode.ErrNoVideoStream
	}

	params := video.CodecParameters()
	codec := astiav.FindDecoder(params.CodecID())
	if codec == nil {
		return fmt.Errorf("avsession: no decoder for codec %s", params.CodecID())
	}
	if s.cc = astiav.AllocCodecContext(codec); s.cc == nil {
		return errors.New("avsession: alloc codec context")
	}
	if err := params.ToCodecContext(s.cc); err != nil {
		return fmt.Errorf("copy codec parameters: %w", err)
	}
	if err := s.cc.Open(codec, nil); err != nil {
		return fmt.Errorf("open decoder %s: %w", codec.Name(), err)
	}

	s.pkt = astiav.AllocPacket()
	s.frame = astiav.AllocFrame()

	tb := video.TimeBase()
	start := video.StartTime()
	if start == astiav.NoPtsValue {
		start = decode.NoTimestamp
	}
	s.info = decode.StreamInfo{
		Index:     video.Index(),
		TimeBase:  decode.Rational{Num: tb.Num(), Den: tb.Den()},
		StartTime: start,
		Codec:     codec.Name(),
		Width:     params.Width(),
		Height:    params.Height(),
	}
	if d := s.fc.Duration(); d > 0 {
		s.dur = d
	}

	s.log.Info("opened",
		"url", displayURL(url, src),
		"codec", s.info.Codec,
		"width", s.info.Width,
		"height", s.info.Height,
		"streams", len(s.fc.Streams()),
		"duration_us", s.dur)
	return nil
}

func displayURL(url string, src Source) string {
	if src != nil && url == "" {
		return "custom-io"
	}
	return url
}

// readFunc adapts r to the FFmpeg custom IO read callback.
func readFunc(r io.Reader) astiav.IOContextReadFunc {
	return func(b []byte) (int, error) {
		n, err := r.Read(b)
		if n > 0 {
			return n, nil
		}
		if err == nil || errors.Is(err, io.EOF) || errors.Is(err, io.ErrClosedPipe) {
			return 0, astiav.ErrEof
		}
		return 0, err
	}
}

// Video implements decode.Session.
func (s *Session) Video() decode.StreamInfo { return s.info }

// Duration implements decode.Session.
func (s *Session) Duration() int64 { return s.dur }

type packet struct {
	p *astiav.Packet
}

func (p packet) StreamIndex() int { return p.p.StreamIndex() }
func (p packet) Release()         { p.p.Unref() }

// ReadPacket implements decode.Session. The returned packet shares the
// session's packet storage and must be released before the next call.
func (s *Session) ReadPacket() (decode.Packet, error) {
	if err := s.fc.ReadFrame(s.pkt); err != nil {
		if errors.Is(err, astiav.ErrEof) {
			return nil, decode.ErrEndOfStream
		}
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrExit) {
			return nil, decode.ErrNoPacket
		}
		return nil, fmt.Errorf("read frame: %w", err)
	}
	return packet{p: s.pkt}, nil
}

type picture struct {
	f *astiav.Frame
}

func (p picture) Width() int  { return p.f.Width() }
func (p picture) Height() int { return p.f.Height() }

// BestEffortTimestamp falls back from the presentation timestamp to the
// packet decode timestamp.
func (p picture) BestEffortTimestamp() int64 {
	if pts := p.f.Pts(); pts != astiav.NoPtsValue {
		return pts
	}
	if dts := p.f.PktDts(); dts != astiav.NoPtsValue {
		return dts
	}
	return decode.NoTimestamp
}

// Decode implements decode.Session.
func (s *Session) Decode(pkt decode.Packet) (decode.Picture, error) {
	p, ok := pkt.(packet)
	if !ok {
		return nil, fmt.Errorf("avsession: foreign packet %T", pkt)
	}
	if s.draining {
		s.resetDecoder()
	}
	if err := s.cc.SendPacket(p.p); err != nil && !errors.Is(err, astiav.ErrEagain) {
		return nil, fmt.Errorf("send packet: %w", err)
	}
	if err := s.cc.ReceiveFrame(s.frame); err != nil {
		if errors.Is(err, astiav.ErrEagain) || errors.Is(err, astiav.ErrEof) {
			return nil, nil
		}
		return nil, fmt.Errorf("receive frame: %w", err)
	}
	return picture{f: s.frame}, nil
}

// Drain implements decode.Session. The first call puts the decoder in
// draining mode; once it reports the end the decoder is flushed so it takes
// packets again.
func (s *Session) Drain() (decode.Picture, error) {
	if !s.draining {
		if err := s.cc.SendPacket(nil); err != nil && !errors.Is(err, astiav.ErrEof) {
			return nil, fmt.Errorf("send flush packet: %w", err)
		}
		s.draining = true
	}
	if err := s.cc.ReceiveFrame(s.frame); err != nil {
		s.resetDecoder()
		if errors.Is(err, astiav.ErrEof) || errors.Is(err, astiav.ErrEagain) {
			return nil, nil
		}
		return nil, fmt.Errorf("drain frame: %w", err)
	}
	return picture{f: s.frame}, nil
}

func (s *Session) resetDecoder() {
	s.cc.FlushBuffers()
	s.draining = false
}

// Seek implements decode.Session. The demuxer lands on the keyframe at or
// before target and the decoder is flushed.
func (s *Session) Seek(target int64) error {
	flags := astiav.NewSeekFlags(astiav.SeekFlagBackward)
	if err := s.fc.SeekFrame(s.info.Index, target, flags); err != nil {
		return fmt.Errorf("seek to %d: %w", target, err)
	}
	s.resetDecoder()
	return nil
}

// NewConverter implements decode.Session. The source pixel format is that
// of the most recently decoded picture.
func (s *Session) NewConverter(width, height int) (decode.Converter, error) {
	return newConverter(width, height, s.frame.PixelFormat())
}

// Close implements decode.Session. It releases everything allocated so far
// in reverse order and may be called on a partially opened session.
func (s *Session) Close() error {
	s.closed.Do(func() {
		if s.stopAfter != nil {
			s.stopAfter()
		}
		if s.frame != nil {
			s.frame.Free()
		}
		if s.pkt != nil {
			s.pkt.Free()
		}
		if s.cc != nil {
			s.cc.Free()
		}
		if s.fc != nil {
			if s.opened {
				s.fc.CloseInput()
			}
			s.fc.Free()
		}
		if s.ioc != nil {
			s.ioc.Free()
		}
		if s.reader != nil {
			s.reader.Close()
		}
		if s.interrupter != nil {
			s.interrupter.Free()
		}
	})
	return nil
}

var logOnce sync.Once

// routeLogs forwards FFmpeg log output to slog once per process.
func routeLogs(log *slog.Logger) {
	logOnce.Do(func() {
		l := log.With("component", "ffmpeg")
		astiav.SetLogLevel(astiav.LogLevelWarning)
		astiav.SetLogCallback(func(_ astiav.Classer, level astiav.LogLevel, _, msg string) {
			msg = strings.TrimSpace(msg)
			if msg == "" {
				return
			}
			switch {
			case level <= astiav.LogLevelError:
				l.Error(msg)
			case level <= astiav.LogLevelWarning:
				l.Warn(msg)
			default:
				l.Debug(msg)
			}
		})
	})
}
