// Package decode runs the decode worker: it pulls packets from a demux
// session, decodes the first video stream, converts pictures to planar
// 4:2:0, publishes them to a media.FrameBuffer and paces them with a
// clock.Clock.
package decode

import (
	"context"
	"errors"
	"fmt"

	"github.com/zsiec/vista/internal/media"
)

// Sentinel errors returned by Session implementations.
var (
	// ErrNoPacket means the demuxer has nothing to return right now,
	// either at end of stream or while a slow source stalls. It is never
	// fatal.
	ErrNoPacket = errors.New("decode: no packet available")
	// ErrEndOfStream is the ErrNoPacket returned once the demuxer has hit
	// the end of the source, as opposed to a stall.
	ErrEndOfStream = fmt.Errorf("%w: end of stream", ErrNoPacket)
	// ErrNoVideoStream means the source has no video stream to play.
	ErrNoVideoStream = errors.New("decode: no video stream")
)

// NoTimestamp marks an undefined picture timestamp.
const NoTimestamp int64 = -1 << 63

// Packet is one demuxed packet. The worker calls Release once it is done
// with it.
type Packet interface {
	StreamIndex() int
	Release()
}

// Picture is a decoded picture still in the decoder's native pixel
// format. It is only valid until the next Decode call.
type Picture interface {
	Width() int
	Height() int
	// BestEffortTimestamp is in stream timebase units, or NoTimestamp.
	BestEffortTimestamp() int64
}

// Converter converts native pictures of one fixed size into planar 4:2:0.
type Converter interface {
	Convert(src Picture, dst *media.Frame) error
	Close()
}

// StreamInfo describes the tracked video stream.
type StreamInfo struct {
	Index     int
	TimeBase  Rational
	StartTime int64 // stream timebase units, or NoTimestamp
	Codec     string
	Width     int
	Height    int
}

// Session is an open demux/decode session over one source.
type Session interface {
	// Video returns the first video stream, the only one decoded.
	Video() StreamInfo
	// Duration is the total source duration in microseconds, 0 if unknown.
	Duration() int64
	// ReadPacket returns the next packet, ErrEndOfStream or ErrNoPacket.
	ReadPacket() (Packet, error)
	// Decode feeds a video packet. It returns (nil, nil) when the decoder
	// has not completed a picture yet.
	Decode(pkt Packet) (Picture, error)
	// Drain returns the pictures the decoder still holds back, one per
	// call, and (nil, nil) once there are none left. Afterwards the decoder
	// accepts packets again.
	Drain() (Picture, error)
	// Seek moves to target, in video stream timebase units, landing on a
	// keyframe at or before it, and flushes the decoder.
	Seek(target int64) error
	// NewConverter prepares conversion of width x height pictures.
	NewConverter(width, height int) (Converter, error)
	// Close releases the session. It tolerates partially opened state.
	Close() error
}

// Opener opens sessions. Blocking I/O of the session, including the open
// itself, gives up once ctx is cancelled.
type Opener interface {
	Open(ctx context.Context, url string) (Session, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, url string) (Session, error)

// Open calls f.
func (f OpenerFunc) Open(ctx context.Context, url string) (Session, error) {
	return f(ctx, url)
}
