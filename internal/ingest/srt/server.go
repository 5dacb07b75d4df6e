package srt

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"sync/atomic"

	srtgo "github.com/zsiec/srtgo"

	"github.com/zsiec/vista/internal/ingest"
)

// srtReadBufferSize is the read buffer for SRT socket reads.
// 1316 bytes = 7 MPEG-TS packets (188 * 7), the standard SRT payload size.
const srtReadBufferSize = 1316 * 10

// srtLatencyNs is the SRT latency setting in nanoseconds (120ms).
const srtLatencyNs = 120_000_000

// Server accepts incoming SRT publish connections and registers them
// with the ingest registry for demuxing.
type Server struct {
	log       *slog.Logger
	addr      string
	registry  *ingest.Registry
	limit     int64
	onPublish func(*ingest.Stream)

	accepted atomic.Int64
}

// NewServer creates an SRT server that listens on addr and registers
// incoming streams with the given registry. If log is nil, slog.Default() is used.
func NewServer(addr string, registry *ingest.Registry, log *slog.Logger) *Server {
	if log == nil {
		log = slog.Default()
	}
	return &Server{
		log:      log.With("component", "srt-server"),
		addr:     addr,
		registry: registry,
	}
}

// SetLimit caps the number of publishers accepted over the server's
// lifetime. Zero means no cap.
func (s *Server) SetLimit(n int) { s.limit = int64(n) }

// OnPublish sets a callback invoked with each newly registered stream.
func (s *Server) OnPublish(fn func(*ingest.Stream)) { s.onPublish = fn }

// Start begins accepting SRT publish connections. It blocks until the
// context is cancelled.
func (s *Server) Start(ctx context.Context) error {
	cfg := srtgo.DefaultConfig()
	cfg.Latency = srtLatencyNs

	l, err := srtgo.Listen(s.addr, cfg)
	if err != nil {
		return fmt.Errorf("SRT listen on %s: %w", s.addr, err)
	}
	s.log.Info("listening", "addr", s.addr)

	l.SetAcceptRejectFunc(func(req srtgo.ConnRequest) srtgo.RejectReason {
		if req.StreamID == "" {
			return srtgo.RejPeer
		}
		if s.limit > 0 && s.accepted.Load() >= s.limit {
			return srtgo.RejPeer
		}
		return 0
	})

	stop := context.AfterFunc(ctx, func() { l.Close() })
	defer stop()

	for {
		conn, err := l.Accept()
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			s.log.Warn("accept error", "error", err)
			continue
		}
		if s.limit > 0 && s.accepted.Add(1) > s.limit {
			conn.Close()
			continue
		}

		streamKey := extractStreamKey(conn.StreamID())
		s.log.Info("publish", "stream_key", streamKey, "remote", conn.RemoteAddr())

		stream, writer := s.registry.Register(streamKey, ingest.FormatMPEGTS)
		stream.SetRemoteAddr(conn.RemoteAddr().String())
		if s.onPublish != nil {
			s.onPublish(stream)
		}
		go s.handleConnection(ctx, conn, stream, writer)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn *srtgo.Conn, stream *ingest.Stream, writer io.Writer) {
	defer conn.Close()
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()

	copyStream(ctx, s.log, conn, stream, writer)

	stats := stream.IngestStats()
	s.registry.Unregister(stream)
	s.log.Info("connection closed", "stream_key", stream.Key,
		"bytes", stats.BytesReceived, "reads", stats.ReadCount,
		"uptime_ms", stats.UptimeMs)
}

// copyStream moves bytes from conn into the stream pipe until either side
// fails or ctx is cancelled.
func copyStream(ctx context.Context, log *slog.Logger, conn io.Reader, stream *ingest.Stream, writer io.Writer) {
	buf := make([]byte, srtReadBufferSize)
	for {
		if ctx.Err() != nil {
			return
		}
		n, err := conn.Read(buf)
		if err != nil {
			if !errors.Is(err, io.EOF) && ctx.Err() == nil {
				log.Debug("read error", "stream_key", stream.Key, "error", err)
			}
			return
		}
		stream.RecordRead(n)
		if _, err := writer.Write(buf[:n]); err != nil {
			log.Debug("pipe write error", "stream_key", stream.Key, "error", err)
			return
		}
	}
}

func extractStreamKey(streamID string) string {
	streamID = strings.TrimPrefix(streamID, "/")
	streamID = strings.TrimPrefix(streamID, "live/")
	if streamID == "" {
		return "default"
	}
	return streamID
}
