package srt

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net"
	"net/url"
	"strings"

	"github.com/zsiec/vista/internal/ingest"
)

// Endpoint is a parsed srt:// URL.
type Endpoint struct {
	Address  string
	StreamID string
	Listener bool
}

// ParseURL parses srt://host:port[?streamid=...&mode=caller|listener].
// Listener mode may omit the host to bind every interface.
func ParseURL(raw string) (Endpoint, error) {
	u, err := url.Parse(raw)
	if err != nil {
		return Endpoint{}, fmt.Errorf("parse SRT URL: %w", err)
	}
	if !strings.EqualFold(u.Scheme, "srt") {
		return Endpoint{}, fmt.Errorf("not an SRT URL: %q", raw)
	}
	host, port, err := net.SplitHostPort(u.Host)
	if err != nil || port == "" {
		return Endpoint{}, fmt.Errorf("SRT URL needs host:port: %q", raw)
	}

	q := u.Query()
	ep := Endpoint{
		Address:  net.JoinHostPort(host, port),
		StreamID: q.Get("streamid"),
	}
	switch mode := strings.ToLower(q.Get("mode")); mode {
	case "", "caller":
	case "listener", "server":
		ep.Listener = true
	default:
		return Endpoint{}, fmt.Errorf("unknown SRT mode %q", mode)
	}
	if !ep.Listener && host == "" {
		return Endpoint{}, fmt.Errorf("SRT caller needs a host: %q", raw)
	}
	return ep, nil
}

// Key is the ingest registry key for the endpoint.
func (e Endpoint) Key() string {
	if e.StreamID != "" {
		return extractStreamKey(e.StreamID)
	}
	return e.Address
}

// Source opens srt:// URLs for the demuxer. Each Open either dials the
// remote listener or waits for a single publisher.
type Source struct {
	log      *slog.Logger
	registry *ingest.Registry
	caller   *Caller
}

// NewSource creates a Source registering its streams in registry. If log
// is nil, slog.Default() is used.
func NewSource(registry *ingest.Registry, log *slog.Logger) *Source {
	if log == nil {
		log = slog.Default()
	}
	return &Source{
		log:      log,
		registry: registry,
		caller:   NewCaller(registry, log),
	}
}

// Match reports whether raw is an srt:// URL.
func (s *Source) Match(raw string) bool {
	return len(raw) > 6 && strings.EqualFold(raw[:6], "srt://")
}

// Open connects the endpoint in raw and returns the stream's reader and
// demuxer name. Streaming stops when ctx is cancelled.
func (s *Source) Open(ctx context.Context, raw string) (io.ReadCloser, string, error) {
	ep, err := ParseURL(raw)
	if err != nil {
		return nil, "", err
	}

	var stream *ingest.Stream
	if ep.Listener {
		stream, err = s.accept(ctx, ep)
	} else {
		stream, err = s.caller.Pull(ctx, PullRequest{
			Address:   ep.Address,
			StreamKey: ep.Key(),
			StreamID:  ep.StreamID,
		})
	}
	if err != nil {
		return nil, "", err
	}
	return stream.Input(), stream.Format.DemuxerName(), nil
}

// accept listens on the endpoint and returns the first publisher's
// stream. The listener stays up until ctx is cancelled but accepts no
// further publishers.
func (s *Source) accept(ctx context.Context, ep Endpoint) (*ingest.Stream, error) {
	srv := NewServer(ep.Address, s.registry, s.log)
	srv.SetLimit(1)

	published := make(chan *ingest.Stream, 1)
	srv.OnPublish(func(st *ingest.Stream) { published <- st })

	failed := make(chan error, 1)
	go func() {
		if err := srv.Start(ctx); err != nil {
			failed <- err
		}
	}()

	s.log.Info("waiting for SRT publisher", "addr", ep.Address)
	select {
	case st := <-published:
		return st, nil
	case err := <-failed:
		return nil, err
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}
