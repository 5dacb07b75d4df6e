// Package ingest tracks network byte sources feeding the demuxer, coupling
// each receiver's pipe with its metadata, lifecycle signaling and
// connection statistics.
package ingest

import (
	"io"
	"sort"
	"sync"
	"sync/atomic"
	"time"
)

// InputFormat identifies the container format of an ingested stream.
type InputFormat int

// Supported ingest container formats.
const (
	FormatMPEGTS InputFormat = iota
)

// DemuxerName returns the FFmpeg input format name used to probe the
// stream.
func (f InputFormat) DemuxerName() string {
	switch f {
	case FormatMPEGTS:
		return "mpegts"
	default:
		return ""
	}
}

// IngestStats captures connection-level metrics for an ingest stream,
// exposed via the status API for monitoring source health.
type IngestStats struct {
	Key           string `json:"key"`
	BytesReceived int64  `json:"bytesReceived"`
	ReadCount     int64  `json:"readCount"`
	ConnectedAt   int64  `json:"connectedAt"`
	UptimeMs      int64  `json:"uptimeMs"`
	RemoteAddr    string `json:"remoteAddr"`
}

// Stream represents an active ingest connection. Bytes written to the
// internal pipe by the network receiver are read by the demuxer through
// Input.
type Stream struct {
	Key       string
	StartedAt time.Time
	Format    InputFormat
	input     io.ReadCloser
	pw        io.WriteCloser
	done      chan struct{}

	bytesReceived atomic.Int64
	readCount     atomic.Int64
	remoteAddr    atomic.Value
}

// Input returns the read side of the stream's pipe. Closing it makes the
// receiver's next write fail, which ends the connection.
func (s *Stream) Input() io.ReadCloser { return s.input }

// Done is closed when the stream is unregistered.
func (s *Stream) Done() <-chan struct{} { return s.done }

// RecordRead increments the byte and read counters, called by the
// receiver after each successful socket read.
func (s *Stream) RecordRead(n int) {
	s.bytesReceived.Add(int64(n))
	s.readCount.Add(1)
}

// SetRemoteAddr stores the remote address of the ingest connection for
// diagnostics.
func (s *Stream) SetRemoteAddr(addr string) {
	s.remoteAddr.Store(addr)
}

// IngestStats returns a snapshot of ingest connection metrics.
func (s *Stream) IngestStats() IngestStats {
	addr, _ := s.remoteAddr.Load().(string)
	return IngestStats{
		Key:           s.Key,
		BytesReceived: s.bytesReceived.Load(),
		ReadCount:     s.readCount.Load(),
		ConnectedAt:   s.StartedAt.UnixMilli(),
		UptimeMs:      time.Since(s.StartedAt).Milliseconds(),
		RemoteAddr:    addr,
	}
}

func (s *Stream) close() {
	s.pw.Close()
	close(s.done)
}

// Registry tracks active ingest streams by key. It is the rendezvous
// point between network receivers and the player session reading from
// them.
type Registry struct {
	mu      sync.RWMutex
	streams map[string]*Stream
}

// NewRegistry creates an empty Registry.
func NewRegistry() *Registry {
	return &Registry{
		streams: make(map[string]*Stream),
	}
}

// Register creates a new ingest stream with the given key and format,
// returning the Stream and a Writer that the receiver should write into.
// A stream already registered under key is closed and replaced.
func (r *Registry) Register(key string, format InputFormat) (*Stream, io.Writer) {
	pr, pw := io.Pipe()

	stream := &Stream{
		Key:       key,
		StartedAt: time.Now(),
		Format:    format,
		input:     pr,
		pw:        pw,
		done:      make(chan struct{}),
	}

	r.mu.Lock()
	old := r.streams[key]
	r.streams[key] = stream
	r.mu.Unlock()

	if old != nil {
		old.close()
	}
	return stream, pw
}

// Unregister removes stream, closing its pipe and signaling Done. It is a
// no-op if stream was already replaced or removed.
func (r *Registry) Unregister(stream *Stream) {
	r.mu.Lock()
	cur, ok := r.streams[stream.Key]
	if ok && cur == stream {
		delete(r.streams, stream.Key)
	}
	r.mu.Unlock()

	if ok && cur == stream {
		stream.close()
	}
}

// Get returns the Stream for the given key, or false if not found.
func (r *Registry) Get(key string) (*Stream, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	s, ok := r.streams[key]
	return s, ok
}

// Stats returns a snapshot of every active stream, ordered by key.
func (r *Registry) Stats() []IngestStats {
	r.mu.RLock()
	out := make([]IngestStats, 0, len(r.streams))
	for _, s := range r.streams {
		out = append(out, s.IngestStats())
	}
	r.mu.RUnlock()

	sort.Slice(out, func(i, j int) bool { return out[i].Key < out[j].Key })
	return out
}
