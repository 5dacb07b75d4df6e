// Package control serves the remote control and status API of a playback
// session over HTTP, and optionally HTTP/3. Pause and seek act on the
// session directly; view commands are queued for the render goroutine.
package control

import (
	"context"
	"crypto/tls"
	"encoding/json"
	"errors"
	"io"
	"log/slog"
	"math"
	"net"
	"net/http"
	"time"

	"github.com/gorilla/websocket"
	"github.com/quic-go/quic-go"
	"github.com/quic-go/quic-go/http3"
	"golang.org/x/sync/errgroup"

	"github.com/zsiec/vista/internal/certs"
	"github.com/zsiec/vista/internal/ingest"
	"github.com/zsiec/vista/internal/player"
)

// statsInterval is how often the websocket feed pushes a status.
const statsInterval = 1 * time.Second

const (
	maxBodyBytes = 64 << 10
	writeTimeout = 5 * time.Second
)

// Player is the session the API controls.
type Player interface {
	Playback
	Status() player.Status
}

// IngestLister returns the statistics of active network ingest streams.
type IngestLister func() []ingest.IngestStats

// ServerConfig holds the listen addresses and the objects the API acts on.
type ServerConfig struct {
	Addr   string // plain HTTP; empty disables it
	H3Addr string // HTTP/3; empty disables it, requires Cert
	Cert   *certs.CertInfo

	Player Player
	Queue  *Queue
	Ingest IngestLister
	Log    *slog.Logger

	// StatusInterval overrides the websocket push interval.
	StatusInterval time.Duration
}

// Server is the control API server.
type Server struct {
	config   ServerConfig
	log      *slog.Logger
	interval time.Duration
	upgrader websocket.Upgrader

	h3 *http3.Server
}

// StatusResponse is the body of GET /api/status and of each websocket
// message.
type StatusResponse struct {
	player.Status
	Ingest []ingest.IngestStats `json:"ingest"`
}

type seekRequest struct {
	DeltaUs    *int64 `json:"deltaUs"`
	PositionUs *int64 `json:"positionUs"`
}

type seekResponse struct {
	TargetUs int64 `json:"targetUs"`
}

type rotateRequest struct {
	X       float32 `json:"x"`
	Y       float32 `json:"y"`
	Z       float32 `json:"z"`
	Degrees float32 `json:"degrees"`
}

type zoomRequest struct {
	Delta float32 `json:"delta"`
}

type certHashResponse struct {
	Hash string `json:"hash"`
	Addr string `json:"addr"`
}

// NewServer validates config and creates a Server.
func NewServer(config ServerConfig) (*Server, error) {
	if config.Player == nil {
		return nil, errors.New("control: Player is required")
	}
	if config.Queue == nil {
		return nil, errors.New("control: Queue is required")
	}
	if config.H3Addr != "" && config.Cert == nil {
		return nil, errors.New("control: Cert is required for HTTP/3")
	}
	log := config.Log
	if log == nil {
		log = slog.Default()
	}
	interval := config.StatusInterval
	if interval <= 0 {
		interval = statsInterval
	}
	return &Server{
		config:   config,
		log:      log.With("component", "control"),
		interval: interval,
		upgrader: websocket.Upgrader{CheckOrigin: func(*http.Request) bool { return true }},
	}, nil
}

func (s *Server) registerAPIRoutes(mux *http.ServeMux) {
	mux.HandleFunc("GET /api/status", s.handleStatus)
	mux.HandleFunc("GET /api/status/ws", s.handleStatusFeed)
	mux.HandleFunc("POST /api/pause", s.handlePause)
	mux.HandleFunc("POST /api/seek", s.handleSeek)
	mux.HandleFunc("POST /api/view/rotate", s.handleRotate)
	mux.HandleFunc("POST /api/view/zoom", s.handleZoom)
	mux.HandleFunc("POST /api/view/reset", s.handleReset)
	if s.config.Cert != nil {
		mux.HandleFunc("GET /api/cert-hash", s.handleCertHash)
	}
}

// APIHandler returns the REST API handler.
func (s *Server) APIHandler() http.Handler {
	mux := http.NewServeMux()
	s.registerAPIRoutes(mux)
	return corsMiddleware(mux)
}

func corsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		next.ServeHTTP(w, r)
	})
}

// altSvcMiddleware advertises the HTTP/3 endpoint on plain HTTP responses.
func (s *Server) altSvcMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if s.h3 != nil {
			if err := s.h3.SetQUICHeaders(w.Header()); err != nil {
				s.log.Debug("alt-svc header", "error", err)
			}
		}
		next.ServeHTTP(w, r)
	})
}

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		slog.Error("encoding JSON response", "error", err)
	}
}

func writeError(w http.ResponseWriter, code int, msg string) {
	writeJSON(w, code, map[string]string{"error": msg})
}

func decodeBody(r *http.Request, v any) error {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBodyBytes))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil && !errors.Is(err, io.EOF) {
		return err
	}
	return nil
}

// Start runs the configured listeners and blocks until ctx is cancelled or
// one of them fails.
func (s *Server) Start(ctx context.Context) error {
	g, ctx := errgroup.WithContext(ctx)
	handler := s.APIHandler()

	if s.config.H3Addr != "" {
		s.h3 = &http3.Server{
			Addr:    s.config.H3Addr,
			Handler: handler,
			TLSConfig: &tls.Config{
				Certificates: []tls.Certificate{s.config.Cert.TLSCert},
			},
			QUICConfig: &quic.Config{
				MaxIdleTimeout: 30 * time.Second,
			},
		}
		g.Go(func() error {
			s.log.Info("HTTP/3 control server listening", "addr", s.config.H3Addr)
			stop := context.AfterFunc(ctx, func() { s.h3.Close() })
			defer stop()
			err := s.h3.ListenAndServe()
			if ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	if s.config.Addr != "" {
		ln, err := net.Listen("tcp", s.config.Addr)
		if err != nil {
			return err
		}
		srv := &http.Server{
			Handler:           s.altSvcMiddleware(handler),
			ReadHeaderTimeout: 10 * time.Second,
			BaseContext:       func(net.Listener) context.Context { return ctx },
		}
		g.Go(func() error {
			s.log.Info("control server listening", "addr", ln.Addr().String())
			stop := context.AfterFunc(ctx, func() {
				shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
				defer cancel()
				_ = srv.Shutdown(shutdownCtx)
			})
			defer stop()
			err := srv.Serve(ln)
			if errors.Is(err, http.ErrServerClosed) || ctx.Err() != nil {
				return nil
			}
			return err
		})
	}

	return g.Wait()
}

func (s *Server) status() StatusResponse {
	resp := StatusResponse{Status: s.config.Player.Status(), Ingest: []ingest.IngestStats{}}
	if s.config.Ingest != nil {
		if st := s.config.Ingest(); st != nil {
			resp.Ingest = st
		}
	}
	return resp
}

func (s *Server) handleStatus(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handlePause(w http.ResponseWriter, _ *http.Request) {
	s.config.Player.Pause()
	writeJSON(w, http.StatusOK, s.status())
}

func (s *Server) handleSeek(w http.ResponseWriter, r *http.Request) {
	var req seekRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	var target int64
	switch {
	case req.DeltaUs != nil && req.PositionUs != nil:
		writeError(w, http.StatusBadRequest, "deltaUs and positionUs are exclusive")
		return
	case req.DeltaUs != nil:
		target = s.config.Player.Seek(micros(*req.DeltaUs))
	case req.PositionUs != nil:
		target = s.config.Player.SeekTo(*req.PositionUs)
	default:
		writeError(w, http.StatusBadRequest, "deltaUs or positionUs is required")
		return
	}
	s.log.Debug("seek requested", "targetUs", target, "remote", r.RemoteAddr)
	writeJSON(w, http.StatusOK, seekResponse{TargetUs: target})
}

// micros converts a microsecond count to a Duration, saturating instead of
// overflowing.
func micros(us int64) time.Duration {
	const limit = math.MaxInt64 / int64(time.Microsecond)
	return time.Duration(max(-limit, min(us, limit))) * time.Microsecond
}

func (s *Server) handleRotate(w http.ResponseWriter, r *http.Request) {
	var req rotateRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	if req.X == 0 && req.Y == 0 && req.Z == 0 {
		writeError(w, http.StatusBadRequest, "rotation axis must be non-zero")
		return
	}
	s.enqueue(w, Command{Op: OpRotate, X: req.X, Y: req.Y, Z: req.Z, Degrees: req.Degrees})
}

func (s *Server) handleZoom(w http.ResponseWriter, r *http.Request) {
	var req zoomRequest
	if err := decodeBody(r, &req); err != nil {
		writeError(w, http.StatusBadRequest, "invalid JSON body")
		return
	}
	s.enqueue(w, Command{Op: OpZoom, Delta: req.Delta})
}

func (s *Server) handleReset(w http.ResponseWriter, _ *http.Request) {
	s.enqueue(w, Command{Op: OpReset})
}

func (s *Server) enqueue(w http.ResponseWriter, cmd Command) {
	if !s.config.Queue.Push(cmd) {
		s.log.Warn("command queue full", "op", cmd.Op.String())
		writeError(w, http.StatusServiceUnavailable, "command queue full")
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"queued": cmd.Op.String()})
}

func (s *Server) handleCertHash(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, certHashResponse{
		Hash: s.config.Cert.FingerprintBase64(),
		Addr: s.config.H3Addr,
	})
}

// handleStatusFeed pushes the status every interval until the client goes
// away or the request context ends.
func (s *Server) handleStatusFeed(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.log.Debug("websocket upgrade failed", "error", err)
		return
	}
	defer conn.Close()

	// The read side only drains control frames and notices the close.
	gone := make(chan struct{})
	go func() {
		defer close(gone)
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}()

	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		_ = conn.SetWriteDeadline(time.Now().Add(writeTimeout))
		if err := conn.WriteJSON(s.status()); err != nil {
			s.log.Debug("status feed write failed", "error", err)
			return
		}
		select {
		case <-ticker.C:
		case <-gone:
			return
		case <-r.Context().Done():
			return
		}
	}
}
