package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"runtime"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/zsiec/vista/internal/avsession"
	"github.com/zsiec/vista/internal/certs"
	"github.com/zsiec/vista/internal/config"
	"github.com/zsiec/vista/internal/control"
	"github.com/zsiec/vista/internal/ingest"
	srtingest "github.com/zsiec/vista/internal/ingest/srt"
	"github.com/zsiec/vista/internal/mesh"
	"github.com/zsiec/vista/internal/player"
	"github.com/zsiec/vista/internal/projection"
	"github.com/zsiec/vista/internal/render"
	"github.com/zsiec/vista/internal/window"
)

var version = "dev"

// SDL and GL calls must stay on the main OS thread.
func init() { runtime.LockOSThread() }

type flags struct {
	config      string
	controlAddr string
	h3Addr      string
	eos         string
	width       int
	height      int
}

func main() {
	level := slog.LevelInfo
	if os.Getenv("DEBUG") != "" {
		level = slog.LevelDebug
	}
	slog.SetDefault(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: level})))

	var f flags
	flag.StringVar(&f.config, "config", "", "path to a YAML config file")
	flag.StringVar(&f.controlAddr, "control-addr", "", "control API listen address (empty disables)")
	flag.StringVar(&f.h3Addr, "h3-addr", "", "HTTP/3 control API listen address (empty disables)")
	flag.StringVar(&f.eos, "eos", "", "end-of-stream policy: freeze | loop")
	flag.IntVar(&f.width, "width", 0, "initial window width")
	flag.IntVar(&f.height, "height", 0, "initial window height")
	flag.Usage = func() {
		fmt.Fprintf(flag.CommandLine.Output(), "usage: %s [flags] <cylinder|sphere> <precision> <image-or-video-url>\n", os.Args[0])
		flag.PrintDefaults()
	}
	flag.Parse()

	if flag.NArg() != 3 {
		flag.Usage()
		os.Exit(1)
	}
	if err := run(f, flag.Arg(0), flag.Arg(1), flag.Arg(2)); err != nil {
		slog.Error("vista failed", "error", err)
		os.Exit(1)
	}
}

func loadConfig(f flags) (*config.Config, error) {
	cfg, err := config.Load(f.config)
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}
	cfg.ApplyEnv(os.Getenv)
	if f.controlAddr != "" {
		cfg.Control.Addr = f.controlAddr
	}
	if f.h3Addr != "" {
		cfg.Control.H3Addr = f.h3Addr
	}
	if f.eos != "" {
		cfg.Playback.EOS = f.eos
	}
	if f.width > 0 {
		cfg.Window.Width = f.width
	}
	if f.height > 0 {
		cfg.Window.Height = f.height
	}
	if err := cfg.Validate(); err != nil {
		return nil, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func run(f flags, kindArg, precisionArg, url string) error {
	cfg, err := loadConfig(f)
	if err != nil {
		return err
	}

	kind, err := mesh.ParseKind(kindArg)
	if err != nil {
		return err
	}
	precision, err := strconv.Atoi(precisionArg)
	if err != nil {
		return fmt.Errorf("precision %q: %w", precisionArg, err)
	}
	m, err := mesh.New(kind, precision)
	if err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	ctx, stop := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	slog.Info("vista starting",
		"version", version,
		"mesh", kind.String(),
		"precision", precision,
		"url", url,
		"eos", cfg.Playback.EOS,
	)

	registry := ingest.NewRegistry()
	opener := &avsession.Opener{
		Log:     slog.Default(),
		Sources: []avsession.Source{srtingest.NewSource(registry, nil)},
	}

	p, err := player.New(ctx, url, player.Options{
		Opener:    opener,
		EOS:       cfg.EOSPolicy(),
		Step:      cfg.Step(),
		Tolerance: cfg.Tolerance(),
	})
	if err != nil {
		return err
	}
	defer p.Destroy()

	win, err := window.Open(window.Options{
		Title:  cfg.Window.Title + " - " + p.URL(),
		Width:  cfg.Window.Width,
		Height: cfg.Window.Height,
		VSync:  cfg.Window.VSync,
	})
	if err != nil {
		return err
	}
	defer win.Close()

	glVersion, err := render.Init()
	if err != nil {
		return err
	}
	slog.Info("opengl ready", "version", glVersion)

	engine, err := render.New(m, projection.New(win.DrawableSize()), nil)
	if err != nil {
		return err
	}
	defer engine.Destroy()

	queue := control.NewQueue(cfg.Control.QueueSize)
	g, gctx := errgroup.WithContext(ctx)

	if cfg.Control.Addr != "" || cfg.Control.H3Addr != "" {
		var cert *certs.CertInfo
		if cfg.Control.H3Addr != "" {
			cert, err = certs.Generate(certs.MaxValidity)
			if err != nil {
				return err
			}
			slog.Info("certificate generated", "fingerprint", cert.FingerprintBase64())
		}
		srv, err := control.NewServer(control.ServerConfig{
			Addr:           cfg.Control.Addr,
			H3Addr:         cfg.Control.H3Addr,
			Cert:           cert,
			Player:         p,
			Queue:          queue,
			Ingest:         registry.Stats,
			StatusInterval: cfg.StatusInterval(),
		})
		if err != nil {
			return err
		}
		g.Go(func() error {
			if err := srv.Start(gctx); err != nil {
				return fmt.Errorf("control server: %w", err)
			}
			return nil
		})
	}

	loopErr := win.Run(gctx, window.Loop{
		Renderer: engine,
		Source:   p,
		Queue:    queue,
		SeekStep: cfg.SeekStep(),
	})
	cancel()

	if err := g.Wait(); err != nil && !errors.Is(err, context.Canceled) {
		return err
	}
	if loopErr != nil {
		return loopErr
	}
	slog.Info("vista stopped", "session", p.ID(), "status", p.Status().State)
	return nil
}
