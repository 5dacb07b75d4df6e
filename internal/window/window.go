// Package window owns the SDL2 window, its OpenGL 4.1 core context and the
// UI event loop. Everything here must run on the main OS thread.
package window

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/veandco/go-sdl2/sdl"

	"github.com/zsiec/vista/internal/control"
	"github.com/zsiec/vista/internal/media"
)

// Options configures the window.
type Options struct {
	Title  string
	Width  int
	Height int
	VSync  bool
	Log    *slog.Logger
}

// Window is an open SDL window with a current GL context.
type Window struct {
	log   *slog.Logger
	win   *sdl.Window
	glctx sdl.GLContext
	vsync bool
}

// Open initialises SDL video, creates a resizable window and makes a GL
// 4.1 core context current on the calling thread.
func Open(opts Options) (*Window, error) {
	log := opts.Log
	if log == nil {
		log = slog.Default()
	}
	log = log.With("component", "window")

	if err := sdl.Init(sdl.INIT_VIDEO); err != nil {
		return nil, fmt.Errorf("sdl init: %w", err)
	}
	attrs := []struct {
		attr  sdl.GLattr
		value int
	}{
		{sdl.GL_CONTEXT_MAJOR_VERSION, 4},
		{sdl.GL_CONTEXT_MINOR_VERSION, 1},
		{sdl.GL_CONTEXT_PROFILE_MASK, sdl.GL_CONTEXT_PROFILE_CORE},
		{sdl.GL_CONTEXT_FLAGS, sdl.GL_CONTEXT_FORWARD_COMPATIBLE_FLAG},
		{sdl.GL_DOUBLEBUFFER, 1},
		{sdl.GL_DEPTH_SIZE, 24},
	}
	for _, a := range attrs {
		if err := sdl.GLSetAttribute(a.attr, a.value); err != nil {
			sdl.Quit()
			return nil, fmt.Errorf("gl attribute %d: %w", a.attr, err)
		}
	}

	win, err := sdl.CreateWindow(opts.Title,
		sdl.WINDOWPOS_CENTERED, sdl.WINDOWPOS_CENTERED,
		int32(opts.Width), int32(opts.Height),
		sdl.WINDOW_OPENGL|sdl.WINDOW_RESIZABLE|sdl.WINDOW_SHOWN|sdl.WINDOW_ALLOW_HIGHDPI)
	if err != nil {
		sdl.Quit()
		return nil, fmt.Errorf("create window: %w", err)
	}

	glctx, err := win.GLCreateContext()
	if err != nil {
		win.Destroy()
		sdl.Quit()
		return nil, fmt.Errorf("create gl context: %w", err)
	}
	if err := win.GLMakeCurrent(glctx); err != nil {
		sdl.GLDeleteContext(glctx)
		win.Destroy()
		sdl.Quit()
		return nil, fmt.Errorf("make gl context current: %w", err)
	}

	interval := 0
	if opts.VSync {
		interval = 1
	}
	if err := sdl.GLSetSwapInterval(interval); err != nil {
		log.Warn("swap interval not supported", "vsync", opts.VSync, "error", err)
	}

	return &Window{log: log, win: win, glctx: glctx, vsync: opts.VSync}, nil
}

// DrawableSize returns the size of the GL drawable in pixels, which
// differs from the window size on high-DPI displays.
func (w *Window) DrawableSize() (int, int) {
	width, height := w.win.GLGetDrawableSize()
	return int(width), int(height)
}

// Close deletes the GL context and the window and shuts SDL down. Render
// resources must be released before.
func (w *Window) Close() {
	sdl.GLDeleteContext(w.glctx)
	if err := w.win.Destroy(); err != nil {
		w.log.Warn("destroy window", "error", err)
	}
	sdl.Quit()
}

// Renderer draws frames and takes view commands.
type Renderer interface {
	control.View
	Render(f *media.Frame)
	SetViewport(width, height int)
}

// Source is the playback session drawn by the loop.
type Source interface {
	control.Playback
	Frame() *media.Frame
	Done() <-chan struct{}
}

// Loop wires the event loop to the renderer, the session and the remote
// command queue.
type Loop struct {
	Renderer Renderer
	Source   Source
	Queue    *control.Queue // optional
	SeekStep time.Duration
}

// Run processes events and draws until Esc, a window close, ctx
// cancellation or the end of the session.
func (w *Window) Run(ctx context.Context, l Loop) error {
	if l.Renderer == nil || l.Source == nil {
		return errors.New("window: renderer and source are required")
	}
	if l.SeekStep <= 0 {
		l.SeekStep = 10 * time.Second
	}
	l.Renderer.SetViewport(w.DrawableSize())

	for {
		select {
		case <-ctx.Done():
			return nil
		case <-l.Source.Done():
			w.log.Info("session ended")
			return nil
		default:
		}

		if w.pollEvents(l) {
			return nil
		}
		if l.Queue != nil {
			quit := false
			l.Queue.Drain(func(cmd control.Command) bool {
				quit = control.Dispatch(cmd, l.Renderer, l.Source)
				return !quit
			})
			if quit {
				return nil
			}
		}

		l.Renderer.Render(l.Source.Frame())
		w.win.GLSwap()
		if !w.vsync {
			sdl.Delay(1)
		}
	}
}

// pollEvents drains the SDL queue and reports whether to quit.
func (w *Window) pollEvents(l Loop) bool {
	for event := sdl.PollEvent(); event != nil; event = sdl.PollEvent() {
		switch e := event.(type) {
		case *sdl.QuitEvent:
			return true
		case *sdl.KeyboardEvent:
			if e.Type != sdl.KEYDOWN {
				continue
			}
			for _, cmd := range KeyCommands(e.Keysym.Sym, l.SeekStep) {
				w.log.Debug("key command", "op", cmd.Op.String())
				if control.Dispatch(cmd, l.Renderer, l.Source) {
					return true
				}
			}
		case *sdl.WindowEvent:
			if e.Event == sdl.WINDOWEVENT_SIZE_CHANGED {
				width, height := w.DrawableSize()
				w.log.Debug("resized", "width", width, "height", height)
				l.Renderer.SetViewport(width, height)
			}
		}
	}
	return false
}
