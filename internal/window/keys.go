package window

import (
	"time"

	"github.com/veandco/go-sdl2/sdl"

	"github.com/zsiec/vista/internal/control"
)

// Key binding amounts.
const (
	rotateStep = 10  // degrees
	zoomStep   = 0.1 // zoom factor
)

// KeyCommands returns the commands bound to key, or nil. seekStep is the
// distance of one B/F press.
func KeyCommands(key sdl.Keycode, seekStep time.Duration) []control.Command {
	switch key {
	case sdl.K_SPACE:
		return []control.Command{{Op: control.OpPause}, {Op: control.OpReset}}
	case sdl.K_LEFT:
		return rotate(0, 0, 1, -rotateStep)
	case sdl.K_RIGHT:
		return rotate(0, 0, 1, rotateStep)
	case sdl.K_UP:
		return rotate(1, 0, 0, -rotateStep)
	case sdl.K_DOWN:
		return rotate(1, 0, 0, rotateStep)
	case sdl.K_b:
		return []control.Command{{Op: control.OpSeek, Seek: -seekStep}}
	case sdl.K_f:
		return []control.Command{{Op: control.OpSeek, Seek: seekStep}}
	case sdl.K_i:
		return []control.Command{{Op: control.OpZoom, Delta: zoomStep}}
	case sdl.K_o:
		return []control.Command{{Op: control.OpZoom, Delta: -zoomStep}}
	case sdl.K_ESCAPE:
		return []control.Command{{Op: control.OpQuit}}
	}
	return nil
}

func rotate(x, y, z, degrees float32) []control.Command {
	return []control.Command{{Op: control.OpRotate, X: x, Y: y, Z: z, Degrees: degrees}}
}
