// Package projection holds the view state of the panoramic surface: the
// model, view, projection and texture matrices, and the user controls that
// change them. It also carries CPU reference versions of the stereographic
// warp and the YUV to RGB conversion done by the shaders.
package projection

import (
	"math"

	"github.com/go-gl/mathgl/mgl32"
)

// View limits and defaults.
const (
	MinZoom     = 0.1
	MaxZoom     = 3.9
	DefaultZoom = 1

	MinTilt     = -180
	MaxTilt     = 0
	DefaultTilt = -90

	// BaseFOV is the vertical field of view in degrees at zoom 1.
	BaseFOV = 45

	near = 0.1
	far  = 10
)

var (
	xAxis = mgl32.Vec3{1, 0, 0}
	eye   = mgl32.Vec3{0, 0, -1}
	up    = mgl32.Vec3{0, 1, 0}
)

// Transform is the mutable view state. It is owned by the render goroutine
// and is not safe for concurrent use.
type Transform struct {
	Model      mgl32.Mat4
	View       mgl32.Mat4
	Projection mgl32.Mat4
	Texture    mgl32.Mat4

	tilt          float32
	zoom          float32
	width, height int
}

// New creates a Transform in its reset state for a width x height viewport.
func New(width, height int) *Transform {
	t := &Transform{
		View:    mgl32.LookAtV(eye, mgl32.Vec3{}, up),
		Texture: mgl32.Ident4(),
		width:   1,
		height:  1,
	}
	if width > 0 && height > 0 {
		t.width, t.height = width, height
	}
	t.Reset()
	return t
}

// Tilt returns the accumulated rotation about the x axis in degrees.
func (t *Transform) Tilt() float32 { return t.tilt }

// Zoom returns the zoom factor.
func (t *Transform) Zoom() float32 { return t.zoom }

// Viewport returns the viewport size.
func (t *Transform) Viewport() (int, int) { return t.width, t.height }

// FOV returns the vertical field of view in degrees.
func (t *Transform) FOV() float32 { return BaseFOV * t.zoom }

// Rotate rotates the model by degrees about the axis (x, y, z). A rotation
// about exactly the x axis is the tilt: it is clamped so the accumulated
// tilt stays in [MinTilt, MaxTilt], and an overshoot is truncated to the
// bound. A zero axis is ignored.
func (t *Transform) Rotate(x, y, z, degrees float32) {
	axis := mgl32.Vec3{x, y, z}
	if axis.LenSqr() == 0 {
		return
	}

	delta := degrees
	if x == 1 && y == 0 && z == 0 {
		switch next := t.tilt + degrees; {
		case next > MaxTilt:
			delta = MaxTilt - t.tilt
			t.tilt = MaxTilt
		case next < MinTilt:
			delta = MinTilt - t.tilt
			t.tilt = MinTilt
		default:
			t.tilt = next
		}
	}
	if delta == 0 {
		return
	}
	t.Model = t.Model.Mul4(mgl32.HomogRotate3D(mgl32.DegToRad(delta), axis.Normalize()))
}

// ZoomBy changes the zoom factor by -inc, so a positive inc narrows the
// field of view. The factor is clamped to [MinZoom, MaxZoom].
func (t *Transform) ZoomBy(inc float32) {
	t.zoom = mgl32.Clamp(t.zoom-inc, MinZoom, MaxZoom)
	t.updateProjection()
}

// SetViewport records a new viewport size. Non-positive sizes are ignored.
func (t *Transform) SetViewport(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	t.width, t.height = width, height
	t.updateProjection()
}

// Reset restores zoom, tilt and the model matrix. The viewport is kept.
func (t *Transform) Reset() {
	t.zoom = DefaultZoom
	t.tilt = DefaultTilt
	t.Model = mgl32.HomogRotate3D(mgl32.DegToRad(DefaultTilt), xAxis)
	t.updateProjection()
}

// updateProjection rebuilds the orthographic projection whose half-height
// is tan(fov/2).
func (t *Transform) updateProjection() {
	half := float32(math.Tan(float64(mgl32.DegToRad(t.FOV())) / 2))
	aspect := float32(t.width) / float32(t.height)
	t.Projection = mgl32.Ortho(-half*aspect, half*aspect, -half, half, near, far)
}

// Project runs a mesh vertex through the same pipeline as the vertex
// shader: model, stereographic warp, view, projection.
func (t *Transform) Project(v mgl32.Vec3) mgl32.Vec4 {
	p := Stereographic(t.Model.Mul4x1(v.Vec4(1)))
	return t.Projection.Mul4(t.View).Mul4x1(p)
}

// Stereographic projects a point of the sphere around the origin onto the
// plane z = 0 from the pole on the +z axis. The pole itself maps to
// infinity.
func Stereographic(v mgl32.Vec4) mgl32.Vec4 {
	l := v.Vec3().Len()
	d := l - v.Z()
	return mgl32.Vec4{v.X() / d, v.Y() / d, 0, v.W()}
}

// YUVToRGB converts full-range BT.601 samples in [0, 1] to RGB. The result
// is not clamped.
func YUVToRGB(y, u, v float32) mgl32.Vec3 {
	u -= 0.5
	v -= 0.5
	return mgl32.Vec3{
		y + 1.402*v,
		y - 0.34413*u - 0.71414*v,
		y + 1.772*u,
	}
}
