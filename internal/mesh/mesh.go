// Package mesh generates the static panorama surfaces: a unit sphere and a
// unit cylinder around the z axis, textured with an equirectangular or
// cylindrical image whose first row is the top (+z) edge.
package mesh

import (
	"fmt"
	"math"
	"strings"
)

// Kind selects the surface.
type Kind int

const (
	Sphere Kind = iota
	Cylinder
)

func (k Kind) String() string {
	switch k {
	case Sphere:
		return "sphere"
	case Cylinder:
		return "cylinder"
	default:
		return "unknown"
	}
}

// ParseKind parses "sphere" or "cylinder".
func ParseKind(s string) (Kind, error) {
	switch strings.ToLower(s) {
	case "sphere":
		return Sphere, nil
	case "cylinder":
		return Cylinder, nil
	default:
		return 0, fmt.Errorf("unknown mesh kind %q (want sphere or cylinder)", s)
	}
}

// Precision limits. Precision is the number of rings from top to bottom;
// there are twice as many segments around the axis.
const (
	MinPrecision = 2
	MaxPrecision = 1024
)

// Mesh is immutable indexed triangle geometry. Triangles wind
// counter-clockwise seen from outside the surface.
type Mesh struct {
	Kind      Kind
	Vertices  []float32 // x, y, z
	TexCoords []float32 // u, v
	Indices   []uint32
}

// VertexCount returns the number of vertices.
func (m *Mesh) VertexCount() int { return len(m.Vertices) / 3 }

// New builds a mesh of the given kind and precision.
func New(kind Kind, precision int) (*Mesh, error) {
	if precision < MinPrecision || precision > MaxPrecision {
		return nil, fmt.Errorf("precision %d out of range [%d, %d]", precision, MinPrecision, MaxPrecision)
	}

	var pos func(ring, seg, rings, segs int) (x, y, z float32)
	switch kind {
	case Sphere:
		pos = spherePoint
	case Cylinder:
		pos = cylinderPoint
	default:
		return nil, fmt.Errorf("unknown mesh kind %d", kind)
	}

	rings, segs := precision, 2*precision
	cols := segs + 1
	m := &Mesh{
		Kind:      kind,
		Vertices:  make([]float32, 0, (rings+1)*cols*3),
		TexCoords: make([]float32, 0, (rings+1)*cols*2),
		Indices:   make([]uint32, 0, rings*segs*6),
	}

	for i := 0; i <= rings; i++ {
		for j := 0; j <= segs; j++ {
			x, y, z := pos(i, j, rings, segs)
			m.Vertices = append(m.Vertices, x, y, z)
			m.TexCoords = append(m.TexCoords, float32(j)/float32(segs), float32(i)/float32(rings))
		}
	}

	// a-d is the upper edge of a cell, b-c the lower one. Cells touching
	// a sphere pole have one collapsed edge and yield a single triangle.
	for i := 0; i < rings; i++ {
		for j := 0; j < segs; j++ {
			a := uint32(i*cols + j)
			b := a + uint32(cols)
			c, d := b+1, a+1
			if kind != Sphere || i != rings-1 {
				m.Indices = append(m.Indices, a, b, c)
			}
			if kind != Sphere || i != 0 {
				m.Indices = append(m.Indices, a, c, d)
			}
		}
	}
	return m, nil
}

func spherePoint(ring, seg, rings, segs int) (float32, float32, float32) {
	phi := math.Pi * float64(ring) / float64(rings)
	theta := 2 * math.Pi * float64(seg) / float64(segs)
	sp, cp := math.Sincos(phi)
	st, ct := math.Sincos(theta)
	return float32(sp * ct), float32(sp * st), float32(cp)
}

func cylinderPoint(ring, seg, rings, segs int) (float32, float32, float32) {
	theta := 2 * math.Pi * float64(seg) / float64(segs)
	st, ct := math.Sincos(theta)
	z := 1 - 2*float64(ring)/float64(rings)
	return float32(ct), float32(st), float32(z)
}
