package avsession

import (
	"errors"
	"fmt"

	"github.com/asticode/go-astiav"

	"github.com/zsiec/vista/internal/decode"
	"github.com/zsiec/vista/internal/media"
)

// converter scales native pictures of one size and pixel format into a
// planar 4:2:0 scratch frame, then copies it into media.Frame storage.
type converter struct {
	width, height int
	srcFormat     astiav.PixelFormat
	ssc           *astiav.SoftwareScaleContext
	dst           *astiav.Frame
}

func newConverter(width, height int, format astiav.PixelFormat) (*converter, error) {
	ssc, err := astiav.CreateSoftwareScaleContext(
		width, height, format,
		width, height, astiav.PixelFormatYuv420P,
		astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear),
	)
	if err != nil {
		return nil, fmt.Errorf("create scale context %dx%d %s: %w", width, height, format, err)
	}

	dst := astiav.AllocFrame()
	dst.SetWidth(width)
	dst.SetHeight(height)
	dst.SetPixelFormat(astiav.PixelFormatYuv420P)
	if err := dst.AllocBuffer(1); err != nil {
		dst.Free()
		ssc.Free()
		return nil, fmt.Errorf("alloc scale buffer: %w", err)
	}

	return &converter{
		width:     width,
		height:    height,
		srcFormat: format,
		ssc:       ssc,
		dst:       dst,
	}, nil
}

// Convert implements decode.Converter.
func (c *converter) Convert(src decode.Picture, dst *media.Frame) error {
	p, ok := src.(picture)
	if !ok {
		return fmt.Errorf("avsession: foreign picture %T", src)
	}
	if f := p.f.PixelFormat(); f != c.srcFormat {
		ssc, err := astiav.CreateSoftwareScaleContext(
			c.width, c.height, f,
			c.width, c.height, astiav.PixelFormatYuv420P,
			astiav.NewSoftwareScaleContextFlags(astiav.SoftwareScaleContextFlagBilinear),
		)
		if err != nil {
			return fmt.Errorf("pixel format %s: %w", f, err)
		}
		c.ssc.Free()
		c.ssc, c.srcFormat = ssc, f
	}
	if !dst.Fits(c.width, c.height) {
		return errors.New("avsession: destination size mismatch")
	}
	if err := c.ssc.ScaleFrame(p.f, c.dst); err != nil {
		return fmt.Errorf("scale frame: %w", err)
	}
	n, err := c.dst.ImageCopyToBuffer(dst.Block(), 1)
	if err != nil {
		return fmt.Errorf("copy planes: %w", err)
	}
	if n != len(dst.Block()) {
		return fmt.Errorf("avsession: copied %d bytes, want %d", n, len(dst.Block()))
	}
	return nil
}

// Close implements decode.Converter.
func (c *converter) Close() {
	c.dst.Free()
	c.ssc.Free()
}
