// Package render draws decoded frames onto the panorama mesh with OpenGL
// 4.1 core. Every method must be called on the goroutine that owns the GL
// context.
package render

import (
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"unsafe"

	"github.com/go-gl/gl/v4.1-core/gl"
	"github.com/zsiec/vista/internal/media"
	"github.com/zsiec/vista/internal/mesh"
	"github.com/zsiec/vista/internal/projection"
)

// ErrShaderBuild is returned by New when a shader fails to compile or the
// program fails to link.
var ErrShaderBuild = errors.New("shader build failed")

const (
	planeY = iota
	planeU
	planeV
	planeCount
)

var samplerNames = [planeCount]string{"tex_y", "tex_u", "tex_v"}

// Engine owns the GL objects for one mesh.
type Engine struct {
	log  *slog.Logger
	view *projection.Transform

	program  uint32
	vao      uint32
	vbo      uint32
	tbo      uint32
	ebo      uint32
	textures [planeCount]uint32
	sizes    [planeCount][2]int32

	uModel, uView, uProj, uTex int32
	indexCount               int32
}

// Init loads the GL function pointers for the current context and returns
// the driver's version string.
func Init() (string, error) {
	if err := gl.Init(); err != nil {
		return "", fmt.Errorf("load gl: %w", err)
	}
	return gl.GoStr(gl.GetString(gl.VERSION)), nil
}

// New builds the shader program and uploads the mesh. The transform is
// shared with the caller, who changes it through the Engine's controls.
func New(m *mesh.Mesh, view *projection.Transform, log *slog.Logger) (*Engine, error) {
	if m == nil || view == nil {
		return nil, errors.New("render: mesh and transform are required")
	}
	if log == nil {
		log = slog.Default()
	}
	e := &Engine{
		log:        log.With("component", "render"),
		view:       view,
		indexCount: int32(len(m.Indices)),
	}

	gl.Enable(gl.DEPTH_TEST)
	gl.Enable(gl.CULL_FACE)
	gl.FrontFace(gl.CCW)
	gl.CullFace(gl.BACK)
	gl.PixelStorei(gl.UNPACK_ALIGNMENT, 1)

	program, err := buildProgram(vertexShader, fragmentShader)
	if err != nil {
		return nil, err
	}
	e.program = program
	gl.UseProgram(program)

	e.uModel = uniform(program, "u_model")
	e.uView = uniform(program, "u_view")
	e.uProj = uniform(program, "u_proj")
	e.uTex = uniform(program, "u_tex")
	for i, name := range samplerNames {
		gl.Uniform1i(uniform(program, name), int32(i))
	}

	gl.GenVertexArrays(1, &e.vao)
	gl.BindVertexArray(e.vao)

	e.vbo = arrayBuffer(m.Vertices, positionLocation, 3)
	e.tbo = arrayBuffer(m.TexCoords, texcoordLocation, 2)

	gl.GenBuffers(1, &e.ebo)
	gl.BindBuffer(gl.ELEMENT_ARRAY_BUFFER, e.ebo)
	if len(m.Indices) > 0 {
		gl.BufferData(gl.ELEMENT_ARRAY_BUFFER, len(m.Indices)*4, gl.Ptr(m.Indices), gl.STATIC_DRAW)
	}

	gl.GenTextures(planeCount, &e.textures[0])
	for _, tex := range e.textures {
		gl.BindTexture(gl.TEXTURE_2D, tex)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MIN_FILTER, gl.LINEAR)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_MAG_FILTER, gl.LINEAR)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_S, gl.CLAMP_TO_EDGE)
		gl.TexParameteri(gl.TEXTURE_2D, gl.TEXTURE_WRAP_T, gl.CLAMP_TO_EDGE)
	}

	gl.ClearColor(1, 1, 1, 1)
	e.checkErrors("init")

	e.log.Info("render engine ready",
		"mesh", m.Kind.String(),
		"vertices", m.VertexCount(),
		"triangles", len(m.Indices)/3,
	)
	return e, nil
}

// Rotate rotates the view about the axis (x, y, z).
func (e *Engine) Rotate(x, y, z, degrees float32) { e.view.Rotate(x, y, z, degrees) }

// Zoom changes the zoom factor by -inc.
func (e *Engine) Zoom(inc float32) { e.view.ZoomBy(inc) }

// Reset restores the initial view.
func (e *Engine) Reset() { e.view.Reset() }

// SetViewport resizes the GL viewport and the projection.
func (e *Engine) SetViewport(width, height int) {
	if width <= 0 || height <= 0 {
		return
	}
	gl.Viewport(0, 0, int32(width), int32(height))
	e.view.SetViewport(width, height)
}

// Render clears the target and draws the mesh. When f is non-nil its planes
// replace the textures first; with a nil frame the last upload is reused.
func (e *Engine) Render(f *media.Frame) {
	gl.Clear(gl.COLOR_BUFFER_BIT | gl.DEPTH_BUFFER_BIT)
	gl.UseProgram(e.program)

	if f != nil && f.Width > 0 && f.Height > 0 {
		cw, ch := f.ChromaWidth(), f.ChromaHeight()
		e.upload(planeY, f.Y, f.Width, f.Height)
		e.upload(planeU, f.U, cw, ch)
		e.upload(planeV, f.V, cw, ch)
	}
	for i, tex := range e.textures {
		gl.ActiveTexture(gl.TEXTURE0 + uint32(i))
		gl.BindTexture(gl.TEXTURE_2D, tex)
	}

	gl.UniformMatrix4fv(e.uModel, 1, false, &e.view.Model[0])
	gl.UniformMatrix4fv(e.uView, 1, false, &e.view.View[0])
	gl.UniformMatrix4fv(e.uProj, 1, false, &e.view.Projection[0])
	gl.UniformMatrix4fv(e.uTex, 1, false, &e.view.Texture[0])

	gl.BindVertexArray(e.vao)
	gl.DrawElementsWithOffset(gl.TRIANGLES, e.indexCount, gl.UNSIGNED_INT, 0)
	e.checkErrors("render")
}

// upload replaces one plane texture. Storage is reallocated only when the
// plane size changes.
func (e *Engine) upload(plane int, pix []byte, width, height int) {
	if len(pix) < width*height {
		e.log.Warn("short plane", "plane", plane, "len", len(pix), "width", width, "height", height)
		return
	}
	w, h := int32(width), int32(height)
	gl.ActiveTexture(gl.TEXTURE0 + uint32(plane))
	gl.BindTexture(gl.TEXTURE_2D, e.textures[plane])
	ptr := unsafe.Pointer(&pix[0])
	if e.sizes[plane] == [2]int32{w, h} {
		gl.TexSubImage2D(gl.TEXTURE_2D, 0, 0, 0, w, h, gl.RED, gl.UNSIGNED_BYTE, ptr)
		return
	}
	gl.TexImage2D(gl.TEXTURE_2D, 0, gl.R8, w, h, 0, gl.RED, gl.UNSIGNED_BYTE, ptr)
	e.sizes[plane] = [2]int32{w, h}
}

// Destroy releases every GL object. The engine must not be used afterwards.
func (e *Engine) Destroy() {
	if e.program == 0 {
		return
	}
	gl.DeleteTextures(planeCount, &e.textures[0])
	gl.DeleteBuffers(1, &e.tbo)
	gl.DeleteBuffers(1, &e.vbo)
	gl.DeleteBuffers(1, &e.ebo)
	gl.DeleteVertexArrays(1, &e.vao)
	gl.DeleteProgram(e.program)
	e.checkErrors("destroy")
	*e = Engine{log: e.log, view: e.view}
}

func (e *Engine) checkErrors(stage string) {
	for code := gl.GetError(); code != gl.NO_ERROR; code = gl.GetError() {
		e.log.Error("gl error", "stage", stage, "code", errorName(code))
	}
}

func errorName(code uint32) string {
	switch code {
	case gl.INVALID_ENUM:
		return "GL_INVALID_ENUM"
	case gl.INVALID_VALUE:
		return "GL_INVALID_VALUE"
	case gl.INVALID_OPERATION:
		return "GL_INVALID_OPERATION"
	case gl.INVALID_FRAMEBUFFER_OPERATION:
		return "GL_INVALID_FRAMEBUFFER_OPERATION"
	case gl.OUT_OF_MEMORY:
		return "GL_OUT_OF_MEMORY"
	default:
		return fmt.Sprintf("0x%04x", code)
	}
}

func arrayBuffer(data []float32, location uint32, size int32) uint32 {
	var buf uint32
	gl.GenBuffers(1, &buf)
	gl.BindBuffer(gl.ARRAY_BUFFER, buf)
	if len(data) > 0 {
		gl.BufferData(gl.ARRAY_BUFFER, len(data)*4, gl.Ptr(data), gl.STATIC_DRAW)
	}
	gl.VertexAttribPointerWithOffset(location, size, gl.FLOAT, false, 0, 0)
	gl.EnableVertexAttribArray(location)
	return buf
}

func uniform(program uint32, name string) int32 {
	return gl.GetUniformLocation(program, gl.Str(name+"\x00"))
}

func buildProgram(vertexSrc, fragmentSrc string) (uint32, error) {
	vs, err := compileShader(vertexSrc, gl.VERTEX_SHADER)
	if err != nil {
		return 0, fmt.Errorf("%w: vertex: %v", ErrShaderBuild, err)
	}
	defer gl.DeleteShader(vs)

	fs, err := compileShader(fragmentSrc, gl.FRAGMENT_SHADER)
	if err != nil {
		return 0, fmt.Errorf("%w: fragment: %v", ErrShaderBuild, err)
	}
	defer gl.DeleteShader(fs)

	program := gl.CreateProgram()
	gl.AttachShader(program, vs)
	gl.AttachShader(program, fs)
	gl.LinkProgram(program)
	gl.DetachShader(program, vs)
	gl.DetachShader(program, fs)

	var status int32
	gl.GetProgramiv(program, gl.LINK_STATUS, &status)
	if status == gl.FALSE {
		var n int32
		gl.GetProgramiv(program, gl.INFO_LOG_LENGTH, &n)
		msg := infoLog(n, func(buf *uint8) { gl.GetProgramInfoLog(program, n, nil, buf) })
		gl.DeleteProgram(program)
		return 0, fmt.Errorf("%w: link: %s", ErrShaderBuild, msg)
	}
	return program, nil
}

func compileShader(src string, kind uint32) (uint32, error) {
	shader := gl.CreateShader(kind)
	csrc, free := gl.Strs(src)
	gl.ShaderSource(shader, 1, csrc, nil)
	free()
	gl.CompileShader(shader)

	var status int32
	gl.GetShaderiv(shader, gl.COMPILE_STATUS, &status)
	if status == gl.FALSE {
		var n int32
		gl.GetShaderiv(shader, gl.INFO_LOG_LENGTH, &n)
		msg := infoLog(n, func(buf *uint8) { gl.GetShaderInfoLog(shader, n, nil, buf) })
		gl.DeleteShader(shader)
		return 0, errors.New(msg)
	}
	return shader, nil
}

// infoLog reads a GL info log of n bytes including the terminator.
func infoLog(n int32, read func(*uint8)) string {
	if n <= 1 {
		return "no info log"
	}
	buf := make([]byte, n)
	read(&buf[0])
	return trimLog(buf)
}

func trimLog(buf []byte) string {
	if i := strings.IndexByte(string(buf), 0); i >= 0 {
		buf = buf[:i]
	}
	return strings.TrimSpace(string(buf))
}
