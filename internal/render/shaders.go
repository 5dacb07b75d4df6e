package render

// The vertex stage warps the model-space position stereographically
// before the view and projection. The fragment stage converts full-range
// BT.601 YUV from three single-channel textures.
const vertexShader = `#version 410 core
uniform mat4 u_model;
uniform mat4 u_view;
uniform mat4 u_proj;
uniform mat4 u_tex;
layout(location = 0) in vec4 a_position;
layout(location = 1) in vec4 a_texcoord;
smooth out vec2 v_texcoord;

vec4 stereo(vec4 v) {
	float len = length(v.xyz);
	return vec4(v.x / (len - v.z), v.y / (len - v.z), 0.0, v.w);
}

void main() {
	v_texcoord = (u_tex * a_texcoord).xy;
	gl_Position = u_proj * u_view * stereo(u_model * a_position);
}
` + "\x00"

const fragmentShader = `#version 410 core
uniform sampler2D tex_y;
uniform sampler2D tex_u;
uniform sampler2D tex_v;
smooth in vec2 v_texcoord;
out vec4 color;

void main() {
	vec3 yuv;
	yuv.x = texture(tex_y, v_texcoord).r;
	yuv.y = texture(tex_u, v_texcoord).r - 0.5;
	yuv.z = texture(tex_v, v_texcoord).r - 0.5;
	vec3 rgb = mat3(1.0, 1.0, 1.0, 0.0, -0.34413, 1.772, 1.402, -0.71414, 0.0) * yuv;
	color = vec4(rgb, 1.0);
}
` + "\x00"

const (
	positionLocation = 0
	texcoordLocation = 1
)
