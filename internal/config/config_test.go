package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/zsiec/vista/internal/decode"
)

func TestDefaultIsValid(t *testing.T) {
	t.Parallel()

	c := Default()
	if err := c.Validate(); err != nil {
		t.Fatalf("Validate: %v", err)
	}
	if c.EOSPolicy() != decode.EOSFreeze || c.Step() != 10*time.Millisecond || c.SeekStep() != 10*time.Second {
		t.Errorf("unexpected defaults %+v", c.Playback)
	}
	if c.Control.Addr != "" || c.Control.H3Addr != "" {
		t.Error("control listeners enabled by default")
	}
}

func TestLoadMissingFileUsesDefaults(t *testing.T) {
	t.Parallel()

	for _, path := range []string{"", filepath.Join(t.TempDir(), "absent.yaml")} {
		c, err := Load(path)
		if err != nil {
			t.Fatalf("Load(%q): %v", path, err)
		}
		if *c != *Default() {
			t.Errorf("Load(%q) = %+v", path, c)
		}
	}
}

func TestLoadOverlaysFile(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "vista.yaml")
	data := `
window:
  width: 1920
control:
  addr: ":8080"
playback:
  eos: loop
`
	if err := os.WriteFile(path, []byte(data), 0o644); err != nil {
		t.Fatal(err)
	}
	c, err := Load(path)
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if c.Window.Width != 1920 || c.Window.Height != 720 {
		t.Errorf("window = %+v", c.Window)
	}
	if c.Control.Addr != ":8080" || c.Control.QueueSize != 64 {
		t.Errorf("control = %+v", c.Control)
	}
	if c.EOSPolicy() != decode.EOSLoop {
		t.Errorf("eos = %q", c.Playback.EOS)
	}
}

func TestLoadRejectsBadYAML(t *testing.T) {
	t.Parallel()

	path := filepath.Join(t.TempDir(), "bad.yaml")
	if err := os.WriteFile(path, []byte("window: [1, 2"), 0o644); err != nil {
		t.Fatal(err)
	}
	if _, err := Load(path); err == nil {
		t.Fatal("Load accepted malformed YAML")
	}
}

func TestApplyEnv(t *testing.T) {
	t.Parallel()

	env := map[string]string{
		"VISTA_CONTROL_ADDR": "127.0.0.1:9000",
		"VISTA_EOS":          "loop",
	}
	c := Default()
	c.Control.H3Addr = ":4443"
	c.ApplyEnv(func(k string) string { return env[k] })
	if c.Control.Addr != "127.0.0.1:9000" || c.Control.H3Addr != ":4443" || c.Playback.EOS != "loop" {
		t.Errorf("after env: %+v %+v", c.Control, c.Playback)
	}
}

func TestValidateReportsEveryProblem(t *testing.T) {
	t.Parallel()

	c := Default()
	c.Window.Width = 0
	c.Playback.EOS = "rewind"
	c.Control.QueueSize = -1
	err := c.Validate()
	if err == nil {
		t.Fatal("Validate accepted an invalid config")
	}
	for _, want := range []string{"window size", "rewind", "queue_size"} {
		if !strings.Contains(err.Error(), want) {
			t.Errorf("error %q does not mention %q", err, want)
		}
	}
}

func TestValidateRejectsNonPositivePacing(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name      string
		step, tol int
		want      string
	}{
		{"zero tolerance", 10, 0, "tolerance_ms"},
		{"negative tolerance", 10, -1, "tolerance_ms"},
		{"zero step", 0, 10, "step_ms"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			c := Default()
			c.Playback.StepMs = tt.step
			c.Playback.ToleranceMs = tt.tol
			err := c.Validate()
			if err == nil || !strings.Contains(err.Error(), tt.want) {
				t.Errorf("Validate() = %v, want an error mentioning %s", err, tt.want)
			}
		})
	}
}
