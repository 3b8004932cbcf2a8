package orchestrator

import (
	"testing"

	"aesarchive/internal/config"
	"aesarchive/internal/logging"
	"io"
)

func TestNewWiresLocalCaptureWithoutError(t *testing.T) {
	cfg, err := config.Parse([]string{
		"--archive-root", t.TempDir(),
		"--local-capture",
		"-r", "48000", "-c", "1",
		"--ptp-software",
	})
	if err != nil {
		t.Fatalf("config.Parse: %v", err)
	}

	log := logging.New(io.Discard, "test", logging.Error)
	o, err := New(cfg, log)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	if o.policy == nil || o.w == nil || o.clock == nil {
		t.Fatal("orchestrator missing a required component")
	}
}

func TestSingleFileDir(t *testing.T) {
	cases := map[string]string{
		"/var/audio/out.wav": "/var/audio",
		"out.wav":            ".",
	}
	for in, want := range cases {
		if got := singleFileDir(in); got != want {
			t.Errorf("singleFileDir(%q) = %q, want %q", in, got, want)
		}
	}
}
