package wavsink

import (
	"encoding/binary"
	"errors"
	"os"
	"path/filepath"
	"testing"

	"aesarchive/internal/errs"
)

func readHeader(t *testing.T, path string) []byte {
	t.Helper()
	b, err := os.ReadFile(path)
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	if len(b) < headerSize {
		t.Fatalf("file too short: %d bytes", len(b))
	}
	return b
}

// TestHeaderPatchedOnClose reproduces spec §8's WAV header-patching
// property: RIFF-size = 36 + data-size, data-size equals the total bytes
// appended.
func TestHeaderPatchedOnClose(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	s, err := Create(path, 48000, 1, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}

	samples := make([]float32, 100)
	for i := range samples {
		samples[i] = 0.5
	}
	if err := s.Write(samples, len(samples), 1); err != nil {
		t.Fatalf("Write: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}

	b := readHeader(t, path)
	riffSize := binary.LittleEndian.Uint32(b[4:8])
	dataSize := binary.LittleEndian.Uint32(b[40:44])

	wantData := uint32(len(samples) * 2)
	if dataSize != wantData {
		t.Fatalf("data size = %d, want %d", dataSize, wantData)
	}
	if riffSize != dataSize+36 {
		t.Fatalf("riff size = %d, want %d", riffSize, dataSize+36)
	}
	if string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		t.Fatal("malformed RIFF/WAVE magic")
	}

	if wantLen := headerSize + len(samples)*2; len(b) != wantLen {
		t.Fatalf("file length = %d, want %d (header + PCM data, not shifted)", len(b), wantLen)
	}

	firstSample := int16(binary.LittleEndian.Uint16(b[headerSize : headerSize+2]))
	if want := floatToPCM16(0.5); firstSample != want {
		t.Fatalf("first PCM sample at offset %d = %d, want %d (header must not overwrite data)", headerSize, firstSample, want)
	}
}

func TestClampsOutOfRangeSamples(t *testing.T) {
	if got := floatToPCM16(2.0); got != 32767 {
		t.Fatalf("floatToPCM16(2.0) = %d, want 32767", got)
	}
	if got := floatToPCM16(-2.0); got != -32767 {
		t.Fatalf("floatToPCM16(-2.0) = %d, want -32767 (clamped to -1, times 32767)", got)
	}
}

func TestChannelMismatchRejected(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	s, err := Create(path, 48000, 2, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	defer s.Close()

	err = s.Write(make([]float32, 10), 5, 1)
	if !errors.Is(err, errs.InvalidConfig) {
		t.Fatalf("err = %v, want InvalidConfig", err)
	}
}

// TestSizeLimitRejectsOversizedWrite reproduces spec §8 scenario 6: a write
// that would push bytes_written past 2^32-1 fails with SizeLimit and sets
// size_limit_hit, but the file remains closable with the last successful
// write intact.
func TestSizeLimitRejectsOversizedWrite(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	s, err := Create(path, 48000, 1, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	s.bytesWritten = maxFileSize - 4 // 2 samples of headroom left

	err = s.Write(make([]float32, 10), 10, 1)
	if !errors.Is(err, errs.SizeLimit) {
		t.Fatalf("err = %v, want SizeLimit", err)
	}
	if !s.SizeLimitHit() {
		t.Fatal("want SizeLimitHit() true")
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close after size-limit rejection: %v", err)
	}
}

func TestDoubleCloseErrors(t *testing.T) {
	path := filepath.Join(t.TempDir(), "out.wav")
	s, err := Create(path, 48000, 1, false)
	if err != nil {
		t.Fatalf("Create: %v", err)
	}
	if err := s.Close(); err != nil {
		t.Fatalf("Close: %v", err)
	}
	if err := s.Close(); err == nil {
		t.Fatal("want error on double close")
	}
}
