package levelmeter

import (
	"bytes"
	"encoding/json"
	"math"
	"strings"
	"testing"
)

func sine(n int, amp float32) []float32 {
	out := make([]float32, n)
	for i := range out {
		out[i] = amp * float32(math.Sin(float64(i)*0.1))
	}
	return out
}

// TestLevelRangeInvariant exercises spec §8's level-meter range property:
// for all inputs, -60 <= rms_db <= 0 and -60 <= peak_db <= 0, rms_db <=
// peak_db + epsilon.
func TestLevelRangeInvariant(t *testing.T) {
	m := New(1, 48000, 100, nil)
	inputs := [][]float32{
		sine(4800, 1.0),
		sine(4800, 0.001),
		make([]float32, 4800), // silence
		sine(4800, 2.0),       // out-of-range amplitude, must still clamp
	}
	for _, in := range inputs {
		readings, ready := m.Process(in, len(in))
		if !ready {
			t.Fatal("expected an interval boundary with 4800 frames at 100ms/48kHz")
		}
		r := readings[0]
		if r.RMSDB < silenceFloor || r.RMSDB > 0 {
			t.Fatalf("rms_db = %v out of [-60,0]", r.RMSDB)
		}
		if r.PeakDB < silenceFloor || r.PeakDB > 0 {
			t.Fatalf("peak_db = %v out of [-60,0]", r.PeakDB)
		}
		if r.RMSDB > r.PeakDB+1e-6 {
			t.Fatalf("rms_db %v > peak_db %v", r.RMSDB, r.PeakDB)
		}
	}
}

func TestClippingFlag(t *testing.T) {
	m := New(1, 48000, 100, nil)
	in := sine(4800, 1.0) // amplitude 1.0 => clipping
	readings, ready := m.Process(in, len(in))
	if !ready {
		t.Fatal("want interval boundary")
	}
	if !readings[0].Clipping {
		t.Fatal("want clipping=true at amplitude 1.0")
	}
}

func TestSilenceHitsFloor(t *testing.T) {
	m := New(1, 48000, 100, nil)
	in := make([]float32, 4800)
	readings, ready := m.Process(in, len(in))
	if !ready {
		t.Fatal("want interval boundary")
	}
	if readings[0].RMSDB != silenceFloor {
		t.Fatalf("RMSDB = %v, want floor %v", readings[0].RMSDB, silenceFloor)
	}
}

func TestStdoutShapeMono(t *testing.T) {
	var buf bytes.Buffer
	m := New(1, 48000, 100, &buf)
	m.Process(sine(4800, 0.5), 4800)

	line := strings.TrimSpace(buf.String())
	var got map[string]any
	if err := json.Unmarshal([]byte(line), &got); err != nil {
		t.Fatalf("unmarshal emitted line: %v; line=%q", err, line)
	}
	if got["type"] != "levels" {
		t.Fatalf(`type = %v, want "levels"`, got["type"])
	}
	if _, hasRight := got["right"]; hasRight {
		t.Fatal("mono emission must not include \"right\"")
	}
	if _, hasLeft := got["left"]; !hasLeft {
		t.Fatal("mono emission must include \"left\"")
	}
}

func TestStdoutShapeStereo(t *testing.T) {
	var buf bytes.Buffer
	m := New(2, 48000, 100, &buf)
	stereo := make([]float32, 4800*2)
	m.Process(stereo, 4800)

	var got map[string]any
	if err := json.Unmarshal(bytes.TrimSpace(buf.Bytes()), &got); err != nil {
		t.Fatalf("unmarshal: %v", err)
	}
	if _, hasRight := got["right"]; !hasRight {
		t.Fatal("stereo emission must include \"right\"")
	}
}
