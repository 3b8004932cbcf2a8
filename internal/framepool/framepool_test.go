package framepool

import (
	"math"
	"testing"
)

func TestAcquireReleaseRoundTrip(t *testing.T) {
	p := New(4, 160, 2)

	if got := p.FreeCount(); got != 4 {
		t.Fatalf("FreeCount = %d, want 4", got)
	}

	f, ok := p.Acquire()
	if !ok {
		t.Fatal("Acquire: want ok")
	}
	if len(f.Samples) != 160*2 {
		t.Fatalf("len(Samples) = %d, want %d", len(f.Samples), 160*2)
	}
	if got := p.FreeCount(); got != 3 {
		t.Fatalf("FreeCount after acquire = %d, want 3", got)
	}

	p.Release(f)
	if got := p.FreeCount(); got != 4 {
		t.Fatalf("FreeCount after release = %d, want 4", got)
	}
}

func TestExhaustionReturnsNone(t *testing.T) {
	p := New(2, 16, 1)

	f1, ok := p.Acquire()
	if !ok {
		t.Fatal("want ok")
	}
	f2, ok := p.Acquire()
	if !ok {
		t.Fatal("want ok")
	}
	if _, ok := p.Acquire(); ok {
		t.Fatal("Acquire on exhausted pool: want !ok")
	}

	p.Release(f1)
	p.Release(f2)
}

// TestFrameOwnershipConservation exercises spec §8's universal invariant:
// frames_acquired - frames_released == frames_in_flight_now, and after a
// clean stop frames_in_flight_now == 0.
func TestFrameOwnershipConservation(t *testing.T) {
	p := New(8, 16, 1)

	var inFlight []*Frame
	acquired, released := 0, 0

	for i := 0; i < 100; i++ {
		if len(inFlight) < 8 {
			if f, ok := p.Acquire(); ok {
				acquired++
				inFlight = append(inFlight, f)
			}
		}
		if len(inFlight) > 0 && i%3 == 0 {
			f := inFlight[0]
			inFlight = inFlight[1:]
			p.Release(f)
			released++
		}
	}
	for _, f := range inFlight {
		p.Release(f)
		released++
	}

	if acquired-released != 0 {
		t.Fatalf("acquired-released = %d, want 0 (frames in flight)", acquired-released)
	}
	if got := p.FreeCount(); got != int64(p.Capacity()) {
		t.Fatalf("FreeCount after drain = %d, want %d", got, p.Capacity())
	}
}

func TestDoubleReleaseIgnored(t *testing.T) {
	p := New(2, 8, 1)
	f, _ := p.Acquire()
	p.Release(f)
	p.Release(f) // defensive double-release must be a no-op, not corrupt the stack
	if got := p.FreeCount(); got != 2 {
		t.Fatalf("FreeCount after double release = %d, want 2 (not overflowed)", got)
	}
}

func TestReleaseForeignFrameIgnored(t *testing.T) {
	p1 := New(1, 8, 1)
	p2 := New(1, 8, 1)

	p1.Acquire() // empty p1's free stack so a landed release would show
	f2, _ := p2.Acquire()
	p1.Release(f2) // wrong pool: must be ignored
	if got := p1.FreeCount(); got != 0 {
		t.Fatalf("p1 FreeCount = %d, want 0 (foreign release must not land)", got)
	}
}

func TestDebugPoisonsOnRelease(t *testing.T) {
	p := New(1, 4, 1)
	p.Debug = true

	f, _ := p.Acquire()
	for i := range f.Samples {
		f.Samples[i] = 1.0
	}
	p.Release(f)

	for i, v := range f.Samples {
		if !math.IsNaN(float64(v)) {
			t.Fatalf("Samples[%d] = %v, want NaN after debug release", i, v)
		}
	}
}
