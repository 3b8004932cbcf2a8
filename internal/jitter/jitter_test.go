package jitter

import "testing"

func newTestBuffer() *Buffer {
	// depth_ms=4, sample_rate=48000, samples_per_packet=48 => packetsPerMs=1,
	// bufferSize=max(16,min(1024,1*4*2))=16, lossThreshold=max(8,4)=8.
	return New(48000, 48, 4, 0)
}

func TestSizingMatchesSpecFormula(t *testing.T) {
	b := newTestBuffer()
	if got := b.BufferSize(); got != 16 {
		t.Fatalf("BufferSize = %d, want 16", got)
	}
	if got := b.LossThreshold(); got != 8 {
		t.Fatalf("LossThreshold = %d, want 8", got)
	}
}

// TestLateDrop reproduces spec §8 scenario 3.
func TestLateDrop(t *testing.T) {
	b := newTestBuffer()
	const t0 = int64(1_000_000_000)

	b.Insert(100, 4800000, t0, []byte{1})
	for i, seq := range []uint16{101, 102, 103, 104} {
		b.Insert(seq, uint32(4800000+48*(i+1)), t0+int64(i+1)*1_000_000, []byte{byte(seq)})
	}
	b.Insert(99, 4799952, t0+5_000_000, []byte{99}) // late

	if got := b.Stats().PacketsLate; got != 1 {
		t.Fatalf("PacketsLate = %d, want 1", got)
	}

	wantOrder := []uint16{100, 101, 102, 103, 104}
	for _, want := range wantOrder {
		p, ok := b.Get()
		if !ok {
			t.Fatalf("Get(): want packet seq=%d, got none", want)
		}
		if p.Seq != want {
			t.Fatalf("Get() seq = %d, want %d", p.Seq, want)
		}
	}
	if got := b.Stats().PacketsPlayed; got != 5 {
		t.Fatalf("PacketsPlayed = %d, want 5", got)
	}
}

func TestDuplicateDropped(t *testing.T) {
	b := newTestBuffer()
	b.Insert(1, 48, 0, []byte{0xAA})
	b.Insert(1, 48, 1000, []byte{0xBB}) // duplicate same seq, must be ignored

	p, ok := b.Get()
	if !ok {
		t.Fatal("Get(): want packet")
	}
	if p.Payload[0] != 0xAA {
		t.Fatalf("duplicate insert overwrote payload: got %x, want original 0xAA", p.Payload[0])
	}
}

func TestCollisionCounted(t *testing.T) {
	// depth_ms=10 => bufferSize 20, which does not divide 2^16: across the
	// wrap, seq 65530 and seq 10 are only 16 apart (inside the window) yet
	// share slot 10 (65530 % 20 == 10 % 20).
	b := New(48000, 48, 10, 0)
	b.Insert(65530, 0, 0, []byte{1})
	b.Insert(10, 48*16, 1000, []byte{17}) // same slot, different seq

	if got := b.Stats().Collisions; got != 1 {
		t.Fatalf("Collisions = %d, want 1", got)
	}
}

// TestLossOnSlide exercises the "far future sequence slides the window"
// behavior: every skipped slot is marked lost, never reordered.
func TestLossOnSlide(t *testing.T) {
	b := newTestBuffer()
	b.Insert(0, 0, 0, []byte{0})
	b.Insert(20, 0, 1000, []byte{20}) // 20 - 0 = 20 > bufferSize-1(15): window slides

	if p, ok := b.Get(); ok && p.Seq == 0 {
		t.Fatal("Get(): seq 0 was slid past and must not be delivered")
	}
	stats := b.Stats()
	if stats.PacketsLost == 0 {
		t.Fatal("PacketsLost: want at least one loss from the slide")
	}
}

// TestStreamResetOnHugeLateDelta exercises the "late delta beyond the
// configured maximum is a stream reset" branch.
func TestStreamResetOnHugeLateDelta(t *testing.T) {
	b := New(48000, 48, 4, 4) // tiny maxLateDelta to trigger easily
	b.Insert(1000, 0, 0, []byte{1})
	b.Insert(1, 0, 1000, []byte{2}) // huge backward delta: treated as reset

	if got := b.Stats().Resets; got != 1 {
		t.Fatalf("Resets = %d, want 1", got)
	}
	p, ok := b.Get()
	if !ok || p.Seq != 1 {
		t.Fatalf("Get() after reset = (%v, %v), want (seq=1, true)", p, ok)
	}
}

// TestMonotonicityAndExactPartition exercises spec §8's jitter-buffer
// monotonicity property: Get() returns strictly increasing sequence numbers,
// and every integer is exactly one of {delivered, lost, late}.
func TestMonotonicityAndExactPartition(t *testing.T) {
	b := newTestBuffer()
	order := []uint16{0, 1, 3, 2, 4, 5, 7, 6, 8, 9}
	for i, seq := range order {
		b.Insert(seq, uint32(seq)*48, int64(i)*1_000_000, []byte{byte(seq)})
	}

	var delivered []uint16
	for {
		p, ok := b.Get()
		if !ok {
			if b.Stats().PacketsPlayed+b.Stats().PacketsLost >= uint64(len(order)) {
				break
			}
			continue
		}
		delivered = append(delivered, p.Seq)
	}

	for i := 1; i < len(delivered); i++ {
		if delivered[i] <= delivered[i-1] {
			t.Fatalf("Get() sequence not strictly increasing at %d: %d then %d", i, delivered[i-1], delivered[i])
		}
	}

	stats := b.Stats()
	total := stats.PacketsPlayed + stats.PacketsLost
	if int(total) != len(order) {
		t.Fatalf("played+lost = %d, want %d (exact partition, no late here)", total, len(order))
	}
}
