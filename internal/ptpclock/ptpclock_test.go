package ptpclock

import "testing"

func TestModeNoneAlwaysHealthy(t *testing.T) {
	c, err := New(ModeNone, "", "")
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	defer c.Close()

	if !c.Healthy() {
		t.Fatal("ModeNone clock: want healthy")
	}
	if c.NowNS() == 0 {
		t.Fatal("NowNS: want nonzero wall-clock time")
	}
}

func TestRTPToNSWithoutEpochReturnsZero(t *testing.T) {
	c, _ := New(ModeNone, "", "")
	defer c.Close()

	if got := c.RTPToNS(1000, 48000); got != 0 {
		t.Fatalf("RTPToNS before SetRTPEpoch = %d, want 0", got)
	}
}

func TestRTPToNSWithZeroSampleRateReturnsZero(t *testing.T) {
	c, _ := New(ModeNone, "", "")
	defer c.Close()

	c.SetRTPEpoch(0, 1_000_000_000, 48000)
	if got := c.RTPToNS(100, 0); got != 0 {
		t.Fatalf("RTPToNS with sampleRate=0 = %d, want 0", got)
	}
}

func TestRTPToNSLinearAdvance(t *testing.T) {
	c, _ := New(ModeNone, "", "")
	defer c.Close()

	const rate = 48000
	c.SetRTPEpoch(0, 1_000_000_000, rate)

	// 48000 samples after the epoch is exactly 1 second later.
	got := c.RTPToNS(48000, rate)
	want := uint64(2_000_000_000)
	if got != want {
		t.Fatalf("RTPToNS = %d, want %d", got, want)
	}
}

func TestRTPToNSDetectsWraparound(t *testing.T) {
	c, _ := New(ModeNone, "", "")
	defer c.Close()

	const rate = 48000
	// Anchor the epoch near the top of the 32-bit range so the next packet
	// wraps around to a small value.
	c.SetRTPEpoch(0xFFFFFF00, 1_000_000_000, rate)

	if got := c.WraparoundCount(); got != 0 {
		t.Fatalf("WraparoundCount after epoch = %d, want 0", got)
	}

	// 0x100 samples after 0xFFFFFF00, wrapped: (0xFFFFFF00+0x100) mod 2^32 = 0.
	got := c.RTPToNS(0x00000000, rate)
	if c.WraparoundCount() != 1 {
		t.Fatalf("WraparoundCount after wrap = %d, want 1", c.WraparoundCount())
	}

	wantDeltaSamples := uint64(0x100)
	wantNS := uint64(1_000_000_000) + wantDeltaSamples*1_000_000_000/rate
	if got != wantNS {
		t.Fatalf("RTPToNS after wraparound = %d, want %d", got, wantNS)
	}
}

func TestHardwareRefcountBalances(t *testing.T) {
	before := HardwareRefcount()

	// ModeHardware without a usable device/interface must fail construction
	// and must not touch the refcount.
	if _, err := New(ModeHardware, "", ""); err == nil {
		t.Fatal("New(ModeHardware) with no device/interface: want error")
	}
	if HardwareRefcount() != before {
		t.Fatalf("HardwareRefcount changed on failed construction: %d -> %d", before, HardwareRefcount())
	}
}
