package rtpinput

import (
	"testing"

	"aesarchive/internal/framepool"
	"aesarchive/internal/jitter"
	"aesarchive/internal/ptpclock"
	"aesarchive/internal/spscqueue"
)

func newTestReceiver(t *testing.T, cfg Config) (*Receiver, *framepool.Pool, *spscqueue.Queue[framepool.Frame]) {
	t.Helper()
	cfg.MulticastAddr = "239.5.5.5:0" // port 0: bind fails only if the address itself is bad
	pool := framepool.New(64, cfg.SamplesPerFrame, cfg.OutputChannels)
	q := spscqueue.New[framepool.Frame](64)
	clk, err := ptpclock.New(ptpclock.ModeNone, "", "")
	if err != nil {
		t.Fatalf("ptpclock.New: %v", err)
	}
	r, err := New(cfg, pool, q, clk)
	if err != nil {
		t.Fatalf("New: %v", err)
	}
	t.Cleanup(func() { r.Close(); clk.Close() })
	return r, pool, q
}

func baseConfig() Config {
	return Config{
		PayloadType:     96,
		Codec:           L16,
		SourceChannels:  2,
		ChannelOffset:   0,
		OutputChannels:  2,
		SamplesPerFrame: 4,
		SampleRate:      48000,
		JitterDepthMS:   20,
	}
}

func TestRejectsInvalidChannelSubrange(t *testing.T) {
	pool := framepool.New(4, 4, 2)
	q := spscqueue.New[framepool.Frame](4)
	clk, _ := ptpclock.New(ptpclock.ModeNone, "", "")
	defer clk.Close()

	cfg := baseConfig()
	cfg.MulticastAddr = "239.5.5.5:0"
	cfg.ChannelOffset = 1
	cfg.OutputChannels = 2 // offset+width=3 > SourceChannels=2

	if _, err := New(cfg, pool, q, clk); err == nil {
		t.Fatal("want InvalidConfig for out-of-range channel subrange")
	}
}

func TestDecodeSubrangeL16RoundTrip(t *testing.T) {
	// Two stereo frames; extract channel 1 only.
	payload := []byte{
		0x00, 0x00, 0x40, 0x00, // frame0: ch0=0, ch1=0x4000 (0.5)
		0x00, 0x00, 0xC0, 0x00, // frame1: ch0=0, ch1=0xC000 (-0.5)
	}
	out := decodeSubrange(payload, L16, 2, 1, 1)
	if len(out) != 2 {
		t.Fatalf("len(out) = %d, want 2", len(out))
	}
	if out[0] < 0.49 || out[0] > 0.51 {
		t.Fatalf("out[0] = %v, want ~0.5", out[0])
	}
	if out[1] > -0.49 || out[1] < -0.51 {
		t.Fatalf("out[1] = %v, want ~-0.5", out[1])
	}
}

func TestDecodeSubrangeL24SignExtends(t *testing.T) {
	payload := []byte{0x80, 0x00, 0x00} // most negative 24-bit value
	out := decodeSubrange(payload, L24, 1, 0, 1)
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1", len(out))
	}
	if out[0] != -1.0 {
		t.Fatalf("out[0] = %v, want -1.0", out[0])
	}
}

func TestFoldPacketAssemblesFrameAndPushesQueue(t *testing.T) {
	cfg := baseConfig()
	r, pool, q := newTestReceiver(t, cfg)

	r.clk.SetRTPEpoch(1000, 0, cfg.SampleRate)

	// 4 stereo L16 sample-frames of silence (cfg.SamplesPerFrame == 4).
	payload := make([]byte, 4*2*2)
	pkt := jitter.Packet{Seq: 0, RTPTS: 1000, ArrivalNS: 0, Payload: payload}

	before := pool.FreeCount()
	r.foldPacket(&pkt)
	if pool.FreeCount() != before-1 {
		t.Fatalf("expected the assembled frame to move to the queue, not stay free: before=%d after=%d", before, pool.FreeCount())
	}
	if q.Len() != 1 {
		t.Fatalf("queue len = %d, want 1", q.Len())
	}
	f := q.Pop()
	if f.SampleFrames != cfg.SamplesPerFrame {
		t.Fatalf("SampleFrames = %d, want %d", f.SampleFrames, cfg.SamplesPerFrame)
	}
	pool.Release(f)
}
