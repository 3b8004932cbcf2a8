// Package rtpinput implements the AES67/RTP multicast receiver described in
// spec §4.5: binds a multicast UDP socket, parses and validates RTP
// packets, feeds the jitter buffer, and assembles ordered samples into
// frame-pool frames for the SPSC queue.
package rtpinput

import (
	"net"
	"sync/atomic"
	"time"

	"github.com/pion/rtp"

	"aesarchive/internal/errs"
	"aesarchive/internal/framepool"
	"aesarchive/internal/jitter"
	"aesarchive/internal/ptpclock"
	"aesarchive/internal/spscqueue"
)

// Codec identifies the interleaved PCM sample encoding carried in the RTP
// payload.
type Codec int

const (
	L16 Codec = iota // 16-bit big-endian PCM
	L24              // 24-bit big-endian PCM
)

func bytesPerSample(c Codec) int {
	if c == L24 {
		return 3
	}
	return 2
}

// Config parameterizes the receiver.
type Config struct {
	MulticastAddr   string // e.g. "239.1.2.3:5004"
	Interface       string // optional named interface to bind to
	PayloadType     uint8
	Codec           Codec
	SourceChannels  int // total interleaved channels in the wire payload
	ChannelOffset   int // first channel of the output subrange
	OutputChannels  int // width of the output subrange
	SamplesPerFrame int
	SampleRate      uint32
	JitterDepthMS   int
	MaxLateDelta    int
}

// Stats are the atomic counters tracked per spec §4.5.
type Stats struct {
	PacketsReceived uint64
	Invalid         uint64
	Reordered       uint64
	Late            uint64
	Lost            uint64
	PoolDrops       uint64
	QueueDrops      uint64
}

// Receiver owns the multicast socket, jitter buffer, and frame assembly
// state for one RTP stream.
type Receiver struct {
	cfg  Config
	conn *net.UDPConn
	jb   *jitter.Buffer
	pool *framepool.Pool
	q    *spscqueue.Queue[framepool.Frame]
	clk  *ptpclock.Clock

	stats struct {
		packetsReceived atomic.Uint64
		invalid         atomic.Uint64
		reordered       atomic.Uint64
		late            atomic.Uint64
		lost            atomic.Uint64
		poolDrops       atomic.Uint64
		queueDrops      atomic.Uint64
	}

	assembling     *framepool.Frame
	assembledCount int
	lastSeq        int32
	haveLastSeq    bool
}

// New validates cfg, binds the multicast socket, and builds the receiver.
// Fails with InvalidConfig for a zero sample rate, an invalid channel
// subrange, or a non-positive samples-per-frame, or NetworkError if the
// socket cannot be created. The payload type is not checked here; packets
// whose payload type differs from cfg.PayloadType are counted as invalid and
// dropped as they arrive.
func New(cfg Config, pool *framepool.Pool, q *spscqueue.Queue[framepool.Frame], clk *ptpclock.Clock) (*Receiver, error) {
	if cfg.SampleRate == 0 {
		return nil, errs.New(errs.InvalidConfig, "rtpinput: sample rate must be nonzero")
	}
	if cfg.OutputChannels <= 0 || cfg.ChannelOffset < 0 ||
		cfg.ChannelOffset+cfg.OutputChannels > cfg.SourceChannels {
		return nil, errs.New(errs.InvalidConfig, "rtpinput: invalid channel subrange")
	}
	if cfg.SamplesPerFrame <= 0 {
		return nil, errs.New(errs.InvalidConfig, "rtpinput: samples_per_frame must be positive")
	}

	addr, err := net.ResolveUDPAddr("udp", cfg.MulticastAddr)
	if err != nil {
		return nil, errs.Wrap(errs.InvalidConfig, "rtpinput: resolve "+cfg.MulticastAddr, err)
	}

	var iface *net.Interface
	if cfg.Interface != "" {
		iface, err = net.InterfaceByName(cfg.Interface)
		if err != nil {
			return nil, errs.Wrap(errs.InvalidConfig, "rtpinput: interface "+cfg.Interface, err)
		}
	}

	conn, err := net.ListenMulticastUDP("udp", iface, addr)
	if err != nil {
		return nil, errs.Wrap(errs.NetworkError, "rtpinput: listen multicast "+cfg.MulticastAddr, err)
	}

	jb := jitter.New(cfg.SampleRate, uint32(cfg.SamplesPerFrame), cfg.JitterDepthMS, cfg.MaxLateDelta)

	return &Receiver{cfg: cfg, conn: conn, jb: jb, pool: pool, q: q, clk: clk, lastSeq: -1}, nil
}

// Close releases the socket.
func (r *Receiver) Close() error {
	if err := r.conn.Close(); err != nil {
		return errs.Wrap(errs.NetworkError, "rtpinput: close socket", err)
	}
	return nil
}

// ReceiveLoop reads datagrams until the socket is closed or stop is closed.
// It is meant to run on its own goroutine (the "network thread" of spec
// §4.4's threading note).
func (r *Receiver) ReceiveLoop(stop <-chan struct{}) {
	buf := make([]byte, 1500)
	for {
		select {
		case <-stop:
			return
		default:
		}
		// A one-second read deadline bounds how long a closed stop channel
		// goes unnoticed when no datagrams arrive.
		_ = r.conn.SetReadDeadline(time.Now().Add(time.Second))
		n, _, err := r.conn.ReadFromUDP(buf)
		if err != nil {
			if ne, ok := err.(net.Error); ok && ne.Timeout() {
				continue
			}
			return
		}
		r.handleDatagram(buf[:n])
	}
}

func (r *Receiver) handleDatagram(data []byte) {
	r.stats.packetsReceived.Add(1)

	var pkt rtp.Packet
	if err := pkt.Unmarshal(data); err != nil {
		r.stats.invalid.Add(1)
		return
	}
	if pkt.PayloadType != r.cfg.PayloadType {
		r.stats.invalid.Add(1)
		return
	}

	arrivalNS := r.clk.NowNS()
	if !r.clk.EpochSet() {
		r.clk.SetRTPEpoch(pkt.Timestamp, uint64(arrivalNS), r.cfg.SampleRate)
	}

	if r.haveLastSeq && int32(int16(pkt.SequenceNumber-uint16(r.lastSeq))) < 0 {
		r.stats.reordered.Add(1)
	}
	r.lastSeq = int32(pkt.SequenceNumber)
	r.haveLastSeq = true

	beforeLate := r.jb.Stats().PacketsLate
	r.jb.Insert(pkt.SequenceNumber, pkt.Timestamp, arrivalNS, pkt.Payload)
	if r.jb.Stats().PacketsLate != beforeLate {
		r.stats.late.Add(1)
	}

	r.drainReady()
}

// drainReady pulls every packet currently ready from the jitter buffer and
// folds its decoded samples into the in-progress frame. Get's "ok" result
// is false both when nothing is ready and when a gap is being declared
// lost; Stats().PacketsLost tells the two apart.
func (r *Receiver) drainReady() {
	for {
		nowNS := r.clk.NowNS()
		if !r.jb.Ready(nowNS) {
			return
		}
		beforeLost := r.jb.Stats().PacketsLost
		pkt, ok := r.jb.Get()
		if !ok {
			if r.jb.Stats().PacketsLost != beforeLost {
				r.stats.lost.Add(1)
				continue
			}
			return
		}
		r.foldPacket(&pkt)
	}
}

func (r *Receiver) foldPacket(pkt *jitter.Packet) {
	decoded := decodeSubrange(pkt.Payload, r.cfg.Codec, r.cfg.SourceChannels, r.cfg.ChannelOffset, r.cfg.OutputChannels)
	frameSamples := len(decoded) / r.cfg.OutputChannels

	rtpNS := int64(r.clk.RTPToNS(pkt.RTPTS, r.cfg.SampleRate))

	for i := 0; i < frameSamples; i++ {
		if r.assembling == nil {
			f, ok := r.pool.Acquire()
			if !ok {
				r.stats.poolDrops.Add(1)
				return
			}
			f.Channels = r.cfg.OutputChannels
			f.TimestampNS = rtpNS
			r.assembling = f
			r.assembledCount = 0
		}
		for ch := 0; ch < r.cfg.OutputChannels; ch++ {
			r.assembling.Samples[r.assembledCount*r.cfg.OutputChannels+ch] = decoded[i*r.cfg.OutputChannels+ch]
		}
		r.assembledCount++

		if r.assembledCount == r.cfg.SamplesPerFrame {
			r.assembling.SampleFrames = r.assembledCount
			if !r.q.Push(r.assembling) {
				r.stats.queueDrops.Add(1)
				r.pool.Release(r.assembling)
			}
			r.assembling = nil
			r.assembledCount = 0
		}
	}
}

// decodeSubrange converts big-endian L16/L24 interleaved PCM to float32 in
// [-1,+1], extracting only the [offset, offset+width) channel subrange.
func decodeSubrange(payload []byte, codec Codec, sourceChannels, offset, width int) []float32 {
	bps := bytesPerSample(codec)
	frameBytes := bps * sourceChannels
	frames := len(payload) / frameBytes
	out := make([]float32, frames*width)

	for i := 0; i < frames; i++ {
		base := i * frameBytes
		for ch := 0; ch < width; ch++ {
			off := base + (offset+ch)*bps
			out[i*width+ch] = decodeSample(payload[off:off+bps], codec)
		}
	}
	return out
}

func decodeSample(b []byte, codec Codec) float32 {
	switch codec {
	case L16:
		v := int16(uint16(b[0])<<8 | uint16(b[1]))
		return float32(v) / 32768.0
	case L24:
		raw := int32(b[0])<<16 | int32(b[1])<<8 | int32(b[2])
		if raw&0x800000 != 0 {
			raw |= ^int32(0xFFFFFF) // sign-extend 24->32
		}
		return float32(raw) / 8388608.0
	default:
		return 0
	}
}

// Snapshot returns a point-in-time copy of the statistics counters.
func (r *Receiver) Snapshot() Stats {
	return Stats{
		PacketsReceived: r.stats.packetsReceived.Load(),
		Invalid:         r.stats.invalid.Load(),
		Reordered:       r.stats.reordered.Load(),
		Late:            r.stats.late.Load(),
		Lost:            r.stats.lost.Load(),
		PoolDrops:       r.stats.poolDrops.Load(),
		QueueDrops:      r.stats.queueDrops.Load(),
	}
}
