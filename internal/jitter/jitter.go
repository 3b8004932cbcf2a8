// Package jitter implements the RTP reordering and playout-timing buffer
// described in spec §4.4: a circular slot array indexed by seq mod
// buffer_size, with loss/late detection and a wall-clock playout schedule.
package jitter

import "sync"

// Packet is one RTP payload slotted into the buffer.
type Packet struct {
	Seq       uint16
	RTPTS     uint32
	ArrivalNS int64
	Payload   []byte
	Valid     bool
}

// Stats are the buffer's cumulative counters.
type Stats struct {
	PacketsReceived uint64
	PacketsPlayed   uint64
	PacketsLate     uint64
	PacketsLost     uint64
	Collisions      uint64
	Resets          uint64
	Depth           int // last observed highestSeq - nextSeq
}

// Buffer is the jitter buffer. Insert is called from the network/input
// thread, Get/Ready from the worker thread; both take the internal mutex
// since packets and statistics are touched by both (spec §4.4/§5).
type Buffer struct {
	samplesPerPacket uint32
	sampleRate       uint32
	depthMS          int
	maxLateDelta     int // packets; beyond this, a "late" packet is a stream reset
	bufferSize       int
	lossThreshold    int

	mu            sync.Mutex
	slots         []Packet
	initialized   bool
	nextSeq       uint16
	highestSeq    uint16
	playoutTimeNS int64
	stats         Stats
}

// New builds a jitter buffer sized from packetsPerMs/depthMs per spec §4.4:
// bufferSize = clamp(packetsPerMs*depthMs*2, 16, 1024); lossThreshold =
// max(packetsPerMs*depthMs*2, 4). maxLateDelta bounds how far "behind"
// nextSeq a packet may arrive before it is treated as a stream reset rather
// than a late packet.
func New(sampleRate, samplesPerPacket uint32, depthMS int, maxLateDelta int) *Buffer {
	if sampleRate == 0 || samplesPerPacket == 0 {
		panic("jitter: sampleRate and samplesPerPacket must be positive")
	}
	packetsPerMs := float64(sampleRate) / float64(samplesPerPacket) / 1000.0
	raw := int(packetsPerMs * float64(depthMS) * 2)

	bufferSize := raw
	if bufferSize < 16 {
		bufferSize = 16
	}
	if bufferSize > 1024 {
		bufferSize = 1024
	}

	lossThreshold := raw
	if lossThreshold < 4 {
		lossThreshold = 4
	}

	if maxLateDelta <= 0 {
		maxLateDelta = bufferSize * 4
	}

	return &Buffer{
		samplesPerPacket: samplesPerPacket,
		sampleRate:       sampleRate,
		depthMS:          depthMS,
		maxLateDelta:     maxLateDelta,
		bufferSize:       bufferSize,
		lossThreshold:    lossThreshold,
		slots:            make([]Packet, bufferSize),
	}
}

// BufferSize returns the computed slot-array size.
func (b *Buffer) BufferSize() int { return b.bufferSize }

// LossThreshold returns the computed loss threshold, in packets.
func (b *Buffer) LossThreshold() int { return b.lossThreshold }

// PacketDurationNS returns the duration in nanoseconds of one packet's
// worth of audio: samplesPerPacket * 1e9 / sampleRate.
func (b *Buffer) PacketDurationNS() int64 {
	return int64(b.samplesPerPacket) * 1_000_000_000 / int64(b.sampleRate)
}

// seqDelta returns signed (a - b) in modulo-2^16 arithmetic, in [-32768, 32767].
func seqDelta(a, b uint16) int32 {
	return int32(int16(a - b))
}

func (b *Buffer) slotFor(seq uint16) int {
	return int(seq) % b.bufferSize
}

// Stats returns a snapshot of the cumulative counters.
func (b *Buffer) Stats() Stats {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.stats
}

// Insert slots an incoming packet. It is the network thread's entry point.
func (b *Buffer) Insert(seq uint16, rtpTS uint32, arrivalNS int64, payload []byte) {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.stats.PacketsReceived++

	if !b.initialized {
		b.reset(seq, arrivalNS)
	}

	delta := seqDelta(seq, b.nextSeq)
	if delta < 0 {
		// Behind the playout cursor: either a late (still-insertable-but-
		// stale) packet, or the delta is so large it signals a stream
		// reset rather than ordinary lateness.
		if -delta > int32(b.maxLateDelta) {
			b.stats.Resets++
			b.reset(seq, arrivalNS)
			b.insertLocked(seq, rtpTS, arrivalNS, payload)
			return
		}
		b.stats.PacketsLate++
		return
	}

	if delta > int32(b.bufferSize-1) {
		// Far enough ahead that the playout window must slide forward;
		// every slot it slides past is a loss, including any packet that
		// had already arrived there.
		for seqDelta(seq, b.nextSeq) > int32(b.bufferSize-1) {
			slot := b.slotFor(b.nextSeq)
			b.stats.PacketsLost++
			b.slots[slot] = Packet{}
			b.nextSeq++
			b.playoutTimeNS += b.PacketDurationNS()
		}
	}

	b.insertLocked(seq, rtpTS, arrivalNS, payload)

	if seqDelta(seq, b.highestSeq) > 0 {
		b.highestSeq = seq
	}
	b.stats.Depth = int(seqDelta(b.highestSeq, b.nextSeq))
}

func (b *Buffer) insertLocked(seq uint16, rtpTS uint32, arrivalNS int64, payload []byte) {
	slot := b.slotFor(seq)
	existing := b.slots[slot]
	if existing.Valid {
		if existing.Seq == seq {
			return // duplicate, silently dropped
		}
		b.stats.Collisions++ // conflicting slot: overwrite
	}
	cp := make([]byte, len(payload))
	copy(cp, payload)
	b.slots[slot] = Packet{Seq: seq, RTPTS: rtpTS, ArrivalNS: arrivalNS, Payload: cp, Valid: true}
}

func (b *Buffer) reset(seq uint16, arrivalNS int64) {
	for i := range b.slots {
		b.slots[i] = Packet{}
	}
	b.initialized = true
	b.nextSeq = seq
	b.highestSeq = seq
	b.playoutTimeNS = arrivalNS + int64(b.depthMS)*1_000_000
}

// Get returns the packet at slot nextSeq, advancing nextSeq and the playout
// schedule on success. If that slot is empty but the gap between the
// highest seen sequence and nextSeq exceeds the loss threshold, the packet
// is declared lost (counted) and the window advances past it, returning
// (Packet{}, false).
func (b *Buffer) Get() (Packet, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized {
		return Packet{}, false
	}

	slot := b.slotFor(b.nextSeq)
	p := b.slots[slot]

	if p.Valid && p.Seq == b.nextSeq {
		b.slots[slot] = Packet{}
		b.nextSeq++
		b.playoutTimeNS += b.PacketDurationNS()
		b.stats.PacketsPlayed++
		b.stats.Depth = int(seqDelta(b.highestSeq, b.nextSeq))
		return p, true
	}

	gap := seqDelta(b.highestSeq, b.nextSeq)
	if gap > int32(b.lossThreshold) {
		b.stats.PacketsLost++
		b.nextSeq++
		b.playoutTimeNS += b.PacketDurationNS()
		b.stats.Depth = int(seqDelta(b.highestSeq, b.nextSeq))
	}
	return Packet{}, false
}

// Ready reports whether nowNS has reached the playout deadline and either
// the expected packet is present or the loss threshold has been exceeded
// (meaning Get would make progress rather than spin).
func (b *Buffer) Ready(nowNS int64) bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	if !b.initialized || nowNS < b.playoutTimeNS {
		return false
	}
	slot := b.slotFor(b.nextSeq)
	p := b.slots[slot]
	if p.Valid && p.Seq == b.nextSeq {
		return true
	}
	gap := seqDelta(b.highestSeq, b.nextSeq)
	return gap > int32(b.lossThreshold)
}
