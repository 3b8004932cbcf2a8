// Package ptpclock abstracts the system/hardware PTP clock and the
// RTP<->PTP timestamp correlation described in spec §4.3. Three modes are
// supported: NONE (monotonic/wall-clock fallback, no RTP correlation),
// SOFTWARE (the system real-time clock, assumed synchronized by an external
// PTP daemon such as ptp4l), and HARDWARE (a PTP hardware clock device).
package ptpclock

import (
	"sync"
	"sync/atomic"

	"aesarchive/internal/errs"
)

// Mode selects the clock source.
type Mode int

const (
	ModeNone Mode = iota
	ModeSoftware
	ModeHardware
)

func (m Mode) String() string {
	switch m {
	case ModeNone:
		return "none"
	case ModeSoftware:
		return "software"
	case ModeHardware:
		return "hardware"
	default:
		return "unknown"
	}
}

// source is the platform-specific time source a Clock reads from. now()
// returns TAI-like nanoseconds, or (0, false) on failure.
type source interface {
	now() (int64, bool)
	healthy() bool
	close() error
}

// refcount is a process-wide count of open hardware-clock sources, mirroring
// the teacher's legacy global-refcount pattern (spec §9) as an explicit,
// privately-owned counter instead of a bare global. A test asserts that a
// failed hardware-clock construction leaves it unchanged.
var hwRefcount atomic.Int64

// HardwareRefcount reports the number of currently-open hardware PTP clock
// sources, for tests and diagnostics.
func HardwareRefcount() int64 { return hwRefcount.Load() }

// Clock correlates RTP timestamps to PTP nanoseconds and exposes the
// selected clock source's current time.
type Clock struct {
	mode Mode
	src  source

	mu              sync.Mutex // guards the epoch/wraparound state below
	epochSet        bool
	epochRTPTS      uint32
	epochPTPNS      uint64
	sampleRate      uint32
	wraparoundCount uint64
	lastRTPTS       uint32
}

// New builds a Clock for the given mode. For ModeHardware, devicePath (a PTP
// character device such as /dev/ptp0) or ifaceName (a network interface
// whose PHC is resolved via ethtool) must yield a usable clock; otherwise
// New returns an InvalidConfig error.
func New(mode Mode, devicePath, ifaceName string) (*Clock, error) {
	var src source
	var err error

	switch mode {
	case ModeNone:
		src = wallClockSource{}
	case ModeSoftware:
		src = newSoftwareSource()
	case ModeHardware:
		src, err = newHardwareSource(devicePath, ifaceName)
		if err != nil {
			return nil, err
		}
		hwRefcount.Add(1)
	default:
		return nil, errs.New(errs.InvalidConfig, "ptpclock: unknown mode")
	}

	return &Clock{mode: mode, src: src}, nil
}

// Mode returns the clock's configured mode.
func (c *Clock) Mode() Mode { return c.mode }

// Close releases any OS resources (hardware clock device) held by the
// clock. Safe to call more than once.
func (c *Clock) Close() error {
	if c.mode == ModeHardware && c.src != nil {
		hwRefcount.Add(-1)
	}
	if c.src == nil {
		return nil
	}
	err := c.src.close()
	c.src = nil
	return err
}

// NowNS returns TAI-like nanoseconds from the selected source, or 0 on
// failure (ClockUnavailable — the caller substitutes a fallback per spec §7).
func (c *Clock) NowNS() int64 {
	if c.src == nil {
		return 0
	}
	ns, ok := c.src.now()
	if !ok {
		return 0
	}
	return ns
}

// Healthy reports whether the backing clock source is currently readable.
func (c *Clock) Healthy() bool {
	if c.src == nil {
		return false
	}
	return c.src.healthy()
}

// SetRTPEpoch records the first-packet RTP<->PTP correlation and resets
// wraparound state. Subsequent calls re-anchor the epoch (e.g. after a
// stream reset) and clear any accumulated wraparound count.
func (c *Clock) SetRTPEpoch(rtpTS uint32, ptpNS uint64, sampleRate uint32) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.epochSet = true
	c.epochRTPTS = rtpTS
	c.epochPTPNS = ptpNS
	c.sampleRate = sampleRate
	c.wraparoundCount = 0
	c.lastRTPTS = rtpTS
}

// EpochSet reports whether SetRTPEpoch has ever been called.
func (c *Clock) EpochSet() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.epochSet
}

// WraparoundCount returns the number of detected 32-bit RTP timestamp
// wraparounds since the epoch was last set.
func (c *Clock) WraparoundCount() uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.wraparoundCount
}

// RTPToNS converts an RTP timestamp to a PTP nanosecond timestamp, detecting
// and accounting for 32-bit timestamp wraparound. Returns 0 if no epoch has
// been established yet or sampleRate is 0.
func (c *Clock) RTPToNS(rtpTS uint32, sampleRate uint32) uint64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.epochSet || sampleRate == 0 {
		return 0
	}

	// A wraparound has occurred when the new timestamp is more than 2^31
	// behind the last one seen — i.e. the unsigned forward distance from
	// rtpTS to lastRTPTS exceeds half the 32-bit range.
	backwardDelta := c.lastRTPTS - rtpTS
	if backwardDelta > 0 && uint64(backwardDelta) > (uint64(1)<<31) {
		c.wraparoundCount++
	}
	c.lastRTPTS = rtpTS

	extended := c.wraparoundCount<<32 | uint64(rtpTS)
	epochExtended := uint64(c.epochRTPTS)
	if extended < epochExtended {
		return 0 // guard against a negative intermediate result
	}

	deltaSamples := extended - epochExtended
	offsetNS := deltaSamples * 1_000_000_000 / uint64(sampleRate)
	return c.epochPTPNS + offsetNS
}

// wallClockSource implements ModeNone: the ordinary monotonic/wall-clock
// system time, with no hardware or daemon dependency and no RTP
// correlation guarantee.
type wallClockSource struct{}

func (wallClockSource) now() (int64, bool) { return nowWallClock(), true }
func (wallClockSource) healthy() bool      { return true }
func (wallClockSource) close() error       { return nil }
