// Package framepool implements the fixed-size, lock-free PCM frame arena
// described in spec §4.1. A Pool pre-allocates every backing buffer once;
// acquire/release are constant-time, allocation-free, and safe for exactly
// one acquiring goroutine and one releasing goroutine (the pool's SPSC
// contract — see Pool doc).
package framepool

import (
	"math"
	"sync/atomic"
)

// Frame is a contiguous interleaved float32 PCM buffer with a capacity fixed
// for the lifetime of the owning Pool. SampleFrames may be less than the
// frame's capacity (variable-size producers are allowed); it is never
// greater.
type Frame struct {
	Samples      []float32 // len == frameCapacity*Channels, always
	SampleFrames int       // valid sample-frames in Samples; <= frameCapacity
	Channels     int
	TimestampNS  int64

	pool *Pool // weak back-reference; release looks up the owning pool
	idx  int   // position within pool.frames, stable for the frame's life
}

// Pool is a fixed set of N frames with a LIFO stack of free-frame handles
// guarded by a single atomic top-of-stack index. It is real-time safe: no
// allocation and no locks on the acquire/release path.
//
// Contract: exactly one goroutine may call Acquire, and exactly one
// goroutine (possibly a different one) may call Release. Calling either
// from more than one goroutine concurrently is undefined.
type Pool struct {
	frames        []Frame  // stable addresses, indexed 0..N-1
	free          []*Frame // LIFO stack of available frame handles
	top           atomic.Int64
	frameCapacity int
	channels      int

	// Debug enables release-time poisoning (NaN fill) and pool-identity
	// assertions. Intended for test builds, not the 24/7 hot path.
	Debug bool
}

// New pre-allocates n frames, each with capacity frameCapacity*channels
// float32 samples.
func New(n, frameCapacity, channels int) *Pool {
	if n <= 0 || frameCapacity <= 0 || channels <= 0 {
		panic("framepool: n, frameCapacity and channels must be positive")
	}
	p := &Pool{
		frames:        make([]Frame, n),
		free:          make([]*Frame, n),
		frameCapacity: frameCapacity,
		channels:      channels,
	}
	for i := range p.frames {
		f := &p.frames[i]
		f.Samples = make([]float32, frameCapacity*channels)
		f.Channels = channels
		f.pool = p
		f.idx = i
		p.free[i] = f
	}
	p.top.Store(int64(n))
	return p
}

// Capacity returns the number of frames the pool was built with.
func (p *Pool) Capacity() int { return len(p.frames) }

// FrameCapacity returns frameCapacity (samples per channel a frame can hold).
func (p *Pool) FrameCapacity() int { return p.frameCapacity }

// Channels returns the fixed channel count for every frame in the pool.
func (p *Pool) Channels() int { return p.channels }

// FreeCount returns the current number of frames on the free stack. Racy by
// construction (concurrent Acquire/Release may change it immediately after
// the read); intended for diagnostics only.
func (p *Pool) FreeCount() int64 { return p.top.Load() }

// Acquire pops the top of the free stack. It returns false (the pool's
// "none" signal) when the pool is exhausted — callers must treat this as
// back-pressure, not an error.
func (p *Pool) Acquire() (*Frame, bool) {
	n := p.top.Load()
	if n == 0 {
		return nil, false
	}
	f := p.free[n-1]
	p.top.Store(n - 1)
	f.SampleFrames = 0
	return f, true
}

// Release pushes f back onto the free stack. A release of a frame that does
// not belong to this pool, or while the stack is already full (a
// double-release), is ignored defensively rather than corrupting the stack.
func (p *Pool) Release(f *Frame) {
	if f == nil || f.pool != p {
		return
	}
	n := p.top.Load()
	if n >= int64(len(p.free)) {
		return // double-release guard
	}
	if p.Debug {
		poison(f.Samples)
	}
	p.free[n] = f
	p.top.Store(n + 1)
}

// poison fills a released frame's backing buffer with NaN so use-after-
// release shows up immediately under a debug build.
func poison(samples []float32) {
	nan := float32(math.NaN())
	for i := range samples {
		samples[i] = nan
	}
}
