// Package vox implements the level-gated voice-activity state machine with
// pre-roll buffering described in spec §4.7.
package vox

import "aesarchive/internal/framepool"

// State is one of the four VOX states.
type State int

const (
	Idle State = iota
	Detecting
	Active
	Hangover
)

func (s State) String() string {
	switch s {
	case Idle:
		return "idle"
	case Detecting:
		return "detecting"
	case Active:
		return "active"
	case Hangover:
		return "hangover"
	default:
		return "unknown"
	}
}

// LevelMode selects which level value drives the detector.
type LevelMode int

const (
	LevelRMS LevelMode = iota
	LevelPeak
)

// StereoMode selects how a two-channel level pair collapses to one value.
type StereoMode int

const (
	StereoAverage StereoMode = iota // average of both channels
	StereoAny                       // max of both channels ("any channel" trips it)
)

// releaseFloorDB is the minimum the auto-derived release threshold may sink
// to, per spec §4.7.
const releaseFloorDB = -60.0

// Config parameterizes the detector.
type Config struct {
	ThresholdDB    float64
	ReleaseDB      float64 // 0 => auto: ThresholdDB - 5, clamped to releaseFloorDB
	DetectionMS    int
	HangoverMS     int
	PrerollMS      int
	SampleRate     int
	SamplesPerFrame int
	LevelMode      LevelMode
	StereoMode     StereoMode
}

// Detector is the VOX state machine. It never allocates frames itself; it
// only holds handles to frames it was given, and returns them to the
// caller (to write) or implicitly drops them back to the pool's ownership
// chain when preroll is overwritten full (the caller must release any frame
// evicted from preroll — see Detector.EvictedFrame()).
type Detector struct {
	cfg Config

	effectiveReleaseDB float64
	detectionSamples   int64
	hangoverSamples    int64

	state           State
	stateEnterSample int64
	samplesProcessed int64

	preroll     []*framepool.Frame
	prerollHead int
	prerollLen  int
	prerollCap  int

	shouldOpen  bool
	shouldClose bool

	evicted *framepool.Frame // set by Push when preroll overwrites a frame
}

// New builds a Detector from cfg.
func New(cfg Config) *Detector {
	release := cfg.ReleaseDB
	if release == 0 {
		release = cfg.ThresholdDB - 5
	}
	if release < releaseFloorDB {
		release = releaseFloorDB
	}

	framesPerMS := float64(cfg.SampleRate) / float64(cfg.SamplesPerFrame) / 1000.0
	detectionSamples := int64(float64(cfg.DetectionMS) * framesPerMS)
	hangoverSamples := int64(float64(cfg.HangoverMS) * framesPerMS)

	prerollCap := int(ceilDiv(cfg.PrerollMS*cfg.SampleRate, 1000*cfg.SamplesPerFrame)) + 1

	return &Detector{
		cfg:                cfg,
		effectiveReleaseDB: release,
		detectionSamples:   detectionSamples,
		hangoverSamples:    hangoverSamples,
		preroll:            make([]*framepool.Frame, prerollCap),
		prerollCap:         prerollCap,
	}
}

func ceilDiv(a, b int) int {
	if b == 0 {
		return 0
	}
	return (a + b - 1) / b
}

// EffectiveReleaseDB returns the resolved release threshold (user value, or
// threshold-5dB clamped to the floor).
func (d *Detector) EffectiveReleaseDB() float64 { return d.effectiveReleaseDB }

// State returns the current state.
func (d *Detector) State() State { return d.state }

// level collapses per-channel rms/peak dB into the single effective level
// the state machine gates on, per spec §4.7.
func (d *Detector) level(rmsDB, peakDB [2]float64, channels int) float64 {
	pick := func(i int) float64 {
		if d.cfg.LevelMode == LevelPeak {
			return peakDB[i]
		}
		return rmsDB[i]
	}
	if channels < 2 {
		return pick(0)
	}
	if d.cfg.StereoMode == StereoAny {
		if pick(0) > pick(1) {
			return pick(0)
		}
		return pick(1)
	}
	return (pick(0) + pick(1)) / 2
}

func (d *Detector) pushPreroll(f *framepool.Frame) {
	d.evicted = nil
	if d.prerollLen == d.prerollCap {
		// Overwrite oldest: evict it so the caller can release it.
		d.evicted = d.preroll[d.prerollHead]
		d.preroll[d.prerollHead] = f
		d.prerollHead = (d.prerollHead + 1) % d.prerollCap
		return
	}
	idx := (d.prerollHead + d.prerollLen) % d.prerollCap
	d.preroll[idx] = f
	d.prerollLen++
}

func (d *Detector) flushPreroll() []*framepool.Frame {
	out := make([]*framepool.Frame, 0, d.prerollLen)
	for i := 0; i < d.prerollLen; i++ {
		idx := (d.prerollHead + i) % d.prerollCap
		out = append(out, d.preroll[idx])
	}
	d.prerollHead = 0
	d.prerollLen = 0
	return out
}

// EvictedFrame returns the frame (if any) bumped out of the pre-roll ring by
// the most recent Process call, so the caller can release it back to the
// pool. Returns nil most of the time.
func (d *Detector) EvictedFrame() *framepool.Frame { return d.evicted }

func (d *Detector) enter(s State) {
	d.state = s
	d.stateEnterSample = d.samplesProcessed
}

func (d *Detector) samplesInState() int64 { return d.samplesProcessed - d.stateEnterSample }

// Process advances the state machine by one frame and returns the frames
// that should be written to the sink (0 or more). It never borrows a frame
// it was not given; ownership of any frame not returned for writing and not
// reported via EvictedFrame remains with the pre-roll ring until a later
// flush or eviction.
func (d *Detector) Process(f *framepool.Frame, rmsDB, peakDB [2]float64, channels int) []*framepool.Frame {
	d.samplesProcessed++
	d.evicted = nil
	level := d.level(rmsDB, peakDB, channels)

	switch d.state {
	case Idle:
		if level > d.cfg.ThresholdDB {
			d.enter(Detecting)
		}
		d.pushPreroll(f)
		return nil

	case Detecting:
		if level <= d.cfg.ThresholdDB {
			d.enter(Idle)
			d.pushPreroll(f)
			return nil
		}
		if d.samplesInState() >= d.detectionSamples {
			flushed := d.flushPreroll()
			d.enter(Active)
			d.shouldOpen = true
			return append(flushed, f)
		}
		d.pushPreroll(f)
		return nil

	case Active:
		if level < d.effectiveReleaseDB {
			d.enter(Hangover)
		}
		return []*framepool.Frame{f}

	case Hangover:
		if level > d.cfg.ThresholdDB {
			d.enter(Active)
			return []*framepool.Frame{f}
		}
		if d.samplesInState() >= d.hangoverSamples {
			d.enter(Idle)
			d.shouldClose = true
			return nil // closing: this frame is not written; caller releases it
		}
		return []*framepool.Frame{f}

	default:
		return nil
	}
}

// ShouldOpenFile reports (and clears) whether a transition into Active just
// latched a should-open signal.
func (d *Detector) ShouldOpenFile() bool {
	v := d.shouldOpen
	d.shouldOpen = false
	return v
}

// ShouldCloseFile reports (and clears) whether a transition into Idle from
// Hangover just latched a should-close signal.
func (d *Detector) ShouldCloseFile() bool {
	v := d.shouldClose
	d.shouldClose = false
	return v
}

// PrerollLen returns the number of frames currently buffered in pre-roll,
// for tests and diagnostics.
func (d *Detector) PrerollLen() int { return d.prerollLen }
