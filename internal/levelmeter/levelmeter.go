// Package levelmeter implements the per-channel RMS/peak level detector
// described in spec §4.11, including the periodic stdout JSON emission
// from spec §6.
package levelmeter

import (
	"encoding/json"
	"io"
	"math"
	"time"
)

const (
	maxChannels  = 2
	silenceFloor = -60.0
	clipLevel    = 0.99
	// peakHoldDuration is the ~1.5s linear decay window for the peak-hold
	// value, per spec §4.11.
	peakHoldDuration = 1500 * time.Millisecond
)

// Reading is one channel's computed levels for an interval.
type Reading struct {
	RMSDB    float64 `json:"rms_db"`
	PeakDB   float64 `json:"peak_db"`
	Clipping bool    `json:"clipping"`
}

// emission is the stdout JSON envelope, shaped per spec §6: "left" is always
// present; "right" only for two-channel streams.
type emission struct {
	Type     string    `json:"type"`
	Channels int       `json:"channels"`
	Left     *oneDecimal `json:"left"`
	Right    *oneDecimal `json:"right,omitempty"`
}

// oneDecimal mirrors Reading but rounds its float fields to one decimal on
// marshal, matching spec §6 ("all numeric fields are one-decimal").
type oneDecimal struct {
	RMSDB    float64 `json:"rms_db"`
	PeakDB   float64 `json:"peak_db"`
	Clipping bool    `json:"clipping"`
}

func round1(v float64) float64 { return math.Round(v*10) / 10 }

func toOneDecimal(r Reading) *oneDecimal {
	return &oneDecimal{RMSDB: round1(r.RMSDB), PeakDB: round1(r.PeakDB), Clipping: r.Clipping}
}

type channelAccum struct {
	sumSquares float64
	count      int64
	peak       float64

	peakHold      float64
	peakHoldSetAt time.Time
}

// Meter accumulates per-channel sum-of-squares and peak, emitting a Reading
// set every intervalSamples of audio processed.
type Meter struct {
	channels       int
	intervalSamples int64
	accum          [maxChannels]channelAccum
	processed      int64

	w      io.Writer
	enc    *json.Encoder
	nowFn  func() time.Time
}

// New builds a meter for the given channel count and rate/interval. w, if
// non-nil, receives one flushed JSON line per emission interval (spec §6);
// pass nil to use only the readings returned by Process.
func New(channels int, sampleRate int, intervalMS int, w io.Writer) *Meter {
	if channels < 1 {
		channels = 1
	}
	if channels > maxChannels {
		channels = maxChannels
	}
	m := &Meter{
		channels:        channels,
		intervalSamples: int64(sampleRate) * int64(intervalMS) / 1000,
		nowFn:           time.Now,
	}
	if w != nil {
		m.w = w
		m.enc = json.NewEncoder(w)
	}
	for i := range m.accum {
		m.accum[i].peak = 0
		m.accum[i].peakHold = 0
	}
	return m
}

// Process folds nFrames interleaved float32 samples into the accumulators
// and, when the configured interval elapses, computes and (if a writer was
// given) emits a JSON line, flushing the writer afterward. It returns the
// readings (zero values when no interval completed) and whether this call
// completed an interval.
func (m *Meter) Process(samples []float32, nFrames int) ([maxChannels]Reading, bool) {
	now := m.nowFn()
	for i := 0; i < nFrames; i++ {
		for ch := 0; ch < m.channels; ch++ {
			v := samples[i*m.channels+ch]
			av := math.Abs(float64(v))
			a := &m.accum[ch]
			a.sumSquares += float64(v) * float64(v)
			a.count++
			if av > a.peak {
				a.peak = av
			}
			if av > a.peakHold {
				a.peakHold = av
				a.peakHoldSetAt = now
			}
		}
	}
	m.processed += int64(nFrames)

	if m.processed < m.intervalSamples {
		return [maxChannels]Reading{}, false
	}
	m.processed -= m.intervalSamples

	var out [maxChannels]Reading
	for ch := 0; ch < m.channels; ch++ {
		out[ch] = m.computeAndReset(ch, now)
	}

	if m.enc != nil {
		m.emit(out)
	}
	return out, true
}

func (m *Meter) computeAndReset(ch int, now time.Time) Reading {
	a := &m.accum[ch]

	rms := 0.0
	if a.count > 0 {
		rms = math.Sqrt(a.sumSquares / float64(a.count))
	}
	rmsDB := linearToDB(rms)
	peakDB := linearToDB(a.peak)

	// Apply linear peak-hold decay: the hold value decays to the floor over
	// peakHoldDuration since it was last set, and only ever reports a value
	// at least as loud as the just-measured peak.
	holdDB := peakDB
	if !a.peakHoldSetAt.IsZero() {
		elapsed := now.Sub(a.peakHoldSetAt)
		if elapsed < peakHoldDuration {
			held := linearToDB(a.peakHold)
			decayed := held + (silenceFloor-held)*float64(elapsed)/float64(peakHoldDuration)
			if decayed > holdDB {
				holdDB = decayed
			}
		}
	}

	clipping := a.peak >= clipLevel

	a.sumSquares, a.count, a.peak = 0, 0, 0

	rmsDB = clampFloor(rmsDB)
	holdDB = clampFloor(holdDB)
	if rmsDB > holdDB+1e-9 {
		// RMS can never legitimately exceed peak; clamp defensively.
		holdDB = rmsDB
	}

	return Reading{RMSDB: rmsDB, PeakDB: holdDB, Clipping: clipping}
}

func linearToDB(v float64) float64 {
	if v <= 0 {
		return silenceFloor
	}
	db := 20 * math.Log10(v)
	return clampFloor(db)
}

func clampFloor(db float64) float64 {
	if db < silenceFloor {
		return silenceFloor
	}
	if db > 0 {
		return 0
	}
	return db
}

// PerFrame computes instantaneous (non-accumulated, non-held) RMS/peak dB
// for a single frame, independent of the Meter's emission interval. VOX
// gates per-frame (spec §4.7), while Process's interval accumulation drives
// only the periodic stdout emission.
func PerFrame(samples []float32, nFrames, channels int) (rmsDB, peakDB [2]float64) {
	for ch := 0; ch < channels && ch < maxChannels; ch++ {
		var sumSquares, peak float64
		for i := 0; i < nFrames; i++ {
			v := float64(samples[i*channels+ch])
			sumSquares += v * v
			if av := v; av < 0 {
				av = -av
				if av > peak {
					peak = av
				}
			} else if av > peak {
				peak = av
			}
		}
		rms := 0.0
		if nFrames > 0 {
			rms = math.Sqrt(sumSquares / float64(nFrames))
		}
		rmsDB[ch] = linearToDB(rms)
		peakDB[ch] = linearToDB(peak)
	}
	return
}

func (m *Meter) emit(r [maxChannels]Reading) {
	e := emission{Type: "levels", Channels: m.channels, Left: toOneDecimal(r[0])}
	if m.channels == 2 {
		e.Right = toOneDecimal(r[1])
	}
	_ = m.enc.Encode(e) // best-effort stdout write; encoding a small struct cannot fail
	if f, ok := m.w.(interface{ Flush() error }); ok {
		_ = f.Flush()
	}
	if f, ok := m.w.(interface{ Sync() error }); ok {
		_ = f.Sync()
	}
}
