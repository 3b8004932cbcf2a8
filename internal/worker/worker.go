// Package worker implements the non-real-time consumer thread described in
// spec §4.10: drains the SPSC queue, applies rotation/VOX/level-metering,
// writes to the active sink, and returns frames to the pool.
package worker

import (
	"sync/atomic"
	"time"

	"aesarchive/internal/archive"
	"aesarchive/internal/framepool"
	"aesarchive/internal/levelmeter"
	"aesarchive/internal/logging"
	"aesarchive/internal/sink"
	"aesarchive/internal/spscqueue"
	"aesarchive/internal/vox"
)

const defaultIdleSleep = time.Millisecond

// Config parameterizes the worker.
type Config struct {
	IdleSleep   time.Duration // default 1ms if zero
	DrainOnStop bool
}

// Stats are the cumulative counters logged on stop.
type Stats struct {
	FramesWritten uint64
	FramesDropped uint64 // released without being written (e.g. VOX gated)
	Rotations     uint64
	WriteErrors   uint64
}

// Worker drains q, applying the archive policy, an optional VOX detector,
// and the level meter, writing selected frames to the active sink.
type Worker struct {
	cfg     Config
	q       *spscqueue.Queue[framepool.Frame]
	pool    *framepool.Pool
	policy  *archive.Policy
	opener  sink.Opener
	meter   *levelmeter.Meter
	detector *vox.Detector // nil disables gating
	log     *logging.Logger

	running atomic.Bool
	cur     sink.Sink
	curPath string

	framesWritten atomic.Uint64
	framesDropped atomic.Uint64
	writeErrors   atomic.Uint64

	lastErr error
}

// New builds a Worker. meter and detector may be nil? meter must not be
// nil (level metering always runs); detector is nil when VOX is disabled.
func New(cfg Config, q *spscqueue.Queue[framepool.Frame], pool *framepool.Pool, policy *archive.Policy, opener sink.Opener, meter *levelmeter.Meter, detector *vox.Detector, log *logging.Logger) *Worker {
	if cfg.IdleSleep <= 0 {
		cfg.IdleSleep = defaultIdleSleep
	}
	return &Worker{cfg: cfg, q: q, pool: pool, policy: policy, opener: opener, meter: meter, detector: detector, log: log}
}

// Run executes the worker loop until stop is closed (or a write error
// occurs). It is meant to run on its own goroutine.
func (w *Worker) Run(nowNS func() int64, stop <-chan struct{}) {
	w.running.Store(true)
	defer w.running.Store(false)

	if err := w.rotate(nowNS()); err != nil {
		w.fail(err)
		return
	}

	for w.running.Load() {
		select {
		case <-stop:
			w.running.Store(false)
		default:
		}
		if !w.running.Load() {
			break
		}

		f := w.q.Pop()
		if f == nil {
			time.Sleep(w.cfg.IdleSleep)
			continue
		}

		if !w.processFrame(f, nowNS()) {
			return
		}
	}

	if w.cfg.DrainOnStop {
		for {
			f := w.q.Pop()
			if f == nil {
				break
			}
			if !w.processFrame(f, nowNS()) {
				break
			}
		}
	}

	if w.cur != nil {
		if err := w.cur.Close(); err != nil {
			w.log.Warnf("close sink on stop: %v", err)
		}
		w.cur = nil
	}
	w.log.Infof("stopped: written=%d dropped=%d rotations=%d write_errors=%d",
		w.framesWritten.Load(), w.framesDropped.Load(), w.Stats().Rotations, w.writeErrors.Load())
}

// processFrame runs steps 2-6 of spec §4.10 for one popped frame. It
// returns false if a write failure should stop the worker loop.
func (w *Worker) processFrame(f *framepool.Frame, nowNS int64) bool {
	forceRotate := w.policy.ShouldRotate(nowNS)
	if forceRotate {
		if err := w.rotate(nowNS); err != nil {
			w.fail(err)
			w.pool.Release(f)
			return false
		}
	}

	samples := f.Samples[:f.SampleFrames*f.Channels]
	w.meter.Process(samples, f.SampleFrames) // accumulates toward the periodic stdout emission
	rmsDB, peakDB := levelmeter.PerFrame(samples, f.SampleFrames, f.Channels)

	var toWrite []*framepool.Frame
	if w.detector != nil {
		toWrite = w.detector.Process(f, rmsDB, peakDB, f.Channels)
		if ev := w.detector.EvictedFrame(); ev != nil {
			w.pool.Release(ev)
		}
		if w.detector.ShouldOpenFile() || w.detector.ShouldCloseFile() {
			if err := w.rotate(nowNS); err != nil {
				w.fail(err)
				for _, wf := range toWrite {
					w.pool.Release(wf)
				}
				return false
			}
		}
	} else {
		toWrite = []*framepool.Frame{f}
	}

	if len(toWrite) == 0 {
		w.framesDropped.Add(1)
		if w.detector == nil || w.detector.PrerollLen() == 0 {
			// Either VOX is disabled (unreachable here) or f was not
			// retained in the pre-roll ring (e.g. the hangover-closing
			// transition) — f is ours to release.
			w.pool.Release(f)
		}
		// Otherwise f was handed to the pre-roll ring; the detector owns it
		// until a later flush or eviction.
		return true
	}

	for _, wf := range toWrite {
		if w.cur != nil {
			if err := w.cur.Write(wf.Samples[:wf.SampleFrames*wf.Channels], wf.SampleFrames); err != nil {
				w.fail(err)
				w.writeErrors.Add(1)
				w.pool.Release(wf)
				return false
			}
			w.framesWritten.Add(1)
		} else {
			w.framesDropped.Add(1)
		}
		w.pool.Release(wf)
	}
	return true
}

// rotate closes the current sink (if any) and opens the next one per the
// archive policy, per spec §4.6/§4.10.
func (w *Worker) rotate(nowNS int64) error {
	if w.cur != nil {
		if err := w.cur.Close(); err != nil {
			return err
		}
		w.cur = nil
	}

	path, err := w.policy.NextPath(nowNS)
	if err != nil {
		return err
	}
	s, err := w.opener(path)
	if err != nil {
		return err
	}
	w.policy.Advance()
	w.cur = s
	w.curPath = path
	w.log.Infof("rotated to %s", path)
	return nil
}

func (w *Worker) fail(err error) {
	w.lastErr = err
	w.running.Store(false)
	w.log.Errorf("%v", err)
}

// LastError returns the error (if any) that stopped the worker.
func (w *Worker) LastError() error { return w.lastErr }

// CurrentPath returns the path of the currently open sink, or "".
func (w *Worker) CurrentPath() string { return w.curPath }

// Stats returns a snapshot of the worker's cumulative counters.
func (w *Worker) Stats() Stats {
	return Stats{
		FramesWritten: w.framesWritten.Load(),
		FramesDropped: w.framesDropped.Load(),
		Rotations:     w.policy.Rotations(),
		WriteErrors:   w.writeErrors.Load(),
	}
}
