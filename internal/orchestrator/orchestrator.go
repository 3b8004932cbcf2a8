// Package orchestrator wires the frame pool, PTP clock, input driver,
// worker, and archive policy into a running process, and owns graceful
// shutdown on SIGINT/SIGTERM — spec §4.12/§6.
package orchestrator

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"aesarchive/internal/archive"
	"aesarchive/internal/config"
	"aesarchive/internal/framepool"
	"aesarchive/internal/levelmeter"
	"aesarchive/internal/localcapture"
	"aesarchive/internal/logging"
	"aesarchive/internal/ptpclock"
	"aesarchive/internal/rtpinput"
	"aesarchive/internal/sink"
	"aesarchive/internal/spscqueue"
	"aesarchive/internal/vox"
	"aesarchive/internal/worker"
)

// inputDriver abstracts the two ingestion paths (RTP multicast vs local
// capture) so Orchestrator.Run doesn't branch on which is active.
type inputDriver interface {
	Close() error
}

type rtpDriver struct {
	r    *rtpinput.Receiver
	stop chan struct{}
	done chan struct{}
}

func (d *rtpDriver) Close() error {
	close(d.stop)
	<-d.done
	return d.r.Close()
}

type localDriver struct {
	c *localcapture.Capture
}

func (d *localDriver) Close() error { return d.c.Stop() }

// Orchestrator owns every long-lived component for one archive stream.
type Orchestrator struct {
	cfg *config.Config
	log *logging.Logger

	pool   *framepool.Pool
	queue  *spscqueue.Queue[framepool.Frame]
	clock  *ptpclock.Clock
	policy *archive.Policy
	meter  *levelmeter.Meter
	w      *worker.Worker

	input      inputDriver
	stopCh     chan struct{}
	workerDone chan struct{}
}

// New builds every component from cfg without starting any goroutines.
func New(cfg *config.Config, log *logging.Logger) (*Orchestrator, error) {
	pool := framepool.New(cfg.PoolSize, cfg.SamplesPerFrame, cfg.Channels)
	queue := spscqueue.New[framepool.Frame](cfg.QueueCapacity)

	clk, err := ptpclock.New(cfg.PTPMode(), cfg.PTPDevice, cfg.PTPInterface)
	if err != nil {
		return nil, err
	}

	archCfg := archive.Config{
		Suffix:      cfg.ArchiveSuffix,
		PeriodSec:   cfg.ArchivePeriod,
		ClockSource: cfg.ArchiveClock,
		MkdirAll:    true,
	}
	if cfg.ArchiveRoot != "" {
		archCfg.Layout = cfg.ArchiveLayout
		archCfg.RootDir = cfg.ArchiveRoot
		archCfg.CustomFormat = cfg.ArchiveFormat
	} else {
		// Single-file mode: a flat, never-rotating layout rooted at the
		// parent of -o, with the policy always handing back that one path.
		archCfg.Layout = archive.Flat
		archCfg.RootDir = singleFileDir(cfg.SingleFile)
		archCfg.PeriodSec = 0
	}
	policy, err := archive.New(archCfg)
	if err != nil {
		clk.Close()
		return nil, err
	}

	meter := levelmeter.New(cfg.Channels, cfg.SampleRate, 1000, levelsWriter(cfg))

	var detector *vox.Detector
	if cfg.VOXEnabled {
		detector = vox.New(vox.Config{
			ThresholdDB:     cfg.VOXThreshold,
			ReleaseDB:       cfg.VOXRelease,
			DetectionMS:     cfg.VOXDetection,
			HangoverMS:      cfg.VOXHangover,
			PrerollMS:       cfg.VOXPreroll,
			SampleRate:      cfg.SampleRate,
			SamplesPerFrame: cfg.SamplesPerFrame,
			LevelMode:       cfg.VOXLevelMode,
			StereoMode:      cfg.VOXStereoMode,
		})
	}

	opener := sinkOpener(cfg)

	w := worker.New(worker.Config{IdleSleep: time.Millisecond, DrainOnStop: true},
		queue, pool, policy, opener, meter, detector, log.With("worker"))

	o := &Orchestrator{cfg: cfg, log: log, pool: pool, queue: queue, clock: clk, policy: policy, meter: meter, w: w}
	return o, nil
}

func singleFileDir(path string) string {
	for i := len(path) - 1; i >= 0; i-- {
		if path[i] == '/' {
			return path[:i]
		}
	}
	return "."
}

func levelsWriter(cfg *config.Config) *os.File {
	if !cfg.LevelsEnabled {
		return nil
	}
	return os.Stdout
}

func sinkOpener(cfg *config.Config) sink.Opener {
	if cfg.ArchiveSuffix == "opus" {
		return sink.OpusOpener(cfg.Channels, cfg.Bitrate, 0x4145_5341) // "AESA" as a fixed Ogg serial
	}
	return sink.WAVOpener(cfg.SampleRate, cfg.Channels, cfg.EnableFsync)
}

// Start launches the input driver and the worker goroutine.
func (o *Orchestrator) Start() error {
	if o.cfg.LocalCapture {
		cap, err := localcapture.Open(localcapture.Config{
			DeviceName:      o.cfg.InputDevice,
			Channels:        o.cfg.Channels,
			SampleRate:      o.cfg.SampleRate,
			SamplesPerFrame: o.cfg.SamplesPerFrame,
		}, o.pool, o.queue, o.clock)
		if err != nil {
			return err
		}
		if err := cap.Start(); err != nil {
			return err
		}
		o.input = &localDriver{c: cap}
	} else {
		addr := fmt.Sprintf("%s:%d", o.cfg.MulticastIP, o.cfg.Port)
		recv, err := rtpinput.New(rtpinput.Config{
			MulticastAddr:   addr,
			Interface:       o.cfg.Interface,
			PayloadType:     uint8(o.cfg.PayloadType),
			Codec:           o.cfg.Codec,
			SourceChannels:  o.cfg.StreamChannels,
			ChannelOffset:   o.cfg.ChannelOffset,
			OutputChannels:  o.cfg.Channels,
			SamplesPerFrame: o.cfg.SamplesPerFrame,
			SampleRate:      uint32(o.cfg.SampleRate),
			JitterDepthMS:   50,
			MaxLateDelta:    1000,
		}, o.pool, o.queue, o.clock)
		if err != nil {
			return err
		}
		d := &rtpDriver{r: recv, stop: make(chan struct{}), done: make(chan struct{})}
		go func() { recv.ReceiveLoop(d.stop); close(d.done) }()
		o.input = d
	}

	o.log.Infof("started: %s", o.cfg)

	o.stopCh = make(chan struct{})
	o.workerDone = make(chan struct{})
	go func() {
		o.w.Run(func() int64 { return o.clock.NowNS() }, o.stopCh)
		close(o.workerDone)
	}()
	return nil
}

// Run blocks until SIGINT/SIGTERM, then shuts down every component in
// dependency order: input first (so the queue drains to nothing new),
// then the worker (closes the active sink), then the clock.
func (o *Orchestrator) Run() error {
	if err := o.Start(); err != nil {
		return err
	}

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	signal.Ignore(syscall.SIGHUP)

	<-sigCh
	o.log.Infof("shutdown signal received")
	return o.Stop()
}

// Stop tears every component down; safe to call once after Start.
func (o *Orchestrator) Stop() error {
	if o.input != nil {
		if err := o.input.Close(); err != nil {
			o.log.Warnf("close input: %v", err)
		}
	}
	close(o.stopCh)

	select {
	case <-o.workerDone:
	case <-time.After(5 * time.Second):
		o.log.Warnf("worker did not stop within grace period")
	}

	if err := o.clock.Close(); err != nil {
		o.log.Warnf("close clock: %v", err)
	}
	return o.w.LastError()
}
