// Package localcapture implements the local audio-server capture fallback
// from spec §4.13: when no AES67/RTP source is available, PortAudio reads
// from the host's default (or a named) input device and feeds the same
// frame-pool/SPSC-queue pipeline that rtpinput drives from the network.
package localcapture

import (
	"sync/atomic"

	"github.com/gordonklaus/portaudio"

	"aesarchive/internal/errs"
	"aesarchive/internal/framepool"
	"aesarchive/internal/ptpclock"
	"aesarchive/internal/spscqueue"
)

// Config parameterizes the capture stream.
type Config struct {
	DeviceName      string // empty selects the system default input device
	Channels        int
	SampleRate      int
	SamplesPerFrame int
}

// Stats mirrors rtpinput's drop counters for the parts that apply locally.
type Stats struct {
	FramesCaptured uint64
	PoolDrops      uint64
	QueueDrops     uint64
}

// Capture owns an open PortAudio input stream.
type Capture struct {
	cfg    Config
	stream *portaudio.Stream
	buf    []float32
	pool   *framepool.Pool
	q      *spscqueue.Queue[framepool.Frame]
	clk    *ptpclock.Clock

	framesCaptured atomic.Uint64
	poolDrops      atomic.Uint64
	queueDrops     atomic.Uint64

	stop chan struct{}
	done chan struct{}
}

// Open initializes PortAudio (if not already done by the process) and opens
// an input stream on the named or default device. Fails with InvalidConfig
// if the device cannot be resolved, NetworkError-equivalent IoError if the
// stream cannot be opened (PortAudio has no network concept; IoError models
// "external device subsystem failure" per spec §7's taxonomy).
func Open(cfg Config, pool *framepool.Pool, q *spscqueue.Queue[framepool.Frame], clk *ptpclock.Clock) (*Capture, error) {
	if cfg.Channels <= 0 || cfg.SampleRate <= 0 || cfg.SamplesPerFrame <= 0 {
		return nil, errs.New(errs.InvalidConfig, "localcapture: channels/sample_rate/samples_per_frame must be positive")
	}

	// PortAudio reference-counts initialization, so this is safe even if
	// the process has already initialized it.
	if err := portaudio.Initialize(); err != nil {
		return nil, errs.Wrap(errs.IoError, "localcapture: initialize portaudio", err)
	}

	dev, err := resolveInputDevice(cfg.DeviceName)
	if err != nil {
		portaudio.Terminate()
		return nil, errs.Wrap(errs.InvalidConfig, "localcapture: resolve input device", err)
	}

	buf := make([]float32, cfg.SamplesPerFrame*cfg.Channels)
	params := portaudio.StreamParameters{
		Input: portaudio.StreamDeviceParameters{
			Device:   dev,
			Channels: cfg.Channels,
			Latency:  dev.DefaultLowInputLatency,
		},
		SampleRate:      float64(cfg.SampleRate),
		FramesPerBuffer: cfg.SamplesPerFrame,
	}

	stream, err := portaudio.OpenStream(params, buf)
	if err != nil {
		portaudio.Terminate()
		return nil, errs.Wrap(errs.IoError, "localcapture: open stream", err)
	}

	return &Capture{
		cfg:    cfg,
		stream: stream,
		buf:    buf,
		pool:   pool,
		q:      q,
		clk:    clk,
		stop:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

func resolveInputDevice(name string) (*portaudio.DeviceInfo, error) {
	if name == "" {
		return portaudio.DefaultInputDevice()
	}
	devices, err := portaudio.Devices()
	if err != nil {
		return nil, err
	}
	for _, d := range devices {
		if d.Name == name && d.MaxInputChannels > 0 {
			return d, nil
		}
	}
	return nil, errs.New(errs.InvalidConfig, "localcapture: no input device named "+name)
}

// Start begins the stream and the capture loop goroutine.
func (c *Capture) Start() error {
	if err := c.stream.Start(); err != nil {
		return errs.Wrap(errs.IoError, "localcapture: start stream", err)
	}
	go c.loop()
	return nil
}

func (c *Capture) loop() {
	defer close(c.done)
	for {
		select {
		case <-c.stop:
			return
		default:
		}
		if err := c.stream.Read(); err != nil {
			return
		}
		c.framesCaptured.Add(1)

		f, ok := c.pool.Acquire()
		if !ok {
			c.poolDrops.Add(1)
			continue
		}
		copy(f.Samples, c.buf)
		f.SampleFrames = c.cfg.SamplesPerFrame
		f.Channels = c.cfg.Channels
		f.TimestampNS = c.clk.NowNS()

		if !c.q.Push(f) {
			c.queueDrops.Add(1)
			c.pool.Release(f)
		}
	}
}

// Stop halts the capture loop and closes the stream. Safe to call once.
func (c *Capture) Stop() error {
	close(c.stop)
	<-c.done
	if err := c.stream.Stop(); err != nil {
		return errs.Wrap(errs.IoError, "localcapture: stop stream", err)
	}
	if err := c.stream.Close(); err != nil {
		return errs.Wrap(errs.IoError, "localcapture: close stream", err)
	}
	return nil
}

// Snapshot returns a point-in-time copy of the capture statistics.
func (c *Capture) Snapshot() Stats {
	return Stats{
		FramesCaptured: c.framesCaptured.Load(),
		PoolDrops:      c.poolDrops.Load(),
		QueueDrops:     c.queueDrops.Load(),
	}
}
