package worker

import (
	"errors"
	"io"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"aesarchive/internal/archive"
	"aesarchive/internal/framepool"
	"aesarchive/internal/levelmeter"
	"aesarchive/internal/logging"
	"aesarchive/internal/sink"
	"aesarchive/internal/spscqueue"
)

func testLogger() *logging.Logger { return logging.New(io.Discard, "test", logging.Error) }

type fakeSink struct {
	mu       sync.Mutex
	writes   int
	samples  int
	closed   bool
	failNext bool
}

func (s *fakeSink) Write(samples []float32, nFrames int) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.failNext {
		return errors.New("injected write failure")
	}
	s.writes++
	s.samples += nFrames
	return nil
}
func (s *fakeSink) Close() error      { s.closed = true; return nil }
func (s *fakeSink) SizeLimitHit() bool { return false }

func newFakeOpener(sinks *[]*fakeSink) sink.Opener {
	return func(path string) (sink.Sink, error) {
		s := &fakeSink{}
		*sinks = append(*sinks, s)
		return s, nil
	}
}

func TestWorkerWritesFramesWithoutVOX(t *testing.T) {
	const channels, spf = 1, 16
	pool := framepool.New(8, spf, channels)
	q := spscqueue.New[framepool.Frame](8)
	policy, err := archive.New(archive.Config{Layout: archive.Flat, RootDir: t.TempDir(), Suffix: "wav", PeriodSec: 0, ClockSource: archive.ClockUTC})
	if err != nil {
		t.Fatalf("archive.New: %v", err)
	}
	meter := levelmeter.New(channels, 48000, 1000, nil)

	var sinks []*fakeSink
	w := New(Config{IdleSleep: time.Millisecond}, q, pool, policy, newFakeOpener(&sinks), meter, nil, testLogger())

	f, _ := pool.Acquire()
	f.SampleFrames = spf
	f.Channels = channels
	if !q.Push(f) {
		t.Fatal("push failed")
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() { w.Run(func() int64 { return 0 }, stop); close(done) }()

	deadline := time.After(2 * time.Second)
	for {
		if w.Stats().FramesWritten >= 1 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for frame write")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	close(stop)
	<-done

	if len(sinks) != 1 {
		t.Fatalf("sinks opened = %d, want 1", len(sinks))
	}
	if !sinks[0].closed {
		t.Fatal("sink was not closed on stop")
	}
	if pool.FreeCount() != 8 {
		t.Fatalf("pool free count = %d, want 8 (frame returned)", pool.FreeCount())
	}
}

func TestWorkerRotatesOnPolicyBoundary(t *testing.T) {
	const channels, spf = 1, 4
	pool := framepool.New(8, spf, channels)
	q := spscqueue.New[framepool.Frame](8)
	policy, err := archive.New(archive.Config{
		Layout: archive.Flat, RootDir: filepath.Join(t.TempDir()), Suffix: "wav",
		PeriodSec: 1, ClockSource: archive.ClockUTC,
	})
	if err != nil {
		t.Fatalf("archive.New: %v", err)
	}
	meter := levelmeter.New(channels, 48000, 1000, nil)

	var sinks []*fakeSink
	w := New(Config{IdleSleep: time.Millisecond}, q, pool, policy, newFakeOpener(&sinks), meter, nil, testLogger())

	clockNS := int64(0)
	var clockMu sync.Mutex
	nowFn := func() int64 {
		clockMu.Lock()
		defer clockMu.Unlock()
		return clockNS
	}

	stop := make(chan struct{})
	done := make(chan struct{})
	go func() { w.Run(nowFn, stop); close(done) }()

	time.Sleep(5 * time.Millisecond) // let the worker open its first sink

	clockMu.Lock()
	clockNS = int64(2 * time.Second)
	clockMu.Unlock()

	f, _ := pool.Acquire()
	f.SampleFrames = spf
	f.Channels = channels
	q.Push(f)

	deadline := time.After(2 * time.Second)
	for {
		if len(sinks) >= 2 {
			break
		}
		select {
		case <-deadline:
			t.Fatal("timed out waiting for second rotation")
		default:
			time.Sleep(time.Millisecond)
		}
	}
	close(stop)
	<-done

	if !sinks[0].closed {
		t.Fatal("first sink not closed on rotation")
	}
}
