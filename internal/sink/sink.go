// Package sink unifies the WAV and Opus archive sinks (spec §4.8, §4.9)
// behind one interface so the worker (§4.10) never branches on format.
package sink

import (
	"aesarchive/internal/opussink"
	"aesarchive/internal/wavsink"
)

// Sink is a rotated archive file: a fixed-size PCM frame in, bytes out.
type Sink interface {
	Write(samples []float32, nFrames int) error
	Close() error
	SizeLimitHit() bool
}

// Opener creates a Sink at the given path. The worker calls it once per
// rotation.
type Opener func(path string) (Sink, error)

// WAVOpener returns an Opener that creates RIFF/WAVE PCM16 sinks.
func WAVOpener(sampleRate, channels int, enableFsync bool) Opener {
	return func(path string) (Sink, error) {
		s, err := wavsink.Create(path, sampleRate, channels, enableFsync)
		if err != nil {
			return nil, err
		}
		return &wavAdapter{s: s, channels: channels}, nil
	}
}

type wavAdapter struct {
	s        *wavsink.Sink
	channels int
}

func (a *wavAdapter) Write(samples []float32, nFrames int) error {
	return a.s.Write(samples, nFrames, a.channels)
}
func (a *wavAdapter) Close() error       { return a.s.Close() }
func (a *wavAdapter) SizeLimitHit() bool { return a.s.SizeLimitHit() }

// OpusOpener returns an Opener that creates Ogg Opus sinks. serial should be
// distinct per logical stream (the Ogg bitstream serial number); the
// orchestrator passes a fixed value since one worker drives one stream.
func OpusOpener(channels, bitrate int, serial uint32) Opener {
	return func(path string) (Sink, error) {
		s, err := opussink.Create(path, channels, bitrate, serial)
		if err != nil {
			return nil, err
		}
		return &opusAdapter{s: s}, nil
	}
}

type opusAdapter struct {
	s *opussink.Sink
}

func (a *opusAdapter) Write(samples []float32, nFrames int) error { return a.s.Write(samples, nFrames) }
func (a *opusAdapter) Close() error                               { return a.s.Close() }
func (a *opusAdapter) SizeLimitHit() bool                         { return false }
