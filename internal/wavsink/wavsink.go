// Package wavsink implements the RIFF/WAVE PCM16 archive sink described in
// spec §4.8: a 44-byte header with placeholder sizes, interleaved
// little-endian PCM16 samples, and header patching on close.
package wavsink

import (
	"encoding/binary"
	"math"
	"os"

	"aesarchive/internal/errs"
)

const (
	headerSize  = 44
	maxFileSize = math.MaxUint32 // 2^32-1, spec §4.8's size ceiling
)

// Sink writes one rotated WAV file. Not safe for concurrent use; owned
// exclusively by the worker goroutine (spec §4.10).
type Sink struct {
	f            *os.File
	sampleRate   int
	channels     int
	enableFsync  bool

	bytesWritten uint32
	sizeLimitHit bool
	closed       bool
}

// Create opens path, truncating any existing file, and writes the
// placeholder header.
func Create(path string, sampleRate, channels int, enableFsync bool) (*Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "wavsink: create "+path, err)
	}

	s := &Sink{f: f, sampleRate: sampleRate, channels: channels, enableFsync: enableFsync}
	h := s.buildHeader(0, 0)
	// The initial header must advance the file's write offset (a plain
	// Write, not WriteAt) so the first sample Write call lands at offset
	// 44 instead of overwriting the header just written.
	if _, err := s.f.Write(h[:]); err != nil {
		f.Close()
		return nil, errs.Wrap(errs.IoError, "wavsink: write header", err)
	}
	return s, nil
}

func (s *Sink) buildHeader(riffSize, dataSize uint32) [headerSize]byte {
	var h [headerSize]byte
	copy(h[0:4], "RIFF")
	binary.LittleEndian.PutUint32(h[4:8], riffSize)
	copy(h[8:12], "WAVE")
	copy(h[12:16], "fmt ")
	binary.LittleEndian.PutUint32(h[16:20], 16) // fmt chunk size
	binary.LittleEndian.PutUint16(h[20:22], 1)  // PCM
	binary.LittleEndian.PutUint16(h[22:24], uint16(s.channels))
	binary.LittleEndian.PutUint32(h[24:28], uint32(s.sampleRate))
	byteRate := uint32(s.sampleRate * s.channels * 2)
	binary.LittleEndian.PutUint32(h[28:32], byteRate)
	blockAlign := uint16(s.channels * 2)
	binary.LittleEndian.PutUint16(h[32:34], blockAlign)
	binary.LittleEndian.PutUint16(h[34:36], 16) // bits per sample
	copy(h[36:40], "data")
	binary.LittleEndian.PutUint32(h[40:44], dataSize)
	return h
}

// patchHeader rewrites the header in place at offset 0 without disturbing
// the file's current write offset (os.File.WriteAt is a pwrite).
func (s *Sink) patchHeader(riffSize, dataSize uint32) error {
	h := s.buildHeader(riffSize, dataSize)
	if _, err := s.f.WriteAt(h[:], 0); err != nil {
		return errs.Wrap(errs.IoError, "wavsink: patch header", err)
	}
	return nil
}

// floatToPCM16 converts a float32 sample in [-1,+1] to a clamped,
// saturating PCM16 value, per spec §4.8.
func floatToPCM16(x float32) int16 {
	if x > 1 {
		x = 1
	}
	if x < -1 {
		x = -1
	}
	v := math.Round(float64(x) * 32767)
	if v > 32767 {
		v = 32767
	}
	if v < -32768 {
		v = -32768
	}
	return int16(v)
}

// Write appends nFrames of interleaved float32 samples (channels*nFrames
// values) as PCM16. channels must match the channel count given to Create.
// Rejects a write that would push bytes_written past 2^32-1, setting
// SizeLimitHit and returning a SizeLimit error; the file remains valid up
// to the last successful write.
func (s *Sink) Write(samples []float32, nFrames, channels int) error {
	if s.closed {
		return errs.New(errs.IoError, "wavsink: write after close")
	}
	if channels != s.channels {
		return errs.New(errs.InvalidConfig, "wavsink: channel count mismatch")
	}

	addBytes := uint64(nFrames) * uint64(channels) * 2
	if uint64(s.bytesWritten)+addBytes > maxFileSize {
		s.sizeLimitHit = true
		return errs.New(errs.SizeLimit, "wavsink: write exceeds 2^32-1 byte limit")
	}

	buf := make([]byte, addBytes)
	for i := 0; i < nFrames*channels; i++ {
		v := floatToPCM16(samples[i])
		binary.LittleEndian.PutUint16(buf[i*2:i*2+2], uint16(v))
	}

	if _, err := s.f.Write(buf); err != nil {
		return errs.Wrap(errs.IoError, "wavsink: write samples", err)
	}
	s.bytesWritten += uint32(addBytes)

	if s.enableFsync {
		if err := s.f.Sync(); err != nil {
			return errs.Wrap(errs.IoError, "wavsink: fsync", err)
		}
	}
	return nil
}

// SizeLimitHit reports whether a write was ever rejected for exceeding the
// RIFF/WAVE size ceiling.
func (s *Sink) SizeLimitHit() bool { return s.sizeLimitHit }

// BytesWritten returns the number of PCM data bytes appended so far.
func (s *Sink) BytesWritten() uint32 { return s.bytesWritten }

// Close patches the RIFF-size and data-size header fields and closes the
// file. Safe to call once; calling twice returns an error.
func (s *Sink) Close() error {
	if s.closed {
		return errs.New(errs.IoError, "wavsink: double close")
	}
	s.closed = true

	dataSize := s.bytesWritten
	riffSize := dataSize + 36
	if err := s.patchHeader(riffSize, dataSize); err != nil {
		s.f.Close()
		return err
	}

	if s.enableFsync {
		_ = s.f.Sync()
	}
	if err := s.f.Close(); err != nil {
		return errs.Wrap(errs.IoError, "wavsink: close", err)
	}
	return nil
}
