// Package opussink implements the Ogg Opus archive sink described in spec
// §4.9: Opus-encode fixed PCM frames and mux them into an Ogg container with
// correctly advancing granule positions.
package opussink

import (
	"os"

	"gopkg.in/hraban/opus.v2"

	"aesarchive/internal/errs"
)

// preSkip is the fixed Opus pre-skip in samples at 48 kHz, per spec §4.9.
const preSkip = 312

// opusSampleRate is the only rate the Opus encoder accepts for this sink;
// input must already be at this rate (no resampling, per spec's non-goals).
const opusSampleRate = 48000

// frameSize is the fixed Opus encode frame size: 20 ms at 48 kHz, per spec
// §4.9's granulepos law. The input FIFO buffers whatever chunk sizes Write
// is called with and re-chunks to this size regardless of the upstream
// samples-per-frame configuration.
const frameSize = 960

// fifoCapSamples is the input FIFO's hard cap: 10 s of audio at 48 kHz, per
// spec §3/§4.9.
const fifoCapSamples = 10 * opusSampleRate

// Sink writes one rotated Ogg Opus file. Not safe for concurrent use.
type Sink struct {
	f        *os.File
	ogg      *oggWriter
	enc      *opus.Encoder
	channels int

	granule int64 // 48 kHz granule position tracker; starts at -preSkip
	fifo    []float32
	scratch []byte
	pcm     []int16 // reused encode input buffer, frameSize*channels wide

	wroteAnyPacket bool
	closed         bool
}

// Create opens path, writes the OpusHead/OpusTags header pages, and
// prepares an encoder for the given channel count and bitrate (bits/sec).
func Create(path string, channels int, bitrate int, serial uint32) (*Sink, error) {
	f, err := os.Create(path)
	if err != nil {
		return nil, errs.Wrap(errs.IoError, "opussink: create "+path, err)
	}

	enc, err := opus.NewEncoder(opusSampleRate, channels, opus.AppAudio)
	if err != nil {
		f.Close()
		return nil, errs.Wrap(errs.EncodeError, "opussink: new encoder", err)
	}
	if bitrate > 0 {
		if err := enc.SetBitrate(bitrate); err != nil {
			f.Close()
			return nil, errs.Wrap(errs.EncodeError, "opussink: set bitrate", err)
		}
	}

	ogg := newOggWriter(f, serial)
	if err := ogg.writeHeaders(channels, preSkip, opusSampleRate); err != nil {
		f.Close()
		return nil, err
	}

	return &Sink{
		f:        f,
		ogg:      ogg,
		enc:      enc,
		channels: channels,
		granule:  -preSkip,
		scratch:  make([]byte, 4000), // generous ceiling for one Opus frame
		pcm:      make([]int16, frameSize*channels),
	}, nil
}

// Write appends interleaved float32 samples (nFrames*channels values) to the
// input FIFO and encodes every full frameSize chunk it accumulates, per spec
// §4.9's buffering rule. Rejects the write without buffering any of it if it
// would push the FIFO past its 10 s cap.
func (s *Sink) Write(samples []float32, nFrames int) error {
	if s.closed {
		return errs.New(errs.IoError, "opussink: write after close")
	}

	curFrames := len(s.fifo) / s.channels
	if curFrames+nFrames > fifoCapSamples {
		return errs.New(errs.ResourceExhaustion, "opussink: input FIFO overflow")
	}

	s.fifo = append(s.fifo, samples[:nFrames*s.channels]...)
	return s.drainFullFrames()
}

// drainFullFrames encodes and emits every complete frameSize chunk currently
// buffered, leaving any partial remainder in the FIFO for the next Write or
// for Close to zero-pad.
func (s *Sink) drainFullFrames() error {
	for len(s.fifo)/s.channels >= frameSize {
		chunk := s.fifo[:frameSize*s.channels]
		if err := s.encodeAndWrite(chunk, false); err != nil {
			return err
		}
		s.fifo = s.fifo[frameSize*s.channels:]
	}
	if len(s.fifo) == 0 {
		s.fifo = nil
	} else {
		// Compact so the backing array doesn't grow unbounded across many
		// small Write calls that each leave a remainder.
		rest := make([]float32, len(s.fifo))
		copy(rest, s.fifo)
		s.fifo = rest
	}
	return nil
}

// encodeAndWrite Opus-encodes exactly one frameSize*channels chunk and
// appends it as an Ogg page, advancing the granulepos tracker by frameSize
// per spec §4.9's law (cumulative decoded sample count minus pre-skip).
func (s *Sink) encodeAndWrite(chunk []float32, eos bool) error {
	for i, v := range chunk {
		s.pcm[i] = floatToPCM16(v)
	}

	n, err := s.enc.Encode(s.pcm, s.scratch)
	if err != nil {
		return errs.Wrap(errs.EncodeError, "opussink: encode", err)
	}

	s.granule += frameSize
	s.wroteAnyPacket = true
	if eos {
		return s.ogg.writeOpusPacketEOS(s.scratch[:n], s.granuleU64())
	}
	return s.ogg.writeOpusPacket(s.scratch[:n], s.granuleU64())
}

func (s *Sink) granuleU64() uint64 {
	if s.granule < 0 {
		return 0
	}
	return uint64(s.granule)
}

func floatToPCM16(x float32) int16 {
	if x > 1 {
		x = 1
	}
	if x < -1 {
		x = -1
	}
	v := x * 32767
	if v > 32767 {
		v = 32767
	}
	if v < -32768 {
		v = -32768
	}
	return int16(v)
}

// GranulePos returns the running granule position (for tests).
func (s *Sink) GranulePos() uint64 { return s.granuleU64() }

// Close flushes any partial frame and writes the final EOS page, per spec
// §4.9's close sequence: zero-pad a remaining partial frame to frameSize and
// encode it with the EOS flag set; if nothing is pending, emit an empty
// EOS-flagged page at the current granulepos instead.
func (s *Sink) Close() error {
	if s.closed {
		return errs.New(errs.IoError, "opussink: double close")
	}
	s.closed = true

	pending := len(s.fifo) / s.channels
	if pending > 0 {
		padded := make([]float32, frameSize*s.channels)
		copy(padded, s.fifo)
		s.fifo = nil
		if err := s.encodeAndWrite(padded, true); err != nil {
			s.f.Close()
			return err
		}
	} else if err := s.ogg.close(s.granuleU64()); err != nil {
		s.f.Close()
		return err
	}

	if err := s.f.Close(); err != nil {
		return errs.Wrap(errs.IoError, "opussink: close", err)
	}
	return nil
}
