package opussink

import (
	"encoding/binary"
	"os"

	"aesarchive/internal/errs"
)

// oggWriter muxes Opus packets into an Ogg container per RFC 7845. It writes
// one packet per page, mirroring the per-datagram framing of the voice
// recorder this is generalized from.
type oggWriter struct {
	w         *os.File
	serial    uint32
	pageSeqNo uint32
}

func newOggWriter(f *os.File, serial uint32) *oggWriter {
	return &oggWriter{w: f, serial: serial}
}

// writeHeaders writes the mandatory OpusHead and OpusTags pages (RFC 7845
// §5.1-5.2). preSkip is in samples at 48 kHz (312 by spec).
func (o *oggWriter) writeHeaders(channels int, preSkip uint16, inputSampleRate uint32) error {
	head := make([]byte, 19)
	copy(head[0:8], "OpusHead")
	head[8] = 1 // version
	head[9] = byte(channels)
	binary.LittleEndian.PutUint16(head[10:12], preSkip)
	binary.LittleEndian.PutUint32(head[12:16], inputSampleRate)
	binary.LittleEndian.PutUint16(head[16:18], 0) // output gain
	head[18] = 0                                  // channel mapping family: 0 = mono/stereo

	if err := o.writePage(head, 0, 2); err != nil { // flag 2 = beginning of stream
		return err
	}

	vendor := "aesarchive"
	tags := make([]byte, 8+4+len(vendor)+4)
	copy(tags[0:8], "OpusTags")
	binary.LittleEndian.PutUint32(tags[8:12], uint32(len(vendor)))
	copy(tags[12:12+len(vendor)], vendor)
	binary.LittleEndian.PutUint32(tags[12+len(vendor):], 0) // no user comments

	return o.writePage(tags, 0, 0)
}

// writeOpusPacket writes a single Opus packet as an Ogg page, stamped with
// the running granule position (spec §4.9's granulepos law: cumulative
// decoded sample count minus pre-skip, in 48 kHz units).
func (o *oggWriter) writeOpusPacket(payload []byte, granulePos uint64) error {
	return o.writePage(payload, granulePos, 0)
}

// writeOpusPacketEOS writes a final audio packet with the EOS flag set on
// its own page, for the case where a partial frame was zero-padded and
// encoded at close (spec §4.9).
func (o *oggWriter) writeOpusPacketEOS(payload []byte, granulePos uint64) error {
	return o.writePage(payload, granulePos, 4)
}

// close writes an empty final page with the EOS flag set, for the case
// where no padded packet was needed at close (spec §4.9: "if audio was
// written but no e_o_s packet was produced, emit an empty packet with
// e_o_s=1").
func (o *oggWriter) close(lastGranulePos uint64) error {
	return o.writePage(nil, lastGranulePos, 4)
}

// writePage writes a single Ogg page. headerType: 0=normal, 1=continuation,
// 2=BOS, 4=EOS. Payloads over 255*255 bytes are not supported — Opus
// packets never approach that size.
func (o *oggWriter) writePage(payload []byte, granulePos uint64, headerType byte) error {
	segments := len(payload) / 255
	if len(payload)%255 != 0 || len(payload) == 0 {
		segments++
	}

	segTable := make([]byte, segments)
	remaining := len(payload)
	for i := 0; i < segments; i++ {
		if remaining >= 255 {
			segTable[i] = 255
			remaining -= 255
		} else {
			segTable[i] = byte(remaining)
			remaining = 0
		}
	}

	header := make([]byte, 27+len(segTable))
	copy(header[0:4], "OggS")
	header[4] = 0
	header[5] = headerType
	binary.LittleEndian.PutUint64(header[6:14], granulePos)
	binary.LittleEndian.PutUint32(header[14:18], o.serial)
	binary.LittleEndian.PutUint32(header[18:22], o.pageSeqNo)
	header[26] = byte(len(segTable))
	copy(header[27:], segTable)

	crc := oggCRC(header, payload)
	binary.LittleEndian.PutUint32(header[22:26], crc)

	o.pageSeqNo++

	if _, err := o.w.Write(header); err != nil {
		return errs.Wrap(errs.IoError, "opussink: write ogg page header", err)
	}
	if len(payload) > 0 {
		if _, err := o.w.Write(payload); err != nil {
			return errs.Wrap(errs.IoError, "opussink: write ogg page payload", err)
		}
	}
	return nil
}

// oggCRC computes the Ogg CRC-32: the unreflected form with polynomial
// 0x04C11DB7, distinct from the standard (reflected) CRC-32.
func oggCRC(header, payload []byte) uint32 {
	var crc uint32
	for _, b := range header {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	for _, b := range payload {
		crc = (crc << 8) ^ oggCRCTable[byte(crc>>24)^b]
	}
	return crc
}

var oggCRCTable = func() [256]uint32 {
	const poly = 0x04C11DB7
	var table [256]uint32
	for i := range table {
		r := uint32(i) << 24
		for j := 0; j < 8; j++ {
			if r&0x80000000 != 0 {
				r = (r << 1) ^ poly
			} else {
				r <<= 1
			}
		}
		table[i] = r
	}
	return table
}()
