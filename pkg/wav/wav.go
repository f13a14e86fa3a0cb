// Package wav wraps raw PCM audio in a minimal RIFF/WAVE container.
//
// Synthesis backends that return headerless PCM leave the player with no way
// to discover the sample format, so the pipeline wraps those payloads in a
// 44-byte canonical WAV header before they are queued for playback. Payloads
// that already carry a container (mp3, wav) pass through untouched.
package wav

import (
	"encoding/binary"
	"errors"
	"time"
)

// Canonical header layout: RIFF chunk, 16-byte fmt chunk, data chunk.
const (
	HeaderSize = 44

	formatPCM = 1
)

var (
	// ErrNotWAV is returned when a buffer does not start with a RIFF/WAVE
	// signature.
	ErrNotWAV = errors.New("wav: not a RIFF/WAVE container")

	// ErrMalformed is returned when a RIFF/WAVE buffer is truncated or is
	// missing the fmt or data chunk.
	ErrMalformed = errors.New("wav: malformed container")
)

// WrapPCM16Mono wraps a headerless little-endian 16-bit mono PCM payload in a
// self-describing WAV container.
//
// The function is total: any sample rate and any payload length, including
// empty, produce a valid header. All header fields are derived arithmetically
// from the arguments.
func WrapPCM16Mono(payload []byte, sampleRate int) []byte {
	const (
		channels      = 1
		bitsPerSample = 16
	)
	blockAlign := channels * bitsPerSample / 8
	byteRate := sampleRate * blockAlign
	dataSize := len(payload)

	out := make([]byte, HeaderSize+dataSize)

	copy(out[0:4], "RIFF")
	binary.LittleEndian.PutUint32(out[4:8], uint32(36+dataSize))
	copy(out[8:12], "WAVE")

	copy(out[12:16], "fmt ")
	binary.LittleEndian.PutUint32(out[16:20], 16)
	binary.LittleEndian.PutUint16(out[20:22], formatPCM)
	binary.LittleEndian.PutUint16(out[22:24], channels)
	binary.LittleEndian.PutUint32(out[24:28], uint32(sampleRate))
	binary.LittleEndian.PutUint32(out[28:32], uint32(byteRate))
	binary.LittleEndian.PutUint16(out[32:34], uint16(blockAlign))
	binary.LittleEndian.PutUint16(out[34:36], bitsPerSample)

	copy(out[36:40], "data")
	binary.LittleEndian.PutUint32(out[40:44], uint32(dataSize))
	copy(out[HeaderSize:], payload)

	return out
}

// Header describes the format and data layout of a WAV buffer.
type Header struct {
	Format        uint16
	Channels      uint16
	SampleRate    uint32
	ByteRate      uint32
	BlockAlign    uint16
	BitsPerSample uint16

	// DataOffset and DataSize locate the sample payload within the buffer.
	DataOffset int
	DataSize   uint32
}

// Duration returns the playback duration described by the header, or zero if
// the byte rate is unknown.
func (h Header) Duration() time.Duration {
	if h.ByteRate == 0 {
		return 0
	}
	return time.Duration(float64(h.DataSize) / float64(h.ByteRate) * float64(time.Second))
}

// PCM returns true if the header declares uncompressed linear PCM samples.
func (h Header) PCM() bool {
	return h.Format == formatPCM
}

// ParseHeader reads the RIFF, fmt and data chunks from the front of a WAV
// buffer. Chunks between fmt and data (LIST, fact) are skipped.
func ParseHeader(b []byte) (Header, error) {
	var h Header

	if len(b) < 12 || string(b[0:4]) != "RIFF" || string(b[8:12]) != "WAVE" {
		return h, ErrNotWAV
	}

	sawFmt := false
	off := 12
	for off+8 <= len(b) {
		id := string(b[off : off+4])
		size := int(binary.LittleEndian.Uint32(b[off+4 : off+8]))
		body := off + 8

		switch id {
		case "fmt ":
			if size < 16 || body+16 > len(b) {
				return h, ErrMalformed
			}
			h.Format = binary.LittleEndian.Uint16(b[body : body+2])
			h.Channels = binary.LittleEndian.Uint16(b[body+2 : body+4])
			h.SampleRate = binary.LittleEndian.Uint32(b[body+4 : body+8])
			h.ByteRate = binary.LittleEndian.Uint32(b[body+8 : body+12])
			h.BlockAlign = binary.LittleEndian.Uint16(b[body+12 : body+14])
			h.BitsPerSample = binary.LittleEndian.Uint16(b[body+14 : body+16])
			sawFmt = true
		case "data":
			if !sawFmt {
				return h, ErrMalformed
			}
			h.DataOffset = body
			h.DataSize = uint32(size)
			return h, nil
		}

		// Chunk bodies are word-aligned.
		off = body + size + size%2
	}

	return h, ErrMalformed
}
