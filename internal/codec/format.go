// Package codec converts between linear PCM and the G.711 companded encodings
// used by legacy telephony-style devices, and reads/writes the WAV container
// the recorder stores clips in.
package codec

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"strings"

	"github.com/zaf/g711"
)

// Format is the on-disk sample encoding of a stored clip.
type Format string

const (
	FormatPCM  Format = "pcm"
	FormatALaw Format = "alaw"
	FormatULaw Format = "ulaw"
)

// WAV format tags (fmt chunk AudioFormat field)
const (
	wavTagPCM  = 1
	wavTagALaw = 6
	wavTagULaw = 7
)

var (
	// ErrFormat is the root of every format related failure.
	ErrFormat = errors.New("audio format error")

	ErrUnsupportedFormat = fmt.Errorf("%w: unsupported format", ErrFormat)
	ErrMalformedAudio    = fmt.Errorf("%w: malformed audio", ErrFormat)
)

// ParseFormat maps a configuration value onto a Format. Matching is case
// insensitive and accepts the "mulaw"/"a-law" spellings some devices use.
func ParseFormat(s string) (Format, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "pcm", "s16le", "":
		return FormatPCM, nil
	case "alaw", "a-law", "pcma":
		return FormatALaw, nil
	case "ulaw", "mulaw", "u-law", "mu-law", "pcmu":
		return FormatULaw, nil
	default:
		return "", fmt.Errorf("%w: %q (valid: pcm, alaw, ulaw)", ErrUnsupportedFormat, s)
	}
}

// Companded reports whether f stores 8-bit logarithmic samples.
func (f Format) Companded() bool {
	return f == FormatALaw || f == FormatULaw
}

// BitDepth returns the stored bits per sample.
func (f Format) BitDepth() int {
	if f.Companded() {
		return 8
	}
	return 16
}

func (f Format) wavTag() int {
	switch f {
	case FormatALaw:
		return wavTagALaw
	case FormatULaw:
		return wavTagULaw
	default:
		return wavTagPCM
	}
}

func formatFromTag(tag uint16) (Format, error) {
	switch tag {
	case wavTagPCM:
		return FormatPCM, nil
	case wavTagALaw:
		return FormatALaw, nil
	case wavTagULaw:
		return FormatULaw, nil
	default:
		return "", fmt.Errorf("%w: wav format tag %d", ErrUnsupportedFormat, tag)
	}
}

// Encode converts linear PCM samples into the byte representation of f.
// Companded output is one byte per sample; PCM is little-endian int16.
func Encode(f Format, samples []int16) ([]byte, error) {
	switch f {
	case FormatPCM:
		return SamplesToBytes(samples), nil
	case FormatALaw:
		out := make([]byte, len(samples))
		for i, s := range samples {
			out[i] = g711.EncodeAlawFrame(clampCompand(s))
		}
		return out, nil
	case FormatULaw:
		out := make([]byte, len(samples))
		for i, s := range samples {
			out[i] = g711.EncodeUlawFrame(clampCompand(s))
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
}

// clampCompand maps -32768 to -32767. The G.711 encoders negate negative
// samples, which overflows for the most negative int16.
func clampCompand(s int16) int16 {
	if s == math.MinInt16 {
		return -math.MaxInt16
	}
	return s
}

// Decode converts bytes encoded as f back into linear PCM samples.
func Decode(f Format, data []byte) ([]int16, error) {
	switch f {
	case FormatPCM:
		if len(data)%2 != 0 {
			return nil, fmt.Errorf("%w: odd pcm byte count %d", ErrMalformedAudio, len(data))
		}
		return BytesToSamples(data), nil
	case FormatALaw:
		out := make([]int16, len(data))
		for i, b := range data {
			out[i] = g711.DecodeAlawFrame(b)
		}
		return out, nil
	case FormatULaw:
		out := make([]int16, len(data))
		for i, b := range data {
			out[i] = g711.DecodeUlawFrame(b)
		}
		return out, nil
	default:
		return nil, fmt.Errorf("%w: %q", ErrUnsupportedFormat, f)
	}
}

// BytesToSamples reinterprets S16LE bytes as samples. A trailing odd byte is dropped.
func BytesToSamples(data []byte) []int16 {
	samples := make([]int16, len(data)/2)
	for i := range samples {
		samples[i] = int16(binary.LittleEndian.Uint16(data[2*i:]))
	}
	return samples
}

// SamplesToBytes serialises samples as S16LE.
func SamplesToBytes(samples []int16) []byte {
	out := make([]byte, 2*len(samples))
	for i, s := range samples {
		binary.LittleEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out
}
