package codec

import (
	"fmt"
	"math"
	"os"
	"path/filepath"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
)

// Info describes the stream stored in a WAV file.
type Info struct {
	SampleRate int
	Channels   int
	Format     Format
	Frames     int
}

// Duration returns the clip length in seconds rounded to two decimals.
func (i Info) Duration() float64 {
	if i.SampleRate <= 0 {
		return 0
	}
	secs := float64(i.Frames) / float64(i.SampleRate)
	return math.Round(secs*100) / 100
}

// WriteWAV encodes PCM samples as info.Format and writes a WAV file at path.
// The parent directory is created when missing.
func WriteWAV(path string, info Info, samples []int16) error {
	if info.Channels <= 0 || info.SampleRate <= 0 {
		return fmt.Errorf("%w: invalid stream parameters rate=%d channels=%d", ErrFormat, info.SampleRate, info.Channels)
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return fmt.Errorf("failed to create directories: %w", err)
	}

	encoded, err := Encode(info.Format, samples)
	if err != nil {
		return err
	}

	// go-audio writes 8-bit samples verbatim, so companded bytes pass through
	// unchanged; 16-bit PCM goes in as sample values.
	var data []int
	if info.Format.Companded() {
		data = make([]int, len(encoded))
		for i, b := range encoded {
			data[i] = int(b)
		}
	} else {
		data = make([]int, len(samples))
		for i, s := range samples {
			data[i] = int(s)
		}
	}

	outFile, err := os.Create(path)
	if err != nil {
		return fmt.Errorf("failed to create file: %w", err)
	}
	defer outFile.Close()

	enc := wav.NewEncoder(outFile, info.SampleRate, info.Format.BitDepth(), info.Channels, info.Format.wavTag())
	buf := &audio.IntBuffer{
		Data:           data,
		Format:         &audio.Format{SampleRate: info.SampleRate, NumChannels: info.Channels},
		SourceBitDepth: info.Format.BitDepth(),
	}
	if err := enc.Write(buf); err != nil {
		return fmt.Errorf("failed to write to WAV encoder: %w", err)
	}
	if err := enc.Close(); err != nil {
		return fmt.Errorf("failed to finalize WAV file: %w", err)
	}
	return outFile.Sync()
}

// ReadWAV decodes a WAV file written in any supported format back into linear PCM.
func ReadWAV(path string) (Info, []int16, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, nil, err
	}
	defer f.Close()

	// ReadInfo instead of IsValidFile: a clip stopped immediately has no
	// frames and must still load.
	dec := wav.NewDecoder(f)
	dec.ReadInfo()
	if err := dec.Err(); err != nil {
		return Info{}, nil, fmt.Errorf("%w: %s: %v", ErrMalformedAudio, path, err)
	}
	if dec.SampleRate == 0 {
		return Info{}, nil, fmt.Errorf("%w: %s is not a valid wav file", ErrMalformedAudio, path)
	}

	format, err := formatFromTag(dec.WavAudioFormat)
	if err != nil {
		return Info{}, nil, err
	}
	if int(dec.BitDepth) != format.BitDepth() {
		return Info{}, nil, fmt.Errorf("%w: %s declares %d-bit %s", ErrMalformedAudio, path, dec.BitDepth, format)
	}

	buf, err := dec.FullPCMBuffer()
	if err != nil {
		return Info{}, nil, fmt.Errorf("%w: %v", ErrMalformedAudio, err)
	}

	info := Info{
		SampleRate: int(dec.SampleRate),
		Channels:   int(dec.NumChans),
		Format:     format,
	}
	if info.Channels <= 0 {
		return Info{}, nil, fmt.Errorf("%w: %s has no channels", ErrMalformedAudio, path)
	}

	var samples []int16
	if format.Companded() {
		raw := make([]byte, len(buf.Data))
		for i, v := range buf.Data {
			raw[i] = byte(v)
		}
		if samples, err = Decode(format, raw); err != nil {
			return Info{}, nil, err
		}
	} else {
		samples = make([]int16, len(buf.Data))
		for i, v := range buf.Data {
			samples[i] = int16(v)
		}
	}

	info.Frames = len(samples) / info.Channels
	return info, samples, nil
}
