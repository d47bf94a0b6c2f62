package codec

import (
	"math"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func testSignal() []int16 {
	samples := make([]int16, 0, 2048)
	for i := 0; i < 1024; i++ {
		v := 30000 * math.Sin(2*math.Pi*float64(i)/64)
		samples = append(samples, int16(v))
	}
	samples = append(samples, 0, 1, -1, 15, -15, 255, -256, 4095, -4096, math.MaxInt16, math.MinInt16)
	return samples
}

// companding keeps a 4-bit mantissa, so the error stays within a small
// fraction of the magnitude plus the finest step near zero.
func quantizationBound(x int16) float64 {
	return math.Abs(float64(x))/16 + 64
}

func TestParseFormat(t *testing.T) {
	cases := map[string]Format{
		"pcm":   FormatPCM,
		"":      FormatPCM,
		"ALAW":  FormatALaw,
		"a-law": FormatALaw,
		"ulaw":  FormatULaw,
		"mulaw": FormatULaw,
		" PCMU": FormatULaw,
	}
	for in, want := range cases {
		got, err := ParseFormat(in)
		require.NoError(t, err, in)
		assert.Equal(t, want, got, in)
	}

	_, err := ParseFormat("mp3")
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	require.ErrorIs(t, err, ErrFormat)
}

func TestPCMRoundTripIsExact(t *testing.T) {
	samples := testSignal()
	encoded, err := Encode(FormatPCM, samples)
	require.NoError(t, err)
	assert.Len(t, encoded, 2*len(samples))

	decoded, err := Decode(FormatPCM, encoded)
	require.NoError(t, err)
	assert.Equal(t, samples, decoded)
}

func TestCompandedRoundTripWithinQuantizationBound(t *testing.T) {
	samples := testSignal()
	for _, f := range []Format{FormatALaw, FormatULaw} {
		encoded, err := Encode(f, samples)
		require.NoError(t, err)
		require.Len(t, encoded, len(samples), "one byte per sample for %s", f)

		decoded, err := Decode(f, encoded)
		require.NoError(t, err)
		require.Len(t, decoded, len(samples))

		for i, s := range samples {
			diff := math.Abs(float64(decoded[i]) - float64(s))
			assert.LessOrEqual(t, diff, quantizationBound(s), "%s sample %d: in=%d out=%d", f, i, s, decoded[i])
		}
	}
}

func TestCompandingIsBitStable(t *testing.T) {
	samples := testSignal()
	for _, f := range []Format{FormatALaw, FormatULaw} {
		first, err := Encode(f, samples)
		require.NoError(t, err)
		second, err := Encode(f, samples)
		require.NoError(t, err)
		assert.Equal(t, first, second, f)

		// re-encoding the decoded signal lands on the same code words
		decoded, err := Decode(f, first)
		require.NoError(t, err)
		again, err := Encode(f, decoded)
		require.NoError(t, err)
		assert.Equal(t, first, again, f)
	}
}

func TestFullScaleNegativeEncodesAsFullScale(t *testing.T) {
	for _, f := range []Format{FormatALaw, FormatULaw} {
		encoded, err := Encode(f, []int16{math.MinInt16, -math.MaxInt16})
		require.NoError(t, err)
		assert.Equal(t, encoded[1], encoded[0], "%s: -32768 must share the code of -32767", f)

		decoded, err := Decode(f, encoded)
		require.NoError(t, err)
		assert.Less(t, decoded[0], int16(-30000), f)
	}
}

func TestDecodeRejectsOddPCM(t *testing.T) {
	_, err := Decode(FormatPCM, []byte{1, 2, 3})
	require.ErrorIs(t, err, ErrMalformedAudio)
}

func TestUnknownFormat(t *testing.T) {
	_, err := Encode(Format("flac"), []int16{1})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
	_, err = Decode(Format("flac"), []byte{1})
	require.ErrorIs(t, err, ErrUnsupportedFormat)
}
