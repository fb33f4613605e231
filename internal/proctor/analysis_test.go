package proctor

import (
	"image"
	"image/color"
	"math"
	"math/cmplx"
	"math/rand/v2"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestSkinToneRatio(t *testing.T) {
	est := SkinToneEstimator{Threshold: 0.10}

	assert.InDelta(t, 1.0, est.Ratio(solidFrame(20, 10, skinColor)), 1e-9)
	assert.InDelta(t, 0.0, est.Ratio(solidFrame(20, 10, wallColor)), 1e-9)

	half := solidFrame(20, 10, wallColor)
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			half.SetRGBA(x, y, skinColor)
		}
	}
	assert.InDelta(t, 0.5, est.Ratio(half), 1e-9)
	assert.True(t, est.FacePresent(half))
	assert.False(t, est.FacePresent(solidFrame(20, 10, wallColor)))
}

func TestSkinToneRatioOnGenericImage(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 10, 10))
	for y := 0; y < 10; y++ {
		for x := 0; x < 10; x++ {
			c := color.NRGBA{R: 90, G: 90, B: 90, A: 255}
			if x == 0 {
				c = color.NRGBA{R: 200, G: 140, B: 110, A: 255}
			}
			img.SetNRGBA(x, y, c)
		}
	}
	est := SkinToneEstimator{}
	assert.InDelta(t, 0.1, est.Ratio(img), 1e-9)
	assert.False(t, est.FacePresent(img), "exactly the threshold is not enough")
}

func TestSkinRule(t *testing.T) {
	assert.True(t, isSkin(200, 140, 110))
	assert.False(t, isSkin(95, 60, 40), "red must exceed 95")
	assert.False(t, isSkin(200, 190, 110), "red and green too close")
	assert.False(t, isSkin(150, 100, 160), "blue above red")
	assert.False(t, isSkin(200, 40, 100), "green must exceed 40")
}

func TestFFTImpulseIsFlat(t *testing.T) {
	seq := make([]float64, 8)
	seq[0] = 1
	coeff := spectrum(seq)
	require.Len(t, coeff, 5)
	for k, v := range coeff {
		assert.InDelta(t, 1.0, cmplx.Abs(v), 1e-9, "bin %d", k)
	}
}

func TestFFTSinePeaks(t *testing.T) {
	const n = 64
	seq := make([]float64, n)
	for i := range seq {
		seq[i] = math.Sin(2 * math.Pi * 5 * float64(i) / n)
	}
	coeff := spectrum(seq)
	assert.InDelta(t, n/2, cmplx.Abs(coeff[5]), 1e-6)
	assert.InDelta(t, 0, cmplx.Abs(coeff[4]), 1e-6)
	assert.InDelta(t, 0, cmplx.Abs(coeff[6]), 1e-6)
}

func TestSpectrumLevels(t *testing.T) {
	est := NewSpectrumEstimator()
	rng := rand.New(rand.NewPCG(1, 2))

	silence := make([]float64, 256)
	assert.Equal(t, 0.0, est.Level(silence))
	assert.Equal(t, 0.0, est.Level(nil))

	loud := make([]float64, 1024)
	for i := range loud {
		loud[i] = rng.Float64()*2 - 1
	}
	assert.Greater(t, est.Level(loud), 80.0)

	faint := make([]float64, 256)
	for i := range faint {
		faint[i] = (rng.Float64()*2 - 1) * 1e-6
	}
	assert.Less(t, est.Level(faint), 10.0)

	require.Len(t, est.Bins(loud), 128)
}

func TestBiometricAudioTransitions(t *testing.T) {
	var got []Violation
	levels := []float64{}
	noise := levelFunc(func([]float64) float64 {
		l := levels[0]
		levels = levels[1:]
		return l
	})
	m := newBiometricMonitor(DefaultConfig(), SkinToneEstimator{}, noise, func(v Violation) { got = append(got, v) })

	levels = []float64{5, 40, 90, 3, 2, 50, 4}
	for range 7 {
		m.checkAudio([]float64{0})
	}

	require.Len(t, got, 3)
	assert.Equal(t, msgHighNoise, got[0].Description)
	assert.Equal(t, SeverityMedium, got[0].Severity)
	assert.Equal(t, msgMicDisconnected, got[1].Description)
	assert.Equal(t, SeverityHigh, got[1].Severity)
	assert.Equal(t, msgMicDisconnected, got[2].Description)
}

func TestBiometricFaceCheck(t *testing.T) {
	var got []Violation
	m := newBiometricMonitor(DefaultConfig(), SkinToneEstimator{Threshold: 0.1}, NewSpectrumEstimator(), func(v Violation) { got = append(got, v) })

	m.checkFace(solidFrame(8, 8, skinColor))
	assert.Empty(t, got)
	m.checkFace(solidFrame(8, 8, wallColor))
	require.Len(t, got, 1)
	assert.Equal(t, msgNoFace, got[0].Description)
	assert.Equal(t, SeverityHigh, got[0].Severity)
}

type levelFunc func([]float64) float64

func (f levelFunc) Level(s []float64) float64 { return f(s) }
