package proctor

import (
	"image"
	"math"
	"math/cmplx"

	"gonum.org/v1/gonum/dsp/fourier"
)

// FacePresenceEstimator decides whether a face is visible in a camera frame.
type FacePresenceEstimator interface {
	FacePresent(frame image.Image) bool
}

// NoiseLevelEstimator maps a window of microphone samples onto a 0-255 energy level.
type NoiseLevelEstimator interface {
	Level(samples []float64) float64
}

// SkinToneEstimator treats a frame as containing a face when enough pixels are skin toned.
type SkinToneEstimator struct {
	Threshold float64
}

// isSkin is the RGB skin rule: R>95, G>40, B>20, R above G and B, |R-G|>15.
func isSkin(r, g, b uint8) bool {
	if r <= 95 || g <= 40 || b <= 20 {
		return false
	}
	if r <= g || r <= b {
		return false
	}
	d := int(r) - int(g)
	return d > 15
}

// Ratio is the share of skin-toned pixels in frame.
func (e SkinToneEstimator) Ratio(frame image.Image) float64 {
	if frame == nil {
		return 0
	}
	bounds := frame.Bounds()
	total := bounds.Dx() * bounds.Dy()
	if total == 0 {
		return 0
	}

	skin := 0
	if rgba, ok := frame.(*image.RGBA); ok {
		for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
			row := rgba.Pix[rgba.PixOffset(bounds.Min.X, y):]
			for x := 0; x < bounds.Dx(); x++ {
				if isSkin(row[x*4], row[x*4+1], row[x*4+2]) {
					skin++
				}
			}
		}
		return float64(skin) / float64(total)
	}

	for y := bounds.Min.Y; y < bounds.Max.Y; y++ {
		for x := bounds.Min.X; x < bounds.Max.X; x++ {
			r, g, b, _ := frame.At(x, y).RGBA()
			if isSkin(uint8(r>>8), uint8(g>>8), uint8(b>>8)) {
				skin++
			}
		}
	}
	return float64(skin) / float64(total)
}

// FacePresent reports whether the skin ratio exceeds the threshold.
func (e SkinToneEstimator) FacePresent(frame image.Image) bool {
	threshold := e.Threshold
	if threshold <= 0 {
		threshold = 0.10
	}
	return e.Ratio(frame) > threshold
}

// SpectrumEstimator computes the mean byte-scaled magnitude spectrum of the newest
// Size samples, Blackman windowed, with decibels mapped linearly from
// [MinDecibels, MaxDecibels] onto [0, 255].
type SpectrumEstimator struct {
	Size        int
	MinDecibels float64
	MaxDecibels float64
}

// NewSpectrumEstimator returns the estimator used for the microphone check.
func NewSpectrumEstimator() SpectrumEstimator {
	return SpectrumEstimator{Size: 256, MinDecibels: -100, MaxDecibels: -30}
}

// Level returns the mean of the byte frequency bins.
func (e SpectrumEstimator) Level(samples []float64) float64 {
	bins := e.Bins(samples)
	if len(bins) == 0 {
		return 0
	}
	sum := 0
	for _, b := range bins {
		sum += int(b)
	}
	return float64(sum) / float64(len(bins))
}

// Bins returns Size/2 byte-scaled frequency bins.
func (e SpectrumEstimator) Bins(samples []float64) []uint8 {
	n := e.Size
	if n <= 0 {
		n = 256
	}

	seq := make([]float64, n)
	offset := 0
	if len(samples) > n {
		offset = len(samples) - n
	}
	for i := 0; i < n && offset+i < len(samples); i++ {
		seq[i] = samples[offset+i] * blackman(i, n)
	}
	coeff := spectrum(seq)

	minDB, maxDB := e.MinDecibels, e.MaxDecibels
	if maxDB <= minDB {
		minDB, maxDB = -100, -30
	}

	bins := make([]uint8, n/2)
	for k := range bins {
		mag := cmplx.Abs(coeff[k]) / float64(n)
		if mag == 0 {
			continue
		}
		db := 20 * math.Log10(mag)
		scaled := 255 * (db - minDB) / (maxDB - minDB)
		switch {
		case scaled <= 0:
			bins[k] = 0
		case scaled >= 255:
			bins[k] = 255
		default:
			bins[k] = uint8(scaled)
		}
	}
	return bins
}

func blackman(i, n int) float64 {
	x := 2 * math.Pi * float64(i) / float64(n)
	return 0.42 - 0.5*math.Cos(x) + 0.08*math.Cos(2*x)
}

// spectrum returns the n/2+1 non-negative frequency coefficients of seq.
func spectrum(seq []float64) []complex128 {
	return fourier.NewFFT(len(seq)).Coefficients(nil, seq)
}
