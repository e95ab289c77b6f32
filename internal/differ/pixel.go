package differ

import (
	"pagewatch/internal/capture"
)

const (
	// sampleStride: compare every Nth pixel in both axes. Full-page
	// screenshots are large and the detector is structural, so sampling
	// keeps a check cycle cheap without losing layout-scale changes.
	sampleStride = 10

	// channelTolerance is the per-channel absolute difference (out of 255)
	// below which two pixels count as equal. ~12% absorbs compression and
	// anti-aliasing noise.
	channelTolerance = 30
)

// PixelDiff is the authoritative detector: a coarse structural comparison
// of sampled RGB values. It cannot tell a relevant change from an ad
// rotation; the threshold is the only knob.
type PixelDiff struct {
	// Threshold is the change percentage above which Changed is set.
	Threshold float64
}

func (d *PixelDiff) Name() string { return "pixel" }

func (d *PixelDiff) Compare(ref Reference, cur *capture.Sample) (Result, error) {
	if ref.Sample == nil || ref.Sample.Image == nil || cur == nil || cur.Image == nil {
		return Result{}, ErrBadSample
	}

	rb := ref.Sample.Image.Bounds()
	cb := cur.Image.Bounds()
	if rb.Dx() != cb.Dx() || rb.Dy() != cb.Dy() {
		// A layout change is always a positive signal; pixel-wise
		// comparison of mismatched geometry would be meaningless.
		return Result{
			Changed:         true,
			ChangeMagnitude: 100,
			MissingSignals:  []string{"dimensions differ"},
		}, nil
	}

	var sampled, different int
	for dy := 0; dy < rb.Dy(); dy += sampleStride {
		for dx := 0; dx < rb.Dx(); dx += sampleStride {
			sampled++
			r1, g1, b1, _ := ref.Sample.Image.At(rb.Min.X+dx, rb.Min.Y+dy).RGBA()
			r2, g2, b2, _ := cur.Image.At(cb.Min.X+dx, cb.Min.Y+dy).RGBA()
			if channelDiffers(r1, r2) || channelDiffers(g1, g2) || channelDiffers(b1, b2) {
				different++
			}
		}
	}

	magnitude := pct(different, sampled)
	res := Result{ChangeMagnitude: magnitude}
	if magnitude > d.threshold() {
		res.Changed = true
		res.MissingSignals = []string{"visual changes detected"}
	}
	return res, nil
}

func (d *PixelDiff) threshold() float64 {
	if d.Threshold > 0 {
		return d.Threshold
	}
	return DefaultChangeThreshold
}

// channelDiffers compares one 16-bit color channel pair at 8-bit precision
// against the fixed tolerance. Alpha is never considered.
func channelDiffers(a, b uint32) bool {
	av := int(a >> 8)
	bv := int(b >> 8)
	d := av - bv
	if d < 0 {
		d = -d
	}
	return d > channelTolerance
}
