// Package roi locates the dominant dark mark near the top-left corner of a
// question image, the region that usually carries the distinguishing symbol.
package roi

import (
	"image"

	"go.uber.org/zap"

	"github.com/hyperjump/kotae/internal/config"
	"github.com/hyperjump/kotae/internal/imageutil"
	"github.com/hyperjump/kotae/pkg/utils"
)

const (
	// whiteThreshold separates dark marks from a near-white background.
	whiteThreshold = 245
	// minForegroundMass is the mask sum (count*255) below which Otsu takes over.
	minForegroundMass = 500
	minBoxArea        = 50
)

// Detector finds a padded bounding box of the strongest top-left mark.
type Detector struct {
	searchRatio float64
	minAreaFrac float64
	pad         int
	enabled     bool
	anchor      string
	ratio       float64
	logger      *zap.Logger
}

// Option configures a Detector.
type Option func(*Detector)

// WithLogger sets the logger for the Detector.
func WithLogger(logger *zap.Logger) Option {
	return func(d *Detector) {
		d.logger = logger
	}
}

// NewDetector builds a Detector from cfg. Ratios are clamped to their valid ranges.
func NewDetector(cfg *config.ROIConfig, opts ...Option) *Detector {
	anchor, ratio := cfg.Focus()
	d := &Detector{
		searchRatio: utils.Clamp(cfg.SearchRatio, 0.4, 0.95),
		minAreaFrac: utils.Clamp(cfg.MinArea(), 0, 1),
		pad:         max(cfg.Padding(), 0),
		enabled:     cfg.DetectEnabled(),
		anchor:      anchor,
		ratio:       ratio,
		logger:      zap.NewNop(),
	}
	for _, opt := range opts {
		opt(d)
	}
	d.logger = utils.OrNop(d.logger)
	return d
}

// Enabled reports whether contour detection is switched on.
func (d *Detector) Enabled() bool {
	return d.enabled
}

// Detect returns the padded box of the best candidate mark in full-image
// coordinates, or false when no confident region exists. It never panics.
func (d *Detector) Detect(img image.Image) (box image.Rectangle, ok bool) {
	defer func() {
		if r := recover(); r != nil {
			d.logger.Debug("roi detection failed", zap.Any("panic", r))
			box, ok = image.Rectangle{}, false
		}
	}()
	if img == nil {
		return image.Rectangle{}, false
	}
	bounds := img.Bounds()
	w, h := bounds.Dx(), bounds.Dy()
	sw, sh := int(float64(w)*d.searchRatio), int(float64(h)*d.searchRatio)
	if sw < 1 || sh < 1 {
		return image.Rectangle{}, false
	}

	p := imageutil.PlaneOf(img).Window(sw, sh)
	mask := thresholdInv(p, whiteThreshold)
	if mass(mask) < minForegroundMass {
		mask = thresholdInv(p, otsu(p))
	}
	mask = closing(opening(mask))

	minArea := max(minBoxArea, int(d.minAreaFrac*float64(w*h)))
	var best image.Rectangle
	bestScore := 0.0
	found := false
	for _, r := range externalBoxes(mask) {
		area := r.Dx() * r.Dy()
		if area < minArea {
			continue
		}
		score := float64(area) - 0.1*float64(r.Min.X+r.Min.Y)
		if score > bestScore {
			best, bestScore, found = r, score, true
		}
	}
	if !found {
		return image.Rectangle{}, false
	}

	padded := image.Rect(
		max(0, best.Min.X-d.pad),
		max(0, best.Min.Y-d.pad),
		min(w, best.Max.X+d.pad),
		min(h, best.Max.Y+d.pad),
	)
	return padded.Add(bounds.Min), true
}

// Fallback returns the heuristic focus crop for img.
func (d *Detector) Fallback(img image.Image) image.Rectangle {
	return imageutil.FocusRect(img.Bounds(), d.anchor, d.ratio)
}

// Region returns the detected box when detection is enabled and succeeds,
// otherwise the heuristic crop. detected reports which one was used.
func (d *Detector) Region(img image.Image) (r image.Rectangle, detected bool) {
	if d.enabled {
		if box, ok := d.Detect(img); ok {
			return box, true
		}
	}
	d.logger.Debug("roi fallback crop", zap.String("anchor", d.anchor), zap.Float64("ratio", d.ratio))
	return d.Fallback(img), false
}

// DetectAlways tries contour detection regardless of the enable flag and
// falls back to the heuristic crop.
func (d *Detector) DetectAlways(img image.Image) image.Rectangle {
	if box, ok := d.Detect(img); ok {
		return box
	}
	return d.Fallback(img)
}
