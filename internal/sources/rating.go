package sources

import "math"

// CanonicalScale is the 1..10 scale every rating is held on between adapters
const CanonicalScale = 10

// ScaleNormalizer is a linear RatingNormalizer for a 1..Scale native range
type ScaleNormalizer struct {
	Scale int
}

func (n ScaleNormalizer) NativeRatingScale() int { return n.Scale }

// NormalizeRating maps a native value to targetScale, rounding half away from zero
// and clamping to 1..targetScale
func (n ScaleNormalizer) NormalizeRating(value float64, targetScale int) int {
	return ConvertRating(value, n.Scale, targetScale)
}

// DenormalizeRating maps a value on sourceScale to the native scale
func (n ScaleNormalizer) DenormalizeRating(value int, sourceScale int) float64 {
	if sourceScale <= 0 || n.Scale <= 0 {
		return float64(value)
	}
	return math.Round(float64(value) * float64(n.Scale) / float64(sourceScale))
}

// ConvertRating rescales value from one 1..N scale to another
func ConvertRating(value float64, from, to int) int {
	if from <= 0 || to <= 0 {
		return int(math.Round(value))
	}
	scaled := int(math.Round(value * float64(to) / float64(from)))
	if scaled < 1 {
		return 1
	}
	if scaled > to {
		return to
	}
	return scaled
}

// ToCanonical normalizes a native rating of s
func ToCanonical(s Source, value float64) int {
	return RatingNormalizerOf(s).NormalizeRating(value, CanonicalScale)
}

// FromCanonical converts a canonical rating to the native scale of s
func FromCanonical(s Source, value int) float64 {
	return RatingNormalizerOf(s).DenormalizeRating(value, CanonicalScale)
}
