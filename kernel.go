package vkfilter

import (
	"errors"

	"github.com/chewxy/math32"
)

// Blur radius contract.
const (
	// MinBlurRadius is the smallest accepted blur radius.
	MinBlurRadius = 1.0

	// MaxBlurRadius is the largest accepted blur radius.
	MaxBlurRadius = 25.0

	// MaxKernelSize is the largest number of taps a blur kernel can
	// have: 2*ceil(MaxBlurRadius)+1.
	MaxKernelSize = 51
)

// ErrRadiusRange is returned when a blur radius falls outside
// [MinBlurRadius, MaxBlurRadius]. The radius is rejected, never clamped.
var ErrRadiusRange = errors.New("vkfilter: blur radius outside [1, 25]")

// ValidateBlurRadius reports whether radius is inside the accepted range.
func ValidateBlurRadius(radius float32) error {
	if radius < MinBlurRadius || radius > MaxBlurRadius {
		return ErrRadiusRange
	}
	return nil
}

// GaussianKernel derives the discrete blur kernel for the given radius.
// It returns the 2*iradius+1 tap weights and the integer radius iradius.
//
// The standard deviation is 0.4*radius + 0.6 and the weight at offset k
// is c1*e^(c2*k*k) with c1 = 1/(sqrt(2*pi)*sigma), c2 = -1/(2*sigma^2).
// The discretized weights are renormalized to sum to exactly 1; using the
// closed-form Gaussian integral instead would lose visible energy at
// small radii.
func GaussianKernel(radius float32) (weights []float32, iradius int32, err error) {
	if err := ValidateBlurRadius(radius); err != nil {
		return nil, 0, err
	}

	sigma := 0.4*radius + 0.6
	coeff1 := 1.0 / (math32.Sqrt(2.0*math32.Pi) * sigma)
	coeff2 := -1.0 / (2.0 * sigma * sigma)
	iradius = int32(math32.Ceil(radius))

	weights = make([]float32, 2*iradius+1)
	var sum float32
	for r := -iradius; r <= iradius; r++ {
		w := coeff1 * math32.Exp(coeff2*float32(r*r))
		weights[r+iradius] = w
		sum += w
	}
	norm := 1.0 / sum
	for i := range weights {
		weights[i] *= norm
	}
	return weights, iradius, nil
}
