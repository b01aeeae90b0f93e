package vkfilter

import "github.com/chewxy/math32"

// ColorMatrix is a 3x3 color transform stored row-major with each row
// padded to four floats, matching the device's 16-byte alignment for the
// push-constant block. The fourth component of each row is unused.
type ColorMatrix [3][4]float32

// IdentityMatrix returns the identity color transform.
func IdentityMatrix() ColorMatrix {
	return ColorMatrix{
		{1, 0, 0, 0},
		{0, 1, 0, 0},
		{0, 0, 1, 0},
	}
}

// HueRotationMatrix builds the combined RGB->HSV, hue rotation, HSV->RGB
// transform for the given angle in radians. The coefficients combine the
// NTSC luminance weights (0.299, 0.587, 0.114) with cos/sin cross terms.
//
// Column i of the effective transform is stored in row i; the output red
// channel is m[0][0]*r + m[1][0]*g + m[2][0]*b, and so on.
func HueRotationMatrix(angle float32) ColorMatrix {
	cos := math32.Cos(angle)
	sin := math32.Sin(angle)
	if cos == 1 && sin == 0 {
		// The luma constants do not cancel exactly in float32; a zero
		// rotation must still be the exact identity.
		return IdentityMatrix()
	}
	var m ColorMatrix
	m[0][0] = 0.299 + 0.701*cos + 0.168*sin
	m[0][1] = 0.299 - 0.299*cos - 0.328*sin
	m[0][2] = 0.299 - 0.300*cos + 1.250*sin
	m[1][0] = 0.587 - 0.587*cos + 0.330*sin
	m[1][1] = 0.587 + 0.413*cos + 0.035*sin
	m[1][2] = 0.587 - 0.588*cos - 1.050*sin
	m[2][0] = 0.114 - 0.114*cos - 0.497*sin
	m[2][1] = 0.114 - 0.114*cos + 0.292*sin
	m[2][2] = 0.114 + 0.886*cos - 0.203*sin
	return m
}

// Apply transforms a single RGB triple (0..255 scale) with the matrix,
// clamping the result to [0, 255]. The engine performs the same transform
// per pixel on the device; this host-side form exists for verification.
func (m ColorMatrix) Apply(r, g, b float32) (float32, float32, float32) {
	or := m[0][0]*r + m[1][0]*g + m[2][0]*b
	og := m[0][1]*r + m[1][1]*g + m[2][1]*b
	ob := m[0][2]*r + m[1][2]*g + m[2][2]*b
	clamp := func(v float32) float32 {
		if v < 0 {
			return 0
		}
		if v > 255 {
			return 255
		}
		return v
	}
	return clamp(or), clamp(og), clamp(ob)
}
