package vkfilter

import "errors"

// Contract errors shared by all filter backends. Invalid arguments are
// rejected before any device work is recorded.
var (
	// ErrOutputCount is returned by Configure when outputCount < 1.
	ErrOutputCount = errors.New("vkfilter: output count must be at least 1")

	// ErrOutputIndex is returned when an output index is outside the
	// configured range.
	ErrOutputIndex = errors.New("vkfilter: output index out of range")

	// ErrNotConfigured is returned when a filter is applied before a
	// successful Configure call.
	ErrNotConfigured = errors.New("vkfilter: filter not configured")

	// ErrReleased is returned when a filter is used after Release.
	ErrReleased = errors.New("vkfilter: filter released")
)

// Output is a handle to one caller-visible output image. Its pixel
// contents are valid once the filter call that returned it has completed
// (filter calls submit synchronously, so immediately on return).
type Output interface {
	// Width returns the output width in pixels (same as the input).
	Width() int

	// Height returns the output height in pixels (same as the input).
	Height() int

	// Handle returns the platform-shareable memory handle backing the
	// image, for zero-copy consumption by another API, or nil when the
	// backend has no native sharing path.
	Handle() any

	// ReadPixels copies the image contents into dst, which must have
	// the output's dimensions. Backends without a readback path return
	// an error.
	ReadPixels(dst *Bitmap) error
}

// Filter is the common contract exposed by the Vulkan compute engine and
// by alternative backends (vendor intrinsic libraries, platform
// compositor effects).
//
// A Filter is not safe for concurrent use: calls must be serialized, and
// a call must not be issued until the previous one has returned. The
// output slots exist so a consumer can keep presenting slot i while a
// subsequent call writes another slot; alternating indices is the
// caller's responsibility.
type Filter interface {
	// Configure (re)allocates all image resources for the given input.
	// outputCount is the number of caller-visible output slots and must
	// be at least 1.
	Configure(input *Bitmap, outputCount int) error

	// ApplyColorMatrix applies a hue rotation by angle radians and
	// writes the result into the given output slot.
	ApplyColorMatrix(angle float32, outputIndex int) (Output, error)

	// ApplyBlur applies a Gaussian blur with the given radius, which
	// must be within [MinBlurRadius, MaxBlurRadius], and writes the
	// result into the given output slot.
	ApplyBlur(radius float32, outputIndex int) (Output, error)

	// Release frees all device resources. The filter is unusable
	// afterwards.
	Release()
}
