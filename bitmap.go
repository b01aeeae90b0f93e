package vkfilter

import (
	"errors"
	"image"
	stddraw "image/draw"

	"golang.org/x/image/draw"
)

// Bitmap errors reported by Validate (and therefore by Filter.Configure
// before any device work happens).
var (
	// ErrBadDimensions is returned for a bitmap with a non-positive
	// width or height.
	ErrBadDimensions = errors.New("vkfilter: bitmap dimensions must be positive")

	// ErrBadStride is returned when the row stride is smaller than
	// width*4 bytes, not a multiple of 4, or the pixel slice is shorter
	// than stride*height.
	ErrBadStride = errors.New("vkfilter: bitmap stride inconsistent with dimensions")
)

// Bitmap is a decoded RGBA image: 8 bits per channel, top-to-bottom
// row-major, with an explicit row stride in bytes. It is the host-side
// representation the engine uploads from and reads back into.
type Bitmap struct {
	width  int
	height int
	stride int // bytes per row, >= width*4
	pix    []uint8
}

// NewBitmap creates a tightly packed bitmap with the given dimensions.
func NewBitmap(width, height int) *Bitmap {
	return &Bitmap{
		width:  width,
		height: height,
		stride: width * 4,
		pix:    make([]uint8, width*height*4),
	}
}

// BitmapFromImage converts an arbitrary image into a tightly packed
// RGBA bitmap.
func BitmapFromImage(img image.Image) *Bitmap {
	b := img.Bounds()
	m := image.NewRGBA(image.Rect(0, 0, b.Dx(), b.Dy()))
	stddraw.Draw(m, m.Bounds(), img, b.Min, stddraw.Src)
	return &Bitmap{
		width:  b.Dx(),
		height: b.Dy(),
		stride: m.Stride,
		pix:    m.Pix,
	}
}

// Width returns the width in pixels.
func (b *Bitmap) Width() int { return b.width }

// Height returns the height in pixels.
func (b *Bitmap) Height() int { return b.height }

// Stride returns the number of bytes per row.
func (b *Bitmap) Stride() int { return b.stride }

// Pix returns the raw pixel data. Rows are stride bytes apart; only the
// first width*4 bytes of each row carry pixels.
func (b *Bitmap) Pix() []uint8 { return b.pix }

// At returns the pixel at (x, y) as four RGBA bytes. Out-of-range
// coordinates return zero.
func (b *Bitmap) At(x, y int) (r, g, bl, a uint8) {
	if x < 0 || x >= b.width || y < 0 || y >= b.height {
		return 0, 0, 0, 0
	}
	i := y*b.stride + x*4
	return b.pix[i], b.pix[i+1], b.pix[i+2], b.pix[i+3]
}

// Set sets the pixel at (x, y). Out-of-range coordinates are ignored.
func (b *Bitmap) Set(x, y int, r, g, bl, a uint8) {
	if x < 0 || x >= b.width || y < 0 || y >= b.height {
		return
	}
	i := y*b.stride + x*4
	b.pix[i] = r
	b.pix[i+1] = g
	b.pix[i+2] = bl
	b.pix[i+3] = a
}

// Fill sets every pixel to the given color.
func (b *Bitmap) Fill(r, g, bl, a uint8) {
	for y := 0; y < b.height; y++ {
		row := b.pix[y*b.stride:]
		for x := 0; x < b.width; x++ {
			i := x * 4
			row[i] = r
			row[i+1] = g
			row[i+2] = bl
			row[i+3] = a
		}
	}
}

// ToImage converts the bitmap to an image.RGBA.
func (b *Bitmap) ToImage() *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, b.width, b.height))
	for y := 0; y < b.height; y++ {
		copy(img.Pix[y*img.Stride:y*img.Stride+b.width*4], b.pix[y*b.stride:])
	}
	return img
}

// Clone returns a deep copy of the bitmap.
func (b *Bitmap) Clone() *Bitmap {
	pix := make([]uint8, len(b.pix))
	copy(pix, b.pix)
	return &Bitmap{width: b.width, height: b.height, stride: b.stride, pix: pix}
}

// Scaled returns a resampled copy of the bitmap with the given
// dimensions, using bilinear interpolation.
func (b *Bitmap) Scaled(width, height int) *Bitmap {
	dst := image.NewRGBA(image.Rect(0, 0, width, height))
	draw.BiLinear.Scale(dst, dst.Bounds(), b.ToImage(), image.Rect(0, 0, b.width, b.height), draw.Src, nil)
	return &Bitmap{width: width, height: height, stride: dst.Stride, pix: dst.Pix}
}

// ScaledToLimit returns the bitmap itself when both dimensions are at
// most limit, or a proportionally scaled copy that fits otherwise. It is
// a convenience for staying under a device's maximum image dimension.
func (b *Bitmap) ScaledToLimit(limit int) *Bitmap {
	if b.width <= limit && b.height <= limit {
		return b
	}
	w, h := b.width, b.height
	if w >= h {
		h = h * limit / w
		w = limit
	} else {
		w = w * limit / h
		h = limit
	}
	if w < 1 {
		w = 1
	}
	if h < 1 {
		h = 1
	}
	return b.Scaled(w, h)
}

// Validate reports whether the bitmap satisfies the input contract:
// positive dimensions, stride >= width*4 and a multiple of 4, and a
// pixel slice covering stride*height bytes.
func (b *Bitmap) Validate() error {
	if b.width <= 0 || b.height <= 0 {
		return ErrBadDimensions
	}
	if b.stride < b.width*4 || b.stride%4 != 0 || len(b.pix) < b.stride*b.height {
		return ErrBadStride
	}
	return nil
}
