package vkfilter

import (
	"errors"
	"image"
	"image/color"
	"testing"
)

func TestNewBitmap(t *testing.T) {
	bm := NewBitmap(7, 5)
	if bm.Width() != 7 || bm.Height() != 5 {
		t.Fatalf("dimensions = %dx%d, want 7x5", bm.Width(), bm.Height())
	}
	if bm.Stride() != 28 {
		t.Errorf("Stride = %d, want 28", bm.Stride())
	}
	if len(bm.Pix()) != 7*5*4 {
		t.Errorf("len(Pix) = %d, want %d", len(bm.Pix()), 7*5*4)
	}
	if err := bm.Validate(); err != nil {
		t.Errorf("Validate() = %v, want nil", err)
	}
}

func TestBitmapSetAt(t *testing.T) {
	bm := NewBitmap(4, 4)
	bm.Set(2, 3, 10, 20, 30, 40)
	r, g, b, a := bm.At(2, 3)
	if r != 10 || g != 20 || b != 30 || a != 40 {
		t.Errorf("At(2,3) = %d,%d,%d,%d, want 10,20,30,40", r, g, b, a)
	}

	// Out of range reads are zero, writes are ignored.
	if r, _, _, _ := bm.At(-1, 0); r != 0 {
		t.Error("At(-1,0) should be zero")
	}
	bm.Set(4, 0, 255, 255, 255, 255)
	if r, _, _, _ := bm.At(3, 0); r != 0 {
		t.Error("Set(4,0) must not touch (3,0)")
	}
}

func TestBitmapFill(t *testing.T) {
	bm := NewBitmap(3, 3)
	bm.Fill(1, 2, 3, 4)
	for y := 0; y < 3; y++ {
		for x := 0; x < 3; x++ {
			r, g, b, a := bm.At(x, y)
			if r != 1 || g != 2 || b != 3 || a != 4 {
				t.Fatalf("pixel (%d,%d) = %d,%d,%d,%d after Fill", x, y, r, g, b, a)
			}
		}
	}
}

func TestBitmapFromImage(t *testing.T) {
	// Non-zero-origin bounds must be normalized.
	src := image.NewRGBA(image.Rect(10, 10, 14, 12))
	src.SetRGBA(11, 10, color.RGBA{R: 200, G: 100, B: 50, A: 255})

	bm := BitmapFromImage(src)
	if bm.Width() != 4 || bm.Height() != 2 {
		t.Fatalf("dimensions = %dx%d, want 4x2", bm.Width(), bm.Height())
	}
	r, g, b, _ := bm.At(1, 0)
	if r != 200 || g != 100 || b != 50 {
		t.Errorf("At(1,0) = %d,%d,%d, want 200,100,50", r, g, b)
	}
}

func TestBitmapToImageRoundTrip(t *testing.T) {
	bm := NewBitmap(5, 4)
	bm.Set(3, 2, 9, 8, 7, 6)
	img := bm.ToImage()
	back := BitmapFromImage(img)
	r, g, b, a := back.At(3, 2)
	if r != 9 || g != 8 || b != 7 || a != 6 {
		t.Errorf("round trip pixel = %d,%d,%d,%d, want 9,8,7,6", r, g, b, a)
	}
}

func TestBitmapClone(t *testing.T) {
	bm := NewBitmap(2, 2)
	bm.Set(0, 0, 5, 5, 5, 5)
	c := bm.Clone()
	c.Set(0, 0, 9, 9, 9, 9)
	if r, _, _, _ := bm.At(0, 0); r != 5 {
		t.Error("Clone must not share pixel storage")
	}
}

func TestBitmapScaled(t *testing.T) {
	bm := NewBitmap(8, 4)
	bm.Fill(100, 100, 100, 255)
	s := bm.Scaled(4, 2)
	if s.Width() != 4 || s.Height() != 2 {
		t.Fatalf("Scaled dimensions = %dx%d, want 4x2", s.Width(), s.Height())
	}
	if r, _, _, _ := s.At(1, 1); r != 100 {
		t.Errorf("scaled uniform image changed value: %d", r)
	}
}

func TestBitmapScaledToLimit(t *testing.T) {
	bm := NewBitmap(100, 50)
	if bm.ScaledToLimit(200) != bm {
		t.Error("ScaledToLimit must return the bitmap itself when it fits")
	}
	s := bm.ScaledToLimit(10)
	if s.Width() != 10 || s.Height() != 5 {
		t.Errorf("ScaledToLimit(10) = %dx%d, want 10x5", s.Width(), s.Height())
	}
}

func TestBitmapValidate(t *testing.T) {
	tests := []struct {
		name string
		bm   Bitmap
		want error
	}{
		{"zero width", Bitmap{width: 0, height: 4, stride: 0}, ErrBadDimensions},
		{"negative height", Bitmap{width: 4, height: -1, stride: 16}, ErrBadDimensions},
		{"short stride", Bitmap{width: 4, height: 4, stride: 12, pix: make([]uint8, 64)}, ErrBadStride},
		{"odd stride", Bitmap{width: 4, height: 4, stride: 18, pix: make([]uint8, 72)}, ErrBadStride},
		{"short pix", Bitmap{width: 4, height: 4, stride: 16, pix: make([]uint8, 32)}, ErrBadStride},
		{"padded rows", Bitmap{width: 4, height: 4, stride: 20, pix: make([]uint8, 80)}, nil},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.bm.Validate()
			if tt.want == nil {
				if err != nil {
					t.Errorf("Validate() = %v, want nil", err)
				}
			} else if !errors.Is(err, tt.want) {
				t.Errorf("Validate() = %v, want %v", err, tt.want)
			}
		})
	}
}
