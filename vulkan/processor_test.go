package vulkan

import (
	"errors"
	"testing"

	"github.com/chewxy/math32"

	vkfilter "github.com/gogpu/vkfilter"
)

// newTestProcessor skips the test when no usable Vulkan device is
// present, so the integration tests run only where they can.
func newTestProcessor(t *testing.T, opts ...vkfilter.Option) *Processor {
	t.Helper()
	p, err := NewProcessor(opts...)
	if err != nil {
		t.Skipf("no usable Vulkan device: %v", err)
	}
	t.Cleanup(p.Release)
	return p
}

func uniformBitmap(w, h int, r, g, b, a uint8) *vkfilter.Bitmap {
	bm := vkfilter.NewBitmap(w, h)
	bm.Fill(r, g, b, a)
	return bm
}

func TestBackendRegistered(t *testing.T) {
	if !vkfilter.IsRegistered(vkfilter.BackendVulkan) {
		t.Fatal("importing the package must register the vulkan backend")
	}
}

func TestConfigureRejectsBadArgs(t *testing.T) {
	p := newTestProcessor(t)

	if err := p.Configure(uniformBitmap(4, 4, 0, 0, 0, 255), 0); !errors.Is(err, vkfilter.ErrOutputCount) {
		t.Errorf("Configure with 0 outputs = %v, want ErrOutputCount", err)
	}
	if err := p.Configure(nil, 1); err == nil {
		t.Error("Configure with nil input must fail")
	}
	if _, err := p.ApplyColorMatrix(1, 0); !errors.Is(err, vkfilter.ErrNotConfigured) {
		t.Errorf("Apply before Configure = %v, want ErrNotConfigured", err)
	}
}

func TestApplyGuards(t *testing.T) {
	p := newTestProcessor(t)
	if err := p.Configure(uniformBitmap(4, 4, 10, 20, 30, 255), 2); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	if _, err := p.ApplyColorMatrix(1, 5); !errors.Is(err, vkfilter.ErrOutputIndex) {
		t.Errorf("out of range slot = %v, want ErrOutputIndex", err)
	}
	if _, err := p.ApplyColorMatrix(1, -1); !errors.Is(err, vkfilter.ErrOutputIndex) {
		t.Errorf("negative slot = %v, want ErrOutputIndex", err)
	}
	for _, radius := range []float32{0.5, 26} {
		if _, err := p.ApplyBlur(radius, 0); !errors.Is(err, vkfilter.ErrRadiusRange) {
			t.Errorf("ApplyBlur(%v) = %v, want ErrRadiusRange", radius, err)
		}
	}
}

func TestApplyAfterRelease(t *testing.T) {
	p := newTestProcessor(t)
	if err := p.Configure(uniformBitmap(2, 2, 0, 0, 0, 255), 1); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	p.Release()

	if _, err := p.ApplyBlur(2, 0); !errors.Is(err, vkfilter.ErrReleased) {
		t.Errorf("ApplyBlur after Release = %v, want ErrReleased", err)
	}
	if err := p.Configure(uniformBitmap(2, 2, 0, 0, 0, 255), 1); !errors.Is(err, vkfilter.ErrReleased) {
		t.Errorf("Configure after Release = %v, want ErrReleased", err)
	}
	// A second Release is a no-op.
	p.Release()
}

func TestHueRotationEndToEnd(t *testing.T) {
	p := newTestProcessor(t)
	input := uniformBitmap(4, 4, 200, 40, 120, 255)
	if err := p.Configure(input, 1); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	angle := math32.Pi
	out, err := p.ApplyColorMatrix(angle, 0)
	if err != nil {
		t.Fatalf("ApplyColorMatrix: %v", err)
	}
	got := vkfilter.NewBitmap(4, 4)
	if err := out.ReadPixels(got); err != nil {
		t.Fatalf("ReadPixels: %v", err)
	}

	// The device does the same per-pixel transform as the host-side
	// reference, modulo 8-bit quantization.
	m := vkfilter.HueRotationMatrix(angle)
	wr, wg, wb := m.Apply(200, 40, 120)
	r, g, b, a := got.At(2, 2)
	if absDiff(float32(r), wr) > 2 || absDiff(float32(g), wg) > 2 || absDiff(float32(b), wb) > 2 {
		t.Errorf("rotated pixel = %d,%d,%d, want about %.0f,%.0f,%.0f", r, g, b, wr, wg, wb)
	}
	if a != 255 {
		t.Errorf("alpha = %d, want preserved 255", a)
	}
}

func TestHueRotationZeroIsExact(t *testing.T) {
	p := newTestProcessor(t)
	input := uniformBitmap(4, 4, 17, 101, 203, 255)
	if err := p.Configure(input, 1); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	out, err := p.ApplyColorMatrix(0, 0)
	if err != nil {
		t.Fatalf("ApplyColorMatrix: %v", err)
	}
	got := vkfilter.NewBitmap(4, 4)
	if err := out.ReadPixels(got); err != nil {
		t.Fatalf("ReadPixels: %v", err)
	}
	r, g, b, _ := got.At(1, 3)
	if r != 17 || g != 101 || b != 203 {
		t.Errorf("zero rotation changed pixel: %d,%d,%d, want 17,101,203", r, g, b)
	}
}

func TestBlurUniformImageIsInvariant(t *testing.T) {
	p := newTestProcessor(t)
	input := uniformBitmap(8, 8, 90, 150, 210, 255)
	if err := p.Configure(input, 1); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	out, err := p.ApplyBlur(3, 0)
	if err != nil {
		t.Fatalf("ApplyBlur: %v", err)
	}
	got := vkfilter.NewBitmap(8, 8)
	if err := out.ReadPixels(got); err != nil {
		t.Fatalf("ReadPixels: %v", err)
	}

	// A normalized kernel over a constant image reproduces the
	// constant, including at the clamped edges.
	for y := 0; y < 8; y++ {
		for x := 0; x < 8; x++ {
			r, g, b, a := got.At(x, y)
			if absDiff(float32(r), 90) > 2 || absDiff(float32(g), 150) > 2 || absDiff(float32(b), 210) > 2 {
				t.Fatalf("pixel (%d,%d) = %d,%d,%d drifted from 90,150,210", x, y, r, g, b)
			}
			if a != 255 {
				t.Fatalf("pixel (%d,%d) alpha = %d, want 255", x, y, a)
			}
		}
	}
}

func TestBlurSinglePixel(t *testing.T) {
	p := newTestProcessor(t)
	if err := p.Configure(uniformBitmap(1, 1, 123, 45, 67, 255), 1); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	out, err := p.ApplyBlur(25, 0)
	if err != nil {
		t.Fatalf("ApplyBlur: %v", err)
	}
	got := vkfilter.NewBitmap(1, 1)
	if err := out.ReadPixels(got); err != nil {
		t.Fatalf("ReadPixels: %v", err)
	}
	r, g, b, a := got.At(0, 0)
	if absDiff(float32(r), 123) > 1 || absDiff(float32(g), 45) > 1 || absDiff(float32(b), 67) > 1 || a != 255 {
		t.Errorf("1x1 blur = %d,%d,%d,%d, want 123,45,67,255", r, g, b, a)
	}
}

func TestOutputSlotIsolation(t *testing.T) {
	p := newTestProcessor(t)
	input := uniformBitmap(4, 4, 250, 10, 10, 255)
	if err := p.Configure(input, 2); err != nil {
		t.Fatalf("Configure: %v", err)
	}

	out0, err := p.ApplyColorMatrix(math32.Pi/2, 0)
	if err != nil {
		t.Fatalf("ApplyColorMatrix: %v", err)
	}
	before := vkfilter.NewBitmap(4, 4)
	if err := out0.ReadPixels(before); err != nil {
		t.Fatalf("ReadPixels: %v", err)
	}

	// Writing slot 1 must not disturb slot 0.
	if _, err := p.ApplyBlur(5, 1); err != nil {
		t.Fatalf("ApplyBlur: %v", err)
	}
	after := vkfilter.NewBitmap(4, 4)
	if err := out0.ReadPixels(after); err != nil {
		t.Fatalf("ReadPixels: %v", err)
	}
	for y := 0; y < 4; y++ {
		for x := 0; x < 4; x++ {
			br, bg, bb, _ := before.At(x, y)
			ar, ag, ab, _ := after.At(x, y)
			if br != ar || bg != ag || bb != ab {
				t.Fatalf("slot 0 changed at (%d,%d): %d,%d,%d -> %d,%d,%d",
					x, y, br, bg, bb, ar, ag, ab)
			}
		}
	}
}

func TestFailedBlurLeavesOutputIntact(t *testing.T) {
	p := newTestProcessor(t)
	input := uniformBitmap(4, 4, 33, 66, 99, 255)
	if err := p.Configure(input, 1); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	out, err := p.ApplyColorMatrix(0, 0)
	if err != nil {
		t.Fatalf("ApplyColorMatrix: %v", err)
	}

	if _, err := p.ApplyBlur(0.5, 0); !errors.Is(err, vkfilter.ErrRadiusRange) {
		t.Fatalf("ApplyBlur(0.5) = %v, want ErrRadiusRange", err)
	}

	got := vkfilter.NewBitmap(4, 4)
	if err := out.ReadPixels(got); err != nil {
		t.Fatalf("ReadPixels: %v", err)
	}
	if r, g, b, _ := got.At(0, 0); r != 33 || g != 66 || b != 99 {
		t.Errorf("rejected blur mutated the output: %d,%d,%d", r, g, b)
	}
}

func TestReconfigureInvalidatesOutputs(t *testing.T) {
	p := newTestProcessor(t)
	if err := p.Configure(uniformBitmap(4, 4, 1, 2, 3, 255), 1); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	out, err := p.ApplyColorMatrix(0, 0)
	if err != nil {
		t.Fatalf("ApplyColorMatrix: %v", err)
	}

	if err := p.Configure(uniformBitmap(8, 8, 1, 2, 3, 255), 1); err != nil {
		t.Fatalf("reconfigure: %v", err)
	}
	if out.Handle() != nil {
		t.Error("stale output still exposes its handle after reconfigure")
	}
	if err := out.ReadPixels(vkfilter.NewBitmap(4, 4)); !errors.Is(err, vkfilter.ErrReleased) {
		t.Errorf("stale output ReadPixels = %v, want ErrReleased", err)
	}
}

func TestReadbackDisabled(t *testing.T) {
	p := newTestProcessor(t, vkfilter.WithOutputReadback(false))
	if err := p.Configure(uniformBitmap(4, 4, 5, 5, 5, 255), 1); err != nil {
		t.Fatalf("Configure: %v", err)
	}
	out, err := p.ApplyBlur(2, 0)
	if err != nil {
		t.Fatalf("ApplyBlur: %v", err)
	}
	if err := out.ReadPixels(vkfilter.NewBitmap(4, 4)); !errors.Is(err, ErrNoReadback) {
		t.Errorf("ReadPixels = %v, want ErrNoReadback", err)
	}
	if out.Handle() == nil {
		t.Error("output must still expose its shared handle without readback")
	}
}

func absDiff(a, b float32) float32 {
	if a > b {
		return a - b
	}
	return b - a
}
