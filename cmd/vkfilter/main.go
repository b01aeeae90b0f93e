// Command vkfilter applies a hue rotation or Gaussian blur to an image
// on the GPU and writes the result as PNG.
package main

import (
	"flag"
	"image"
	_ "image/jpeg"
	"image/png"
	"log"
	"log/slog"
	"os"

	"github.com/gogpu/vkfilter"
	_ "github.com/gogpu/vkfilter/vulkan"
)

func main() {
	var (
		input      = flag.String("in", "", "input image (PNG or JPEG)")
		output     = flag.String("out", "filtered.png", "output file")
		filterName = flag.String("filter", "hue", "filter to apply: hue or blur")
		angle      = flag.Float64("angle", 1.5708, "hue rotation angle in radians")
		radius     = flag.Float64("radius", 8, "blur radius in pixels, 1 to 25")
		outputs    = flag.Int("outputs", 1, "number of output slots to allocate")
		validation = flag.Bool("validation", false, "enable the Vulkan validation layer")
		verbose    = flag.Bool("v", false, "verbose logging")
	)
	flag.Parse()

	if *input == "" {
		log.Fatal("missing -in")
	}
	if *verbose {
		vkfilter.SetLogger(slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
			Level: slog.LevelDebug,
		})))
	}

	bm, err := loadBitmap(*input)
	if err != nil {
		log.Fatalf("Failed to load %s: %v", *input, err)
	}

	f, err := vkfilter.Default(vkfilter.WithValidation(*validation))
	if err != nil {
		log.Fatalf("Failed to create filter: %v", err)
	}
	defer f.Release()

	if err := f.Configure(bm, *outputs); err != nil {
		log.Fatalf("Failed to configure: %v", err)
	}

	var out vkfilter.Output
	switch *filterName {
	case "hue":
		out, err = f.ApplyColorMatrix(float32(*angle), 0)
	case "blur":
		out, err = f.ApplyBlur(float32(*radius), 0)
	default:
		log.Fatalf("Unknown filter %q", *filterName)
	}
	if err != nil {
		log.Fatalf("Failed to apply %s: %v", *filterName, err)
	}

	result := vkfilter.NewBitmap(out.Width(), out.Height())
	if err := out.ReadPixels(result); err != nil {
		log.Fatalf("Failed to read result: %v", err)
	}

	if err := savePNG(*output, result); err != nil {
		log.Fatalf("Failed to save: %v", err)
	}
	log.Printf("%s filter saved to %s (%dx%d)\n", *filterName, *output, out.Width(), out.Height())
}

func loadBitmap(path string) (*vkfilter.Bitmap, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()
	img, _, err := image.Decode(f)
	if err != nil {
		return nil, err
	}
	return vkfilter.BitmapFromImage(img), nil
}

func savePNG(path string, bm *vkfilter.Bitmap) error {
	f, err := os.Create(path)
	if err != nil {
		return err
	}
	defer f.Close()
	return png.Encode(f, bm.ToImage())
}
