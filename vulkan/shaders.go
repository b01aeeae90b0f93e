package vulkan

import (
	"embed"
	"errors"
	"fmt"
	"io/fs"
	"strings"

	"github.com/gogpu/naga"

	vkfilter "github.com/gogpu/vkfilter"
)

//go:embed shaders/*.wgsl
var shaderFS embed.FS

// Kernel names. Shader asset overrides use these with a ".spv" suffix.
const (
	shaderColorMatrix    = "colormatrix"
	shaderBlurHorizontal = "blur_horizontal"
	shaderBlurVertical   = "blur_vertical"
)

// The embedded sources carry a placeholder workgroup size that gets
// rewritten to the device tile before compilation.
const workGroupPlaceholder = "@workgroup_size(8, 8)"

// kernelSource returns the WGSL source for name with the tile size
// substituted in.
func kernelSource(name string, tile uint32) (string, error) {
	raw, err := shaderFS.ReadFile("shaders/" + name + ".wgsl")
	if err != nil {
		return "", fmt.Errorf("vkfilter: unknown kernel %q: %w", name, err)
	}
	src := string(raw)
	if !strings.Contains(src, workGroupPlaceholder) {
		return "", fmt.Errorf("vkfilter: kernel %q has no workgroup size placeholder", name)
	}
	return strings.ReplaceAll(src, workGroupPlaceholder,
		fmt.Sprintf("@workgroup_size(%d, %d)", tile, tile)), nil
}

// loadShader produces the SPIR-V words for the named kernel. A
// precompiled "<name>.spv" from the configured shader assets takes
// precedence; otherwise the embedded WGSL is compiled for the given
// tile size. Precompiled modules are expected to take the tile through
// specialization constants 0 and 1.
func loadShader(cfg vkfilter.Config, name string, tile uint32) ([]uint32, error) {
	if cfg.ShaderAssets != nil {
		raw, err := fs.ReadFile(cfg.ShaderAssets, name+".spv")
		switch {
		case err == nil:
			if len(raw)%4 != 0 {
				return nil, fmt.Errorf("vkfilter: shader asset %s.spv is not whole SPIR-V words", name)
			}
			vkfilter.Logger().Debug("using precompiled shader", "name", name, "bytes", len(raw))
			return spirvWords(raw), nil
		case !errors.Is(err, fs.ErrNotExist):
			return nil, fmt.Errorf("vkfilter: read shader asset %s.spv: %w", name, err)
		}
	}

	src, err := kernelSource(name, tile)
	if err != nil {
		return nil, err
	}
	raw, err := naga.Compile(src)
	if err != nil {
		return nil, fmt.Errorf("vkfilter: compile kernel %q: %w", name, err)
	}
	return spirvWords(raw), nil
}

// spirvWords packs little-endian SPIR-V bytes into 32-bit words.
func spirvWords(raw []byte) []uint32 {
	words := make([]uint32, len(raw)/4)
	for i := range words {
		words[i] = uint32(raw[i*4]) |
			uint32(raw[i*4+1])<<8 |
			uint32(raw[i*4+2])<<16 |
			uint32(raw[i*4+3])<<24
	}
	return words
}
