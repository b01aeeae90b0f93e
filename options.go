package vkfilter

import "io/fs"

// Config holds engine construction settings. Backend packages read it;
// callers populate it through Options.
type Config struct {
	// Validation enables the device's validation/debug layer when
	// available. Intended for development; it slows every call.
	Validation bool

	// ShaderAssets optionally supplies precompiled shader binaries.
	// When a backend looks up a shader named "<name>", it first reads
	// "<name>.spv" from this FS and falls back to its built-in kernels
	// only when the entry is absent.
	ShaderAssets fs.FS

	// Readback keeps a host-visible buffer alive so Output.ReadPixels
	// works. Consumers that only pass shared handles to another API can
	// disable it to save one width*height*4 allocation.
	Readback bool
}

// Option configures a filter backend during creation.
//
// Example:
//
//	f, err := vkfilter.Default(vkfilter.WithValidation(true))
type Option func(*Config)

// NewConfig returns the default configuration with all options applied.
func NewConfig(opts ...Option) Config {
	cfg := Config{Readback: true}
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}

// WithValidation toggles the device validation layer.
func WithValidation(enable bool) Option {
	return func(c *Config) {
		c.Validation = enable
	}
}

// WithShaderAssets supplies precompiled shader binaries, keyed by shader
// name with a ".spv" suffix.
func WithShaderAssets(fsys fs.FS) Option {
	return func(c *Config) {
		c.ShaderAssets = fsys
	}
}

// WithOutputReadback toggles the host-visible readback path backing
// Output.ReadPixels. It defaults to on.
func WithOutputReadback(enable bool) Option {
	return func(c *Config) {
		c.Readback = enable
	}
}
