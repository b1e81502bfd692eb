package gpu

import (
	"fmt"
	"io"
	"os"

	"github.com/pelletier/go-toml/v2"
	"github.com/spaghettifunk/gpuctx/engine/core"
)

type BackendType string

const (
	BackendAuto   BackendType = "auto"
	BackendOpenGL BackendType = "opengl"
	BackendVulkan BackendType = "vulkan"
	BackendMetal  BackendType = "metal"
	BackendWGPU   BackendType = "wgpu"
)

type PlatformType string

const (
	PlatformAuto    PlatformType = "auto"
	PlatformX11     PlatformType = "x11"
	PlatformWayland PlatformType = "wayland"
	PlatformWindows PlatformType = "windows"
	PlatformMacOS   PlatformType = "macos"
)

type CaptureBufferType string

const (
	CaptureBufferCPU CaptureBufferType = "cpu"
	// CaptureBufferGPU asks for a device-side capture target. No backend
	// implements it.
	CaptureBufferGPU CaptureBufferType = "gpu"
)

// Surface is a native window a context can present to.
type Surface interface {
	// NativeHandles returns the display and window handles of the surface.
	NativeHandles() (display, window uintptr)
	FramebufferSize() (width, height int)
}

// Config is the immutable description of a context. Runtime-only fields are
// never decoded from a file.
type Config struct {
	Backend           BackendType       `toml:"backend"`
	Platform          PlatformType      `toml:"platform"`
	Width             int               `toml:"width"`
	Height            int               `toml:"height"`
	Offscreen         bool              `toml:"offscreen"`
	Samples           int               `toml:"samples"`
	ClearColor        [4]float32        `toml:"clear_color"`
	Viewport          [4]int            `toml:"viewport"`
	CaptureBufferType CaptureBufferType `toml:"capture_buffer_type"`
	HUD               bool              `toml:"hud"`
	Debug             bool              `toml:"debug"`
	LogLevel          string            `toml:"log_level"`
	SwapInterval      int               `toml:"swap_interval"`
	InFlightFrames    int               `toml:"in_flight_frames"`

	CaptureBuffer []byte  `toml:"-"`
	Window        Surface `toml:"-"`
}

func DefaultConfig() Config {
	return Config{
		Backend:           BackendAuto,
		Platform:          PlatformAuto,
		Width:             1280,
		Height:            720,
		ClearColor:        [4]float32{0, 0, 0, 1},
		CaptureBufferType: CaptureBufferCPU,
		LogLevel:          "info",
		SwapInterval:      1,
		InFlightFrames:    1,
	}
}

// LoadConfig reads a TOML file on top of DefaultConfig.
func LoadConfig(path string) (Config, error) {
	f, err := os.Open(path)
	if err != nil {
		return Config{}, fmt.Errorf("could not open config %s: %v: %w", path, err, core.ErrInvalidArg)
	}
	defer f.Close()
	return DecodeConfig(f)
}

// DecodeConfig decodes a TOML document on top of DefaultConfig. Unknown keys
// are rejected.
func DecodeConfig(r io.Reader) (Config, error) {
	cfg := DefaultConfig()
	dec := toml.NewDecoder(r)
	dec.DisallowUnknownFields()
	if err := dec.Decode(&cfg); err != nil {
		return Config{}, fmt.Errorf("could not decode config: %v: %w", err, core.ErrInvalidArg)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// Validate checks the configuration without touching any GPU state.
func (c *Config) Validate() error {
	switch c.Backend {
	case BackendAuto, BackendOpenGL, BackendVulkan, BackendMetal, BackendWGPU:
	case "":
		c.Backend = BackendAuto
	default:
		return fmt.Errorf("unknown backend %q: %w", c.Backend, core.ErrInvalidArg)
	}
	switch c.Platform {
	case PlatformAuto, PlatformX11, PlatformWayland, PlatformWindows, PlatformMacOS:
	case "":
		c.Platform = PlatformAuto
	default:
		return fmt.Errorf("unknown platform %q: %w", c.Platform, core.ErrInvalidArg)
	}
	switch c.Samples {
	case 0, 1, 2, 4, 8:
	default:
		return fmt.Errorf("unsupported sample count %d: %w", c.Samples, core.ErrInvalidArg)
	}
	if c.Width < 0 || c.Height < 0 {
		return fmt.Errorf("negative dimensions %dx%d: %w", c.Width, c.Height, core.ErrInvalidArg)
	}
	if c.Offscreen && (c.Width == 0 || c.Height == 0) {
		return fmt.Errorf("offscreen context needs non-zero dimensions, got %dx%d: %w", c.Width, c.Height, core.ErrInvalidArg)
	}
	for _, v := range c.Viewport {
		if v < 0 {
			return fmt.Errorf("invalid viewport %v: %w", c.Viewport, core.ErrInvalidArg)
		}
	}
	if c.InFlightFrames < 0 {
		return fmt.Errorf("invalid in-flight frame count %d: %w", c.InFlightFrames, core.ErrInvalidArg)
	}
	if c.CaptureBufferType == "" {
		c.CaptureBufferType = CaptureBufferCPU
	}
	if c.CaptureBuffer != nil {
		if !c.Offscreen {
			return fmt.Errorf("capture buffer is only supported with offscreen contexts: %w", core.ErrInvalidUsage)
		}
		if c.CaptureBufferType != CaptureBufferCPU {
			return fmt.Errorf("capture buffer type %q is not supported: %w", c.CaptureBufferType, core.ErrUnsupported)
		}
		if len(c.CaptureBuffer) < c.Width*c.Height*4 {
			return fmt.Errorf("capture buffer holds %d bytes, %dx%d RGBA needs %d: %w",
				len(c.CaptureBuffer), c.Width, c.Height, c.Width*c.Height*4, core.ErrInvalidArg)
		}
	}
	return nil
}

// SampleCount returns the effective number of samples per pixel.
func (c *Config) SampleCount() int {
	if c.Samples == 0 {
		return 1
	}
	return c.Samples
}

// InFlight returns the effective number of frames in flight.
func (c *Config) InFlight() int {
	if c.InFlightFrames <= 0 {
		return 1
	}
	return c.InFlightFrames
}
