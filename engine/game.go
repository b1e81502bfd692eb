package engine

import (
	"github.com/spaghettifunk/gpuctx/engine/assets"
	"github.com/spaghettifunk/gpuctx/engine/gpu"
)

// Game is what the player drives: a scene attached to the context plus the
// hooks the engine calls around it. Every hook is optional.
type Game struct {
	ApplicationConfig *ApplicationConfig
	Scene             gpu.Scene
	FnInitialize      Initialize
	FnShaderChanged   ShaderChanged
	FnOnResize        OnResize
	FnShutdown        Shutdown
}

type Initialize func(ctx *gpu.Context, am *assets.AssetManager) error

// ShaderChanged is called between two frames with the name of a program
// whose sources changed on disk.
type ShaderChanged func(name string) error
type OnResize func(width, height int) error
type Shutdown func() error
