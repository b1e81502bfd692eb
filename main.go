/*
gpuctx player: drives a GPU context with the test scene, either in a
window or offscreen with the last frame captured to a BMP file.
*/
package main

import (
	"flag"
	"os"
	"os/signal"
	"syscall"

	"github.com/spaghettifunk/gpuctx/engine"
	"github.com/spaghettifunk/gpuctx/engine/core"
	"github.com/spaghettifunk/gpuctx/testbed"

	// Backends register themselves.
	_ "github.com/spaghettifunk/gpuctx/engine/gpu/opengl"
	_ "github.com/spaghettifunk/gpuctx/engine/gpu/vulkan"
	_ "github.com/spaghettifunk/gpuctx/engine/gpu/wgpu"

	// HAL driven by the wgpu backend.
	_ "github.com/gogpu/wgpu/hal/vulkan"
)

func main() {
	app := &engine.ApplicationConfig{Name: "gpuctx player", StartPosX: 100, StartPosY: 100}
	flag.StringVar(&app.ConfigPath, "config", "", "TOML context configuration")
	flag.StringVar(&app.AssetsDir, "assets", "testbed/shaders", "directory watched for shaders and images")
	flag.IntVar(&app.Frames, "frames", 0, "stop after that many frames, 0 runs until closed")
	flag.StringVar(&app.CapturePath, "capture", "", "BMP file receiving the last offscreen frame")
	image := flag.String("image", "", "image under the assets directory used as texture")
	flag.Parse()

	tb := testbed.NewTestGame(app, *image)

	e, err := engine.New(tb.Game)
	if err != nil {
		core.LogFatal("could not create the engine: %v", err)
	}

	if err := e.Initialize(); err != nil {
		core.LogError("could not initialize the engine: %v", err)
		_ = e.Shutdown()
		os.Exit(1)
	}

	// signal channel to capture system calls
	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGTERM, syscall.SIGINT, syscall.SIGQUIT)
	go func() {
		<-sigCh
		e.Stop()
	}()

	runErr := e.Run()
	if err := e.Shutdown(); err != nil {
		core.LogError("shutdown: %v", err)
	}
	if runErr != nil {
		core.LogError("engine stopped: %v", runErr)
		os.Exit(1)
	}
}
