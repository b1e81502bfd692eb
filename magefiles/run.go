//go:build mage

package main

import (
	"fmt"
	"os"

	"github.com/magefile/mage/mg"
)

type Run mg.Namespace

// Runs the player in a window, reloading the testbed shaders on change.
func (Run) Player() error {
	mg.Deps(Build.Player)
	fmt.Println("Run player...")
	if _, err := executeCmd("bin/gpuctx", withArgs("-config", "player.toml", "-assets", "testbed/shaders"), withStream()); err != nil {
		return err
	}
	return nil
}

// Renders frames offscreen and writes the last one to capture.bmp. The
// configuration comes from $GPUCTX_CONFIG, offscreen.toml by default.
func (Run) Offscreen() error {
	mg.Deps(Build.Player)
	cfg := os.Getenv("GPUCTX_CONFIG")
	if cfg == "" {
		cfg = "offscreen.toml"
	}
	args := []string{"-config", cfg, "-frames", "60", "-capture", "capture.bmp"}
	if _, err := executeCmd("bin/gpuctx", withArgs(args...), withStream()); err != nil {
		return err
	}
	return nil
}
