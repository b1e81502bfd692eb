//go:build mage

package main

import (
	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

// Builds the player into bin/gpuctx.
func (Build) Player() error {
	if _, err := executeCmd("go", withArgs("build", "-o", "bin/gpuctx", "."), withStream()); err != nil {
		return err
	}
	return nil
}

// Builds the player with the Wayland window handles instead of X11.
func (Build) Wayland() error {
	if _, err := executeCmd("go", withArgs("build", "-tags", "wayland", "-o", "bin/gpuctx", "."), withStream()); err != nil {
		return err
	}
	return nil
}

// Runs go vet and the unit tests.
func (Build) Test() error {
	if _, err := executeCmd("go", withArgs("vet", "./..."), withStream()); err != nil {
		return err
	}
	if _, err := executeCmd("go", withArgs("test", "-race", "./..."), withStream()); err != nil {
		return err
	}
	return nil
}

// Tidies the module.
func (Build) Tidy() error {
	return goTidy()
}
