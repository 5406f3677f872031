//go:build mage

package main

import (
	"path/filepath"
	"strings"

	"github.com/magefile/mage/mg"
)

type Build mg.Namespace

const shaderDir = "testbed/assets/shaders"

// Compiles every GLSL shader of the testbed to <name>.<stage>.spv.
func (Build) Shaders() error {
	return buildShaders()
}

// Builds the testbed binary.
func (Build) Testbed() error {
	mg.Deps(Build.Shaders)
	if _, err := executeCmd("go", withArgs("build", "-o", "bin/nextrender", "."), withStream()); err != nil {
		return err
	}
	return nil
}

func buildShaders() error {
	for _, stage := range []string{"vert", "frag", "geom", "comp"} {
		sources, err := filepath.Glob(filepath.Join(shaderDir, "*."+stage))
		if err != nil {
			return err
		}
		for _, src := range sources {
			out := strings.TrimSuffix(src, "."+stage) + "." + stage + ".spv"
			if _, err := executeCmd("glslc", withArgs(src, "-o", out), withStream()); err != nil {
				return err
			}
		}
	}
	return nil
}
