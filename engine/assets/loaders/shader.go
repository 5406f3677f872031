package loaders

import (
	"encoding/binary"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/nextrender/engine/core"
	"github.com/spaghettifunk/nextrender/engine/renderer/metadata"
)

// SpirvMagic is the first word of every SPIR-V module.
const SpirvMagic uint32 = 0x07230203

type ShaderLoader struct {
	binary BinaryLoader
}

// Load reads a SPIR-V binary and checks its framing. The code itself is
// validated by the driver when the module is created.
func (sl *ShaderLoader) Load(path string, assetType metadata.ResourceType, params interface{}) (*metadata.Resource, error) {
	r, err := sl.binary.Load(path, metadata.ResourceTypeShader, params)
	if err != nil {
		return nil, err
	}
	if err := CheckSpirv(r.Data); err != nil {
		core.LogError("shader %s: %s", path, err)
		return nil, err
	}
	return r, nil
}

func (sl *ShaderLoader) Unload(r *metadata.Resource) error {
	return sl.binary.Unload(r)
}

func CheckSpirv(code []byte) error {
	if len(code) == 0 || len(code)%4 != 0 {
		return errors.Wrapf(core.ErrValidationFailure, "spir-v size %d is not a positive multiple of 4", len(code))
	}
	if binary.LittleEndian.Uint32(code) != SpirvMagic {
		return errors.Wrap(core.ErrValidationFailure, "missing spir-v magic number")
	}
	return nil
}
