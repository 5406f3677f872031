package metadata

import (
	"encoding/binary"
	"fmt"

	"github.com/google/uuid"
)

type ShaderStage int

const (
	ShaderStageVertex   ShaderStage = 0x00000001
	ShaderStageGeometry ShaderStage = 0x00000002
	ShaderStageFragment ShaderStage = 0x00000004
	ShaderStageCompute  ShaderStage = 0x00000008
)

func (s ShaderStage) String() string {
	switch s {
	case ShaderStageVertex:
		return "vertex"
	case ShaderStageGeometry:
		return "geometry"
	case ShaderStageFragment:
		return "fragment"
	case ShaderStageCompute:
		return "compute"
	default:
		return fmt.Sprintf("ShaderStage(%#x)", int(s))
	}
}

// ParseShaderStage maps the short stage names used in shader file names
// (vert, frag, geom, comp) to a ShaderStage.
func ParseShaderStage(s string) (ShaderStage, error) {
	switch s {
	case "vert", "vertex":
		return ShaderStageVertex, nil
	case "geom", "geometry":
		return ShaderStageGeometry, nil
	case "frag", "fragment":
		return ShaderStageFragment, nil
	case "comp", "compute":
		return ShaderStageCompute, nil
	}
	return 0, fmt.Errorf("unknown shader stage %q", s)
}

// shaderNamespace scopes the name-based UUIDs derived from shader content.
var shaderNamespace = uuid.MustParse("6c0f3a52-8a0e-4c59-9a54-0d6f2b1e7c41")

/**
 * @brief Everything that makes up a shader request. Two sources with equal
 * fields always map to the same identity.
 */
type ShaderSource struct {
	/** @brief The pipeline stage the code runs in. */
	Stage ShaderStage
	/** @brief The name of the entry point function. */
	EntryPoint string
	/** @brief Opaque shader code (SPIR-V). */
	Code []byte
	/** @brief Preprocessor definitions. Order is significant. */
	Definitions []string
}

// Identity returns the content identity of the source. Every variable-length
// field is length-prefixed so that distinct inputs never share an encoding.
func (s ShaderSource) Identity() uuid.UUID {
	size := 4 + 8 + len(s.EntryPoint) + 8 + len(s.Code) + 8
	for _, d := range s.Definitions {
		size += 8 + len(d)
	}
	buf := make([]byte, 0, size)
	buf = binary.LittleEndian.AppendUint32(buf, uint32(s.Stage))
	buf = appendBytes(buf, []byte(s.EntryPoint))
	buf = appendBytes(buf, s.Code)
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(s.Definitions)))
	for _, d := range s.Definitions {
		buf = appendBytes(buf, []byte(d))
	}
	return uuid.NewSHA1(shaderNamespace, buf)
}

func appendBytes(buf, b []byte) []byte {
	buf = binary.LittleEndian.AppendUint64(buf, uint64(len(b)))
	return append(buf, b...)
}
