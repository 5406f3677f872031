package metadata

type ResourceType int

/** @brief Pre-defined resource types. */
const (
	/** @brief Binary resource type. */
	ResourceTypeBinary ResourceType = iota
	/** @brief Shader resource type (compiled SPIR-V module). */
	ResourceTypeShader
)

func (t ResourceType) String() string {
	switch t {
	case ResourceTypeBinary:
		return "binary"
	case ResourceTypeShader:
		return "shader"
	default:
		return "unknown"
	}
}

/**
 * @brief A generic structure for a resource. All resource loaders
 * load data into these.
 */
type Resource struct {
	/** @brief The name of the resource. */
	Name string
	/** @brief The full file path of the resource. */
	FullPath string
	/** @brief The resource type. */
	Type ResourceType
	/** @brief The size of the resource data in bytes. */
	DataSize uint64
	/** @brief The resource data. */
	Data []byte
}
