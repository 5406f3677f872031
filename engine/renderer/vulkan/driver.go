package vulkan

import (
	"fmt"
	"strings"
	"unsafe"

	"github.com/spaghettifunk/nextrender/engine/renderer/metadata"
)

// Handle is an opaque native object owned by a Driver. nil is the null handle.
type Handle interface{}

type AdapterType int

const (
	AdapterTypeOther AdapterType = iota
	AdapterTypeIntegrated
	AdapterTypeDiscrete
	AdapterTypeVirtual
	AdapterTypeCPU
)

func (t AdapterType) String() string {
	switch t {
	case AdapterTypeIntegrated:
		return "Integrated"
	case AdapterTypeDiscrete:
		return "Discrete"
	case AdapterTypeVirtual:
		return "Virtual"
	case AdapterTypeCPU:
		return "CPU"
	default:
		return "Unknown"
	}
}

// ParseAdapterType accepts the names printed by AdapterType.String, case insensitive.
func ParseAdapterType(s string) (AdapterType, error) {
	switch strings.ToLower(s) {
	case "", "other", "unknown":
		return AdapterTypeOther, nil
	case "integrated":
		return AdapterTypeIntegrated, nil
	case "discrete":
		return AdapterTypeDiscrete, nil
	case "virtual":
		return AdapterTypeVirtual, nil
	case "cpu":
		return AdapterTypeCPU, nil
	}
	return AdapterTypeOther, fmt.Errorf("unknown adapter type %q", s)
}

type AdapterProperties struct {
	Name          string
	Type          AdapterType
	VendorID      uint32
	DeviceID      uint32
	APIVersion    uint32
	DriverVersion uint32
	// Granularity for flushing and invalidating non-coherent mapped memory.
	NonCoherentAtomSize uint64
}

type QueueFlags uint32

const (
	QueueGraphics      QueueFlags = 0x1
	QueueCompute       QueueFlags = 0x2
	QueueTransfer      QueueFlags = 0x4
	QueueSparseBinding QueueFlags = 0x8
	QueueProtected     QueueFlags = 0x10
)

func (f QueueFlags) Has(flags QueueFlags) bool {
	return f&flags == flags
}

func (f QueueFlags) String() string {
	if f == 0 {
		return "none"
	}
	names := []string{}
	for _, n := range []struct {
		flag QueueFlags
		name string
	}{
		{QueueGraphics, "graphics"},
		{QueueCompute, "compute"},
		{QueueTransfer, "transfer"},
		{QueueSparseBinding, "sparse"},
		{QueueProtected, "protected"},
	} {
		if f&n.flag != 0 {
			names = append(names, n.name)
		}
	}
	return strings.Join(names, "|")
}

// QueueFamily describes a group of queues sharing one capability set.
type QueueFamily struct {
	QueueCount uint32
	Flags      QueueFlags
}

type InstanceCreateInfo struct {
	ApplicationName string
	EngineName      string
	APIVersion      uint32
	Extensions      []string
	Layers          []string
}

type QueueCreateInfo struct {
	FamilyIndex uint32
	Priorities  []float32
}

type DeviceCreateInfo struct {
	Extensions []string
	Queues     []QueueCreateInfo
}

type Severity int

const (
	SeverityVerbose Severity = iota
	SeverityInfo
	SeverityWarning
	SeverityPerformanceWarning
	SeverityError
)

// DebugMessage is a diagnostic report from the validation layers or the driver.
type DebugMessage struct {
	Severity Severity
	// Layer prefix or message id name.
	Source  string
	Code    int32
	Message string
}

type DebugCallback func(DebugMessage)

type MemoryPropertyFlags uint32

const (
	MemoryPropertyDeviceLocal     MemoryPropertyFlags = 0x1
	MemoryPropertyHostVisible     MemoryPropertyFlags = 0x2
	MemoryPropertyHostCoherent    MemoryPropertyFlags = 0x4
	MemoryPropertyHostCached      MemoryPropertyFlags = 0x8
	MemoryPropertyLazilyAllocated MemoryPropertyFlags = 0x10
)

type MemoryType struct {
	PropertyFlags MemoryPropertyFlags
	HeapIndex     uint32
}

type MemoryHeap struct {
	Size        uint64
	DeviceLocal bool
}

type MemoryProperties struct {
	Types []MemoryType
	Heaps []MemoryHeap
}

type MemoryRequirements struct {
	Size           uint64
	Alignment      uint64
	MemoryTypeBits uint32
	// Only reported by the v2 requirement queries.
	PrefersDedicated  bool
	RequiresDedicated bool
}

// DedicatedTarget names the single resource a dedicated allocation is made for.
type DedicatedTarget struct {
	Buffer Handle
	Image  Handle
}

// MemoryFunctions is the table of memory entry points an allocator is bound with.
// The v2 requirement queries are only wired when the dedicated allocation
// extension pair is enabled on the device.
type MemoryFunctions struct {
	GetPhysicalDeviceMemoryProperties func() MemoryProperties
	AllocateMemory                    func(size uint64, memoryTypeIndex uint32, dedicated *DedicatedTarget) (Handle, error)
	FreeMemory                        func(memory Handle)
	MapMemory                         func(memory Handle, offset, size uint64) (unsafe.Pointer, error)
	UnmapMemory                       func(memory Handle)
	FlushMappedMemoryRanges           func(memory Handle, offset, size uint64) error
	InvalidateMappedMemoryRanges      func(memory Handle, offset, size uint64) error
	BindBufferMemory                  func(buffer, memory Handle, offset uint64) error
	BindImageMemory                   func(image, memory Handle, offset uint64) error
	GetBufferMemoryRequirements       func(buffer Handle) MemoryRequirements
	GetImageMemoryRequirements        func(image Handle) MemoryRequirements
	GetBufferMemoryRequirements2      func(buffer Handle) MemoryRequirements
	GetImageMemoryRequirements2       func(image Handle) MemoryRequirements
}

// Driver is the boundary to the native graphics API. Every call blocks until the
// native call returns; failures are reported as *core.NativeError.
type Driver interface {
	InstanceExtensions() ([]string, error)
	InstanceLayers() ([]string, error)
	CreateInstance(info InstanceCreateInfo) (Handle, error)
	DestroyInstance(instance Handle)

	// SupportsDiagnostic reports whether the binding can install a callback
	// for the given diagnostic extension.
	SupportsDiagnostic(extension string) bool
	CreateDebugCallback(instance Handle, extension string, cb DebugCallback) (Handle, error)
	DestroyDebugCallback(instance, callback Handle, extension string)

	// SupportsDedicatedAllocation reports whether the binding can wire the v2
	// memory requirement queries the dedicated allocation pair relies on.
	SupportsDedicatedAllocation() bool

	EnumerateAdapters(instance Handle) ([]Handle, error)
	AdapterProperties(adapter Handle) AdapterProperties
	AdapterQueueFamilies(adapter Handle) []QueueFamily
	DeviceExtensions(adapter Handle) ([]string, error)
	SurfaceSupport(adapter Handle, family uint32, surface Handle) (bool, error)
	DestroySurface(instance, surface Handle)

	CreateDevice(adapter Handle, info DeviceCreateInfo) (Handle, error)
	DestroyDevice(device Handle)
	DeviceWaitIdle(device Handle) error
	DeviceQueue(device Handle, family, index uint32) Handle
	MemoryFunctions(adapter, device Handle) MemoryFunctions

	CreateShaderModule(device Handle, code []byte) (Handle, error)
	DestroyShaderModule(device, module Handle)
	CreateSampler(device Handle, desc metadata.SamplerDescriptor) (Handle, error)
	DestroySampler(device, sampler Handle)
}
