package vulkan

import (
	"encoding/binary"
	"fmt"
	"sync"
	"unsafe"

	vk "github.com/goki/vulkan"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/nextrender/engine/core"
	"github.com/spaghettifunk/nextrender/engine/renderer/metadata"
)

var loaderOnce sync.Once
var loaderErr error

// NativeDriver implements Driver on top of github.com/goki/vulkan.
type NativeDriver struct {
	// TODO: custom allocator.
	allocator *vk.AllocationCallbacks
}

// NewDriver loads the native loader. procAddr is the loader entry point handed
// out by the windowing library; nil falls back to the system loader.
func NewDriver(procAddr unsafe.Pointer) (*NativeDriver, error) {
	loaderOnce.Do(func() {
		if procAddr != nil {
			vk.SetGetInstanceProcAddr(procAddr)
		} else if err := vk.SetDefaultGetInstanceProcAddr(); err != nil {
			loaderErr = errors.Wrap(err, "failed to load the Vulkan library")
			return
		}
		if err := vk.Init(); err != nil {
			loaderErr = errors.Wrap(err, "failed to initialize vk")
		}
	})
	if loaderErr != nil {
		core.LogError(loaderErr.Error())
		return nil, loaderErr
	}
	return &NativeDriver{}, nil
}

func (d *NativeDriver) InstanceExtensions() ([]string, error) {
	var count uint32
	if res := vk.EnumerateInstanceExtensionProperties("", &count, nil); res != vk.Success {
		return nil, nativeError("vkEnumerateInstanceExtensionProperties", res)
	}
	props := make([]vk.ExtensionProperties, count)
	if res := vk.EnumerateInstanceExtensionProperties("", &count, props); res != vk.Success {
		return nil, nativeError("vkEnumerateInstanceExtensionProperties", res)
	}
	names := make([]string, 0, count)
	for i := range props[:count] {
		props[i].Deref()
		names = append(names, cString(props[i].ExtensionName[:]))
	}
	return names, nil
}

func (d *NativeDriver) InstanceLayers() ([]string, error) {
	var count uint32
	if res := vk.EnumerateInstanceLayerProperties(&count, nil); res != vk.Success {
		return nil, nativeError("vkEnumerateInstanceLayerProperties", res)
	}
	props := make([]vk.LayerProperties, count)
	if res := vk.EnumerateInstanceLayerProperties(&count, props); res != vk.Success {
		return nil, nativeError("vkEnumerateInstanceLayerProperties", res)
	}
	names := make([]string, 0, count)
	for i := range props[:count] {
		props[i].Deref()
		names = append(names, cString(props[i].LayerName[:]))
	}
	return names, nil
}

func (d *NativeDriver) CreateInstance(info InstanceCreateInfo) (Handle, error) {
	appInfo := &vk.ApplicationInfo{
		SType:              vk.StructureTypeApplicationInfo,
		ApiVersion:         info.APIVersion,
		ApplicationVersion: uint32(vk.MakeVersion(1, 0, 0)),
		PApplicationName:   VulkanSafeString(info.ApplicationName),
		PEngineName:        VulkanSafeString(info.EngineName),
	}
	createInfo := vk.InstanceCreateInfo{
		SType:                   vk.StructureTypeInstanceCreateInfo,
		PApplicationInfo:        appInfo,
		EnabledExtensionCount:   uint32(len(info.Extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(info.Extensions),
		EnabledLayerCount:       uint32(len(info.Layers)),
		PpEnabledLayerNames:     VulkanSafeStrings(info.Layers),
	}

	var instance vk.Instance
	if res := vk.CreateInstance(&createInfo, d.allocator, &instance); res != vk.Success {
		return nil, nativeError("vkCreateInstance", res)
	}
	if err := vk.InitInstance(instance); err != nil {
		vk.DestroyInstance(instance, d.allocator)
		return nil, errors.Wrap(core.ErrNativeAPIFailure, err.Error())
	}
	return instance, nil
}

func (d *NativeDriver) DestroyInstance(instance Handle) {
	vk.DestroyInstance(instance.(vk.Instance), d.allocator)
}

// SupportsDiagnostic is true for debug report only; the binding does not
// expose the debug utils messenger.
func (d *NativeDriver) SupportsDiagnostic(extension string) bool {
	return extension == DebugReportExtensionName
}

// SupportsDedicatedAllocation is false: the binding exports no
// vkGet*MemoryRequirements2KHR entry points, so dedicated hints cannot be queried.
func (d *NativeDriver) SupportsDedicatedAllocation() bool {
	return false
}

func (d *NativeDriver) CreateDebugCallback(instance Handle, extension string, cb DebugCallback) (Handle, error) {
	if extension != DebugReportExtensionName {
		return nil, errors.Wrapf(core.ErrCapabilityMissing, "diagnostic extension %s cannot be installed", extension)
	}
	createInfo := vk.DebugReportCallbackCreateInfo{
		SType: vk.StructureTypeDebugReportCallbackCreateInfo,
		Flags: vk.DebugReportFlags(vk.DebugReportErrorBit | vk.DebugReportWarningBit |
			vk.DebugReportPerformanceWarningBit | vk.DebugReportInformationBit),
		PfnCallback: func(flags vk.DebugReportFlags, objectType vk.DebugReportObjectType, object uint64, location uint64, messageCode int32, pLayerPrefix string, pMessage string, pUserData unsafe.Pointer) vk.Bool32 {
			cb(DebugMessage{
				Severity: reportSeverity(flags),
				Source:   pLayerPrefix,
				Code:     messageCode,
				Message:  pMessage,
			})
			return vk.Bool32(vk.False)
		},
	}

	var callback vk.DebugReportCallback
	if res := vk.CreateDebugReportCallback(instance.(vk.Instance), &createInfo, d.allocator, &callback); res != vk.Success {
		return nil, nativeError("vkCreateDebugReportCallbackEXT", res)
	}
	return callback, nil
}

func reportSeverity(flags vk.DebugReportFlags) Severity {
	switch {
	case flags&vk.DebugReportFlags(vk.DebugReportErrorBit) != 0:
		return SeverityError
	case flags&vk.DebugReportFlags(vk.DebugReportPerformanceWarningBit) != 0:
		return SeverityPerformanceWarning
	case flags&vk.DebugReportFlags(vk.DebugReportWarningBit) != 0:
		return SeverityWarning
	case flags&vk.DebugReportFlags(vk.DebugReportDebugBit) != 0:
		return SeverityVerbose
	default:
		return SeverityInfo
	}
}

func (d *NativeDriver) DestroyDebugCallback(instance, callback Handle, extension string) {
	if extension != DebugReportExtensionName {
		return
	}
	vk.DestroyDebugReportCallback(instance.(vk.Instance), callback.(vk.DebugReportCallback), d.allocator)
}

func (d *NativeDriver) EnumerateAdapters(instance Handle) ([]Handle, error) {
	var count uint32
	if res := vk.EnumeratePhysicalDevices(instance.(vk.Instance), &count, nil); res != vk.Success {
		return nil, nativeError("vkEnumeratePhysicalDevices", res)
	}
	devices := make([]vk.PhysicalDevice, count)
	if count > 0 {
		if res := vk.EnumeratePhysicalDevices(instance.(vk.Instance), &count, devices); res != vk.Success {
			return nil, nativeError("vkEnumeratePhysicalDevices", res)
		}
	}
	handles := make([]Handle, 0, count)
	for _, pd := range devices[:count] {
		handles = append(handles, pd)
	}
	return handles, nil
}

func (d *NativeDriver) AdapterProperties(adapter Handle) AdapterProperties {
	var props vk.PhysicalDeviceProperties
	vk.GetPhysicalDeviceProperties(adapter.(vk.PhysicalDevice), &props)
	props.Deref()
	props.Limits.Deref()

	return AdapterProperties{
		Name:                cString(props.DeviceName[:]),
		Type:                adapterType(props.DeviceType),
		VendorID:            props.VendorID,
		DeviceID:            props.DeviceID,
		APIVersion:          props.ApiVersion,
		DriverVersion:       props.DriverVersion,
		NonCoherentAtomSize: uint64(props.Limits.NonCoherentAtomSize),
	}
}

func adapterType(t vk.PhysicalDeviceType) AdapterType {
	switch t {
	case vk.PhysicalDeviceTypeIntegratedGpu:
		return AdapterTypeIntegrated
	case vk.PhysicalDeviceTypeDiscreteGpu:
		return AdapterTypeDiscrete
	case vk.PhysicalDeviceTypeVirtualGpu:
		return AdapterTypeVirtual
	case vk.PhysicalDeviceTypeCpu:
		return AdapterTypeCPU
	default:
		return AdapterTypeOther
	}
}

func (d *NativeDriver) AdapterQueueFamilies(adapter Handle) []QueueFamily {
	var count uint32
	vk.GetPhysicalDeviceQueueFamilyProperties(adapter.(vk.PhysicalDevice), &count, nil)
	props := make([]vk.QueueFamilyProperties, count)
	vk.GetPhysicalDeviceQueueFamilyProperties(adapter.(vk.PhysicalDevice), &count, props)

	families := make([]QueueFamily, count)
	for i := range families {
		props[i].Deref()
		families[i] = QueueFamily{
			QueueCount: props[i].QueueCount,
			Flags:      QueueFlags(props[i].QueueFlags),
		}
	}
	return families
}

func (d *NativeDriver) DeviceExtensions(adapter Handle) ([]string, error) {
	pd := adapter.(vk.PhysicalDevice)
	var count uint32
	if res := vk.EnumerateDeviceExtensionProperties(pd, "", &count, nil); res != vk.Success {
		return nil, nativeError("vkEnumerateDeviceExtensionProperties", res)
	}
	props := make([]vk.ExtensionProperties, count)
	if count > 0 {
		if res := vk.EnumerateDeviceExtensionProperties(pd, "", &count, props); res != vk.Success {
			return nil, nativeError("vkEnumerateDeviceExtensionProperties", res)
		}
	}
	names := make([]string, 0, count)
	for i := range props[:count] {
		props[i].Deref()
		names = append(names, cString(props[i].ExtensionName[:]))
	}
	return names, nil
}

func (d *NativeDriver) SurfaceSupport(adapter Handle, family uint32, surface Handle) (bool, error) {
	var supported vk.Bool32
	if res := vk.GetPhysicalDeviceSurfaceSupport(adapter.(vk.PhysicalDevice), family, surface.(vk.Surface), &supported); res != vk.Success {
		return false, nativeError("vkGetPhysicalDeviceSurfaceSupportKHR", res)
	}
	return supported == vk.True, nil
}

func (d *NativeDriver) DestroySurface(instance, surface Handle) {
	vk.DestroySurface(instance.(vk.Instance), surface.(vk.Surface), d.allocator)
}

func (d *NativeDriver) CreateDevice(adapter Handle, info DeviceCreateInfo) (Handle, error) {
	queueCreateInfos := make([]vk.DeviceQueueCreateInfo, len(info.Queues))
	for i, q := range info.Queues {
		queueCreateInfos[i] = vk.DeviceQueueCreateInfo{
			SType:            vk.StructureTypeDeviceQueueCreateInfo,
			QueueFamilyIndex: q.FamilyIndex,
			QueueCount:       uint32(len(q.Priorities)),
			PQueuePriorities: q.Priorities,
		}
	}

	deviceCreateInfo := vk.DeviceCreateInfo{
		SType:                   vk.StructureTypeDeviceCreateInfo,
		QueueCreateInfoCount:    uint32(len(queueCreateInfos)),
		PQueueCreateInfos:       queueCreateInfos,
		EnabledExtensionCount:   uint32(len(info.Extensions)),
		PpEnabledExtensionNames: VulkanSafeStrings(info.Extensions),
		// Deprecated and ignored, so pass nothing.
		EnabledLayerCount:   0,
		PpEnabledLayerNames: nil,
	}

	var device vk.Device
	if res := vk.CreateDevice(adapter.(vk.PhysicalDevice), &deviceCreateInfo, d.allocator, &device); res != vk.Success {
		return nil, nativeError("vkCreateDevice", res)
	}
	return device, nil
}

func (d *NativeDriver) DestroyDevice(device Handle) {
	vk.DestroyDevice(device.(vk.Device), d.allocator)
}

func (d *NativeDriver) DeviceWaitIdle(device Handle) error {
	if res := vk.DeviceWaitIdle(device.(vk.Device)); res != vk.Success {
		return nativeError("vkDeviceWaitIdle", res)
	}
	return nil
}

func (d *NativeDriver) DeviceQueue(device Handle, family, index uint32) Handle {
	var queue vk.Queue
	vk.GetDeviceQueue(device.(vk.Device), family, index, &queue)
	if queue == nil {
		return nil
	}
	return queue
}

func (d *NativeDriver) MemoryFunctions(adapter, device Handle) MemoryFunctions {
	pd := adapter.(vk.PhysicalDevice)
	dev := device.(vk.Device)

	return MemoryFunctions{
		GetPhysicalDeviceMemoryProperties: func() MemoryProperties {
			return memoryProperties(pd)
		},
		AllocateMemory: func(size uint64, memoryTypeIndex uint32, dedicated *DedicatedTarget) (Handle, error) {
			return d.allocateMemory(dev, size, memoryTypeIndex, dedicated)
		},
		FreeMemory: func(memory Handle) {
			vk.FreeMemory(dev, memory.(vk.DeviceMemory), d.allocator)
		},
		MapMemory: func(memory Handle, offset, size uint64) (unsafe.Pointer, error) {
			var data unsafe.Pointer
			if res := vk.MapMemory(dev, memory.(vk.DeviceMemory), vk.DeviceSize(offset), vk.DeviceSize(size), 0, &data); res != vk.Success {
				return nil, nativeError("vkMapMemory", res)
			}
			return data, nil
		},
		UnmapMemory: func(memory Handle) {
			vk.UnmapMemory(dev, memory.(vk.DeviceMemory))
		},
		FlushMappedMemoryRanges: func(memory Handle, offset, size uint64) error {
			r := mappedRange(memory, offset, size)
			if res := vk.FlushMappedMemoryRanges(dev, 1, r); res != vk.Success {
				return nativeError("vkFlushMappedMemoryRanges", res)
			}
			return nil
		},
		InvalidateMappedMemoryRanges: func(memory Handle, offset, size uint64) error {
			r := mappedRange(memory, offset, size)
			if res := vk.InvalidateMappedMemoryRanges(dev, 1, r); res != vk.Success {
				return nativeError("vkInvalidateMappedMemoryRanges", res)
			}
			return nil
		},
		BindBufferMemory: func(buffer, memory Handle, offset uint64) error {
			if res := vk.BindBufferMemory(dev, buffer.(vk.Buffer), memory.(vk.DeviceMemory), vk.DeviceSize(offset)); res != vk.Success {
				return nativeError("vkBindBufferMemory", res)
			}
			return nil
		},
		BindImageMemory: func(image, memory Handle, offset uint64) error {
			if res := vk.BindImageMemory(dev, image.(vk.Image), memory.(vk.DeviceMemory), vk.DeviceSize(offset)); res != vk.Success {
				return nativeError("vkBindImageMemory", res)
			}
			return nil
		},
		GetBufferMemoryRequirements: func(buffer Handle) MemoryRequirements {
			var req vk.MemoryRequirements
			vk.GetBufferMemoryRequirements(dev, buffer.(vk.Buffer), &req)
			req.Deref()
			return memoryRequirements(req)
		},
		GetImageMemoryRequirements: func(image Handle) MemoryRequirements {
			var req vk.MemoryRequirements
			vk.GetImageMemoryRequirements(dev, image.(vk.Image), &req)
			req.Deref()
			return memoryRequirements(req)
		},
	}
}

func (d *NativeDriver) allocateMemory(dev vk.Device, size uint64, memoryTypeIndex uint32, dedicated *DedicatedTarget) (Handle, error) {
	allocInfo := vk.MemoryAllocateInfo{
		SType:           vk.StructureTypeMemoryAllocateInfo,
		AllocationSize:  vk.DeviceSize(size),
		MemoryTypeIndex: memoryTypeIndex,
	}
	if dedicated != nil {
		dedicatedInfo := vk.MemoryDedicatedAllocateInfo{
			SType: vk.StructureTypeMemoryDedicatedAllocateInfo,
		}
		if b, ok := dedicated.Buffer.(vk.Buffer); ok {
			dedicatedInfo.Buffer = b
		}
		if img, ok := dedicated.Image.(vk.Image); ok {
			dedicatedInfo.Image = img
		}
		ref, allocs := dedicatedInfo.PassRef()
		defer allocs.Free()
		allocInfo.PNext = unsafe.Pointer(ref)
	}

	var memory vk.DeviceMemory
	if res := vk.AllocateMemory(dev, &allocInfo, d.allocator, &memory); res != vk.Success {
		return nil, nativeError("vkAllocateMemory", res)
	}
	return memory, nil
}

func memoryRequirements(req vk.MemoryRequirements) MemoryRequirements {
	return MemoryRequirements{
		Size:           uint64(req.Size),
		Alignment:      uint64(req.Alignment),
		MemoryTypeBits: req.MemoryTypeBits,
	}
}

func memoryProperties(pd vk.PhysicalDevice) MemoryProperties {
	var mp vk.PhysicalDeviceMemoryProperties
	vk.GetPhysicalDeviceMemoryProperties(pd, &mp)
	mp.Deref()

	props := MemoryProperties{
		Types: make([]MemoryType, mp.MemoryTypeCount),
		Heaps: make([]MemoryHeap, mp.MemoryHeapCount),
	}
	for i := range props.Types {
		mp.MemoryTypes[i].Deref()
		props.Types[i] = MemoryType{
			PropertyFlags: MemoryPropertyFlags(mp.MemoryTypes[i].PropertyFlags),
			HeapIndex:     mp.MemoryTypes[i].HeapIndex,
		}
	}
	for i := range props.Heaps {
		mp.MemoryHeaps[i].Deref()
		props.Heaps[i] = MemoryHeap{
			Size:        uint64(mp.MemoryHeaps[i].Size),
			DeviceLocal: mp.MemoryHeaps[i].Flags&vk.MemoryHeapFlags(vk.MemoryHeapDeviceLocalBit) != 0,
		}
	}
	return props
}

func mappedRange(memory Handle, offset, size uint64) []vk.MappedMemoryRange {
	return []vk.MappedMemoryRange{{
		SType:  vk.StructureTypeMappedMemoryRange,
		Memory: memory.(vk.DeviceMemory),
		Offset: vk.DeviceSize(offset),
		Size:   vk.DeviceSize(size),
	}}
}

func (d *NativeDriver) CreateShaderModule(device Handle, code []byte) (Handle, error) {
	if len(code)%4 != 0 {
		return nil, errors.Wrapf(core.ErrValidationFailure, "shader code size %d is not a multiple of 4", len(code))
	}
	words := make([]uint32, len(code)/4)
	for i := range words {
		words[i] = binary.LittleEndian.Uint32(code[i*4:])
	}

	createInfo := vk.ShaderModuleCreateInfo{
		SType:    vk.StructureTypeShaderModuleCreateInfo,
		CodeSize: uint64(len(code)),
		PCode:    words,
	}
	var module vk.ShaderModule
	if res := vk.CreateShaderModule(device.(vk.Device), &createInfo, d.allocator, &module); res != vk.Success {
		return nil, nativeError("vkCreateShaderModule", res)
	}
	return module, nil
}

func (d *NativeDriver) DestroyShaderModule(device, module Handle) {
	vk.DestroyShaderModule(device.(vk.Device), module.(vk.ShaderModule), d.allocator)
}

func (d *NativeDriver) CreateSampler(device Handle, desc metadata.SamplerDescriptor) (Handle, error) {
	cfg := desc.Config()
	createInfo := vk.SamplerCreateInfo{
		SType:                   vk.StructureTypeSamplerCreateInfo,
		MagFilter:               vk.Filter(cfg.MagFilter),
		MinFilter:               vk.Filter(cfg.MinFilter),
		MipmapMode:              vk.SamplerMipmapMode(cfg.MipmapMode),
		AddressModeU:            vk.SamplerAddressMode(cfg.AddressModeU),
		AddressModeV:            vk.SamplerAddressMode(cfg.AddressModeV),
		AddressModeW:            vk.SamplerAddressMode(cfg.AddressModeW),
		MipLodBias:              cfg.MipLodBias,
		AnisotropyEnable:        vkBool(cfg.MaxAnisotropy > 1),
		MaxAnisotropy:           cfg.MaxAnisotropy,
		CompareEnable:           vkBool(cfg.CompareEnable),
		CompareOp:               vk.CompareOp(cfg.CompareOp),
		MinLod:                  cfg.MinLod,
		MaxLod:                  cfg.MaxLod,
		BorderColor:             vk.BorderColorIntOpaqueBlack,
		UnnormalizedCoordinates: vk.False,
	}
	var sampler vk.Sampler
	if res := vk.CreateSampler(device.(vk.Device), &createInfo, d.allocator, &sampler); res != vk.Success {
		return nil, nativeError("vkCreateSampler", res)
	}
	return sampler, nil
}

func (d *NativeDriver) DestroySampler(device, sampler Handle) {
	vk.DestroySampler(device.(vk.Device), sampler.(vk.Sampler), d.allocator)
}

func vkBool(b bool) vk.Bool32 {
	if b {
		return vk.True
	}
	return vk.False
}

// String identifies the binding in logs.
func (d *NativeDriver) String() string {
	return fmt.Sprintf("goki/vulkan %d.%d.%d", versionMajor(DefaultAPIVersion), versionMinor(DefaultAPIVersion), versionPatch(DefaultAPIVersion))
}

var _ Driver = (*NativeDriver)(nil)
