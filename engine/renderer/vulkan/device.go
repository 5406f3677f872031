package vulkan

import (
	"fmt"
	"sync"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/nextrender/engine/core"
	"golang.org/x/exp/slices"
)

// LogicalDevice is the device created on an Adapter, with its queue table and
// memory allocator.
type LogicalDevice struct {
	adapter *Adapter
	driver  Driver
	handle  Handle

	supportedExtensions []string
	enabledExtensions   []string
	dedicatedAllocation bool

	// One entry per queue family of the adapter, each holding every queue of that family.
	queues    [][]*Queue
	allocator *MemoryAllocator

	mu        sync.Mutex
	destroyed bool
}

// CreateLogicalDevice negotiates device extensions, creates the device with
// every queue of every family and binds the memory allocator. surface may be
// nil, in which case no queue family can present.
func CreateLogicalDevice(adapter *Adapter, surface Handle, requested Wishlist) (*LogicalDevice, error) {
	if adapter == nil || adapter.context == nil {
		return nil, errors.Wrap(core.ErrValidationFailure, "no adapter")
	}
	ctx := adapter.context
	driver := ctx.driver
	if err := ctx.alive(); err != nil {
		core.LogError(err.Error())
		return nil, err
	}

	core.LogInfo("Creating logical device on %s...", adapter.properties.Name)

	supported, err := driver.DeviceExtensions(adapter.handle)
	if err != nil {
		core.LogError("Unable to enumerate device extensions: %s", err)
		return nil, errors.Wrap(err, "enumerate device extensions")
	}

	// The dedicated allocation pair is enabled as a unit. When only one half is
	// supported, neither counts as available to the wishlist.
	pair := slices.Contains(supported, GetMemoryRequirements2ExtensionName) &&
		slices.Contains(supported, DedicatedAllocationExtensionName)
	if pair && !driver.SupportsDedicatedAllocation() {
		core.LogWarn("Dedicated allocation is supported by the device but the driver cannot query its requirements, disabling it")
		pair = false
	}
	available := supported
	if !pair {
		available = slices.DeleteFunc(slices.Clone(supported), func(name string) bool {
			return name == GetMemoryRequirements2ExtensionName || name == DedicatedAllocationExtensionName
		})
	}

	negotiated, err := negotiate("device extension", requested, available)
	if err != nil {
		return nil, err
	}
	extensions := nameList{}
	extensions.add(negotiated...)
	if pair {
		core.LogInfo("Dedicated allocation enabled")
		extensions.add(GetMemoryRequirements2ExtensionName, DedicatedAllocationExtensionName)
	}

	families := adapter.queueFamilies
	present := make([]bool, len(families))
	if surface != nil {
		for i := range families {
			ok, err := driver.SurfaceSupport(adapter.handle, uint32(i), surface)
			if err != nil {
				core.LogError("Unable to query present support of queue family %d: %s", i, err)
				return nil, errors.Wrap(err, "query present support")
			}
			present[i] = ok
		}
	}

	info := DeviceCreateInfo{Extensions: slices.Clone(extensions)}
	for i, family := range families {
		if family.QueueCount == 0 {
			continue
		}
		priorities := make([]float32, family.QueueCount)
		for p := range priorities {
			priorities[p] = DefaultQueuePriority
		}
		info.Queues = append(info.Queues, QueueCreateInfo{FamilyIndex: uint32(i), Priorities: priorities})
	}

	handle, err := driver.CreateDevice(adapter.handle, info)
	if err != nil {
		core.LogError("Could not create logical device: %s", err)
		return nil, errors.Wrap(err, "create logical device")
	}

	d := &LogicalDevice{
		adapter:             adapter,
		driver:              driver,
		handle:              handle,
		supportedExtensions: slices.Clone(supported),
		enabledExtensions:   info.Extensions,
		dedicatedAllocation: pair,
		queues:              make([][]*Queue, len(families)),
	}

	for i, family := range families {
		d.queues[i] = make([]*Queue, family.QueueCount)
		for q := uint32(0); q < family.QueueCount; q++ {
			qh := driver.DeviceQueue(handle, uint32(i), q)
			if qh == nil {
				driver.DestroyDevice(handle)
				err := &core.NativeError{Call: fmt.Sprintf("GetDeviceQueue(%d, %d)", i, q), Result: -1}
				core.LogError(err.Error())
				return nil, err
			}
			d.queues[i][q] = newQueue(d, qh, uint32(i), q, family.Flags, present[i])
		}
	}
	core.LogInfo("Queues obtained.")

	allocator, err := newMemoryAllocator(d, driver.MemoryFunctions(adapter.handle, handle), pair)
	if err != nil {
		driver.DestroyDevice(handle)
		core.LogError("Cannot create allocator: %s", err)
		return nil, errors.Wrap(err, "bind memory allocator")
	}
	d.allocator = allocator

	if err := ctx.attach(d); err != nil {
		allocator.Destroy()
		driver.DestroyDevice(handle)
		core.LogError(err.Error())
		return nil, err
	}

	core.LogInfo("Logical device created.")
	return d, nil
}

func (d *LogicalDevice) Adapter() *Adapter {
	return d.adapter
}

func (d *LogicalDevice) Handle() Handle {
	return d.handle
}

func (d *LogicalDevice) Driver() Driver {
	return d.driver
}

func (d *LogicalDevice) Allocator() *MemoryAllocator {
	return d.allocator
}

func (d *LogicalDevice) SupportedExtensions() []string {
	return slices.Clone(d.supportedExtensions)
}

func (d *LogicalDevice) EnabledExtensions() []string {
	return slices.Clone(d.enabledExtensions)
}

func (d *LogicalDevice) IsExtensionEnabled(name string) bool {
	return slices.Contains(d.enabledExtensions, name)
}

// DedicatedAllocationEnabled reports whether the dedicated allocation pair is on.
func (d *LogicalDevice) DedicatedAllocationEnabled() bool {
	return d.dedicatedAllocation
}

// Queues returns the queue table indexed by family, then by in-family index.
func (d *LogicalDevice) Queues() [][]*Queue {
	out := make([][]*Queue, len(d.queues))
	for i := range d.queues {
		out[i] = slices.Clone(d.queues[i])
	}
	return out
}

func (d *LogicalDevice) Queue(family, index uint32) (*Queue, error) {
	if int(family) >= len(d.queues) || int(index) >= len(d.queues[family]) {
		return nil, errors.Wrapf(core.ErrValidationFailure, "no queue %d in family %d", index, family)
	}
	return d.queues[family][index], nil
}

// QueueByFlags returns the queue at index of the first family supporting flags.
func (d *LogicalDevice) QueueByFlags(flags QueueFlags, index uint32) (*Queue, error) {
	for _, family := range d.queues {
		if int(index) < len(family) && family[index].flags.Has(flags) {
			return family[index], nil
		}
	}
	return nil, errors.Wrapf(core.ErrCapabilityMissing, "no queue family with %s and %d queue(s)", flags, index+1)
}

// PresentQueue returns the queue at index of the first family able to present.
func (d *LogicalDevice) PresentQueue(index uint32) (*Queue, error) {
	for _, family := range d.queues {
		if int(index) < len(family) && family[index].canPresent {
			return family[index], nil
		}
	}
	return nil, errors.Wrap(core.ErrCapabilityMissing, "no queue family can present")
}

// WaitIdle blocks until every queue of the device is idle.
func (d *LogicalDevice) WaitIdle() error {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return core.ErrDeviceDestroyed
	}
	return d.driver.DeviceWaitIdle(d.handle)
}

// Destroy waits for the device to be idle, frees the allocator, invalidates
// every queue and releases the native device. Repeated calls are no-ops.
func (d *LogicalDevice) Destroy() {
	d.mu.Lock()
	defer d.mu.Unlock()
	if d.destroyed {
		return
	}

	if err := d.driver.DeviceWaitIdle(d.handle); err != nil {
		core.LogWarn("Device wait idle failed during destroy: %s", err)
	}
	if d.allocator != nil {
		d.allocator.Destroy()
	}
	for _, family := range d.queues {
		for _, q := range family {
			q.invalidate()
		}
	}
	d.driver.DestroyDevice(d.handle)
	d.handle = nil
	d.destroyed = true
	d.adapter.context.detach(d)
	core.LogInfo("Logical device destroyed.")
}

func (d *LogicalDevice) isDestroyed() bool {
	d.mu.Lock()
	defer d.mu.Unlock()
	return d.destroyed
}
