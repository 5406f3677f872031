package vulkan

import (
	"sync"
	"unsafe"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/nextrender/engine/core"
	"github.com/spaghettifunk/nextrender/engine/renderer/metadata"
)

// MemoryAllocator hands out device memory through the function table it was
// bound with. The dedicated allocation path is only active when the device
// enabled the dedicated allocation extension pair.
type MemoryAllocator struct {
	mu sync.Mutex

	functions  MemoryFunctions
	dedicated  bool
	properties MemoryProperties
	atomSize   uint64

	allocations map[*Allocation]struct{}
	destroyed   bool
}

// AllocationCreateInfo describes one allocation request.
type AllocationCreateInfo struct {
	Requirements MemoryRequirements
	Properties   MemoryPropertyFlags
	// Resource the allocation backs, used by the dedicated path.
	Dedicated *DedicatedTarget
}

// Allocation is one block of device memory.
type Allocation struct {
	allocator *MemoryAllocator
	memory    Handle
	size      uint64
	typeIndex uint32
	dedicated bool
	mapped    unsafe.Pointer
}

func newMemoryAllocator(device *LogicalDevice, fns MemoryFunctions, dedicated bool) (*MemoryAllocator, error) {
	if fns.GetPhysicalDeviceMemoryProperties == nil || fns.AllocateMemory == nil || fns.FreeMemory == nil ||
		fns.GetBufferMemoryRequirements == nil || fns.GetImageMemoryRequirements == nil {
		return nil, errors.Wrap(core.ErrNativeAPIFailure, "memory function table is incomplete")
	}

	bound := MemoryFunctions{
		GetPhysicalDeviceMemoryProperties: fns.GetPhysicalDeviceMemoryProperties,
		AllocateMemory:                    fns.AllocateMemory,
		FreeMemory:                        fns.FreeMemory,
		MapMemory:                         fns.MapMemory,
		UnmapMemory:                       fns.UnmapMemory,
		FlushMappedMemoryRanges:           fns.FlushMappedMemoryRanges,
		InvalidateMappedMemoryRanges:      fns.InvalidateMappedMemoryRanges,
		BindBufferMemory:                  fns.BindBufferMemory,
		BindImageMemory:                   fns.BindImageMemory,
		GetBufferMemoryRequirements:       fns.GetBufferMemoryRequirements,
		GetImageMemoryRequirements:        fns.GetImageMemoryRequirements,
	}
	if dedicated {
		if fns.GetBufferMemoryRequirements2 == nil || fns.GetImageMemoryRequirements2 == nil {
			return nil, errors.Wrap(core.ErrNativeAPIFailure, "v2 memory requirement queries are missing")
		}
		bound.GetBufferMemoryRequirements2 = fns.GetBufferMemoryRequirements2
		bound.GetImageMemoryRequirements2 = fns.GetImageMemoryRequirements2
	}

	a := &MemoryAllocator{
		functions:   bound,
		dedicated:   dedicated,
		properties:  bound.GetPhysicalDeviceMemoryProperties(),
		allocations: make(map[*Allocation]struct{}),
	}
	if device != nil && device.adapter != nil {
		a.atomSize = device.adapter.properties.NonCoherentAtomSize
	}
	return a, nil
}

// DedicatedAllocationEnabled reports whether the dedicated fast path is active.
func (a *MemoryAllocator) DedicatedAllocationEnabled() bool {
	return a.dedicated
}

// Functions returns the function table the allocator is bound with.
func (a *MemoryAllocator) Functions() MemoryFunctions {
	return a.functions
}

func (a *MemoryAllocator) MemoryProperties() MemoryProperties {
	return a.properties
}

// FindMemoryIndex returns the first memory type allowed by typeFilter that has
// every requested property flag, or -1.
func (a *MemoryAllocator) FindMemoryIndex(typeFilter uint32, propertyFlags MemoryPropertyFlags) int32 {
	for i, t := range a.properties.Types {
		if i >= 32 {
			break
		}
		// Check each memory type to see if its bit is set to 1.
		if (typeFilter&(1<<uint(i))) != 0 && t.PropertyFlags&propertyFlags == propertyFlags {
			return int32(i)
		}
	}
	core.LogWarn("Unable to find suitable memory type!")
	return -1
}

// BufferRequirements queries the requirements of buffer, including the
// dedicated hints when the fast path is active.
func (a *MemoryAllocator) BufferRequirements(buffer Handle) MemoryRequirements {
	if a.dedicated {
		return a.functions.GetBufferMemoryRequirements2(buffer)
	}
	return a.functions.GetBufferMemoryRequirements(buffer)
}

func (a *MemoryAllocator) ImageRequirements(image Handle) MemoryRequirements {
	if a.dedicated {
		return a.functions.GetImageMemoryRequirements2(image)
	}
	return a.functions.GetImageMemoryRequirements(image)
}

// Allocate selects a memory type and allocates a block for the request. The
// dedicated path is taken when it is active, a target is given and the
// requirements prefer or require it.
func (a *MemoryAllocator) Allocate(info AllocationCreateInfo) (*Allocation, error) {
	if info.Requirements.Size == 0 {
		err := errors.Wrap(core.ErrValidationFailure, "allocation size must be greater than zero")
		core.LogError(err.Error())
		return nil, err
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return nil, errors.Wrap(core.ErrDeviceDestroyed, "allocate")
	}

	index := a.FindMemoryIndex(info.Requirements.MemoryTypeBits, info.Properties)
	if index < 0 {
		return nil, errors.Wrapf(core.ErrCapabilityMissing, "no memory type for bits %#x with properties %#x", info.Requirements.MemoryTypeBits, uint32(info.Properties))
	}

	var target *DedicatedTarget
	if a.dedicated && info.Dedicated != nil &&
		(info.Requirements.PrefersDedicated || info.Requirements.RequiresDedicated) {
		target = info.Dedicated
	}

	memory, err := a.functions.AllocateMemory(info.Requirements.Size, uint32(index), target)
	if err != nil {
		core.LogError("Unable to allocate %d bytes of device memory: %s", info.Requirements.Size, err)
		return nil, errors.Wrap(err, "allocate device memory")
	}

	alloc := &Allocation{
		allocator: a,
		memory:    memory,
		size:      info.Requirements.Size,
		typeIndex: uint32(index),
		dedicated: target != nil,
	}
	a.allocations[alloc] = struct{}{}
	return alloc, nil
}

// Free releases the allocation. Freeing twice is a no-op.
func (a *MemoryAllocator) Free(alloc *Allocation) {
	if alloc == nil {
		return
	}
	a.mu.Lock()
	defer a.mu.Unlock()
	a.free(alloc)
}

func (a *MemoryAllocator) free(alloc *Allocation) {
	if _, ok := a.allocations[alloc]; !ok {
		return
	}
	if alloc.mapped != nil && a.functions.UnmapMemory != nil {
		a.functions.UnmapMemory(alloc.memory)
		alloc.mapped = nil
	}
	a.functions.FreeMemory(alloc.memory)
	alloc.memory = nil
	delete(a.allocations, alloc)
}

// Stats returns the number of live allocations and their total size.
func (a *MemoryAllocator) Stats() (count int, bytes uint64) {
	a.mu.Lock()
	defer a.mu.Unlock()
	for alloc := range a.allocations {
		bytes += alloc.size
	}
	return len(a.allocations), bytes
}

// Destroy frees every outstanding allocation.
func (a *MemoryAllocator) Destroy() {
	a.mu.Lock()
	defer a.mu.Unlock()
	if a.destroyed {
		return
	}
	if n := len(a.allocations); n > 0 {
		core.LogWarn("Freeing %d outstanding allocation(s) on allocator destroy", n)
	}
	for alloc := range a.allocations {
		a.free(alloc)
	}
	a.destroyed = true
}

func (m *Allocation) Memory() Handle {
	return m.memory
}

func (m *Allocation) Size() uint64 {
	return m.size
}

func (m *Allocation) MemoryTypeIndex() uint32 {
	return m.typeIndex
}

// Dedicated reports whether the allocation was made through the dedicated path.
func (m *Allocation) Dedicated() bool {
	return m.dedicated
}

// Map maps the whole allocation into host memory.
func (m *Allocation) Map() ([]byte, error) {
	a := m.allocator
	a.mu.Lock()
	defer a.mu.Unlock()
	if m.memory == nil {
		return nil, errors.Wrap(core.ErrValidationFailure, "map of a freed allocation")
	}
	if a.functions.MapMemory == nil {
		return nil, errors.Wrap(core.ErrCapabilityMissing, "memory mapping not bound")
	}
	if m.mapped == nil {
		ptr, err := a.functions.MapMemory(m.memory, 0, m.size)
		if err != nil {
			core.LogError("Unable to map memory: %s", err)
			return nil, errors.Wrap(err, "map memory")
		}
		m.mapped = ptr
	}
	return unsafe.Slice((*byte)(m.mapped), m.size), nil
}

func (m *Allocation) Unmap() {
	a := m.allocator
	a.mu.Lock()
	defer a.mu.Unlock()
	if m.mapped == nil || m.memory == nil || a.functions.UnmapMemory == nil {
		return
	}
	a.functions.UnmapMemory(m.memory)
	m.mapped = nil
}

// Flush makes host writes in the range visible to the device.
func (m *Allocation) Flush(offset, size uint64) error {
	return m.syncRange("flush", m.allocator.functions.FlushMappedMemoryRanges, offset, size)
}

// Invalidate makes device writes in the range visible to the host.
func (m *Allocation) Invalidate(offset, size uint64) error {
	return m.syncRange("invalidate", m.allocator.functions.InvalidateMappedMemoryRanges, offset, size)
}

func (m *Allocation) syncRange(op string, fn func(Handle, uint64, uint64) error, offset, size uint64) error {
	a := m.allocator
	a.mu.Lock()
	defer a.mu.Unlock()
	if m.memory == nil {
		return errors.Wrapf(core.ErrValidationFailure, "%s of a freed allocation", op)
	}
	if fn == nil {
		return errors.Wrapf(core.ErrCapabilityMissing, "%s not bound", op)
	}
	if offset >= m.size {
		return errors.Wrapf(core.ErrValidationFailure, "%s offset %d outside allocation of %d bytes", op, offset, m.size)
	}

	if size > m.size-offset {
		size = m.size - offset
	}
	r := metadata.GetAlignedRange(offset, size, a.atomSize)
	if r.Offset+r.Size > m.size {
		r.Size = m.size - r.Offset
	}
	if err := fn(m.memory, r.Offset, r.Size); err != nil {
		core.LogError("Unable to %s mapped memory: %s", op, err)
		return errors.Wrapf(err, "%s mapped memory", op)
	}
	return nil
}

// BindBuffer binds buffer to the start of the allocation.
func (m *Allocation) BindBuffer(buffer Handle) error {
	if m.allocator.functions.BindBufferMemory == nil {
		return errors.Wrap(core.ErrCapabilityMissing, "buffer binding not bound")
	}
	if err := m.allocator.functions.BindBufferMemory(buffer, m.memory, 0); err != nil {
		return errors.Wrap(err, "bind buffer memory")
	}
	return nil
}

func (m *Allocation) BindImage(image Handle) error {
	if m.allocator.functions.BindImageMemory == nil {
		return errors.Wrap(core.ErrCapabilityMissing, "image binding not bound")
	}
	if err := m.allocator.functions.BindImageMemory(image, m.memory, 0); err != nil {
		return errors.Wrap(err, "bind image memory")
	}
	return nil
}
