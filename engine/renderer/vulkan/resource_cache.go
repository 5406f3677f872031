package vulkan

import (
	"sync"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"github.com/spaghettifunk/nextrender/engine/core"
	"github.com/spaghettifunk/nextrender/engine/renderer/metadata"
	"golang.org/x/exp/slices"
)

// ShaderResource is a shader module keyed by its content identity. It is owned
// by the ResourceCache that returned it and stays valid until evicted.
type ShaderResource struct {
	id          uuid.UUID
	stage       metadata.ShaderStage
	entryPoint  string
	definitions []string
	size        int
	module      Handle
}

func (s *ShaderResource) ID() uuid.UUID {
	return s.id
}

func (s *ShaderResource) Stage() metadata.ShaderStage {
	return s.stage
}

func (s *ShaderResource) EntryPoint() string {
	return s.entryPoint
}

func (s *ShaderResource) Definitions() []string {
	return slices.Clone(s.definitions)
}

// Size is the length in bytes of the source the module was built from.
func (s *ShaderResource) Size() int {
	return s.size
}

func (s *ShaderResource) Module() Handle {
	return s.module
}

// Sampler is a native sampler shared by every request with the same descriptor.
type Sampler struct {
	descriptor metadata.SamplerDescriptor
	handle     Handle
}

func (s *Sampler) Descriptor() metadata.SamplerDescriptor {
	return s.descriptor
}

func (s *Sampler) Handle() Handle {
	return s.handle
}

// ResourceCache creates shader modules and samplers on a LogicalDevice and
// deduplicates them by content. Lookups run under a shared lock; creating a
// new entry happens in an exclusive section so one identity never produces two
// native objects.
type ResourceCache struct {
	device *LogicalDevice
	locks  *LockPool

	mu        sync.RWMutex
	shaders   map[uuid.UUID]*ShaderResource
	samplers  map[metadata.SamplerDescriptor]*Sampler
	destroyed bool
}

// NewResourceCache creates a cache on device. locks may be shared with other
// users of the device; nil creates a private pool.
func NewResourceCache(device *LogicalDevice, locks *LockPool) *ResourceCache {
	if locks == nil {
		locks = NewLockPool()
	}
	return &ResourceCache{
		device:   device,
		locks:    locks,
		shaders:  make(map[uuid.UUID]*ShaderResource),
		samplers: make(map[metadata.SamplerDescriptor]*Sampler),
	}
}

// RequestShader returns the shader resource for the given inputs, creating the
// native module the first time the content is seen.
func (rc *ResourceCache) RequestShader(stage metadata.ShaderStage, entryPoint string, source []byte, definitions []string) (*ShaderResource, error) {
	if entryPoint == "" {
		err := errors.Wrap(core.ErrValidationFailure, "shader entry point is empty")
		core.LogError(err.Error())
		return nil, err
	}
	if len(source) == 0 {
		err := errors.Wrapf(core.ErrValidationFailure, "shader source for %s is empty", entryPoint)
		core.LogError(err.Error())
		return nil, err
	}

	src := metadata.ShaderSource{
		Stage:       stage,
		EntryPoint:  entryPoint,
		Code:        source,
		Definitions: definitions,
	}
	id := src.Identity()

	if s, ok, err := rc.lookupShader(id); err != nil || ok {
		return s, err
	}

	var shader *ShaderResource
	err := rc.locks.SafeCall(ShaderManagement, func() error {
		// Another request may have created it while we waited.
		s, ok, err := rc.lookupShader(id)
		if err != nil {
			return err
		}
		if ok {
			shader = s
			return nil
		}

		if rc.device.isDestroyed() {
			return errors.Wrap(core.ErrDeviceDestroyed, "create shader module")
		}
		module, err := rc.device.driver.CreateShaderModule(rc.device.handle, source)
		if err != nil {
			core.LogError("Unable to create %s shader module '%s': %s", stage, entryPoint, err)
			return errors.Wrap(err, "create shader module")
		}

		s = &ShaderResource{
			id:          id,
			stage:       stage,
			entryPoint:  entryPoint,
			definitions: slices.Clone(definitions),
			size:        len(source),
			module:      module,
		}
		rc.mu.Lock()
		if rc.destroyed {
			rc.mu.Unlock()
			rc.device.driver.DestroyShaderModule(rc.device.handle, module)
			return errors.Wrap(core.ErrDeviceDestroyed, "resource cache destroyed")
		}
		rc.shaders[id] = s
		rc.mu.Unlock()
		core.LogDebug("Shader %s (%s, %s) created.", id, stage, entryPoint)
		shader = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return shader, nil
}

func (rc *ResourceCache) lookupShader(id uuid.UUID) (*ShaderResource, bool, error) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if rc.destroyed {
		return nil, false, errors.Wrap(core.ErrDeviceDestroyed, "resource cache destroyed")
	}
	s, ok := rc.shaders[id]
	return s, ok, nil
}

// LookupShader returns the cached shader with the given identity.
func (rc *ResourceCache) LookupShader(id uuid.UUID) (*ShaderResource, bool) {
	s, ok, err := rc.lookupShader(id)
	return s, ok && err == nil
}

// RequestSampler returns the sampler for desc, creating it the first time.
func (rc *ResourceCache) RequestSampler(desc metadata.SamplerDescriptor) (*Sampler, error) {
	if s, ok, err := rc.lookupSampler(desc); err != nil || ok {
		return s, err
	}

	var sampler *Sampler
	err := rc.locks.SafeCall(SamplerManagement, func() error {
		s, ok, err := rc.lookupSampler(desc)
		if err != nil {
			return err
		}
		if ok {
			sampler = s
			return nil
		}

		if rc.device.isDestroyed() {
			return errors.Wrap(core.ErrDeviceDestroyed, "create sampler")
		}
		handle, err := rc.device.driver.CreateSampler(rc.device.handle, desc)
		if err != nil {
			core.LogError("Unable to create sampler: %s", err)
			return errors.Wrap(err, "create sampler")
		}

		s = &Sampler{descriptor: desc, handle: handle}
		rc.mu.Lock()
		if rc.destroyed {
			rc.mu.Unlock()
			rc.device.driver.DestroySampler(rc.device.handle, handle)
			return errors.Wrap(core.ErrDeviceDestroyed, "resource cache destroyed")
		}
		rc.samplers[desc] = s
		rc.mu.Unlock()
		core.LogDebug("Sampler %016x created.", desc.Hash())
		sampler = s
		return nil
	})
	if err != nil {
		return nil, err
	}
	return sampler, nil
}

func (rc *ResourceCache) lookupSampler(desc metadata.SamplerDescriptor) (*Sampler, bool, error) {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	if rc.destroyed {
		return nil, false, errors.Wrap(core.ErrDeviceDestroyed, "resource cache destroyed")
	}
	s, ok := rc.samplers[desc]
	return s, ok, nil
}

// EvictShader releases the shader module with the given identity.
func (rc *ResourceCache) EvictShader(id uuid.UUID) bool {
	rc.mu.Lock()
	s, ok := rc.shaders[id]
	delete(rc.shaders, id)
	rc.mu.Unlock()
	if !ok {
		return false
	}
	rc.device.driver.DestroyShaderModule(rc.device.handle, s.module)
	s.module = nil
	return true
}

func (rc *ResourceCache) EvictSampler(desc metadata.SamplerDescriptor) bool {
	rc.mu.Lock()
	s, ok := rc.samplers[desc]
	delete(rc.samplers, desc)
	rc.mu.Unlock()
	if !ok {
		return false
	}
	rc.device.driver.DestroySampler(rc.device.handle, s.handle)
	s.handle = nil
	return true
}

func (rc *ResourceCache) ShaderCount() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.shaders)
}

func (rc *ResourceCache) SamplerCount() int {
	rc.mu.RLock()
	defer rc.mu.RUnlock()
	return len(rc.samplers)
}

// Destroy releases every cached native object. It must run before the device
// is destroyed.
func (rc *ResourceCache) Destroy() {
	rc.mu.Lock()
	defer rc.mu.Unlock()
	if rc.destroyed {
		return
	}
	for id, s := range rc.shaders {
		rc.device.driver.DestroyShaderModule(rc.device.handle, s.module)
		s.module = nil
		delete(rc.shaders, id)
	}
	for desc, s := range rc.samplers {
		rc.device.driver.DestroySampler(rc.device.handle, s.handle)
		s.handle = nil
		delete(rc.samplers, desc)
	}
	rc.destroyed = true
	core.LogDebug("Resource cache destroyed.")
}
