package vulkan

import (
	"github.com/pkg/errors"
	"github.com/spaghettifunk/nextrender/engine/core"
	"golang.org/x/exp/slices"
)

// Adapter is a physical GPU exposed by a BackendContext. Its properties and
// queue families are captured once at enumeration.
type Adapter struct {
	context       *BackendContext
	handle        Handle
	properties    AdapterProperties
	queueFamilies []QueueFamily
}

func enumerateAdapters(ctx *BackendContext) ([]*Adapter, error) {
	handles, err := ctx.driver.EnumerateAdapters(ctx.handle)
	if err != nil {
		core.LogError("Unable to enumerate adapters: %s", err)
		return nil, errors.Wrap(err, "enumerate adapters")
	}
	if len(handles) == 0 {
		core.LogError("Couldn't find a physical device that supports the native API.")
		return nil, core.ErrNoAdapterFound
	}

	adapters := make([]*Adapter, 0, len(handles))
	for _, h := range handles {
		a := &Adapter{
			context:       ctx,
			handle:        h,
			properties:    ctx.driver.AdapterProperties(h),
			queueFamilies: ctx.driver.AdapterQueueFamilies(h),
		}
		core.LogInfo("Found GPU: %s (%s, %d queue families)", a.properties.Name, a.properties.Type, len(a.queueFamilies))
		adapters = append(adapters, a)
	}
	return adapters, nil
}

func (a *Adapter) Context() *BackendContext {
	return a.context
}

func (a *Adapter) Handle() Handle {
	return a.handle
}

func (a *Adapter) Properties() AdapterProperties {
	return a.properties
}

func (a *Adapter) QueueFamilies() []QueueFamily {
	return slices.Clone(a.queueFamilies)
}

// SelectAdapter picks the first adapter of the preferred type, falling back to
// the first adapter in the list.
func SelectAdapter(adapters []*Adapter, preferred AdapterType) (*Adapter, error) {
	if len(adapters) == 0 {
		core.LogError("No adapter to select from.")
		return nil, core.ErrNoAdapterFound
	}

	selected := adapters[0]
	found := false
	for _, a := range adapters {
		if a.properties.Type == preferred {
			selected = a
			found = true
			break
		}
	}
	if !found {
		core.LogWarn("Couldn't find a %s GPU, using the first available one", preferred)
	}

	p := selected.properties
	core.LogInfo("Selected device: %s", p.Name)
	core.LogInfo("GPU type is %s.", p.Type)
	core.LogInfo("GPU Driver version: %d.%d.%d", versionMajor(p.DriverVersion), versionMinor(p.DriverVersion), versionPatch(p.DriverVersion))
	core.LogInfo("API version: %d.%d.%d", versionMajor(p.APIVersion), versionMinor(p.APIVersion), versionPatch(p.APIVersion))
	return selected, nil
}

func versionMajor(v uint32) uint32 { return v >> 22 }
func versionMinor(v uint32) uint32 { return (v >> 12) & 0x3ff }
func versionPatch(v uint32) uint32 { return v & 0xfff }
