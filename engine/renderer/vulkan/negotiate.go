package vulkan

import (
	"strings"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/nextrender/engine/core"
	"golang.org/x/exp/slices"
)

// Wishlist maps a capability name to whether it is optional.
type Wishlist map[string]bool

// Clone returns an independent copy; a nil wishlist clones to an empty one.
func (w Wishlist) Clone() Wishlist {
	out := make(Wishlist, len(w))
	for k, v := range w {
		out[k] = v
	}
	return out
}

func (w Wishlist) names() []string {
	names := make([]string, 0, len(w))
	for name := range w {
		names = append(names, name)
	}
	slices.Sort(names)
	return names
}

// Require marks name as a hard requirement, overriding an optional entry.
func (w Wishlist) Require(name string) {
	w[name] = false
}

// LayerGroup is a set of validation layers that is only enabled as a whole.
type LayerGroup []string

// DefaultValidationLayerGroups is tried in order; the first fully supported group wins.
var DefaultValidationLayerGroups = []LayerGroup{
	{"VK_LAYER_KHRONOS_validation"},
	{"VK_LAYER_LUNARG_standard_validation"},
	{
		"VK_LAYER_GOOGLE_threading",
		"VK_LAYER_LUNARG_parameter_validation",
		"VK_LAYER_LUNARG_object_tracker",
		"VK_LAYER_LUNARG_core_validation",
		"VK_LAYER_GOOGLE_unique_objects",
	},
	{"VK_LAYER_LUNARG_core_validation"},
}

// nameList is an insertion ordered set of capability names.
type nameList []string

func (l *nameList) add(names ...string) {
	for _, n := range names {
		if !slices.Contains(*l, n) {
			*l = append(*l, n)
		}
	}
}

// negotiate intersects the wishlist with what the native side supports. It logs
// one line per entry and returns the enabled names in sorted order. Any missing
// non-optional entry fails the whole negotiation with ErrCapabilityMissing.
func negotiate(kind string, wishlist Wishlist, supported []string) ([]string, error) {
	names := wishlist.names()

	enabled := make([]string, 0, len(names))
	missing := []string{}
	for _, name := range names {
		optional := wishlist[name]
		switch {
		case slices.Contains(supported, name):
			core.LogInfo("%s is available, enabling it", name)
			enabled = append(enabled, name)
		case optional:
			core.LogWarn("Optional %s %s not available, some features may be disabled", kind, name)
		default:
			core.LogError("Required %s %s not available, cannot run", kind, name)
			missing = append(missing, name)
		}
	}

	if len(missing) > 0 {
		return nil, errors.Wrapf(core.ErrCapabilityMissing, "required %s not available: %s", kind, strings.Join(missing, ", "))
	}
	return enabled, nil
}

// selectLayerGroup returns the first group whose layers are all supported, or nil.
func selectLayerGroup(groups []LayerGroup, supported []string) LayerGroup {
	for i, group := range groups {
		if len(group) == 0 {
			continue
		}
		ok := true
		for _, layer := range group {
			if !slices.Contains(supported, layer) {
				ok = false
				break
			}
		}
		if ok {
			core.LogInfo("Enabled validation layers: %s", strings.Join(group, ", "))
			return slices.Clone(group)
		}
		if i < len(groups)-1 {
			core.LogWarn("Couldn't enable validation layers (%s), falling back", strings.Join(group, ", "))
		}
	}
	core.LogWarn("Couldn't enable any validation layer group, validation disabled")
	return nil
}
