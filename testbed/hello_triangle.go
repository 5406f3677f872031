package testbed

import (
	"encoding/binary"
	"math"

	"github.com/pkg/errors"
	"github.com/spaghettifunk/nextrender/engine"
	"github.com/spaghettifunk/nextrender/engine/core"
	"github.com/spaghettifunk/nextrender/engine/renderer/metadata"
	"github.com/spaghettifunk/nextrender/engine/renderer/vulkan"
)

// Position and color of one vertex.
type vertex struct {
	X, Y    float32
	R, G, B float32
}

var triangle = []vertex{
	{0.0, -0.5, 1, 0, 0},
	{0.5, 0.5, 0, 1, 0},
	{-0.5, 0.5, 0, 0, 1},
}

const vertexSize = 5 * 4

type helloTriangleState struct {
	vertexShader   *vulkan.ShaderResource
	fragmentShader *vulkan.ShaderResource
	sampler        *vulkan.Sampler
	allocator      *vulkan.MemoryAllocator
	vertices       *vulkan.Allocation
	frames         uint64
	elapsed        float64
}

type HelloTriangle struct {
	*engine.Game
	state *helloTriangleState
}

func NewHelloTriangle() *HelloTriangle {
	ht := &HelloTriangle{
		Game:  &engine.Game{Name: "Hello Triangle"},
		state: &helloTriangleState{},
	}
	ht.State = ht.state
	ht.FnInitialize = ht.Initialize
	ht.FnUpdate = ht.Update
	ht.FnShutdown = ht.Shutdown
	return ht
}

func (g *HelloTriangle) Initialize(e *engine.Engine) error {
	core.LogInfo("initializing %s...", g.Name)

	var ok bool
	if g.state.vertexShader, ok = e.Shader("triangle", metadata.ShaderStageVertex); !ok {
		return errors.Wrap(core.ErrCapabilityMissing, "triangle vertex shader not loaded")
	}
	if g.state.fragmentShader, ok = e.Shader("triangle", metadata.ShaderStageFragment); !ok {
		return errors.Wrap(core.ErrCapabilityMissing, "triangle fragment shader not loaded")
	}

	desc, err := metadata.NewSamplerDescriptor(metadata.DefaultSamplerConfig())
	if err != nil {
		return err
	}
	if g.state.sampler, err = e.Resources().RequestSampler(desc); err != nil {
		return err
	}

	return g.uploadVertices(e.Device().Allocator())
}

func (g *HelloTriangle) uploadVertices(allocator *vulkan.MemoryAllocator) error {
	alloc, err := allocator.Allocate(vulkan.AllocationCreateInfo{
		Requirements: vulkan.MemoryRequirements{
			Size:           uint64(len(triangle) * vertexSize),
			Alignment:      16,
			MemoryTypeBits: math.MaxUint32,
		},
		Properties: vulkan.MemoryPropertyHostVisible | vulkan.MemoryPropertyHostCoherent,
	})
	if err != nil {
		return err
	}
	data, err := alloc.Map()
	if err != nil {
		allocator.Free(alloc)
		return err
	}
	for i, v := range triangle {
		off := i * vertexSize
		for j, f := range []float32{v.X, v.Y, v.R, v.G, v.B} {
			binary.LittleEndian.PutUint32(data[off+4*j:], math.Float32bits(f))
		}
	}
	alloc.Unmap()
	g.state.allocator = allocator
	g.state.vertices = alloc
	core.LogDebug("uploaded %d vertices (%d bytes)", len(triangle), alloc.Size())
	return nil
}

func (g *HelloTriangle) Update(deltaTime float64) error {
	g.state.frames++
	g.state.elapsed += deltaTime
	if g.state.elapsed >= 1 {
		core.LogDebug("%d frames, vertex shader %s", g.state.frames, g.state.vertexShader.ID())
		g.state.elapsed = 0
	}
	return nil
}

func (g *HelloTriangle) Shutdown() error {
	if g.state.vertices != nil {
		g.state.allocator.Free(g.state.vertices)
		g.state.vertices = nil
	}
	core.LogInfo("%s rendered %d frames.", g.Name, g.state.frames)
	return nil
}
