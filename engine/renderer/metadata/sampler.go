package metadata

import (
	"encoding/binary"
	"fmt"
	"math"
)

type Filter uint8

const (
	FilterNearest Filter = iota
	FilterLinear
)

type MipmapMode uint8

const (
	MipmapModeNearest MipmapMode = iota
	MipmapModeLinear
)

type AddressMode uint8

const (
	AddressModeRepeat AddressMode = iota
	AddressModeMirroredRepeat
	AddressModeClampToEdge
	AddressModeClampToBorder
	AddressModeMirrorClampToEdge
)

type CompareOp uint8

const (
	CompareOpNever CompareOp = iota
	CompareOpLess
	CompareOpEqual
	CompareOpLessOrEqual
	CompareOpGreater
	CompareOpNotEqual
	CompareOpGreaterOrEqual
	CompareOpAlways
)

/** @brief The size in bytes of a packed sampler descriptor. */
const SamplerDescriptorSize = 18

// Bit layout of the trailing 16-bit state word.
const (
	magFilterShift     = 0
	minFilterShift     = 1
	mipmapModeShift    = 2
	addressModeUShift  = 3
	addressModeVShift  = 6
	addressModeWShift  = 9
	compareEnableShift = 12
	compareOpShift     = 13

	oneBit    = 0x1
	threeBits = 0x7
)

/**
 * @brief Unpacked sampler state, used to build a SamplerDescriptor.
 */
type SamplerConfig struct {
	MagFilter     Filter
	MinFilter     Filter
	MipmapMode    MipmapMode
	AddressModeU  AddressMode
	AddressModeV  AddressMode
	AddressModeW  AddressMode
	CompareEnable bool
	CompareOp     CompareOp
	MipLodBias    float32
	MaxAnisotropy float32
	MinLod        float32
	MaxLod        float32
}

// DefaultSamplerConfig is linear filtering with repeat addressing and no depth compare.
func DefaultSamplerConfig() SamplerConfig {
	return SamplerConfig{
		MagFilter:    FilterLinear,
		MinFilter:    FilterLinear,
		MipmapMode:   MipmapModeLinear,
		AddressModeU: AddressModeRepeat,
		AddressModeV: AddressModeRepeat,
		AddressModeW: AddressModeRepeat,
	}
}

// SamplerDescriptor is the packed form of a SamplerConfig: four little-endian
// float32 (bias, max anisotropy, min lod, max lod) followed by a 16-bit state
// word. Every byte is written explicitly so == and Hash only ever see
// deterministic content, which also makes the descriptor usable as a map key.
type SamplerDescriptor [SamplerDescriptorSize]byte

// NewSamplerDescriptor packs cfg. Fields that do not fit their bit width are rejected.
func NewSamplerDescriptor(cfg SamplerConfig) (SamplerDescriptor, error) {
	var d SamplerDescriptor
	if cfg.MagFilter > oneBit || cfg.MinFilter > oneBit {
		return d, fmt.Errorf("sampler filter out of range (mag=%d, min=%d)", cfg.MagFilter, cfg.MinFilter)
	}
	if cfg.MipmapMode > oneBit {
		return d, fmt.Errorf("sampler mipmap mode out of range (%d)", cfg.MipmapMode)
	}
	for _, m := range []AddressMode{cfg.AddressModeU, cfg.AddressModeV, cfg.AddressModeW} {
		if m > AddressModeMirrorClampToEdge {
			return d, fmt.Errorf("sampler address mode out of range (%d)", m)
		}
	}
	if cfg.CompareOp > threeBits {
		return d, fmt.Errorf("sampler compare op out of range (%d)", cfg.CompareOp)
	}

	binary.LittleEndian.PutUint32(d[0:4], math.Float32bits(cfg.MipLodBias))
	binary.LittleEndian.PutUint32(d[4:8], math.Float32bits(cfg.MaxAnisotropy))
	binary.LittleEndian.PutUint32(d[8:12], math.Float32bits(cfg.MinLod))
	binary.LittleEndian.PutUint32(d[12:16], math.Float32bits(cfg.MaxLod))

	var state uint16
	state |= uint16(cfg.MagFilter) << magFilterShift
	state |= uint16(cfg.MinFilter) << minFilterShift
	state |= uint16(cfg.MipmapMode) << mipmapModeShift
	state |= uint16(cfg.AddressModeU) << addressModeUShift
	state |= uint16(cfg.AddressModeV) << addressModeVShift
	state |= uint16(cfg.AddressModeW) << addressModeWShift
	if cfg.CompareEnable {
		state |= oneBit << compareEnableShift
	}
	state |= uint16(cfg.CompareOp) << compareOpShift
	binary.LittleEndian.PutUint16(d[16:18], state)

	return d, nil
}

func (d SamplerDescriptor) state() uint16 {
	return binary.LittleEndian.Uint16(d[16:18])
}

func (d SamplerDescriptor) float(offset int) float32 {
	return math.Float32frombits(binary.LittleEndian.Uint32(d[offset : offset+4]))
}

// Config unpacks the descriptor.
func (d SamplerDescriptor) Config() SamplerConfig {
	s := d.state()
	return SamplerConfig{
		MagFilter:     Filter((s >> magFilterShift) & oneBit),
		MinFilter:     Filter((s >> minFilterShift) & oneBit),
		MipmapMode:    MipmapMode((s >> mipmapModeShift) & oneBit),
		AddressModeU:  AddressMode((s >> addressModeUShift) & threeBits),
		AddressModeV:  AddressMode((s >> addressModeVShift) & threeBits),
		AddressModeW:  AddressMode((s >> addressModeWShift) & threeBits),
		CompareEnable: (s>>compareEnableShift)&oneBit == oneBit,
		CompareOp:     CompareOp((s >> compareOpShift) & threeBits),
		MipLodBias:    d.float(0),
		MaxAnisotropy: d.float(4),
		MinLod:        d.float(8),
		MaxLod:        d.float(12),
	}
}

// Equal is an exact bytewise comparison, the same as ==.
func (d SamplerDescriptor) Equal(other SamplerDescriptor) bool {
	return d == other
}

// Hash is the FNV-1a 64 hash of the packed bytes.
func (d SamplerDescriptor) Hash() uint64 {
	return HashBytes(d[:])
}
