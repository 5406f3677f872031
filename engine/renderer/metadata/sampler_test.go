package metadata

import (
	"testing"
	"unsafe"
)

func testSamplerConfig() SamplerConfig {
	cfg := DefaultSamplerConfig()
	cfg.AddressModeU = AddressModeClampToEdge
	cfg.AddressModeW = AddressModeMirrorClampToEdge
	cfg.CompareEnable = true
	cfg.CompareOp = CompareOpLessOrEqual
	cfg.MipLodBias = -0.5
	cfg.MaxAnisotropy = 16
	cfg.MinLod = 0
	cfg.MaxLod = 12
	return cfg
}

func mustDescriptor(t *testing.T, cfg SamplerConfig) SamplerDescriptor {
	t.Helper()
	d, err := NewSamplerDescriptor(cfg)
	if err != nil {
		t.Fatalf("NewSamplerDescriptor() error = %v", err)
	}
	return d
}

func TestSamplerDescriptorSize(t *testing.T) {
	var d SamplerDescriptor
	if got := unsafe.Sizeof(d); got != 18 {
		t.Fatalf("sizeof(SamplerDescriptor) = %d, want 18", got)
	}
}

func TestSamplerDescriptorIdenticalFields(t *testing.T) {
	a := mustDescriptor(t, testSamplerConfig())
	b := mustDescriptor(t, testSamplerConfig())

	if a != b || !a.Equal(b) {
		t.Error("descriptors built from identical fields should compare equal")
	}
	if a.Hash() != b.Hash() {
		t.Errorf("Hash() mismatch: %#x vs %#x", a.Hash(), b.Hash())
	}
}

func TestSamplerDescriptorSingleFieldChange(t *testing.T) {
	base := testSamplerConfig()
	a := mustDescriptor(t, base)

	tests := []struct {
		name   string
		mutate func(*SamplerConfig)
	}{
		{"max anisotropy", func(c *SamplerConfig) { c.MaxAnisotropy = 8 }},
		{"mag filter", func(c *SamplerConfig) { c.MagFilter = FilterNearest }},
		{"min filter", func(c *SamplerConfig) { c.MinFilter = FilterNearest }},
		{"mipmap mode", func(c *SamplerConfig) { c.MipmapMode = MipmapModeNearest }},
		{"address v", func(c *SamplerConfig) { c.AddressModeV = AddressModeClampToBorder }},
		{"compare enable", func(c *SamplerConfig) { c.CompareEnable = false }},
		{"compare op", func(c *SamplerConfig) { c.CompareOp = CompareOpAlways }},
		{"lod bias", func(c *SamplerConfig) { c.MipLodBias = 0.5 }},
		{"max lod", func(c *SamplerConfig) { c.MaxLod = 11 }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			cfg := base
			tt.mutate(&cfg)
			b := mustDescriptor(t, cfg)
			if a == b {
				t.Error("descriptors should differ after changing one field")
			}
		})
	}
}

func TestSamplerDescriptorRoundTripConfig(t *testing.T) {
	cfg := testSamplerConfig()
	d := mustDescriptor(t, cfg)
	if got := d.Config(); got != cfg {
		t.Errorf("Config() = %+v, want %+v", got, cfg)
	}
}

func TestSamplerDescriptorLayout(t *testing.T) {
	cfg := SamplerConfig{
		MagFilter:     FilterLinear,
		AddressModeU:  AddressModeClampToBorder,
		CompareEnable: true,
		CompareOp:     CompareOpAlways,
		MaxAnisotropy: 1,
	}
	d := mustDescriptor(t, cfg)

	// 1.0f little-endian at offset 4.
	if d[4] != 0x00 || d[5] != 0x00 || d[6] != 0x80 || d[7] != 0x3f {
		t.Errorf("max anisotropy bytes = % x", d[4:8])
	}
	// mag(bit0) | U=3 (bits3-5) | compare enable (bit12) | op=7 (bits13-15)
	want := uint16(1 | 3<<3 | 1<<12 | 7<<13)
	if got := uint16(d[16]) | uint16(d[17])<<8; got != want {
		t.Errorf("state word = %#04x, want %#04x", got, want)
	}
}

func TestSamplerDescriptorRejectsOutOfRange(t *testing.T) {
	tests := []struct {
		name string
		cfg  SamplerConfig
	}{
		{"filter", SamplerConfig{MagFilter: 2}},
		{"mipmap", SamplerConfig{MipmapMode: 2}},
		{"address", SamplerConfig{AddressModeW: 5}},
		{"compare op", SamplerConfig{CompareOp: 8}},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := NewSamplerDescriptor(tt.cfg); err == nil {
				t.Error("expected error for out of range field")
			}
		})
	}
}

func TestSamplerDescriptorAsMapKey(t *testing.T) {
	m := map[SamplerDescriptor]int{}
	m[mustDescriptor(t, testSamplerConfig())]++
	m[mustDescriptor(t, testSamplerConfig())]++
	m[mustDescriptor(t, DefaultSamplerConfig())]++
	if len(m) != 2 {
		t.Errorf("expected 2 distinct keys, got %d", len(m))
	}
}
