package metadata

import "testing"

func TestGetAligned(t *testing.T) {
	tests := []struct {
		operand, granularity, want uint64
	}{
		{0, 64, 0},
		{1, 64, 64},
		{64, 64, 64},
		{65, 64, 128},
		{13, 0, 13},
	}
	for _, tt := range tests {
		if got := GetAligned(tt.operand, tt.granularity); got != tt.want {
			t.Errorf("GetAligned(%d, %d) = %d, want %d", tt.operand, tt.granularity, got, tt.want)
		}
	}
}

func TestGetAlignedRange(t *testing.T) {
	r := GetAlignedRange(70, 10, 64)
	if r.Offset != 64 || r.Size != 64 {
		t.Errorf("GetAlignedRange(70, 10, 64) = %+v, want {64 64}", r)
	}
}
