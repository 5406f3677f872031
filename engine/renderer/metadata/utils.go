package metadata

import (
	"hash/fnv"
)

/** @brief A range of memory. */
type MemoryRange struct {
	/** @brief The Offset in bytes. */
	Offset uint64
	/** @brief The size in bytes. */
	Size uint64
}

// GetAlignedRange aligns both ends of a range down/up to granularity, which must be a power of two.
func GetAlignedRange(offset, size, granularity uint64) MemoryRange {
	if granularity == 0 {
		return MemoryRange{Offset: offset, Size: size}
	}
	start := offset &^ (granularity - 1)
	return MemoryRange{
		Offset: start,
		Size:   GetAligned(offset+size, granularity) - start,
	}
}

func GetAligned(operand, granularity uint64) uint64 {
	if granularity == 0 {
		return operand
	}
	val := (operand + (granularity - 1)) &^ (granularity - 1)
	return val
}

// HashBytes is a fast FNV-1a 64-bit hash.
func HashBytes(b []byte) uint64 {
	hasher := fnv.New64a()
	_, _ = hasher.Write(b) // fnv.Write never returns an error
	return hasher.Sum64()
}
