package block

import (
	"fmt"
	"unsafe"

	"github.com/vkngwrapper/blockheap/memutils"
)

// Address is a byte offset into a heap buffer
type Address int

const (
	// NilAddress is never the start of a data region: offset 0 always holds the first block's header
	NilAddress Address = 0

	// WordSize is the alignment of every block size, and the width of each header field
	WordSize = int(unsafe.Sizeof(uintptr(0)))
	// MetadataSize is the number of bytes each block's header occupies in front of its data
	MetadataSize = int(unsafe.Sizeof(header{}))
)

// AlignOf rounds n up to the next multiple of WordSize
func AlignOf(n int) int {
	return memutils.AlignUp(n, WordSize)
}

// SizeOf returns the number of heap bytes a block holding n data bytes occupies, header included
func SizeOf(n int) int {
	return AlignOf(n) + MetadataSize
}

// DataOf returns the address of the data region for the block whose header is at the provided address
func DataOf(header Address) Address {
	return header + Address(MetadataSize)
}

// HeaderOf returns the address of the header for the block whose data region begins at the provided
// address. It is the inverse of DataOf.
func HeaderOf(data Address) Address {
	return data - Address(MetadataSize)
}

// String formats the address as a hex offset
func (a Address) String() string {
	return fmt.Sprintf("%#x", int(a))
}
