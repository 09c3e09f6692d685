//go:build !unix

package heap

import "unsafe"

func obtain(size int) ([]byte, func([]byte) error, error) {
	// uint64 backing keeps the first byte word-aligned for header overlays
	words := make([]uint64, (size+7)/8+1)
	data := unsafe.Slice((*byte)(unsafe.Pointer(unsafe.SliceData(words))), len(words)*8)

	return data, func([]byte) error { return nil }, nil
}
