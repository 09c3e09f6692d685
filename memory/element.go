package memory

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/blockheap/memutils/block"
)

// Element is the set of Go types that correspond to the data-bearing block types: int8 for
// block.Char, int32 for block.Int and float64 for block.Double
type Element interface {
	int8 | int32 | float64
}

// ElementType returns the block type that holds values of T
func ElementType[T Element]() block.Type {
	var zero T
	switch unsafe.Sizeof(zero) {
	case 1:
		return block.Char
	case 4:
		return block.Int
	default:
		return block.Double
	}
}

func elements[T Element](b block.Block, count int) []T {
	if count == 0 {
		return nil
	}

	return unsafe.Slice((*T)(unsafe.Pointer(unsafe.SliceData(b.Bytes()))), count)
}

// Store writes values to the start of the allocation at address and retags the allocation with
// the block type that corresponds to T. ErrOutOfBounds is returned, and nothing is written, if the
// values do not fit in the allocation's data region.
func Store[T Element](h *Heap, address Address, values ...T) error {
	b, err := h.Block(address)
	if err != nil {
		return err
	}

	var zero T
	size := len(values) * int(unsafe.Sizeof(zero))
	if size > b.Size() {
		return errors.Wrapf(ErrOutOfBounds, "%d bytes at address %s, which holds %d bytes", size, address, b.Size())
	}

	b.SetType(ElementType[T]())
	copy(elements[T](b, len(values)), values)

	return nil
}

// Load returns a copy of the contents of the allocation at address, read as values of T. The
// number of values is the allocation's size divided by the size of T.
func Load[T Element](h *Heap, address Address) ([]T, error) {
	b, err := h.Block(address)
	if err != nil {
		return nil, err
	}

	var zero T
	count := b.Size() / int(unsafe.Sizeof(zero))

	values := make([]T, count)
	copy(values, elements[T](b, count))

	return values, nil
}
