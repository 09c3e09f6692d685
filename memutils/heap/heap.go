// Package heap owns the single fixed-size byte buffer that a block allocator carves up.
//
// A Heap is allocated once, is never resized or moved, and is released exactly once by Close.
// On unix platforms the buffer is an anonymous private memory mapping, so it lives outside
// the Go heap and its base address may be handed to foreign code.
package heap

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/blockheap/memutils"
)

// Heap is a fixed-size byte buffer.
type Heap struct {
	size int
	data []byte

	release func([]byte) error
}

// New obtains a buffer of exactly size bytes. The returned error wraps memutils.ErrOutOfMemory
// if the buffer cannot be obtained.
func New(size int) (*Heap, error) {
	if size < 0 {
		return nil, errors.Wrapf(memutils.ErrOutOfMemory, "invalid heap size %d", size)
	}

	data, release, err := obtain(size)
	if err != nil {
		return nil, errors.Mark(errors.Wrapf(err, "could not obtain a %d byte heap", size), memutils.ErrOutOfMemory)
	}

	return &Heap{
		size:    size,
		data:    data,
		release: release,
	}, nil
}

// Size returns the number of bytes in the heap
func (h *Heap) Size() int { return h.size }

// Bytes returns the full heap buffer, or nil once the heap has been closed.
func (h *Heap) Bytes() []byte {
	if h.data == nil {
		return nil
	}
	return h.data[:h.size]
}

// Base returns the address of the first byte of the heap
func (h *Heap) Base() unsafe.Pointer { return unsafe.Pointer(unsafe.SliceData(h.data)) }

// Closed returns true once Close has released the buffer
func (h *Heap) Closed() bool { return h.data == nil }

// Close releases the buffer. Calling Close more than once is a no-op.
func (h *Heap) Close() error {
	if h.data == nil {
		return nil
	}

	data := h.data
	h.data = nil

	if err := h.release(data); err != nil {
		return errors.Wrap(err, "could not release heap")
	}

	return nil
}
