// Package memory exposes malloc-style allocation over a block allocator. Allocations are identified
// by the Address of their data region, and out of memory conditions are reported as NilAddress
// rather than as errors.
//
// A process-wide default heap is created lazily with DefaultHeapSize bytes and can be replaced
// with SetHeap. Heaps are not safe for concurrent use.
package memory

import (
	"context"
	"math"
	"math/bits"
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"
	"github.com/vkngwrapper/blockheap/memutils/allocator"
	"github.com/vkngwrapper/blockheap/memutils/block"
	"golang.org/x/exp/slog"
)

// Address is the offset of an allocation's data region within its heap
type Address = block.Address

// NilAddress is returned when an allocation fails, and may be passed to Free and Realloc
const NilAddress = block.NilAddress

// ErrInvalidAddress is returned when an address checked against the live allocations of a heap
// is not the start of any of them
var ErrInvalidAddress = errors.New("address is not a live allocation")

// ErrOutOfBounds is returned when a write would extend past the end of an allocation's data region
var ErrOutOfBounds = errors.New("write extends past the end of the allocation")

// CreateOptions contains optional settings when creating a Heap
type CreateOptions struct {
	// CheckAddresses causes the heap to track every live allocation so that Free, Realloc, SetType
	// and Block can reject addresses that were never returned from it or were already released.
	// Without it, passing such an address is a contract violation with undefined results.
	CheckAddresses bool
}

// Heap is a fixed-size heap serving malloc-style requests
type Heap struct {
	logger    *slog.Logger
	allocator *allocator.Allocator

	live *swiss.Map[Address, struct{}]
}

// NewHeap creates a heap that can hold size bytes of data, headers excluded
func NewHeap(logger *slog.Logger, size int, options CreateOptions) (*Heap, error) {
	if logger == nil {
		logger = slog.Default()
	}

	alloc, err := allocator.New(logger, size)
	if err != nil {
		return nil, err
	}

	h := &Heap{
		logger:    logger,
		allocator: alloc,
	}

	if options.CheckAddresses {
		h.live = swiss.NewMap[Address, struct{}](42)
	}

	return h, nil
}

// Allocator returns the allocator underlying this heap
func (h *Heap) Allocator() *allocator.Allocator { return h.allocator }

// Size returns the total size of the heap in bytes, headers included
func (h *Heap) Size() int { return h.allocator.Size() }

// Base returns the address of the first byte of the heap. An allocation at Address a starts
// a bytes past Base.
func (h *Heap) Base() unsafe.Pointer { return h.allocator.Heap().Base() }

// Malloc allocates size bytes tagged with block.DefaultType and returns the address of the data
// region, or NilAddress if the heap cannot satisfy the request. The contents are not cleared.
func (h *Heap) Malloc(size int) Address {
	return h.allocate(size, block.DefaultType)
}

// Calloc allocates count elements of size bytes each and clears them. NilAddress is returned if
// either argument is not positive, if count*size overflows, or if the heap cannot satisfy the request.
func (h *Heap) Calloc(count, size int) Address {
	if count <= 0 || size <= 0 {
		return NilAddress
	}

	high, total := bits.Mul64(uint64(count), uint64(size))
	if high != 0 || total > math.MaxInt {
		h.logger.LogAttrs(context.Background(), slog.LevelDebug, "Heap::Calloc overflow",
			slog.Int("Count", count),
			slog.Int("Size", size))
		return NilAddress
	}

	address := h.allocate(int(total), block.DefaultType)
	if address == NilAddress {
		return NilAddress
	}

	clear(h.allocator.BlockAt(address).Bytes())
	return address
}

func (h *Heap) allocate(size int, kind block.Type) Address {
	b, err := h.allocator.Allocate(size, kind)
	if err != nil {
		h.logger.LogAttrs(context.Background(), slog.LevelDebug, "Heap::Malloc failed",
			slog.Int("Size", size),
			slog.String("Error", err.Error()))
		return NilAddress
	}

	address := h.allocator.AddressOf(b)
	if h.live != nil {
		h.live.Put(address, struct{}{})
	}

	return address
}

// Realloc resizes the allocation at address to hold size bytes and returns its new address, which
// may differ from the old one. Reallocating NilAddress returns NilAddress. A size of 0 frees the
// allocation and returns NilAddress. If the heap cannot satisfy the request, NilAddress is returned
// and the original allocation is left as it was.
func (h *Heap) Realloc(address Address, size int) Address {
	if address == NilAddress {
		return NilAddress
	}

	if err := h.check(address); err != nil {
		h.logger.LogAttrs(context.Background(), slog.LevelDebug, "Heap::Realloc rejected address",
			slog.String("Address", address.String()),
			slog.String("Error", err.Error()))
		return NilAddress
	}

	b, err := h.allocator.Reallocate(h.allocator.BlockAt(address), size)
	if err != nil {
		h.logger.LogAttrs(context.Background(), slog.LevelDebug, "Heap::Realloc failed",
			slog.String("Address", address.String()),
			slog.Int("Size", size),
			slog.String("Error", err.Error()))
		return NilAddress
	}

	newAddress := h.allocator.AddressOf(b)
	if h.live != nil && newAddress != address {
		h.live.Delete(address)
		if newAddress != NilAddress {
			h.live.Put(newAddress, struct{}{})
		}
	}

	return newAddress
}

// Free releases the allocation at address. Freeing NilAddress is a no-op. ErrInvalidAddress is
// returned only by heaps created with CheckAddresses.
func (h *Heap) Free(address Address) error {
	if address == NilAddress {
		return nil
	}

	if err := h.check(address); err != nil {
		return err
	}

	h.allocator.Free(h.allocator.BlockAt(address))
	if h.live != nil {
		h.live.Delete(address)
	}

	return nil
}

// Block returns the block holding the allocation at address
func (h *Heap) Block(address Address) (block.Block, error) {
	if address == NilAddress {
		return block.None, errors.Wrap(ErrInvalidAddress, "nil address")
	}

	if err := h.check(address); err != nil {
		return block.None, err
	}

	return h.allocator.BlockAt(address), nil
}

// SetType changes the type tag of the allocation at address. Allocations cannot be tagged Free:
// use Free to release them.
func (h *Heap) SetType(address Address, kind block.Type) error {
	if !kind.Valid() || kind == block.Free {
		return errors.Newf("cannot tag an allocation with type %s", kind)
	}

	b, err := h.Block(address)
	if err != nil {
		return err
	}

	b.SetType(kind)
	return nil
}

func (h *Heap) check(address Address) error {
	if h.live == nil {
		return nil
	}

	if _, ok := h.live.Get(address); !ok {
		return errors.Wrapf(ErrInvalidAddress, "address %s", address)
	}

	return nil
}

// Destroy releases the heap. Allocations that were never freed are logged at error level first.
func (h *Heap) Destroy() error {
	if h.allocator.Heap().Closed() {
		return nil
	}

	if !h.allocator.IsEmpty() {
		h.allocator.DebugLogAllAllocations(h.logger, func(log *slog.Logger, address block.Address, size int, kind block.Type) {
			log.LogAttrs(context.Background(), slog.LevelError, "[UNRELEASED MEMORY]",
				slog.String("Address", address.String()),
				slog.Int("Size", size),
				slog.String("Type", kind.String()))
		})
	}

	return h.allocator.Destroy()
}
