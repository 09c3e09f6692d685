// Package allocator implements a first-fit allocator over a single fixed-size heap.
//
// The heap is partitioned into a chain of blocks ordered by address. Every block is a header
// followed by a data region, and the chain covers the whole heap with no gaps or overlaps.
// Allocation scans the chain for the first free block that is large enough and splits off any
// remainder that can hold a header of its own. Freeing only retags a block; adjacent free blocks
// are coalesced lazily, at the start of the next allocation or growth, or by an explicit call to
// MergeFreeBlocks.
//
// Allocator instances are not safe for concurrent use. Block handles become invalid once the
// block they refer to is freed, absorbed, or relocated by Reallocate.
package allocator

import (
	"context"
	"fmt"

	"github.com/cockroachdb/errors"
	"github.com/vkngwrapper/blockheap/memutils"
	"github.com/vkngwrapper/blockheap/memutils/block"
	"github.com/vkngwrapper/blockheap/memutils/heap"
	"golang.org/x/exp/slog"
)

// Allocator owns a heap and the chain of blocks laid over it.
type Allocator struct {
	logger *slog.Logger
	heap   *heap.Heap
	root   block.Block
}

var _ memutils.Validatable = &Allocator{}

// New creates an allocator whose heap can hold heapSize bytes of data in a single block. heapSize
// is rounded up to a multiple of block.WordSize, and the heap also holds the first block's header,
// so Size will report block.SizeOf(heapSize).
//
// The returned error wraps memutils.ErrOutOfMemory if the heap cannot be obtained.
func New(logger *slog.Logger, heapSize int) (*Allocator, error) {
	if logger == nil {
		logger = slog.Default()
	}

	if heapSize < 0 {
		return nil, errors.Wrapf(memutils.ErrOutOfMemory, "invalid heap size %d", heapSize)
	}

	memutils.DebugCheckPow2(uint(block.WordSize), "block.WordSize")

	rootSize := block.AlignOf(heapSize)
	h, err := heap.New(block.MetadataSize + rootSize)
	if err != nil {
		return nil, err
	}

	root := block.At(h, 0)
	root.Init(block.Free, rootSize)

	logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::New",
		slog.Int("HeapSize", h.Size()),
		slog.Int("RootSize", rootSize))

	return &Allocator{
		logger: logger,
		heap:   h,
		root:   root,
	}, nil
}

// Size returns the total size of the heap in bytes, including all block headers
func (a *Allocator) Size() int { return a.heap.Size() }

// Heap returns the heap this allocator manages
func (a *Allocator) Heap() *heap.Heap { return a.heap }

// AddressOf returns the address of b's data region, or block.NilAddress if b is None
func (a *Allocator) AddressOf(b block.Block) block.Address {
	if b.IsNone() {
		return block.NilAddress
	}

	return b.Data()
}

// BlockAt returns the block whose data region starts at address, or block.None for
// block.NilAddress. The address must have been produced by AddressOf for a live block of
// this allocator: it is not checked against the chain.
func (a *Allocator) BlockAt(address block.Address) block.Block {
	if address == block.NilAddress {
		return block.None
	}

	return block.At(a.heap, block.HeaderOf(address))
}

// Allocate returns a block whose data region holds at least size bytes, tagged with kind.
// Free blocks are coalesced first, then the chain is searched in address order for the first
// free block that is large enough. The returned error wraps memutils.ErrOutOfMemory if no such
// block exists. A failed allocation leaves the chain exactly as it was: free blocks are only
// coalesced once some run of them is known to satisfy the request.
func (a *Allocator) Allocate(size int, kind block.Type) (block.Block, error) {
	if size < 0 || size > a.Size() {
		return block.None, errors.Wrapf(memutils.ErrOutOfMemory, "cannot allocate %d bytes from a %d byte heap", size, a.Size())
	}

	alignedSize := block.AlignOf(size)

	if a.largestFreeRun() < alignedSize {
		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::Allocate out of memory",
			slog.Int("Size", alignedSize),
			slog.Int("SumFreeSize", a.SumFreeSize()))

		return block.None, errors.Wrapf(memutils.ErrOutOfMemory, "no free block can hold %d bytes", alignedSize)
	}

	a.MergeFreeBlocks()

	for b := a.root; !b.IsNone(); b = b.Next() {
		if !b.IsFree() || b.Size() < alignedSize {
			continue
		}

		// Remainders too small to hold a header stay in the block as slack
		if b.Size() > alignedSize+block.MetadataSize {
			a.split(b, alignedSize)
		}

		b.SetType(kind)

		memutils.DebugValidate(a)
		return b, nil
	}

	panic(fmt.Sprintf("no merged free block holds %d bytes, but a free run of that size was found", alignedSize))
}

// freeRun returns the data bytes the run of free blocks starting at b would hold once merged,
// and the first block after the run
func freeRun(b block.Block) (int, block.Block) {
	size := b.Size()
	next := b.Next()
	for !next.IsNone() && next.IsFree() {
		size += block.MetadataSize + next.Size()
		next = next.Next()
	}

	return size, next
}

// largestFreeRun returns the largest block that merging free blocks could produce, or -1 if no
// block is free
func (a *Allocator) largestFreeRun() int {
	largest := -1

	for b := a.root; !b.IsNone(); {
		if !b.IsFree() {
			b = b.Next()
			continue
		}

		size, after := freeRun(b)
		if size > largest {
			largest = size
		}
		b = after
	}

	return largest
}

// Free marks b as free. Freeing None is a no-op. Adjacent free blocks are not merged until
// the next allocation or MergeFreeBlocks.
func (a *Allocator) Free(b block.Block) {
	if b.IsNone() {
		return
	}

	b.SetType(block.Free)
	memutils.DebugValidate(a)
}

// MergeFreeBlocks coalesces every run of address-adjacent free blocks into a single free block.
func (a *Allocator) MergeFreeBlocks() {
	merged := 0

	current := a.root
	for next := current.Next(); !next.IsNone(); next = current.Next() {
		if current.IsFree() && next.IsFree() {
			a.absorb(current, next)
			merged++
			continue
		}

		current = next
	}

	if merged > 0 {
		a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::MergeFreeBlocks",
			slog.Int("Merged", merged))
	}

	memutils.DebugValidate(a)
}

// Reallocate resizes b to hold size bytes.
//
// Reallocating None returns None without allocating. A size of 0 frees b and returns None.
// Shrinking keeps b in place and splits the excess into a new free block when the excess can hold
// a header. Growing first tries to absorb a free block directly after b, keeping b's address; if
// that is not possible the data is moved to a newly allocated block of the same type, b is freed
// and the new block is returned. If that allocation fails, the memutils.ErrOutOfMemory error is
// returned and b is left untouched.
func (a *Allocator) Reallocate(b block.Block, size int) (block.Block, error) {
	if b.IsNone() {
		return block.None, nil
	}

	if size == 0 {
		a.Free(b)
		return block.None, nil
	}

	if size < 0 || size > a.Size() {
		return block.None, errors.Wrapf(memutils.ErrOutOfMemory, "cannot resize a block to %d bytes in a %d byte heap", size, a.Size())
	}

	alignedSize := block.AlignOf(size)

	if alignedSize < b.Size() {
		return a.shrink(b, alignedSize), nil
	}

	if alignedSize > b.Size() {
		return a.grow(b, alignedSize)
	}

	return b, nil
}

func (a *Allocator) shrink(b block.Block, size int) block.Block {
	if b.Size()-size < block.MetadataSize {
		return b
	}

	// The remainder is already free, it gets merged on the next pass
	a.split(b, size)

	memutils.DebugValidate(a)
	return b
}

func (a *Allocator) grow(b block.Block, size int) (block.Block, error) {
	next := b.Next()
	if !next.IsNone() && next.IsFree() {
		if run, _ := freeRun(next); b.Size()+block.MetadataSize+run >= size {
			a.MergeFreeBlocks()
			a.absorb(b, b.Next())

			if b.Size() > size+block.MetadataSize {
				a.split(b, size)
			}

			memutils.DebugValidate(a)
			return b, nil
		}
	}

	moved, err := a.Allocate(size, b.Type())
	if err != nil {
		return block.None, err
	}

	copy(moved.Bytes(), b.Bytes())
	a.Free(b)

	a.logger.LogAttrs(context.Background(), slog.LevelDebug, "Allocator::Reallocate relocated block",
		slog.Int("From", int(b.Data())),
		slog.Int("To", int(moved.Data())),
		slog.Int("Size", size))

	return moved, nil
}

// split shrinks b to size bytes and places a new free block in the space that follows. The
// caller guarantees that b.Size() >= size + block.MetadataSize.
func (a *Allocator) split(b block.Block, size int) block.Block {
	next := b.Next()

	remainder := block.At(a.heap, b.Data()+block.Address(size))
	remainder.Init(block.Free, b.Size()-size-block.MetadataSize)
	remainder.SetNext(next)

	b.SetSize(size)
	b.SetNext(remainder)

	return remainder
}

// absorb folds next, which must directly follow b, into b's data region.
func (a *Allocator) absorb(b block.Block, next block.Block) {
	if b.Next() != next {
		panic("cannot absorb a block that is not physically adjacent")
	}

	after := next.Next()

	b.SetSize(b.Size() + block.MetadataSize + next.Size())
	b.SetNext(after)
}

// Blocks returns every block in the chain, free and allocated, in address order
func (a *Allocator) Blocks() []block.Block {
	var blocks []block.Block

	for b := a.root; !b.IsNone(); b = b.Next() {
		blocks = append(blocks, b)
	}

	return blocks
}

// VisitAllBlocks calls handleBlock once for each block in the chain, in address order, stopping
// at the first error.
func (a *Allocator) VisitAllBlocks(handleBlock func(b block.Block) error) error {
	for b := a.root; !b.IsNone(); b = b.Next() {
		err := handleBlock(b)
		if err != nil {
			return err
		}
	}

	return nil
}

// Destroy releases the heap. Every block handle and address from this allocator becomes invalid.
func (a *Allocator) Destroy() error {
	return a.heap.Close()
}
