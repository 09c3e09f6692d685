// Package block describes the metadata placed at the start of every region of a heap.
//
// Each block is a fixed-size header followed by its data region. Headers are overlaid
// directly on the heap buffer and link to the next block by offset, so the heap itself is
// the only storage for the block chain.
package block

import (
	"unsafe"

	"github.com/vkngwrapper/blockheap/memutils/heap"
)

const noNext = ^uintptr(0)

type header struct {
	kind uintptr
	size uintptr
	next uintptr
}

// Block is a handle to the header at a particular address in a heap. Handles are plain values
// and can be compared with ==. The zero value is None.
type Block struct {
	heap    *heap.Heap
	address Address
}

// None is the absent block
var None Block

// At returns a handle to the block whose header is at address. The address must be a block
// boundary: no validation is performed.
func At(h *heap.Heap, address Address) Block {
	return Block{heap: h, address: address}
}

func (b Block) header() *header {
	return (*header)(unsafe.Pointer(&b.heap.Bytes()[b.address]))
}

// Init writes a fresh header at this block's address, with no next block
func (b Block) Init(kind Type, size int) {
	h := b.header()
	h.kind = uintptr(kind)
	h.size = uintptr(size)
	h.next = noNext
}

func (b Block) IsNone() bool { return b.heap == nil }

// Address returns the address of this block's header
func (b Block) Address() Address { return b.address }

// Data returns the address of this block's data region
func (b Block) Data() Address { return DataOf(b.address) }

// End returns the address immediately following this block's data region
func (b Block) End() Address { return b.Data() + Address(b.Size()) }

func (b Block) Type() Type { return Type(b.header().kind) }

func (b Block) Size() int { return int(b.header().size) }

func (b Block) IsFree() bool { return b.Type() == Free }

// Next returns the following block in the chain, or None if this is the last block
func (b Block) Next() Block {
	next := b.header().next
	if next == noNext {
		return None
	}

	return At(b.heap, Address(next))
}

func (b Block) SetType(kind Type) { b.header().kind = uintptr(kind) }

func (b Block) SetSize(size int) { b.header().size = uintptr(size) }

// SetNext links this block to next. Passing None marks this block as the last in the chain.
func (b Block) SetNext(next Block) {
	if next.IsNone() {
		b.header().next = noNext
		return
	}

	b.header().next = uintptr(next.address)
}

// Bytes returns this block's data region
func (b Block) Bytes() []byte {
	data := b.Data()
	end := data + Address(b.Size())
	return b.heap.Bytes()[data:end:end]
}
