//go:build cgo && unix

// Command libheap builds the default heap into a C shared library:
//
//	go build -buildmode=c-shared -o libheap.so ./cmd/libheap
//
// The exported functions mirror malloc, calloc, realloc and free. Pointers handed to C point
// into the default heap's buffer, which lives outside the Go heap.
package main

/*
#include <stddef.h>
*/
import "C"

import (
	"math"
	"unsafe"

	"github.com/vkngwrapper/blockheap/memory"
)

func pointerOf(address memory.Address) unsafe.Pointer {
	if address == memory.NilAddress {
		return nil
	}

	return unsafe.Add(memory.Default().Base(), int(address))
}

func addressOf(pointer unsafe.Pointer) memory.Address {
	if pointer == nil {
		return memory.NilAddress
	}

	return memory.Address(uintptr(pointer) - uintptr(memory.Default().Base()))
}

func sizeOf(size C.size_t) (int, bool) {
	if uint64(size) > math.MaxInt {
		return 0, false
	}

	return int(size), true
}

//export s21_set_heap
func s21_set_heap(size C.size_t) C.int {
	heapSize, ok := sizeOf(size)
	if !ok || memory.SetHeap(heapSize) != nil {
		return -1
	}

	return 0
}

//export s21_malloc
func s21_malloc(size C.size_t) unsafe.Pointer {
	n, ok := sizeOf(size)
	if !ok {
		return nil
	}

	return pointerOf(memory.Malloc(n))
}

//export s21_calloc
func s21_calloc(count C.size_t, size C.size_t) unsafe.Pointer {
	n, ok := sizeOf(count)
	if !ok {
		return nil
	}

	elementSize, ok := sizeOf(size)
	if !ok {
		return nil
	}

	return pointerOf(memory.Calloc(n, elementSize))
}

//export s21_realloc
func s21_realloc(pointer unsafe.Pointer, size C.size_t) unsafe.Pointer {
	n, ok := sizeOf(size)
	if !ok {
		return nil
	}

	return pointerOf(memory.Realloc(addressOf(pointer), n))
}

//export s21_free
func s21_free(pointer unsafe.Pointer) {
	// Unchecked heaps never report an error
	_ = memory.Free(addressOf(pointer))
}

func main() {}
