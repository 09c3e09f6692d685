package memory

import (
	"context"

	"github.com/cockroachdb/errors"
	"golang.org/x/exp/slog"
)

// DefaultHeapSize is the size of the default heap when it is created on first use
const DefaultHeapSize = 4096

var (
	defaultHeap *Heap
	// lazyHeapSize is the size the default heap is created with on first use
	lazyHeapSize = DefaultHeapSize
)

func loadDefault() (*Heap, error) {
	if defaultHeap == nil {
		h, err := NewHeap(slog.Default(), lazyHeapSize, CreateOptions{})
		if err != nil {
			return nil, errors.Wrap(err, "could not create the default heap")
		}
		defaultHeap = h
	}

	return defaultHeap, nil
}

// Default returns the process-wide heap, creating it with DefaultHeapSize bytes on first use.
// It panics if that heap cannot be obtained. The package-level Malloc, Calloc, Realloc and Free
// report that failure instead.
func Default() *Heap {
	h, err := loadDefault()
	if err != nil {
		panic(err)
	}

	return h
}

// SetHeap replaces the process-wide heap with a new one that can hold size bytes. Addresses
// from the previous heap become invalid: allocations that were still live are logged and the
// previous heap is released. If the new heap cannot be obtained, the previous heap is kept.
func SetHeap(size int) error {
	h, err := NewHeap(slog.Default(), size, CreateOptions{})
	if err != nil {
		return err
	}

	if defaultHeap != nil {
		if err := defaultHeap.Destroy(); err != nil {
			slog.Default().LogAttrs(context.Background(), slog.LevelError, "could not release the previous default heap",
				slog.String("Error", err.Error()))
		}
	}

	defaultHeap = h
	return nil
}

func logDefaultFailure(operation string, err error) {
	slog.Default().LogAttrs(context.Background(), slog.LevelDebug, operation,
		slog.String("Error", err.Error()))
}

// Malloc allocates size bytes from the default heap. NilAddress is returned if the default heap
// cannot be created.
func Malloc(size int) Address {
	h, err := loadDefault()
	if err != nil {
		logDefaultFailure("memory::Malloc failed", err)
		return NilAddress
	}

	return h.Malloc(size)
}

// Calloc allocates count zeroed elements of size bytes from the default heap. NilAddress is
// returned if the default heap cannot be created.
func Calloc(count, size int) Address {
	h, err := loadDefault()
	if err != nil {
		logDefaultFailure("memory::Calloc failed", err)
		return NilAddress
	}

	return h.Calloc(count, size)
}

// Realloc resizes an allocation from the default heap. NilAddress is returned if the default
// heap cannot be created.
func Realloc(address Address, size int) Address {
	h, err := loadDefault()
	if err != nil {
		logDefaultFailure("memory::Realloc failed", err)
		return NilAddress
	}

	return h.Realloc(address, size)
}

// Free releases an allocation from the default heap
func Free(address Address) error {
	h, err := loadDefault()
	if err != nil {
		return err
	}

	return h.Free(address)
}
