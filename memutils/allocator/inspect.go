package allocator

import (
	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"
	"github.com/vkngwrapper/blockheap/memutils"
	"github.com/vkngwrapper/blockheap/memutils/block"
	"golang.org/x/exp/slog"
)

// Validate walks the block chain and verifies that it is an ordered, gapless partition of the
// heap made of word-aligned blocks with known types. When the allocator is functioning correctly
// it should not be possible for this method to return an error.
func (a *Allocator) Validate() error {
	if a.heap.Closed() {
		return errors.New("the allocator's heap has been released")
	}

	if a.root.Address() != 0 {
		return errors.Errorf("the first block should have an offset of 0, but instead it has an offset of %d", a.root.Address())
	}

	heapEnd := block.Address(a.Size())
	nextOffset := block.Address(0)

	for b := a.root; !b.IsNone(); b = b.Next() {
		if b.Address() != nextOffset {
			return errors.Errorf("block at offset %d does not start at the previous block's end offset %d", b.Address(), nextOffset)
		}

		if b.Data() > heapEnd {
			return errors.Errorf("block at offset %d has a header that extends past the end of the heap at %d", b.Address(), heapEnd)
		}

		if !b.Type().Valid() {
			return errors.Errorf("block at offset %d has unknown type %d", b.Address(), b.Type())
		}

		if b.Size()%block.WordSize != 0 {
			return errors.Errorf("block at offset %d has size %d, which is not aligned to %d", b.Address(), b.Size(), block.WordSize)
		}

		if b.End() > heapEnd {
			return errors.Errorf("block at offset %d ends at %d, past the end of the heap at %d", b.Address(), b.End(), heapEnd)
		}

		nextOffset = b.End()
	}

	if nextOffset != heapEnd {
		return errors.Errorf("the full size of the heap is %d, but the blocks only added up to %d", heapEnd, nextOffset)
	}

	return nil
}

// AllocationCount returns the number of blocks that are not free
func (a *Allocator) AllocationCount() int {
	count := 0
	for b := a.root; !b.IsNone(); b = b.Next() {
		if !b.IsFree() {
			count++
		}
	}

	return count
}

// FreeRegionsCount returns the number of runs of adjacent free blocks. A run counts once
// whether or not it has been coalesced yet.
func (a *Allocator) FreeRegionsCount() int {
	count := 0
	previousFree := false
	for b := a.root; !b.IsNone(); b = b.Next() {
		if b.IsFree() && !previousFree {
			count++
		}
		previousFree = b.IsFree()
	}

	return count
}

// SumFreeSize returns the number of data bytes held in free blocks. Coalescing a run of free
// blocks adds the headers between them to this number.
func (a *Allocator) SumFreeSize() int {
	sum := 0
	for b := a.root; !b.IsNone(); b = b.Next() {
		if b.IsFree() {
			sum += b.Size()
		}
	}

	return sum
}

// IsEmpty returns true if no block is allocated
func (a *Allocator) IsEmpty() bool {
	for b := a.root; !b.IsNone(); b = b.Next() {
		if !b.IsFree() {
			return false
		}
	}

	return true
}

func (a *Allocator) AddStatistics(stats *memutils.Statistics) {
	stats.HeapCount++
	stats.HeapBytes += a.Size()

	for b := a.root; !b.IsNone(); b = b.Next() {
		if !b.IsFree() {
			stats.AllocationCount++
			stats.AllocationBytes += b.Size()
		}
	}
}

func (a *Allocator) AddDetailedStatistics(stats *memutils.DetailedStatistics) {
	stats.HeapCount++
	stats.HeapBytes += a.Size()

	for b := a.root; !b.IsNone(); b = b.Next() {
		stats.AddMetadata(block.MetadataSize)

		if b.IsFree() {
			stats.AddUnusedRange(b.Size())
		} else {
			stats.AddAllocation(b.Size())
		}
	}
}

// PrintDetailedMap writes a json object describing the heap and every block in it
func (a *Allocator) PrintDetailedMap(writer *jwriter.Writer) {
	var stats memutils.DetailedStatistics
	stats.Clear()
	a.AddDetailedStatistics(&stats)

	json := writer.Object()
	json.Name("TotalBytes").Int(a.Size())
	json.Name("UnusedBytes").Int(stats.UnusedBytes)
	json.Name("Allocations").Int(stats.AllocationCount)
	json.Name("UnusedRanges").Int(stats.UnusedRangeCount)

	blocks := json.Name("Blocks").Array()
	for b := a.root; !b.IsNone(); b = b.Next() {
		blockJson := blocks.Object()
		blockJson.Name("Offset").Int(int(b.Address()))
		blockJson.Name("Address").Int(int(b.Data()))
		blockJson.Name("Type").String(b.Type().String())
		blockJson.Name("Size").Int(b.Size())
		blockJson.End()
	}
	blocks.End()

	json.End()
}

// DebugLogAllAllocations calls logFunc once for every allocated block, in address order
func (a *Allocator) DebugLogAllAllocations(logger *slog.Logger, logFunc func(log *slog.Logger, address block.Address, size int, kind block.Type)) {
	for b := a.root; !b.IsNone(); b = b.Next() {
		if !b.IsFree() {
			logFunc(logger, b.Data(), b.Size(), b.Type())
		}
	}
}
