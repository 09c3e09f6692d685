package allocator_test

import (
	"io"
	"testing"

	"github.com/cockroachdb/errors"
	"github.com/stretchr/testify/require"
	"github.com/vkngwrapper/blockheap/memutils"
	"github.com/vkngwrapper/blockheap/memutils/allocator"
	"github.com/vkngwrapper/blockheap/memutils/block"
	"golang.org/x/exp/slog"
)

func newAllocator(t *testing.T, heapSize int) *allocator.Allocator {
	t.Helper()

	logger := slog.New(slog.NewJSONHandler(io.Discard, nil))
	a, err := allocator.New(logger, heapSize)
	require.NoError(t, err)
	t.Cleanup(func() {
		require.NoError(t, a.Destroy())
	})

	return a
}

type blockState struct {
	Address block.Address
	Type    block.Type
	Size    int
}

func chainState(a *allocator.Allocator) []blockState {
	var state []blockState
	for _, b := range a.Blocks() {
		state = append(state, blockState{Address: b.Address(), Type: b.Type(), Size: b.Size()})
	}
	return state
}

func TestNewHeapHoldsOneBlockHeader(t *testing.T) {
	for _, heapSize := range []int{0, 1, 7, 8, 128, 4096} {
		a := newAllocator(t, heapSize)

		require.GreaterOrEqual(t, a.Size(), block.SizeOf(0))
		require.Equal(t, block.SizeOf(heapSize), a.Size())
		require.NoError(t, a.Validate())

		blocks := a.Blocks()
		require.Len(t, blocks, 1)
		require.True(t, blocks[0].IsFree())
		require.Equal(t, block.AlignOf(heapSize), blocks[0].Size())
		require.Equal(t, block.Address(0), blocks[0].Address())
	}
}

func TestNewNegativeSize(t *testing.T) {
	_, err := allocator.New(nil, -1)
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))
}

func TestAllocateDefaultType(t *testing.T) {
	a := newAllocator(t, 0)

	b, err := a.Allocate(0, block.DefaultType)
	require.NoError(t, err)
	require.Equal(t, block.Char, b.Type())
}

func TestAllocateAlignsSize(t *testing.T) {
	for i := 0; i < block.WordSize; i++ {
		a := newAllocator(t, block.WordSize*3)

		b, err := a.Allocate(block.WordSize+i, block.DefaultType)
		require.NoError(t, err)
		require.Zero(t, b.Size()%block.WordSize)
		require.GreaterOrEqual(t, b.Size(), block.WordSize+i)
	}
}

func TestAllocateOutOfMemory(t *testing.T) {
	a := newAllocator(t, 0)

	_, err := a.Allocate(1, block.DefaultType)
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))
}

func TestAllocateOutOfMemoryLeavesChain(t *testing.T) {
	a := newAllocator(t, 256)

	_, err := a.Allocate(40, block.Int)
	require.NoError(t, err)
	second, err := a.Allocate(16, block.Double)
	require.NoError(t, err)
	a.Free(second)
	a.MergeFreeBlocks()

	before := chainState(a)

	for _, size := range []int{a.Size(), a.Size() + 1, 10000, -5} {
		_, err = a.Allocate(size, block.DefaultType)
		require.Error(t, err)
		require.True(t, errors.Is(err, memutils.ErrOutOfMemory))
		require.Equal(t, before, chainState(a))
		require.NoError(t, a.Validate())
	}
}

func TestAllocateFragmentedOutOfMemoryDoesNotMerge(t *testing.T) {
	a := newAllocator(t, 256)

	first, err := a.Allocate(16, block.Int)
	require.NoError(t, err)
	second, err := a.Allocate(16, block.Int)
	require.NoError(t, err)
	_, err = a.Allocate(16, block.Int)
	require.NoError(t, err)

	a.Free(first)
	a.Free(second)

	before := chainState(a)
	require.Len(t, before, 4)

	// Enough bytes for the whole heap, but no run of free blocks is that large
	_, err = a.Allocate(250, block.Char)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))
	require.Equal(t, before, chainState(a))
	require.NoError(t, a.Validate())

	merged, err := a.Allocate(2*16+block.MetadataSize, block.Char)
	require.NoError(t, err)
	require.Equal(t, first, merged)
	require.Equal(t, 2*16+block.MetadataSize, merged.Size())
	require.Len(t, a.Blocks(), 3)
}

func TestAllocateSetsType(t *testing.T) {
	for _, kind := range []block.Type{block.Free, block.Char, block.Int, block.Double} {
		a := newAllocator(t, 0)

		b, err := a.Allocate(0, kind)
		require.NoError(t, err)
		require.Equal(t, kind, b.Type())
	}
}

func TestAllocateSplitsLargeFreeBlock(t *testing.T) {
	a := newAllocator(t, 256)

	b, err := a.Allocate(10, block.Int)
	require.NoError(t, err)

	require.Equal(t, block.Address(0), b.Address())
	require.Equal(t, block.AlignOf(10), b.Size())

	remainder := b.Next()
	require.False(t, remainder.IsNone())
	require.True(t, remainder.IsFree())
	require.Equal(t, 256-block.AlignOf(10)-block.MetadataSize, remainder.Size())
	require.NoError(t, a.Validate())
}

func TestAllocateKeepsSlackTooSmallForHeader(t *testing.T) {
	a := newAllocator(t, 2*block.WordSize+block.MetadataSize)

	b, err := a.Allocate(2*block.WordSize, block.Char)
	require.NoError(t, err)

	// The free remainder would be exactly one empty header, which is not more than one header's worth
	require.Equal(t, 2*block.WordSize+block.MetadataSize, b.Size())
	require.True(t, b.Next().IsNone())
}

func TestAllocateFirstFit(t *testing.T) {
	a := newAllocator(t, 512)

	first, err := a.Allocate(64, block.Char)
	require.NoError(t, err)
	_, err = a.Allocate(8, block.Char)
	require.NoError(t, err)
	third, err := a.Allocate(64, block.Char)
	require.NoError(t, err)
	_, err = a.Allocate(8, block.Char)
	require.NoError(t, err)

	a.Free(third)
	a.Free(first)

	b, err := a.Allocate(16, block.Int)
	require.NoError(t, err)
	require.Equal(t, first.Address(), b.Address())

	b, err = a.Allocate(16, block.Int)
	require.NoError(t, err)
	require.Equal(t, first.Address()+block.Address(block.SizeOf(16)), b.Address())
}

func TestFreeSetsTypeFree(t *testing.T) {
	a := newAllocator(t, 0)

	b, err := a.Allocate(0, block.DefaultType)
	require.NoError(t, err)

	a.Free(b)
	require.Equal(t, block.Free, b.Type())
}

func TestFreeNone(t *testing.T) {
	a := newAllocator(t, 0)

	require.NotPanics(t, func() {
		a.Free(block.None)
	})
	require.NoError(t, a.Validate())
}

func TestFreeDoesNotCoalesce(t *testing.T) {
	a := newAllocator(t, 128)

	first, err := a.Allocate(8, block.Char)
	require.NoError(t, err)
	second, err := a.Allocate(8, block.Char)
	require.NoError(t, err)

	a.Free(first)
	a.Free(second)

	require.Len(t, a.Blocks(), 3)
	require.Equal(t, 1, a.FreeRegionsCount())

	a.MergeFreeBlocks()
	require.Len(t, a.Blocks(), 1)
}

func TestMergeFreeBlocks(t *testing.T) {
	a := newAllocator(t, 128)

	first, err := a.Allocate(0, block.DefaultType)
	require.NoError(t, err)
	second, err := a.Allocate(0, block.DefaultType)
	require.NoError(t, err)

	size1 := first.Size()
	size2 := second.Size()

	a.Free(first)
	a.Free(second)
	a.MergeFreeBlocks()

	require.GreaterOrEqual(t, first.Size(), size1+block.SizeOf(size2))
	require.NoError(t, a.Validate())
}

func TestMergeTwoAdjacentFreeBlocks(t *testing.T) {
	a := newAllocator(t, 256)

	first, err := a.Allocate(16, block.Char)
	require.NoError(t, err)
	second, err := a.Allocate(32, block.Char)
	require.NoError(t, err)
	_, err = a.Allocate(8, block.Char)
	require.NoError(t, err)

	a.Free(first)
	a.Free(second)
	a.MergeFreeBlocks()

	require.True(t, first.IsFree())
	require.Equal(t, 16+32+block.MetadataSize, first.Size())
	require.False(t, first.Next().IsFree())
}

func TestMergeCollapsesLongRuns(t *testing.T) {
	a := newAllocator(t, 256)

	var blocks []block.Block
	for i := 0; i < 5; i++ {
		b, err := a.Allocate(8, block.Int)
		require.NoError(t, err)
		blocks = append(blocks, b)
	}

	for _, b := range blocks {
		a.Free(b)
	}

	a.MergeFreeBlocks()
	require.Len(t, a.Blocks(), 1)
	require.Equal(t, 256, a.Blocks()[0].Size())

	// idempotent
	a.MergeFreeBlocks()
	require.Len(t, a.Blocks(), 1)
	require.NoError(t, a.Validate())
}

func TestReallocateNone(t *testing.T) {
	a := newAllocator(t, 0)

	result, err := a.Reallocate(block.None, 0)
	require.NoError(t, err)
	require.True(t, result.IsNone())

	result, err = a.Reallocate(block.None, 16)
	require.NoError(t, err)
	require.True(t, result.IsNone())
	require.True(t, a.IsEmpty())
}

func TestReallocateToZeroFrees(t *testing.T) {
	a := newAllocator(t, 0)

	b, err := a.Allocate(0, block.DefaultType)
	require.NoError(t, err)

	result, err := a.Reallocate(b, 0)
	require.NoError(t, err)
	require.True(t, result.IsNone())
	require.Equal(t, block.Free, b.Type())
}

func TestReallocateSameAlignedSize(t *testing.T) {
	a := newAllocator(t, block.WordSize)

	b, err := a.Allocate(block.WordSize, block.DefaultType)
	require.NoError(t, err)

	before := chainState(a)
	for i := 0; i < block.WordSize; i++ {
		result, err := a.Reallocate(b, b.Size()-i)
		require.NoError(t, err)

		require.Equal(t, b, result)
		require.Equal(t, before, chainState(a))
	}
}

func TestReallocateShrinkWithoutRoomForHeader(t *testing.T) {
	a := newAllocator(t, 256)

	b, err := a.Allocate(100, block.DefaultType)
	require.NoError(t, err)
	next := b.Next()
	size := b.Size()

	newSize := b.Size() - block.SizeOf(0) + 1

	_, err = a.Allocate(0, block.DefaultType)
	require.NoError(t, err)

	result, err := a.Reallocate(b, newSize)
	require.NoError(t, err)

	require.Equal(t, b, result)
	require.Equal(t, size, result.Size())
	require.Equal(t, block.DefaultType, result.Type())
	require.Equal(t, next, result.Next())
}

func TestReallocateShrink(t *testing.T) {
	a := newAllocator(t, 256)

	b, err := a.Allocate(100, block.Int)
	require.NoError(t, err)
	next := b.Next()

	newSize := b.Size() - block.SizeOf(0)

	_, err = a.Allocate(0, block.DefaultType)
	require.NoError(t, err)

	result, err := a.Reallocate(b, newSize)
	require.NoError(t, err)

	require.Equal(t, b, result)
	require.Equal(t, newSize, result.Size())
	require.Equal(t, block.Int, result.Type())
	require.NotEqual(t, next, result.Next())

	remainder := result.Next()
	require.True(t, remainder.IsFree())
	require.Equal(t, 0, remainder.Size())
	require.Equal(t, next, remainder.Next())
	require.NoError(t, a.Validate())
}

func TestReallocateShrinkRemainderIsReusable(t *testing.T) {
	a := newAllocator(t, 256)

	b, err := a.Allocate(128, block.Char)
	require.NoError(t, err)
	_, err = a.Allocate(0, block.Char)
	require.NoError(t, err)

	_, err = a.Reallocate(b, 32)
	require.NoError(t, err)

	reused, err := a.Allocate(64, block.Double)
	require.NoError(t, err)
	require.Equal(t, b.Next(), reused)
	require.Equal(t, block.DataOf(b.Address())+block.Address(32), reused.Address())
	require.NoError(t, a.Validate())
}

func TestReallocateGrowInPlace(t *testing.T) {
	a := newAllocator(t, 256)

	b, err := a.Allocate(10, block.DefaultType)
	require.NoError(t, err)
	next := b.Next()

	newSize := b.Size() + 10

	result, err := a.Reallocate(b, newSize)
	require.NoError(t, err)

	require.Equal(t, b, result)
	require.Equal(t, block.AlignOf(newSize), result.Size())
	require.Equal(t, block.DefaultType, result.Type())
	require.NotEqual(t, next, result.Next())
	require.True(t, result.Next().IsFree())
	require.NoError(t, a.Validate())
}

func TestReallocateGrowInPlaceAbsorbsWholeNeighbour(t *testing.T) {
	a := newAllocator(t, 8+block.MetadataSize+16)

	b, err := a.Allocate(8, block.Int)
	require.NoError(t, err)
	require.Equal(t, 16, b.Next().Size())

	result, err := a.Reallocate(b, 40)
	require.NoError(t, err)

	require.Equal(t, b, result)
	require.Equal(t, 8+block.MetadataSize+16, result.Size())
	require.True(t, result.Next().IsNone())
}

func TestReallocateGrowRelocates(t *testing.T) {
	a := newAllocator(t, 256)

	b, err := a.Allocate(10, block.DefaultType)
	require.NoError(t, err)
	next := b.Next()
	copy(b.Bytes(), "0123456789abcdef")

	_, err = a.Allocate(0, block.DefaultType)
	require.NoError(t, err)

	newSize := b.Size() + 10

	result, err := a.Reallocate(b, newSize)
	require.NoError(t, err)

	require.NotEqual(t, b, result)
	require.NotEqual(t, b.Address(), result.Address())
	require.Equal(t, block.AlignOf(newSize), result.Size())
	require.Equal(t, block.DefaultType, result.Type())
	require.NotEqual(t, next, result.Next())
	require.Equal(t, block.Free, b.Type())
	require.Equal(t, []byte("0123456789abcdef"), result.Bytes()[:16])
	require.NoError(t, a.Validate())
}

func TestReallocateGrowKeepsType(t *testing.T) {
	a := newAllocator(t, 256)

	b, err := a.Allocate(16, block.Double)
	require.NoError(t, err)
	_, err = a.Allocate(0, block.Char)
	require.NoError(t, err)

	result, err := a.Reallocate(b, 64)
	require.NoError(t, err)
	require.Equal(t, block.Double, result.Type())
}

func TestReallocateGrowOutOfMemory(t *testing.T) {
	a := newAllocator(t, 64)

	b, err := a.Allocate(16, block.Int)
	require.NoError(t, err)
	copy(b.Bytes(), "abcdefghijklmnop")
	_, err = a.Allocate(0, block.Char)
	require.NoError(t, err)

	before := chainState(a)

	result, err := a.Reallocate(b, 48)
	require.Error(t, err)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))
	require.True(t, result.IsNone())

	require.Equal(t, block.Int, b.Type())
	require.Equal(t, []byte("abcdefghijklmnop"), b.Bytes())
	require.Equal(t, before, chainState(a))
	require.NoError(t, a.Validate())
}

func TestReallocateGrowOutOfMemoryDoesNotMerge(t *testing.T) {
	a := newAllocator(t, 256)

	first, err := a.Allocate(16, block.Int)
	require.NoError(t, err)
	second, err := a.Allocate(16, block.Int)
	require.NoError(t, err)
	_, err = a.Allocate(16, block.Int)
	require.NoError(t, err)
	last, err := a.Allocate(16, block.Int)
	require.NoError(t, err)

	a.Free(first)
	a.Free(second)

	before := chainState(a)
	require.Len(t, before, 5)

	_, err = a.Reallocate(last, 200)
	require.True(t, errors.Is(err, memutils.ErrOutOfMemory))
	require.Equal(t, before, chainState(a))
	require.NoError(t, a.Validate())
}

func TestBlocks(t *testing.T) {
	a := newAllocator(t, 256)

	var expected []block.Block
	for i := 0; i < 6; i++ {
		b, err := a.Allocate(0, block.DefaultType)
		require.NoError(t, err)
		expected = append(expected, b)
	}
	expected = append(expected, expected[len(expected)-1].Next())

	require.Equal(t, expected, a.Blocks())
	// restartable
	require.Equal(t, expected, a.Blocks())
}

func TestVisitAllBlocksStopsOnError(t *testing.T) {
	a := newAllocator(t, 256)

	for i := 0; i < 3; i++ {
		_, err := a.Allocate(8, block.Char)
		require.NoError(t, err)
	}

	stop := errors.New("stop")
	visited := 0
	err := a.VisitAllBlocks(func(b block.Block) error {
		visited++
		if visited == 2 {
			return stop
		}
		return nil
	})
	require.ErrorIs(t, err, stop)
	require.Equal(t, 2, visited)
}

func TestAddressConversions(t *testing.T) {
	a := newAllocator(t, 128)

	b, err := a.Allocate(16, block.Int)
	require.NoError(t, err)

	address := a.AddressOf(b)
	require.Equal(t, block.Address(block.MetadataSize), address)
	require.Equal(t, b, a.BlockAt(address))

	require.Equal(t, block.NilAddress, a.AddressOf(block.None))
	require.True(t, a.BlockAt(block.NilAddress).IsNone())
}

func TestDestroyReleasesHeap(t *testing.T) {
	a, err := allocator.New(nil, 64)
	require.NoError(t, err)

	require.NoError(t, a.Destroy())
	require.True(t, a.Heap().Closed())
	require.Error(t, a.Validate())
	require.NoError(t, a.Destroy())
}
