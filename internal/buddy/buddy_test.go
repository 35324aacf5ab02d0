package buddy_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/ShayHacohen/buddyalloc/internal/buddy"
	"github.com/ShayHacohen/buddyalloc/internal/header"
)

const testCookie = 0xC0FFEE

func newRegion(t *testing.T) *buddy.Region {
	t.Helper()
	r, err := buddy.NewRegion(testCookie)
	require.NoError(t, err)
	require.NoError(t, r.Validate())
	return r
}

func TestNewRegionStartsFullyFreeAtMaxOrder(t *testing.T) {
	r := newRegion(t)

	require.Equal(t, buddy.BlockCount, r.FreeListLen(buddy.MaxOrder))
	require.Equal(t, uint(buddy.BlockCount), r.FreeBlocks())
	require.Equal(t, uint(buddy.BlockCount), r.AllocatedBlocks())

	full := r.FullCounters()
	require.Equal(t, r.FreeBlocks(), full.FreeBlocks)
	require.Equal(t, r.FreeBytes(), full.FreeBytes)
	require.Equal(t, r.AllocatedBlocks(), full.AllocatedBlocks)
	require.Equal(t, r.AllocatedBytes(), full.AllocatedBytes)
}

func TestAllocSplitsDownToSmallestSufficientOrder(t *testing.T) {
	r := newRegion(t)

	addr, ok := r.Alloc(64)
	require.True(t, ok)
	require.NoError(t, r.Validate())

	h := header.At(addr)
	require.Equal(t, buddy.OrderSize(0), h.Size(testCookie))
	require.False(t, h.Free(testCookie))

	// One order-MaxOrder block became one used order-0 block plus one free block at every
	// order from 0 to MaxOrder-1.
	require.Equal(t, buddy.BlockCount-1, r.FreeListLen(buddy.MaxOrder))
	for order := 0; order < buddy.MaxOrder; order++ {
		require.Equal(t, 1, r.FreeListLen(order), "order %d", order)
	}
}

func TestAllocSaturatingOneOrderExhaustsItWithoutTouchingOthers(t *testing.T) {
	r := newRegion(t)

	// Smallest-fit allocation carves every order-0 request out of the first maximal-order block,
	// splitting a higher-order sibling only once the lower free lists run dry, so BlockCount
	// order-0 allocations exhaust order 0 while the other maximal-order blocks stay untouched.
	addrs := make([]uintptr, 0, buddy.BlockCount)
	for i := 0; i < buddy.BlockCount; i++ {
		addr, ok := r.Alloc(buddy.MinBlockSize - buddy.HeaderSize)
		require.True(t, ok)
		addrs = append(addrs, addr)
	}
	require.NoError(t, r.Validate())
	require.Equal(t, buddy.BlockCount-1, r.FreeListLen(buddy.MaxOrder))

	_, ok := r.Alloc(1)
	require.True(t, ok, "a fresh order-0 split should still be available from a higher order")

	full := r.FullCounters()
	require.Equal(t, r.FreeBlocks(), full.FreeBlocks)
	require.Equal(t, r.AllocatedBlocks(), full.AllocatedBlocks)
}

func TestFreeCoalescesBackToMaxOrder(t *testing.T) {
	r := newRegion(t)

	addr, ok := r.Alloc(64)
	require.True(t, ok)
	require.NoError(t, r.Validate())
	require.Less(t, r.FreeListLen(buddy.MaxOrder), buddy.BlockCount)

	r.Free(addr)
	require.NoError(t, r.Validate())

	require.Equal(t, buddy.BlockCount, r.FreeListLen(buddy.MaxOrder))
	require.Equal(t, uint(buddy.BlockCount), r.FreeBlocks())
	require.Equal(t, uint(buddy.BlockCount), r.AllocatedBlocks())
}

func TestFreeIsNoOpOnAlreadyFreeBlock(t *testing.T) {
	r := newRegion(t)

	addr, ok := r.Alloc(64)
	require.True(t, ok)
	r.Free(addr)

	before := r.FullCounters()
	r.Free(addr)
	after := r.FullCounters()

	require.Equal(t, before, after)
}

func TestGrowInPlacePreservesBlockAddress(t *testing.T) {
	r := newRegion(t)

	addr, ok := r.Alloc(buddy.MinBlockSize - buddy.HeaderSize)
	require.True(t, ok)

	payload := header.At(addr).Payload()
	buf := unsafe.Slice((*byte)(unsafe.Pointer(payload)), buddy.MinBlockSize-int(buddy.HeaderSize)) //nolint:govet
	copy(buf, []byte("grow-me-please"))

	grown := r.GrowInPlace(addr, buddy.OrderSize(2)-buddy.HeaderSize)
	require.True(t, grown)
	require.NoError(t, r.Validate())
	require.Equal(t, payload, header.At(addr).Payload(), "in-place grow must not move the block")
	require.Equal(t, []byte("grow-me-please"), buf[:len("grow-me-please")])
}

func TestGrowInPlaceFailsWithoutMutatingWhenNoRoom(t *testing.T) {
	r := newRegion(t)

	a, ok := r.Alloc(buddy.MinBlockSize - buddy.HeaderSize)
	require.True(t, ok)
	// Allocate the buddy of a too, so growth has nowhere to go.
	_, ok = r.Alloc(buddy.MinBlockSize - buddy.HeaderSize)
	require.True(t, ok)

	before := r.FullCounters()
	grown := r.GrowInPlace(a, buddy.OrderSize(3))
	require.False(t, grown)
	require.Equal(t, before, r.FullCounters())
}

