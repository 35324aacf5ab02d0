// Package buddy implements the segregated free-list buddy allocator over a single pre-reserved
// contiguous region: the smallest-fit search, iterative split on allocate, iterative coalescing
// on free, and the in-place grow path used by resize.
package buddy

import (
	"unsafe"

	"github.com/cockroachdb/errors"

	"github.com/ShayHacohen/buddyalloc/internal/header"
	"github.com/ShayHacohen/buddyalloc/internal/vmem"
)

// RegionSize is the total size in bytes of the buddy region: BlockCount maximal-order blocks.
const RegionSize = BlockCount * MaxBlockSize

// Region is the buddy-managed, pre-reserved contiguous range of virtual memory. It owns the
// eleven per-order free lists, the used-block list, and the O(1) counters that together satisfy
// the invariants this package is built around.
type Region struct {
	buf    []byte
	base   uintptr
	cookie uint32

	freeList [OrderCount]uintptr
	usedHead uintptr

	freeBlocks      uint
	freeBytes       uint
	allocatedBlocks uint
	allocatedBytes  uint
}

// NewRegion reserves the buddy region (a single vmem mapping of RegionSize bytes) and
// partitions it into BlockCount maximal-order blocks, all free, linked into the order-MaxOrder
// free list in ascending address order. Every call reserves a separate region; the allocator
// façade calls it once per Allocator, on that Allocator's first use.
func NewRegion(cookie uint32) (*Region, error) {
	if err := checkPow2(MinBlockSize); err != nil {
		return nil, errors.Wrap(err, "buddy: MinBlockSize")
	}

	buf, err := vmem.ReserveBuddyRegion(RegionSize)
	if err != nil {
		return nil, errors.Wrap(err, "buddy: failed to reserve region")
	}

	r := &Region{
		buf:    buf,
		base:   uintptr(unsafe.Pointer(&buf[0])),
		cookie: cookie,
	}

	for i := 0; i < BlockCount; i++ {
		addr := r.base + uintptr(i*MaxBlockSize)
		header.Init(addr, cookie, MaxBlockSize, true, false)
		r.insertFree(MaxOrder, addr)
	}

	r.freeBlocks = BlockCount
	r.allocatedBlocks = BlockCount
	r.freeBytes = BlockCount * uint(MaxBlockSize-HeaderSize)
	r.allocatedBytes = r.freeBytes

	return r, nil
}

// Base returns the address of the first byte of the reserved region.
func (r *Region) Base() uintptr { return r.base }

// Contains reports whether addr falls within the buddy region's reserved range.
func (r *Region) Contains(addr uintptr) bool {
	return addr >= r.base && addr < r.base+RegionSize
}

// buddyAddr computes the address of the buddy of a block of the given size at addr, per the
// base XOR offset rule: buddy = base + ((addr - base) XOR size). Only valid for size <
// MaxBlockSize; order-MaxOrder blocks have no buddy.
func (r *Region) buddyAddr(addr uintptr, size uint64) uintptr {
	off := uintptr(addr - r.base)
	return r.base + (off ^ uintptr(size))
}

func (r *Region) FreeBlocks() uint      { return r.freeBlocks }
func (r *Region) FreeBytes() uint       { return r.freeBytes }
func (r *Region) AllocatedBlocks() uint { return r.allocatedBlocks }
func (r *Region) AllocatedBytes() uint  { return r.allocatedBytes }

// FreeListLen returns the number of blocks currently in free list order k, for diagnostics and
// tests.
func (r *Region) FreeListLen(order int) int {
	n := 0
	for addr := r.freeList[order]; addr != 0; addr = header.At(addr).Next(r.cookie) {
		n++
	}
	return n
}

// VisitFree calls fn once per free block in order k, in address order.
func (r *Region) VisitFree(order int, fn func(addr uintptr, size uint64)) {
	for addr := r.freeList[order]; addr != 0; addr = header.At(addr).Next(r.cookie) {
		fn(addr, header.At(addr).Size(r.cookie))
	}
}

// VisitUsed calls fn once per buddy-region block currently in use, in address order.
func (r *Region) VisitUsed(fn func(addr uintptr, size uint64)) {
	for addr := r.usedHead; addr != 0; addr = header.At(addr).Next(r.cookie) {
		fn(addr, header.At(addr).Size(r.cookie))
	}
}
