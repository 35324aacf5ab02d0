package buddy

import (
	"github.com/cockroachdb/errors"

	"github.com/ShayHacohen/buddyalloc/internal/header"
)

// Validate performs a full traversal of every free list and the used list, checking the
// invariants that must hold at every public-call boundary, and returns an error describing the
// first violation found. It is expensive and is meant for the test suite and debug tooling, not
// the hot path.
func (r *Region) Validate() error {
	var freeCount, freeBytes int

	for order := 0; order < OrderCount; order++ {
		seen := map[uintptr]bool{}
		prev := uintptr(0)

		for addr := r.freeList[order]; addr != 0; addr = header.At(addr).Next(r.cookie) {
			h := header.At(addr)

			if !h.Free(r.cookie) {
				return errors.Errorf("block at %#x is in free list %d but is not marked free", addr, order)
			}
			if h.Size(r.cookie) != OrderSize(order) {
				return errors.Errorf("block at %#x is in free list %d but has size %d, want %d", addr, order, h.Size(r.cookie), OrderSize(order))
			}
			if seen[addr] {
				return errors.Errorf("block at %#x appears twice in free list %d", addr, order)
			}
			seen[addr] = true
			if prev != 0 && addr <= prev {
				return errors.Errorf("free list %d is not sorted by ascending address at %#x", order, addr)
			}
			prev = addr

			freeCount++
			freeBytes += int(h.Size(r.cookie) - HeaderSize)

			if order < MaxOrder {
				buddy := r.buddyAddr(addr, h.Size(r.cookie))
				if buddy != addr {
					bh := header.At(buddy)
					if bh.Free(r.cookie) && bh.Size(r.cookie) == h.Size(r.cookie) {
						return errors.Errorf("block at %#x and its buddy at %#x are both free at order %d and should have been merged", addr, buddy, order)
					}
				}
			}
		}
	}

	usedCount, usedBytes := 0, 0
	usedSeen := map[uintptr]bool{}
	prev := uintptr(0)
	for addr := r.usedHead; addr != 0; addr = header.At(addr).Next(r.cookie) {
		h := header.At(addr)
		if h.Free(r.cookie) {
			return errors.Errorf("block at %#x is in the used list but is marked free", addr)
		}
		if usedSeen[addr] {
			return errors.Errorf("block at %#x appears twice in the used list", addr)
		}
		usedSeen[addr] = true
		if prev != 0 && addr <= prev {
			return errors.Errorf("used list is not sorted by ascending address at %#x", addr)
		}
		prev = addr

		usedCount++
		usedBytes += int(h.Size(r.cookie) - HeaderSize)
	}

	if uint(freeCount) != r.freeBlocks {
		return errors.Errorf("free block count is %d, traversal found %d", r.freeBlocks, freeCount)
	}
	if uint(freeBytes) != r.freeBytes {
		return errors.Errorf("free byte count is %d, traversal found %d", r.freeBytes, freeBytes)
	}

	allocatedBlocks := uint(freeCount + usedCount)
	allocatedBytes := uint(freeBytes + usedBytes)
	if allocatedBlocks != r.allocatedBlocks {
		return errors.Errorf("allocated block count is %d, traversal found %d", r.allocatedBlocks, allocatedBlocks)
	}
	if allocatedBytes != r.allocatedBytes {
		return errors.Errorf("allocated byte count is %d, traversal found %d", r.allocatedBytes, allocatedBytes)
	}

	return nil
}

// FullCounters re-derives the four O(1) counters this package maintains by traversing the free
// and used lists, for comparison against the maintained counters in tests.
type FullCounters struct {
	FreeBlocks      uint
	FreeBytes       uint
	AllocatedBlocks uint
	AllocatedBytes  uint
}

func (r *Region) FullCounters() FullCounters {
	var c FullCounters

	for order := 0; order < OrderCount; order++ {
		for addr := r.freeList[order]; addr != 0; addr = header.At(addr).Next(r.cookie) {
			h := header.At(addr)
			c.FreeBlocks++
			c.FreeBytes += uint(h.Size(r.cookie) - HeaderSize)
		}
	}

	usedBlocks, usedBytes := uint(0), uint(0)
	for addr := r.usedHead; addr != 0; addr = header.At(addr).Next(r.cookie) {
		h := header.At(addr)
		usedBlocks++
		usedBytes += uint(h.Size(r.cookie) - HeaderSize)
	}

	c.AllocatedBlocks = c.FreeBlocks + usedBlocks
	c.AllocatedBytes = c.FreeBytes + usedBytes
	return c
}
