package buddy

import "github.com/ShayHacohen/buddyalloc/internal/header"

// Alloc services a request for n payload bytes entirely within the buddy region. The caller
// must already know n+HeaderSize <= MaxBlockSize; requests that large are the large-allocation
// path's responsibility, not this package's. It returns the address of a used block's header,
// or ok=false if no free list at any sufficient order holds a block.
func (r *Region) Alloc(n uint64) (blockAddr uintptr, ok bool) {
	need := n + HeaderSize
	k := SmallestOrderFor(need)
	if k < 0 {
		return 0, false
	}

	order, addr := r.findFreeAtLeast(k)
	if addr == 0 {
		return 0, false
	}

	return r.takeAndSplit(addr, order, n), true
}

// findFreeAtLeast scans free lists from order k upward and returns the first free block found,
// along with the order it was found at.
func (r *Region) findFreeAtLeast(k int) (order int, addr uintptr) {
	for o := k; o < OrderCount; o++ {
		if r.freeList[o] != 0 {
			return o, r.freeList[o]
		}
	}
	return 0, 0
}

// takeAndSplit removes block from free list order, moves it onto the used list, and repeatedly
// splits it down to the smallest order that still fits n, pushing each newly-created buddy onto
// the next-lower free list. It returns the address of the final, now-used block.
func (r *Region) takeAndSplit(block uintptr, order int, n uint64) uintptr {
	h := header.At(block)
	size := h.Size(r.cookie)

	r.freeBlocks--
	r.freeBytes -= uint(size - HeaderSize)
	r.removeFree(order, block)
	r.pushUsed(block)

	r.splitDown(block, order, n)
	h.SetFree(r.cookie, false)
	return block
}

// splitDown repeatedly halves the block at addr, currently of order, while the half that would
// remain is still at least n+HeaderSize. Each split's newly-created buddy is pushed onto the
// next-lower free list. This loop does not change the block's own free flag; the caller is
// responsible for its used/free state before and after calling.
func (r *Region) splitDown(block uintptr, order int, n uint64) {
	h := header.At(block)
	size := h.Size(r.cookie)

	for order > 0 && OrderSize(order-1) >= n+HeaderSize {
		half := size / 2
		h.SetSize(r.cookie, half)
		buddy := block + uintptr(half)
		header.Init(buddy, r.cookie, half, true, false)

		order--
		size = half

		r.allocatedBlocks++
		r.freeBlocks++
		r.freeBytes += uint(half - HeaderSize)
		r.allocatedBytes -= uint(HeaderSize)

		r.insertFree(order, buddy)
	}
}
