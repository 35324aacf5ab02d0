package buddy

import "github.com/ShayHacohen/buddyalloc/internal/header"

// Free returns a used buddy-region block to its free list and coalesces it with its buddy for
// as long as a same-size, free buddy exists, stopping at the largest order. It is a no-op if
// the block is already free: Free checks the header's Free flag itself, so callers pass a
// double free straight through.
func (r *Region) Free(block uintptr) {
	h := header.At(block)
	if h.Free(r.cookie) {
		return
	}

	size := h.Size(r.cookie)
	order := OrderOf(size)

	r.removeUsed(block)
	r.insertFree(order, block)
	h.SetFree(r.cookie, true)

	r.freeBlocks++
	r.freeBytes += uint(size - HeaderSize)

	for order < MaxOrder {
		buddy := r.buddyAddr(block, size)
		bh := header.At(buddy)

		if !bh.Free(r.cookie) || bh.Size(r.cookie) != size {
			break
		}

		left, right := block, buddy
		if buddy < block {
			left, right = buddy, block
		}

		r.removeFree(order, left)
		r.removeFree(order, right)

		newSize := size * 2
		header.At(left).SetSize(r.cookie, newSize)

		order++
		block = left
		size = newSize
		r.insertFree(order, block)

		r.freeBlocks--
		r.allocatedBlocks--
		r.freeBytes += uint(HeaderSize)
		r.allocatedBytes += uint(HeaderSize)
	}
}
