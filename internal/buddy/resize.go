package buddy

import "github.com/ShayHacohen/buddyalloc/internal/header"

// GrowInPlace attempts to satisfy a resize to want payload bytes by repeatedly absorbing the
// block's right buddy - never the left one, since that would move the block's own address and
// break the "in-place" contract. It first probes, without mutating any state, how large a
// contiguous block is reachable this way; if that is enough, it commits exactly that many
// merges and then splits back down to the smallest order that still fits want, exactly as a
// fresh allocation of that size would be. It returns false, leaving the block untouched, if
// growing this way cannot reach want.
func (r *Region) GrowInPlace(block uintptr, want uint64) bool {
	h := header.At(block)
	size := h.Size(r.cookie)
	order := OrderOf(size)
	if order < 0 {
		return false
	}

	merges, finalOrder, finalSize := r.probeRightwardGrowth(block, order, size, want)
	if finalSize-HeaderSize < want {
		return false
	}

	addr := block
	o := order
	for i := 0; i < merges; i++ {
		buddy := r.buddyAddr(addr, size)
		r.removeFree(o, buddy)

		r.freeBlocks--
		r.freeBytes -= uint(size - HeaderSize)

		o++
		size *= 2
		h.SetSize(r.cookie, size)

		r.allocatedBlocks--
		r.allocatedBytes += uint(HeaderSize)
	}

	if o != finalOrder {
		panic("buddy: probe/commit growth order mismatch")
	}

	r.splitDown(addr, o, want)
	return true
}

// probeRightwardGrowth is a read-only simulation of GrowInPlace's merge loop: it walks forward
// buddies, requiring each to be free, equal-size, and to the right of the accumulated block,
// and reports how many merges are achievable and the size that would result.
func (r *Region) probeRightwardGrowth(block uintptr, order int, size, want uint64) (merges, finalOrder int, finalSize uint64) {
	finalSize = size
	finalOrder = order

	if finalSize-HeaderSize >= want {
		return 0, order, finalSize
	}

	addr := block
	for finalOrder < MaxOrder {
		buddy := r.buddyAddr(addr, finalSize)
		if buddy < addr {
			break
		}

		bh := header.At(buddy)
		if !bh.Free(r.cookie) || bh.Size(r.cookie) != finalSize {
			break
		}

		finalSize *= 2
		finalOrder++
		merges++

		if finalSize-HeaderSize >= want {
			break
		}
	}

	return merges, finalOrder, finalSize
}
