package buddy

import (
	"github.com/pkg/errors"

	"github.com/ShayHacohen/buddyalloc/internal/header"
)

const (
	// MinBlockSize is the size in bytes of an order-0 block - the smallest split granularity.
	MinBlockSize = 128
	// OrderCount is the number of distinct block sizes, orders 0 through MaxOrder inclusive.
	OrderCount = 11
	// MaxOrder is the largest order index.
	MaxOrder = OrderCount - 1
	// BlockCount is the number of maximal-order blocks the buddy region is partitioned into at
	// reservation time.
	BlockCount = 32
	// MaxBlockSize is the size in bytes of an order-MaxOrder block, and the size of the
	// reserved region divided by BlockCount.
	MaxBlockSize = MinBlockSize << MaxOrder
	// MaxRequestSize is the largest user payload size the allocator will service at all,
	// buddy-managed or page-mapped.
	MaxRequestSize = 100_000_000

	// HeaderSize is the number of bytes every block's inline header occupies.
	HeaderSize = uint64(header.Size)
)

// OrderSize returns the block size in bytes for order k.
func OrderSize(k int) uint64 {
	return MinBlockSize << uint(k)
}

// OrderOf returns the order index whose size equals size, or -1 if size does not match any
// order exactly.
func OrderOf(size uint64) int {
	for k := 0; k < OrderCount; k++ {
		if OrderSize(k) == size {
			return k
		}
	}
	return -1
}

// SmallestOrderFor returns the smallest order k such that OrderSize(k) >= need, or -1 if need
// exceeds MaxBlockSize.
func SmallestOrderFor(need uint64) int {
	for k := 0; k < OrderCount; k++ {
		if OrderSize(k) >= need {
			return k
		}
	}
	return -1
}

// ErrNotPowerOfTwo is returned by checkPow2 when a value the buddy arithmetic depends on being
// a power of two is not one.
var ErrNotPowerOfTwo = errors.New("buddy: value must be a power of two")

// checkPow2 reports whether n is a power of two. The buddy-address XOR trick in Region is only
// correct when every order's size is; this is checked once, at region construction, rather than
// trusted silently.
func checkPow2(n uint64) error {
	if n == 0 || n&(n-1) != 0 {
		return errors.WithMessagef(ErrNotPowerOfTwo, "got %d", n)
	}
	return nil
}
