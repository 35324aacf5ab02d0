package buddyalloc

import (
	"github.com/ShayHacohen/buddyalloc/internal/buddy"
	"github.com/ShayHacohen/buddyalloc/internal/header"
	"github.com/ShayHacohen/buddyalloc/internal/vmem"
)

// Constants observable to callers, per the external-interface contract: the smallest and
// largest buddy-region block sizes, the number of blocks the region reserves, the number of
// orders that implies, the two huge-page eligibility thresholds, the maximum single request
// this allocator will attempt to satisfy, and the huge-page length used to round mapped-unmap
// lengths.
const (
	MinBlockSize = buddy.MinBlockSize
	MaxBlockSize = buddy.MaxBlockSize
	BlockCount   = buddy.BlockCount
	OrderCount   = buddy.OrderCount

	// SmallocHugePageThreshold is the user-size threshold, in bytes, at or above which a
	// single-block allocation is flagged huge-page-eligible.
	SmallocHugePageThreshold = 4 * 1024 * 1024

	// ScallocHugePageThreshold is the per-element size threshold, in bytes, strictly above
	// which a zero-allocate request is flagged huge-page-eligible, regardless of element count.
	ScallocHugePageThreshold = 2 * 1024 * 1024

	MaxRequestSize = buddy.MaxRequestSize
	HugePageLength = vmem.HugePageLength
)

// SizeMetaData returns sizeof(header) in bytes, fixed for the process and computed once at
// package init via unsafe.Sizeof.
func SizeMetaData() uint {
	return uint(header.Size)
}
