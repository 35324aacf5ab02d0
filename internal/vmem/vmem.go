// Package vmem provides the two raw virtual-memory primitives the allocator is built on: a
// one-shot contiguous reservation standing in for a program-break extension, and anonymous page
// mappings for large allocations. Every allocator-facing call goes through this package so the
// buddy core never issues a syscall directly.
package vmem

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"golang.org/x/sys/unix"
)

// HugePageLength is the length, in bytes, that a huge-page-backed mapping's unmap length must be
// rounded up to.
const HugePageLength = 2 * 1024 * 1024

// ReserveBuddyRegion issues a single anonymous, private, read/write mapping of size bytes. It is
// meant to be called exactly once, lazily, by the allocator on first use, and stands in for
// extending the program break: the returned region's base address and length are fixed for the
// remainder of the process.
func ReserveBuddyRegion(size int) ([]byte, error) {
	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, errors.Wrap(err, "vmem: failed to reserve buddy region")
	}
	return mem, nil
}

// MapPages obtains an anonymous, private, read/write mapping of size bytes for the
// large-allocation path. When hugePage is true, the request carries a best-effort huge-page
// hint; if the kernel rejects a hinted mapping, MapPages retries once without the hint rather
// than failing the caller's allocation for an optimization that didn't pan out.
func MapPages(size int, hugePage bool) ([]byte, bool, error) {
	if hugePage {
		mem, err := mmapHuge(size)
		if err == nil {
			return mem, true, nil
		}
	}

	mem, err := unix.Mmap(-1, 0, size, unix.PROT_READ|unix.PROT_WRITE, unix.MAP_PRIVATE|unix.MAP_ANON)
	if err != nil {
		return nil, false, errors.Wrap(err, "vmem: failed to map pages")
	}
	return mem, false, nil
}

// Unmap releases a mapping previously returned by ReserveBuddyRegion or MapPages. The slice
// passed in must be exactly the one originally returned - a sub-slice has the wrong capacity
// and will be rejected by the kernel.
func Unmap(mem []byte) error {
	if err := unix.Munmap(mem); err != nil {
		return errors.Wrap(err, "vmem: failed to unmap region")
	}
	return nil
}

// RoundUpToHugePageLength rounds size up to the next multiple of HugePageLength. The kernel
// requires huge-page mappings to be unmapped in multiples of the huge-page size even when the
// caller's logical size was smaller.
func RoundUpToHugePageLength(size int) int {
	if size <= 0 {
		return 0
	}
	pages := (size + HugePageLength - 1) / HugePageLength
	return pages * HugePageLength
}

// UnmapAt releases length bytes of a mapping starting at base. It exists for the huge-page unmap
// path, where the length the kernel actually committed can be larger than the slice Go originally
// handed back from MapPages; it reconstructs a byte slice over the mapping's address range purely
// to hand the syscall the address and length it needs, without relying on the original slice's
// capacity.
func UnmapAt(base uintptr, length int) error {
	mem := unsafe.Slice((*byte)(unsafe.Pointer(base)), length)
	if err := unix.Munmap(mem); err != nil {
		return errors.Wrap(err, "vmem: failed to unmap region")
	}
	return nil
}
