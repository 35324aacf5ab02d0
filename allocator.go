// Package buddyalloc implements a user-space dynamic memory allocator over two raw
// virtual-memory primitives: a one-shot reservation standing in for a program-break extension,
// and per-allocation anonymous page mappings for requests too large for the reservation. Small
// requests are serviced by a segregated free-list buddy allocator over the reservation; large
// requests get a dedicated mapping, optionally hinted to be backed by huge pages.
package buddyalloc

import (
	"fmt"
	"math/rand"
	"os"
	"sync"
	"time"
	"unsafe"

	"golang.org/x/exp/slog"

	"github.com/ShayHacohen/buddyalloc/internal/buddy"
	"github.com/ShayHacohen/buddyalloc/internal/header"
	"github.com/ShayHacohen/buddyalloc/internal/mapped"
	"github.com/ShayHacohen/buddyalloc/internal/vmem"
)

// Allocator is a handle onto one buddy region and its associated page-mapped blocks. It is not
// safe for concurrent use - callers sharing an Allocator across goroutines must serialize their
// own access; the only locking this type does internally is the sync.Once guarding its
// one-time lazy reservation.
type Allocator struct {
	opts options

	once    sync.Once
	initErr error

	cookie  uint32
	region  *buddy.Region
	mapped  *mapped.List
}

// defaultAllocator is the process-wide handle the package-level Malloc/Calloc/Free/Realloc and
// introspection functions delegate to. It is built lazily, on first use, by New with no options.
var (
	defaultOnce sync.Once
	defaultAlloc *Allocator
)

func defaultAllocator() *Allocator {
	defaultOnce.Do(func() {
		defaultAlloc = New()
	})
	return defaultAlloc
}

// New constructs an Allocator handle. Reservation of the underlying buddy region does not
// happen here - it is deferred to the first call into the handle, so constructing an Allocator
// never itself reserves memory or touches a random source.
func New(opts ...Option) *Allocator {
	o := options{}
	for _, opt := range opts {
		opt(&o)
	}
	return &Allocator{opts: o}
}

// ensureInit reserves the buddy region and seeds the integrity cookie on first call, and is a
// no-op on every call after that, whether or not the first call succeeded.
func (a *Allocator) ensureInit() error {
	a.once.Do(func() {
		rng := a.opts.rng
		if rng == nil {
			rng = rand.New(rand.NewSource(time.Now().UnixNano()))
		}
		a.cookie = rng.Uint32()

		region, err := buddy.NewRegion(a.cookie)
		if err != nil {
			a.initErr = err
			return
		}
		a.region = region
		a.mapped = mapped.NewList(a.cookie)

		a.opts.logf(slog.LevelDebug, "buddy region reserved",
			"base", fmt.Sprintf("%#x", region.Base()),
			"size", buddy.RegionSize,
		)

		if a.opts.logger != nil {
			header.OnCorruption = a.logCorruptionAndExit
		}
	})
	return a.initErr
}

// logCorruptionAndExit is installed as header.OnCorruption once an Allocator with a logger is
// initialized, so a cookie mismatch is reported through that logger at Error level before the
// unconditional termination that follows. The termination itself does not depend on a logger
// being present - this only adds a log line ahead of it.
func (a *Allocator) logCorruptionAndExit(offset uintptr, got, want uint32) {
	a.opts.logf(slog.LevelError, "cookie mismatch, terminating",
		"offset", fmt.Sprintf("%#x", offset),
		"got", fmt.Sprintf("%#08x", got),
		"want", fmt.Sprintf("%#08x", want),
	)
	os.Exit(header.ExitCookieMismatch)
}

func payloadPointer(addr uintptr) unsafe.Pointer {
	return unsafe.Pointer(header.At(addr).Payload()) //nolint:govet
}

func blockAddr(ptr unsafe.Pointer) uintptr {
	return uintptr(ptr) - uintptr(header.Size)
}

// allocate is the shared body of Malloc and Calloc: n is already known to be a valid,
// in-bounds total byte count, and hugeEligible is the path-specific huge-page eligibility
// decision (smalloc's or scalloc's rule, computed by the caller).
func (a *Allocator) allocate(n uint64, hugeEligible bool) unsafe.Pointer {
	if err := a.ensureInit(); err != nil {
		return nil
	}

	if n+buddy.HeaderSize <= buddy.MaxBlockSize {
		if addr, ok := a.region.Alloc(n); ok {
			return payloadPointer(addr)
		}
		return nil
	}

	addr, err := a.mapped.Map(n, hugeEligible)
	if err != nil {
		a.opts.logf(slog.LevelDebug, "page mapping failed", "size", n, "hugePage", hugeEligible, "err", err.Error())
		return nil
	}
	if hugeEligible {
		a.opts.logf(slog.LevelDebug, "mapped huge-page-eligible block", "addr", fmt.Sprintf("%#x", addr), "size", n)
		if !header.At(addr).Oversized(a.cookie) {
			a.opts.logf(slog.LevelDebug, "huge-page hint rejected, mapped without it", "addr", fmt.Sprintf("%#x", addr), "size", n)
		}
	}
	return payloadPointer(addr)
}

// Malloc returns a pointer to a payload of at least size bytes, or nil on invalid size or
// capacity exhaustion.
func (a *Allocator) Malloc(size uintptr) unsafe.Pointer {
	n := uint64(size)
	if n == 0 || n > MaxRequestSize {
		return nil
	}
	return a.allocate(n, n >= SmallocHugePageThreshold)
}

// Calloc returns a pointer to a zero-filled payload of at least count*size bytes, or nil on
// invalid input, arithmetic overflow of the product, or capacity exhaustion.
func (a *Allocator) Calloc(count, size uintptr) unsafe.Pointer {
	if count == 0 || size == 0 {
		return nil
	}
	c, e := uint64(count), uint64(size)
	total := c * e
	if total/e != c {
		return nil
	}
	if total > MaxRequestSize {
		return nil
	}

	ptr := a.allocate(total, e > ScallocHugePageThreshold)
	if ptr == nil {
		return nil
	}
	clear(unsafe.Slice((*byte)(ptr), int(total)))
	return ptr
}

// Free releases a block previously returned by Malloc, Calloc, or Realloc. It is a silent
// no-op on a nil pointer or a block that is already free.
func (a *Allocator) Free(ptr unsafe.Pointer) {
	if ptr == nil || a.region == nil {
		return
	}

	addr := blockAddr(ptr)

	if a.region.Contains(addr) {
		a.region.Free(addr)
		return
	}
	if a.mapped.Contains(addr) {
		if h := header.At(addr); h.Oversized(a.cookie) {
			length := int(h.Size(a.cookie))
			a.opts.logf(slog.LevelDebug, "rounding huge-page unmap length",
				"addr", fmt.Sprintf("%#x", addr), "size", length, "length", vmem.RoundUpToHugePageLength(length))
		}
		if err := a.mapped.Free(addr); err != nil {
			a.opts.logf(slog.LevelDebug, "unmap failed", "addr", fmt.Sprintf("%#x", addr), "err", err.Error())
		}
		return
	}
}

// Realloc resizes the block at ptr to at least size bytes, preserving min(oldSize, size) bytes
// of its contents, and returns a pointer to the (possibly new) block. A nil ptr behaves as
// Malloc. A nil return leaves the original block completely untouched.
func (a *Allocator) Realloc(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	if ptr == nil {
		return a.Malloc(size)
	}

	n := uint64(size)
	if n == 0 || n > MaxRequestSize {
		return nil
	}
	if err := a.ensureInit(); err != nil {
		return nil
	}

	addr := blockAddr(ptr)

	if a.mapped.Contains(addr) {
		h := header.At(addr)
		oldSize := h.Size(a.cookie) - mapped.HeaderSize
		if oldSize == n {
			return ptr
		}
		return a.reallocSlow(ptr, oldSize, n)
	}

	if a.region.Contains(addr) {
		h := header.At(addr)
		oldSize := h.Size(a.cookie) - buddy.HeaderSize

		if n <= oldSize {
			return ptr
		}
		if n+buddy.HeaderSize <= buddy.MaxBlockSize && a.region.GrowInPlace(addr, n) {
			return ptr
		}
		return a.reallocSlow(ptr, oldSize, n)
	}

	return nil
}

// reallocSlow implements the allocate+copy+free fallback: obtain a fresh block, copy over
// min(oldSize, newSize) bytes, free the old block, and return the new one. The old block is
// freed only once the new one has been successfully obtained.
func (a *Allocator) reallocSlow(oldPtr unsafe.Pointer, oldSize, newSize uint64) unsafe.Pointer {
	newPtr := a.allocate(newSize, newSize >= SmallocHugePageThreshold)
	if newPtr == nil {
		return nil
	}

	n := oldSize
	if newSize < n {
		n = newSize
	}
	copy(unsafe.Slice((*byte)(newPtr), int(n)), unsafe.Slice((*byte)(oldPtr), int(n)))

	a.Free(oldPtr)
	return newPtr
}

// FreeBlocks returns the number of free blocks across every order of the buddy region.
func (a *Allocator) FreeBlocks() uint {
	if a.region == nil {
		return 0
	}
	return a.region.FreeBlocks()
}

// FreeBytes returns the sum of payload capacity across every free buddy-region block.
func (a *Allocator) FreeBytes() uint {
	if a.region == nil {
		return 0
	}
	return a.region.FreeBytes()
}

// AllocatedBlocks returns the number of live blocks the allocator currently owns, buddy-region
// and page-mapped combined - this counts free buddy blocks too, since a free block is still a
// block the allocator owns, not one it has released back to the operating system.
func (a *Allocator) AllocatedBlocks() uint {
	if a.region == nil {
		return 0
	}
	return a.region.AllocatedBlocks() + a.mapped.Count()
}

// AllocatedBytes returns the sum of payload capacity across every block the allocator
// currently owns, buddy-region and page-mapped combined.
func (a *Allocator) AllocatedBytes() uint {
	if a.region == nil {
		return 0
	}
	return a.region.AllocatedBytes() + a.mapped.Bytes()
}

// MetaDataBytes returns the total bytes currently spent on inline block headers: one header
// per live block, buddy-region and page-mapped combined.
func (a *Allocator) MetaDataBytes() uint {
	return a.AllocatedBlocks() * SizeMetaData()
}

// Malloc delegates to the process-wide default Allocator, constructing it on first use.
func Malloc(size uintptr) unsafe.Pointer { return defaultAllocator().Malloc(size) }

// Calloc delegates to the process-wide default Allocator, constructing it on first use.
func Calloc(count, size uintptr) unsafe.Pointer { return defaultAllocator().Calloc(count, size) }

// Free delegates to the process-wide default Allocator, constructing it on first use.
func Free(ptr unsafe.Pointer) { defaultAllocator().Free(ptr) }

// Realloc delegates to the process-wide default Allocator, constructing it on first use.
func Realloc(ptr unsafe.Pointer, size uintptr) unsafe.Pointer {
	return defaultAllocator().Realloc(ptr, size)
}

// FreeBlocks delegates to the process-wide default Allocator.
func FreeBlocks() uint { return defaultAllocator().FreeBlocks() }

// FreeBytes delegates to the process-wide default Allocator.
func FreeBytes() uint { return defaultAllocator().FreeBytes() }

// AllocatedBlocks delegates to the process-wide default Allocator.
func AllocatedBlocks() uint { return defaultAllocator().AllocatedBlocks() }

// AllocatedBytes delegates to the process-wide default Allocator.
func AllocatedBytes() uint { return defaultAllocator().AllocatedBytes() }

// MetaDataBytes delegates to the process-wide default Allocator.
func MetaDataBytes() uint { return defaultAllocator().MetaDataBytes() }
