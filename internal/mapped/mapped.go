// Package mapped implements the large-allocation path: requests too big for the buddy region's
// largest order are satisfied with a dedicated anonymous mapping, one per allocation, optionally
// hinted as huge-page-backed. Each mapping carries the same inline header as a buddy block; the
// allocator façade tells the two paths apart with Contains lookups (this package's registry and
// the buddy region's address range). Mapped blocks are never split or coalesced - one allocation
// is exactly one mapping.
package mapped

import (
	"unsafe"

	"github.com/cockroachdb/errors"
	"github.com/dolthub/swiss"

	"github.com/ShayHacohen/buddyalloc/internal/header"
	"github.com/ShayHacohen/buddyalloc/internal/vmem"
)

// HeaderSize is the number of bytes the inline header consumes out of every mapping; kept as its
// own name here so callers reason about user-visible size versus mapped size without reaching
// into the header package directly.
var HeaderSize = uint64(header.Size)

// entry is what the registry keeps per mapped block: the raw slice Mmap returned (needed to
// unmap a non-huge mapping with the exact length the kernel expects) and whether the mapping
// actually ended up huge-page-backed, which governs how the unmap length is computed.
type entry struct {
	mem      []byte
	hugePage bool
}

// List tracks every currently-live page-mapped block: a doubly-linked list through the blocks'
// own headers, mirroring the buddy region's used list, plus a side table from base address to
// the bookkeeping Munmap needs that the header itself has no room for.
type List struct {
	cookie uint32
	head   uintptr
	count  uint
	bytes  uint

	registry *swiss.Map[uintptr, entry]
}

// NewList creates an empty mapped-block list. cookie must be the same integrity cookie used by
// the buddy region, since both paths' headers are read by the same corruption-detection logic.
func NewList(cookie uint32) *List {
	return &List{
		cookie:   cookie,
		registry: swiss.NewMap[uintptr, entry](16),
	}
}

// Count returns the number of live mapped blocks.
func (l *List) Count() uint { return l.count }

// Bytes returns the sum of the live mapped blocks' user-visible payload sizes.
func (l *List) Bytes() uint { return l.bytes }

// Map obtains a dedicated mapping for userSize bytes of payload, hinting for huge pages when
// hugePage is true, and returns the address of the new block's header. The oversized flag
// stamped on the header reflects whether the mapping actually ended up huge-page-backed, which
// is what Free needs to know to round the unmap length correctly - not merely whether the
// caller was eligible to ask for one.
func (l *List) Map(userSize uint64, hugePage bool) (blockAddr uintptr, err error) {
	total := userSize + HeaderSize
	mem, gotHuge, err := vmem.MapPages(int(total), hugePage)
	if err != nil {
		return 0, errors.Wrap(err, "mapped: failed to obtain mapping")
	}

	base := uintptr(unsafe.Pointer(&mem[0]))
	header.Init(base, l.cookie, total, false, gotHuge)

	l.registry.Put(base, entry{mem: mem, hugePage: gotHuge})
	l.push(base)
	l.count++
	l.bytes += uint(userSize)

	return base, nil
}

// Free unmaps the block at blockAddr and removes it from the list. It is an error to call Free
// on an address this List did not itself return from Map.
func (l *List) Free(blockAddr uintptr) error {
	e, ok := l.registry.Get(blockAddr)
	if !ok {
		return errors.Errorf("mapped: %#x is not a mapped block known to this allocator", blockAddr)
	}

	h := header.At(blockAddr)
	userSize := h.Size(l.cookie) - HeaderSize

	l.remove(blockAddr)
	l.registry.Delete(blockAddr)
	l.count--
	l.bytes -= uint(userSize)

	length := len(e.mem)
	if e.hugePage {
		length = vmem.RoundUpToHugePageLength(length)
		return vmem.UnmapAt(blockAddr, length)
	}
	return vmem.Unmap(e.mem)
}

// Contains reports whether blockAddr was returned by a still-live call to Map.
func (l *List) Contains(blockAddr uintptr) bool {
	_, ok := l.registry.Get(blockAddr)
	return ok
}

// push prepends addr to the head of the used-mapped list. Unlike the buddy region's free lists,
// mapped blocks are never searched by size, so there is no reason to keep them address-ordered.
func (l *List) push(addr uintptr) {
	h := header.At(addr)
	h.SetPrev(l.cookie, 0)
	h.SetNext(l.cookie, l.head)
	if l.head != 0 {
		header.At(l.head).SetPrev(l.cookie, addr)
	}
	l.head = addr
}

func (l *List) remove(addr uintptr) {
	h := header.At(addr)
	prev := h.Prev(l.cookie)
	next := h.Next(l.cookie)

	if prev != 0 {
		header.At(prev).SetNext(l.cookie, next)
	} else {
		l.head = next
	}
	if next != 0 {
		header.At(next).SetPrev(l.cookie, prev)
	}
}

// Visit calls fn once per live mapped block, in no particular order, for statistics and
// diagnostics traversal.
func (l *List) Visit(fn func(blockAddr uintptr)) {
	for addr := l.head; addr != 0; addr = header.At(addr).Next(l.cookie) {
		fn(addr)
	}
}
