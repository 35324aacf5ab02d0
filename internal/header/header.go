// Package header defines the inline block header that prefixes every block the allocator
// manages, whether free or in use, buddy-region or page-mapped, and the integrity cookie
// discipline applied to every access of it.
package header

import (
	"fmt"
	"os"
	"unsafe"
)

// ExitCookieMismatch is the process exit code used when a header's integrity cookie does not
// match the allocator's cookie. The value has no special meaning beyond being easy to spot in
// a shell's $? or a crash report; it is not a syscall-level errno.
const ExitCookieMismatch = 0xDE

// Header is the fixed-layout metadata block that precedes every payload. Every field is
// accessed exclusively through methods on this type, all of which validate the caller-supplied
// cookie against the header's own before doing anything else. A mismatch means some write
// overran its allocation and landed on this header; there is no way to know how much other
// state nearby is also corrupted, so the only safe response is immediate termination.
type Header struct {
	cookie    uint32
	size      uint64
	free      bool
	oversized bool
	next      uintptr
	prev      uintptr
}

// Size in bytes of a Header, used by callers to compute payload offsets and by the allocator's
// meta_data_bytes counter.
const Size = unsafe.Sizeof(Header{})

// OnCorruption is called immediately before the process exits due to a cookie mismatch. The
// allocator façade overrides it once, during lazy initialization, when a logger was configured,
// so the mismatch gets logged before the exit; tests substitute a function that panics instead
// of exiting, so the scenario can be observed without killing the test binary. Since this is a
// single package-level hook rather than per-Allocator state, only one override is in effect at a
// time - tests that replace it should always restore the previous value when done.
var OnCorruption = func(offset uintptr, got, want uint32) {
	fmt.Fprintf(os.Stderr, "buddyalloc: corrupt header at %#x: cookie %#08x, want %#08x\n", offset, got, want)
	os.Exit(ExitCookieMismatch)
}

func (h *Header) validate(cookie uint32) {
	if h.cookie != cookie {
		OnCorruption(uintptr(unsafe.Pointer(h)), h.cookie, cookie)
	}
}

// At reinterprets the byte at the given address as a Header. The caller is responsible for
// ensuring addr points into memory this package's owner controls and that is large enough to
// hold a Header.
func At(addr uintptr) *Header {
	return (*Header)(unsafe.Pointer(addr)) //nolint:govet
}

// Addr returns the address of this header, suitable for storing as a next/prev link or for
// buddy-address arithmetic.
func (h *Header) Addr() uintptr {
	return uintptr(unsafe.Pointer(h))
}

// Payload returns the address of the first byte after the header - the pointer the allocator
// hands back to callers.
func (h *Header) Payload() uintptr {
	return h.Addr() + uintptr(Size)
}

// FromPayload recovers the header that precedes a previously returned payload pointer.
func FromPayload(payload uintptr) *Header {
	return At(payload - uintptr(Size))
}

// Init constructs a header in place at addr, with the given cookie, and returns it. This is
// the only function that may write a cookie; every other mutator requires the caller to already
// know it.
func Init(addr uintptr, cookie uint32, size uint64, free bool, oversized bool) *Header {
	h := At(addr)
	h.cookie = cookie
	h.size = size
	h.free = free
	h.oversized = oversized
	h.next = 0
	h.prev = 0
	return h
}

func (h *Header) Size(cookie uint32) uint64 {
	h.validate(cookie)
	return h.size
}

func (h *Header) SetSize(cookie uint32, size uint64) {
	h.validate(cookie)
	h.size = size
}

func (h *Header) Free(cookie uint32) bool {
	h.validate(cookie)
	return h.free
}

func (h *Header) SetFree(cookie uint32, free bool) {
	h.validate(cookie)
	h.free = free
}

func (h *Header) Oversized(cookie uint32) bool {
	h.validate(cookie)
	return h.oversized
}

func (h *Header) Next(cookie uint32) uintptr {
	h.validate(cookie)
	return h.next
}

func (h *Header) SetNext(cookie uint32, next uintptr) {
	h.validate(cookie)
	h.next = next
}

func (h *Header) Prev(cookie uint32) uintptr {
	h.validate(cookie)
	return h.prev
}

func (h *Header) SetPrev(cookie uint32, prev uintptr) {
	h.validate(cookie)
	h.prev = prev
}

// Cookie returns the cookie currently stamped on this header without validating it, so a
// possibly-wrong cookie can be read and reported. The accessors' own check (validate) reads the
// field directly and does not go through this method.
func (h *Header) Cookie() uint32 {
	return h.cookie
}
