package header_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/ShayHacohen/buddyalloc/internal/header"
)

func newBacking(t *testing.T) uintptr {
	t.Helper()
	buf := make([]byte, 4096)
	t.Cleanup(func() { _ = buf }) // keep buf alive for the lifetime of the test
	return uintptr(unsafe.Pointer(&buf[0]))
}

func TestInitAndAccessorsRoundTrip(t *testing.T) {
	addr := newBacking(t)
	h := header.Init(addr, 0xABCD, 512, true, false)

	require.Equal(t, uint64(512), h.Size(0xABCD))
	require.True(t, h.Free(0xABCD))
	require.False(t, h.Oversized(0xABCD))
	require.Equal(t, uintptr(0), h.Next(0xABCD))
	require.Equal(t, uintptr(0), h.Prev(0xABCD))

	h.SetSize(0xABCD, 1024)
	h.SetFree(0xABCD, false)
	h.SetNext(0xABCD, 42)
	h.SetPrev(0xABCD, 7)

	require.Equal(t, uint64(1024), h.Size(0xABCD))
	require.False(t, h.Free(0xABCD))
	require.Equal(t, uintptr(42), h.Next(0xABCD))
	require.Equal(t, uintptr(7), h.Prev(0xABCD))
}

func TestPayloadAndFromPayloadRoundTrip(t *testing.T) {
	addr := newBacking(t)
	h := header.Init(addr, 1, 128, true, false)

	payload := h.Payload()
	require.Equal(t, addr+uintptr(header.Size), payload)
	require.Equal(t, h, header.FromPayload(payload))
}

func TestCookieMismatchTriggersOnCorruption(t *testing.T) {
	addr := newBacking(t)
	header.Init(addr, 0x1111, 128, false, false)

	original := header.OnCorruption
	defer func() { header.OnCorruption = original }()

	var gotOffset uintptr
	var gotGot, gotWant uint32
	triggered := false
	header.OnCorruption = func(offset uintptr, got, want uint32) {
		triggered = true
		gotOffset, gotGot, gotWant = offset, got, want
		panic("corruption")
	}

	h := header.At(addr)
	require.PanicsWithValue(t, "corruption", func() {
		h.Size(0x2222)
	})
	require.True(t, triggered)
	require.Equal(t, addr, gotOffset)
	require.Equal(t, uint32(0x1111), gotGot)
	require.Equal(t, uint32(0x2222), gotWant)
}
