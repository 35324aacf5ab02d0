package vmem_test

import (
	"testing"
	"unsafe"

	"github.com/stretchr/testify/require"

	"github.com/ShayHacohen/buddyalloc/internal/vmem"
)

func TestReserveBuddyRegionReturnsExactSize(t *testing.T) {
	mem, err := vmem.ReserveBuddyRegion(1 << 20)
	require.NoError(t, err)
	require.Len(t, mem, 1<<20)
	require.NoError(t, vmem.Unmap(mem))
}

func TestMapPagesWithoutHugePageHint(t *testing.T) {
	mem, gotHuge, err := vmem.MapPages(4096, false)
	require.NoError(t, err)
	require.False(t, gotHuge)
	require.Len(t, mem, 4096)
	require.NoError(t, vmem.Unmap(mem))
}

func TestMapPagesFallsBackWhenHugePageUnavailable(t *testing.T) {
	// Whether the hint actually succeeds depends on host configuration (nr_hugepages); either
	// outcome must leave the caller with a correctly sized, usable mapping.
	mem, _, err := vmem.MapPages(int(vmem.HugePageLength), true)
	require.NoError(t, err)
	require.Len(t, mem, int(vmem.HugePageLength))
	require.NoError(t, vmem.Unmap(mem))
}

func TestRoundUpToHugePageLength(t *testing.T) {
	require.Equal(t, 0, vmem.RoundUpToHugePageLength(0))
	require.Equal(t, vmem.HugePageLength, vmem.RoundUpToHugePageLength(1))
	require.Equal(t, vmem.HugePageLength, vmem.RoundUpToHugePageLength(vmem.HugePageLength))
	require.Equal(t, 2*vmem.HugePageLength, vmem.RoundUpToHugePageLength(vmem.HugePageLength+1))
}

func TestUnmapAtReleasesExactRange(t *testing.T) {
	mem, _, err := vmem.MapPages(8192, false)
	require.NoError(t, err)
	base := uintptr(unsafe.Pointer(&mem[0]))
	require.NoError(t, vmem.UnmapAt(base, 8192))
}
