package mapped_test

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/ShayHacohen/buddyalloc/internal/mapped"
)

const testCookie = 0xFEED

func TestMapAndFreeRoundTrip(t *testing.T) {
	l := mapped.NewList(testCookie)

	addr, err := l.Map(4096, false)
	require.NoError(t, err)
	require.True(t, l.Contains(addr))
	require.Equal(t, uint(1), l.Count())
	require.Equal(t, uint(4096), l.Bytes())

	require.NoError(t, l.Free(addr))
	require.False(t, l.Contains(addr))
	require.Equal(t, uint(0), l.Count())
	require.Equal(t, uint(0), l.Bytes())
}

func TestFreeOfUnknownBlockErrors(t *testing.T) {
	l := mapped.NewList(testCookie)
	err := l.Free(0xDEAD)
	require.Error(t, err)
}

func TestMultipleBlocksTrackIndependently(t *testing.T) {
	l := mapped.NewList(testCookie)

	a, err := l.Map(8192, false)
	require.NoError(t, err)
	b, err := l.Map(16384, false)
	require.NoError(t, err)

	require.Equal(t, uint(2), l.Count())
	require.Equal(t, uint(8192+16384), l.Bytes())

	var visited []uintptr
	l.Visit(func(addr uintptr) { visited = append(visited, addr) })
	require.ElementsMatch(t, []uintptr{a, b}, visited)

	require.NoError(t, l.Free(a))
	require.Equal(t, uint(1), l.Count())
	require.True(t, l.Contains(b))
	require.False(t, l.Contains(a))
}
