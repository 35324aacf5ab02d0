//go:build linux

package vmem

import "golang.org/x/sys/unix"

func mmapHuge(size int) ([]byte, error) {
	return unix.Mmap(-1, 0, size,
		unix.PROT_READ|unix.PROT_WRITE,
		unix.MAP_PRIVATE|unix.MAP_ANON|unix.MAP_HUGETLB,
	)
}
