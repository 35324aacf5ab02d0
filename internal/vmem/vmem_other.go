//go:build !linux

package vmem

import "github.com/cockroachdb/errors"

// mmapHuge always fails on platforms with no MAP_HUGETLB equivalent wired up, so MapPages falls
// straight through to an unhinted mapping.
func mmapHuge(size int) ([]byte, error) {
	return nil, errors.New("vmem: huge-page mappings are not supported on this platform")
}
