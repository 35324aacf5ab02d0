package buddyalloc

import (
	"io"

	"github.com/cockroachdb/errors"
	"github.com/launchdarkly/go-jsonstream/v3/jwriter"

	"github.com/ShayHacohen/buddyalloc/internal/buddy"
)

// WriteJSON emits a structured snapshot of the allocator's current state: the six
// introspection counters this package exposes, the per-order free-list population, and the page-mapped
// block count. It is a read-only introspection aid - it never mutates allocator state, mirrors
// the BlockJsonData/PrintDetailedMap diagnostics this package's buddy core is grounded on, and
// takes no part in any invariant.
func (a *Allocator) WriteJSON(w io.Writer) error {
	writer := jwriter.NewWriter()
	obj := writer.Object()

	obj.Name("freeBlocks").Int(int(a.FreeBlocks()))
	obj.Name("freeBytes").Int(int(a.FreeBytes()))
	obj.Name("allocatedBlocks").Int(int(a.AllocatedBlocks()))
	obj.Name("allocatedBytes").Int(int(a.AllocatedBytes()))
	obj.Name("metaDataBytes").Int(int(a.MetaDataBytes()))
	obj.Name("sizeMetaData").Int(int(SizeMetaData()))

	mappedCount := 0
	if a.mapped != nil {
		mappedCount = int(a.mapped.Count())
	}
	obj.Name("mappedBlocks").Int(mappedCount)

	freeListArr := obj.Name("freeListPopulation").Array()
	for order := 0; order < buddy.OrderCount; order++ {
		n := 0
		if a.region != nil {
			n = a.region.FreeListLen(order)
		}
		freeListArr.Int(n)
	}
	freeListArr.End()

	obj.End()

	if err := writer.Error(); err != nil {
		return errors.Wrap(err, "buddyalloc: failed to encode diagnostics")
	}
	out := writer.Bytes()
	if _, err := w.Write(out); err != nil {
		return errors.Wrap(err, "buddyalloc: failed to write diagnostics")
	}
	return nil
}
