package buddy

import "github.com/ShayHacohen/buddyalloc/internal/header"

// insertSorted inserts block into the list rooted at *head, which is maintained in strictly
// increasing address order. block's own next/prev fields are set as a side effect.
func (r *Region) insertSorted(head *uintptr, block uintptr) {
	h := header.At(block)

	if *head == 0 {
		h.SetNext(r.cookie, 0)
		h.SetPrev(r.cookie, 0)
		*head = block
		return
	}

	if block < *head {
		h.SetNext(r.cookie, *head)
		h.SetPrev(r.cookie, 0)
		header.At(*head).SetPrev(r.cookie, block)
		*head = block
		return
	}

	cur := *head
	for {
		next := header.At(cur).Next(r.cookie)
		if next == 0 || block < next {
			header.At(cur).SetNext(r.cookie, block)
			h.SetPrev(r.cookie, cur)
			h.SetNext(r.cookie, next)
			if next != 0 {
				header.At(next).SetPrev(r.cookie, block)
			}
			return
		}
		cur = next
	}
}

// removeFromList unlinks block from the list rooted at *head and rewires its neighbors.
func (r *Region) removeFromList(head *uintptr, block uintptr) {
	h := header.At(block)
	prev := h.Prev(r.cookie)
	next := h.Next(r.cookie)

	if prev != 0 {
		header.At(prev).SetNext(r.cookie, next)
	} else {
		*head = next
	}
	if next != 0 {
		header.At(next).SetPrev(r.cookie, prev)
	}

	h.SetNext(r.cookie, 0)
	h.SetPrev(r.cookie, 0)
}

func (r *Region) insertFree(order int, block uintptr) {
	r.insertSorted(&r.freeList[order], block)
}

func (r *Region) removeFree(order int, block uintptr) {
	r.removeFromList(&r.freeList[order], block)
}

func (r *Region) pushUsed(block uintptr) {
	r.insertSorted(&r.usedHead, block)
}

func (r *Region) removeUsed(block uintptr) {
	r.removeFromList(&r.usedHead, block)
}
