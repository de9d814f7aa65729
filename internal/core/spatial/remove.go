package spatial

import (
	"slices"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
)

// Remove deletes the first object whose box intersects box and for which
// match returns true. Nodes left under-full are dissolved and their objects
// reinserted, so the fanout and MBR invariants hold afterwards.
func (ix *Index[T]) Remove(box domain.BoundingBox, match func(T) bool) (T, bool) {
	var zero T
	if ix.root == nil {
		return zero, false
	}

	var orphans []T
	item, ok := ix.remove(ix.root, box, match, &orphans)
	if !ok {
		return zero, false
	}
	ix.size--

	for !ix.root.leaf && len(ix.root.entries) == 1 {
		ix.root = ix.root.entries[0].child
	}
	if !ix.root.leaf && len(ix.root.entries) == 0 {
		ix.root = &node[T]{leaf: true}
	}
	for _, o := range orphans {
		ix.insertEntry(entry[T]{box: o.Bounds(), item: o})
	}
	if ix.size == 0 {
		ix.root = nil
	}
	return item, true
}

func (ix *Index[T]) remove(n *node[T], box domain.BoundingBox, match func(T) bool, orphans *[]T) (T, bool) {
	var zero T
	if n.leaf {
		for i, e := range n.entries {
			if e.box.Intersects(box) && match(e.item) {
				n.entries = slices.Delete(n.entries, i, i+1)
				return e.item, true
			}
		}
		return zero, false
	}

	for i, e := range n.entries {
		if !e.box.Intersects(box) {
			continue
		}
		item, ok := ix.remove(e.child, box, match, orphans)
		if !ok {
			continue
		}
		if len(e.child.entries) < ix.minFanout {
			e.child.collect(orphans)
			n.entries = slices.Delete(n.entries, i, i+1)
		} else {
			n.entries[i].box = e.child.bound()
		}
		return item, true
	}
	return zero, false
}

func (n *node[T]) collect(out *[]T) {
	n.walk(func(item T) bool {
		*out = append(*out, item)
		return true
	})
}
