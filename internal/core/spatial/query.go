package spatial

import (
	"iter"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
)

// Query yields every object whose box intersects box. The traversal is lazy
// and stops as soon as the consumer stops ranging; each range starts a fresh
// traversal. The index must not be mutated while a traversal is in progress.
func (ix *Index[T]) Query(box domain.BoundingBox) iter.Seq[T] {
	return func(yield func(T) bool) {
		if ix.root == nil {
			return
		}
		ix.root.search(box, yield)
	}
}

// QueryAll yields every stored object.
func (ix *Index[T]) QueryAll() iter.Seq[T] {
	return func(yield func(T) bool) {
		if ix.root == nil {
			return
		}
		ix.root.walk(yield)
	}
}

func (n *node[T]) search(box domain.BoundingBox, yield func(T) bool) bool {
	for _, e := range n.entries {
		if !e.box.Intersects(box) {
			continue
		}
		if n.leaf {
			if !yield(e.item) {
				return false
			}
		} else if !e.child.search(box, yield) {
			return false
		}
	}
	return true
}

func (n *node[T]) walk(yield func(T) bool) bool {
	for _, e := range n.entries {
		if n.leaf {
			if !yield(e.item) {
				return false
			}
		} else if !e.child.walk(yield) {
			return false
		}
	}
	return true
}
