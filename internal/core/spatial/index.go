// Package spatial implements an in-memory R-tree with quadratic split over
// fixed-point bounding boxes.
//
// An Index is not safe for concurrent use. Callers that mutate from one
// goroutine and read from others must serialise access themselves.
package spatial

import (
	"errors"
	"fmt"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
)

// Default fanout used by the overlay layers.
const (
	DefaultMinFanout = 2
	DefaultMaxFanout = 12
)

// Index is an R-tree of T keyed by T.Bounds().
type Index[T domain.Bounded] struct {
	root      *node[T]
	minFanout int
	maxFanout int
	size      int
}

// New creates an empty index. Every non-root node holds between minFanout
// and maxFanout entries.
func New[T domain.Bounded](minFanout, maxFanout int) (*Index[T], error) {
	if err := checkFanout(minFanout, maxFanout); err != nil {
		return nil, err
	}
	return &Index[T]{minFanout: minFanout, maxFanout: maxFanout}, nil
}

func checkFanout(minFanout, maxFanout int) error {
	if minFanout < 1 {
		return errors.New("min fanout must be at least 1")
	}
	if maxFanout < 2 {
		return errors.New("max fanout must be at least 2")
	}
	if minFanout > maxFanout/2 {
		return fmt.Errorf("min fanout %d must be at most half of max fanout %d", minFanout, maxFanout)
	}
	return nil
}

// MinFanout returns the least number of entries a non-root node holds.
func (ix *Index[T]) MinFanout() int { return ix.minFanout }

// MaxFanout returns the number of entries at which a node splits.
func (ix *Index[T]) MaxFanout() int { return ix.maxFanout }

// Count returns the number of stored objects.
func (ix *Index[T]) Count() int { return ix.size }

// Height returns the number of levels, 0 for an empty index.
func (ix *Index[T]) Height() int {
	if ix.root == nil {
		return 0
	}
	h := 1
	for n := ix.root; !n.leaf; n = n.entries[0].child {
		h++
	}
	return h
}

// Extent returns the union of all stored boxes.
func (ix *Index[T]) Extent() (domain.BoundingBox, bool) {
	if ix.root == nil || len(ix.root.entries) == 0 {
		return domain.BoundingBox{}, false
	}
	return ix.root.bound(), true
}

// Clear drops every object.
func (ix *Index[T]) Clear() {
	ix.root = nil
	ix.size = 0
}

// Insert adds obj. The object is rejected with domain.ErrInvalidBounds when
// its box is not valid; the index is left unchanged in that case.
func (ix *Index[T]) Insert(obj T) error {
	box := obj.Bounds()
	if err := box.Validate(); err != nil {
		return err
	}
	if ix.root == nil {
		ix.root = &node[T]{leaf: true}
	}
	ix.insertEntry(entry[T]{box: box, item: obj})
	ix.size++
	return nil
}

func (ix *Index[T]) insertEntry(e entry[T]) {
	sibling := ix.insert(ix.root, e)
	if sibling == nil {
		return
	}
	old := ix.root
	ix.root = &node[T]{
		entries: []entry[T]{
			{box: old.bound(), child: old},
			{box: sibling.bound(), child: sibling},
		},
	}
}

// insert descends to a leaf and returns the new sibling of n when n
// overflowed and was split.
func (ix *Index[T]) insert(n *node[T], e entry[T]) *node[T] {
	if n.leaf {
		n.entries = append(n.entries, e)
	} else {
		i := chooseSubtree(n, e.box)
		child := n.entries[i].child
		split := ix.insert(child, e)
		// Ancestors are re-tightened even without a split.
		n.entries[i].box = child.bound()
		if split != nil {
			n.entries = append(n.entries, entry[T]{box: split.bound(), child: split})
		}
	}
	if len(n.entries) > ix.maxFanout {
		return ix.split(n)
	}
	return nil
}

// chooseSubtree picks the child needing the least enlargement; ties go to the
// smaller resulting area, then to fewer entries, then to the earlier child.
func chooseSubtree[T domain.Bounded](n *node[T], box domain.BoundingBox) int {
	best := 0
	var bestEnl, bestArea float64
	bestCount := 0
	for i, e := range n.entries {
		merged := e.box.Union(box)
		area := merged.Area()
		enl := area - e.box.Area()
		count := len(e.child.entries)
		if i == 0 ||
			enl < bestEnl ||
			(enl == bestEnl && area < bestArea) ||
			(enl == bestEnl && area == bestArea && count < bestCount) {
			best, bestEnl, bestArea, bestCount = i, enl, area, count
		}
	}
	return best
}
