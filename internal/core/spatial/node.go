package spatial

import (
	"math"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
)

type node[T domain.Bounded] struct {
	leaf    bool
	entries []entry[T]
}

// entry is either a child pointer (internal node) or a stored item (leaf).
// box is always the exact MBR of child or the box of item.
type entry[T domain.Bounded] struct {
	box   domain.BoundingBox
	child *node[T]
	item  T
}

func (n *node[T]) bound() domain.BoundingBox {
	b := n.entries[0].box
	for _, e := range n.entries[1:] {
		b = b.Union(e.box)
	}
	return b
}

// split distributes the overflowing entries of n over n and a new sibling
// using Guttman's quadratic algorithm.
func (ix *Index[T]) split(n *node[T]) *node[T] {
	all := n.entries
	s1, s2 := pickSeeds(all)

	a := []entry[T]{all[s1]}
	b := []entry[T]{all[s2]}
	boxA, boxB := all[s1].box, all[s2].box

	rest := make([]entry[T], 0, len(all)-2)
	for i, e := range all {
		if i != s1 && i != s2 {
			rest = append(rest, e)
		}
	}

	for len(rest) > 0 {
		// If one group needs every remaining entry to reach the minimum,
		// it gets them all.
		if len(a)+len(rest) <= ix.minFanout {
			a = append(a, rest...)
			break
		}
		if len(b)+len(rest) <= ix.minFanout {
			b = append(b, rest...)
			break
		}

		i := pickNext(rest, boxA, boxB)
		e := rest[i]
		rest = append(rest[:i], rest[i+1:]...)

		enlA := boxA.Union(e.box).Area() - boxA.Area()
		enlB := boxB.Union(e.box).Area() - boxB.Area()
		toA := enlA < enlB || (enlA == enlB && len(a) <= len(b))
		if toA {
			a = append(a, e)
			boxA = boxA.Union(e.box)
		} else {
			b = append(b, e)
			boxB = boxB.Union(e.box)
		}
	}

	n.entries = a
	return &node[T]{leaf: n.leaf, entries: b}
}

// pickSeeds returns the pair of entries that would waste the most area if
// placed in the same group.
func pickSeeds[T domain.Bounded](entries []entry[T]) (int, int) {
	s1, s2 := 0, 1
	worst := math.Inf(-1)
	for i := 0; i < len(entries); i++ {
		for j := i + 1; j < len(entries); j++ {
			bi, bj := entries[i].box, entries[j].box
			d := bi.Union(bj).Area() - bi.Area() - bj.Area()
			if d > worst {
				s1, s2, worst = i, j, d
			}
		}
	}
	return s1, s2
}

// pickNext returns the entry with the strongest preference for one group.
func pickNext[T domain.Bounded](rest []entry[T], boxA, boxB domain.BoundingBox) int {
	best := 0
	bestDiff := -1.0
	areaA, areaB := boxA.Area(), boxB.Area()
	for i, e := range rest {
		dA := boxA.Union(e.box).Area() - areaA
		dB := boxB.Union(e.box).Area() - areaB
		diff := dA - dB
		if diff < 0 {
			diff = -diff
		}
		if diff > bestDiff {
			best, bestDiff = i, diff
		}
	}
	return best
}
