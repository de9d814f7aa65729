package spatial

import (
	"fmt"

	"github.com/samirrijal/mapoverlay/internal/core/domain"
)

// Snapshot is the exported node graph of an Index. Items share storage with
// the index; boxes and node slices are copies.
type Snapshot[T domain.Bounded] struct {
	MinFanout int
	MaxFanout int
	Count     int
	Root      *SnapshotNode[T] // nil for an empty index
}

// SnapshotNode mirrors one tree node. Leaf nodes fill Items, internal nodes
// fill Children; Boxes is parallel to whichever is set.
type SnapshotNode[T domain.Bounded] struct {
	Leaf     bool
	Boxes    []domain.BoundingBox
	Items    []T
	Children []*SnapshotNode[T]
}

// Snapshot exports the current tree.
func (ix *Index[T]) Snapshot() Snapshot[T] {
	s := Snapshot[T]{MinFanout: ix.minFanout, MaxFanout: ix.maxFanout, Count: ix.size}
	if ix.root != nil && ix.size > 0 {
		s.Root = exportNode(ix.root)
	}
	return s
}

func exportNode[T domain.Bounded](n *node[T]) *SnapshotNode[T] {
	out := &SnapshotNode[T]{Leaf: n.leaf, Boxes: make([]domain.BoundingBox, len(n.entries))}
	for i, e := range n.entries {
		out.Boxes[i] = e.box
		if n.leaf {
			out.Items = append(out.Items, e.item)
		} else {
			out.Children = append(out.Children, exportNode(e.child))
		}
	}
	return out
}

// FromSnapshot rebuilds an index from a node graph after checking that the
// graph satisfies the tree invariants: fanout bounds, exact MBRs, uniform
// leaf depth and a matching object count.
func FromSnapshot[T domain.Bounded](s Snapshot[T]) (*Index[T], error) {
	ix, err := New[T](s.MinFanout, s.MaxFanout)
	if err != nil {
		return nil, err
	}
	if s.Root == nil {
		if s.Count != 0 {
			return nil, fmt.Errorf("empty root with count %d", s.Count)
		}
		return ix, nil
	}

	leafDepth := -1
	root, err := ix.importNode(s.Root, 0, &leafDepth)
	if err != nil {
		return nil, err
	}
	ix.root = root
	if ix.size != s.Count {
		return nil, fmt.Errorf("count mismatch: header %d, tree %d", s.Count, ix.size)
	}
	return ix, nil
}

func (ix *Index[T]) importNode(sn *SnapshotNode[T], depth int, leafDepth *int) (*node[T], error) {
	n := &node[T]{leaf: sn.Leaf}
	want := len(sn.Children)
	if sn.Leaf {
		want = len(sn.Items)
		if sn.Children != nil {
			return nil, fmt.Errorf("leaf at depth %d has children", depth)
		}
	} else if sn.Items != nil {
		return nil, fmt.Errorf("internal node at depth %d has items", depth)
	}
	if len(sn.Boxes) != want {
		return nil, fmt.Errorf("node at depth %d: %d boxes for %d entries", depth, len(sn.Boxes), want)
	}
	if want > ix.maxFanout || (depth > 0 && want < ix.minFanout) || want == 0 {
		return nil, fmt.Errorf("node at depth %d has %d entries", depth, want)
	}
	if depth == 0 && !sn.Leaf && want < 2 {
		return nil, fmt.Errorf("internal root has %d entries", want)
	}

	if sn.Leaf {
		if *leafDepth == -1 {
			*leafDepth = depth
		} else if *leafDepth != depth {
			return nil, fmt.Errorf("leaf at depth %d, expected %d", depth, *leafDepth)
		}
		for i, item := range sn.Items {
			if item.Bounds() != sn.Boxes[i] {
				return nil, fmt.Errorf("leaf entry box %s does not match object box %s", sn.Boxes[i], item.Bounds())
			}
			n.entries = append(n.entries, entry[T]{box: sn.Boxes[i], item: item})
		}
		ix.size += len(sn.Items)
		return n, nil
	}

	for i, c := range sn.Children {
		child, err := ix.importNode(c, depth+1, leafDepth)
		if err != nil {
			return nil, err
		}
		if child.bound() != sn.Boxes[i] {
			return nil, fmt.Errorf("entry box %s is not the MBR %s of its child", sn.Boxes[i], child.bound())
		}
		n.entries = append(n.entries, entry[T]{box: sn.Boxes[i], child: child})
	}
	return n, nil
}

// Rebuild returns a new index with the given fanout holding the same objects.
func Rebuild[T domain.Bounded](src *Index[T], minFanout, maxFanout int) (*Index[T], error) {
	ix, err := New[T](minFanout, maxFanout)
	if err != nil {
		return nil, err
	}
	for item := range src.QueryAll() {
		if err := ix.Insert(item); err != nil {
			return nil, err
		}
	}
	return ix, nil
}
