// Package aggregator implements the tree-walk boolean evaluator shared by
// the Direct, Known-hosts, and top-level grammar backends: a post-order,
// strictly left-to-right evaluation over a parsed element tree, with
// parentheses as the only grouping device (no operator precedence).
package aggregator

import (
	"fmt"

	"github.com/jross/cumin-go/internal/hostset"
	"github.com/jross/cumin-go/internal/runerrors"
)

// Op identifies how an element combines with the accumulator of its
// preceding siblings.
type Op int

const (
	OpNone Op = iota
	OpOr
	OpAnd
	OpAndNot
	OpXor
)

func (o Op) String() string {
	switch o {
	case OpNone:
		return "none"
	case OpOr:
		return "or"
	case OpAnd:
		return "and"
	case OpAndNot:
		return "and not"
	case OpXor:
		return "xor"
	default:
		return "?"
	}
}

// Element is one node of the parse tree, stored in a flat arena: the
// parent/children back-references are indices, not pointers, so the tree
// carries no reference cycles and needs no GC-visible back-pointers.
type Element struct {
	Hosts    *hostset.HostSet // set for a leaf; nil for an interior node
	Children []int
	Parent   int // -1 for the root
	Op       Op
}

// Tree is an arena of Elements with a designated root.
type Tree struct {
	Elements []Element
	Root     int
}

// NewTree returns an empty tree: no elements, and Root set to -1.
func NewTree() *Tree {
	return &Tree{Root: -1}
}

// newNode appends an element and returns its index.
func (t *Tree) newNode(parent int, op Op) int {
	idx := len(t.Elements)
	t.Elements = append(t.Elements, Element{Parent: parent, Op: op})
	if parent >= 0 {
		t.Elements[parent].Children = append(t.Elements[parent].Children, idx)
	}
	return idx
}

// NewInterior adds an interior (aggregating) node under parent (-1 for
// root) combined via op, and returns its index.
func (t *Tree) NewInterior(parent int, op Op) int {
	idx := t.newNode(parent, op)
	if parent < 0 {
		t.Root = idx
	}
	return idx
}

// NewLeaf adds a leaf node holding hosts under parent, combined via op.
func (t *Tree) NewLeaf(parent int, op Op, hosts *hostset.HostSet) int {
	idx := t.newNode(parent, op)
	t.Elements[idx].Hosts = hosts
	if parent < 0 {
		t.Root = idx
	}
	return idx
}

// Evaluate performs the post-order, left-to-right walk described in §4.2:
// for each interior node, seed the accumulator with the first child's
// result, then fold in each subsequent child via its recorded Op.
func (t *Tree) Evaluate() (*hostset.HostSet, error) {
	if t.Root < 0 {
		return hostset.New(), nil
	}
	return t.evalNode(t.Root)
}

func (t *Tree) evalNode(idx int) (*hostset.HostSet, error) {
	el := t.Elements[idx]
	if el.Hosts != nil && len(el.Children) == 0 {
		return el.Hosts, nil
	}
	if len(el.Children) == 0 {
		return hostset.New(), nil
	}

	var acc *hostset.HostSet
	for i, childIdx := range el.Children {
		child := t.Elements[childIdx]
		childResult, err := t.evalNode(childIdx)
		if err != nil {
			return nil, err
		}
		if i == 0 {
			if child.Op != OpNone {
				return nil, &runerrors.TransitionError{Host: "<aggregator>", From: "first-sibling", To: child.Op.String()}
			}
			acc = childResult
			continue
		}
		if child.Op == OpNone {
			return nil, &runerrors.TransitionError{Host: "<aggregator>", From: "non-first-sibling", To: "none"}
		}
		switch child.Op {
		case OpOr:
			acc = hostset.Union(acc, childResult)
		case OpAnd:
			acc = hostset.Intersect(acc, childResult)
		case OpAndNot:
			acc = hostset.Difference(acc, childResult)
		case OpXor:
			acc = hostset.SymmetricDifference(acc, childResult)
		default:
			return nil, fmt.Errorf("aggregator: unknown operator %v", child.Op)
		}
	}
	return acc, nil
}
