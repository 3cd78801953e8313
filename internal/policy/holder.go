package policy

import (
	"fmt"
	"sync/atomic"
)

// Source hands out the tree to evaluate against. Each call returns a complete
// snapshot; callers must not modify it.
type Source interface {
	Tree() *Node
}

// Static is a Source that always returns the same tree.
type Static struct{ Root *Node }

func (s Static) Tree() *Node { return s.Root }

// Holder is a Source whose tree can be replaced at runtime. Swaps are atomic:
// an evaluation that already holds the old tree keeps walking it.
type Holder struct {
	root atomic.Pointer[Node]
}

// NewHolder returns a Holder seeded with root, which must be valid.
func NewHolder(root *Node) (*Holder, error) {
	if err := Validate(root); err != nil {
		return nil, err
	}
	h := &Holder{}
	h.root.Store(root)
	return h, nil
}

// Tree returns the current tree.
func (h *Holder) Tree() *Node { return h.root.Load() }

// Swap validates next and installs it. On error the current tree is kept.
func (h *Holder) Swap(next *Node) error {
	if err := Validate(next); err != nil {
		return fmt.Errorf("policy: swap rejected: %w", err)
	}
	h.root.Store(next)
	return nil
}
