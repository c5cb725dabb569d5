// Copyright 2023-2026 The GoMLX Authors. SPDX-License-Identifier: Apache-2.0

// Package trees defines Tree, a named, ordered collection of leaf values.
//
// A Tree[T] represents the structure of one training example (or batch): each
// leaf is a named field ("inputs", "targets", ...), and the field order is part
// of the structure. The same Tree structure is used with different leaf types
// along the pipeline: raw host tensors, declared global shapes, sharding specs
// and assembled distributed tensors.
//
// Map (and Map2) apply a function to every leaf, preserving names and order,
// which is the only traversal the pipeline needs.
package trees

import (
	"fmt"
	"strings"

	"github.com/gomlx/exceptions"
	"github.com/pkg/errors"
)

// Tree is a named, ordered collection of leaves of type T.
//
// The zero value is not usable, use New. Trees are append-only: leaves are
// added with Add and never removed, so a Tree built once can be shared
// read-only.
type Tree[T any] struct {
	names  []string
	leaves []T
	index  map[string]int
}

// New creates an empty Tree.
func New[T any]() *Tree[T] {
	return &Tree[T]{index: make(map[string]int)}
}

// Add appends a named leaf. It returns the Tree to allow chaining.
// It panics if the name is duplicated -- field names identify leaves.
func (t *Tree[T]) Add(name string, leaf T) *Tree[T] {
	if _, found := t.index[name]; found {
		exceptions.Panicf("trees.Add(%q): field name already in use", name)
	}
	t.index[name] = len(t.names)
	t.names = append(t.names, name)
	t.leaves = append(t.leaves, leaf)
	return t
}

// NumLeaves returns the number of leaves.
func (t *Tree[T]) NumLeaves() int { return len(t.names) }

// Names returns the field names, in order. The returned slice is owned by the Tree.
func (t *Tree[T]) Names() []string { return t.names }

// Leaves returns the leaf values, in field order. The returned slice is owned by the Tree.
func (t *Tree[T]) Leaves() []T { return t.leaves }

// Get returns the leaf with the given name.
func (t *Tree[T]) Get(name string) (leaf T, found bool) {
	idx, found := t.index[name]
	if !found {
		return
	}
	return t.leaves[idx], true
}

// At returns the i-th field name and leaf.
func (t *Tree[T]) At(i int) (name string, leaf T) {
	return t.names[i], t.leaves[i]
}

// Structure returns a compact description of the field names, used in error messages.
func (t *Tree[T]) Structure() string {
	return "{" + strings.Join(t.names, ", ") + "}"
}

// String implements fmt.Stringer.
func (t *Tree[T]) String() string {
	var sb strings.Builder
	sb.WriteString("Tree{")
	for i, name := range t.names {
		if i > 0 {
			sb.WriteString(", ")
		}
		_, _ = fmt.Fprintf(&sb, "%s: %v", name, any(t.leaves[i]))
	}
	sb.WriteString("}")
	return sb.String()
}

// SameStructure checks that two trees have identical field names in identical
// order, returning a descriptive error otherwise.
func SameStructure[A, B any](a *Tree[A], b *Tree[B]) error {
	if a.NumLeaves() != b.NumLeaves() {
		return errors.Errorf("trees have different structures: %s vs %s", a.Structure(), b.Structure())
	}
	for i, name := range a.names {
		if b.names[i] != name {
			return errors.Errorf("trees have different structures: %s vs %s", a.Structure(), b.Structure())
		}
	}
	return nil
}

// Map applies fn to every leaf of t, preserving names and order.
// The first leaf error aborts the traversal.
func Map[A, B any](t *Tree[A], fn func(name string, leaf A) (B, error)) (*Tree[B], error) {
	out := New[B]()
	for i, name := range t.names {
		mapped, err := fn(name, t.leaves[i])
		if err != nil {
			return nil, errors.WithMessagef(err, "mapping leaf %q", name)
		}
		out.Add(name, mapped)
	}
	return out, nil
}

// Map2 applies fn to corresponding leaves of two trees with the same structure,
// preserving names and order.
func Map2[A, B, C any](a *Tree[A], b *Tree[B], fn func(name string, leafA A, leafB B) (C, error)) (*Tree[C], error) {
	if err := SameStructure(a, b); err != nil {
		return nil, err
	}
	out := New[C]()
	for i, name := range a.names {
		mapped, err := fn(name, a.leaves[i], b.leaves[i])
		if err != nil {
			return nil, errors.WithMessagef(err, "mapping leaf %q", name)
		}
		out.Add(name, mapped)
	}
	return out, nil
}
