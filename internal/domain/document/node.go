// Package document models the FHIR document tree built during transformation
// of a single source row. The tree is a tagged union of object, array and
// scalar nodes; object keys keep insertion order so the serialized resource is
// stable for downstream consumers.
package document

import (
	"bytes"
	"encoding/json"
	"fmt"
	"sort"
)

// Node is one vertex of a document tree: *Object, *Array or *Scalar.
type Node interface {
	json.Marshaler
	clone() Node
}

// Object is an insertion-ordered map of string keys to child nodes.
type Object struct {
	keys     []string
	children map[string]Node
}

func NewObject() *Object {
	return &Object{children: make(map[string]Node)}
}

// Set stores a child under key. A new key is appended after all existing
// keys; an existing key keeps its position.
func (o *Object) Set(key string, n Node) {
	if _, ok := o.children[key]; !ok {
		o.keys = append(o.keys, key)
	}
	o.children[key] = n
}

func (o *Object) Get(key string) (Node, bool) {
	n, ok := o.children[key]
	return n, ok
}

func (o *Object) Len() int { return len(o.keys) }

// Keys returns the object's keys in insertion order.
func (o *Object) Keys() []string {
	out := make([]string, len(o.keys))
	copy(out, o.keys)
	return out
}

func (o *Object) clone() Node {
	c := NewObject()
	for _, k := range o.keys {
		c.Set(k, o.children[k].clone())
	}
	return c
}

func (o *Object) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	for i, k := range o.keys {
		if i > 0 {
			buf.WriteByte(',')
		}
		kb, err := json.Marshal(k)
		if err != nil {
			return nil, err
		}
		buf.Write(kb)
		buf.WriteByte(':')
		vb, err := json.Marshal(o.children[k])
		if err != nil {
			return nil, err
		}
		buf.Write(vb)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// Array is a list of child nodes. Assigning past the current length pads the
// gap with empty objects.
type Array struct {
	items []Node
}

func NewArray() *Array { return &Array{} }

func (a *Array) Len() int { return len(a.items) }

func (a *Array) At(i int) Node { return a.items[i] }

func (a *Array) Append(n Node) { a.items = append(a.items, n) }

// SetAt stores n at index i, padding any gap with empty objects.
func (a *Array) SetAt(i int, n Node) {
	a.ensure(i)
	a.items[i] = n
}

// EnsureLen pads the array with empty objects until it holds at least n items.
func (a *Array) EnsureLen(n int) {
	if n > 0 {
		a.ensure(n - 1)
	}
}

// ensure pads the array with empty objects until index i exists.
func (a *Array) ensure(i int) {
	for len(a.items) <= i {
		a.items = append(a.items, NewObject())
	}
}

func (a *Array) clone() Node {
	c := NewArray()
	for _, it := range a.items {
		c.items = append(c.items, it.clone())
	}
	return c
}

func (a *Array) MarshalJSON() ([]byte, error) {
	if a.items == nil {
		return []byte("[]"), nil
	}
	return json.Marshal(a.items)
}

// Scalar is a leaf value (string, number, bool or nil).
type Scalar struct {
	Value any
}

func NewScalar(v any) *Scalar { return &Scalar{Value: v} }

func (s *Scalar) clone() Node { return &Scalar{Value: s.Value} }

func (s *Scalar) MarshalJSON() ([]byte, error) {
	return json.Marshal(s.Value)
}

// FromValue converts a plain Go value (as produced by encoding/json decoding,
// e.g. mapping defaults and constants) into a node tree.
func FromValue(v any) Node {
	switch t := v.(type) {
	case Node:
		return t.clone()
	case map[string]any:
		o := NewObject()
		// Decoded JSON maps lose declaration order; sort so repeated runs
		// serialize identically.
		keys := make([]string, 0, len(t))
		for k := range t {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		for _, k := range keys {
			o.Set(k, FromValue(t[k]))
		}
		return o
	case []any:
		a := NewArray()
		for _, child := range t {
			a.Append(FromValue(child))
		}
		return a
	default:
		return NewScalar(v)
	}
}

// AsValue converts a node tree back into plain Go values
// (map[string]any / []any / scalars), losing key order.
func AsValue(n Node) any {
	switch t := n.(type) {
	case *Object:
		m := make(map[string]any, t.Len())
		for _, k := range t.keys {
			m[k] = AsValue(t.children[k])
		}
		return m
	case *Array:
		out := make([]any, 0, t.Len())
		for _, it := range t.items {
			out = append(out, AsValue(it))
		}
		return out
	case *Scalar:
		return t.Value
	default:
		return nil
	}
}

// String renders the tree as compact JSON; used in diagnostics.
func String(n Node) string {
	b, err := json.Marshal(n)
	if err != nil {
		return fmt.Sprintf("<unmarshalable: %v>", err)
	}
	return string(b)
}
