package document

import (
	"errors"
	"fmt"
	"sort"
	"strconv"
	"strings"
)

// ErrTypeMismatch is returned when a path expression expects an array where
// the tree already holds an object, or vice versa.
var ErrTypeMismatch = errors.New("path type mismatch")

// SetValue materializes the intermediate nodes of path under root and writes
// value at the leaf. Path segments are separated by dots, with optional
// trailing [n] index notation, e.g. "telecom[0].value" or "name[0]".
//
// Walking left to right: a numeric token indexes the current node, which must
// already be an array; indexing past the end pads with empty objects. A
// non-numeric token is an object key; the key is created as an array when the
// next token is numeric, as an object otherwise. The value is deep-copied on
// assignment, so callers may reuse node trees.
func SetValue(root *Object, path string, value Node) error {
	cleaned := strings.ReplaceAll(path, "]", "")
	parts := strings.FieldsFunc(cleaned, func(r rune) bool {
		return r == '.' || r == '['
	})
	if len(parts) == 0 {
		return fmt.Errorf("empty path %q", path)
	}

	var current Node = root
	trace := make([]string, 0, len(parts))

	for i, part := range parts {
		last := i == len(parts)-1
		trace = append(trace, part)

		if idx, err := strconv.Atoi(part); err == nil {
			arr, ok := current.(*Array)
			if !ok {
				return fmt.Errorf("%w: expected array at %q in path %q", ErrTypeMismatch, strings.Join(trace, "."), path)
			}
			arr.ensure(idx)
			if last {
				arr.items[idx] = value.clone()
				return nil
			}
			current = arr.items[idx]
			continue
		}

		obj, ok := current.(*Object)
		if !ok {
			return fmt.Errorf("%w: expected object at %q in path %q", ErrTypeMismatch, strings.Join(trace, "."), path)
		}

		if last {
			obj.Set(part, value.clone())
			return nil
		}

		nextNumeric := false
		if _, err := strconv.Atoi(parts[i+1]); err == nil {
			nextNumeric = true
		}

		child, exists := obj.Get(part)
		if !exists {
			if nextNumeric {
				child = NewArray()
			} else {
				child = NewObject()
			}
			obj.Set(part, child)
		} else if nextNumeric {
			if _, isArr := child.(*Array); !isArr {
				return fmt.Errorf("%w: expected array at %q in path %q", ErrTypeMismatch, strings.Join(trace, "."), path)
			}
		}
		current = child
	}

	return nil
}

// Lookup resolves a path expression against root without mutating the tree.
func Lookup(root *Object, path string) (Node, bool) {
	cleaned := strings.ReplaceAll(path, "]", "")
	parts := strings.FieldsFunc(cleaned, func(r rune) bool {
		return r == '.' || r == '['
	})

	var current Node = root
	for _, part := range parts {
		if idx, err := strconv.Atoi(part); err == nil {
			arr, ok := current.(*Array)
			if !ok || idx >= arr.Len() {
				return nil, false
			}
			current = arr.At(idx)
			continue
		}
		obj, ok := current.(*Object)
		if !ok {
			return nil, false
		}
		child, exists := obj.Get(part)
		if !exists {
			return nil, false
		}
		current = child
	}
	return current, true
}

// ApplyConstants writes every mapping constant into the tree via SetValue.
// Paths are applied in sorted order so repeated runs build identical trees.
func ApplyConstants(root *Object, constants map[string]any) error {
	paths := make([]string, 0, len(constants))
	for p := range constants {
		paths = append(paths, p)
	}
	sort.Strings(paths)

	for _, p := range paths {
		if err := SetValue(root, p, FromValue(constants[p])); err != nil {
			return fmt.Errorf("apply constant %q: %w", p, err)
		}
	}
	return nil
}
