// Package ot implements the operational-transformation algebra shared by the
// server and the client editor: operations, composition, transformation, and
// cursor transport, all measured in UTF-16 code units to match the
// browser-side editor's notion of position.
package ot

import (
	"fmt"
	"unicode/utf16"
)

// Component is a single step in an OT operation.
// Exactly one field should be set: a positive Retain, a positive Delete, or
// a non-empty Insert. Retain and Delete are counted in UTF-16 code units.
type Component struct {
	Retain int    `json:"retain,omitempty"` // keep N UTF-16 units unchanged
	Insert string `json:"insert,omitempty"` // insert text at cursor
	Delete int    `json:"delete,omitempty"` // remove N UTF-16 units at cursor
}

func (c Component) IsRetain() bool { return c.Retain > 0 && c.Insert == "" && c.Delete == 0 }
func (c Component) IsInsert() bool { return c.Insert != "" }
func (c Component) IsDelete() bool { return c.Delete > 0 && c.Insert == "" }

// Operation is a sequence of components that transforms a document.
// Components are applied left-to-right, advancing a cursor through the
// input measured in UTF-16 code units.
type Operation struct {
	Ops []Component `json:"ops"`
}

// utf16Len returns the length of s in UTF-16 code units.
func utf16Len(s string) int {
	n := 0
	for _, r := range s {
		if r > 0xFFFF {
			n += 2
		} else {
			n++
		}
	}
	return n
}

// sliceUTF16 returns the UTF-16 substring of s spanning [start, end) units.
func sliceUTF16(s string, start, end int) string {
	u := utf16.Encode([]rune(s))
	return string(utf16.Decode(u[start:end]))
}

// BaseLen returns the expected input document length, in UTF-16 units.
func (op Operation) BaseLen() int {
	n := 0
	for _, c := range op.Ops {
		if c.IsRetain() {
			n += c.Retain
		} else if c.IsDelete() {
			n += c.Delete
		}
	}
	return n
}

// TargetLen returns the document length after the operation is applied, in
// UTF-16 units.
func (op Operation) TargetLen() int {
	n := 0
	for _, c := range op.Ops {
		if c.IsRetain() {
			n += c.Retain
		} else if c.IsInsert() {
			n += utf16Len(c.Insert)
		}
	}
	return n
}

// IsNoop returns true if the operation makes no changes.
func (op Operation) IsNoop() bool {
	for _, c := range op.Ops {
		if c.IsInsert() || c.IsDelete() {
			return false
		}
	}
	return true
}

// Apply applies the operation to a document string. Length is measured and
// walked in UTF-16 code units, not bytes or runes.
func Apply(doc string, op Operation) (string, error) {
	doc16 := utf16.Encode([]rune(doc))
	if len(doc16) != op.BaseLen() {
		return "", fmt.Errorf("document length %d != operation base length %d", len(doc16), op.BaseLen())
	}
	var out []uint16
	pos := 0
	for _, c := range op.Ops {
		switch {
		case c.IsRetain():
			out = append(out, doc16[pos:pos+c.Retain]...)
			pos += c.Retain
		case c.IsInsert():
			out = append(out, utf16.Encode([]rune(c.Insert))...)
		case c.IsDelete():
			pos += c.Delete
		}
	}
	return string(utf16.Decode(out)), nil
}

// Canonicalize merges adjacent components of the same kind and drops
// zero-length components. Equality between operations is defined modulo
// canonicalization; a trailing Retain is permitted but never required.
func (op Operation) Canonicalize() Operation {
	var result []Component
	for _, c := range op.Ops {
		if c.Retain == 0 && c.Insert == "" && c.Delete == 0 {
			continue
		}
		if len(result) == 0 {
			result = append(result, c)
			continue
		}
		last := &result[len(result)-1]
		switch {
		case c.IsRetain() && last.IsRetain():
			last.Retain += c.Retain
		case c.IsDelete() && last.IsDelete():
			last.Delete += c.Delete
		case c.IsInsert() && last.IsInsert():
			last.Insert += c.Insert
		default:
			result = append(result, c)
		}
	}
	return Operation{Ops: result}
}

// NewInsert creates an operation that inserts text at pos (UTF-16 units) in
// a document of docLen (UTF-16 units).
func NewInsert(pos int, text string, docLen int) Operation {
	var ops []Component
	if pos > 0 {
		ops = append(ops, Component{Retain: pos})
	}
	ops = append(ops, Component{Insert: text})
	if remaining := docLen - pos; remaining > 0 {
		ops = append(ops, Component{Retain: remaining})
	}
	return Operation{Ops: ops}
}

// NewDelete creates an operation that deletes count units at pos in a
// document of docLen units.
func NewDelete(pos, count, docLen int) Operation {
	var ops []Component
	if pos > 0 {
		ops = append(ops, Component{Retain: pos})
	}
	ops = append(ops, Component{Delete: count})
	if remaining := docLen - pos - count; remaining > 0 {
		ops = append(ops, Component{Retain: remaining})
	}
	return Operation{Ops: ops}
}
