package ot

import "fmt"

// Document is the materialized, revisioned view of one session's operation
// log: the current text, the revision it's at, and every operation that
// produced it, in order. Version is its own field: Apply advances it by
// exactly one each time it appends to History, so a Document started from
// NewDocument keeps Version equal to len(History).
type Document struct {
	Content string
	Version int
	History []Operation
}

// NewDocument creates a new document with the given initial content, at
// revision 0.
func NewDocument(content string) *Document {
	return &Document{Content: content}
}

// Apply runs op against the document's current content and, on success,
// commits it: the content advances, the revision increments by exactly one,
// and op is appended to History.
//
// This happens unconditionally, even when op is a pure Retain with no
// Insert or Delete — a rebased operation that cancels out (two
// participants deleting the same span concurrently, transformed against
// each other) is still an accepted submission and still consumes a
// revision number, same as any other. A caller keeping its own log of
// accepted operations alongside a Document must append to it exactly when
// Apply succeeds, with no separate no-op filter, or the two will disagree
// about what revision they're at.
func (d *Document) Apply(op Operation) error {
	result, err := Apply(d.Content, op)
	if err != nil {
		return fmt.Errorf("apply to document v%d: %w", d.Version, err)
	}
	d.Content = result
	d.Version++
	d.History = append(d.History, op)
	return nil
}
