package ot

import "fmt"

// Transform takes two concurrent operations a and b (both applied to the same
// document state) and returns aPrime and bPrime such that:
//
//	Apply(Apply(doc, a), bPrime) == Apply(Apply(doc, b), aPrime)
//
// Concurrent inserts at the same offset are broken deterministically: a's
// insertion is placed before b's insertion in the reconciled state.
func Transform(a, b Operation) (aPrime, bPrime Operation, err error) {
	if a.BaseLen() != b.BaseLen() {
		return Operation{}, Operation{}, fmt.Errorf(
			"base lengths differ: a=%d, b=%d", a.BaseLen(), b.BaseLen())
	}

	var ap, bp []Component
	ia := newIter(a.Ops)
	ib := newIter(b.Ops)

	for ia.hasNext() || ib.hasNext() {
		// Both insert: a goes first (tie-break).
		if ia.peekType() == compInsert && ib.peekType() == compInsert {
			c := ia.take(ia.peekLen())
			ap = append(ap, Component{Insert: c.Insert})
			bp = append(bp, Component{Retain: utf16Len(c.Insert)})
			continue
		}
		// Only a inserts.
		if ia.peekType() == compInsert {
			c := ia.take(ia.peekLen())
			ap = append(ap, Component{Insert: c.Insert})
			bp = append(bp, Component{Retain: utf16Len(c.Insert)})
			continue
		}
		// Only b inserts.
		if ib.peekType() == compInsert {
			c := ib.take(ib.peekLen())
			bp = append(bp, Component{Insert: c.Insert})
			ap = append(ap, Component{Retain: utf16Len(c.Insert)})
			continue
		}

		// Both consume input. Take the shorter chunk.
		if !ia.hasNext() || !ib.hasNext() {
			return Operation{}, Operation{}, fmt.Errorf("transform ran out of operations")
		}

		n := min(ia.peekLen(), ib.peekLen())
		ca := ia.take(n)
		cb := ib.take(n)

		switch {
		case ca.IsRetain() && cb.IsRetain():
			ap = append(ap, Component{Retain: n})
			bp = append(bp, Component{Retain: n})
		case ca.IsDelete() && cb.IsRetain():
			ap = append(ap, Component{Delete: n})
		case ca.IsRetain() && cb.IsDelete():
			bp = append(bp, Component{Delete: n})
		case ca.IsDelete() && cb.IsDelete():
			// Both delete the same units — nothing survives for either side.
		}
	}

	return Operation{Ops: ap}.Canonicalize(), Operation{Ops: bp}.Canonicalize(), nil
}

// compType identifies a component kind for the iterator.
type compType int

const (
	compNone compType = iota
	compRetain
	compInsert
	compDelete
)

// iter walks through operation components, allowing partial consumption.
// Offsets are counted in UTF-16 code units.
type iter struct {
	ops    []Component
	index  int
	offset int
}

func newIter(ops []Component) *iter {
	return &iter{ops: ops}
}

func (it *iter) hasNext() bool {
	return it.index < len(it.ops)
}

func (it *iter) peekType() compType {
	if !it.hasNext() {
		return compNone
	}
	c := it.ops[it.index]
	switch {
	case c.IsInsert():
		return compInsert
	case c.IsDelete():
		return compDelete
	default:
		return compRetain
	}
}

func (it *iter) peekLen() int {
	if !it.hasNext() {
		return 0
	}
	c := it.ops[it.index]
	switch {
	case c.IsRetain():
		return c.Retain - it.offset
	case c.IsInsert():
		return utf16Len(c.Insert) - it.offset
	case c.IsDelete():
		return c.Delete - it.offset
	}
	return 0
}

// take consumes exactly n UTF-16 units from the current component and
// advances past it once exhausted.
func (it *iter) take(n int) Component {
	c := it.ops[it.index]
	remaining := it.peekLen()

	switch {
	case c.IsRetain():
		if n >= remaining {
			it.index++
			it.offset = 0
			return Component{Retain: remaining}
		}
		it.offset += n
		return Component{Retain: n}

	case c.IsInsert():
		if n >= remaining {
			s := sliceUTF16(c.Insert, it.offset, it.offset+remaining)
			it.index++
			it.offset = 0
			return Component{Insert: s}
		}
		s := sliceUTF16(c.Insert, it.offset, it.offset+n)
		it.offset += n
		return Component{Insert: s}

	case c.IsDelete():
		if n >= remaining {
			it.index++
			it.offset = 0
			return Component{Delete: remaining}
		}
		it.offset += n
		return Component{Delete: n}
	}

	it.index++
	return Component{}
}

func min(a, b int) int {
	if a < b {
		return a
	}
	return b
}
