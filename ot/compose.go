package ot

import "fmt"

// Compose merges two sequential operations a then b into a single operation
// equivalent to applying a followed by b:
//
//	Apply(Apply(doc, a), b) == Apply(doc, Compose(a, b))
//
// b's base length must equal a's target length.
func Compose(a, b Operation) (Operation, error) {
	if a.TargetLen() != b.BaseLen() {
		return Operation{}, fmt.Errorf(
			"compose: a's target length %d != b's base length %d", a.TargetLen(), b.BaseLen())
	}

	var out []Component
	ia := newIter(a.Ops)
	ib := newIter(b.Ops)

	for ia.hasNext() || ib.hasNext() {
		// a's deletion never reaches b's input stream — pass it through whole.
		if ia.peekType() == compDelete {
			c := ia.take(ia.peekLen())
			out = append(out, Component{Delete: c.Delete})
			continue
		}
		// b's insertion has no corresponding input in a — pass it through whole.
		if ib.peekType() == compInsert {
			c := ib.take(ib.peekLen())
			out = append(out, Component{Insert: c.Insert})
			continue
		}

		if !ia.hasNext() || !ib.hasNext() {
			return Operation{}, fmt.Errorf("compose: operand exhausted early")
		}

		n := min(ia.peekLen(), ib.peekLen())
		ca := ia.take(n)
		cb := ib.take(n)

		switch {
		case ca.IsInsert() && cb.IsRetain():
			out = append(out, Component{Insert: ca.Insert})
		case ca.IsInsert() && cb.IsDelete():
			// Inserted text is immediately deleted; contributes nothing.
		case ca.IsRetain() && cb.IsRetain():
			out = append(out, Component{Retain: n})
		case ca.IsRetain() && cb.IsDelete():
			out = append(out, Component{Delete: n})
		}
	}

	return Operation{Ops: out}.Canonicalize(), nil
}
