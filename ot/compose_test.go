package ot

import "testing"

func TestCompose(t *testing.T) {
	tests := []struct {
		name string
		doc  string
		a, b Operation
		want string
	}{
		{
			"insert then insert",
			"hello",
			NewInsert(0, "X", 5), // "Xhello"
			NewInsert(6, "!", 6), // "Xhello!"
			"Xhello!",
		},
		{
			"insert then delete the inserted text",
			"hello",
			NewInsert(0, "XXX", 5), // "XXXhello"
			NewDelete(0, 3, 8),     // "hello"
			"hello",
		},
		{
			"delete then insert",
			"hello",
			NewDelete(0, 2, 5),   // "llo"
			NewInsert(0, "Y", 3), // "Yllo"
			"Yllo",
		},
		{
			"retain only composed with retain only",
			"hello",
			Operation{[]Component{{Retain: 5}}},
			Operation{[]Component{{Retain: 5}}},
			"hello",
		},
		{
			"delete then delete",
			"hello world",
			NewDelete(0, 6, 11), // "world"
			NewDelete(0, 1, 5),  // "orld"
			"orld",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			composed, err := Compose(tt.a, tt.b)
			if err != nil {
				t.Fatalf("Compose() error: %v", err)
			}

			viaCompose, err := Apply(tt.doc, composed)
			if err != nil {
				t.Fatalf("Apply(doc, composed) error: %v", err)
			}

			afterA, err := Apply(tt.doc, tt.a)
			if err != nil {
				t.Fatalf("Apply(doc, a) error: %v", err)
			}
			viaSequential, err := Apply(afterA, tt.b)
			if err != nil {
				t.Fatalf("Apply(afterA, b) error: %v", err)
			}

			if viaCompose != viaSequential {
				t.Errorf("Compose diverges from sequential apply: composed=%q, sequential=%q", viaCompose, viaSequential)
			}
			if viaCompose != tt.want {
				t.Errorf("got %q, want %q", viaCompose, tt.want)
			}
		})
	}
}

func TestCompose_ErrorOnLengthMismatch(t *testing.T) {
	a := NewInsert(0, "x", 5)
	b := NewInsert(0, "y", 3)
	_, err := Compose(a, b)
	if err == nil {
		t.Error("expected error when b's base length does not match a's target length")
	}
}
