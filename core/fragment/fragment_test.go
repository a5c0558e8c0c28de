package fragment

import (
	"bytes"
	"math/rand"
	"testing"

	"github.com/kabili207/dronenet-go/core/wire"
)

func TestSplitEmptyPayload(t *testing.T) {
	fragments := Split(nil)
	if len(fragments) != 1 {
		t.Fatalf("Split(nil) produced %d fragments, want 1", len(fragments))
	}
	if fragments[0].Length != 0 || fragments[0].TotalFragments != 1 {
		t.Errorf("Split(nil)[0] = %+v, want Length=0 TotalFragments=1", fragments[0])
	}
}

func TestSplitExactMultiple(t *testing.T) {
	payload := bytes.Repeat([]byte{'x'}, wire.FragmentSize*3)
	fragments := Split(payload)
	if len(fragments) != 3 {
		t.Fatalf("Split() produced %d fragments, want 3", len(fragments))
	}
	for i, f := range fragments {
		if f.Length != wire.FragmentSize {
			t.Errorf("fragment %d length = %d, want %d", i, f.Length, wire.FragmentSize)
		}
		if f.TotalFragments != 3 {
			t.Errorf("fragment %d total = %d, want 3", i, f.TotalFragments)
		}
	}
}

func TestSplitShortRemainder(t *testing.T) {
	payload := bytes.Repeat([]byte{'y'}, wire.FragmentSize+5)
	fragments := Split(payload)
	if len(fragments) != 2 {
		t.Fatalf("Split() produced %d fragments, want 2", len(fragments))
	}
	if fragments[1].Length != 5 {
		t.Errorf("final fragment length = %d, want 5", fragments[1].Length)
	}
}

func TestSplitReassembleRoundTrip(t *testing.T) {
	r := rand.New(rand.NewSource(1))
	sizes := []int{0, 1, 127, 128, 129, 500, 1024}
	for _, n := range sizes {
		payload := make([]byte, n)
		r.Read(payload)

		fragments := Split(payload)
		reassembler := NewReassembler()

		var out []byte
		var done bool
		for _, f := range fragments {
			out, done = reassembler.Insert(1, f)
		}
		if !done {
			t.Fatalf("size %d: reassembly did not complete", n)
		}
		if !bytes.Equal(out, payload) {
			t.Errorf("size %d: round trip mismatch", n)
		}
	}
}

func TestReassembleOutOfOrderAndDuplicate(t *testing.T) {
	payload := bytes.Repeat([]byte{'z'}, wire.FragmentSize*2)
	fragments := Split(payload)

	r := NewReassembler()
	if _, done := r.Insert(7, fragments[1]); done {
		t.Fatal("reassembly should not complete after only the second fragment")
	}
	if _, done := r.Insert(7, fragments[1]); done {
		t.Fatal("duplicate insert should not complete reassembly")
	}
	out, done := r.Insert(7, fragments[0])
	if !done {
		t.Fatal("reassembly should complete once both fragments arrive")
	}
	if !bytes.Equal(out, payload) {
		t.Error("out-of-order reassembly mismatch")
	}
}

func TestReassembleDiscardsAfterCompletion(t *testing.T) {
	payload := []byte("hello")
	fragments := Split(payload)

	r := NewReassembler()
	out, done := r.Insert(42, fragments[0])
	if !done || !bytes.Equal(out, payload) {
		t.Fatalf("expected immediate completion for single-fragment payload, got done=%v out=%q", done, out)
	}

	// A stray re-delivery of the same fragment after completion must be
	// discarded, not re-emit the payload.
	if _, done := r.Insert(42, fragments[0]); done {
		t.Error("Insert() after session completion should not re-complete")
	}
}
