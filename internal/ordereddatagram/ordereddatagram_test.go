package ordereddatagram

import "testing"

func TestPrependAndParseRoundTrip(t *testing.T) {
	var out Outgoing
	var in Incoming

	payload := []byte("hello")
	datagram := out.Prepend(1234, payload)

	parsed, err := in.Parse(datagram)
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	if parsed.Seq != 0 {
		t.Fatalf("expected first sequence 0, got %d", parsed.Seq)
	}
	if parsed.ClientTime != 1234 {
		t.Fatalf("expected client time 1234, got %d", parsed.ClientTime)
	}
	if string(parsed.Payload) != "hello" {
		t.Fatalf("expected payload %q, got %q", "hello", parsed.Payload)
	}
}

// TestReorderWindow is S5 from spec.md: sequences 0,1,2 arrive as 2,0,1 and
// all are accepted with zero drops; a jump to 5 (skipping 3,4) registers 2
// drops.
func TestReorderWindow(t *testing.T) {
	var out Outgoing
	var in Incoming

	var frames [][]byte
	for i := 0; i < 3; i++ {
		frames = append(frames, out.Prepend(0, []byte{byte(i)}))
	}

	order := []int{2, 0, 1}
	for _, idx := range order {
		if _, err := in.Parse(frames[idx]); err != nil {
			t.Fatalf("parse frame %d: %v", idx, err)
		}
	}
	if in.DropCount() != 0 {
		t.Fatalf("expected 0 drops after accepting all of 0,1,2 out of order, got %d", in.DropCount())
	}

	// Sequence 5 next: skips 3 and 4.
	skip := out.Prepend(0, nil) // seq 3
	_ = skip
	_ = out.Prepend(0, nil) // seq 4
	seq5 := out.Prepend(0, nil)

	if _, err := in.Parse(seq5); err != nil {
		t.Fatalf("parse seq 5: %v", err)
	}
	if in.DropCount() != 2 {
		t.Fatalf("expected drop count 2 after skipping seq 3,4, got %d", in.DropCount())
	}
}

func TestSequenceWindowRejectsOutOfRange(t *testing.T) {
	var out Outgoing
	var in Incoming

	first := out.Prepend(0, nil)
	if _, err := in.Parse(first); err != nil {
		t.Fatalf("parse first: %v", err)
	}

	// Advance the outgoing sequence far past the acceptable window.
	for i := 0; i < MaxAcceptableWindow+10; i++ {
		out.Prepend(0, nil)
	}
	tooFar := out.Prepend(0, nil)

	_, err := in.Parse(tooFar)
	if err == nil {
		t.Fatal("expected WrongOrderError for a datagram far outside the acceptable window")
	}
	if _, ok := err.(*WrongOrderError); !ok {
		t.Fatalf("expected *WrongOrderError, got %T", err)
	}
}
