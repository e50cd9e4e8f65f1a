package combinator

import (
	"testing"

	"github.com/andersfylling/rayman-slides/internal/step"
	"github.com/andersfylling/rayman-slides/internal/tickid"
)

func TestProduceAdvancesTickAndCoversAllParticipants(t *testing.T) {
	c := New[string](tickid.TickId(0))
	c.CreateBuffer(0)
	c.CreateBuffer(1)

	if err := c.ReceiveStep(0, tickid.TickId(0), "jump"); err != nil {
		t.Fatalf("receive step: %v", err)
	}
	if err := c.ReceiveStep(1, tickid.TickId(0), "duck"); err != nil {
		t.Fatalf("receive step: %v", err)
	}

	out, err := c.Produce()
	if err != nil {
		t.Fatalf("produce: %v", err)
	}
	if c.TickToProduce() != tickid.TickId(1) {
		t.Fatalf("expected tick to produce 1, got %s", c.TickToProduce())
	}
	if len(out) != 2 {
		t.Fatalf("expected step for both participants, got %d", len(out))
	}
	if out[0].Kind != step.KindCustom || out[0].Custom != "jump" {
		t.Fatalf("unexpected step for participant 0: %+v", out[0])
	}
}

func TestForcedSubstitutionForSilentParticipant(t *testing.T) {
	// S2 from spec.md: client-1 silent until tick 2.
	c := New[string](tickid.TickId(0))
	c.CreateBuffer(0)
	c.CreateBuffer(1)

	for tick := 0; tick < 3; tick++ {
		if err := c.ReceiveStep(0, tickid.TickId(tick), "jump"); err != nil {
			t.Fatalf("tick %d: receive step: %v", tick, err)
		}
	}
	if err := c.ReceiveStep(1, tickid.TickId(2), "jump"); err != nil {
		t.Fatalf("receive step for participant 1 at tick 2: %v", err)
	}

	for tick := 0; tick < 2; tick++ {
		out, err := c.Produce()
		if err != nil {
			t.Fatalf("produce at tick %d: %v", tick, err)
		}
		if out[1].Kind != step.KindForced {
			t.Fatalf("tick %d: expected Forced for participant 1, got %s", tick, out[1].Kind)
		}
		if out[0].Kind != step.KindCustom {
			t.Fatalf("tick %d: expected Custom for participant 0, got %s", tick, out[0].Kind)
		}
	}

	out, err := c.Produce()
	if err != nil {
		t.Fatalf("produce at tick 2: %v", err)
	}
	if out[1].Kind != step.KindCustom || out[1].Custom != "jump" {
		t.Fatalf("expected participant 1's tick-2 input to finally land, got %+v", out[1])
	}
}

func TestLateInputForProducedTickIsDropped(t *testing.T) {
	c := New[string](tickid.TickId(0))
	c.CreateBuffer(0)
	c.CreateBuffer(1)

	c.ReceiveStep(0, tickid.TickId(0), "jump")
	c.Produce() // participant 1 forced at tick 0, buffer advances past it

	// Participant 1's late input for tick 0 must now be silently discarded,
	// not cause an error.
	if err := c.ReceiveStep(1, tickid.TickId(0), "late-jump"); err != nil {
		t.Fatalf("expected late resubmission to be a silent no-op, got error: %v", err)
	}
}

func TestProduceFailsWhenNoOneIsReady(t *testing.T) {
	c := New[string](tickid.TickId(0))
	c.CreateBuffer(0)

	_, err := c.Produce()
	if err == nil {
		t.Fatal("expected NotReadyError, got nil")
	}
	if _, ok := err.(*NotReadyError); !ok {
		t.Fatalf("expected *NotReadyError, got %T", err)
	}
}

func TestReceiveStepFromUnknownParticipant(t *testing.T) {
	c := New[string](tickid.TickId(0))
	c.CreateBuffer(0)

	if err := c.ReceiveStep(9, tickid.TickId(0), "x"); err == nil {
		t.Fatal("expected error for unknown participant")
	}
}
