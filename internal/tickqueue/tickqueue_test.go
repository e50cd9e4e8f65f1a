package tickqueue

import (
	"testing"

	"github.com/andersfylling/rayman-slides/internal/tickid"
)

func TestPushRejectsWrongTick(t *testing.T) {
	q := New[int](tickid.TickId(10))

	if err := q.Push(tickid.TickId(10), 1); err != nil {
		t.Fatalf("expected push at expected tick to succeed, got %v", err)
	}

	err := q.Push(tickid.TickId(12), 2)
	if err == nil {
		t.Fatal("expected WrongTickError, got nil")
	}
	var wrongTick *WrongTickError
	if wt, ok := err.(*WrongTickError); !ok {
		t.Fatalf("expected *WrongTickError, got %T", err)
	} else {
		wrongTick = wt
	}
	if wrongTick.Expected != tickid.TickId(11) || wrongTick.Got != tickid.TickId(12) {
		t.Fatalf("unexpected error contents: %+v", wrongTick)
	}
}

func TestContiguityAfterPushes(t *testing.T) {
	q := New[int](tickid.TickId(0))
	for i := 0; i < 5; i++ {
		if err := q.Push(tickid.TickId(i), i*10); err != nil {
			t.Fatalf("push %d failed: %v", i, err)
		}
	}

	i := 0
	q.Iter(func(tick tickid.TickId, v int) bool {
		if tick != tickid.TickId(i) {
			t.Fatalf("item %d: expected tick %d, got %s", i, i, tick)
		}
		if v != i*10 {
			t.Fatalf("item %d: expected value %d, got %d", i, i*10, v)
		}
		i++
		return true
	})
}

func TestPopAdvancesHead(t *testing.T) {
	q := New[string](tickid.TickId(100))
	q.Push(tickid.TickId(100), "a")
	q.Push(tickid.TickId(101), "b")

	tick, v, ok := q.Pop()
	if !ok || tick != tickid.TickId(100) || v != "a" {
		t.Fatalf("unexpected pop result: tick=%s v=%q ok=%v", tick, v, ok)
	}
	if q.HeadTick() != tickid.TickId(101) {
		t.Fatalf("expected head tick 101, got %s", q.HeadTick())
	}
}

func TestDiscardUpTo(t *testing.T) {
	q := New[int](tickid.TickId(0))
	for i := 0; i < 10; i++ {
		q.Push(tickid.TickId(i), i)
	}

	q.DiscardUpTo(tickid.TickId(5))

	if q.FrontTick() != tickid.TickId(5) {
		t.Fatalf("expected front tick 5, got %s", q.FrontTick())
	}
	if q.Len() != 5 {
		t.Fatalf("expected 5 remaining items, got %d", q.Len())
	}
}

func TestDiscardUpToOnEmptyQueueAdvancesCursors(t *testing.T) {
	q := New[int](tickid.TickId(0))
	q.DiscardUpTo(tickid.TickId(42))

	if q.HeadTick() != tickid.TickId(42) {
		t.Fatalf("expected head tick 42, got %s", q.HeadTick())
	}
	if q.ExpectedWriteTick() != tickid.TickId(42) {
		t.Fatalf("expected write cursor to resume at 42, got %s", q.ExpectedWriteTick())
	}
	if err := q.Push(tickid.TickId(41), 1); err == nil {
		t.Fatal("push of a discarded tick must fail")
	}
	if err := q.Push(tickid.TickId(42), 1); err != nil {
		t.Fatalf("push at resumed cursor: %v", err)
	}
}

func TestClearResetsQueue(t *testing.T) {
	q := New[int](tickid.TickId(0))
	q.Push(tickid.TickId(0), 1)
	q.Push(tickid.TickId(1), 2)

	q.Clear(tickid.TickId(50))

	if q.Len() != 0 {
		t.Fatalf("expected empty queue after clear, got len %d", q.Len())
	}
	if q.HeadTick() != tickid.TickId(50) || q.ExpectedWriteTick() != tickid.TickId(50) {
		t.Fatalf("expected head and write tick 50 after clear, got head=%s write=%s", q.HeadTick(), q.ExpectedWriteTick())
	}
}

func TestToSlicePreservesOrder(t *testing.T) {
	q := New[int](tickid.TickId(0))
	for i := 0; i < 3; i++ {
		q.Push(tickid.TickId(i), i)
	}
	slice := q.ToSlice()
	if len(slice) != 3 {
		t.Fatalf("expected 3 items, got %d", len(slice))
	}
	for i, v := range slice {
		if v != i {
			t.Fatalf("index %d: expected %d, got %d", i, i, v)
		}
	}
}
