package clock

import (
	"testing"
	"time"
)

func TestFake_AfterFiresOnAdvance(t *testing.T) {
	start := time.Date(2024, 1, 1, 0, 0, 0, 0, time.UTC)
	f := NewFake(start)

	ch := f.After(10 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired before advance")
	default:
	}

	f.Advance(5 * time.Second)
	select {
	case <-ch:
		t.Fatal("fired before deadline")
	default:
	}
	if f.Waiters() != 1 {
		t.Fatalf("expected 1 waiter, got %d", f.Waiters())
	}

	f.Advance(5 * time.Second)
	select {
	case got := <-ch:
		if !got.Equal(start.Add(10 * time.Second)) {
			t.Errorf("fired at %v", got)
		}
	default:
		t.Fatal("did not fire at deadline")
	}
	if f.Waiters() != 0 {
		t.Errorf("expected no waiters, got %d", f.Waiters())
	}
}
