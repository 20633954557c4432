package dsa

import (
	"sync"
	"testing"
	"time"
)

var t0 = time.Date(2026, 4, 1, 0, 0, 0, 0, time.UTC)

func TestDeadlineQueue_PopsEarliestFirst(t *testing.T) {
	q := NewDeadlineQueue()
	q.Push(Item{Key: "c", Due: t0.Add(3 * time.Second)})
	q.Push(Item{Key: "a", Due: t0.Add(1 * time.Second)})
	q.Push(Item{Key: "b", Due: t0.Add(2 * time.Second)})

	for _, want := range []string{"a", "b", "c"} {
		it, ok := q.Pop()
		if !ok || it.Key != want {
			t.Fatalf("Pop() = %q, %v; want %q", it.Key, ok, want)
		}
	}
	if _, ok := q.Pop(); ok {
		t.Error("Pop() on empty queue should report false")
	}
}

func TestDeadlineQueue_TiesAreFIFO(t *testing.T) {
	q := NewDeadlineQueue()
	for _, k := range []string{"first", "second", "third"} {
		q.Push(Item{Key: k, Due: t0})
	}
	for _, want := range []string{"first", "second", "third"} {
		if it, _ := q.Pop(); it.Key != want {
			t.Errorf("Pop() = %q, want %q", it.Key, want)
		}
	}
}

func TestDeadlineQueue_PushReschedulesExistingKey(t *testing.T) {
	q := NewDeadlineQueue()
	q.Push(Item{Key: "sweep", Due: t0.Add(time.Minute)})
	q.Push(Item{Key: "check", Due: t0.Add(2 * time.Minute)})
	q.Push(Item{Key: "sweep", Due: t0.Add(3 * time.Minute)})

	if q.Len() != 2 {
		t.Fatalf("Len() = %d, want 2", q.Len())
	}
	if it, _ := q.Peek(); it.Key != "check" {
		t.Errorf("Peek() = %q, want check", it.Key)
	}

	q.Push(Item{Key: "sweep", Due: t0})
	if it, _ := q.Peek(); it.Key != "sweep" {
		t.Errorf("Peek() after moving earlier = %q, want sweep", it.Key)
	}
}

func TestDeadlineQueue_PopDue(t *testing.T) {
	q := NewDeadlineQueue()
	q.Push(Item{Key: "late", Due: t0.Add(time.Hour)})
	q.Push(Item{Key: "now", Due: t0})
	q.Push(Item{Key: "past", Due: t0.Add(-time.Minute)})

	due := q.PopDue(t0)
	if len(due) != 2 || due[0].Key != "past" || due[1].Key != "now" {
		t.Errorf("PopDue() = %+v, want [past now]", due)
	}
	if q.Len() != 1 {
		t.Errorf("Len() = %d, want 1", q.Len())
	}
	if got := q.PopDue(t0); len(got) != 0 {
		t.Errorf("second PopDue() = %d items, want 0", len(got))
	}
}

func TestDeadlineQueue_Concurrent(t *testing.T) {
	q := NewDeadlineQueue()
	var wg sync.WaitGroup
	for i := 0; i < 50; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Push(Item{Key: string(rune('A' + i)), Due: t0.Add(time.Duration(i) * time.Second)})
		}(i)
	}
	wg.Wait()

	prev := time.Time{}
	for q.Len() > 0 {
		it, _ := q.Pop()
		if it.Due.Before(prev) {
			t.Fatalf("out of order: %v before %v", it.Due, prev)
		}
		prev = it.Due
	}
}
