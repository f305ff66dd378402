package service

import (
	"sync"
	"testing"
)

func TestQueue_FIFO(t *testing.T) {
	q := NewQueue[int]()
	if _, ok := q.TryPop(); ok {
		t.Fatal("TryPop on empty queue returned ok")
	}

	for i := 0; i < 200; i++ {
		q.Push(i)
	}
	if q.Len() != 200 {
		t.Fatalf("Len = %d, want 200", q.Len())
	}

	// Interleave pushes with pops to exercise compaction.
	next := 0
	for i := 0; i < 150; i++ {
		v, ok := q.TryPop()
		if !ok || v != next {
			t.Fatalf("pop %d = (%d, %v), want (%d, true)", i, v, ok, next)
		}
		next++
	}
	for i := 200; i < 250; i++ {
		q.Push(i)
	}
	for next < 250 {
		v, ok := q.TryPop()
		if !ok || v != next {
			t.Fatalf("pop = (%d, %v), want (%d, true)", v, ok, next)
		}
		next++
	}
	if q.Len() != 0 {
		t.Errorf("Len = %d, want 0", q.Len())
	}
}

func TestQueue_ConcurrentProducers(t *testing.T) {
	q := NewQueue[int]()
	const producers, perProducer = 8, 500

	var wg sync.WaitGroup
	for p := 0; p < producers; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			for i := 0; i < perProducer; i++ {
				q.Push(p*perProducer + i)
			}
		}(p)
	}
	wg.Wait()

	seen := make(map[int]bool, producers*perProducer)
	lastByProducer := make([]int, producers)
	for i := range lastByProducer {
		lastByProducer[i] = -1
	}
	for {
		v, ok := q.TryPop()
		if !ok {
			break
		}
		if seen[v] {
			t.Fatalf("duplicate %d", v)
		}
		seen[v] = true
		p := v / perProducer
		if v <= lastByProducer[p] {
			t.Fatalf("producer %d out of order: %d after %d", p, v, lastByProducer[p])
		}
		lastByProducer[p] = v
	}
	if len(seen) != producers*perProducer {
		t.Errorf("got %d items, want %d", len(seen), producers*perProducer)
	}
}
