package ring

import (
	"encoding/json"
	"testing"
	"time"
)

func appendN(r *Ring, n int) {
	for i := 0; i < n; i++ {
		r.Append(time.Now(), json.RawMessage(`{}`))
	}
}

func TestAppendAssignsDenseSequences(t *testing.T) {
	r := New(10)
	for i := 1; i <= 5; i++ {
		seq := r.Append(time.Now(), json.RawMessage(`{}`))
		if seq != int64(i) {
			t.Fatalf("expected sequence %d, got %d", i, seq)
		}
	}
}

func TestCapacityEvictionBoundaries(t *testing.T) {
	const k = 1000
	r := New(k)
	appendN(r, k+1)

	minSeq, maxSeq := r.Bounds()
	if minSeq != 2 {
		t.Fatalf("expected min_seq=2, got %d", minSeq)
	}
	if maxSeq != k+1 {
		t.Fatalf("expected max_seq=%d, got %d", k+1, maxSeq)
	}
}

func TestSyncZeroAfterOverflowIsTruncated(t *testing.T) {
	const k = 1000
	r := New(k)
	appendN(r, k+1)

	events, truncated := r.SinceWithTruncation(0)
	if !truncated {
		t.Fatalf("expected truncated=true")
	}
	if len(events) != k {
		t.Fatalf("expected %d events, got %d", k, len(events))
	}
	if events[0].Sequence != 2 {
		t.Fatalf("expected first event sequence 2, got %d", events[0].Sequence)
	}
}

func TestSyncWithinRangeIsNotTruncated(t *testing.T) {
	r := New(1000)
	appendN(r, 10)

	events, truncated := r.SinceWithTruncation(7)
	if truncated {
		t.Fatalf("expected truncated=false")
	}
	if len(events) != 3 {
		t.Fatalf("expected 3 events, got %d", len(events))
	}
	for i, e := range events {
		if e.Sequence != int64(8+i) {
			t.Fatalf("unexpected sequence at %d: %d", i, e.Sequence)
		}
	}
}

func TestSyncIsIdempotent(t *testing.T) {
	r := New(1000)
	appendN(r, 10)

	first, _ := r.SinceWithTruncation(5)
	second, _ := r.SinceWithTruncation(5)
	if len(first) != len(second) {
		t.Fatalf("non-idempotent result lengths: %d vs %d", len(first), len(second))
	}
	for i := range first {
		if first[i].Sequence != second[i].Sequence {
			t.Fatalf("non-idempotent sequences at %d", i)
		}
	}
}

func TestLargeTruncationScenario(t *testing.T) {
	r := New(1000)
	appendN(r, 1500)

	minSeq, maxSeq := r.Bounds()
	if minSeq != 501 || maxSeq != 1500 {
		t.Fatalf("unexpected bounds: min=%d max=%d", minSeq, maxSeq)
	}

	events, truncated := r.SinceWithTruncation(100)
	if !truncated {
		t.Fatalf("expected truncated=true")
	}
	if len(events) != 1000 || events[0].Sequence != 501 || events[len(events)-1].Sequence != 1500 {
		t.Fatalf("unexpected events: len=%d first=%v last=%v", len(events), events[0], events[len(events)-1])
	}
}
