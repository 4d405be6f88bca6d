package app

import (
	"context"
	"errors"
	"sync"
	"testing"

	"github.com/dkeye/One2Many/internal/testutil"
	"github.com/pion/webrtc/v4"
)

type sink struct {
	mu   sync.Mutex
	got  []string
	fail map[string]bool
}

func (s *sink) AddICECandidate(_ context.Context, c webrtc.ICECandidateInit) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.fail[c.Candidate] {
		return errors.New("rejected " + c.Candidate)
	}
	s.got = append(s.got, c.Candidate)
	return nil
}

func (s *sink) received() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	return append([]string(nil), s.got...)
}

func TestCandidateQueueFlushKeepsArrivalOrder(t *testing.T) {
	q := NewCandidateQueue()
	ctx := context.Background()
	var want []string
	for i := 1; i <= 5; i++ {
		c := testutil.Candidate(i)
		want = append(want, c.Candidate)
		delivered, err := q.Route(ctx, "s1", c)
		if delivered || err != nil {
			t.Fatalf("Route(%d) = %v, %v; want queued", i, delivered, err)
		}
	}
	if got := q.Pending("s1"); got != 5 {
		t.Fatalf("Pending = %d, want 5", got)
	}

	s := &sink{}
	n, err := q.FlushTo(ctx, "s1", s)
	if err != nil || n != 5 {
		t.Fatalf("FlushTo = %d, %v", n, err)
	}
	if got := s.received(); !equal(got, want) {
		t.Fatalf("delivered %v, want %v", got, want)
	}
	if q.Pending("s1") != 0 {
		t.Fatal("queue not empty after flush")
	}

	// Later candidates go straight to the bound sink, exactly once.
	late := testutil.Candidate(6)
	delivered, err := q.Route(ctx, "s1", late)
	if !delivered || err != nil {
		t.Fatalf("Route after flush = %v, %v; want delivered", delivered, err)
	}
	if got := s.received(); len(got) != 6 || got[5] != late.Candidate {
		t.Fatalf("late candidate not delivered once: %v", got)
	}
}

func TestCandidateQueueUnknownSessionQueues(t *testing.T) {
	q := NewCandidateQueue()
	delivered, err := q.Route(context.Background(), "nobody", testutil.Candidate(1))
	if delivered || err != nil {
		t.Fatalf("Route = %v, %v", delivered, err)
	}
	if q.Pending("nobody") != 1 {
		t.Fatal("candidate not queued")
	}
}

func TestCandidateQueueClear(t *testing.T) {
	q := NewCandidateQueue()
	ctx := context.Background()
	q.Route(ctx, "s1", testutil.Candidate(1))
	s := &sink{}
	q.FlushTo(ctx, "s1", s)
	q.Clear("s1")

	// Cleared sessions queue again instead of reaching the old sink.
	delivered, _ := q.Route(ctx, "s1", testutil.Candidate(2))
	if delivered {
		t.Fatal("candidate reached sink after Clear")
	}
	if got := s.received(); len(got) != 1 {
		t.Fatalf("sink got %v", got)
	}
	q.Clear("s1")
	if q.Pending("s1") != 0 {
		t.Fatal("Clear left pending candidates")
	}
}

func TestCandidateQueueFlushJoinsErrors(t *testing.T) {
	q := NewCandidateQueue()
	ctx := context.Background()
	bad := testutil.Candidate(2)
	for i := 1; i <= 3; i++ {
		q.Route(ctx, "s1", testutil.Candidate(i))
	}
	s := &sink{fail: map[string]bool{bad.Candidate: true}}
	n, err := q.FlushTo(ctx, "s1", s)
	if n != 3 || err == nil {
		t.Fatalf("FlushTo = %d, %v; want 3 and an error", n, err)
	}
	if got := s.received(); len(got) != 2 {
		t.Fatalf("remaining candidates not attempted: %v", got)
	}
}

func TestCandidateQueueConcurrentRouteDuringFlush(t *testing.T) {
	q := NewCandidateQueue()
	ctx := context.Background()
	for i := 0; i < 100; i++ {
		q.Route(ctx, "s1", testutil.Candidate(i))
	}
	s := &sink{}
	var wg sync.WaitGroup
	wg.Add(1)
	go func() {
		defer wg.Done()
		q.FlushTo(ctx, "s1", s)
	}()
	for i := 100; i < 200; i++ {
		q.Route(ctx, "s1", testutil.Candidate(i))
	}
	wg.Wait()
	q.FlushTo(ctx, "s1", s)

	got := s.received()
	if len(got) != 200 {
		t.Fatalf("delivered %d candidates, want 200", len(got))
	}
	for i := 0; i < 100; i++ {
		if got[i] != testutil.Candidate(i).Candidate {
			t.Fatalf("queued candidate %d overtaken: %s", i, got[i])
		}
	}
	seen := make(map[string]bool)
	for _, c := range got {
		if seen[c] {
			t.Fatalf("duplicate delivery of %s", c)
		}
		seen[c] = true
	}
}

func equal(a, b []string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

func TestCandidateQueueUnbindOnlyMatchingSink(t *testing.T) {
	q := NewCandidateQueue()
	ctx := context.Background()
	old, cur := &sink{}, &sink{}
	if _, err := q.FlushTo(ctx, "s1", cur); err != nil {
		t.Fatal(err)
	}

	q.Unbind("s1", old)
	if delivered, _ := q.Route(ctx, "s1", testutil.Candidate(1)); !delivered {
		t.Fatal("unbinding a stale sink dropped the current binding")
	}

	q.Unbind("s1", cur)
	if delivered, _ := q.Route(ctx, "s1", testutil.Candidate(2)); delivered {
		t.Fatal("candidate delivered after unbind")
	}
	if q.Pending("s1") != 1 || len(cur.received()) != 1 {
		t.Fatalf("pending = %d, received = %v", q.Pending("s1"), cur.received())
	}
	q.Unbind("ghost", cur)
}
