package app

import (
	"context"
	"testing"

	"github.com/dkeye/One2Many/internal/testutil"
)

func TestRegistryRegisterLookupUnregister(t *testing.T) {
	r := NewRegistry()
	ctx, cancel := context.WithCancel(context.Background())
	sig := testutil.NewSignal("a")
	r.Register("a", sig, cancel, "tok")

	s, ok := r.Lookup("a")
	if !ok || s.Signal != sig || s.ClientToken != "tok" || s.ConnectedAt.IsZero() {
		t.Fatalf("Lookup = %+v, %v", s, ok)
	}
	if _, ok := r.Lookup("b"); ok {
		t.Fatal("unknown session found")
	}
	if r.Len() != 1 || len(r.Snapshot()) != 1 {
		t.Fatal("size mismatch")
	}

	if !r.Unregister("a") {
		t.Fatal("Unregister returned false")
	}
	if ctx.Err() == nil {
		t.Fatal("connection context not cancelled")
	}
	if r.Unregister("a") {
		t.Fatal("second Unregister should be a no-op")
	}
	if r.Len() != 0 {
		t.Fatal("session still registered")
	}
}

func TestPipelinesRemoveAndTake(t *testing.T) {
	p := NewPipelines[*ListenerRecord]()
	a := &ListenerRecord{SessionID: "s"}
	b := &ListenerRecord{SessionID: "s"}
	p.Add("s", a)
	p.Add("s", b)
	if !p.Has("s") || p.Len() != 2 {
		t.Fatal("records not added")
	}

	removed := p.Remove("s", func(l *ListenerRecord) bool { return l == a })
	if len(removed) != 1 || removed[0] != a {
		t.Fatalf("Remove = %v", removed)
	}
	if again := p.Remove("s", func(l *ListenerRecord) bool { return l == a }); len(again) != 0 {
		t.Fatal("record removed twice")
	}

	taken := p.Take("s")
	if len(taken) != 1 || taken[0] != b {
		t.Fatalf("Take = %v", taken)
	}
	if p.Has("s") || p.Len() != 0 {
		t.Fatal("Take left records behind")
	}
}
