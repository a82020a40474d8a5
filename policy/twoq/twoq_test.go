package twoq

import (
	"slices"
	"testing"

	"github.com/IvanBrykalov/refreshcache/policy/policytest"
)

func TestForShard(t *testing.T) {
	t.Parallel()

	if got := ForShard(100); got != (Sizes{Probation: 25, Ghosts: 50}) {
		t.Fatalf("ForShard(100) = %+v", got)
	}
	p := New[string, int](ForShard(1)).(factory[string, int])
	if p.sz.Probation != 1 || p.sz.Ghosts != 1 {
		t.Fatalf("sizes must be raised to 1, got %+v", p.sz)
	}
}

// A first-time key goes on probation; probation overflow evicts its oldest.
func TestTwoQ_ProbationOverflow(t *testing.T) {
	t.Parallel()

	sh := policytest.NewShard()
	p := New[string, int](Sizes{Probation: 2, Ghosts: 4}).New(sh).(*shard2Q[string, int])

	sh.Add(p, &policytest.Node{K: "a"}, 100)
	sh.Add(p, &policytest.Node{K: "b"}, 100)
	if p.probation.len() != 2 {
		t.Fatalf("probation len = %d, want 2", p.probation.len())
	}

	ev := sh.Add(p, &policytest.Node{K: "c"}, 100)
	if !slices.Equal(ev, []string{"a"}) {
		t.Fatalf("evicted %v, want [a]", ev)
	}
	if _, ok := p.ghosts.idx["a"]; !ok {
		t.Fatal("a must be remembered as a ghost")
	}
}

// A read on probation promotes to the main queue.
func TestTwoQ_GetPromotes(t *testing.T) {
	t.Parallel()

	sh := policytest.NewShard()
	p := New[string, int](Sizes{Probation: 2, Ghosts: 4}).New(sh).(*shard2Q[string, int])

	a := &policytest.Node{K: "a"}
	sh.Add(p, a, 100)
	p.OnGet(a)
	if p.probation.len() != 0 {
		t.Fatalf("a must leave probation on read")
	}

	// Filling probation now never evicts a.
	for _, k := range []string{"b", "c", "d", "e"} {
		for _, ev := range sh.Add(p, &policytest.Node{K: k}, 100) {
			if ev == "a" {
				t.Fatal("promoted key evicted by probation churn")
			}
		}
	}
	if !slices.Contains(sh.Keys(), "a") {
		t.Fatal("a must still be resident")
	}
}

// A ghost key written again skips probation.
func TestTwoQ_GhostSecondChance(t *testing.T) {
	t.Parallel()

	sh := policytest.NewShard()
	p := New[string, int](Sizes{Probation: 1, Ghosts: 4}).New(sh).(*shard2Q[string, int])

	sh.Add(p, &policytest.Node{K: "a"}, 100)
	sh.Add(p, &policytest.Node{K: "b"}, 100) // evicts a into ghosts

	again := &policytest.Node{K: "a"}
	if ev := sh.Add(p, again, 100); len(ev) != 0 {
		t.Fatalf("re-admitted ghost must not evict, got %v", ev)
	}
	if _, onProbation := p.probation.idx[again]; onProbation {
		t.Fatal("ghost key must bypass probation")
	}
	if _, ok := p.ghosts.idx["a"]; ok {
		t.Fatal("ghost must be consumed on re-admission")
	}
}

func TestTwoQ_GhostCapacity(t *testing.T) {
	t.Parallel()

	sh := policytest.NewShard()
	p := New[string, int](Sizes{Probation: 1, Ghosts: 2}).New(sh).(*shard2Q[string, int])

	for _, k := range []string{"a", "b", "c", "d"} {
		sh.Add(p, &policytest.Node{K: k}, 100)
	}
	// a, b, c were evicted from probation in that order; only the newest two stay.
	if p.ghosts.len() != 2 {
		t.Fatalf("ghost len = %d, want 2", p.ghosts.len())
	}
	if _, ok := p.ghosts.idx["a"]; ok {
		t.Fatal("oldest ghost must be dropped")
	}
}

// Removing a main-queue node leaves no ghost.
func TestTwoQ_MainRemovalNoGhost(t *testing.T) {
	t.Parallel()

	sh := policytest.NewShard()
	p := New[string, int](Sizes{Probation: 2, Ghosts: 4}).New(sh).(*shard2Q[string, int])

	a := &policytest.Node{K: "a"}
	sh.Add(p, a, 100)
	p.OnGet(a)
	sh.Evict(p, a)
	if p.ghosts.len() != 0 {
		t.Fatalf("main-queue removal must not create ghosts")
	}
}

// Over the shard budget, a full probation queue yields its oldest node
// before any promoted one.
func TestTwoQ_VictimPrefersProbation(t *testing.T) {
	t.Parallel()

	sh := policytest.NewShard()
	p := New[string, int](Sizes{Probation: 1, Ghosts: 4}).New(sh)

	hot := &policytest.Node{K: "hot"}
	sh.Add(p, hot, 100)
	p.OnGet(hot)
	sh.Add(p, &policytest.Node{K: "scan"}, 100)

	if v := p.Victim(); v == nil || v.Key() != "scan" {
		t.Fatalf("victim = %v, want scan", v)
	}
}
