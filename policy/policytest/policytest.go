// Package policytest provides a list-backed stand-in for a shard, for
// testing eviction policies without a store.
package policytest

import (
	"container/list"

	"github.com/IvanBrykalov/refreshcache/policy"
)

// Node is a test entry.
type Node struct {
	K string
	V int
}

func (n *Node) Key() string { return n.K }
func (n *Node) Value() *int { return &n.V }

// Shard implements policy.Hooks over a real list, MRU at the front.
type Shard struct {
	l   *list.List
	pos map[policy.Node[string, int]]*list.Element
}

// NewShard returns an empty shard.
func NewShard() *Shard {
	return &Shard{l: list.New(), pos: make(map[policy.Node[string, int]]*list.Element)}
}

func (s *Shard) PushFront(n policy.Node[string, int]) { s.pos[n] = s.l.PushFront(n) }

func (s *Shard) MoveToFront(n policy.Node[string, int]) {
	if el, ok := s.pos[n]; ok {
		s.l.MoveToFront(el)
	}
}

func (s *Shard) Remove(n policy.Node[string, int]) {
	if el, ok := s.pos[n]; ok {
		s.l.Remove(el)
		delete(s.pos, n)
	}
}

func (s *Shard) Back() policy.Node[string, int] {
	if el := s.l.Back(); el != nil {
		return el.Value.(policy.Node[string, int])
	}
	return nil
}

func (s *Shard) Len() int { return s.l.Len() }

// Keys lists resident keys from MRU to LRU.
func (s *Shard) Keys() []string {
	out := make([]string, 0, s.l.Len())
	for el := s.l.Front(); el != nil; el = el.Next() {
		out = append(out, el.Value.(policy.Node[string, int]).Key())
	}
	return out
}

// Evict removes n the way a shard does: unlink it, then notify the policy.
func (s *Shard) Evict(p policy.ShardPolicy[string, int], n policy.Node[string, int]) {
	s.Remove(n)
	p.OnRemove(n)
}

// Add admits n and evicts whatever the policy proposes, then evicts victims
// until the shard holds at most capacity nodes. It returns the evicted keys.
func (s *Shard) Add(p policy.ShardPolicy[string, int], n policy.Node[string, int], capacity int) []string {
	var out []string
	if ev := p.OnAdd(n); ev != nil {
		out = append(out, ev.Key())
		s.Evict(p, ev)
	}
	for s.Len() > capacity {
		v := p.Victim()
		if v == nil {
			break
		}
		out = append(out, v.Key())
		s.Evict(p, v)
	}
	return out
}
