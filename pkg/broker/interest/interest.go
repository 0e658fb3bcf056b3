// Package interest implements the subject interest index: a mapping from
// dot-segmented subject patterns (with single-segment `*` and trailing
// multi-segment `>` wildcards) to the set of endpoints that registered
// them, plus the inverse mapping needed for O(1) endpoint removal.
//
// The index is a segment-keyed trie, generalized from
// pkg/datastructures/tree/trie's rune-keyed Trie[V] to a segment alphabet
// with two reserved wildcard children instead of arbitrary runes.
package interest

import (
	"sort"
	"strings"
	"sync"

	"github.com/chris-alexander-pop/relaymq/pkg/broker"
)

const (
	wildcardSingle = "*"
	wildcardMulti  = ">"
)

// Pattern is a parsed, validated interest pattern.
type Pattern struct {
	raw      string
	segments []string
}

// Parse validates and splits a dot-segmented pattern. It rejects empty
// segments (a..b), a leading or trailing dot, and a `>` that is not the
// final segment.
func Parse(pattern string) (Pattern, bool) {
	if pattern == "" {
		return Pattern{}, false
	}
	segments := strings.Split(pattern, ".")
	for i, seg := range segments {
		if seg == "" {
			return Pattern{}, false
		}
		if seg == wildcardMulti && i != len(segments)-1 {
			return Pattern{}, false
		}
	}
	return Pattern{raw: pattern, segments: segments}, true
}

func (p Pattern) String() string { return p.raw }

// Matches reports whether subject (a concrete, non-wildcard dot-segmented
// name) is matched by p.
func (p Pattern) Matches(subject string) bool {
	return matchSegments(p.segments, strings.Split(subject, "."))
}

func matchSegments(pattern, subject []string) bool {
	for i, seg := range pattern {
		if seg == wildcardMulti {
			return len(subject) >= i+1
		}
		if len(subject) <= i {
			return false
		}
		if seg == wildcardSingle {
			continue
		}
		if seg != subject[i] {
			return false
		}
	}
	return len(pattern) == len(subject)
}

type node struct {
	children map[string]*node
	star     *node
	multi    *node
	eps      map[broker.EndpointAddr]struct{}
}

func newNode() *node {
	return &node{children: make(map[string]*node)}
}

// Index is a concurrency-safe interest index. A single instance belongs to
// one topic's TopicData; it guards its trie and inverse map with its own
// internal reader/writer lock, independent of the topic's lock.
type Index struct {
	mu      sync.RWMutex
	root    *node
	byEp    map[broker.EndpointAddr]map[string]Pattern
}

func New() *Index {
	return &Index{
		root: newNode(),
		byEp: make(map[broker.EndpointAddr]map[string]Pattern),
	}
}

// Insert registers ep's interest in pattern. Idempotent.
func (idx *Index) Insert(pattern Pattern, ep broker.EndpointAddr) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	n := idx.root
	for _, seg := range pattern.segments {
		switch seg {
		case wildcardSingle:
			if n.star == nil {
				n.star = newNode()
			}
			n = n.star
		case wildcardMulti:
			if n.multi == nil {
				n.multi = newNode()
			}
			n = n.multi
		default:
			if n.children[seg] == nil {
				n.children[seg] = newNode()
			}
			n = n.children[seg]
		}
	}
	if n.eps == nil {
		n.eps = make(map[broker.EndpointAddr]struct{})
	}
	n.eps[ep] = struct{}{}

	if idx.byEp[ep] == nil {
		idx.byEp[ep] = make(map[string]Pattern)
	}
	idx.byEp[ep][pattern.raw] = pattern
}

// Delete removes ep from every pattern it registered.
func (idx *Index) Delete(ep broker.EndpointAddr) {
	idx.mu.Lock()
	defer idx.mu.Unlock()

	for _, pattern := range idx.byEp[ep] {
		n := idx.root
		ok := true
		for _, seg := range pattern.segments {
			switch seg {
			case wildcardSingle:
				if n.star == nil {
					ok = false
				} else {
					n = n.star
				}
			case wildcardMulti:
				if n.multi == nil {
					ok = false
				} else {
					n = n.multi
				}
			default:
				if n.children[seg] == nil {
					ok = false
				} else {
					n = n.children[seg]
				}
			}
			if !ok {
				break
			}
		}
		if ok && n.eps != nil {
			delete(n.eps, ep)
		}
	}
	delete(idx.byEp, ep)
}

// Patterns returns the set of patterns currently registered by ep.
func (idx *Index) Patterns(ep broker.EndpointAddr) []Pattern {
	idx.mu.RLock()
	defer idx.mu.RUnlock()
	out := make([]Pattern, 0, len(idx.byEp[ep]))
	for _, p := range idx.byEp[ep] {
		out = append(out, p)
	}
	return out
}

// Find returns every endpoint whose interest matches subject, in
// endpoint-address sort order.
func (idx *Index) Find(subject string) []broker.EndpointAddr {
	idx.mu.RLock()
	defer idx.mu.RUnlock()

	segments := strings.Split(subject, ".")
	seen := make(map[broker.EndpointAddr]struct{})
	collect(idx.root, segments, seen)

	out := make([]broker.EndpointAddr, 0, len(seen))
	for ep := range seen {
		out = append(out, ep)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func collect(n *node, remaining []string, seen map[broker.EndpointAddr]struct{}) {
	if n == nil {
		return
	}
	if n.multi != nil && len(remaining) >= 1 {
		for ep := range n.multi.eps {
			seen[ep] = struct{}{}
		}
	}
	if len(remaining) == 0 {
		for ep := range n.eps {
			seen[ep] = struct{}{}
		}
		return
	}
	head, rest := remaining[0], remaining[1:]
	collect(n.children[head], rest, seen)
	collect(n.star, rest, seen)
}
