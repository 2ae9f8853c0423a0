// Package matcher answers repeated "is Q a subsequence of R?" questions against
// a fixed reference R. Build scans the reference once and records, for every
// symbol, the ascending list of offsets where it occurs; each query then walks
// its symbols and binary-searches the next usable offset.
package matcher

import (
	"errors"
	"fmt"
	"sort"
)

var (
	// ErrUninitialized is returned when a query reaches a Lazy matcher that was
	// never given a reference.
	ErrUninitialized = errors.New("uninitialized matcher")
	// ErrAlreadyBound is returned when a Lazy matcher bound to one reference is
	// asked to preprocess a different one.
	ErrAlreadyBound = errors.New("matcher already bound to a reference")
	// ErrCorruptIndex is returned by Restore when a position index does not
	// describe the reference it is paired with.
	ErrCorruptIndex = errors.New("corrupt position index")
)

// Matcher is an immutable position index over one reference sequence. It is
// safe for concurrent use.
type Matcher struct {
	reference string
	length    int
	positions map[rune][]int
}

// Build indexes reference in a single forward scan. Positions are rune
// offsets, so every list is ascending by construction.
func Build(reference string) *Matcher {
	symbols := []rune(reference)
	positions := make(map[rune][]int)
	for i, r := range symbols {
		positions[r] = append(positions[r], i)
	}
	return &Matcher{
		reference: reference,
		length:    len(symbols),
		positions: positions,
	}
}

// Restore rebuilds a Matcher from a previously persisted index. The index is
// checked against reference: every offset must hold its symbol, lists must be
// strictly ascending and together cover the whole reference.
func Restore(reference string, positions map[rune][]int) (*Matcher, error) {
	symbols := []rune(reference)
	seen := 0
	owned := make(map[rune][]int, len(positions))
	for r, list := range positions {
		if len(list) == 0 {
			return nil, fmt.Errorf("%w: symbol %q has no positions", ErrCorruptIndex, r)
		}
		prev := -1
		for _, pos := range list {
			if pos <= prev || pos >= len(symbols) {
				return nil, fmt.Errorf("%w: position %d for symbol %q out of order or range", ErrCorruptIndex, pos, r)
			}
			if symbols[pos] != r {
				return nil, fmt.Errorf("%w: position %d holds %q, not %q", ErrCorruptIndex, pos, symbols[pos], r)
			}
			prev = pos
		}
		seen += len(list)
		owned[r] = append([]int(nil), list...)
	}
	if seen != len(symbols) {
		return nil, fmt.Errorf("%w: index covers %d of %d positions", ErrCorruptIndex, seen, len(symbols))
	}
	return &Matcher{
		reference: reference,
		length:    len(symbols),
		positions: owned,
	}, nil
}

// IsSubsequence reports whether query can be obtained from the reference by
// deleting zero or more symbols without reordering the rest.
func (m *Matcher) IsSubsequence(query string) bool {
	prev := -1
	for _, r := range query {
		next, ok := m.nextAfter(r, prev)
		if !ok {
			return false
		}
		prev = next
	}
	return true
}

// Match is IsSubsequence that also returns the reference offsets used by the
// greedy leftmost match. The offsets are nil when the query does not match.
func (m *Matcher) Match(query string) ([]int, bool) {
	matched := make([]int, 0, len(query))
	prev := -1
	for _, r := range query {
		next, ok := m.nextAfter(r, prev)
		if !ok {
			return nil, false
		}
		matched = append(matched, next)
		prev = next
	}
	return matched, true
}

// nextAfter returns the smallest recorded offset of r strictly greater than
// prev.
func (m *Matcher) nextAfter(r rune, prev int) (int, bool) {
	list, exists := m.positions[r]
	if !exists {
		return 0, false
	}
	idx := sort.Search(len(list), func(i int) bool {
		return list[i] > prev
	})
	if idx >= len(list) {
		return 0, false
	}
	return list[idx], true
}

func (m *Matcher) Reference() string {
	return m.reference
}

// Len is the reference length in symbols.
func (m *Matcher) Len() int {
	return m.length
}

// SymbolCount is the number of distinct symbols in the reference.
func (m *Matcher) SymbolCount() int {
	return len(m.positions)
}

// Positions returns a copy of the ascending offsets of r, or nil when r does
// not occur in the reference.
func (m *Matcher) Positions(r rune) []int {
	list, exists := m.positions[r]
	if !exists {
		return nil
	}
	return append([]int(nil), list...)
}

// Symbols returns the indexed symbols in ascending order.
func (m *Matcher) Symbols() []rune {
	symbols := make([]rune, 0, len(m.positions))
	for r := range m.positions {
		symbols = append(symbols, r)
	}
	sort.Slice(symbols, func(i, j int) bool {
		return symbols[i] < symbols[j]
	})
	return symbols
}
