package matcher

import (
	"fmt"
	"sync"
)

// Lazy is the preprocess-then-query form of a Matcher. The index is built at
// most once, either by an explicit Preprocess call or on the first query when a
// reference was supplied at construction. A Lazy is bound to one reference for
// its lifetime.
type Lazy struct {
	mu        sync.Mutex
	reference string
	hasRef    bool
	built     *Matcher
}

// NewLazy returns a Lazy with no reference. Queries fail with
// ErrUninitialized until Preprocess is called.
func NewLazy() *Lazy {
	return &Lazy{}
}

func NewLazyWithReference(reference string) *Lazy {
	return &Lazy{reference: reference, hasRef: true}
}

// Preprocess binds the Lazy to reference and builds its index. Calling it again
// with the same reference is a no-op; a different reference fails with
// ErrAlreadyBound.
func (l *Lazy) Preprocess(reference string) error {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.hasRef && l.reference != reference {
		return fmt.Errorf("%w: cannot rebind to a different reference", ErrAlreadyBound)
	}
	l.reference = reference
	l.hasRef = true
	if l.built == nil {
		l.built = Build(reference)
	}
	return nil
}

// Matcher returns the built index, building it from the construction-time
// reference if needed.
func (l *Lazy) Matcher() (*Matcher, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.built != nil {
		return l.built, nil
	}
	if !l.hasRef {
		return nil, ErrUninitialized
	}
	l.built = Build(l.reference)
	return l.built, nil
}

// IsSubsequence reports whether query is a subsequence of the bound reference.
func (l *Lazy) IsSubsequence(query string) (bool, error) {
	m, err := l.Matcher()
	if err != nil {
		return false, err
	}
	return m.IsSubsequence(query), nil
}

// Built reports whether the index exists yet.
func (l *Lazy) Built() bool {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.built != nil
}
