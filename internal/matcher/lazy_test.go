package matcher

import (
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestLazyWithoutReferenceIsUninitialized(t *testing.T) {
	l := NewLazy()
	ok, err := l.IsSubsequence("abc")
	assert.ErrorIs(t, err, ErrUninitialized)
	assert.False(t, ok)

	_, err = l.IsSubsequence("")
	assert.ErrorIs(t, err, ErrUninitialized)
	assert.False(t, l.Built())
}

func TestLazyBuildsOnFirstQuery(t *testing.T) {
	l := NewLazyWithReference("ahbgdc")
	assert.False(t, l.Built())

	ok, err := l.IsSubsequence("abc")
	require.NoError(t, err)
	assert.True(t, ok)
	assert.True(t, l.Built())

	first, err := l.Matcher()
	require.NoError(t, err)
	second, err := l.Matcher()
	require.NoError(t, err)
	assert.Same(t, first, second)
}

func TestLazyExplicitPreprocess(t *testing.T) {
	l := NewLazy()
	require.NoError(t, l.Preprocess("ahbgdc"))

	for _, tt := range []struct {
		query string
		want  bool
	}{
		{"abc", true},
		{"axc", false},
		{"bgd", true},
	} {
		ok, err := l.IsSubsequence(tt.query)
		require.NoError(t, err)
		assert.Equal(t, tt.want, ok, tt.query)
	}
}

func TestLazyPreprocessSameReferenceIsNoop(t *testing.T) {
	l := NewLazy()
	require.NoError(t, l.Preprocess("abc"))
	before, err := l.Matcher()
	require.NoError(t, err)

	require.NoError(t, l.Preprocess("abc"))
	after, err := l.Matcher()
	require.NoError(t, err)
	assert.Same(t, before, after)
}

func TestLazyRejectsRebinding(t *testing.T) {
	l := NewLazyWithReference("abc")
	err := l.Preprocess("xyz")
	assert.ErrorIs(t, err, ErrAlreadyBound)

	ok, err := l.IsSubsequence("ac")
	require.NoError(t, err)
	assert.True(t, ok)
}

func TestLazyConcurrentFirstQuery(t *testing.T) {
	l := NewLazyWithReference("ahbgdc")
	var wg sync.WaitGroup
	results := make([]*Matcher, 8)
	for i := range results {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			m, err := l.Matcher()
			assert.NoError(t, err)
			results[i] = m
		}(i)
	}
	wg.Wait()
	for _, m := range results[1:] {
		assert.Same(t, results[0], m)
	}
}
