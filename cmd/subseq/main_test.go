package main

import (
	"bytes"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/internal/matcher"
)

func TestRunArgs(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run([]string{"-reference", "ahbgdc", "abc", "axc", "bgd"}, strings.NewReader(""), &out, &errOut)
	require.NoError(t, err)
	assert.Equal(t, "abc\ttrue\naxc\tfalse\nbgd\ttrue\n", out.String())
}

func TestRunStdinWithPositions(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run([]string{"-reference", "hello", "-positions"}, strings.NewReader("ho\nhz\n"), &out, &errOut)
	require.NoError(t, err)
	assert.Equal(t, "ho\ttrue\t0,4\nhz\tfalse\n", out.String())
}

func TestRunNaiveMatchesIndexed(t *testing.T) {
	var indexed, naive, errOut bytes.Buffer
	queries := []string{"abc", "axc", "bgd", "ahbgdc", "x", "ahc"}
	require.NoError(t, run(append([]string{"-reference", "ahbgdc", "-positions"}, queries...), nil, &indexed, &errOut))
	require.NoError(t, run(append([]string{"-reference", "ahbgdc", "-positions", "-naive"}, queries...), nil, &naive, &errOut))
	assert.Equal(t, indexed.String(), naive.String())
}

func TestRunWithoutReference(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run([]string{"abc"}, strings.NewReader(""), &out, &errOut)
	assert.ErrorIs(t, err, matcher.ErrUninitialized)
	assert.Empty(t, out.String())
}

func TestRunEmptyReference(t *testing.T) {
	var out, errOut bytes.Buffer
	err := run([]string{"-reference", "", "a"}, strings.NewReader(""), &out, &errOut)
	require.NoError(t, err)
	assert.Equal(t, "a\tfalse\n", out.String())
}
