package segment

import (
	"encoding/binary"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/internal/matcher"
)

func TestWriteAndLoad(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	m := matcher.Build("ahbgdc")

	name, err := w.Write("leetcode", m)
	require.NoError(t, err)
	assert.Equal(t, "leetcode.ssqx", name)

	r, err := OpenReader(filepath.Join(dir, name))
	require.NoError(t, err)
	defer r.Close()

	assert.Equal(t, "leetcode", r.ReferenceID())
	assert.Equal(t, "ahbgdc", r.Reference())
	assert.Equal(t, 6, r.Symbols())
	assert.EqualValues(t, 6, r.RefLength())

	loaded, err := r.Load()
	require.NoError(t, err)
	for _, q := range []string{"abc", "axc", "bgd", "ahbgdc", "x", ""} {
		assert.Equal(t, m.IsSubsequence(q), loaded.IsSubsequence(q), "query %q", q)
	}
}

func TestReaderPositions(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	name, err := w.Write("banana", matcher.Build("banana"))
	require.NoError(t, err)

	r, err := OpenReader(filepath.Join(dir, name))
	require.NoError(t, err)
	defer r.Close()

	got, err := r.Positions('a')
	require.NoError(t, err)
	assert.Equal(t, []int{1, 3, 5}, got)

	got, err = r.Positions('z')
	require.NoError(t, err)
	assert.Nil(t, got)
}

func TestWriteEmptyReference(t *testing.T) {
	dir := t.TempDir()
	name, err := NewWriter(dir).Write("empty", matcher.Build(""))
	require.NoError(t, err)

	r, err := OpenReader(filepath.Join(dir, name))
	require.NoError(t, err)
	defer r.Close()

	loaded, err := r.Load()
	require.NoError(t, err)
	assert.Equal(t, 0, loaded.Len())
	assert.True(t, loaded.IsSubsequence(""))
	assert.False(t, loaded.IsSubsequence("a"))
}

func TestOpenReaderRejectsBadMagic(t *testing.T) {
	path := filepath.Join(t.TempDir(), "bad.ssqx")
	require.NoError(t, os.WriteFile(path, make([]byte, HeaderSize+FooterSize), 0644))

	_, err := OpenReader(path)
	assert.ErrorContains(t, err, "bad magic")
}

func TestOpenReaderDetectsCorruption(t *testing.T) {
	dir := t.TempDir()
	name, err := NewWriter(dir).Write("corrupt", matcher.Build("hello"))
	require.NoError(t, err)
	path := filepath.Join(dir, name)

	data, err := os.ReadFile(path)
	require.NoError(t, err)
	data[HeaderSize] = 'j'
	require.NoError(t, os.WriteFile(path, data, 0644))

	_, err = OpenReader(path)
	assert.ErrorContains(t, err, "checksum mismatch")
}

func TestOpenReaderRejectsBadHeaderSizes(t *testing.T) {
	tests := []struct {
		name  string
		field int
		value uint64
	}{
		{"ref size overflow", 24, ^uint64(0)},
		{"ref size past body", 24, 1 << 20},
		{"dict offset negative", 32, ^uint64(0)},
		{"dict size past body", 40, 1 << 40},
		{"postings offset inside header", 48, 8},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			dir := t.TempDir()
			name, err := NewWriter(dir).Write("header", matcher.Build("ahbgdc"))
			require.NoError(t, err)
			path := filepath.Join(dir, name)

			data, err := os.ReadFile(path)
			require.NoError(t, err)
			binary.LittleEndian.PutUint64(data[tt.field:tt.field+8], tt.value)
			require.NoError(t, os.WriteFile(path, data, 0644))

			require.NotPanics(t, func() {
				_, err = OpenReader(path)
			})
			assert.ErrorContains(t, err, "outside body")
		})
	}
}

func TestRemove(t *testing.T) {
	dir := t.TempDir()
	w := NewWriter(dir)
	_, err := w.Write("gone", matcher.Build("abc"))
	require.NoError(t, err)

	require.NoError(t, w.Remove("gone"))
	_, err = os.Stat(filepath.Join(dir, FileName("gone")))
	assert.True(t, os.IsNotExist(err))
	assert.NoError(t, w.Remove("gone"))
}
