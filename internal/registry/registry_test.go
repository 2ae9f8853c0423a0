package registry

import (
	"context"
	"errors"
	"net/http"
	"os"
	"path/filepath"
	"testing"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/internal/matcher/segment"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/internal/store"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/metrics"
)

func testConfig(t *testing.T) config.MatcherConfig {
	return config.MatcherConfig{
		DataDir:            t.TempDir(),
		MaxReferenceLength: 64,
		MaxQueryLength:     64,
		MaxBatchQueries:    10,
	}
}

func TestRegisterAndGet(t *testing.T) {
	m := metrics.New()
	st := store.NewMemoryStore()
	r, err := New(testConfig(t), st, m)
	require.NoError(t, err)

	entry, created, err := r.Register(context.Background(), "leetcode", "ahbgdc")
	require.NoError(t, err)
	assert.True(t, created)
	assert.True(t, entry.Matcher.IsSubsequence("abc"))

	got, err := r.Get("leetcode")
	require.NoError(t, err)
	assert.Same(t, entry, got)

	rec, err := st.Get(context.Background(), "leetcode")
	require.NoError(t, err)
	assert.Equal(t, 6, rec.Length)
	assert.Equal(t, 1.0, testutil.ToFloat64(m.ReferencesRegistered))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.SegmentWritesTotal.WithLabelValues("ok")))
}

func TestRegisterIsIdempotentForSameReference(t *testing.T) {
	r, err := New(testConfig(t), store.NewMemoryStore(), nil)
	require.NoError(t, err)
	first, _, err := r.Register(context.Background(), "ref", "hello")
	require.NoError(t, err)

	second, created, err := r.Register(context.Background(), "ref", "hello")
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, first, second)
}

func TestRegisterRejectsRebinding(t *testing.T) {
	r, err := New(testConfig(t), store.NewMemoryStore(), nil)
	require.NoError(t, err)
	_, _, err = r.Register(context.Background(), "ref", "hello")
	require.NoError(t, err)

	_, _, err = r.Register(context.Background(), "ref", "world")
	assert.ErrorIs(t, err, apperrors.ErrReferenceExists)
	assert.Equal(t, 409, apperrors.HTTPStatusCode(err))

	entry, err := r.Get("ref")
	require.NoError(t, err)
	assert.Equal(t, "hello", entry.Matcher.Reference())
}

func TestRegisterValidates(t *testing.T) {
	r, err := New(testConfig(t), store.NewMemoryStore(), nil)
	require.NoError(t, err)

	for _, id := range []string{"", "has space", "../escape", "a/b"} {
		_, _, err := r.Register(context.Background(), id, "abc")
		assert.ErrorIs(t, err, apperrors.ErrInvalidInput, "id %q", id)
	}

	long := make([]rune, 65)
	for i := range long {
		long[i] = 'x'
	}
	_, _, err = r.Register(context.Background(), "long", string(long))
	assert.ErrorIs(t, err, apperrors.ErrInvalidInput)
	assert.Equal(t, 413, apperrors.HTTPStatusCode(err))
}

func TestRegisterEmptyReference(t *testing.T) {
	r, err := New(testConfig(t), store.NewMemoryStore(), nil)
	require.NoError(t, err)
	entry, _, err := r.Register(context.Background(), "empty", "")
	require.NoError(t, err)
	assert.True(t, entry.Matcher.IsSubsequence(""))
	assert.False(t, entry.Matcher.IsSubsequence("a"))
}

func TestGetUnknown(t *testing.T) {
	r, err := New(testConfig(t), store.NewMemoryStore(), nil)
	require.NoError(t, err)
	_, err = r.Get("missing")
	assert.ErrorIs(t, err, apperrors.ErrReferenceNotFound)
}

func TestSegmentsSurviveRestart(t *testing.T) {
	cfg := testConfig(t)
	r, err := New(cfg, store.NewMemoryStore(), nil)
	require.NoError(t, err)
	_, _, err = r.Register(context.Background(), "a", "ahbgdc")
	require.NoError(t, err)
	_, _, err = r.Register(context.Background(), "b", "hello")
	require.NoError(t, err)

	reopened, err := New(cfg, store.NewMemoryStore(), nil)
	require.NoError(t, err)
	assert.Equal(t, 2, reopened.Len())
	entry, err := reopened.Get("b")
	require.NoError(t, err)
	positions, ok := entry.Matcher.Match("ho")
	require.True(t, ok)
	assert.Equal(t, []int{0, 4}, positions)

	ids := []string{}
	for _, e := range reopened.List() {
		ids = append(ids, e.ID)
	}
	assert.Equal(t, []string{"a", "b"}, ids)
}

func TestCorruptSegmentIsSkipped(t *testing.T) {
	cfg := testConfig(t)
	require.NoError(t, os.WriteFile(filepath.Join(cfg.DataDir, "broken"+segment.Extension), []byte("garbage"), 0644))

	r, err := New(cfg, store.NewMemoryStore(), nil)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())
}

func TestDelete(t *testing.T) {
	cfg := testConfig(t)
	st := store.NewMemoryStore()
	r, err := New(cfg, st, nil)
	require.NoError(t, err)
	_, _, err = r.Register(context.Background(), "gone", "abc")
	require.NoError(t, err)

	require.NoError(t, r.Delete(context.Background(), "gone"))
	_, err = r.Get("gone")
	assert.ErrorIs(t, err, apperrors.ErrReferenceNotFound)
	_, err = os.Stat(filepath.Join(cfg.DataDir, segment.FileName("gone")))
	assert.True(t, os.IsNotExist(err))
	_, err = st.Get(context.Background(), "gone")
	assert.ErrorIs(t, err, store.ErrNotFound)

	assert.ErrorIs(t, r.Delete(context.Background(), "gone"), apperrors.ErrReferenceNotFound)
}

func TestRecoverRebuildsFromStore(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.Save(context.Background(), store.Record{ID: "stored", Reference: "ahbgdc"}))

	cfg := testConfig(t)
	r, err := New(cfg, st, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, r.Len())

	n, err := r.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	entry, err := r.Get("stored")
	require.NoError(t, err)
	assert.True(t, entry.Matcher.IsSubsequence("bgd"))
	_, err = os.Stat(filepath.Join(cfg.DataDir, segment.FileName("stored")))
	assert.NoError(t, err)
}

type failingStore struct{ *store.MemoryStore }

func (failingStore) Save(context.Context, store.Record) error { return errors.New("db down") }

func TestRegisterStoreFailureRemovesSegment(t *testing.T) {
	cfg := testConfig(t)
	r, err := New(cfg, failingStore{store.NewMemoryStore()}, nil)
	require.NoError(t, err)

	_, _, err = r.Register(context.Background(), "x", "abc")
	assert.ErrorContains(t, err, "db down")
	assert.Equal(t, 0, r.Len())
	_, err = os.Stat(filepath.Join(cfg.DataDir, segment.FileName("x")))
	assert.True(t, os.IsNotExist(err))
}

func TestRegisterConflictingStoredRecord(t *testing.T) {
	st := store.NewMemoryStore()
	require.NoError(t, st.Save(context.Background(), store.Record{ID: "taken", Reference: "other"}))
	cfg := testConfig(t)
	r, err := New(cfg, st, nil)
	require.NoError(t, err)

	_, _, err = r.Register(context.Background(), "taken", "abc")
	assert.ErrorIs(t, err, apperrors.ErrReferenceExists)
	assert.Equal(t, http.StatusConflict, apperrors.HTTPStatusCode(err))
	assert.Equal(t, 0, r.Len())
	_, err = os.Stat(filepath.Join(cfg.DataDir, segment.FileName("taken")))
	assert.True(t, os.IsNotExist(err))
}

type failingDeleteStore struct{ *store.MemoryStore }

func (failingDeleteStore) Delete(context.Context, string) error { return errors.New("db down") }

func TestDeleteStoreFailureKeepsRecord(t *testing.T) {
	st := failingDeleteStore{store.NewMemoryStore()}
	cfg := testConfig(t)
	r, err := New(cfg, st, nil)
	require.NoError(t, err)
	_, _, err = r.Register(context.Background(), "kept", "ahbgdc")
	require.NoError(t, err)

	assert.ErrorContains(t, r.Delete(context.Background(), "kept"), "db down")
	_, err = r.Get("kept")
	require.NoError(t, err)
	_, err = st.Get(context.Background(), "kept")
	require.NoError(t, err)

	reopened, err := New(cfg, st, nil)
	require.NoError(t, err)
	n, err := reopened.Recover(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 1, n)
	entry, err := reopened.Get("kept")
	require.NoError(t, err)
	assert.True(t, entry.Matcher.IsSubsequence("abc"))
}

func TestCorruptSegmentHeaderIsSkipped(t *testing.T) {
	cfg := testConfig(t)
	r, err := New(cfg, store.NewMemoryStore(), nil)
	require.NoError(t, err)
	_, _, err = r.Register(context.Background(), "damaged", "ahbgdc")
	require.NoError(t, err)

	path := filepath.Join(cfg.DataDir, segment.FileName("damaged"))
	data, err := os.ReadFile(path)
	require.NoError(t, err)
	for i := 24; i < 32; i++ {
		data[i] = 0xFF
	}
	require.NoError(t, os.WriteFile(path, data, 0644))

	var reopened *Registry
	require.NotPanics(t, func() {
		reopened, err = New(cfg, store.NewMemoryStore(), nil)
	})
	require.NoError(t, err)
	assert.Equal(t, 0, reopened.Len())
}

func TestEntryFingerprintTracksContent(t *testing.T) {
	r, err := New(testConfig(t), store.NewMemoryStore(), nil)
	require.NoError(t, err)
	a, _, err := r.Register(context.Background(), "a", "ahbgdc")
	require.NoError(t, err)
	b, _, err := r.Register(context.Background(), "b", "ahbgdc")
	require.NoError(t, err)
	c, _, err := r.Register(context.Background(), "c", "xyz")
	require.NoError(t, err)

	assert.NotEmpty(t, a.Fingerprint)
	assert.Equal(t, a.Fingerprint, b.Fingerprint)
	assert.NotEqual(t, a.Fingerprint, c.Fingerprint)
}
