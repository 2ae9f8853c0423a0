// Package registry holds the named references the service answers queries
// against. Each reference is indexed once on registration, persisted as a
// segment file, and recorded in the metadata store; on startup the registry
// reloads segments instead of re-scanning references.
package registry

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"regexp"
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/internal/matcher"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/internal/matcher/segment"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/internal/store"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/config"
	apperrors "github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/errors"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/metrics"
)

var idPattern = regexp.MustCompile(`^[A-Za-z0-9._-]{1,128}$`)

// Entry is a registered reference and its built index. Fingerprint
// identifies the reference content, so an id that is deleted and bound again
// to other content never shares derived state such as cached results.
type Entry struct {
	ID          string
	Matcher     *matcher.Matcher
	Fingerprint string
	CreatedAt   time.Time
}

func newEntry(id string, m *matcher.Matcher, createdAt time.Time) *Entry {
	sum := sha256.Sum256([]byte(m.Reference()))
	return &Entry{
		ID:          id,
		Matcher:     m,
		Fingerprint: hex.EncodeToString(sum[:8]),
		CreatedAt:   createdAt,
	}
}

type Registry struct {
	entries map[string]*Entry
	mu      sync.RWMutex
	// writeMu serialises Register and Delete so segment files and store rows
	// never race for the same id.
	writeMu sync.Mutex
	writer  *segment.Writer
	store   store.Store
	cfg     config.MatcherConfig
	metrics *metrics.Metrics
	logger  *slog.Logger
}

// New creates the data directory and loads every existing segment. m may be
// nil.
func New(cfg config.MatcherConfig, st store.Store, m *metrics.Metrics) (*Registry, error) {
	if err := os.MkdirAll(cfg.DataDir, 0755); err != nil {
		return nil, fmt.Errorf("creating segment data directory: %w", err)
	}
	r := &Registry{
		entries: make(map[string]*Entry),
		writer:  segment.NewWriter(cfg.DataDir),
		store:   st,
		cfg:     cfg,
		metrics: m,
		logger:  slog.Default().With("component", "registry"),
	}
	if err := r.loadExistingSegments(); err != nil {
		return nil, fmt.Errorf("loading existing segments: %w", err)
	}
	return r, nil
}

// Register binds id to reference. Registering the same pair again returns the
// existing entry; a different reference under a taken id fails with
// ErrReferenceExists.
func (r *Registry) Register(ctx context.Context, id, reference string) (*Entry, bool, error) {
	if err := r.validate(id, reference); err != nil {
		return nil, false, err
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()

	if existing, ok := r.lookup(id); ok {
		if existing.Matcher.Reference() != reference {
			return nil, false, apperrors.New(apperrors.ErrReferenceExists, http.StatusConflict, fmt.Sprintf("reference %q is bound to different content", id))
		}
		return existing, false, nil
	}

	start := time.Now()
	m := matcher.Build(reference)
	if r.metrics != nil {
		r.metrics.IndexBuildDuration.Observe(time.Since(start).Seconds())
	}
	entry := newEntry(id, m, time.Now().UTC())
	if err := r.persist(ctx, entry); err != nil {
		return nil, false, err
	}

	r.mu.Lock()
	r.entries[id] = entry
	count := len(r.entries)
	r.mu.Unlock()
	r.observeCount(count)

	r.logger.Info("reference registered",
		"reference_id", id,
		"length", m.Len(),
		"symbols", m.SymbolCount(),
		"build_ms", time.Since(start).Milliseconds(),
	)
	return entry, true, nil
}

// Get returns the entry for id.
func (r *Registry) Get(id string) (*Entry, error) {
	entry, ok := r.lookup(id)
	if !ok {
		return nil, fmt.Errorf("reference %q: %w", id, apperrors.ErrReferenceNotFound)
	}
	return entry, nil
}

// List returns all entries ordered by id.
func (r *Registry) List() []*Entry {
	r.mu.RLock()
	out := make([]*Entry, 0, len(r.entries))
	for _, e := range r.entries {
		out = append(out, e)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool {
		return out[i].ID < out[j].ID
	})
	return out
}

// Len is the number of registered references.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.entries)
}

// Delete unregisters id and removes its segment and store record.
func (r *Registry) Delete(ctx context.Context, id string) error {
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	if _, ok := r.lookup(id); !ok {
		return fmt.Errorf("reference %q: %w", id, apperrors.ErrReferenceNotFound)
	}
	// Segment first: a store row without a segment is rebuilt by Recover,
	// while a segment without a row would be reloaded as an unrecorded entry.
	if err := r.writer.Remove(id); err != nil {
		return err
	}
	if err := r.store.Delete(ctx, id); err != nil && !errors.Is(err, store.ErrNotFound) {
		return fmt.Errorf("deleting reference record: %w", err)
	}
	r.mu.Lock()
	delete(r.entries, id)
	count := len(r.entries)
	r.mu.Unlock()
	r.observeCount(count)
	r.logger.Info("reference deleted", "reference_id", id)
	return nil
}

// Recover rebuilds entries for store records that have no segment on disk,
// for example after the data directory was lost.
func (r *Registry) Recover(ctx context.Context) (int, error) {
	records, err := r.store.List(ctx)
	if err != nil {
		return 0, fmt.Errorf("listing stored references: %w", err)
	}
	r.writeMu.Lock()
	defer r.writeMu.Unlock()
	rebuilt := 0
	for _, rec := range records {
		if _, ok := r.lookup(rec.ID); ok {
			continue
		}
		entry := newEntry(rec.ID, matcher.Build(rec.Reference), rec.CreatedAt)
		if _, err := r.writer.Write(rec.ID, entry.Matcher); err != nil {
			r.logger.Error("failed to rewrite segment during recovery", "reference_id", rec.ID, "error", err)
			continue
		}
		r.mu.Lock()
		r.entries[rec.ID] = entry
		r.mu.Unlock()
		rebuilt++
	}
	r.observeCount(r.Len())
	r.logger.Info("store recovery complete", "records", len(records), "rebuilt", rebuilt)
	return rebuilt, nil
}

func (r *Registry) persist(ctx context.Context, entry *Entry) error {
	name, err := r.writer.Write(entry.ID, entry.Matcher)
	if err != nil {
		r.countSegmentWrite("error")
		return fmt.Errorf("writing segment: %w", err)
	}
	r.countSegmentWrite("ok")
	rec := store.Record{
		ID:        entry.ID,
		Reference: entry.Matcher.Reference(),
		Length:    entry.Matcher.Len(),
		Symbols:   entry.Matcher.SymbolCount(),
		CreatedAt: entry.CreatedAt,
	}
	if err := r.store.Save(ctx, rec); err != nil {
		if rmErr := r.writer.Remove(entry.ID); rmErr != nil {
			r.logger.Error("failed to remove orphaned segment", "segment", name, "error", rmErr)
		}
		if errors.Is(err, store.ErrConflict) {
			return apperrors.New(apperrors.ErrReferenceExists, http.StatusConflict, fmt.Sprintf("reference %q is stored with different content", entry.ID))
		}
		return fmt.Errorf("saving reference record: %w", err)
	}
	return nil
}

func (r *Registry) validate(id, reference string) error {
	if !idPattern.MatchString(id) {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusBadRequest, "reference id %q must match %s", id, idPattern)
	}
	if n := len([]rune(reference)); n > r.cfg.MaxReferenceLength {
		return apperrors.Newf(apperrors.ErrInvalidInput, http.StatusRequestEntityTooLarge, "reference has %d symbols, limit is %d", n, r.cfg.MaxReferenceLength)
	}
	return nil
}

func (r *Registry) lookup(id string) (*Entry, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	e, ok := r.entries[id]
	return e, ok
}

func (r *Registry) observeCount(n int) {
	if r.metrics != nil {
		r.metrics.ReferencesRegistered.Set(float64(n))
	}
}

func (r *Registry) countSegmentWrite(status string) {
	if r.metrics != nil {
		r.metrics.SegmentWritesTotal.WithLabelValues(status).Inc()
	}
}

func (r *Registry) loadExistingSegments() error {
	dirEntries, err := os.ReadDir(r.cfg.DataDir)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return fmt.Errorf("reading data directory: %w", err)
	}
	for _, de := range dirEntries {
		if de.IsDir() || !strings.HasSuffix(de.Name(), segment.Extension) {
			continue
		}
		path := filepath.Join(r.cfg.DataDir, de.Name())
		entry, err := loadSegment(path)
		if err != nil {
			r.logger.Error("failed to load segment, skipping",
				"segment", de.Name(),
				"error", err,
			)
			continue
		}
		r.entries[entry.ID] = entry
		r.logger.Info("loaded existing segment",
			"segment", de.Name(),
			"length", entry.Matcher.Len(),
			"symbols", entry.Matcher.SymbolCount(),
		)
	}
	r.observeCount(len(r.entries))
	r.logger.Info("segment recovery complete", "segments_loaded", len(r.entries))
	return nil
}

func loadSegment(path string) (*Entry, error) {
	reader, err := segment.OpenReader(path)
	if err != nil {
		return nil, err
	}
	defer reader.Close()
	m, err := reader.Load()
	if err != nil {
		return nil, err
	}
	return newEntry(reader.ReferenceID(), m, reader.CreatedAt()), nil
}
