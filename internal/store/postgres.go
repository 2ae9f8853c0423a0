package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"

	"github.com/lib/pq"

	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/postgres"
	"github.com/Adithya-Monish-Kumar-K/subseq-matcher/pkg/resilience"
)

const schema = `
CREATE TABLE IF NOT EXISTS references_index (
	id         TEXT PRIMARY KEY,
	reference  TEXT NOT NULL,
	length     INTEGER NOT NULL,
	symbols    INTEGER NOT NULL,
	created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`

// PostgresStore is a Store backed by the references_index table.
type PostgresStore struct {
	client *postgres.Client
	retry  resilience.Policy
	logger *slog.Logger
}

func NewPostgresStore(client *postgres.Client) *PostgresStore {
	return &PostgresStore{
		client: client,
		retry:  resilience.Policy{Retryable: isTransient},
		logger: slog.Default().With("component", "reference-store"),
	}
}

// Migrate creates the table if it does not exist.
func (s *PostgresStore) Migrate(ctx context.Context) error {
	if _, err := s.client.DB.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("creating references table: %w", err)
	}
	return nil
}

func (s *PostgresStore) Save(ctx context.Context, rec Record) error {
	return resilience.Retry(ctx, "save-reference", s.retry, func() error {
		return s.client.InTx(ctx, func(tx *sql.Tx) error {
			res, err := tx.ExecContext(ctx,
				`INSERT INTO references_index (id, reference, length, symbols, created_at)
				 VALUES ($1, $2, $3, $4, $5)
				 ON CONFLICT (id) DO NOTHING`,
				rec.ID, rec.Reference, rec.Length, rec.Symbols, rec.CreatedAt,
			)
			if err != nil {
				return fmt.Errorf("inserting reference %s: %w", rec.ID, err)
			}
			if n, _ := res.RowsAffected(); n > 0 {
				return nil
			}
			var stored string
			if err := tx.QueryRowContext(ctx,
				`SELECT reference FROM references_index WHERE id = $1`, rec.ID,
			).Scan(&stored); err != nil {
				return fmt.Errorf("reading stored reference %s: %w", rec.ID, err)
			}
			if stored != rec.Reference {
				return fmt.Errorf("reference %s: %w", rec.ID, ErrConflict)
			}
			s.logger.Debug("reference already stored", "reference_id", rec.ID)
			return nil
		})
	})
}

func (s *PostgresStore) Get(ctx context.Context, id string) (Record, error) {
	var rec Record
	err := s.client.DB.QueryRowContext(ctx,
		`SELECT id, reference, length, symbols, created_at FROM references_index WHERE id = $1`, id,
	).Scan(&rec.ID, &rec.Reference, &rec.Length, &rec.Symbols, &rec.CreatedAt)
	if errors.Is(err, sql.ErrNoRows) {
		return Record{}, ErrNotFound
	}
	if err != nil {
		return Record{}, fmt.Errorf("querying reference %s: %w", id, err)
	}
	return rec, nil
}

func (s *PostgresStore) List(ctx context.Context) ([]Record, error) {
	rows, err := s.client.DB.QueryContext(ctx,
		`SELECT id, reference, length, symbols, created_at FROM references_index ORDER BY id`)
	if err != nil {
		return nil, fmt.Errorf("listing references: %w", err)
	}
	defer rows.Close()
	var out []Record
	for rows.Next() {
		var rec Record
		if err := rows.Scan(&rec.ID, &rec.Reference, &rec.Length, &rec.Symbols, &rec.CreatedAt); err != nil {
			return nil, fmt.Errorf("scanning reference row: %w", err)
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("iterating reference rows: %w", err)
	}
	return out, nil
}

func (s *PostgresStore) Delete(ctx context.Context, id string) error {
	return resilience.Retry(ctx, "delete-reference", s.retry, func() error {
		res, err := s.client.DB.ExecContext(ctx, `DELETE FROM references_index WHERE id = $1`, id)
		if err != nil {
			return fmt.Errorf("deleting reference %s: %w", id, err)
		}
		if n, _ := res.RowsAffected(); n == 0 {
			return ErrNotFound
		}
		return nil
	})
}

// isTransient reports whether a Postgres error is worth retrying. Integrity
// and syntax errors (classes 22, 23, 42), missing rows and conflicting
// references are permanent.
func isTransient(err error) bool {
	if errors.Is(err, ErrNotFound) || errors.Is(err, ErrConflict) || errors.Is(err, context.Canceled) {
		return false
	}
	var pqErr *pq.Error
	if errors.As(err, &pqErr) {
		switch pqErr.Code.Class() {
		case "22", "23", "42":
			return false
		}
	}
	return true
}
