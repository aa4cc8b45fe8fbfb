package history

import (
	"context"
	"database/sql"
	"strconv"

	"github.com/lib/pq"
)

// PostgresStore implements Store using PostgreSQL.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed history store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

// Compile-time interface check
var _ Store = (*PostgresStore)(nil)

// Migrate creates the score_history table.
func (p *PostgresStore) Migrate(ctx context.Context) error {
	_, err := p.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS score_history (
			id                    VARCHAR(36) PRIMARY KEY,
			created_at            TIMESTAMPTZ NOT NULL DEFAULT NOW(),
			profile               JSONB NOT NULL,
			primary_model         VARCHAR(64) NOT NULL,
			primary_probability   DOUBLE PRECISION NOT NULL,
			secondary_model       VARCHAR(64) NOT NULL,
			secondary_probability DOUBLE PRECISION NOT NULL,
			decision              SMALLINT NOT NULL,
			risk_tier             VARCHAR(10) NOT NULL,
			recommendations       JSONB,
			defaulted_fields      TEXT[]
		);

		CREATE INDEX IF NOT EXISTS idx_score_history_created ON score_history(created_at DESC);
		CREATE INDEX IF NOT EXISTS idx_score_history_tier ON score_history(risk_tier);
	`)
	return err
}

// Create stores a new record.
func (p *PostgresStore) Create(ctx context.Context, rec *Record) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO score_history (
			id, created_at, profile,
			primary_model, primary_probability,
			secondary_model, secondary_probability,
			decision, risk_tier, recommendations, defaulted_fields
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11)
	`,
		rec.ID, rec.CreatedAt, []byte(rec.Profile),
		rec.PrimaryModel, rec.PrimaryProbability,
		rec.SecondaryModel, rec.SecondaryProbability,
		rec.Decision, rec.RiskTier, nullableJSON(rec.Recommendations),
		pq.Array(rec.DefaultedFields),
	)
	return err
}

// Get retrieves a record by ID.
func (p *PostgresStore) Get(ctx context.Context, id string) (*Record, error) {
	rec := &Record{}
	var recommendations []byte

	err := p.db.QueryRowContext(ctx, `
		SELECT id, created_at, profile,
		       primary_model, primary_probability,
		       secondary_model, secondary_probability,
		       decision, risk_tier, recommendations, defaulted_fields
		FROM score_history WHERE id = $1
	`, id).Scan(
		&rec.ID, &rec.CreatedAt, (*[]byte)(&rec.Profile),
		&rec.PrimaryModel, &rec.PrimaryProbability,
		&rec.SecondaryModel, &rec.SecondaryProbability,
		&rec.Decision, &rec.RiskTier, &recommendations,
		pq.Array(&rec.DefaultedFields),
	)
	if err == sql.ErrNoRows {
		return nil, ErrRecordNotFound
	}
	if err != nil {
		return nil, err
	}
	rec.Recommendations = recommendations
	return rec, nil
}

// List returns records matching the filters, newest first.
func (p *PostgresStore) List(ctx context.Context, opts ListOptions) ([]*Record, error) {
	query := `SELECT id, created_at, profile,
	                 primary_model, primary_probability,
	                 secondary_model, secondary_probability,
	                 decision, risk_tier, recommendations, defaulted_fields
	          FROM score_history WHERE 1=1`
	args := []interface{}{}
	n := 1

	if opts.RiskTier != "" {
		query += " AND risk_tier = $" + strconv.Itoa(n)
		args = append(args, opts.RiskTier)
		n++
	}
	if opts.Decision != nil {
		query += " AND decision = $" + strconv.Itoa(n)
		args = append(args, *opts.Decision)
		n++
	}

	limit := opts.Limit
	if limit <= 0 {
		limit = 50
	}
	query += " ORDER BY created_at DESC, id DESC LIMIT $" + strconv.Itoa(n)
	args = append(args, limit)

	rows, err := p.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var records []*Record
	for rows.Next() {
		rec := &Record{}
		var recommendations []byte
		if err := rows.Scan(
			&rec.ID, &rec.CreatedAt, (*[]byte)(&rec.Profile),
			&rec.PrimaryModel, &rec.PrimaryProbability,
			&rec.SecondaryModel, &rec.SecondaryProbability,
			&rec.Decision, &rec.RiskTier, &recommendations,
			pq.Array(&rec.DefaultedFields),
		); err != nil {
			return nil, err
		}
		rec.Recommendations = recommendations
		records = append(records, rec)
	}
	return records, rows.Err()
}

// Count returns the number of stored records.
func (p *PostgresStore) Count(ctx context.Context) (int, error) {
	var n int
	err := p.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM score_history`).Scan(&n)
	return n, err
}

// nullableJSON maps an empty payload to SQL NULL instead of invalid JSONB.
func nullableJSON(b []byte) interface{} {
	if len(b) == 0 {
		return nil
	}
	return []byte(b)
}
