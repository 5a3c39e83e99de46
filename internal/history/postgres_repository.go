package history

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wayforge/wayforge/internal/optimizer"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL history repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// Save implements Repository.
func (r *PostgresRepository) Save(ctx context.Context, result *optimizer.Result) error {
	body, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("encoding result: %w", err)
	}

	var bestMode *string
	if best, ok := result.Best(); ok {
		m := best.Candidate.Mode.String()
		bestMode = &m
	}

	query := `
		INSERT INTO optimizations (
			id, strategy,
			source_lat, source_lon,
			destination_lat, destination_lon,
			best_mode, option_count, result, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		ON CONFLICT (id) DO UPDATE SET
			result = EXCLUDED.result,
			best_mode = EXCLUDED.best_mode,
			option_count = EXCLUDED.option_count
	`

	_, err = r.pool.Exec(ctx, query,
		result.ID,
		string(result.Strategy),
		result.Source.Lat,
		result.Source.Lon,
		result.Destination.Lat,
		result.Destination.Lon,
		bestMode,
		len(result.Options),
		body,
		result.GeneratedAt,
	)
	return err
}

// Get implements Repository.
func (r *PostgresRepository) Get(ctx context.Context, id uuid.UUID) (*optimizer.Result, error) {
	query := `SELECT result FROM optimizations WHERE id = $1`

	var body []byte
	if err := r.pool.QueryRow(ctx, query, id).Scan(&body); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}

	var result optimizer.Result
	if err := json.Unmarshal(body, &result); err != nil {
		return nil, fmt.Errorf("decoding result %s: %w", id, err)
	}
	return &result, nil
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
