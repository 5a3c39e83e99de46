package static

import (
	"context"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/wayforge/wayforge/internal/transit"
)

// PostgresRepository is a PostgreSQL implementation of Repository.
type PostgresRepository struct {
	pool *pgxpool.Pool
}

// NewPostgresRepository creates a new PostgreSQL stop repository.
func NewPostgresRepository(pool *pgxpool.Pool) *PostgresRepository {
	return &PostgresRepository{pool: pool}
}

// ListStops implements Repository.
func (r *PostgresRepository) ListStops(ctx context.Context) ([]transit.Stop, error) {
	query := `
		SELECT id, name, lat, lon, modes, routes
		FROM stops
		ORDER BY id
	`

	rows, err := r.pool.Query(ctx, query)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var stops []transit.Stop
	for rows.Next() {
		var (
			stop  transit.Stop
			modes []string
		)
		if err := rows.Scan(&stop.ID, &stop.Name, &stop.Lat, &stop.Lon, &modes, &stop.Routes); err != nil {
			return nil, err
		}
		for _, name := range modes {
			m, err := transit.ParseMode(name)
			if err != nil {
				return nil, fmt.Errorf("stop %s: %w", stop.ID, err)
			}
			stop.Modes = append(stop.Modes, m)
		}
		stops = append(stops, stop)
	}

	if err := rows.Err(); err != nil {
		return nil, err
	}
	return stops, nil
}

// UpsertStops implements Repository.
func (r *PostgresRepository) UpsertStops(ctx context.Context, stops []transit.Stop) error {
	query := `
		INSERT INTO stops (id, name, lat, lon, modes, routes, updated_at)
		VALUES ($1, $2, $3, $4, $5, $6, now())
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			lat = EXCLUDED.lat,
			lon = EXCLUDED.lon,
			modes = EXCLUDED.modes,
			routes = EXCLUDED.routes,
			updated_at = EXCLUDED.updated_at
	`

	batch := &pgx.Batch{}
	for _, st := range stops {
		modes := make([]string, len(st.Modes))
		for i, m := range st.Modes {
			modes[i] = m.String()
		}
		routes := st.Routes
		if routes == nil {
			routes = []string{}
		}
		batch.Queue(query, st.ID, st.Name, st.Lat, st.Lon, modes, routes)
	}

	return r.pool.SendBatch(ctx, batch).Close()
}

// Ensure PostgresRepository implements Repository interface.
var _ Repository = (*PostgresRepository)(nil)
