package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"CapIot.telemetry/internal/models"
	"github.com/lib/pq"
)

const defaultTable = "readings"

// PostgresRepository stores readings in a single table indexed for the
// latest-per-device and per-site range queries.
type PostgresRepository struct {
	db    *sql.DB
	table string
}

// NewPostgresRepository wraps an open database handle.
func NewPostgresRepository(db *sql.DB, table string) *PostgresRepository {
	if table == "" {
		table = defaultTable
	}
	return &PostgresRepository{db: db, table: pq.QuoteIdentifier(table)}
}

// OpenPostgres connects with dsn and creates the schema if needed.
func OpenPostgres(ctx context.Context, dsn string) (*PostgresRepository, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, models.NewStorageError("open", err)
	}
	db.SetMaxOpenConns(20)
	db.SetConnMaxIdleTime(5 * time.Minute)

	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, models.NewStorageError("ping", err)
	}

	repo := NewPostgresRepository(db, defaultTable)
	if err := repo.EnsureSchema(ctx); err != nil {
		db.Close()
		return nil, err
	}
	return repo, nil
}

// EnsureSchema creates the readings table and its three indexes.
func (p *PostgresRepository) EnsureSchema(ctx context.Context) error {
	stmts := []string{
		fmt.Sprintf(`CREATE TABLE IF NOT EXISTS %s (
	id UUID PRIMARY KEY,
	device_id TEXT NOT NULL,
	site_id TEXT NOT NULL,
	ts TIMESTAMPTZ NOT NULL,
	temperature DOUBLE PRECISION NOT NULL,
	humidity DOUBLE PRECISION NOT NULL,
	created_at TIMESTAMPTZ NOT NULL
)`, p.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS readings_device_ts_idx ON %s (device_id, ts DESC)`, p.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS readings_site_ts_idx ON %s (site_id, ts DESC)`, p.table),
		fmt.Sprintf(`CREATE INDEX IF NOT EXISTS readings_ts_idx ON %s (ts DESC)`, p.table),
	}
	for _, stmt := range stmts {
		if _, err := p.db.ExecContext(ctx, stmt); err != nil {
			return models.NewStorageError("ensure schema", err)
		}
	}
	return nil
}

// InsertBatch writes all records with one multi-row INSERT, which Postgres
// applies atomically.
func (p *PostgresRepository) InsertBatch(ctx context.Context, records []models.StoredReading) ([]models.StoredReading, error) {
	if len(records) == 0 {
		return nil, nil
	}
	stored := assignIdentity(records, time.Now().UTC())

	var b strings.Builder
	b.WriteString("INSERT INTO ")
	b.WriteString(p.table)
	b.WriteString(" (id, device_id, site_id, ts, temperature, humidity, created_at) VALUES ")

	args := make([]any, 0, len(stored)*7)
	for i, r := range stored {
		if i > 0 {
			b.WriteString(",")
		}
		n := len(args)
		fmt.Fprintf(&b, "($%d,$%d,$%d,$%d,$%d,$%d,$%d)", n+1, n+2, n+3, n+4, n+5, n+6, n+7)
		args = append(args, r.ID, r.DeviceID, r.SiteID, r.Timestamp, r.Metrics.Temperature, r.Metrics.Humidity, r.CreatedAt)
	}

	if _, err := p.db.ExecContext(ctx, b.String(), args...); err != nil {
		return nil, models.NewStorageError("insert", err)
	}
	return stored, nil
}

func (p *PostgresRepository) FindLatestByDevice(ctx context.Context, deviceID string) (*models.StoredReading, error) {
	q := fmt.Sprintf(`SELECT id, device_id, site_id, ts, temperature, humidity, created_at FROM %s WHERE device_id = $1 ORDER BY ts DESC LIMIT 1`, p.table)

	var r models.StoredReading
	err := p.db.QueryRowContext(ctx, q, deviceID).Scan(
		&r.ID, &r.DeviceID, &r.SiteID, &r.Timestamp, &r.Metrics.Temperature, &r.Metrics.Humidity, &r.CreatedAt,
	)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, models.NewStorageError("find latest", err)
	}
	r.Timestamp = r.Timestamp.UTC()
	r.CreatedAt = r.CreatedAt.UTC()
	return &r, nil
}

func (p *PostgresRepository) AggregateBySiteAndRange(ctx context.Context, siteID string, from, to time.Time) (models.SiteSummary, error) {
	q := fmt.Sprintf(`SELECT COUNT(*),
	COALESCE(AVG(temperature), 0), COALESCE(MAX(temperature), 0),
	COALESCE(AVG(humidity), 0), COALESCE(MAX(humidity), 0),
	COUNT(DISTINCT device_id)
FROM %s WHERE site_id = $1 AND ts >= $2 AND ts <= $3`, p.table)

	s := models.SiteSummary{SiteID: siteID, From: from, To: to}
	err := p.db.QueryRowContext(ctx, q, siteID, from, to).Scan(
		&s.Count, &s.AvgTemperature, &s.MaxTemperature, &s.AvgHumidity, &s.MaxHumidity, &s.UniqueDevices,
	)
	if err != nil {
		return models.SiteSummary{}, models.NewStorageError("aggregate", err)
	}
	return s, nil
}

func (p *PostgresRepository) Close() error {
	return p.db.Close()
}

var _ Repository = (*PostgresRepository)(nil)
