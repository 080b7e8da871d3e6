package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/lox/agriadvisor/internal/logging"
)

type migration struct {
	Version     int
	Description string
	SQLite      []string
	Postgres    []string
}

func (m migration) statements(d Dialect) []string {
	if d == DialectPostgres {
		return m.Postgres
	}
	return m.SQLite
}

var migrations = []migration{
	{
		Version:     1,
		Description: "Initial schema",
		SQLite: []string{
			`CREATE TABLE IF NOT EXISTS users (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    username TEXT NOT NULL UNIQUE,
    email TEXT,
    full_name TEXT,
    farm_location TEXT,
    created_at DATETIME NOT NULL DEFAULT CURRENT_TIMESTAMP
)`,
			`CREATE TABLE IF NOT EXISTS sensor_data (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL REFERENCES users(id),
    soil_moisture REAL,
    air_temperature REAL,
    air_humidity REAL,
    soil_temperature REAL,
    soil_ph REAL,
    light_intensity REAL,
    sensor_id TEXT,
    recorded_at DATETIME NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS weather_logs (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL REFERENCES users(id),
    location TEXT NOT NULL,
    latitude REAL,
    longitude REAL,
    temperature REAL NOT NULL,
    feels_like REAL,
    humidity REAL NOT NULL,
    pressure REAL,
    wind_speed REAL,
    weather_condition TEXT,
    weather_description TEXT,
    api_response TEXT,
    fetched_at DATETIME NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS predictions (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    user_id INTEGER NOT NULL REFERENCES users(id),
    sensor_data_id INTEGER REFERENCES sensor_data(id),
    weather_log_id INTEGER REFERENCES weather_logs(id),
    confidence_score REAL NOT NULL,
    recommendation TEXT NOT NULL,
    crop_type TEXT,
    model_version TEXT NOT NULL,
    prediction_type TEXT NOT NULL,
    created_at DATETIME NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_sensor_user_time ON sensor_data(user_id, recorded_at)`,
			`CREATE INDEX IF NOT EXISTS idx_weather_user_time ON weather_logs(user_id, fetched_at)`,
			`CREATE INDEX IF NOT EXISTS idx_predictions_user_time ON predictions(user_id, created_at)`,
		},
		Postgres: []string{
			`CREATE TABLE IF NOT EXISTS users (
    id BIGSERIAL PRIMARY KEY,
    username TEXT NOT NULL UNIQUE,
    email TEXT,
    full_name TEXT,
    farm_location TEXT,
    created_at TIMESTAMPTZ NOT NULL DEFAULT NOW()
)`,
			`CREATE TABLE IF NOT EXISTS sensor_data (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id),
    soil_moisture DOUBLE PRECISION,
    air_temperature DOUBLE PRECISION,
    air_humidity DOUBLE PRECISION,
    soil_temperature DOUBLE PRECISION,
    soil_ph DOUBLE PRECISION,
    light_intensity DOUBLE PRECISION,
    sensor_id TEXT,
    recorded_at TIMESTAMPTZ NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS weather_logs (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id),
    location TEXT NOT NULL,
    latitude DOUBLE PRECISION,
    longitude DOUBLE PRECISION,
    temperature DOUBLE PRECISION NOT NULL,
    feels_like DOUBLE PRECISION,
    humidity DOUBLE PRECISION NOT NULL,
    pressure DOUBLE PRECISION,
    wind_speed DOUBLE PRECISION,
    weather_condition TEXT,
    weather_description TEXT,
    api_response TEXT,
    fetched_at TIMESTAMPTZ NOT NULL
)`,
			`CREATE TABLE IF NOT EXISTS predictions (
    id BIGSERIAL PRIMARY KEY,
    user_id BIGINT NOT NULL REFERENCES users(id),
    sensor_data_id BIGINT REFERENCES sensor_data(id),
    weather_log_id BIGINT REFERENCES weather_logs(id),
    confidence_score DOUBLE PRECISION NOT NULL,
    recommendation TEXT NOT NULL,
    crop_type TEXT,
    model_version TEXT NOT NULL,
    prediction_type TEXT NOT NULL,
    created_at TIMESTAMPTZ NOT NULL
)`,
			`CREATE INDEX IF NOT EXISTS idx_sensor_user_time ON sensor_data(user_id, recorded_at)`,
			`CREATE INDEX IF NOT EXISTS idx_weather_user_time ON weather_logs(user_id, fetched_at)`,
			`CREATE INDEX IF NOT EXISTS idx_predictions_user_time ON predictions(user_id, created_at)`,
		},
	},
}

// Migrate applies any migrations not yet recorded in schema_migrations.
func (s *Store) Migrate(ctx context.Context) error {
	if err := s.ensureMigrationsTable(ctx); err != nil {
		return fmt.Errorf("ensure migrations table: %w", err)
	}

	applied, err := s.getAppliedMigrations(ctx)
	if err != nil {
		return fmt.Errorf("get applied migrations: %w", err)
	}

	for _, m := range migrations {
		if applied[m.Version] {
			continue
		}

		logging.Info().Int("version", m.Version).Str("description", m.Description).Str("dialect", s.dialect.String()).Msg("applying migration")

		err := s.withTx(ctx, func(tx *sql.Tx) error {
			for _, stmt := range m.statements(s.dialect) {
				if _, err := tx.ExecContext(ctx, stmt); err != nil {
					return fmt.Errorf("execute migration %d: %w", m.Version, err)
				}
			}
			if _, err := tx.ExecContext(ctx, s.rebind(
				"INSERT INTO schema_migrations (version, description, applied_at) VALUES (?, ?, ?)"),
				m.Version, m.Description, time.Now().UTC(),
			); err != nil {
				return fmt.Errorf("record migration %d: %w", m.Version, err)
			}
			return nil
		})
		if err != nil {
			return err
		}

		logging.Info().Int("version", m.Version).Msg("migration complete")
	}

	return nil
}

func (s *Store) ensureMigrationsTable(ctx context.Context) error {
	appliedType := "DATETIME"
	if s.dialect == DialectPostgres {
		appliedType = "TIMESTAMPTZ"
	}
	_, err := s.db.ExecContext(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			version INTEGER PRIMARY KEY,
			description TEXT,
			applied_at `+appliedType+`
		)
	`)
	return err
}

func (s *Store) getAppliedMigrations(ctx context.Context) (map[int]bool, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT version FROM schema_migrations")
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	applied := make(map[int]bool)
	for rows.Next() {
		var version int
		if err := rows.Scan(&version); err != nil {
			return nil, err
		}
		applied[version] = true
	}
	return applied, rows.Err()
}

// MigrationVersion returns the highest applied migration, or 0 on a fresh
// database.
func (s *Store) MigrationVersion(ctx context.Context) (int, error) {
	var version sql.NullInt64
	err := s.db.QueryRowContext(ctx, "SELECT MAX(version) FROM schema_migrations").Scan(&version)
	if err != nil {
		return 0, err
	}
	if !version.Valid {
		return 0, nil
	}
	return int(version.Int64), nil
}
