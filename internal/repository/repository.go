package repository

import (
	"context"
	"database/sql"
	_ "embed"
	"fmt"
	"log/slog"
	"time"

	"cloudpico-bridge/internal/telemetry"
)

//go:embed sql/insert-temperature.sql
var insertTemperatureSQL string

//go:embed sql/insert-pressure.sql
var insertPressureSQL string

//go:embed sql/get-latest-temperature.sql
var getLatestTemperatureSQL string

//go:embed sql/get-latest-pressure.sql
var getLatestPressureSQL string

//go:embed sql/count-temperature.sql
var countTemperatureSQL string

//go:embed sql/count-pressure.sql
var countPressureSQL string

// Record is one synced reading as stored, with its store-assigned timestamp.
type Record struct {
	ID        int64     `json:"id"`
	Value     float64   `json:"value"`
	CreatedAt time.Time `json:"created_at"`
}

type ReadingsRepository interface {
	// Insert stores a single value under the collection for kind.
	Insert(ctx context.Context, kind telemetry.Kind, value float32) (int64, error)
	GetLatest(ctx context.Context, kind telemetry.Kind, limit int) ([]Record, error)
	Count(ctx context.Context, kind telemetry.Kind) (int, error)
}

type statements struct {
	insert, latest, count string
}

type repositoryImpl struct {
	db *sql.DB
}

func NewRepository(db *sql.DB) ReadingsRepository {
	return &repositoryImpl{db: db}
}

// Collection returns the table name readings of kind are synced to.
func Collection(kind telemetry.Kind) (string, bool) {
	switch kind {
	case telemetry.Temperature:
		return "temperature", true
	case telemetry.Pressure:
		return "pressure", true
	default:
		return "", false
	}
}

func statementsFor(kind telemetry.Kind) (statements, error) {
	switch kind {
	case telemetry.Temperature:
		return statements{insertTemperatureSQL, getLatestTemperatureSQL, countTemperatureSQL}, nil
	case telemetry.Pressure:
		return statements{insertPressureSQL, getLatestPressureSQL, countPressureSQL}, nil
	default:
		return statements{}, fmt.Errorf("no collection for %s readings", kind)
	}
}

func (r *repositoryImpl) Insert(ctx context.Context, kind telemetry.Kind, value float32) (int64, error) {
	st, err := statementsFor(kind)
	if err != nil {
		return 0, err
	}
	res, err := r.db.ExecContext(ctx, st.insert, float64(value))
	if err != nil {
		return 0, fmt.Errorf("insert %s reading: %w", kind, err)
	}
	return res.LastInsertId()
}

func (r *repositoryImpl) GetLatest(ctx context.Context, kind telemetry.Kind, limit int) ([]Record, error) {
	st, err := statementsFor(kind)
	if err != nil {
		return nil, err
	}
	rows, err := r.db.QueryContext(ctx, st.latest, limit)
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := rows.Close(); err != nil {
			slog.Error("close latest readings rows", "error", err)
		}
	}()

	var out []Record
	for rows.Next() {
		var (
			rec Record
			ts  string
		)
		if err := rows.Scan(&rec.ID, &rec.Value, &ts); err != nil {
			return nil, err
		}
		t, err := time.Parse(time.RFC3339Nano, ts)
		if err != nil {
			return nil, fmt.Errorf("parse timestamp %q: %w", ts, err)
		}
		rec.CreatedAt = t
		out = append(out, rec)
	}
	return out, rows.Err()
}

func (r *repositoryImpl) Count(ctx context.Context, kind telemetry.Kind) (int, error) {
	st, err := statementsFor(kind)
	if err != nil {
		return 0, err
	}
	var n int
	err = r.db.QueryRowContext(ctx, st.count).Scan(&n)
	return n, err
}
