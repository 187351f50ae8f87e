package storage

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	_ "github.com/lib/pq"
	"github.com/pressly/goose/v3"

	"github.com/example/haul-dispatch/internal/models"
	"github.com/example/haul-dispatch/migrations"
)

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(ctx context.Context, dsn string) (*PostgresStore, error) {
	db, err := sql.Open("postgres", dsn)
	if err != nil {
		return nil, fmt.Errorf("open postgres: %w", err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("ping postgres: %w", err)
	}
	return &PostgresStore{db: db}, nil
}

// Migrate applies pending schema migrations and returns how many ran.
func (p *PostgresStore) Migrate(ctx context.Context) (int, error) {
	provider, err := goose.NewProvider(goose.DialectPostgres, p.db, migrations.FS)
	if err != nil {
		return 0, fmt.Errorf("goose provider: %w", err)
	}
	results, err := provider.Up(ctx)
	if err != nil {
		return 0, fmt.Errorf("migrate: %w", err)
	}
	return len(results), nil
}

const orderColumns = `id, vendor_id, driver_id, pickup_location, drop_location, load_type, load_weight_kg, fare_amount, status, created_at, updated_at`

func (p *PostgresStore) CreateRecord(ctx context.Context, n NewOrder) (models.Order, error) {
	if err := n.Validate(); err != nil {
		return models.Order{}, err
	}
	row := p.db.QueryRowContext(ctx,
		`INSERT INTO orders (id, vendor_id, pickup_location, drop_location, load_type, load_weight_kg, status)
		 VALUES ($1, $2, $3, $4, $5, $6, $7)
		 RETURNING `+orderColumns,
		uuid.NewString(), strings.TrimSpace(n.VendorID), strings.TrimSpace(n.PickupLocation),
		strings.TrimSpace(n.DropLocation), strings.TrimSpace(n.LoadType), nullFloat(n.LoadWeightKg), models.OrderPending)
	o, err := scanOrder(row)
	if err != nil {
		return models.Order{}, fmt.Errorf("create order: %w", err)
	}
	return o, nil
}

func (p *PostgresStore) SaveTrip(ctx context.Context, o models.Order) error {
	if o.ID == "" {
		return fmt.Errorf("%w: missing id", ErrInvalidOrder)
	}
	created := o.CreatedAt
	if created.IsZero() {
		created = time.Now()
	}
	_, err := p.db.ExecContext(ctx,
		`INSERT INTO orders (id, vendor_id, driver_id, pickup_location, drop_location, load_type, load_weight_kg, fare_amount, status, created_at, updated_at)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, now())
		 ON CONFLICT (id) DO UPDATE SET
		   driver_id = EXCLUDED.driver_id,
		   fare_amount = EXCLUDED.fare_amount,
		   status = EXCLUDED.status,
		   updated_at = now()`,
		o.ID, o.VendorID, nullString(o.DriverID), o.PickupLocation, o.DropLocation, o.LoadType,
		nullFloat(o.LoadWeightKg), nullFloat(o.FareAmount), o.Status, created)
	if err != nil {
		return fmt.Errorf("save trip %s: %w", o.ID, err)
	}
	return nil
}

func (p *PostgresStore) UpdateStatus(ctx context.Context, id string, status models.OrderStatus) error {
	res, err := p.db.ExecContext(ctx, `UPDATE orders SET status = $1, updated_at = now() WHERE id = $2`, status, id)
	if err != nil {
		return fmt.Errorf("update order %s: %w", id, err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update order %s: %w", id, err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (p *PostgresStore) ListByStatus(ctx context.Context, status models.OrderStatus) ([]models.Order, error) {
	rows, err := p.db.QueryContext(ctx,
		`SELECT `+orderColumns+` FROM orders WHERE status = $1 ORDER BY created_at DESC`, status)
	if err != nil {
		return nil, fmt.Errorf("list orders: %w", err)
	}
	defer rows.Close()

	out := make([]models.Order, 0)
	for rows.Next() {
		o, err := scanOrder(rows)
		if err != nil {
			return nil, fmt.Errorf("scan order: %w", err)
		}
		out = append(out, o)
	}
	return out, rows.Err()
}

func (p *PostgresStore) GetByID(ctx context.Context, id string) (models.Order, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+orderColumns+` FROM orders WHERE id = $1`, id)
	o, err := scanOrder(row)
	if errors.Is(err, sql.ErrNoRows) {
		return models.Order{}, ErrNotFound
	}
	if err != nil {
		return models.Order{}, fmt.Errorf("get order %s: %w", id, err)
	}
	return o, nil
}

func (p *PostgresStore) Close() error { return p.db.Close() }

type scanner interface {
	Scan(dest ...any) error
}

func scanOrder(s scanner) (models.Order, error) {
	var (
		o      models.Order
		driver sql.NullString
		weight sql.NullFloat64
		fare   sql.NullFloat64
		status string
	)
	if err := s.Scan(&o.ID, &o.VendorID, &driver, &o.PickupLocation, &o.DropLocation, &o.LoadType,
		&weight, &fare, &status, &o.CreatedAt, &o.UpdatedAt); err != nil {
		return models.Order{}, err
	}
	o.DriverID = driver.String
	o.Status = models.OrderStatus(status)
	if weight.Valid {
		o.LoadWeightKg = &weight.Float64
	}
	if fare.Valid {
		o.FareAmount = &fare.Float64
	}
	return o, nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullFloat(f *float64) sql.NullFloat64 {
	if f == nil {
		return sql.NullFloat64{}
	}
	return sql.NullFloat64{Float64: *f, Valid: true}
}
