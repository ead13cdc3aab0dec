package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"net/url"
	"time"

	_ "modernc.org/sqlite"

	"github.com/kilianp07/yardfleet/core/model"
	corestore "github.com/kilianp07/yardfleet/core/store"
)

const schema = `
CREATE TABLE IF NOT EXISTS yards (
    name TEXT PRIMARY KEY,
    location TEXT NOT NULL DEFAULT '',
    total_slots INTEGER NOT NULL CHECK (total_slots > 0),
    occupied_slots INTEGER NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL,
    CHECK (occupied_slots >= 0 AND occupied_slots <= total_slots)
);
CREATE TABLE IF NOT EXISTS staff (
    username TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    yard TEXT NOT NULL REFERENCES yards(name),
    role TEXT NOT NULL DEFAULT 'staff'
);
CREATE TABLE IF NOT EXISTS vehicles (
    plate TEXT PRIMARY KEY,
    model TEXT NOT NULL,
    status TEXT NOT NULL,
    sector TEXT NOT NULL,
    yard TEXT NOT NULL REFERENCES yards(name),
    staff TEXT NOT NULL REFERENCES staff(username),
    mileage INTEGER NOT NULL,
    last_service_date INTEGER,
    service_count INTEGER NOT NULL DEFAULT 0,
    needs_maintenance INTEGER NOT NULL DEFAULT 0,
    maintenance_probability REAL NOT NULL DEFAULT 0,
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);
CREATE INDEX IF NOT EXISTS vehicles_yard ON vehicles(yard);
CREATE TABLE IF NOT EXISTS clients (
    username TEXT PRIMARY KEY,
    name TEXT NOT NULL DEFAULT '',
    vehicle_plate TEXT UNIQUE REFERENCES vehicles(plate),
    created_at INTEGER NOT NULL,
    updated_at INTEGER NOT NULL
);`

// SQLiteStore persists fleet records in a SQLite database. Write
// transactions take the database lock when they begin, so the read-modify-write
// of yard counters is isolated from concurrent writers.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLiteStore opens or creates the database at path and ensures schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	q := url.Values{}
	q.Set("_txlock", "immediate")
	q.Add("_pragma", "foreign_keys(1)")
	q.Add("_pragma", "busy_timeout(5000)")
	db, err := sql.Open("sqlite", "file:"+path+"?"+q.Encode())
	if err != nil {
		return nil, err
	}
	db.SetMaxOpenConns(1)
	if _, err := db.Exec(schema); err != nil {
		if cerr := db.Close(); cerr != nil {
			return nil, fmt.Errorf("close db: %v (schema err: %w)", cerr, err)
		}
		return nil, err
	}
	return &SQLiteStore{db: db}, nil
}

// Atomic runs fn inside a database transaction.
func (s *SQLiteStore) Atomic(ctx context.Context, fn func(tx corestore.Tx) error) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin: %w", err)
	}
	if err := fn(&sqlTx{tx: tx}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := ctx.Err(); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	return nil
}

// Close closes the underlying database.
func (s *SQLiteStore) Close() error { return s.db.Close() }

type sqlTx struct {
	tx *sql.Tx
}

func notFound(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return corestore.ErrNotFound
	}
	return err
}

func unixNano(t time.Time) int64 { return t.UnixNano() }

func fromUnixNano(n int64) time.Time { return time.Unix(0, n).UTC() }

func (t *sqlTx) GetYard(ctx context.Context, name string) (model.Yard, error) {
	var y model.Yard
	var created, updated int64
	err := t.tx.QueryRowContext(ctx,
		`SELECT name, location, total_slots, occupied_slots, created_at, updated_at FROM yards WHERE name = ?`, name).
		Scan(&y.Name, &y.Location, &y.TotalSlots, &y.OccupiedSlots, &created, &updated)
	if err != nil {
		return model.Yard{}, notFound(err)
	}
	y.CreatedAt, y.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
	return y, nil
}

func (t *sqlTx) SaveYard(ctx context.Context, y model.Yard) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO yards (name, location, total_slots, occupied_slots, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?, ?)
        ON CONFLICT(name) DO UPDATE SET
            location = excluded.location,
            total_slots = excluded.total_slots,
            occupied_slots = excluded.occupied_slots,
            updated_at = excluded.updated_at`,
		y.Name, y.Location, y.TotalSlots, y.OccupiedSlots, unixNano(y.CreatedAt), unixNano(y.UpdatedAt))
	return err
}

func (t *sqlTx) DeleteYard(ctx context.Context, name string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM yards WHERE name = ?`, name)
	return err
}

func (t *sqlTx) ListYards(ctx context.Context) ([]model.Yard, error) {
	rows, err := t.tx.QueryContext(ctx,
		`SELECT name, location, total_slots, occupied_slots, created_at, updated_at FROM yards ORDER BY name`)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.Yard
	for rows.Next() {
		var y model.Yard
		var created, updated int64
		if err := rows.Scan(&y.Name, &y.Location, &y.TotalSlots, &y.OccupiedSlots, &created, &updated); err != nil {
			return nil, err
		}
		y.CreatedAt, y.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
		res = append(res, y)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

const vehicleColumns = `plate, model, status, sector, yard, staff, mileage, last_service_date, service_count,
    needs_maintenance, maintenance_probability, created_at, updated_at`

type rowScanner interface {
	Scan(dest ...any) error
}

func scanVehicle(r rowScanner) (model.Vehicle, error) {
	var v model.Vehicle
	var last sql.NullInt64
	var created, updated int64
	if err := r.Scan(&v.Plate, &v.Model, &v.Status, &v.Sector, &v.Yard, &v.Staff, &v.Mileage, &last,
		&v.ServiceCount, &v.NeedsMaintenance, &v.MaintenanceProbability, &created, &updated); err != nil {
		return model.Vehicle{}, err
	}
	if last.Valid {
		d := fromUnixNano(last.Int64)
		v.LastServiceDate = &d
	}
	v.CreatedAt, v.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
	return v, nil
}

func (t *sqlTx) GetVehicle(ctx context.Context, plate string) (model.Vehicle, error) {
	row := t.tx.QueryRowContext(ctx, `SELECT `+vehicleColumns+` FROM vehicles WHERE plate = ?`, plate)
	v, err := scanVehicle(row)
	if err != nil {
		return model.Vehicle{}, notFound(err)
	}
	return v, nil
}

func (t *sqlTx) VehicleExists(ctx context.Context, plate string) (bool, error) {
	var n int
	if err := t.tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM vehicles WHERE plate = ?`, plate).Scan(&n); err != nil {
		return false, err
	}
	return n > 0, nil
}

func (t *sqlTx) SaveVehicle(ctx context.Context, v model.Vehicle) error {
	var last any
	if v.LastServiceDate != nil {
		last = unixNano(*v.LastServiceDate)
	}
	_, err := t.tx.ExecContext(ctx, `INSERT INTO vehicles (`+vehicleColumns+`)
        VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
        ON CONFLICT(plate) DO UPDATE SET
            model = excluded.model,
            status = excluded.status,
            sector = excluded.sector,
            yard = excluded.yard,
            staff = excluded.staff,
            mileage = excluded.mileage,
            last_service_date = excluded.last_service_date,
            service_count = excluded.service_count,
            needs_maintenance = excluded.needs_maintenance,
            maintenance_probability = excluded.maintenance_probability,
            updated_at = excluded.updated_at`,
		v.Plate, v.Model, v.Status, v.Sector, v.Yard, v.Staff, v.Mileage, last, v.ServiceCount,
		v.NeedsMaintenance, v.MaintenanceProbability, unixNano(v.CreatedAt), unixNano(v.UpdatedAt))
	return err
}

func (t *sqlTx) DeleteVehicle(ctx context.Context, plate string) error {
	_, err := t.tx.ExecContext(ctx, `DELETE FROM vehicles WHERE plate = ?`, plate)
	return err
}

func (t *sqlTx) ListVehicles(ctx context.Context, f corestore.VehicleFilter) ([]model.Vehicle, error) {
	query := `SELECT ` + vehicleColumns + ` FROM vehicles WHERE 1=1`
	var args []any
	if f.Yard != "" {
		query += ` AND yard = ?`
		args = append(args, f.Yard)
	}
	if f.Status != "" {
		query += ` AND status = ?`
		args = append(args, f.Status)
	}
	if f.NeedsMaintenance != nil {
		query += ` AND needs_maintenance = ?`
		args = append(args, *f.NeedsMaintenance)
	}
	query += ` ORDER BY plate`
	rows, err := t.tx.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer func() { _ = rows.Close() }()
	var res []model.Vehicle
	for rows.Next() {
		v, err := scanVehicle(rows)
		if err != nil {
			return nil, err
		}
		res = append(res, v)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return res, nil
}

func (t *sqlTx) GetStaff(ctx context.Context, username string) (model.Staff, error) {
	var st model.Staff
	err := t.tx.QueryRowContext(ctx, `SELECT username, name, yard, role FROM staff WHERE username = ?`, username).
		Scan(&st.Username, &st.Name, &st.Yard, &st.Role)
	if err != nil {
		return model.Staff{}, notFound(err)
	}
	return st, nil
}

func (t *sqlTx) SaveStaff(ctx context.Context, st model.Staff) error {
	_, err := t.tx.ExecContext(ctx, `INSERT INTO staff (username, name, yard, role) VALUES (?, ?, ?, ?)
        ON CONFLICT(username) DO UPDATE SET name = excluded.name, yard = excluded.yard, role = excluded.role`,
		st.Username, st.Name, st.Yard, st.Role)
	return err
}

func (t *sqlTx) CountStaff(ctx context.Context, yard string) (int, error) {
	var n int
	err := t.tx.QueryRowContext(ctx, `SELECT COUNT(1) FROM staff WHERE yard = ?`, yard).Scan(&n)
	return n, err
}

func scanClient(r rowScanner) (model.Client, error) {
	var c model.Client
	var plate sql.NullString
	var created, updated int64
	if err := r.Scan(&c.Username, &c.Name, &plate, &created, &updated); err != nil {
		return model.Client{}, err
	}
	c.VehiclePlate = plate.String
	c.CreatedAt, c.UpdatedAt = fromUnixNano(created), fromUnixNano(updated)
	return c, nil
}

func (t *sqlTx) GetClient(ctx context.Context, username string) (model.Client, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT username, name, vehicle_plate, created_at, updated_at FROM clients WHERE username = ?`, username)
	c, err := scanClient(row)
	if err != nil {
		return model.Client{}, notFound(err)
	}
	return c, nil
}

func (t *sqlTx) ClientByVehicle(ctx context.Context, plate string) (model.Client, error) {
	row := t.tx.QueryRowContext(ctx,
		`SELECT username, name, vehicle_plate, created_at, updated_at FROM clients WHERE vehicle_plate = ?`, plate)
	c, err := scanClient(row)
	if err != nil {
		return model.Client{}, notFound(err)
	}
	return c, nil
}

func (t *sqlTx) SaveClient(ctx context.Context, c model.Client) error {
	var plate any
	if c.VehiclePlate != "" {
		plate = c.VehiclePlate
	}
	_, err := t.tx.ExecContext(ctx, `INSERT INTO clients (username, name, vehicle_plate, created_at, updated_at)
        VALUES (?, ?, ?, ?, ?)
        ON CONFLICT(username) DO UPDATE SET
            name = excluded.name,
            vehicle_plate = excluded.vehicle_plate,
            updated_at = excluded.updated_at`,
		c.Username, c.Name, plate, unixNano(c.CreatedAt), unixNano(c.UpdatedAt))
	return err
}
