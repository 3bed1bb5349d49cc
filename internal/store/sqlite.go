package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"sort"
	"time"

	"github.com/rotisserie/eris"
	_ "modernc.org/sqlite"

	"github.com/sells-group/delivery-insights/internal/model"
)

// SQLiteStore implements Store using modernc.org/sqlite.
type SQLiteStore struct {
	db *sql.DB
}

// NewSQLite opens a SQLite database at the given path and configures WAL mode.
func NewSQLite(dsn string) (*SQLiteStore, error) {
	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: open")
	}
	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA synchronous=NORMAL",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, eris.Wrapf(err, "sqlite: exec %s", pragma)
		}
	}
	return &SQLiteStore{db: db}, nil
}

const sqliteMigration = `
CREATE TABLE IF NOT EXISTS orders (
	id             TEXT PRIMARY KEY,
	client_id      TEXT NOT NULL,
	warehouse_id   TEXT NOT NULL,
	city           TEXT NOT NULL,
	created_at     DATETIME NOT NULL,
	dispatched_at  DATETIME,
	delivered_at   DATETIME,
	failed_at      DATETIME,
	status         TEXT NOT NULL,
	failure_reason TEXT
);

CREATE TABLE IF NOT EXISTS fleet_logs (
	id           TEXT PRIMARY KEY,
	order_id     TEXT,
	driver_id    TEXT NOT NULL,
	ts           DATETIME NOT NULL,
	event        TEXT NOT NULL,
	note         TEXT,
	location_key TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS warehouse_logs (
	id            TEXT PRIMARY KEY,
	warehouse_id  TEXT NOT NULL,
	order_id      TEXT NOT NULL,
	stage         TEXT NOT NULL,
	ts            DATETIME NOT NULL,
	delay_minutes INTEGER,
	issue_codes   TEXT
);

CREATE TABLE IF NOT EXISTS external_factors (
	id           TEXT PRIMARY KEY,
	location_key TEXT NOT NULL,
	date         DATETIME NOT NULL,
	factor       TEXT NOT NULL,
	severity     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS feedback (
	id        TEXT PRIMARY KEY,
	order_id  TEXT NOT NULL,
	ts        DATETIME NOT NULL,
	sentiment REAL NOT NULL,
	category  TEXT
);

CREATE INDEX IF NOT EXISTS idx_orders_city ON orders(city);
CREATE INDEX IF NOT EXISTS idx_orders_client ON orders(client_id);
CREATE INDEX IF NOT EXISTS idx_orders_warehouse ON orders(warehouse_id);
CREATE INDEX IF NOT EXISTS idx_fleet_logs_order ON fleet_logs(order_id);
CREATE INDEX IF NOT EXISTS idx_warehouse_logs_order ON warehouse_logs(order_id);
CREATE INDEX IF NOT EXISTS idx_external_factors_loc ON external_factors(location_key);
CREATE INDEX IF NOT EXISTS idx_feedback_order ON feedback(order_id);
`

func (s *SQLiteStore) Migrate(ctx context.Context) error {
	_, err := s.db.ExecContext(ctx, sqliteMigration)
	return eris.Wrap(err, "sqlite: migrate")
}

func (s *SQLiteStore) Close() error {
	return s.db.Close()
}

func (s *SQLiteStore) SaveBatch(ctx context.Context, batch *model.Batch) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return eris.Wrap(err, "sqlite: begin")
	}
	defer tx.Rollback()

	for _, o := range batch.Orders {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO orders (id, client_id, warehouse_id, city, created_at, dispatched_at, delivered_at, failed_at, status, failure_reason)
			 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
			o.ID, o.ClientID, o.WarehouseID, o.City, o.CreatedAt.UTC(),
			nullTime(o.DispatchedAt), nullTime(o.DeliveredAt), nullTime(o.FailedAt),
			string(o.Status), nullString(o.FailureReason))
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert order %s", o.ID)
		}
	}

	for _, f := range batch.FleetLogs {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO fleet_logs (id, order_id, driver_id, ts, event, note, location_key)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			f.ID, nullString(f.OrderID), f.DriverID, f.Timestamp.UTC(), string(f.Event),
			nullString(f.Note), f.LocationKey)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert fleet log %s", f.ID)
		}
	}

	for _, w := range batch.WarehouseLogs {
		codes, err := json.Marshal(w.IssueCodes)
		if err != nil {
			return eris.Wrapf(err, "sqlite: marshal issue codes %s", w.ID)
		}
		_, err = tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO warehouse_logs (id, warehouse_id, order_id, stage, ts, delay_minutes, issue_codes)
			 VALUES (?, ?, ?, ?, ?, ?, ?)`,
			w.ID, w.WarehouseID, w.OrderID, string(w.Stage), w.Timestamp.UTC(),
			nullInt(w.DelayMinutes), string(codes))
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert warehouse log %s", w.ID)
		}
	}

	for _, e := range batch.ExternalFactors {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO external_factors (id, location_key, date, factor, severity)
			 VALUES (?, ?, ?, ?, ?)`,
			e.ID, e.LocationKey, e.Date.UTC(), string(e.Factor), e.Severity)
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert external factor %s", e.ID)
		}
	}

	for _, fb := range batch.Feedback {
		_, err := tx.ExecContext(ctx,
			`INSERT OR REPLACE INTO feedback (id, order_id, ts, sentiment, category)
			 VALUES (?, ?, ?, ?, ?)`,
			fb.ID, fb.OrderID, fb.Timestamp.UTC(), fb.Sentiment, nullString(fb.Category))
		if err != nil {
			return eris.Wrapf(err, "sqlite: insert feedback %s", fb.ID)
		}
	}

	return eris.Wrap(tx.Commit(), "sqlite: commit")
}

func (s *SQLiteStore) LoadBatch(ctx context.Context) (*model.Batch, error) {
	batch := &model.Batch{}

	orders, err := s.GetOrders(ctx, model.OrderFilter{})
	if err != nil {
		return nil, err
	}
	batch.Orders = orders

	rows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, driver_id, ts, event, note, location_key FROM fleet_logs ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query fleet logs")
	}
	defer rows.Close()
	for rows.Next() {
		var f model.FleetLogEntry
		var orderID, note sql.NullString
		var event string
		if err := rows.Scan(&f.ID, &orderID, &f.DriverID, &f.Timestamp, &event, &note, &f.LocationKey); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan fleet log")
		}
		f.OrderID = orderID.String
		f.Note = note.String
		f.Event = model.FleetEventKind(event)
		batch.FleetLogs = append(batch.FleetLogs, f)
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate fleet logs")
	}

	whRows, err := s.db.QueryContext(ctx,
		`SELECT id, warehouse_id, order_id, stage, ts, delay_minutes, issue_codes FROM warehouse_logs ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query warehouse logs")
	}
	defer whRows.Close()
	for whRows.Next() {
		var w model.WarehouseLogEntry
		var stage string
		var delay sql.NullInt64
		var codes sql.NullString
		if err := whRows.Scan(&w.ID, &w.WarehouseID, &w.OrderID, &stage, &w.Timestamp, &delay, &codes); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan warehouse log")
		}
		w.Stage = model.WarehouseStage(stage)
		if delay.Valid {
			d := int(delay.Int64)
			w.DelayMinutes = &d
		}
		if codes.Valid && codes.String != "" && codes.String != "null" {
			if err := json.Unmarshal([]byte(codes.String), &w.IssueCodes); err != nil {
				return nil, eris.Wrapf(err, "sqlite: unmarshal issue codes %s", w.ID)
			}
		}
		batch.WarehouseLogs = append(batch.WarehouseLogs, w)
	}
	if err := whRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate warehouse logs")
	}

	extRows, err := s.db.QueryContext(ctx,
		`SELECT id, location_key, date, factor, severity FROM external_factors ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query external factors")
	}
	defer extRows.Close()
	for extRows.Next() {
		var e model.ExternalFactorRecord
		var factor string
		if err := extRows.Scan(&e.ID, &e.LocationKey, &e.Date, &factor, &e.Severity); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan external factor")
		}
		e.Factor = model.FactorKind(factor)
		batch.ExternalFactors = append(batch.ExternalFactors, e)
	}
	if err := extRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate external factors")
	}

	fbRows, err := s.db.QueryContext(ctx,
		`SELECT id, order_id, ts, sentiment, category FROM feedback ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query feedback")
	}
	defer fbRows.Close()
	for fbRows.Next() {
		var fb model.FeedbackRecord
		var category sql.NullString
		if err := fbRows.Scan(&fb.ID, &fb.OrderID, &fb.Timestamp, &fb.Sentiment, &category); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan feedback")
		}
		fb.Category = category.String
		batch.Feedback = append(batch.Feedback, fb)
	}
	if err := fbRows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate feedback")
	}

	return batch, nil
}

func (s *SQLiteStore) GetOrders(ctx context.Context, filter model.OrderFilter) ([]model.Order, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, client_id, warehouse_id, city, created_at, dispatched_at, delivered_at, failed_at, status, failure_reason FROM orders ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "sqlite: query orders")
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		var o model.Order
		var dispatched, delivered, failed sql.NullTime
		var status string
		var reason sql.NullString
		if err := rows.Scan(&o.ID, &o.ClientID, &o.WarehouseID, &o.City, &o.CreatedAt,
			&dispatched, &delivered, &failed, &status, &reason); err != nil {
			return nil, eris.Wrap(err, "sqlite: scan order")
		}
		o.Status = model.OrderStatus(status)
		o.FailureReason = reason.String
		o.DispatchedAt = timePtr(dispatched)
		o.DeliveredAt = timePtr(delivered)
		o.FailedAt = timePtr(failed)
		if filter.Matches(&o) {
			out = append(out, o)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "sqlite: iterate orders")
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func nullTime(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}

func nullString(s string) any {
	if s == "" {
		return nil
	}
	return s
}

func nullInt(n *int) any {
	if n == nil {
		return nil
	}
	return *n
}

func timePtr(t sql.NullTime) *time.Time {
	if !t.Valid {
		return nil
	}
	utc := t.Time.UTC()
	return &utc
}
