package store

import (
	"context"
	"encoding/json"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rotisserie/eris"

	"github.com/sells-group/delivery-insights/internal/db"
	"github.com/sells-group/delivery-insights/internal/model"
)

// PostgresStore implements Store using pgxpool. Batches are loaded with
// the COPY protocol.
type PostgresStore struct {
	pool    db.Pool
	closeFn func()
}

// PoolConfig holds optional connection pool tuning parameters.
type PoolConfig struct {
	MaxConns int32 `yaml:"max_conns" mapstructure:"max_conns"`
	MinConns int32 `yaml:"min_conns" mapstructure:"min_conns"`
}

// NewPostgres creates a PostgresStore with a connection pool.
func NewPostgres(ctx context.Context, connString string, poolCfg *PoolConfig) (*PostgresStore, error) {
	pgxCfg, err := pgxpool.ParseConfig(connString)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: parse config")
	}

	maxConns := int32(10)
	minConns := int32(2)
	if poolCfg != nil {
		if poolCfg.MaxConns > 0 {
			maxConns = poolCfg.MaxConns
		}
		if poolCfg.MinConns > 0 {
			minConns = poolCfg.MinConns
		}
	}
	pgxCfg.MaxConns = maxConns
	pgxCfg.MinConns = minConns

	pool, err := pgxpool.NewWithConfig(ctx, pgxCfg)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: connect")
	}
	return &PostgresStore{pool: pool, closeFn: pool.Close}, nil
}

// NewPostgresFromPool wraps an existing pool. Used by tests with pgxmock.
func NewPostgresFromPool(pool db.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const postgresMigration = `
CREATE TABLE IF NOT EXISTS orders (
	id             TEXT PRIMARY KEY,
	client_id      TEXT NOT NULL,
	warehouse_id   TEXT NOT NULL,
	city           TEXT NOT NULL,
	created_at     TIMESTAMPTZ NOT NULL,
	dispatched_at  TIMESTAMPTZ,
	delivered_at   TIMESTAMPTZ,
	failed_at      TIMESTAMPTZ,
	status         TEXT NOT NULL,
	failure_reason TEXT
);

CREATE TABLE IF NOT EXISTS fleet_logs (
	id           TEXT PRIMARY KEY,
	order_id     TEXT,
	driver_id    TEXT NOT NULL,
	ts           TIMESTAMPTZ NOT NULL,
	event        TEXT NOT NULL,
	note         TEXT,
	location_key TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS warehouse_logs (
	id            TEXT PRIMARY KEY,
	warehouse_id  TEXT NOT NULL,
	order_id      TEXT NOT NULL,
	stage         TEXT NOT NULL,
	ts            TIMESTAMPTZ NOT NULL,
	delay_minutes INTEGER,
	issue_codes   JSONB
);

CREATE TABLE IF NOT EXISTS external_factors (
	id           TEXT PRIMARY KEY,
	location_key TEXT NOT NULL,
	date         TIMESTAMPTZ NOT NULL,
	factor       TEXT NOT NULL,
	severity     INTEGER NOT NULL
);

CREATE TABLE IF NOT EXISTS feedback (
	id        TEXT PRIMARY KEY,
	order_id  TEXT NOT NULL,
	ts        TIMESTAMPTZ NOT NULL,
	sentiment DOUBLE PRECISION NOT NULL,
	category  TEXT
);

CREATE INDEX IF NOT EXISTS idx_orders_city ON orders(city);
CREATE INDEX IF NOT EXISTS idx_orders_client ON orders(client_id);
CREATE INDEX IF NOT EXISTS idx_fleet_logs_order ON fleet_logs(order_id);
CREATE INDEX IF NOT EXISTS idx_warehouse_logs_order ON warehouse_logs(order_id);
CREATE INDEX IF NOT EXISTS idx_external_factors_loc ON external_factors(location_key);
CREATE INDEX IF NOT EXISTS idx_feedback_order ON feedback(order_id);
`

func (s *PostgresStore) Migrate(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, postgresMigration)
	return eris.Wrap(err, "postgres: migrate")
}

func (s *PostgresStore) Close() error {
	if s.closeFn != nil {
		s.closeFn()
	}
	return nil
}

func (s *PostgresStore) SaveBatch(ctx context.Context, batch *model.Batch) error {
	orderRows := make([][]any, 0, len(batch.Orders))
	for _, o := range batch.Orders {
		orderRows = append(orderRows, []any{
			o.ID, o.ClientID, o.WarehouseID, o.City, o.CreatedAt.UTC(),
			tsOrNil(o.DispatchedAt), tsOrNil(o.DeliveredAt), tsOrNil(o.FailedAt),
			string(o.Status), o.FailureReason,
		})
	}
	if _, err := db.CopyFrom(ctx, s.pool, "orders",
		[]string{"id", "client_id", "warehouse_id", "city", "created_at", "dispatched_at", "delivered_at", "failed_at", "status", "failure_reason"},
		orderRows); err != nil {
		return err
	}

	fleetRows := make([][]any, 0, len(batch.FleetLogs))
	for _, f := range batch.FleetLogs {
		fleetRows = append(fleetRows, []any{
			f.ID, f.OrderID, f.DriverID, f.Timestamp.UTC(), string(f.Event), f.Note, f.LocationKey,
		})
	}
	if _, err := db.CopyFrom(ctx, s.pool, "fleet_logs",
		[]string{"id", "order_id", "driver_id", "ts", "event", "note", "location_key"},
		fleetRows); err != nil {
		return err
	}

	warehouseRows := make([][]any, 0, len(batch.WarehouseLogs))
	for _, w := range batch.WarehouseLogs {
		codes, err := json.Marshal(w.IssueCodes)
		if err != nil {
			return eris.Wrapf(err, "postgres: marshal issue codes %s", w.ID)
		}
		warehouseRows = append(warehouseRows, []any{
			w.ID, w.WarehouseID, w.OrderID, string(w.Stage), w.Timestamp.UTC(), w.DelayMinutes, codes,
		})
	}
	if _, err := db.CopyFrom(ctx, s.pool, "warehouse_logs",
		[]string{"id", "warehouse_id", "order_id", "stage", "ts", "delay_minutes", "issue_codes"},
		warehouseRows); err != nil {
		return err
	}

	extRows := make([][]any, 0, len(batch.ExternalFactors))
	for _, e := range batch.ExternalFactors {
		extRows = append(extRows, []any{e.ID, e.LocationKey, e.Date.UTC(), string(e.Factor), e.Severity})
	}
	if _, err := db.CopyFrom(ctx, s.pool, "external_factors",
		[]string{"id", "location_key", "date", "factor", "severity"},
		extRows); err != nil {
		return err
	}

	fbRows := make([][]any, 0, len(batch.Feedback))
	for _, fb := range batch.Feedback {
		fbRows = append(fbRows, []any{fb.ID, fb.OrderID, fb.Timestamp.UTC(), fb.Sentiment, fb.Category})
	}
	if _, err := db.CopyFrom(ctx, s.pool, "feedback",
		[]string{"id", "order_id", "ts", "sentiment", "category"},
		fbRows); err != nil {
		return err
	}

	return nil
}

func (s *PostgresStore) LoadBatch(ctx context.Context) (*model.Batch, error) {
	batch := &model.Batch{}

	orders, err := s.GetOrders(ctx, model.OrderFilter{})
	if err != nil {
		return nil, err
	}
	batch.Orders = orders

	if err := s.loadFleetLogs(ctx, batch); err != nil {
		return nil, err
	}
	if err := s.loadWarehouseLogs(ctx, batch); err != nil {
		return nil, err
	}
	if err := s.loadExternalFactors(ctx, batch); err != nil {
		return nil, err
	}
	if err := s.loadFeedback(ctx, batch); err != nil {
		return nil, err
	}
	return batch, nil
}

func (s *PostgresStore) GetOrders(ctx context.Context, filter model.OrderFilter) ([]model.Order, error) {
	rows, err := s.pool.Query(ctx,
		`SELECT id, client_id, warehouse_id, city, created_at, dispatched_at, delivered_at, failed_at, status, failure_reason FROM orders ORDER BY id`)
	if err != nil {
		return nil, eris.Wrap(err, "postgres: query orders")
	}
	defer rows.Close()

	var out []model.Order
	for rows.Next() {
		var o model.Order
		var dispatched, delivered, failed *time.Time
		var status string
		var reason *string
		if err := rows.Scan(&o.ID, &o.ClientID, &o.WarehouseID, &o.City, &o.CreatedAt,
			&dispatched, &delivered, &failed, &status, &reason); err != nil {
			return nil, eris.Wrap(err, "postgres: scan order")
		}
		o.Status = model.OrderStatus(status)
		o.DispatchedAt = dispatched
		o.DeliveredAt = delivered
		o.FailedAt = failed
		if reason != nil {
			o.FailureReason = *reason
		}
		if filter.Matches(&o) {
			out = append(out, o)
		}
	}
	if err := rows.Err(); err != nil {
		return nil, eris.Wrap(err, "postgres: iterate orders")
	}
	return out, nil
}

func (s *PostgresStore) loadFleetLogs(ctx context.Context, batch *model.Batch) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, order_id, driver_id, ts, event, note, location_key FROM fleet_logs ORDER BY id`)
	if err != nil {
		return eris.Wrap(err, "postgres: query fleet logs")
	}
	defer rows.Close()
	for rows.Next() {
		var f model.FleetLogEntry
		var orderID, note *string
		var event string
		if err := rows.Scan(&f.ID, &orderID, &f.DriverID, &f.Timestamp, &event, &note, &f.LocationKey); err != nil {
			return eris.Wrap(err, "postgres: scan fleet log")
		}
		if orderID != nil {
			f.OrderID = *orderID
		}
		if note != nil {
			f.Note = *note
		}
		f.Event = model.FleetEventKind(event)
		batch.FleetLogs = append(batch.FleetLogs, f)
	}
	return eris.Wrap(rows.Err(), "postgres: iterate fleet logs")
}

func (s *PostgresStore) loadWarehouseLogs(ctx context.Context, batch *model.Batch) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, warehouse_id, order_id, stage, ts, delay_minutes, issue_codes FROM warehouse_logs ORDER BY id`)
	if err != nil {
		return eris.Wrap(err, "postgres: query warehouse logs")
	}
	defer rows.Close()
	for rows.Next() {
		var w model.WarehouseLogEntry
		var stage string
		var delay *int
		var codes []byte
		if err := rows.Scan(&w.ID, &w.WarehouseID, &w.OrderID, &stage, &w.Timestamp, &delay, &codes); err != nil {
			return eris.Wrap(err, "postgres: scan warehouse log")
		}
		w.Stage = model.WarehouseStage(stage)
		w.DelayMinutes = delay
		if len(codes) > 0 {
			if err := json.Unmarshal(codes, &w.IssueCodes); err != nil {
				return eris.Wrapf(err, "postgres: unmarshal issue codes %s", w.ID)
			}
		}
		batch.WarehouseLogs = append(batch.WarehouseLogs, w)
	}
	return eris.Wrap(rows.Err(), "postgres: iterate warehouse logs")
}

func (s *PostgresStore) loadExternalFactors(ctx context.Context, batch *model.Batch) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, location_key, date, factor, severity FROM external_factors ORDER BY id`)
	if err != nil {
		return eris.Wrap(err, "postgres: query external factors")
	}
	defer rows.Close()
	for rows.Next() {
		var e model.ExternalFactorRecord
		var factor string
		if err := rows.Scan(&e.ID, &e.LocationKey, &e.Date, &factor, &e.Severity); err != nil {
			return eris.Wrap(err, "postgres: scan external factor")
		}
		e.Factor = model.FactorKind(factor)
		batch.ExternalFactors = append(batch.ExternalFactors, e)
	}
	return eris.Wrap(rows.Err(), "postgres: iterate external factors")
}

func (s *PostgresStore) loadFeedback(ctx context.Context, batch *model.Batch) error {
	rows, err := s.pool.Query(ctx,
		`SELECT id, order_id, ts, sentiment, category FROM feedback ORDER BY id`)
	if err != nil {
		return eris.Wrap(err, "postgres: query feedback")
	}
	defer rows.Close()
	for rows.Next() {
		var fb model.FeedbackRecord
		var category *string
		if err := rows.Scan(&fb.ID, &fb.OrderID, &fb.Timestamp, &fb.Sentiment, &category); err != nil {
			return eris.Wrap(err, "postgres: scan feedback")
		}
		if category != nil {
			fb.Category = *category
		}
		batch.Feedback = append(batch.Feedback, fb)
	}
	return eris.Wrap(rows.Err(), "postgres: iterate feedback")
}

func tsOrNil(t *time.Time) any {
	if t == nil {
		return nil
	}
	return t.UTC()
}
