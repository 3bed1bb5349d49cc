// Package correlate builds read-only lookup structures over a record
// batch so that per-order attribution avoids full cross-product scans.
// Records are bucketed by (location key, calendar day) and cross-indexed
// by order id. An index is built once per batch and is safe for
// unsynchronized concurrent reads afterward.
package correlate

import (
	"sort"
	"time"

	"github.com/rotisserie/eris"
	"go.uber.org/zap"

	"github.com/sells-group/delivery-insights/internal/model"
)

// ErrEmptyBatch is returned when Build is invoked on a nil or empty
// batch. A structurally invalid batch fails fast before any attribution
// begins.
var ErrEmptyBatch = eris.New("correlate: empty batch")

// dayKey buckets a timestamp into its UTC calendar day.
type dayKey struct {
	loc string
	day string // YYYY-MM-DD
}

func newDayKey(loc string, t time.Time) dayKey {
	return dayKey{loc: loc, day: t.UTC().Format("2006-01-02")}
}

// Index holds the correlation lookup structures for one batch. Index
// entries are pointers into the batch slices; record bodies are never
// copied.
type Index struct {
	orders map[string]*model.Order

	fleetByOrder     map[string][]*model.FleetLogEntry
	warehouseByOrder map[string][]*model.WarehouseLogEntry
	feedbackByOrder  map[string][]*model.FeedbackRecord

	fleetByLocDay    map[dayKey][]*model.FleetLogEntry
	externalByLocDay map[dayKey][]*model.ExternalFactorRecord

	warehouses map[string]bool // warehouse ids seen in warehouse logs
	drivers    map[string]bool // driver ids seen in fleet logs

	excluded int
}

// Build constructs an Index from a batch. Records missing a required
// timestamp or location key are excluded from indexing and counted;
// they are reported through Excluded, never silently absorbed.
func Build(batch *model.Batch) (*Index, error) {
	if batch.Empty() {
		return nil, ErrEmptyBatch
	}

	idx := &Index{
		orders:           make(map[string]*model.Order, len(batch.Orders)),
		fleetByOrder:     make(map[string][]*model.FleetLogEntry),
		warehouseByOrder: make(map[string][]*model.WarehouseLogEntry),
		feedbackByOrder:  make(map[string][]*model.FeedbackRecord),
		fleetByLocDay:    make(map[dayKey][]*model.FleetLogEntry),
		externalByLocDay: make(map[dayKey][]*model.ExternalFactorRecord),
		warehouses:       make(map[string]bool),
		drivers:          make(map[string]bool),
	}

	for i := range batch.Orders {
		o := &batch.Orders[i]
		if o.ID == "" || o.CreatedAt.IsZero() || o.City == "" {
			idx.excluded++
			continue
		}
		idx.orders[o.ID] = o
	}

	for i := range batch.FleetLogs {
		f := &batch.FleetLogs[i]
		if f.Timestamp.IsZero() || f.LocationKey == "" {
			idx.excluded++
			continue
		}
		idx.drivers[f.DriverID] = true
		if f.OrderID != "" {
			idx.fleetByOrder[f.OrderID] = append(idx.fleetByOrder[f.OrderID], f)
		}
		k := newDayKey(f.LocationKey, f.Timestamp)
		idx.fleetByLocDay[k] = append(idx.fleetByLocDay[k], f)
	}

	for i := range batch.WarehouseLogs {
		w := &batch.WarehouseLogs[i]
		if w.Timestamp.IsZero() || w.WarehouseID == "" || w.OrderID == "" {
			idx.excluded++
			continue
		}
		idx.warehouses[w.WarehouseID] = true
		idx.warehouseByOrder[w.OrderID] = append(idx.warehouseByOrder[w.OrderID], w)
	}

	for i := range batch.ExternalFactors {
		e := &batch.ExternalFactors[i]
		if e.Date.IsZero() || e.LocationKey == "" {
			idx.excluded++
			continue
		}
		k := newDayKey(e.LocationKey, e.Date)
		idx.externalByLocDay[k] = append(idx.externalByLocDay[k], e)
	}

	for i := range batch.Feedback {
		f := &batch.Feedback[i]
		if f.Timestamp.IsZero() || f.OrderID == "" {
			idx.excluded++
			continue
		}
		idx.feedbackByOrder[f.OrderID] = append(idx.feedbackByOrder[f.OrderID], f)
	}

	idx.sortBuckets()

	if idx.excluded > 0 {
		zap.L().Info("correlate: excluded malformed records",
			zap.Int("excluded", idx.excluded),
		)
	}
	return idx, nil
}

// sortBuckets orders every bucket by timestamp then id so that lookups
// always return records in the same order for a fixed batch.
func (x *Index) sortBuckets() {
	for _, entries := range x.fleetByOrder {
		sort.Slice(entries, func(i, j int) bool { return fleetLess(entries[i], entries[j]) })
	}
	for _, entries := range x.fleetByLocDay {
		sort.Slice(entries, func(i, j int) bool { return fleetLess(entries[i], entries[j]) })
	}
	for _, entries := range x.warehouseByOrder {
		sort.Slice(entries, func(i, j int) bool {
			if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
				return entries[i].Timestamp.Before(entries[j].Timestamp)
			}
			return entries[i].ID < entries[j].ID
		})
	}
	for _, entries := range x.externalByLocDay {
		sort.Slice(entries, func(i, j int) bool {
			if !entries[i].Date.Equal(entries[j].Date) {
				return entries[i].Date.Before(entries[j].Date)
			}
			return entries[i].ID < entries[j].ID
		})
	}
	for _, entries := range x.feedbackByOrder {
		sort.Slice(entries, func(i, j int) bool {
			if !entries[i].Timestamp.Equal(entries[j].Timestamp) {
				return entries[i].Timestamp.Before(entries[j].Timestamp)
			}
			return entries[i].ID < entries[j].ID
		})
	}
}

func fleetLess(a, b *model.FleetLogEntry) bool {
	if !a.Timestamp.Equal(b.Timestamp) {
		return a.Timestamp.Before(b.Timestamp)
	}
	return a.ID < b.ID
}

// Order returns the order with the given id, or nil when absent.
func (x *Index) Order(id string) *model.Order {
	return x.orders[id]
}

// Orders returns all indexed orders matching the filter, sorted by id.
func (x *Index) Orders(filter model.OrderFilter) []*model.Order {
	var out []*model.Order
	for _, o := range x.orders {
		if filter.Matches(o) {
			out = append(out, o)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// FleetByOrder returns fleet entries explicitly linked to the order id.
func (x *Index) FleetByOrder(orderID string) []*model.FleetLogEntry {
	return x.fleetByOrder[orderID]
}

// WarehouseByOrder returns warehouse entries linked to the order id.
func (x *Index) WarehouseByOrder(orderID string) []*model.WarehouseLogEntry {
	return x.warehouseByOrder[orderID]
}

// FeedbackByOrder returns feedback records linked to the order id.
func (x *Index) FeedbackByOrder(orderID string) []*model.FeedbackRecord {
	return x.feedbackByOrder[orderID]
}

// FleetInWindow returns fleet entries at the location with timestamps in
// [from, to]. The scan touches one bucket per calendar day spanned.
func (x *Index) FleetInWindow(locationKey string, from, to time.Time) []*model.FleetLogEntry {
	var out []*model.FleetLogEntry
	for _, day := range daysSpanned(from, to) {
		for _, f := range x.fleetByLocDay[dayKey{loc: locationKey, day: day}] {
			if !f.Timestamp.Before(from) && !f.Timestamp.After(to) {
				out = append(out, f)
			}
		}
	}
	return out
}

// ExternalInWindow returns external factor records at the location whose
// date falls in [from, to]. Factor dates are day-granular, so the bounds
// are compared at day resolution.
func (x *Index) ExternalInWindow(locationKey string, from, to time.Time) []*model.ExternalFactorRecord {
	fromDay := from.UTC().Truncate(24 * time.Hour)
	toDay := to.UTC().Truncate(24 * time.Hour)
	var out []*model.ExternalFactorRecord
	for _, day := range daysSpanned(from, to) {
		for _, e := range x.externalByLocDay[dayKey{loc: locationKey, day: day}] {
			d := e.Date.UTC().Truncate(24 * time.Hour)
			if !d.Before(fromDay) && !d.After(toDay) {
				out = append(out, e)
			}
		}
	}
	return out
}

// InHolidayPeriod reports whether the order was created on a day flagged
// Holiday or Strike at its destination city.
func (x *Index) InHolidayPeriod(o *model.Order) bool {
	k := newDayKey(o.City, o.CreatedAt)
	for _, e := range x.externalByLocDay[k] {
		if e.Factor == model.FactorHoliday || e.Factor == model.FactorStrike {
			return true
		}
	}
	return false
}

// HasWarehouse reports whether any warehouse log references the id.
func (x *Index) HasWarehouse(id string) bool { return x.warehouses[id] }

// Excluded returns the count of malformed records dropped at build time.
func (x *Index) Excluded() int { return x.excluded }

// daysSpanned lists the UTC calendar days covered by [from, to],
// inclusive. A window of Δ touches at most ⌈Δ/24h⌉+1 days.
func daysSpanned(from, to time.Time) []string {
	var days []string
	cur := from.UTC().Truncate(24 * time.Hour)
	end := to.UTC().Truncate(24 * time.Hour)
	for !cur.After(end) {
		days = append(days, cur.Format("2006-01-02"))
		cur = cur.Add(24 * time.Hour)
	}
	return days
}
