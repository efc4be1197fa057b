// interfaces.go: this code defines the interface for the event log operations
package datastore

import (
	"time"

	"gorm.io/gorm"

	"github.com/watchtowerhq/watchtower-go/internal/conf"
	"github.com/watchtowerhq/watchtower-go/internal/errors"
)

// Date range filter values accepted by GetFilteredEvents.
const (
	DateRangeAll   = "all"
	DateRangeToday = "today"
	DateRange7d    = "7d"
	DateRange30d   = "30d"
)

// ObjectTypeAll disables object type filtering.
const ObjectTypeAll = "all"

// Interface abstracts the underlying database implementation and defines the
// operations the pipeline and the web frontend rely on.
type Interface interface {
	Open() error
	Save(event *Event, detections []Detection) error
	Get(id uint) (Event, error)
	GetRecentEvents(limit, offset int) ([]Event, error)
	GetFilteredEvents(limit, offset int, dateRange, objectType string) ([]Event, error)
	GetTodayEventCount() (int64, error)
	Delete(id uint) error
	Close() error
}

// DataStore implements Interface using a GORM database.
type DataStore struct {
	DB *gorm.DB
}

// New creates a new store instance based on the provided settings.
func New(settings *conf.Settings) Interface {
	return &SQLiteStore{Settings: settings}
}

// Save stores an event and its detections as a single transaction. An empty
// detections slice is valid and still creates the event row. The new event id
// is available as event.ID after a successful save.
func (ds *DataStore) Save(event *Event, detections []Detection) error {
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Create(event).Error; err != nil {
			return err
		}
		for i := range detections {
			detections[i].EventID = event.ID
			if err := tx.Create(&detections[i]).Error; err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return categorize(err, "saving event")
	}

	event.Detections = detections
	return nil
}

// Get retrieves a single event with its detections in submission order.
func (ds *DataStore) Get(id uint) (Event, error) {
	var event Event
	err := ds.DB.Preload("Detections", detectionOrder).First(&event, id).Error
	if err != nil {
		if errors.Is(err, gorm.ErrRecordNotFound) {
			return Event{}, errors.Newf("event %d not found", id).
				Component("datastore").
				Category(errors.CategoryNotFound).
				Build()
		}
		return Event{}, categorize(err, "getting event")
	}
	ensureDetections(&event)
	return event, nil
}

// GetRecentEvents retrieves events newest-first with bounded pagination.
func (ds *DataStore) GetRecentEvents(limit, offset int) ([]Event, error) {
	return ds.GetFilteredEvents(limit, offset, DateRangeAll, ObjectTypeAll)
}

// GetFilteredEvents retrieves events newest-first, optionally restricted by a
// date range (all, today, 7d, 30d) and an object type label. Unknown filter
// values never cause an error: an unknown date range behaves like "all" and an
// unknown object type simply matches no detections. All filter values are
// parameter-bound, they come from untrusted query strings.
func (ds *DataStore) GetFilteredEvents(limit, offset int, dateRange, objectType string) ([]Event, error) {
	if limit <= 0 {
		limit = 20
	}
	if offset < 0 {
		offset = 0
	}

	query := ds.DB.Model(&Event{})

	if cutoff, ok := dateRangeCutoff(dateRange, time.Now()); ok {
		query = query.Where("recorded_at >= ?", cutoff)
	}

	if objectType != "" && objectType != ObjectTypeAll {
		query = query.Where(
			"EXISTS (SELECT 1 FROM detections WHERE detections.event_id = events.id AND detections.label = ?)",
			objectType,
		)
	}

	var events []Event
	err := query.
		Order("recorded_at DESC, id DESC").
		Limit(limit).
		Offset(offset).
		Preload("Detections", detectionOrder).
		Find(&events).Error
	if err != nil {
		return nil, categorize(err, "getting filtered events")
	}

	for i := range events {
		ensureDetections(&events[i])
	}
	return events, nil
}

// GetTodayEventCount returns the number of events recorded since the start of
// the current calendar day.
func (ds *DataStore) GetTodayEventCount() (int64, error) {
	start := startOfDay(time.Now())

	var count int64
	err := ds.DB.Model(&Event{}).Where("recorded_at >= ?", start).Count(&count).Error
	if err != nil {
		return 0, categorize(err, "counting today's events")
	}
	return count, nil
}

// Delete removes an event and its detections.
func (ds *DataStore) Delete(id uint) error {
	err := ds.DB.Transaction(func(tx *gorm.DB) error {
		if err := tx.Where("event_id = ?", id).Delete(&Detection{}).Error; err != nil {
			return err
		}
		return tx.Delete(&Event{}, id).Error
	})
	if err != nil {
		return categorize(err, "deleting event")
	}
	return nil
}

// detectionOrder preloads detections in insertion order so reads return the
// exact submission order.
func detectionOrder(db *gorm.DB) *gorm.DB {
	return db.Order("detections.id")
}

// ensureDetections normalizes a nil association to an empty slice, callers and
// the JSON API always see a list, never null.
func ensureDetections(event *Event) {
	if event.Detections == nil {
		event.Detections = []Detection{}
	}
}

// dateRangeCutoff maps a date range filter value to its cutoff timestamp.
// The second return value is false when no cutoff applies.
func dateRangeCutoff(dateRange string, now time.Time) (time.Time, bool) {
	switch dateRange {
	case DateRangeToday:
		return startOfDay(now), true
	case DateRange7d:
		return now.AddDate(0, 0, -7), true
	case DateRange30d:
		return now.AddDate(0, 0, -30), true
	default:
		return time.Time{}, false
	}
}

func startOfDay(t time.Time) time.Time {
	year, month, day := t.Date()
	return time.Date(year, month, day, 0, 0, 0, 0, t.Location())
}
