// model.go this code defines the data model for the event log
package datastore

import "time"

// Event types reported by the upstream camera source.
const (
	EventTypeMotion = "motion"
	EventTypeDing   = "ding"
)

// Door actions recorded with an event.
const (
	DoorActionNone     = "none"
	DoorActionUnlocked = "unlocked"
	DoorActionLocked   = "locked"
)

// Detection labels the detector is restricted to.
const (
	LabelPerson  = "person"
	LabelDog     = "dog"
	LabelCat     = "cat"
	LabelCar     = "car"
	LabelPackage = "package"
)

// KnownLabels lists every label the detector may emit.
var KnownLabels = []string{LabelPerson, LabelDog, LabelCat, LabelCar, LabelPackage}

// Event represents a single camera event. Rows are append-only: an event is
// created once at the end of pipeline processing and never updated or deleted
// by the pipeline.
type Event struct {
	ID             uint      `gorm:"primaryKey" json:"id"`
	CameraID       string    `gorm:"not null;index:idx_events_camera_id" json:"camera_id"`
	RecordedAt     time.Time `gorm:"not null;index:idx_events_recorded_at" json:"recorded_at"`
	EventType      string    `gorm:"not null;default:motion" json:"event_type"`
	RecordingID    *string   `json:"recording_id"`
	PersonName     *string   `gorm:"index:idx_events_person_name" json:"person_name"`
	FaceConfidence *float64  `json:"face_confidence"`
	FaceDistance   *float64  `json:"face_distance"`
	UnlockGranted  bool      `gorm:"not null;default:false" json:"unlock_granted"`
	DoorAction     string    `gorm:"default:none" json:"door_action"`
	ThumbnailPath  *string   `json:"thumbnail_path"`
	AlertSent      bool      `gorm:"not null;default:false" json:"alert_sent"`
	CreatedAt      time.Time `json:"created_at"`

	Detections []Detection `gorm:"foreignKey:EventID;constraint:OnDelete:CASCADE" json:"detections"`
}

// Detection represents one detected object in an event frame. Detections are
// exclusively owned by their Event and written in the same transaction.
type Detection struct {
	ID         uint    `gorm:"primaryKey" json:"id"`
	EventID    uint    `gorm:"index:idx_detections_event_id;not null" json:"event_id"`
	Label      string  `gorm:"not null;index:idx_detections_label" json:"label"`
	Confidence float64 `gorm:"not null" json:"confidence"`
	BboxX1     float64 `json:"bbox_x1"`
	BboxY1     float64 `json:"bbox_y1"`
	BboxX2     float64 `json:"bbox_x2"`
	BboxY2     float64 `json:"bbox_y2"`
}
