package audit

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
	"gorm.io/datatypes"
	"gorm.io/gorm"
)

// Entry is one persisted dashboard event.
type Entry struct {
	ID         uuid.UUID              `json:"id"`
	EventID    string                 `json:"event_id"`
	Type       string                 `json:"type"`
	Actor      string                 `json:"actor"`
	PatientID  string                 `json:"patient_id,omitempty"`
	Payload    map[string]interface{} `json:"payload,omitempty"`
	OccurredAt time.Time              `json:"occurred_at"`
	RecordedAt time.Time              `json:"recorded_at"`
}

type entryModel struct {
	ID         uuid.UUID      `gorm:"primaryKey;column:id;type:uuid"`
	EventID    string         `gorm:"column:event_id;uniqueIndex"`
	Type       string         `gorm:"column:type;index"`
	Actor      string         `gorm:"column:actor"`
	PatientID  string         `gorm:"column:patient_id;index"`
	Payload    datatypes.JSON `gorm:"column:payload"`
	OccurredAt time.Time      `gorm:"column:occurred_at"`
	RecordedAt time.Time      `gorm:"column:recorded_at"`
}

func (entryModel) TableName() string { return "audit_entries" }

type Repository struct {
	db *gorm.DB
}

func NewRepository(db *gorm.DB) *Repository {
	return &Repository{db: db}
}

func (r *Repository) AutoMigrate() error {
	return r.db.AutoMigrate(&entryModel{})
}

func (r *Repository) Insert(ctx context.Context, e Entry) error {
	payload, err := json.Marshal(e.Payload)
	if err != nil {
		return err
	}
	model := entryModel{
		ID:         e.ID,
		EventID:    e.EventID,
		Type:       e.Type,
		Actor:      e.Actor,
		PatientID:  e.PatientID,
		Payload:    datatypes.JSON(payload),
		OccurredAt: e.OccurredAt,
		RecordedAt: e.RecordedAt,
	}
	return r.db.WithContext(ctx).Create(&model).Error
}

// ExistsEvent reports whether an event id was already stored.
func (r *Repository) ExistsEvent(ctx context.Context, eventID string) (bool, error) {
	var count int64
	err := r.db.WithContext(ctx).Model(&entryModel{}).Where("event_id = ?", eventID).Count(&count).Error
	return count > 0, err
}

func (r *Repository) ListForPatient(ctx context.Context, patientID string, limit int) ([]Entry, error) {
	if limit <= 0 {
		limit = 100
	}
	var rows []entryModel
	if err := r.db.WithContext(ctx).
		Where("patient_id = ?", patientID).
		Order("occurred_at desc").
		Limit(limit).
		Find(&rows).Error; err != nil {
		return nil, err
	}
	out := make([]Entry, 0, len(rows))
	for _, row := range rows {
		out = append(out, toEntry(row))
	}
	return out, nil
}

func toEntry(m entryModel) Entry {
	var payload map[string]interface{}
	if len(m.Payload) > 0 {
		_ = json.Unmarshal(m.Payload, &payload)
	}
	return Entry{
		ID:         m.ID,
		EventID:    m.EventID,
		Type:       m.Type,
		Actor:      m.Actor,
		PatientID:  m.PatientID,
		Payload:    payload,
		OccurredAt: m.OccurredAt,
		RecordedAt: m.RecordedAt,
	}
}
