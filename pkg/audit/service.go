// Package audit persists the events published by the dashboard gateway.
package audit

import (
	"context"
	"time"

	"github.com/frottis-lab/dashboard/pkg/common/logger"
	"github.com/frottis-lab/dashboard/pkg/common/models"
	"github.com/google/uuid"
)

// Store is implemented by Repository.
type Store interface {
	Insert(ctx context.Context, e Entry) error
	ExistsEvent(ctx context.Context, eventID string) (bool, error)
	ListForPatient(ctx context.Context, patientID string, limit int) ([]Entry, error)
}

type Service struct {
	store Store
	now   func() time.Time
}

func NewService(store Store) *Service {
	return &Service{store: store, now: time.Now}
}

// HandleEvent stores an event once; redelivered events are ignored.
func (s *Service) HandleEvent(ctx context.Context, event models.Event) error {
	if event.ID == "" || event.Type == "" {
		logger.Log.WithField("event", event).Warn("Dropping invalid audit event")
		return nil
	}

	exists, err := s.store.ExistsEvent(ctx, event.ID)
	if err != nil {
		return err
	}
	if exists {
		logger.Log.WithField("event_id", event.ID).Debug("Audit event already recorded")
		return nil
	}

	entry := Entry{
		ID:         uuid.New(),
		EventID:    event.ID,
		Type:       event.Type,
		Actor:      stringField(event.Data, "actor", "system"),
		PatientID:  stringField(event.Data, "patient_id", ""),
		Payload:    event.Data,
		OccurredAt: event.Timestamp,
		RecordedAt: s.now().UTC(),
	}
	if entry.OccurredAt.IsZero() {
		entry.OccurredAt = entry.RecordedAt
	}

	if err := s.store.Insert(ctx, entry); err != nil {
		return err
	}
	logger.Log.WithFields(map[string]interface{}{
		"event_id":   event.ID,
		"event_type": event.Type,
		"patient_id": entry.PatientID,
	}).Info("Audit event recorded")
	return nil
}

func (s *Service) History(ctx context.Context, patientID string, limit int) ([]Entry, error) {
	return s.store.ListForPatient(ctx, patientID, limit)
}

func stringField(data map[string]interface{}, key, fallback string) string {
	if v, ok := data[key].(string); ok && v != "" {
		return v
	}
	return fallback
}
