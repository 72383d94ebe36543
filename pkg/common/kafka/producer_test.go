package kafka

import (
	"testing"

	"github.com/frottis-lab/dashboard/pkg/common/models"
	"github.com/stretchr/testify/assert"
)

func TestNewEvent(t *testing.T) {
	a := NewEvent(models.EventPatientCreated, "dashboard", map[string]interface{}{"patient_id": "7"})
	b := NewEvent(models.EventPatientCreated, "dashboard", nil)

	assert.NotEmpty(t, a.ID)
	assert.NotEqual(t, a.ID, b.ID)
	assert.Equal(t, models.EventPatientCreated, a.Type)
	assert.False(t, a.Timestamp.IsZero())
}

func TestMessageKeyPrefersPatient(t *testing.T) {
	withPatient := models.Event{ID: "evt", Data: map[string]interface{}{"patient_id": "7"}}
	assert.Equal(t, "7", messageKey(withPatient))

	assert.Equal(t, "evt", messageKey(models.Event{ID: "evt"}))
	assert.Equal(t, "evt", messageKey(models.Event{ID: "evt", Data: map[string]interface{}{"patient_id": ""}}))
}
