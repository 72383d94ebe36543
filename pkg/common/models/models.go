package models

import (
	"bytes"
	"encoding/json"
	"strconv"
	"time"
)

// ID is a server-assigned identifier. The backend emits it either as a JSON
// number or a string; both decode to the same textual form.
type ID string

func (id *ID) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	if bytes.Equal(data, []byte("null")) {
		*id = ""
		return nil
	}
	if len(data) > 0 && data[0] == '"' {
		var s string
		if err := json.Unmarshal(data, &s); err != nil {
			return err
		}
		*id = ID(s)
		return nil
	}
	var n json.Number
	if err := json.Unmarshal(data, &n); err != nil {
		return err
	}
	*id = ID(n.String())
	return nil
}

// MarshalJSON writes canonical integers as numbers; anything else, "007"
// or "+5" included, stays a string.
func (id ID) MarshalJSON() ([]byte, error) {
	if n, err := strconv.ParseInt(string(id), 10, 64); err == nil && strconv.FormatInt(n, 10) == string(id) {
		return []byte(id), nil
	}
	return json.Marshal(string(id))
}

func (id ID) String() string { return string(id) }

type Sex string

const (
	SexMale   Sex = "Masculin"
	SexFemale Sex = "Feminin"
)

// Patient mirrors the backend patient resource.
type Patient struct {
	ID    ID     `json:"id"`
	Code  string `json:"code_patient"`
	Name  string `json:"nom"`
	Sex   Sex    `json:"sexe"`
	Age   int    `json:"age"`
	Email string `json:"email,omitempty"`
}

// PatientInput is the registration form.
type PatientInput struct {
	Name  string `json:"nom" validate:"required"`
	Sex   Sex    `json:"sexe" validate:"required,oneof=Masculin Feminin"`
	Age   int    `json:"age" validate:"required,gt=0"`
	Email string `json:"email,omitempty" validate:"omitempty,email"`
}

// PatientUpdate carries only the fields being edited.
type PatientUpdate struct {
	Name  *string `json:"nom,omitempty" validate:"omitempty,min=1"`
	Sex   *Sex    `json:"sexe,omitempty" validate:"omitempty,oneof=Masculin Feminin"`
	Age   *int    `json:"age,omitempty" validate:"omitempty,gt=0"`
	Email *string `json:"email,omitempty" validate:"omitempty,email"`
}

// StatusPayload is the raw classification status of one analysis. The
// backend usually sends a string; a bare JSON object or array is kept as its
// raw text so the decoder sees the same input either way.
type StatusPayload string

func (s *StatusPayload) UnmarshalJSON(data []byte) error {
	data = bytes.TrimSpace(data)
	switch {
	case bytes.Equal(data, []byte("null")):
		*s = ""
	case len(data) > 0 && data[0] == '"':
		var str string
		if err := json.Unmarshal(data, &str); err != nil {
			return err
		}
		*s = StatusPayload(str)
	default:
		*s = StatusPayload(data)
	}
	return nil
}

// AnalysisResult is one classification run produced by the backend.
type AnalysisResult struct {
	ID          ID            `json:"id,omitempty"`
	Code        string        `json:"code_patient"`
	PatientName string        `json:"nom_patient,omitempty"`
	Status      StatusPayload `json:"status"`
}

// Probability is one class of a decoded status, Value in percent.
type Probability struct {
	Label string  `json:"label"`
	Value float64 `json:"value"`
}

type StatusResult struct {
	Parasitized Probability `json:"parasitized"`
	Uninfected  Probability `json:"uninfected"`
}

// ReconciledPatientView is a patient with the analyses sharing its code.
type ReconciledPatientView struct {
	Patient
	Analyses []AnalysisResult `json:"analyses"`
}

// AnalyseResponse is the immediate answer of the image submission endpoint.
type AnalyseResponse struct {
	Resultats struct {
		Parasitized float64 `json:"Parasitized"`
		Uninfected  float64 `json:"Uninfected"`
	} `json:"resultats"`
}

// Event Bus models
type Event struct {
	ID        string                 `json:"id"`
	Type      string                 `json:"type"` // patient.created, analysis.submitted, ...
	Source    string                 `json:"source"`
	Data      map[string]interface{} `json:"data"`
	Timestamp time.Time              `json:"timestamp"`
	Metadata  map[string]string      `json:"metadata,omitempty"`
}

const (
	EventPatientCreated    = "patient.created"
	EventPatientUpdated    = "patient.updated"
	EventPatientDeleted    = "patient.deleted"
	EventAnalysisSubmitted = "analysis.submitted"
	EventAnalysesExported  = "analyses.exported"
)
