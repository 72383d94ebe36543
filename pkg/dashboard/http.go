package dashboard

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"strings"

	"github.com/frottis-lab/dashboard/pkg/backend"
	"github.com/frottis-lab/dashboard/pkg/common/logger"
	"github.com/frottis-lab/dashboard/pkg/common/models"
	"github.com/frottis-lab/dashboard/pkg/export"
	"github.com/gorilla/mux"
)

// ActorFunc resolves the operator behind a request.
type ActorFunc func(r *http.Request) string

type Handler struct {
	service        *Service
	actor          ActorFunc
	maxUploadBytes int64
}

func NewHandler(service *Service, actor ActorFunc, maxUploadBytes int64) *Handler {
	if actor == nil {
		actor = func(*http.Request) string { return "system" }
	}
	if maxUploadBytes <= 0 {
		maxUploadBytes = 10 << 20
	}
	return &Handler{service: service, actor: actor, maxUploadBytes: maxUploadBytes}
}

func (h *Handler) Register(r *mux.Router) {
	r.HandleFunc("/patients", h.handleListPatients).Methods(http.MethodGet)
	r.HandleFunc("/patients", h.handleCreatePatient).Methods(http.MethodPost)
	r.HandleFunc("/patients/{id}", h.handleGetPatient).Methods(http.MethodGet)
	r.HandleFunc("/patients/{id}", h.handleUpdatePatient).Methods(http.MethodPut, http.MethodPatch)
	r.HandleFunc("/patients/{id}", h.handleDeletePatient).Methods(http.MethodDelete)
	r.HandleFunc("/patients/{id}/analyses", h.handlePatientAnalyses).Methods(http.MethodGet)
	r.HandleFunc("/patients/{id}/analyses/export", h.handleExport).Methods(http.MethodGet)
	r.HandleFunc("/analyses", h.handleOverview).Methods(http.MethodGet)
	r.HandleFunc("/analyses", h.handleAnalyse).Methods(http.MethodPost)
	r.HandleFunc("/labels", h.handleLabels).Methods(http.MethodGet)
}

func (h *Handler) handleListPatients(w http.ResponseWriter, r *http.Request) {
	patients, err := h.service.ListPatients(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": patients})
}

func (h *Handler) handleCreatePatient(w http.ResponseWriter, r *http.Request) {
	var in models.PatientInput
	if err := decodeForm(r, &in); err != nil {
		writeError(w, r, err)
		return
	}
	patient, err := h.service.CreatePatient(r.Context(), in, h.actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]interface{}{
		"patient": patient,
		"message": "Patient ajouté avec succès !",
	})
}

func (h *Handler) handleGetPatient(w http.ResponseWriter, r *http.Request) {
	summary, err := h.service.GetPatientSummary(r.Context(), patientID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, summary)
}

func (h *Handler) handleUpdatePatient(w http.ResponseWriter, r *http.Request) {
	var upd models.PatientUpdate
	if err := decodeForm(r, &upd); err != nil {
		writeError(w, r, err)
		return
	}
	patient, err := h.service.UpdatePatient(r.Context(), patientID(r), upd, h.actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"patient": patient,
		"message": "Patient mis à jour avec succès",
	})
}

func (h *Handler) handleDeletePatient(w http.ResponseWriter, r *http.Request) {
	if err := h.service.DeletePatient(r.Context(), patientID(r), h.actor(r)); err != nil {
		writeError(w, r, err)
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handlePatientAnalyses(w http.ResponseWriter, r *http.Request) {
	view, err := h.service.PatientAnalyses(r.Context(), patientID(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, view)
}

func (h *Handler) handleExport(w http.ResponseWriter, r *http.Request) {
	format, err := export.ParseFormat(r.URL.Query().Get("format"))
	if err != nil {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{"error": err.Error()})
		return
	}
	file, err := h.service.Export(r.Context(), patientID(r), format, h.actor(r))
	if errors.Is(err, export.ErrNoRows) {
		w.WriteHeader(http.StatusNoContent)
		return
	}
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", file.ContentType)
	w.Header().Set("Content-Disposition", fmt.Sprintf("attachment; filename=%q", file.Name))
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write(file.Data)
}

func (h *Handler) handleOverview(w http.ResponseWriter, r *http.Request) {
	rows, err := h.service.AnalysesOverview(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{"items": rows})
}

func (h *Handler) handleAnalyse(w http.ResponseWriter, r *http.Request) {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUploadBytes)
	if err := r.ParseMultipartForm(h.maxUploadBytes); err != nil {
		writeError(w, r, userError(MsgAnalyseInput, ErrMissingInput))
		return
	}
	id := models.ID(strings.TrimSpace(r.FormValue("id_patient")))
	file, header, err := r.FormFile("image")
	if err != nil || id == "" {
		writeError(w, r, userError(MsgAnalyseInput, ErrMissingInput))
		return
	}
	defer file.Close()

	outcome, err := h.service.Analyse(r.Context(), id, header.Filename, file, h.actor(r))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, outcome)
}

func (h *Handler) handleLabels(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, h.service.Labels())
}

func patientID(r *http.Request) models.ID {
	return models.ID(mux.Vars(r)["id"])
}

// decodeForm maps a non-integer age to the same field error the validator
// would report.
func decodeForm(r *http.Request, out interface{}) error {
	if err := json.NewDecoder(r.Body).Decode(out); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field == "age" {
			return ValidationError{Fields: map[string]string{"age": fieldMessage("age", "integer")}}
		}
		return ValidationError{Fields: map[string]string{"body": "requête invalide"}}
	}
	return nil
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	var ve ValidationError
	if errors.As(err, &ve) {
		writeJSON(w, http.StatusBadRequest, map[string]interface{}{
			"error":  "Formulaire invalide",
			"fields": ve.Fields,
		})
		return
	}

	code := http.StatusBadGateway
	switch {
	case errors.Is(err, ErrMissingInput):
		code = http.StatusBadRequest
	case backend.IsNotFound(err):
		code = http.StatusNotFound
	case backend.IsClientError(err):
		code = http.StatusBadRequest
	}
	logger.FromContext(r.Context()).WithError(err).WithField("status", code).Warn("request failed")
	writeJSON(w, code, map[string]interface{}{"error": UserMessage(err, MsgNoResponse)})
}

// writeJSON encodes before writing the header so an encode failure still
// reaches the client as a 500.
func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	var buf bytes.Buffer
	if err := json.NewEncoder(&buf).Encode(payload); err != nil {
		logger.Log.WithError(err).Error("failed to encode response")
		http.Error(w, "failed to encode response", http.StatusInternalServerError)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(buf.Bytes())
}
