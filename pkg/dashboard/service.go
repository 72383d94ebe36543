// Package dashboard implements the operator views of the smear analysis
// dashboard on top of the backend REST API. Each view is fetched fresh on
// every call; nothing is cached between calls.
package dashboard

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"

	"github.com/frottis-lab/dashboard/pkg/backend"
	"github.com/frottis-lab/dashboard/pkg/common/kafka"
	"github.com/frottis-lab/dashboard/pkg/common/logger"
	"github.com/frottis-lab/dashboard/pkg/common/models"
	"github.com/frottis-lab/dashboard/pkg/export"
	"github.com/frottis-lab/dashboard/pkg/observability/metrics"
	"github.com/frottis-lab/dashboard/pkg/reconcile"
	"github.com/frottis-lab/dashboard/pkg/status"
	"github.com/go-playground/validator/v10"
	"golang.org/x/sync/errgroup"
)

const eventSource = "dashboard"

// Backend is implemented by backend.Client.
type Backend interface {
	ListPatients(ctx context.Context) ([]models.Patient, error)
	GetPatient(ctx context.Context, id models.ID) (models.Patient, error)
	CreatePatient(ctx context.Context, in models.PatientInput) (models.Patient, error)
	UpdatePatient(ctx context.Context, id models.ID, upd models.PatientUpdate) (models.Patient, error)
	DeletePatient(ctx context.Context, id models.ID) error
	ListResults(ctx context.Context) ([]models.AnalysisResult, error)
	ListPatientResults(ctx context.Context, patientID models.ID) ([]models.AnalysisResult, error)
	Analyse(ctx context.Context, patientID models.ID, filename string, image io.Reader) (models.AnalyseResponse, error)
}

// EventPublisher is implemented by kafka.Producer.
type EventPublisher interface {
	PublishEvent(ctx context.Context, event models.Event) error
}

type nopPublisher struct{}

func (nopPublisher) PublishEvent(context.Context, models.Event) error { return nil }

type PatientSummary struct {
	Patient       models.Patient `json:"patient"`
	AnalysisCount int            `json:"analysis_count"`
}

type OverviewRow struct {
	models.ReconciledPatientView
	AnalysisCount int `json:"analysis_count"`
}

// DecodedAnalysis is one analysis with its decoded status and diagnosis.
type DecodedAnalysis struct {
	models.AnalysisResult
	Result    models.StatusResult `json:"result"`
	Infected  bool                `json:"infected"`
	Diagnosis string              `json:"diagnosis"`
}

type PatientAnalyses struct {
	Patient  models.Patient    `json:"patient"`
	Analyses []DecodedAnalysis `json:"analyses"`
}

type AnalyseOutcome struct {
	PatientID models.ID           `json:"patient_id"`
	Result    models.StatusResult `json:"result"`
	Infected  bool                `json:"infected"`
	Verdict   string              `json:"verdict"`
}

type ExportFile struct {
	Name        string
	ContentType string
	Data        []byte
}

type Service struct {
	backend  Backend
	events   EventPublisher
	labels   export.Labels
	exporter *export.Exporter
	validate *validator.Validate
}

func NewService(b Backend, labels export.Labels, events EventPublisher) *Service {
	if events == nil {
		events = nopPublisher{}
	}
	return &Service{
		backend:  b,
		events:   events,
		labels:   labels,
		exporter: export.NewExporter(labels),
		validate: newValidator(),
	}
}

func (s *Service) Labels() export.Labels { return s.labels }

func (s *Service) ListPatients(ctx context.Context) ([]models.Patient, error) {
	patients, err := s.backend.ListPatients(ctx)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("failed to list patients")
		return nil, userError(MsgListPatients, err)
	}
	if patients == nil {
		patients = []models.Patient{}
	}
	return patients, nil
}

// GetPatientSummary returns a patient with the number of analyses recorded
// under its code.
func (s *Service) GetPatientSummary(ctx context.Context, id models.ID) (PatientSummary, error) {
	patient, err := s.getPatient(ctx, id, MsgPatientDetail)
	if err != nil {
		return PatientSummary{}, err
	}
	results, err := s.backend.ListResults(ctx)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("failed to list results")
		return PatientSummary{}, userError(MsgPatientDetail, err)
	}
	return PatientSummary{Patient: patient, AnalysisCount: reconcile.CountFor(patient.Code, results)}, nil
}

func (s *Service) CreatePatient(ctx context.Context, in models.PatientInput, actor string) (models.Patient, error) {
	in.Name = strings.TrimSpace(in.Name)
	in.Email = strings.TrimSpace(in.Email)
	if err := s.validate.StructCtx(ctx, in); err != nil {
		return models.Patient{}, validationError(err)
	}
	patient, err := s.backend.CreatePatient(ctx, in)
	if err != nil {
		logger.FromContext(ctx).WithError(err).Error("failed to create patient")
		return models.Patient{}, userError(MsgCreatePatient, err)
	}
	s.publish(ctx, models.EventPatientCreated, actor, patient.ID, map[string]interface{}{
		"code_patient": patient.Code,
	})
	return patient, nil
}

func (s *Service) UpdatePatient(ctx context.Context, id models.ID, upd models.PatientUpdate, actor string) (models.Patient, error) {
	if upd.Name != nil {
		trimmed := strings.TrimSpace(*upd.Name)
		upd.Name = &trimmed
	}
	if err := s.validate.StructCtx(ctx, upd); err != nil {
		return models.Patient{}, validationError(err)
	}
	patient, err := s.backend.UpdatePatient(ctx, id, upd)
	if err != nil {
		logger.FromContext(ctx).WithError(err).WithField("patient_id", id).Error("failed to update patient")
		if backend.IsNotFound(err) {
			return models.Patient{}, userError(MsgPatientMissing, err)
		}
		return models.Patient{}, userError(MsgUpdatePatient, err)
	}
	if patient.ID == "" {
		patient.ID = id
	}
	s.publish(ctx, models.EventPatientUpdated, actor, id, map[string]interface{}{
		"fields": updatedFields(upd),
	})
	return patient, nil
}

func (s *Service) DeletePatient(ctx context.Context, id models.ID, actor string) error {
	if err := s.backend.DeletePatient(ctx, id); err != nil {
		logger.FromContext(ctx).WithError(err).WithField("patient_id", id).Error("failed to delete patient")
		if backend.IsNotFound(err) {
			return userError(MsgPatientMissing, err)
		}
		return userError(MsgDeletePatient, err)
	}
	s.publish(ctx, models.EventPatientDeleted, actor, id, nil)
	return nil
}

// AnalysesOverview fetches patients and results concurrently and reconciles
// them once both are in. A failure of either fetch fails the whole view.
func (s *Service) AnalysesOverview(ctx context.Context) ([]OverviewRow, error) {
	var (
		patients []models.Patient
		results  []models.AnalysisResult
	)
	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		var err error
		patients, err = s.backend.ListPatients(gctx)
		return err
	})
	g.Go(func() error {
		var err error
		results, err = s.backend.ListResults(gctx)
		return err
	})
	if err := g.Wait(); err != nil {
		logger.FromContext(ctx).WithError(err).Error("failed to load analyses overview")
		return nil, userError(MsgRefreshResults, err)
	}

	views := reconcile.Reconcile(patients, results)
	rows := make([]OverviewRow, 0, len(views))
	for _, v := range views {
		rows = append(rows, OverviewRow{ReconciledPatientView: v, AnalysisCount: len(v.Analyses)})
	}
	if orphans := reconcile.Orphans(patients, results); len(orphans) > 0 {
		logger.FromContext(ctx).WithField("count", len(orphans)).Debug("analyses without a matching patient")
	}
	return rows, nil
}

// PatientAnalyses loads a patient then its results, decoding every status.
// A patient without results is an empty list, not an error.
func (s *Service) PatientAnalyses(ctx context.Context, id models.ID) (PatientAnalyses, error) {
	patient, results, err := s.patientResults(ctx, id)
	if err != nil {
		return PatientAnalyses{}, err
	}
	classifier := s.labels.Classifier()
	analyses := make([]DecodedAnalysis, 0, len(results))
	for _, r := range results {
		decoded := status.Decode(string(r.Status))
		d := classifier.Classify(decoded)
		analyses = append(analyses, DecodedAnalysis{
			AnalysisResult: r,
			Result:         decoded,
			Infected:       d.Infected(),
			Diagnosis:      s.labels.DiagnosisLabel(d),
		})
	}
	return PatientAnalyses{Patient: patient, Analyses: analyses}, nil
}

// Analyse submits a smear image and classifies the immediate answer.
func (s *Service) Analyse(ctx context.Context, patientID models.ID, filename string, image io.Reader, actor string) (AnalyseOutcome, error) {
	if patientID == "" || image == nil {
		return AnalyseOutcome{}, userError(MsgAnalyseInput, ErrMissingInput)
	}
	resp, err := s.backend.Analyse(ctx, patientID, filename, image)
	if err != nil {
		logger.FromContext(ctx).WithError(err).WithField("patient_id", patientID).Error("failed to analyse smear")
		return AnalyseOutcome{}, userError(MsgAnalyse, err)
	}
	metrics.IncAnalysesSubmit()

	result := status.FromAnalyseResponse(resp)
	d := s.labels.Classifier().Classify(result)
	outcome := AnalyseOutcome{
		PatientID: patientID,
		Result:    result,
		Infected:  d.Infected(),
		Verdict:   s.labels.VerdictLabel(d),
	}
	s.publish(ctx, models.EventAnalysisSubmitted, actor, patientID, map[string]interface{}{
		"parasitized": result.Parasitized.Value,
		"uninfected":  result.Uninfected.Value,
		"infected":    outcome.Infected,
	})
	return outcome, nil
}

// Export renders the analyses of one patient. It returns export.ErrNoRows
// when the patient has none.
func (s *Service) Export(ctx context.Context, id models.ID, format export.Format, actor string) (ExportFile, error) {
	patient, results, err := s.patientResults(ctx, id)
	if err != nil {
		return ExportFile{}, err
	}
	var buf bytes.Buffer
	if err := s.exporter.Write(&buf, format, s.exporter.Rows(results, patient.Name)); err != nil {
		if errors.Is(err, export.ErrNoRows) {
			return ExportFile{}, err
		}
		logger.FromContext(ctx).WithError(err).WithField("patient_id", id).Error("failed to render export")
		return ExportFile{}, userError(MsgExport, err)
	}
	s.publish(ctx, models.EventAnalysesExported, actor, id, map[string]interface{}{
		"format": string(format),
		"rows":   len(results),
	})
	return ExportFile{
		Name:        export.FileName(id, format),
		ContentType: format.ContentType(),
		Data:        buf.Bytes(),
	}, nil
}

func (s *Service) getPatient(ctx context.Context, id models.ID, msg string) (models.Patient, error) {
	patient, err := s.backend.GetPatient(ctx, id)
	if err != nil {
		logger.FromContext(ctx).WithError(err).WithField("patient_id", id).Error("failed to load patient")
		if backend.IsNotFound(err) {
			return models.Patient{}, userError(MsgPatientMissing, err)
		}
		return models.Patient{}, userError(msg, err)
	}
	return patient, nil
}

func (s *Service) patientResults(ctx context.Context, id models.ID) (models.Patient, []models.AnalysisResult, error) {
	patient, err := s.getPatient(ctx, id, MsgPatientData)
	if err != nil {
		return models.Patient{}, nil, err
	}
	results, err := s.backend.ListPatientResults(ctx, id)
	if err != nil {
		if !backend.IsNotFound(err) {
			logger.FromContext(ctx).WithError(err).WithField("patient_id", id).Error("failed to load patient results")
			return models.Patient{}, nil, userError(MsgPatientData, err)
		}
		results = nil
	}
	return patient, results, nil
}

// publish is best effort: a broker outage never fails the operator action.
func (s *Service) publish(ctx context.Context, eventType, actor string, patientID models.ID, data map[string]interface{}) {
	if data == nil {
		data = map[string]interface{}{}
	}
	data["actor"] = actor
	data["patient_id"] = patientID.String()
	event := kafka.NewEvent(eventType, eventSource, data)
	if id := logger.RequestID(ctx); id != "" {
		event.Metadata = map[string]string{"request_id": id}
	}
	if err := s.events.PublishEvent(ctx, event); err != nil {
		logger.FromContext(ctx).WithError(err).WithField("event_type", eventType).Warn("dashboard event not published")
	}
}

func updatedFields(upd models.PatientUpdate) []string {
	fields := make([]string, 0, 4)
	if upd.Name != nil {
		fields = append(fields, "nom")
	}
	if upd.Sex != nil {
		fields = append(fields, "sexe")
	}
	if upd.Age != nil {
		fields = append(fields, "age")
	}
	if upd.Email != nil {
		fields = append(fields, "email")
	}
	return fields
}
