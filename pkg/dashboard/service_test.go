package dashboard

import (
	"context"
	"errors"
	"io"
	"net/http"
	"strings"
	"sync"
	"testing"

	"github.com/frottis-lab/dashboard/pkg/backend"
	"github.com/frottis-lab/dashboard/pkg/common/logger"
	"github.com/frottis-lab/dashboard/pkg/common/models"
	"github.com/frottis-lab/dashboard/pkg/export"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.Silence()
}

type fakeBackend struct {
	patients       []models.Patient
	results        []models.AnalysisResult
	patientResults map[models.ID][]models.AnalysisResult
	analyse        models.AnalyseResponse

	listErr       error
	resultsErr    error
	patientErr    error
	patientResErr error
	createCalls   int
	lastUpdate    models.PatientUpdate
	deleted       []models.ID
	uploadedBytes []byte
	uploadedFor   models.ID
}

func (f *fakeBackend) ListPatients(context.Context) ([]models.Patient, error) {
	return f.patients, f.listErr
}

func (f *fakeBackend) GetPatient(_ context.Context, id models.ID) (models.Patient, error) {
	if f.patientErr != nil {
		return models.Patient{}, f.patientErr
	}
	for _, p := range f.patients {
		if p.ID == id {
			return p, nil
		}
	}
	return models.Patient{}, &backend.Error{Method: http.MethodGet, Path: "/patientdetail/" + id.String() + "/", StatusCode: http.StatusNotFound}
}

func (f *fakeBackend) CreatePatient(_ context.Context, in models.PatientInput) (models.Patient, error) {
	f.createCalls++
	return models.Patient{ID: "42", Code: "PAT-42", Name: in.Name, Sex: in.Sex, Age: in.Age, Email: in.Email}, nil
}

func (f *fakeBackend) UpdatePatient(_ context.Context, id models.ID, upd models.PatientUpdate) (models.Patient, error) {
	f.lastUpdate = upd
	p := models.Patient{ID: id, Name: "Awa Diallo"}
	if upd.Name != nil {
		p.Name = *upd.Name
	}
	return p, nil
}

func (f *fakeBackend) DeletePatient(_ context.Context, id models.ID) error {
	f.deleted = append(f.deleted, id)
	return nil
}

func (f *fakeBackend) ListResults(context.Context) ([]models.AnalysisResult, error) {
	return f.results, f.resultsErr
}

func (f *fakeBackend) ListPatientResults(_ context.Context, id models.ID) ([]models.AnalysisResult, error) {
	if f.patientResErr != nil {
		return nil, f.patientResErr
	}
	return f.patientResults[id], nil
}

func (f *fakeBackend) Analyse(_ context.Context, id models.ID, _ string, image io.Reader) (models.AnalyseResponse, error) {
	data, err := io.ReadAll(image)
	if err != nil {
		return models.AnalyseResponse{}, err
	}
	f.uploadedBytes = data
	f.uploadedFor = id
	return f.analyse, nil
}

type recordingPublisher struct {
	mu     sync.Mutex
	events []models.Event
	err    error
}

func (p *recordingPublisher) PublishEvent(_ context.Context, e models.Event) error {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.events = append(p.events, e)
	return p.err
}

func (p *recordingPublisher) types() []string {
	p.mu.Lock()
	defer p.mu.Unlock()
	out := make([]string, 0, len(p.events))
	for _, e := range p.events {
		out = append(out, e.Type)
	}
	return out
}

const (
	infectedStatus = "[('Parasitized', 0.92), ('Uninfected', 0.08)]"
	cleanStatus    = `{"Parasitized": 0.3, "Uninfected": 0.7}`
)

func newFixture() (*fakeBackend, *recordingPublisher, *Service) {
	fb := &fakeBackend{
		patients: []models.Patient{
			{ID: "1", Code: "P1", Name: "Awa Diallo", Sex: models.SexFemale, Age: 31},
			{ID: "2", Code: "P3", Name: "Jean Kaboré", Sex: models.SexMale, Age: 8},
		},
		results: []models.AnalysisResult{
			{Code: "P1", PatientName: "Awa Diallo", Status: infectedStatus},
			{Code: "P2", PatientName: "Inconnu", Status: cleanStatus},
		},
		patientResults: map[models.ID][]models.AnalysisResult{
			"1": {
				{Code: "P1", PatientName: "Awa Diallo", Status: infectedStatus},
				{Code: "P1", PatientName: "Awa Diallo", Status: "not a status"},
			},
		},
	}
	pub := &recordingPublisher{}
	return fb, pub, NewService(fb, export.DefaultLabels(), pub)
}

func TestAnalysesOverviewLeavesOrphansOut(t *testing.T) {
	_, _, svc := newFixture()

	rows, err := svc.AnalysesOverview(context.Background())
	require.NoError(t, err)
	require.Len(t, rows, 2)

	assert.Equal(t, "P1", rows[0].Code)
	require.Len(t, rows[0].Analyses, 1)
	assert.Equal(t, 1, rows[0].AnalysisCount)
	assert.Equal(t, "P1", rows[0].Analyses[0].Code)

	assert.Equal(t, "P3", rows[1].Code)
	assert.Empty(t, rows[1].Analyses)
	assert.NotNil(t, rows[1].Analyses)
	for _, row := range rows {
		for _, a := range row.Analyses {
			assert.NotEqual(t, "P2", a.Code)
		}
	}
}

func TestAnalysesOverviewNeedsBothFetches(t *testing.T) {
	fb, _, svc := newFixture()
	fb.resultsErr = errors.New("connection refused")

	rows, err := svc.AnalysesOverview(context.Background())
	assert.Nil(t, rows)
	require.Error(t, err)
	assert.Equal(t, MsgRefreshResults, UserMessage(err, ""))
}

func TestGetPatientSummaryCountsByCode(t *testing.T) {
	fb, _, svc := newFixture()
	fb.results = append(fb.results, models.AnalysisResult{Code: "P1", Status: cleanStatus})

	summary, err := svc.GetPatientSummary(context.Background(), "1")
	require.NoError(t, err)
	assert.Equal(t, "Awa Diallo", summary.Patient.Name)
	assert.Equal(t, 2, summary.AnalysisCount)

	_, err = svc.GetPatientSummary(context.Background(), "99")
	require.Error(t, err)
	assert.True(t, backend.IsNotFound(err))
	assert.Equal(t, MsgPatientMissing, UserMessage(err, ""))
}

func TestPatientAnalysesDecodesAndClassifies(t *testing.T) {
	_, _, svc := newFixture()

	view, err := svc.PatientAnalyses(context.Background(), "1")
	require.NoError(t, err)
	require.Len(t, view.Analyses, 2)

	first := view.Analyses[0]
	assert.InDelta(t, 92.0, first.Result.Parasitized.Value, 1e-9)
	assert.True(t, first.Infected)
	assert.Equal(t, "Parasité", first.Diagnosis)

	garbage := view.Analyses[1]
	assert.Zero(t, garbage.Result.Parasitized.Value)
	assert.Zero(t, garbage.Result.Uninfected.Value)
	assert.False(t, garbage.Infected)
	assert.Equal(t, "Non infecté", garbage.Diagnosis)
}

func TestPatientAnalysesEmptyState(t *testing.T) {
	fb, _, svc := newFixture()
	fb.patientResErr = &backend.Error{Method: http.MethodGet, Path: "/getresultdetail/2/", StatusCode: http.StatusNotFound}

	view, err := svc.PatientAnalyses(context.Background(), "2")
	require.NoError(t, err)
	assert.Equal(t, "P3", view.Patient.Code)
	assert.Empty(t, view.Analyses)
}

func TestPatientAnalysesBackendFailure(t *testing.T) {
	fb, _, svc := newFixture()
	fb.patientResErr = &backend.Error{Method: http.MethodGet, Path: "/getresultdetail/1/", StatusCode: http.StatusInternalServerError}

	_, err := svc.PatientAnalyses(context.Background(), "1")
	require.Error(t, err)
	assert.Equal(t, MsgPatientData, UserMessage(err, ""))
}

func TestCreatePatientValidation(t *testing.T) {
	fb, pub, svc := newFixture()

	_, err := svc.CreatePatient(context.Background(), models.PatientInput{Name: "  ", Sex: "Autre", Age: -3, Email: "pas-un-email"}, "tech-1")
	require.Error(t, err)
	require.True(t, IsValidationError(err))

	var ve ValidationError
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "Le nom est requis", ve.Fields["nom"])
	assert.Equal(t, "Le sexe doit être Masculin ou Feminin", ve.Fields["sexe"])
	assert.Equal(t, "L'âge doit être positif", ve.Fields["age"])
	assert.Equal(t, "Email invalide", ve.Fields["email"])
	assert.Zero(t, fb.createCalls, "invalid forms never reach the backend")
	assert.Empty(t, pub.types())

	_, err = svc.CreatePatient(context.Background(), models.PatientInput{Name: "Awa"}, "tech-1")
	require.True(t, errors.As(err, &ve))
	assert.Equal(t, "Le sexe est requis", ve.Fields["sexe"])
	assert.Equal(t, "L'âge est requis", ve.Fields["age"])
	_, hasEmail := ve.Fields["email"]
	assert.False(t, hasEmail, "email is optional")
}

func TestCreatePatientPublishesEvent(t *testing.T) {
	fb, pub, svc := newFixture()

	p, err := svc.CreatePatient(context.Background(), models.PatientInput{Name: " Awa ", Sex: models.SexFemale, Age: 31}, "tech-1")
	require.NoError(t, err)
	assert.Equal(t, "Awa", p.Name)
	assert.Equal(t, 1, fb.createCalls)

	require.Len(t, pub.events, 1)
	e := pub.events[0]
	assert.Equal(t, models.EventPatientCreated, e.Type)
	assert.Equal(t, "42", e.Data["patient_id"])
	assert.Equal(t, "tech-1", e.Data["actor"])
	assert.NotEmpty(t, e.ID)
}

func TestPublishFailureDoesNotFailAction(t *testing.T) {
	fb, pub, svc := newFixture()
	pub.err = errors.New("broker down")

	require.NoError(t, svc.DeletePatient(context.Background(), "1", "tech-1"))
	assert.Equal(t, []models.ID{"1"}, fb.deleted)
	assert.Equal(t, []string{models.EventPatientDeleted}, pub.types())
}

func TestUpdatePatient(t *testing.T) {
	fb, pub, svc := newFixture()

	bad := 0
	_, err := svc.UpdatePatient(context.Background(), "1", models.PatientUpdate{Age: &bad}, "tech-1")
	assert.True(t, IsValidationError(err))

	name := " Awa D. "
	p, err := svc.UpdatePatient(context.Background(), "1", models.PatientUpdate{Name: &name}, "tech-1")
	require.NoError(t, err)
	assert.Equal(t, "Awa D.", p.Name)
	require.NotNil(t, fb.lastUpdate.Name)
	assert.Nil(t, fb.lastUpdate.Age)
	require.Len(t, pub.events, 1)
	assert.Equal(t, []string{"nom"}, pub.events[0].Data["fields"])
}

func TestAnalyseClassifiesImmediateAnswer(t *testing.T) {
	fb, pub, svc := newFixture()
	fb.analyse.Resultats.Parasitized = 0.97
	fb.analyse.Resultats.Uninfected = 0.03

	out, err := svc.Analyse(context.Background(), "1", "smear.png", strings.NewReader("png"), "tech-1")
	require.NoError(t, err)
	assert.True(t, out.Infected)
	assert.Equal(t, "Présence de parasites", out.Verdict)
	assert.InDelta(t, 97.0, out.Result.Parasitized.Value, 1e-9)
	assert.Equal(t, []byte("png"), fb.uploadedBytes)
	assert.Equal(t, models.ID("1"), fb.uploadedFor)
	assert.Equal(t, []string{models.EventAnalysisSubmitted}, pub.types())

	_, err = svc.Analyse(context.Background(), "", "smear.png", strings.NewReader("png"), "tech-1")
	assert.ErrorIs(t, err, ErrMissingInput)
	assert.Equal(t, MsgAnalyseInput, UserMessage(err, ""))
}

func TestExportCSV(t *testing.T) {
	_, pub, svc := newFixture()

	file, err := svc.Export(context.Background(), "1", export.FormatCSV, "tech-1")
	require.NoError(t, err)
	assert.Equal(t, "patient_1_analyses.csv", file.Name)
	assert.Equal(t, "text/csv; charset=utf-8", file.ContentType)

	lines := strings.Split(strings.TrimSpace(string(file.Data)), "\n")
	require.Len(t, lines, 3)
	assert.Equal(t, "Code Patient,Nom Patient,Status,Parasité (%),Non infecté (%),Date", lines[0])
	assert.True(t, strings.HasPrefix(lines[1], "P1,Awa Diallo,Parasité,92.00,8.00,"), lines[1])
	assert.True(t, strings.HasPrefix(lines[2], "P1,Awa Diallo,Non infecté,0.00,0.00,"), lines[2])
	assert.Equal(t, []string{models.EventAnalysesExported}, pub.types())
}

func TestExportWithoutAnalyses(t *testing.T) {
	_, pub, svc := newFixture()

	_, err := svc.Export(context.Background(), "2", export.FormatCSV, "tech-1")
	assert.ErrorIs(t, err, export.ErrNoRows)
	assert.Empty(t, pub.types())
}
