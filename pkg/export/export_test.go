package export

import (
	"bytes"
	"encoding/csv"
	"os"
	"path/filepath"
	"strconv"
	"testing"
	"time"

	"github.com/frottis-lab/dashboard/pkg/common/logger"
	"github.com/frottis-lab/dashboard/pkg/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/xuri/excelize/v2"
)

func init() {
	logger.Silence()
}

var exportDay = time.Date(2026, 3, 14, 10, 0, 0, 0, time.UTC)

func newTestExporter(labels Labels) *Exporter {
	e := NewExporter(labels)
	e.now = func() time.Time { return exportDay }
	return e
}

func sampleAnalyses() []models.AnalysisResult {
	return []models.AnalysisResult{
		{Code: "P1", PatientName: "Awa", Status: "[('Parasitized', 0.92), ('Uninfected', 0.08)]"},
		{Code: "P1", PatientName: "Awa", Status: "{'Parasitized': 0.3, 'Uninfected': 0.7}"},
		{Code: "P1", PatientName: "", Status: "not a status"},
	}
}

func TestCSVExport(t *testing.T) {
	e := newTestExporter(DefaultLabels())
	var buf bytes.Buffer
	require.NoError(t, e.Write(&buf, FormatCSV, e.Rows(sampleAnalyses(), "Awa Koné")))

	records, err := csv.NewReader(&buf).ReadAll()
	require.NoError(t, err)
	require.Len(t, records, 4)
	assert.Equal(t, []string{"Code Patient", "Nom Patient", "Status", "Parasité (%)", "Non infecté (%)", "Date"}, records[0])
	assert.Equal(t, []string{"P1", "Awa", "Parasité", "92.00", "8.00", "14/03/2026"}, records[1])
	assert.Equal(t, []string{"P1", "Awa", "Non infecté", "30.00", "70.00", "14/03/2026"}, records[2])
	assert.Equal(t, []string{"P1", "Awa Koné", "Non infecté", "0.00", "0.00", "14/03/2026"}, records[3])
}

func TestCSVQuotesDelimitersAndFormulas(t *testing.T) {
	e := newTestExporter(DefaultLabels())
	analyses := []models.AnalysisResult{
		{Code: "P1", PatientName: `Koné, "Awa"`, Status: "[('Parasitized', 0.1), ('Uninfected', 0.9)]"},
		{Code: "=HYPERLINK(\"x\")", PatientName: "@evil", Status: "[('Parasitized', 0.1), ('Uninfected', 0.9)]"},
	}
	var buf bytes.Buffer
	require.NoError(t, e.Write(&buf, FormatCSV, e.Rows(analyses, "")))

	assert.Contains(t, buf.String(), `"Koné, ""Awa"""`)

	records, err := csv.NewReader(bytes.NewReader(buf.Bytes())).ReadAll()
	require.NoError(t, err)
	assert.Equal(t, `Koné, "Awa"`, records[1][1])
	assert.Equal(t, `'=HYPERLINK("x")`, records[2][0])
	assert.Equal(t, "'@evil", records[2][1])
}

func TestWriteWithoutRows(t *testing.T) {
	e := newTestExporter(DefaultLabels())
	var buf bytes.Buffer
	assert.ErrorIs(t, e.Write(&buf, FormatCSV, nil), ErrNoRows)
	assert.Zero(t, buf.Len())
}

func TestXLSXExport(t *testing.T) {
	e := newTestExporter(DefaultLabels())
	var buf bytes.Buffer
	require.NoError(t, e.Write(&buf, FormatXLSX, e.Rows(sampleAnalyses(), "")))

	f, err := excelize.OpenReader(&buf)
	require.NoError(t, err)
	defer f.Close()

	header, err := f.GetCellValue("Analyses", "D1")
	require.NoError(t, err)
	assert.Equal(t, "Parasité (%)", header)

	diag, err := f.GetCellValue("Analyses", "C2")
	require.NoError(t, err)
	assert.Equal(t, "Parasité", diag)

	raw, err := f.GetCellValue("Analyses", "D2", excelize.Options{RawCellValue: true})
	require.NoError(t, err)
	v, err := strconv.ParseFloat(raw, 64)
	require.NoError(t, err)
	assert.InDelta(t, 92.0, v, 1e-9)
}

func TestThresholdFromLabels(t *testing.T) {
	labels := DefaultLabels()
	labels.Threshold = 95
	e := newTestExporter(labels)

	rows := e.Rows(sampleAnalyses()[:1], "")
	assert.Equal(t, "Non infecté", rows[0].Diagnosis)
}

func TestLoadLabels(t *testing.T) {
	labels, err := LoadLabels("")
	require.NoError(t, err)
	assert.Equal(t, DefaultLabels(), labels)

	path := filepath.Join(t.TempDir(), "labels.yaml")
	require.NoError(t, os.WriteFile(path, []byte("threshold: 60\ndate_format: \"2006-01-02\"\n"), 0o600))
	labels, err = LoadLabels(path)
	require.NoError(t, err)
	assert.Equal(t, 60.0, labels.Threshold)
	assert.Equal(t, "2006-01-02", labels.DateFormat)
	assert.Equal(t, "Parasité", labels.Diagnosis.Parasitized)

	bad := filepath.Join(t.TempDir(), "bad.yaml")
	require.NoError(t, os.WriteFile(bad, []byte("threshold: 150\n"), 0o600))
	_, err = LoadLabels(bad)
	assert.Error(t, err)

	_, err = LoadLabels(filepath.Join(t.TempDir(), "missing.yaml"))
	assert.Error(t, err)
}

func TestFormatHelpers(t *testing.T) {
	f, err := ParseFormat("XLSX")
	require.NoError(t, err)
	assert.Equal(t, FormatXLSX, f)
	f, err = ParseFormat("")
	require.NoError(t, err)
	assert.Equal(t, FormatCSV, f)
	_, err = ParseFormat("pdf")
	assert.Error(t, err)

	assert.Equal(t, "patient_12_analyses.csv", FileName("12", FormatCSV))
	assert.Equal(t, "patient_12_analyses.xlsx", FileName("12", FormatXLSX))
}
