// Package export renders a patient's decoded analyses as CSV or XLSX.
package export

import (
	"encoding/csv"
	"errors"
	"fmt"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/frottis-lab/dashboard/pkg/common/models"
	"github.com/frottis-lab/dashboard/pkg/observability/metrics"
	"github.com/frottis-lab/dashboard/pkg/status"
)

// ErrNoRows is returned when there is nothing to export; no file is produced.
var ErrNoRows = errors.New("no analyses to export")

type Format string

const (
	FormatCSV  Format = "csv"
	FormatXLSX Format = "xlsx"
)

func ParseFormat(s string) (Format, error) {
	switch Format(strings.ToLower(strings.TrimSpace(s))) {
	case "", FormatCSV:
		return FormatCSV, nil
	case FormatXLSX:
		return FormatXLSX, nil
	default:
		return "", fmt.Errorf("unsupported export format %q", s)
	}
}

func (f Format) ContentType() string {
	if f == FormatXLSX {
		return "application/vnd.openxmlformats-officedocument.spreadsheetml.sheet"
	}
	return "text/csv; charset=utf-8"
}

// FileName is the download name of a patient's export.
func FileName(patientID models.ID, f Format) string {
	return fmt.Sprintf("patient_%s_analyses.%s", patientID, f)
}

// Row is one exported analysis.
type Row struct {
	Code        string
	Name        string
	Diagnosis   string
	Parasitized float64
	Uninfected  float64
	Date        time.Time
}

type Exporter struct {
	labels     Labels
	classifier status.Classifier
	now        func() time.Time
}

func NewExporter(labels Labels) *Exporter {
	return &Exporter{labels: labels, classifier: labels.Classifier(), now: time.Now}
}

// Rows decodes every analysis; undecodable statuses export as 0.00 / 0.00.
// fallbackName fills rows whose result carries no patient name.
func (e *Exporter) Rows(analyses []models.AnalysisResult, fallbackName string) []Row {
	exportedAt := e.now()
	rows := make([]Row, 0, len(analyses))
	for _, a := range analyses {
		decoded := status.Decode(string(a.Status))
		name := a.PatientName
		if name == "" {
			name = fallbackName
		}
		rows = append(rows, Row{
			Code:        a.Code,
			Name:        name,
			Diagnosis:   e.labels.DiagnosisLabel(e.classifier.Classify(decoded)),
			Parasitized: decoded.Parasitized.Value,
			Uninfected:  decoded.Uninfected.Value,
			Date:        exportedAt,
		})
	}
	return rows
}

// Write renders rows in the requested format.
func (e *Exporter) Write(w io.Writer, f Format, rows []Row) error {
	if len(rows) == 0 {
		return ErrNoRows
	}
	var err error
	switch f {
	case FormatXLSX:
		err = e.writeXLSX(w, rows)
	default:
		err = e.writeCSV(w, rows)
	}
	if err == nil {
		metrics.IncExports()
	}
	return err
}

func (e *Exporter) record(r Row) []string {
	return []string{
		r.Code,
		r.Name,
		r.Diagnosis,
		formatPercent(r.Parasitized),
		formatPercent(r.Uninfected),
		r.Date.Format(e.labels.DateFormat),
	}
}

// encoding/csv quotes fields holding commas, quotes or newlines.
func (e *Exporter) writeCSV(w io.Writer, rows []Row) error {
	cw := csv.NewWriter(w)
	if err := cw.Write(e.labels.Headers.row()); err != nil {
		return err
	}
	for _, r := range rows {
		rec := e.record(r)
		for i := range rec {
			rec[i] = neutralizeFormula(rec[i])
		}
		if err := cw.Write(rec); err != nil {
			return err
		}
	}
	cw.Flush()
	return cw.Error()
}

func formatPercent(v float64) string {
	return strconv.FormatFloat(v, 'f', 2, 64)
}

// neutralizeFormula prefixes cells that a spreadsheet would evaluate.
func neutralizeFormula(s string) string {
	if s == "" {
		return s
	}
	switch s[0] {
	case '=', '+', '-', '@', '\t', '\r':
		if _, err := strconv.ParseFloat(s, 64); err == nil {
			return s
		}
		return "'" + s
	}
	return s
}
