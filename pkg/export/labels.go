package export

import (
	"errors"
	"os"
	"path/filepath"

	"github.com/frottis-lab/dashboard/pkg/status"
	"gopkg.in/yaml.v3"
)

type Headers struct {
	Code        string `yaml:"code" json:"code"`
	Name        string `yaml:"name" json:"name"`
	Status      string `yaml:"status" json:"status"`
	Parasitized string `yaml:"parasitized" json:"parasitized"`
	Uninfected  string `yaml:"uninfected" json:"uninfected"`
	Date        string `yaml:"date" json:"date"`
}

type DiagnosisLabels struct {
	Parasitized string `yaml:"parasitized" json:"parasitized"`
	Uninfected  string `yaml:"uninfected" json:"uninfected"`
}

// Labels holds the user-facing wording of views and exports together with
// the classification threshold, in percent.
type Labels struct {
	Threshold  float64         `yaml:"threshold" json:"threshold"`
	DateFormat string          `yaml:"date_format" json:"date_format"`
	SheetName  string          `yaml:"sheet_name" json:"sheet_name"`
	Headers    Headers         `yaml:"headers" json:"headers"`
	Diagnosis  DiagnosisLabels `yaml:"diagnosis" json:"diagnosis"`
	Verdict    DiagnosisLabels `yaml:"verdict" json:"verdict"`
}

func DefaultLabels() Labels {
	return Labels{
		Threshold:  status.DefaultThreshold,
		DateFormat: "02/01/2006",
		SheetName:  "Analyses",
		Headers: Headers{
			Code:        "Code Patient",
			Name:        "Nom Patient",
			Status:      "Status",
			Parasitized: "Parasité (%)",
			Uninfected:  "Non infecté (%)",
			Date:        "Date",
		},
		Diagnosis: DiagnosisLabels{Parasitized: "Parasité", Uninfected: "Non infecté"},
		Verdict:   DiagnosisLabels{Parasitized: "Présence de parasites", Uninfected: "Échantillon sain"},
	}
}

// LoadLabels reads a yaml labels file. Keys missing from the file keep their
// default value. An empty path returns the defaults.
func LoadLabels(path string) (Labels, error) {
	labels := DefaultLabels()
	if path == "" {
		return labels, nil
	}
	content, err := os.ReadFile(filepath.Clean(path))
	if err != nil {
		return labels, err
	}
	if err := yaml.Unmarshal(content, &labels); err != nil {
		return DefaultLabels(), err
	}
	if labels.Threshold <= 0 || labels.Threshold >= 100 {
		return DefaultLabels(), errors.New("labels threshold must be between 0 and 100")
	}
	return labels, nil
}

func (l Labels) Classifier() status.Classifier {
	return status.NewClassifier(l.Threshold)
}

// DiagnosisLabel is the short wording used in lists and exports.
func (l Labels) DiagnosisLabel(d status.Diagnosis) string {
	if d.Infected() {
		return l.Diagnosis.Parasitized
	}
	return l.Diagnosis.Uninfected
}

// VerdictLabel is the wording shown right after an image submission.
func (l Labels) VerdictLabel(d status.Diagnosis) string {
	if d.Infected() {
		return l.Verdict.Parasitized
	}
	return l.Verdict.Uninfected
}

func (h Headers) row() []string {
	return []string{h.Code, h.Name, h.Status, h.Parasitized, h.Uninfected, h.Date}
}
