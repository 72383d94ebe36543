// Package reconcile joins patients to their analysis results by patient code.
package reconcile

import "github.com/frottis-lab/dashboard/pkg/common/models"

// GroupByCode buckets analyses by patient code, keeping input order inside
// each bucket. Duplicates accumulate; analyses with an empty code are skipped.
func GroupByCode(analyses []models.AnalysisResult) map[string][]models.AnalysisResult {
	groups := make(map[string][]models.AnalysisResult)
	for _, a := range analyses {
		if a.Code == "" {
			continue
		}
		groups[a.Code] = append(groups[a.Code], a)
	}
	return groups
}

// Reconcile returns one view per patient, in patient order, each carrying the
// analyses whose code matches. Patients without analyses get an empty, non-nil
// list; analyses without a patient are dropped from the view. Inputs are not
// modified.
func Reconcile(patients []models.Patient, analyses []models.AnalysisResult) []models.ReconciledPatientView {
	groups := GroupByCode(analyses)

	views := make([]models.ReconciledPatientView, 0, len(patients))
	for _, p := range patients {
		matched := groups[p.Code]
		attached := make([]models.AnalysisResult, len(matched))
		copy(attached, matched)
		views = append(views, models.ReconciledPatientView{
			Patient:  p,
			Analyses: attached,
		})
	}
	return views
}

// CountFor returns how many analyses carry the given code.
func CountFor(code string, analyses []models.AnalysisResult) int {
	if code == "" {
		return 0
	}
	n := 0
	for _, a := range analyses {
		if a.Code == code {
			n++
		}
	}
	return n
}

// Orphans lists analyses whose code matches no patient, in input order.
func Orphans(patients []models.Patient, analyses []models.AnalysisResult) []models.AnalysisResult {
	known := make(map[string]struct{}, len(patients))
	for _, p := range patients {
		known[p.Code] = struct{}{}
	}
	var out []models.AnalysisResult
	for _, a := range analyses {
		if _, ok := known[a.Code]; !ok || a.Code == "" {
			out = append(out, a)
		}
	}
	return out
}
