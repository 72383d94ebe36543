package models

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestPatientDecodesNumericAndStringIDs(t *testing.T) {
	var patients []Patient
	body := `[{"id": 12, "code_patient": "P1", "nom": "Awa", "sexe": "Feminin", "age": 31},
	          {"id": "a-7", "code_patient": "P2", "nom": "Koffi", "sexe": "Masculin", "age": 44, "email": "k@lab.ci"}]`
	require.NoError(t, json.Unmarshal([]byte(body), &patients))

	assert.Equal(t, ID("12"), patients[0].ID)
	assert.Equal(t, ID("a-7"), patients[1].ID)
	assert.Equal(t, SexMale, patients[1].Sex)

	out, err := json.Marshal(patients[0])
	require.NoError(t, err)
	assert.Contains(t, string(out), `"id":12`)
}

func TestStatusPayloadAcceptsStringAndRawJSON(t *testing.T) {
	var results []AnalysisResult
	body := `[{"code_patient": "P1", "status": "[('Parasitized', 0.8), ('Uninfected', 0.2)]"},
	          {"code_patient": "P2", "status": {"Parasitized": 0.3, "Uninfected": 0.7}},
	          {"code_patient": "P3", "status": null}]`
	require.NoError(t, json.Unmarshal([]byte(body), &results))

	assert.Equal(t, StatusPayload("[('Parasitized', 0.8), ('Uninfected', 0.2)]"), results[0].Status)
	assert.Equal(t, StatusPayload(`{"Parasitized": 0.3, "Uninfected": 0.7}`), results[1].Status)
	assert.Equal(t, StatusPayload(""), results[2].Status)
}

func TestReconciledViewFlattensPatient(t *testing.T) {
	view := ReconciledPatientView{
		Patient:  Patient{ID: "1", Code: "P1", Name: "Awa"},
		Analyses: []AnalysisResult{},
	}
	out, err := json.Marshal(view)
	require.NoError(t, err)
	assert.JSONEq(t, `{"id":1,"code_patient":"P1","nom":"Awa","sexe":"","age":0,"analyses":[]}`, string(out))
}

func TestIDMarshalsOnlyCanonicalIntegersAsNumbers(t *testing.T) {
	cases := map[ID]string{
		"42":  `{"id":42}`,
		"-3":  `{"id":-3}`,
		"007": `{"id":"007"}`,
		"+5":  `{"id":"+5"}`,
		"abc": `{"id":"abc"}`,
		"":    `{"id":""}`,
	}
	for id, want := range cases {
		out, err := json.Marshal(struct {
			ID ID `json:"id"`
		}{id})
		require.NoError(t, err, "id %q", id)
		assert.JSONEq(t, want, string(out), "id %q", id)

		var back struct {
			ID ID `json:"id"`
		}
		require.NoError(t, json.Unmarshal(out, &back))
		assert.Equal(t, id, back.ID)
	}
}
