package status

import (
	"fmt"
	"testing"

	"github.com/frottis-lab/dashboard/pkg/common/logger"
	"github.com/frottis-lab/dashboard/pkg/common/models"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	logger.Silence()
}

func encodeTuple(p, u float64) string {
	return fmt.Sprintf("[('Parasitized', %v), ('Uninfected', %v)]", p, u)
}

func TestNormalize(t *testing.T) {
	cases := map[string]string{
		"(('Parasitized', 0.8), ('Uninfected', 0.2))": `[["Parasitized", 0.8], ["Uninfected", 0.2]]`,
		"[('Parasitized', 0.8), ('Uninfected', 0.2)]": `[["Parasitized", 0.8], ["Uninfected", 0.2]]`,
		"{'Parasitized': 0.3}":                         `{"Parasitized": 0.3}`,
		"  not a status \n":                            "not a status",
	}
	for in, want := range cases {
		assert.Equal(t, want, Normalize(in), in)
	}
}

func TestDecodeTupleRoundTrip(t *testing.T) {
	res := Decode(encodeTuple(0.8, 0.2))
	assert.Equal(t, "Parasitized", res.Parasitized.Label)
	assert.Equal(t, "Uninfected", res.Uninfected.Label)
	assert.InDelta(t, 80.0, res.Parasitized.Value, 1e-9)
	assert.InDelta(t, 20.0, res.Uninfected.Value, 1e-9)
}

func TestDecodeVariants(t *testing.T) {
	cases := []struct {
		name        string
		raw         string
		parasitized float64
		uninfected  float64
	}{
		{"python tuple of tuples", "(('Parasitized', 0.87), ('Uninfected', 0.13))", 87, 13},
		{"json pairs", `[["Parasitized", 0.25], ["Uninfected", 0.75]]`, 25, 75},
		{"lowercase labels", "[('parasitized', 0.6), ('uninfected', 0.4)]", 60, 40},
		{"extra pairs ignored", "[('Parasitized', 0.6), ('Uninfected', 0.4), ('Other', 0.0)]", 60, 40},
		{"keyed", `{"Parasitized": 0.3, "Uninfected": 0.7}`, 30, 70},
		{"python dict", "{'Parasitized': 0.9, 'Uninfected': 0.1}", 90, 10},
		{"keyed missing uninfected", `{"Parasitized": 0.9}`, 90, 0},
		{"keyed wrong case", `{"parasitized": 0.9, "Uninfected": 0.1}`, 0, 10},
		{"string fractions", "[('Parasitized', '0.8'), ('Uninfected', '0.2')]", 80, 20},
		{"padded string fraction", "[('Parasitized', ' 0.6 '), ('Uninfected', 0.4)]", 60, 40},
		{"scientific notation", "[('Parasitized', 1e-3), ('Uninfected', 0.999)]", 0.1, 99.9},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			res, err := DecodeStrict(tc.raw)
			require.NoError(t, err)
			assert.InDelta(t, tc.parasitized, res.Parasitized.Value, 1e-9)
			assert.InDelta(t, tc.uninfected, res.Uninfected.Value, 1e-9)
		})
	}
}

func TestDecodeFailuresDegradeToDefault(t *testing.T) {
	cases := []struct {
		name string
		raw  string
		want error
	}{
		{"garbage", "not a status", ErrMalformed},
		{"empty", "", ErrMalformed},
		{"numpy wrapper", "[('Parasitized', np.float32(0.8)), ('Uninfected', np.float32(0.2))]", ErrMalformed},
		{"truncated", "[('Parasitized', 0.8), ('Uninfected'", ErrMalformed},
		{"bare number", "0.8", ErrUnexpectedShape},
		{"null", "null", ErrUnexpectedShape},
		{"single pair", "[('Parasitized', 0.8)]", ErrUnexpectedShape},
		{"flat list", "[0.8, 0.2]", ErrUnexpectedShape},
		{"non numeric string fraction", "[('Parasitized', 'high'), ('Uninfected', 'low')]", ErrUnexpectedShape},
		{"boolean fraction", "[('Parasitized', true), ('Uninfected', false)]", ErrUnexpectedShape},
		{"swapped labels", "[('Uninfected', 0.2), ('Parasitized', 0.8)]", ErrLabelOrder},
		{"unknown labels", "[('A', 0.2), ('B', 0.8)]", ErrLabelOrder},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			_, err := DecodeStrict(tc.raw)
			assert.ErrorIs(t, err, tc.want)

			res := Decode(tc.raw)
			assert.Equal(t, Default(), res)
		})
	}
}

func TestFromAnalyseResponse(t *testing.T) {
	var resp models.AnalyseResponse
	resp.Resultats.Parasitized = 0.92
	resp.Resultats.Uninfected = 0.08

	res := FromAnalyseResponse(resp)
	assert.InDelta(t, 92.0, res.Parasitized.Value, 1e-9)
	assert.InDelta(t, 8.0, res.Uninfected.Value, 1e-9)
}

func TestClassify(t *testing.T) {
	c := NewClassifier(0)
	assert.Equal(t, DefaultThreshold, c.Threshold)

	assert.Equal(t, Parasitized, c.Classify(Decode(encodeTuple(0.92, 0.08))))
	assert.Equal(t, Uninfected, c.Classify(Decode(encodeTuple(0.5, 0.5))), "threshold is strict")
	assert.Equal(t, Uninfected, c.Classify(Decode("not a status")))
	assert.True(t, c.Classify(Decode(encodeTuple(0.51, 0.49))).Infected())

	strict := NewClassifier(90)
	assert.Equal(t, Uninfected, strict.Classify(Decode(encodeTuple(0.85, 0.15))))
	assert.Equal(t, "uninfected", Uninfected.String())
	assert.Equal(t, "parasitized", Parasitized.String())

	var zero Classifier
	assert.Equal(t, Parasitized, zero.Classify(Decode(encodeTuple(0.6, 0.4))))
}
