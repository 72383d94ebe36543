// Package status decodes the two-class classification status attached to an
// analysis result and derives the diagnosis from it.
package status

import (
	"errors"
	"fmt"
	"strconv"
	"strings"

	"github.com/frottis-lab/dashboard/pkg/common/logger"
	"github.com/frottis-lab/dashboard/pkg/common/models"
	"github.com/frottis-lab/dashboard/pkg/observability/metrics"
	"github.com/tidwall/gjson"
)

const (
	LabelParasitized = "Parasitized"
	LabelUninfected  = "Uninfected"
)

var (
	ErrMalformed       = errors.New("status payload is not structured text")
	ErrUnexpectedShape = errors.New("status payload has an unexpected shape")
	ErrLabelOrder      = errors.New("status payload labels are not in (Parasitized, Uninfected) order")
)

var tupleReplacer = strings.NewReplacer("(", "[", ")", "]", "'", `"`)

// Normalize rewrites the backend's tuple-literal syntax into JSON: round
// brackets become square brackets and single quotes become double quotes.
func Normalize(raw string) string {
	return strings.TrimSpace(tupleReplacer.Replace(raw))
}

// Default is the zero-confidence result returned for undecodable payloads.
func Default() models.StatusResult {
	return models.StatusResult{
		Parasitized: models.Probability{Label: LabelParasitized},
		Uninfected:  models.Probability{Label: LabelUninfected},
	}
}

// DecodeStrict parses a status payload. Two shapes are accepted:
//
//	[("Parasitized", 0.87), ("Uninfected", 0.13)]
//	{"Parasitized": 0.87, "Uninfected": 0.13}
//
// Fractions are scaled to percent. Pairs must carry the labels in
// (Parasitized, Uninfected) order; keyed payloads default missing keys to 0.
func DecodeStrict(raw string) (models.StatusResult, error) {
	text := Normalize(raw)
	if text == "" || !gjson.Valid(text) {
		return Default(), ErrMalformed
	}

	parsed := gjson.Parse(text)
	switch {
	case parsed.IsArray():
		return decodePairs(parsed.Array())
	case parsed.IsObject():
		return models.StatusResult{
			Parasitized: models.Probability{Label: LabelParasitized, Value: parsed.Get(LabelParasitized).Float() * 100},
			Uninfected:  models.Probability{Label: LabelUninfected, Value: parsed.Get(LabelUninfected).Float() * 100},
		}, nil
	default:
		return Default(), ErrUnexpectedShape
	}
}

func decodePairs(items []gjson.Result) (models.StatusResult, error) {
	if len(items) < 2 {
		return Default(), ErrUnexpectedShape
	}
	first, err := decodePair(items[0])
	if err != nil {
		return Default(), err
	}
	second, err := decodePair(items[1])
	if err != nil {
		return Default(), err
	}
	if !strings.EqualFold(first.Label, LabelParasitized) || !strings.EqualFold(second.Label, LabelUninfected) {
		return Default(), fmt.Errorf("%w: got (%q, %q)", ErrLabelOrder, first.Label, second.Label)
	}
	return models.StatusResult{Parasitized: first, Uninfected: second}, nil
}

func decodePair(item gjson.Result) (models.Probability, error) {
	if !item.IsArray() {
		return models.Probability{}, ErrUnexpectedShape
	}
	pair := item.Array()
	if len(pair) < 2 || pair[0].Type != gjson.String {
		return models.Probability{}, ErrUnexpectedShape
	}
	value, ok := fraction(pair[1])
	if !ok {
		return models.Probability{}, ErrUnexpectedShape
	}
	return models.Probability{Label: pair[0].String(), Value: value * 100}, nil
}

// fraction accepts a JSON number or a string holding one, e.g. '0.8'.
func fraction(v gjson.Result) (float64, bool) {
	switch v.Type {
	case gjson.Number:
		return v.Float(), true
	case gjson.String:
		f, err := strconv.ParseFloat(strings.TrimSpace(v.String()), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

// Decode never fails: any decode error is logged and yields Default().
func Decode(raw string) models.StatusResult {
	result, err := DecodeStrict(raw)
	if err != nil {
		metrics.IncDecodeFailures()
		logger.Log.WithError(err).WithField("status", raw).Warn("Failed to decode analysis status")
		return Default()
	}
	return result
}

// FromAnalyseResponse converts the image submission answer, whose fractions
// are already keyed, into the same percent-based result.
func FromAnalyseResponse(resp models.AnalyseResponse) models.StatusResult {
	return models.StatusResult{
		Parasitized: models.Probability{Label: LabelParasitized, Value: resp.Resultats.Parasitized * 100},
		Uninfected:  models.Probability{Label: LabelUninfected, Value: resp.Resultats.Uninfected * 100},
	}
}
