package status

import "github.com/frottis-lab/dashboard/pkg/common/models"

// DefaultThreshold is the parasitized percentage above which a smear is
// reported as infected.
const DefaultThreshold = 50.0

type Diagnosis int

const (
	Uninfected Diagnosis = iota
	Parasitized
)

func (d Diagnosis) String() string {
	switch d {
	case Parasitized:
		return "parasitized"
	default:
		return "uninfected"
	}
}

func (d Diagnosis) Infected() bool { return d == Parasitized }

// Classifier applies the single diagnosis rule used by every view and export.
type Classifier struct {
	Threshold float64
}

func NewClassifier(threshold float64) Classifier {
	if threshold <= 0 || threshold >= 100 {
		threshold = DefaultThreshold
	}
	return Classifier{Threshold: threshold}
}

// Classify reports Parasitized when the parasitized percentage is strictly
// above the threshold.
func (c Classifier) Classify(result models.StatusResult) Diagnosis {
	threshold := c.Threshold
	if threshold == 0 {
		threshold = DefaultThreshold
	}
	if result.Parasitized.Value > threshold {
		return Parasitized
	}
	return Uninfected
}
