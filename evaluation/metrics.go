// Package evaluation scores a fitted model against held-out records.
package evaluation

import (
	"encoding/json"
	"math"
	"strconv"
)

// Metric is a scalar that may be undefined. Undefined values are NaN in Go and
// null in JSON.
type Metric float64

// Undefined is the value reported for a zero denominator.
var Undefined = Metric(math.NaN())

func (m Metric) Defined() bool {
	f := float64(m)
	return !math.IsNaN(f) && !math.IsInf(f, 0)
}

func (m Metric) MarshalJSON() ([]byte, error) {
	if !m.Defined() {
		return []byte("null"), nil
	}
	return []byte(strconv.FormatFloat(float64(m), 'g', -1, 64)), nil
}

func (m *Metric) UnmarshalJSON(data []byte) error {
	if string(data) == "null" {
		*m = Undefined
		return nil
	}
	var f float64
	if err := json.Unmarshal(data, &f); err != nil {
		return err
	}
	*m = Metric(f)
	return nil
}

func ratio(num, den int) Metric {
	if den == 0 {
		return Undefined
	}
	return Metric(float64(num) / float64(den))
}

// ConfusionMatrix counts (true label, predicted label) pairs. Label 1 is positive.
type ConfusionMatrix struct {
	TrueNegative  int `json:"true_negative"`
	FalsePositive int `json:"false_positive"`
	FalseNegative int `json:"false_negative"`
	TruePositive  int `json:"true_positive"`
}

// NewConfusionMatrix tallies paired labels. Extra entries in the longer slice are ignored.
func NewConfusionMatrix(yTrue, yPred []int) ConfusionMatrix {
	var cm ConfusionMatrix
	n := len(yTrue)
	if len(yPred) < n {
		n = len(yPred)
	}
	for i := 0; i < n; i++ {
		switch {
		case yTrue[i] == 1 && yPred[i] == 1:
			cm.TruePositive++
		case yTrue[i] == 1:
			cm.FalseNegative++
		case yPred[i] == 1:
			cm.FalsePositive++
		default:
			cm.TrueNegative++
		}
	}
	return cm
}

func (cm ConfusionMatrix) Total() int {
	return cm.TrueNegative + cm.FalsePositive + cm.FalseNegative + cm.TruePositive
}

// Matrix returns counts indexed [actual][predicted].
func (cm ConfusionMatrix) Matrix() [2][2]int {
	return [2][2]int{
		{cm.TrueNegative, cm.FalsePositive},
		{cm.FalseNegative, cm.TruePositive},
	}
}

func (cm ConfusionMatrix) Accuracy() Metric {
	return ratio(cm.TruePositive+cm.TrueNegative, cm.Total())
}

func (cm ConfusionMatrix) Precision() Metric {
	return ratio(cm.TruePositive, cm.TruePositive+cm.FalsePositive)
}

func (cm ConfusionMatrix) Recall() Metric {
	return ratio(cm.TruePositive, cm.TruePositive+cm.FalseNegative)
}

// F1 is the harmonic mean of precision and recall, undefined when either is
// undefined or both are zero.
func (cm ConfusionMatrix) F1() Metric {
	p, r := cm.Precision(), cm.Recall()
	if !p.Defined() || !r.Defined() || p+r == 0 {
		return Undefined
	}
	return 2 * p * r / (p + r)
}
