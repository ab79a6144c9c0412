package evaluation

import (
	"math"
	"sort"
)

// ROCPoint is one operating point: records scoring at or above Threshold are
// predicted positive.
type ROCPoint struct {
	Threshold Metric `json:"threshold"`
	FPR       Metric `json:"fpr"`
	TPR       Metric `json:"tpr"`
}

// ROCCurve sweeps every distinct score as a threshold and returns the points in
// ascending threshold order, ending with the +Inf threshold at (0, 0), together
// with the trapezoidal area under the curve. Rates are undefined when the
// labels lack a class, and so is the area.
func ROCCurve(yTrue []int, scores []float64) ([]ROCPoint, Metric) {
	n := len(yTrue)
	if len(scores) < n {
		n = len(scores)
	}
	if n == 0 {
		return nil, Undefined
	}

	order := make([]int, n)
	positives, negatives := 0, 0
	for i := 0; i < n; i++ {
		order[i] = i
		if yTrue[i] == 1 {
			positives++
		} else {
			negatives++
		}
	}
	sort.SliceStable(order, func(a, b int) bool {
		return scores[order[a]] > scores[order[b]]
	})

	// Descending thresholds first, reversed at the end.
	points := []ROCPoint{{
		Threshold: Metric(math.Inf(1)),
		FPR:       ratio(0, negatives),
		TPR:       ratio(0, positives),
	}}
	tp, fp := 0, 0
	for i := 0; i < n; {
		threshold := scores[order[i]]
		for i < n && scores[order[i]] == threshold {
			if yTrue[order[i]] == 1 {
				tp++
			} else {
				fp++
			}
			i++
		}
		points = append(points, ROCPoint{
			Threshold: Metric(threshold),
			FPR:       ratio(fp, negatives),
			TPR:       ratio(tp, positives),
		})
	}

	auc := Undefined
	if positives > 0 && negatives > 0 {
		area := 0.0
		for i := 1; i < len(points); i++ {
			dx := float64(points[i].FPR - points[i-1].FPR)
			area += dx * float64(points[i].TPR+points[i-1].TPR) / 2
		}
		auc = Metric(area)
	}

	for i, j := 0, len(points)-1; i < j; i, j = i+1, j-1 {
		points[i], points[j] = points[j], points[i]
	}
	return points, auc
}
