package evaluation

import (
	"fmt"
	"strings"
	"time"

	"winequality/ml"
)

// ScoreSource selects what the ROC sweep ranks records by.
type ScoreSource string

const (
	// ScoreProbability ranks by the class-1 probability.
	ScoreProbability ScoreSource = "probability"
	// ScoreLabel ranks by the hard 0/1 prediction, giving a three-point curve.
	ScoreLabel ScoreSource = "label"
)

func (s ScoreSource) Valid() bool {
	return s == ScoreProbability || s == ScoreLabel
}

// Scorer is the part of a fitted model the evaluator needs.
type Scorer interface {
	Predict(features []float64) (int, error)
	PredictProba(features []float64) (float64, error)
}

// Report is the held-out evaluation of one model.
type Report struct {
	Confusion   ConfusionMatrix `json:"confusion_matrix"`
	Accuracy    Metric          `json:"accuracy"`
	Precision   Metric          `json:"precision"`
	Recall      Metric          `json:"recall"`
	F1          Metric          `json:"f1"`
	ROC         []ROCPoint      `json:"roc"`
	AUC         Metric          `json:"auc"`
	ScoreSource ScoreSource     `json:"score_source"`
	TestSize    int             `json:"test_size"`
	GeneratedAt time.Time       `json:"generated_at"`
}

// Evaluate predicts every test record and computes the report. Zero
// denominators yield undefined metrics, never an error.
func Evaluate(model Scorer, test *ml.Dataset, source ScoreSource) (*Report, error) {
	if !source.Valid() {
		source = ScoreProbability
	}

	yTrue := test.Labels()
	features := test.FeatureMatrix()
	yPred := make([]int, len(features))
	scores := make([]float64, len(features))
	for i, vector := range features {
		label, err := model.Predict(vector)
		if err != nil {
			return nil, fmt.Errorf("predict record %d: %w", i, err)
		}
		yPred[i] = label

		if source == ScoreLabel {
			scores[i] = float64(label)
			continue
		}
		proba, err := model.PredictProba(vector)
		if err != nil {
			return nil, fmt.Errorf("score record %d: %w", i, err)
		}
		scores[i] = proba
	}

	cm := NewConfusionMatrix(yTrue, yPred)
	roc, auc := ROCCurve(yTrue, scores)
	return &Report{
		Confusion:   cm,
		Accuracy:    cm.Accuracy(),
		Precision:   cm.Precision(),
		Recall:      cm.Recall(),
		F1:          cm.F1(),
		ROC:         roc,
		AUC:         auc,
		ScoreSource: source,
		TestSize:    len(features),
		GeneratedAt: time.Now().UTC(),
	}, nil
}

// Text renders the report the way the training tool prints it.
func (r *Report) Text() string {
	var b strings.Builder
	m := r.Confusion.Matrix()
	fmt.Fprintf(&b, "Confusion matrix (rows: actual, columns: predicted)\n")
	fmt.Fprintf(&b, "%10s %6s %6s\n", "", "bad", "good")
	fmt.Fprintf(&b, "%10s %6d %6d\n", "bad", m[0][0], m[0][1])
	fmt.Fprintf(&b, "%10s %6d %6d\n", "good", m[1][0], m[1][1])
	fmt.Fprintf(&b, "Accuracy: %s\n", percent(r.Accuracy))
	fmt.Fprintf(&b, "Precision: %s\n", percent(r.Precision))
	fmt.Fprintf(&b, "Recall: %s\n", percent(r.Recall))
	fmt.Fprintf(&b, "F1 score: %s\n", percent(r.F1))
	if r.AUC.Defined() {
		fmt.Fprintf(&b, "ROC AUC (%s scores): %.2f\n", r.ScoreSource, float64(r.AUC))
	} else {
		fmt.Fprintf(&b, "ROC AUC (%s scores): undefined\n", r.ScoreSource)
	}
	return b.String()
}

func percent(m Metric) string {
	if !m.Defined() {
		return "undefined"
	}
	return fmt.Sprintf("%.2f%%", float64(m)*100)
}
