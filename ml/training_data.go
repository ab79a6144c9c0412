package ml

// QualityThreshold is the lowest quality score labelled good.
const QualityThreshold = 6.0

const (
	LabelBad  = 0
	LabelGood = 1
)

// DeriveLabel maps a raw quality score to the binary target.
func DeriveLabel(quality float64) int {
	if quality >= QualityThreshold {
		return LabelGood
	}
	return LabelBad
}

func LabelName(label int) string {
	if label == LabelGood {
		return "good"
	}
	return "bad"
}
