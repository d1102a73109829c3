package detection

// ConfusionMatrix counts detector verdicts against ground truth.
type ConfusionMatrix struct {
	TruePositive  int `json:"truePositive"`
	FalsePositive int `json:"falsePositive"`
	TrueNegative  int `json:"trueNegative"`
	FalseNegative int `json:"falseNegative"`
}

// Add classifies one correlated pair.
func (m *ConfusionMatrix) Add(attack, positive bool) {
	switch {
	case attack && positive:
		m.TruePositive++
	case attack:
		m.FalseNegative++
	case positive:
		m.FalsePositive++
	default:
		m.TrueNegative++
	}
}

func (m ConfusionMatrix) Total() int {
	return m.TruePositive + m.FalsePositive + m.TrueNegative + m.FalseNegative
}

// Metrics are the ratios derived from a matrix. Every ratio with a zero
// denominator is 0.
type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1"`
}

func ratio(num, den float64) float64 {
	if den == 0 {
		return 0
	}
	return num / den
}

func (m ConfusionMatrix) Metrics() Metrics {
	tp, fp, tn, fn := float64(m.TruePositive), float64(m.FalsePositive), float64(m.TrueNegative), float64(m.FalseNegative)
	precision := ratio(tp, tp+fp)
	recall := ratio(tp, tp+fn)
	return Metrics{
		Accuracy:  ratio(tp+tn, tp+tn+fp+fn),
		Precision: precision,
		Recall:    recall,
		F1:        ratio(2*precision*recall, precision+recall),
	}
}
