package ml

import (
	"errors"
	"fmt"
	"math"
	"strings"

	"gonum.org/v1/gonum/mat"
)

const (
	DefaultRegularizationC = 1.0
	DefaultMaxIter         = 100
	DefaultTolerance       = 1e-8

	maxLineSearchHalvings = 40
)

// LogisticConfig configures LogisticRegression. C is the inverse L2 penalty
// strength on the weights; C == 0 fits the unpenalized maximum-likelihood model.
type LogisticConfig struct {
	C         float64
	MaxIter   int
	Tolerance float64
}

func DefaultLogisticConfig() LogisticConfig {
	return LogisticConfig{
		C:         DefaultRegularizationC,
		MaxIter:   DefaultMaxIter,
		Tolerance: DefaultTolerance,
	}
}

// LogisticRegression minimizes C*logloss + ||w||²/2 (bias unpenalized) with
// damped Newton steps. Iterations start from zero weights, so fitting the same
// data twice gives bit-identical models.
type LogisticRegression struct {
	config LogisticConfig
}

func NewLogisticRegression(config LogisticConfig) *LogisticRegression {
	if config.MaxIter <= 0 {
		config.MaxIter = DefaultMaxIter
	}
	if config.Tolerance <= 0 {
		config.Tolerance = DefaultTolerance
	}
	if config.C < 0 {
		config.C = DefaultRegularizationC
	}
	return &LogisticRegression{config: config}
}

func (lr *LogisticRegression) Fit(train *Dataset) (*Model, error) {
	n := train.Len()
	if n == 0 {
		return nil, &FitError{Reason: "training set is empty"}
	}
	if err := checkTrainingSet(train, lr.config.C == 0); err != nil {
		return nil, err
	}

	p := FeatureCount + 1
	x := mat.NewDense(n, p, nil)
	y := make([]float64, n)
	for i := 0; i < n; i++ {
		record := train.Record(i)
		for j, value := range record.Features {
			x.Set(i, j, value)
		}
		x.Set(i, FeatureCount, 1)
		y[i] = float64(record.Label)
	}

	lossWeight, penalty := lr.config.C, 1.0
	if lr.config.C == 0 {
		lossWeight, penalty = 1, 0
	}

	beta := mat.NewVecDense(p, nil)
	z := mat.NewVecDense(n, nil)
	objective := func(b *mat.VecDense) float64 {
		z.MulVec(x, b)
		loss := 0.0
		for i := 0; i < n; i++ {
			zi := z.AtVec(i)
			loss += log1pExp(zi) - y[i]*zi
		}
		reg := 0.0
		for j := 0; j < FeatureCount; j++ {
			reg += b.AtVec(j) * b.AtVec(j)
		}
		return lossWeight*loss + 0.5*penalty*reg
	}

	current := objective(beta)
	residual := mat.NewVecDense(n, nil)
	scaled := mat.NewDense(n, p, nil)
	grad := mat.NewVecDense(p, nil)
	step := mat.NewVecDense(p, nil)
	next := mat.NewVecDense(p, nil)
	hessian := mat.NewSymDense(p, nil)

	converged := false
	iterations := 0
	for iterations < lr.config.MaxIter {
		iterations++

		z.MulVec(x, beta)
		for i := 0; i < n; i++ {
			prob := sigmoid(z.AtVec(i))
			residual.SetVec(i, prob-y[i])
			w := math.Sqrt(prob * (1 - prob))
			for j := 0; j < p; j++ {
				scaled.Set(i, j, x.At(i, j)*w)
			}
		}

		grad.MulVec(x.T(), residual)
		grad.ScaleVec(lossWeight, grad)
		for j := 0; j < FeatureCount; j++ {
			grad.SetVec(j, grad.AtVec(j)+penalty*beta.AtVec(j))
		}

		hessian.SymOuterK(lossWeight, scaled.T())
		for j := 0; j < FeatureCount; j++ {
			hessian.SetSym(j, j, hessian.At(j, j)+penalty)
		}

		var chol mat.Cholesky
		if ok := chol.Factorize(hessian); !ok {
			return nil, &FitError{Reason: "hessian is singular; training data is degenerate or separable"}
		}
		if err := chol.SolveVecTo(step, grad); err != nil {
			var cond mat.Condition
			if !errors.As(err, &cond) {
				return nil, &FitError{Reason: fmt.Sprintf("newton step: %v", err)}
			}
		}

		t := 1.0
		improved := false
		for h := 0; h < maxLineSearchHalvings; h++ {
			next.AddScaledVec(beta, -t, step)
			candidate := objective(next)
			if candidate <= current {
				beta.CopyVec(next)
				current = candidate
				improved = true
				break
			}
			t /= 2
		}

		if !improved || t*maxAbs(step) <= lr.config.Tolerance*(1+maxAbs(beta)) {
			converged = improved || maxAbs(grad) <= math.Sqrt(lr.config.Tolerance)*float64(n)
			break
		}
	}

	model := &Model{
		bias:       beta.AtVec(FeatureCount),
		iterations: iterations,
		converged:  converged,
		trainSize:  n,
	}
	for j := 0; j < FeatureCount; j++ {
		model.weights[j] = beta.AtVec(j)
	}
	for _, w := range append(model.Coefficients(), model.bias) {
		if math.IsNaN(w) || math.IsInf(w, 0) {
			return nil, &FitError{Reason: "optimization produced non-finite weights"}
		}
	}
	return model, nil
}

func checkTrainingSet(train *Dataset, unpenalized bool) error {
	counts := [2]int{}
	for i := 0; i < train.Len(); i++ {
		record := train.Record(i)
		for j, value := range record.Features {
			if math.IsNaN(value) || math.IsInf(value, 0) {
				return &FitError{Reason: fmt.Sprintf("record %d has non-finite %s", i, featureNames[j])}
			}
		}
		counts[record.Label]++
	}
	if counts[LabelBad] == 0 || counts[LabelGood] == 0 {
		return &FitError{Reason: "training set contains a single class"}
	}
	if !unpenalized {
		return nil
	}
	pre := &DataPreprocessor{}
	if err := pre.ComputeStats(train); err != nil {
		return &FitError{Reason: err.Error()}
	}
	if constant := pre.ZeroVarianceFeatures(); len(constant) > 0 {
		return &FitError{Reason: "zero-variance features make the unpenalized problem singular: " + strings.Join(constant, ", ")}
	}
	return nil
}

func maxAbs(v *mat.VecDense) float64 {
	m := 0.0
	for i := 0; i < v.Len(); i++ {
		if a := math.Abs(v.AtVec(i)); a > m {
			m = a
		}
	}
	return m
}
