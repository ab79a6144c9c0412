package ml

import (
	"errors"
	"math"

	"gonum.org/v1/gonum/floats"
	"gonum.org/v1/gonum/stat"
)

// FeatureStat summarizes one column.
type FeatureStat struct {
	Min    float64 `json:"min"`
	Max    float64 `json:"max"`
	Mean   float64 `json:"mean"`
	StdDev float64 `json:"std_dev"`
}

type DataPreprocessor struct {
	featureStats map[string]FeatureStat
}

// ComputeStats records per-column statistics over every column in Columns.
func (p *DataPreprocessor) ComputeStats(ds *Dataset) error {
	if ds.Len() == 0 {
		return errors.New("dataset is empty")
	}
	stats := make(map[string]FeatureStat, FeatureCount+1)
	for _, name := range Columns() {
		values, err := ds.Column(name)
		if err != nil {
			return err
		}
		mean, std := stat.PopMeanStdDev(values, nil)
		stats[name] = FeatureStat{
			Min:    floats.Min(values),
			Max:    floats.Max(values),
			Mean:   mean,
			StdDev: std,
		}
	}
	p.featureStats = stats
	return nil
}

func (p *DataPreprocessor) FeatureStats() map[string]FeatureStat {
	if p.featureStats == nil {
		return nil
	}
	out := make(map[string]FeatureStat, len(p.featureStats))
	for key, value := range p.featureStats {
		out[key] = value
	}
	return out
}

// ZeroVarianceFeatures lists model inputs whose values never change, in canonical order.
func (p *DataPreprocessor) ZeroVarianceFeatures() []string {
	var constant []string
	for _, name := range featureNames {
		s, ok := p.featureStats[name]
		if !ok {
			continue
		}
		if s.Max == s.Min || s.StdDev == 0 || math.IsNaN(s.StdDev) {
			constant = append(constant, name)
		}
	}
	return constant
}
