package ml

import (
	"errors"
	"fmt"
)

// QualityColumn is the raw quality score column. It is explorable but never a model input.
const QualityColumn = "quality"

// featureNames is the canonical feature order. Every fit and predict call
// consumes vectors in exactly this order.
var featureNames = [...]string{
	"fixed acidity",
	"volatile acidity",
	"citric acid",
	"residual sugar",
	"chlorides",
	"free sulfur dioxide",
	"total sulfur dioxide",
	"density",
	"pH",
	"sulphates",
	"alcohol",
}

// FeatureCount is the length of a feature vector.
const FeatureCount = len(featureNames)

// Record is one cleaned observation.
type Record struct {
	Features [FeatureCount]float64 `json:"features"`
	Quality  float64               `json:"quality"`
	Label    int                   `json:"label"`
	Line     int                   `json:"line,omitempty"`
}

// FeatureVector returns the record's features in canonical order.
func (r Record) FeatureVector() []float64 {
	vector := make([]float64, FeatureCount)
	copy(vector, r.Features[:])
	return vector
}

// Column returns the value at a column index as laid out by Columns.
func (r Record) Column(idx int) float64 {
	if idx == FeatureCount {
		return r.Quality
	}
	return r.Features[idx]
}

// FeatureNames returns the canonical feature order.
func FeatureNames() []string {
	return append([]string(nil), featureNames[:]...)
}

// Columns returns the features followed by the quality column.
func Columns() []string {
	return append(FeatureNames(), QualityColumn)
}

// ColumnIndex resolves an exact column name to its index in Columns.
func ColumnIndex(name string) (int, bool) {
	if name == QualityColumn {
		return FeatureCount, true
	}
	return FeatureIndex(name)
}

// FeatureIndex resolves an exact feature name to its index in the feature vector.
func FeatureIndex(name string) (int, bool) {
	for i, feature := range featureNames {
		if feature == name {
			return i, true
		}
	}
	return -1, false
}

// Dataset is an ordered, read-only sequence of records.
type Dataset struct {
	records []Record
}

// NewDataset copies records and derives each label from its quality score.
func NewDataset(records []Record) *Dataset {
	owned := make([]Record, len(records))
	for i, record := range records {
		record.Label = DeriveLabel(record.Quality)
		owned[i] = record
	}
	return &Dataset{records: owned}
}

func (d *Dataset) Len() int {
	if d == nil {
		return 0
	}
	return len(d.records)
}

// Record returns the i-th record by value.
func (d *Dataset) Record(i int) Record {
	return d.records[i]
}

// Records returns a copy of all records.
func (d *Dataset) Records() []Record {
	return append([]Record(nil), d.records...)
}

// FeatureNames returns the positional feature order used by this dataset.
func (d *Dataset) FeatureNames() []string {
	return FeatureNames()
}

// FeatureMatrix returns one canonical feature vector per record.
func (d *Dataset) FeatureMatrix() [][]float64 {
	matrix := make([][]float64, len(d.records))
	for i, record := range d.records {
		matrix[i] = record.FeatureVector()
	}
	return matrix
}

func (d *Dataset) Labels() []int {
	labels := make([]int, len(d.records))
	for i, record := range d.records {
		labels[i] = record.Label
	}
	return labels
}

// Column returns every record's value for the named column.
func (d *Dataset) Column(name string) ([]float64, error) {
	idx, ok := ColumnIndex(name)
	if !ok {
		return nil, fmt.Errorf("unknown column %q", name)
	}
	values := make([]float64, len(d.records))
	for i, record := range d.records {
		values[i] = record.Column(idx)
	}
	return values, nil
}

// Subset returns the records at the given indices, in that order.
func (d *Dataset) Subset(indices []int) (*Dataset, error) {
	records := make([]Record, len(indices))
	for i, idx := range indices {
		if idx < 0 || idx >= len(d.records) {
			return nil, errors.New("subset index out of range")
		}
		records[i] = d.records[idx]
	}
	return &Dataset{records: records}, nil
}
