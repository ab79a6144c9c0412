package ml

import (
	"fmt"
	"math"
	"math/rand"
)

const (
	DefaultTestFraction = 0.20
	DefaultSeed         = 42
)

// LabeledSplit is a disjoint train/test partition of a dataset.
type LabeledSplit struct {
	Train *Dataset
	Test  *Dataset

	// Indices into the source dataset, in subset order.
	TrainIndices []int
	TestIndices  []int
}

// TestSize returns the number of held-out records for n records: ceil(n * fraction).
func TestSize(n int, fraction float64) int {
	return int(math.Ceil(float64(n) * fraction))
}

// SplitDataset shuffles record indices with a seeded source, takes the first
// TestSize of them as the test subset and the rest as train. The same
// (dataset, fraction, seed) always yields the same partition.
func SplitDataset(ds *Dataset, fraction float64, seed int64) (LabeledSplit, error) {
	if fraction <= 0 || fraction >= 1 {
		return LabeledSplit{}, fmt.Errorf("test fraction %v must be in (0, 1)", fraction)
	}
	n := ds.Len()
	nTest := TestSize(n, fraction)
	if nTest == 0 || nTest >= n {
		return LabeledSplit{}, fmt.Errorf("cannot split %d records with test fraction %v", n, fraction)
	}

	rnd := rand.New(rand.NewSource(seed))
	indices := rnd.Perm(n)

	testIdx := append([]int(nil), indices[:nTest]...)
	trainIdx := append([]int(nil), indices[nTest:]...)

	train, err := ds.Subset(trainIdx)
	if err != nil {
		return LabeledSplit{}, err
	}
	test, err := ds.Subset(testIdx)
	if err != nil {
		return LabeledSplit{}, err
	}
	return LabeledSplit{
		Train:        train,
		Test:         test,
		TrainIndices: trainIdx,
		TestIndices:  testIdx,
	}, nil
}
