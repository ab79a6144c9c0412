package ml

import "math/rand"

// syntheticDataset builds records whose label mostly follows alcohol content.
func syntheticDataset(n int, seed int64) *Dataset {
	rnd := rand.New(rand.NewSource(seed))
	records := make([]Record, n)
	for i := range records {
		var r Record
		for j := range r.Features {
			r.Features[j] = rnd.Float64()
		}
		r.Features[10] = 8 + rnd.Float64()*6
		r.Quality = 5
		if r.Features[10]+rnd.NormFloat64()*0.5 > 11 {
			r.Quality = 6
		}
		r.Line = i + 2
		records[i] = r
	}
	return NewDataset(records)
}
