package domain

import (
	"math"
	"sort"
)

// Rank is the letter grade derived from an athlete's criterion averages.
type Rank string

const (
	RankNone Rank = ""
	RankS    Rank = "S"
	RankA    Rank = "A"
	RankB    Rank = "B"
	RankC    Rank = "C"
	RankD    Rank = "D"
	RankE    Rank = "E"
	RankF    Rank = "F"
)

// RankOf rounds average half up to the nearest integer and maps it to a
// grade: 6→S, 5→A, 4→B, 3→C, 2→D, 1→E. Anything else, including NaN and
// infinities, is F.
func RankOf(average float64) Rank {
	if math.IsNaN(average) || math.IsInf(average, 0) {
		return RankF
	}
	switch math.Floor(average + 0.5) {
	case 6:
		return RankS
	case 5:
		return RankA
	case 4:
		return RankB
	case 3:
		return RankC
	case 2:
		return RankD
	case 1:
		return RankE
	}
	return RankF
}

// Round2 rounds x half up to two decimal places.
func Round2(x float64) float64 {
	return math.Floor(x*100+0.5) / 100
}

// MeanOf returns the arithmetic mean of the values in summary, or 0 when it
// is empty. Keys are summed in sorted order so the result does not depend on
// map iteration.
func MeanOf(summary map[string]float64) float64 {
	if len(summary) == 0 {
		return 0
	}
	sum := 0.0
	for _, k := range sortedKeys(summary) {
		sum += summary[k]
	}
	return sum / float64(len(summary))
}

func sortedKeys[V any](m map[string]V) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
