package exam

import (
	"math"

	"evalbank/internal/question"
)

// GradedItem is one attempt question as seen by the aggregator.
type GradedItem struct {
	Type        question.Type
	Points      float64
	Fraction    float64
	ManualScore *float64
}

func (g GradedItem) autoPoints() float64 {
	if g.Type == question.TypeOpen {
		return 0
	}
	return g.Fraction * g.Points
}

// AggregateAuto sums automatic points. Open questions never contribute.
func AggregateAuto(items []GradedItem) float64 {
	total := 0.0
	for _, it := range items {
		total += it.autoPoints()
	}
	return roundScore(total)
}

// AggregateFinal prefers the manual score of each item over its automatic one.
func AggregateFinal(items []GradedItem) float64 {
	total := 0.0
	for _, it := range items {
		if it.ManualScore != nil {
			total += *it.ManualScore
			continue
		}
		total += it.autoPoints()
	}
	return roundScore(total)
}

func TotalPoints(items []GradedItem) float64 {
	total := 0.0
	for _, it := range items {
		total += it.Points
	}
	return roundScore(total)
}

// roundScore rounds to two decimals, half away from zero.
func roundScore(v float64) float64 {
	return math.Round(v*100) / 100
}

type gradedAttempt struct {
	ID     int64
	Number int
	Score  float64
}

// bestGraded picks the highest graded attempt; ties go to the later attempt.
func bestGraded(attempts []gradedAttempt) (gradedAttempt, bool) {
	var best gradedAttempt
	found := false
	for _, g := range attempts {
		if !found || g.Score > best.Score || (g.Score == best.Score && g.Number > best.Number) {
			best = g
			found = true
		}
	}
	return best, found
}
