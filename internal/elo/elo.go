package elo

import "math"

// Deviation is the rating gap at which the stronger side is expected to win ten times as often.
const Deviation = 400.0

// ExpectedScore returns the probability that a side rated ratingA beats a side rated ratingB.
//
// Formula: 1 / (1 + 10^((ratingB - ratingA) / 400))
func ExpectedScore(ratingA, ratingB int) float64 {
	return 1.0 / (1.0 + math.Pow(10, float64(ratingB-ratingA)/Deviation))
}

// KPolicy maps a clan's experience to its K-factor.
type KPolicy struct {
	PlacementMatches int
	PlacementK       int
	StableK          int
}

// KFactor returns PlacementK while matchesPlayed is in [0, PlacementMatches), StableK after.
func (p KPolicy) KFactor(matchesPlayed int) int {
	if matchesPlayed < p.PlacementMatches {
		return p.PlacementK
	}
	return p.StableK
}

// ActualScore is 1 for a win and 0 for a loss. Draws are not rated.
func ActualScore(won bool) float64 {
	if won {
		return 1.0
	}
	return 0.0
}

// BaseDelta is round(k * (actual - expected)) for the side rated rating against opponent.
func BaseDelta(k, rating, opponent int, won bool) int {
	return int(math.Round(float64(k) * (ActualScore(won) - ExpectedScore(rating, opponent))))
}
