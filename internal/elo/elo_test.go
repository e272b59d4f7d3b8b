package elo

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestExpectedScore(t *testing.T) {
	tests := []struct {
		name     string
		a, b     int
		expected float64
	}{{
		"should be even",
		1000, 1000,
		0.5,
	}, {
		"should favour ten to one",
		1400, 1000,
		10.0 / 11.0,
	}, {
		"should be the underdog",
		1000, 1400,
		1.0 / 11.0,
	}}

	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.InDelta(t, test.expected, ExpectedScore(test.a, test.b), 1e-12)
		})
	}
}

func TestExpectedScore_Symmetric(t *testing.T) {
	ratings := []int{0, 100, 850, 1000, 1013, 1499, 2200, 3100}
	for _, a := range ratings {
		for _, b := range ratings {
			assert.InDelta(t, 1.0, ExpectedScore(a, b)+ExpectedScore(b, a), 1e-12, "a=%d b=%d", a, b)
		}
	}
}

func TestExpectedScore_Monotonic(t *testing.T) {
	prev := 0.0
	for gap := -1200; gap <= 1200; gap += 25 {
		got := ExpectedScore(1000+gap, 1000)
		assert.Greater(t, got, prev, "gap=%d", gap)
		assert.Greater(t, got, 0.0)
		assert.Less(t, got, 1.0)
		prev = got
	}
}

func TestKFactor(t *testing.T) {
	p := KPolicy{PlacementMatches: 10, PlacementK: 40, StableK: 32}
	tests := []struct {
		name     string
		played   int
		expected int
	}{
		{"fresh clan", 0, 40},
		{"mid placement", 3, 40},
		{"last placement match", 9, 40},
		{"threshold is stable", 10, 32},
		{"veteran", 250, 32},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, p.KFactor(test.played))
		})
	}
}

func TestBaseDelta(t *testing.T) {
	tests := []struct {
		name     string
		k        int
		rating   int
		opponent int
		won      bool
		expected int
	}{
		{"placement win at even ratings", 40, 1000, 1000, true, 20},
		{"stable loss at even ratings", 32, 1000, 1000, false, -16},
		{"favourite wins", 40, 1020, 984, true, 18},
		{"underdog loses", 32, 984, 1020, false, -14},
		{"big upset", 32, 1000, 1250, true, 26},
		{"favourite loses upset", 32, 1250, 1000, false, -26},
	}
	for _, test := range tests {
		t.Run(test.name, func(t *testing.T) {
			assert.Equal(t, test.expected, BaseDelta(test.k, test.rating, test.opponent, test.won))
		})
	}
}
