package fairness

import (
	"math"
	"time"
)

// Rule names a fairness adjustment.
type Rule string

const (
	RuleAntiFarm Rule = "anti_farm"
	RuleWinRate  Rule = "win_rate"
	RuleRank     Rule = "rank"
	RuleUnderdog Rule = "underdog"
	RuleGainCap  Rule = "gain_cap"
)

// AntiFarmConfig throttles repeat matchups between the same pair.
type AntiFarmConfig struct {
	Enabled bool
	Window  time.Duration
	// Schedule[i] is the multiplier of the (i+1)th match in the window;
	// the last value applies to every later match.
	Schedule []float64
}

// WinRateConfig dampens dominant clans and boosts struggling ones.
type WinRateConfig struct {
	Enabled       bool
	MinMatches    int
	Lookback      int
	HighThreshold float64
	HighModifier  float64
	LowThreshold  float64
	LowModifier   float64
}

// RankConfig adjusts for the roster skill-tier gap between the two sides.
type RankConfig struct {
	Enabled        bool
	NeutralGap     float64
	MildGap        float64
	WideGap        float64
	MildModifier   float64
	WideModifier   float64
	SevereModifier float64
	// CombinedFloor bounds winRateMod*rankMod from below.
	CombinedFloor float64
}

// UnderdogConfig awards a flat bonus to a lower-rated winner.
type UnderdogConfig struct {
	Enabled     bool
	SmallGap    int
	SmallBonus  int
	MediumGap   int
	MediumBonus int
	// LargeGap is exclusive: the large bonus needs a gap above it.
	LargeGap   int
	LargeBonus int
}

// GainCapConfig bounds positive deltas.
type GainCapConfig struct {
	Enabled bool
	Max     int
}

// Config holds every rule. Each rule is evaluated only when Enabled.
type Config struct {
	AntiFarm AntiFarmConfig
	WinRate  WinRateConfig
	Rank     RankConfig
	Underdog UnderdogConfig
	GainCap  GainCapConfig
}

// Side is one competitor's view of the match going into the pipeline.
type Side struct {
	Rating    int
	BaseDelta int
	Won       bool
	Wins      int
	Matches   int
}

// Input is everything the pipeline needs to adjust a match's base deltas.
type Input struct {
	A, B Side
	// PriorPairMatches is the number of settled matches between the pair
	// inside the anti-farm window, not counting this one.
	PriorPairMatches int
	// Tiers is nil when no roster tier data is available for the match.
	Tiers *Tiers
}

// Tiers are the roster-average skill tiers of side A and side B.
type Tiers struct {
	A, B float64
}

// Breakdown explains which rules moved the deltas and by how much.
type Breakdown struct {
	PairPosition       int     `json:"pair_position"`
	AntiFarmMultiplier float64 `json:"anti_farm_multiplier"`
	AntiFarmDeltaA     int     `json:"anti_farm_delta_a"`
	AntiFarmDeltaB     int     `json:"anti_farm_delta_b"`
	WinRateModA        float64 `json:"win_rate_mod_a"`
	WinRateModB        float64 `json:"win_rate_mod_b"`
	RankGap            float64 `json:"rank_gap"`
	RankModA           float64 `json:"rank_mod_a"`
	RankModB           float64 `json:"rank_mod_b"`
	CombinedModA       float64 `json:"combined_mod_a"`
	CombinedModB       float64 `json:"combined_mod_b"`
	UnderdogGap        int     `json:"underdog_gap"`
	UnderdogBonus      int     `json:"underdog_bonus"`
	CappedA            bool    `json:"capped_a"`
	CappedB            bool    `json:"capped_b"`
	Fired              []Rule  `json:"fired"`
}

// Outcome is the pipeline result.
type Outcome struct {
	FinalA     int
	FinalB     int
	Multiplier float64
	Breakdown  Breakdown
}

// Apply runs the enabled rules in order: anti-farm, win-rate, rank, underdog, gain cap.
//
// When the rank rule runs it replaces standalone win-rate application: each
// side's anti-farm delta is scaled once by max(CombinedFloor, winRateMod*rankMod)
// instead of being scaled by the win-rate modifier and then again by rank.
func Apply(cfg Config, in Input) Outcome {
	b := Breakdown{
		PairPosition:       in.PriorPairMatches + 1,
		AntiFarmMultiplier: 1.0,
		WinRateModA:        1.0,
		WinRateModB:        1.0,
		RankModA:           1.0,
		RankModB:           1.0,
		CombinedModA:       1.0,
		CombinedModB:       1.0,
	}

	if cfg.AntiFarm.Enabled {
		b.AntiFarmMultiplier = cfg.AntiFarm.multiplier(b.PairPosition)
		if b.AntiFarmMultiplier != 1.0 {
			b.Fired = append(b.Fired, RuleAntiFarm)
		}
	}
	b.AntiFarmDeltaA = scale(in.A.BaseDelta, b.AntiFarmMultiplier)
	b.AntiFarmDeltaB = scale(in.B.BaseDelta, b.AntiFarmMultiplier)

	finalA, finalB := b.AntiFarmDeltaA, b.AntiFarmDeltaB

	if cfg.WinRate.Enabled {
		b.WinRateModA = cfg.WinRate.modifier(in.A.Wins, in.A.Matches)
		b.WinRateModB = cfg.WinRate.modifier(in.B.Wins, in.B.Matches)
		if b.WinRateModA != 1.0 || b.WinRateModB != 1.0 {
			b.Fired = append(b.Fired, RuleWinRate)
		}
		finalA = scale(b.AntiFarmDeltaA, b.WinRateModA)
		finalB = scale(b.AntiFarmDeltaB, b.WinRateModB)
	}

	if cfg.Rank.Enabled && in.Tiers != nil {
		b.RankGap = math.Abs(in.Tiers.A - in.Tiers.B)
		b.RankModA, b.RankModB = cfg.Rank.modifiers(in.Tiers.A, in.Tiers.B)
		if b.RankModA != 1.0 || b.RankModB != 1.0 {
			b.Fired = append(b.Fired, RuleRank)
		}
		b.CombinedModA = math.Max(cfg.Rank.CombinedFloor, b.WinRateModA*b.RankModA)
		b.CombinedModB = math.Max(cfg.Rank.CombinedFloor, b.WinRateModB*b.RankModB)
		finalA = scale(b.AntiFarmDeltaA, b.CombinedModA)
		finalB = scale(b.AntiFarmDeltaB, b.CombinedModB)
	} else {
		b.CombinedModA = b.WinRateModA
		b.CombinedModB = b.WinRateModB
	}

	if cfg.Underdog.Enabled {
		winner, loser := in.A, in.B
		if in.B.Won {
			winner, loser = in.B, in.A
		}
		if winner.Rating < loser.Rating {
			b.UnderdogGap = loser.Rating - winner.Rating
			b.UnderdogBonus = cfg.Underdog.bonus(b.UnderdogGap)
		}
		if b.UnderdogBonus > 0 {
			b.Fired = append(b.Fired, RuleUnderdog)
			if in.A.Won {
				finalA += b.UnderdogBonus
			} else {
				finalB += b.UnderdogBonus
			}
		}
	}

	if cfg.GainCap.Enabled {
		finalA, b.CappedA = cfg.GainCap.clamp(finalA)
		finalB, b.CappedB = cfg.GainCap.clamp(finalB)
		if b.CappedA || b.CappedB {
			b.Fired = append(b.Fired, RuleGainCap)
		}
	}

	return Outcome{
		FinalA:     finalA,
		FinalB:     finalB,
		Multiplier: b.AntiFarmMultiplier,
		Breakdown:  b,
	}
}

func scale(delta int, m float64) int {
	return int(math.Round(float64(delta) * m))
}

func (c AntiFarmConfig) multiplier(position int) float64 {
	if len(c.Schedule) == 0 || position < 1 {
		return 1.0
	}
	if position > len(c.Schedule) {
		return c.Schedule[len(c.Schedule)-1]
	}
	return c.Schedule[position-1]
}

func (c WinRateConfig) modifier(wins, matches int) float64 {
	if matches < c.MinMatches || matches == 0 {
		return 1.0
	}
	rate := float64(wins) / float64(matches)
	switch {
	case rate > c.HighThreshold:
		return c.HighModifier
	case rate < c.LowThreshold:
		return c.LowModifier
	default:
		return 1.0
	}
}

// modifiers returns (modA, modB). The higher-tier side gets the smaller
// modifier whether it won or lost.
func (c RankConfig) modifiers(tierA, tierB float64) (float64, float64) {
	gap := math.Abs(tierA - tierB)
	if gap <= c.NeutralGap {
		return 1.0, 1.0
	}
	var mod float64
	switch {
	case gap <= c.MildGap:
		mod = c.MildModifier
	case gap <= c.WideGap:
		mod = c.WideModifier
	default:
		mod = c.SevereModifier
	}
	if tierA > tierB {
		return mod, 2.0 - mod
	}
	return 2.0 - mod, mod
}

func (c UnderdogConfig) bonus(gap int) int {
	switch {
	case gap > c.LargeGap:
		return c.LargeBonus
	case gap >= c.MediumGap:
		return c.MediumBonus
	case gap >= c.SmallGap:
		return c.SmallBonus
	default:
		return 0
	}
}

func (c GainCapConfig) clamp(delta int) (int, bool) {
	if delta > c.Max {
		return c.Max, true
	}
	return delta, false
}
