package config

import (
	"fmt"
	"time"

	"github.com/joho/godotenv"
	"github.com/kelseyhightower/envconfig"
	"go.uber.org/multierr"

	"github.com/MikeSquared-Agency/arbiter/internal/elo"
	"github.com/MikeSquared-Agency/arbiter/internal/fairness"
)

const (
	StorePostgres = "postgres"
	StoreMemory   = "memory"
)

type Config struct {
	Port        int    `envconfig:"ARBITER_PORT" default:"8760"`
	NatsURL     string `envconfig:"NATS_URL" default:"nats://hermes:4222"`
	NatsToken   string `envconfig:"NATS_TOKEN"`
	DatabaseURL string `envconfig:"DATABASE_URL"`
	LogLevel    string `envconfig:"LOG_LEVEL" default:"info"`
	APIToken    string `envconfig:"ARBITER_API_TOKEN"`
	Store       string `envconfig:"ARBITER_STORE" default:"postgres"`
	AutoMigrate bool   `envconfig:"ARBITER_AUTO_MIGRATE" default:"false"`
	TxRetries   int    `envconfig:"ARBITER_TX_RETRIES" default:"5"`

	Policy Policy
}

// Policy is the rating policy: K-factors, floor and every fairness rule.
type Policy struct {
	DefaultRating    int `envconfig:"RATING_DEFAULT" default:"1000"`
	Floor            int `envconfig:"RATING_FLOOR" default:"100"`
	PlacementMatches int `envconfig:"RATING_PLACEMENT_MATCHES" default:"10"`
	PlacementK       int `envconfig:"RATING_PLACEMENT_K" default:"40"`
	StableK          int `envconfig:"RATING_STABLE_K" default:"32"`

	AntiFarmEnabled  bool          `envconfig:"ANTIFARM_ENABLED" default:"true"`
	AntiFarmWindow   time.Duration `envconfig:"ANTIFARM_WINDOW" default:"24h"`
	AntiFarmSchedule []float64     `envconfig:"ANTIFARM_SCHEDULE" default:"1.0,0.7,0.4,0.2"`

	WinRateEnabled       bool    `envconfig:"WINRATE_ENABLED" default:"true"`
	WinRateMinMatches    int     `envconfig:"WINRATE_MIN_MATCHES" default:"10"`
	WinRateLookback      int     `envconfig:"WINRATE_LOOKBACK" default:"20"`
	WinRateHighThreshold float64 `envconfig:"WINRATE_HIGH_THRESHOLD" default:"0.70"`
	WinRateHighModifier  float64 `envconfig:"WINRATE_HIGH_MODIFIER" default:"0.85"`
	WinRateLowThreshold  float64 `envconfig:"WINRATE_LOW_THRESHOLD" default:"0.30"`
	WinRateLowModifier   float64 `envconfig:"WINRATE_LOW_MODIFIER" default:"1.15"`

	RankEnabled        bool    `envconfig:"RANK_ENABLED" default:"false"`
	RankNeutralGap     float64 `envconfig:"RANK_NEUTRAL_GAP" default:"2"`
	RankMildGap        float64 `envconfig:"RANK_MILD_GAP" default:"5"`
	RankWideGap        float64 `envconfig:"RANK_WIDE_GAP" default:"8"`
	RankMildModifier   float64 `envconfig:"RANK_MILD_MODIFIER" default:"0.9"`
	RankWideModifier   float64 `envconfig:"RANK_WIDE_MODIFIER" default:"0.8"`
	RankSevereModifier float64 `envconfig:"RANK_SEVERE_MODIFIER" default:"0.7"`
	RankCombinedFloor  float64 `envconfig:"RANK_COMBINED_FLOOR" default:"0.3"`

	UnderdogEnabled     bool `envconfig:"UNDERDOG_ENABLED" default:"true"`
	UnderdogSmallGap    int  `envconfig:"UNDERDOG_SMALL_GAP" default:"100"`
	UnderdogSmallBonus  int  `envconfig:"UNDERDOG_SMALL_BONUS" default:"5"`
	UnderdogMediumGap   int  `envconfig:"UNDERDOG_MEDIUM_GAP" default:"150"`
	UnderdogMediumBonus int  `envconfig:"UNDERDOG_MEDIUM_BONUS" default:"8"`
	UnderdogLargeGap    int  `envconfig:"UNDERDOG_LARGE_GAP" default:"200"`
	UnderdogLargeBonus  int  `envconfig:"UNDERDOG_LARGE_BONUS" default:"10"`

	GainCapEnabled bool `envconfig:"GAINCAP_ENABLED" default:"true"`
	MaxGain        int  `envconfig:"GAINCAP_MAX" default:"50"`
}

// Load reads the environment, seeded from a .env file when one exists.
func Load() (Config, error) {
	_ = godotenv.Load()

	var cfg Config
	if err := envconfig.Process("", &cfg); err != nil {
		return Config{}, fmt.Errorf("parsing config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, err
	}
	return cfg, nil
}

// DefaultPolicy returns the policy Load produces with no overrides.
func DefaultPolicy() Policy {
	return Policy{
		DefaultRating:    1000,
		Floor:            100,
		PlacementMatches: 10,
		PlacementK:       40,
		StableK:          32,

		AntiFarmEnabled:  true,
		AntiFarmWindow:   24 * time.Hour,
		AntiFarmSchedule: []float64{1.0, 0.7, 0.4, 0.2},

		WinRateEnabled:       true,
		WinRateMinMatches:    10,
		WinRateLookback:      20,
		WinRateHighThreshold: 0.70,
		WinRateHighModifier:  0.85,
		WinRateLowThreshold:  0.30,
		WinRateLowModifier:   1.15,

		RankEnabled:        false,
		RankNeutralGap:     2,
		RankMildGap:        5,
		RankWideGap:        8,
		RankMildModifier:   0.9,
		RankWideModifier:   0.8,
		RankSevereModifier: 0.7,
		RankCombinedFloor:  0.3,

		UnderdogEnabled:     true,
		UnderdogSmallGap:    100,
		UnderdogSmallBonus:  5,
		UnderdogMediumGap:   150,
		UnderdogMediumBonus: 8,
		UnderdogLargeGap:    200,
		UnderdogLargeBonus:  10,

		GainCapEnabled: true,
		MaxGain:        50,
	}
}

func (c Config) Validate() error {
	var err error
	switch c.Store {
	case StorePostgres:
		if c.DatabaseURL == "" {
			err = multierr.Append(err, fmt.Errorf("DATABASE_URL is required for the postgres store"))
		}
	case StoreMemory:
	default:
		err = multierr.Append(err, fmt.Errorf("unknown store %q", c.Store))
	}
	if c.TxRetries < 1 {
		err = multierr.Append(err, fmt.Errorf("ARBITER_TX_RETRIES must be at least 1"))
	}
	return multierr.Append(err, c.Policy.Validate())
}

// Validate reports every inconsistent policy knob at once.
func (p Policy) Validate() error {
	var err error
	if p.PlacementK <= 0 || p.StableK <= 0 {
		err = multierr.Append(err, fmt.Errorf("K-factors must be positive"))
	}
	if p.PlacementMatches < 0 {
		err = multierr.Append(err, fmt.Errorf("placement matches must not be negative"))
	}
	if p.DefaultRating < p.Floor {
		err = multierr.Append(err, fmt.Errorf("default rating %d is below the floor %d", p.DefaultRating, p.Floor))
	}
	if p.AntiFarmEnabled {
		if len(p.AntiFarmSchedule) == 0 {
			err = multierr.Append(err, fmt.Errorf("anti-farm schedule must not be empty"))
		}
		for i, m := range p.AntiFarmSchedule {
			if m < 0 {
				err = multierr.Append(err, fmt.Errorf("anti-farm schedule[%d] is negative", i))
			}
		}
		if p.AntiFarmWindow <= 0 {
			err = multierr.Append(err, fmt.Errorf("anti-farm window must be positive"))
		}
	}
	if p.WinRateEnabled && p.WinRateLowThreshold > p.WinRateHighThreshold {
		err = multierr.Append(err, fmt.Errorf("win-rate low threshold is above the high threshold"))
	}
	if p.RankEnabled && !(p.RankNeutralGap <= p.RankMildGap && p.RankMildGap <= p.RankWideGap) {
		err = multierr.Append(err, fmt.Errorf("rank gap bands must be ascending"))
	}
	if p.UnderdogEnabled && !(p.UnderdogSmallGap <= p.UnderdogMediumGap && p.UnderdogMediumGap <= p.UnderdogLargeGap) {
		err = multierr.Append(err, fmt.Errorf("underdog gap bands must be ascending"))
	}
	if p.GainCapEnabled && p.MaxGain < 0 {
		err = multierr.Append(err, fmt.Errorf("max gain must not be negative"))
	}
	return err
}

// KPolicy returns the K-factor policy.
func (p Policy) KPolicy() elo.KPolicy {
	return elo.KPolicy{
		PlacementMatches: p.PlacementMatches,
		PlacementK:       p.PlacementK,
		StableK:          p.StableK,
	}
}

// Fairness returns the fairness pipeline configuration.
func (p Policy) Fairness() fairness.Config {
	return fairness.Config{
		AntiFarm: fairness.AntiFarmConfig{
			Enabled:  p.AntiFarmEnabled,
			Window:   p.AntiFarmWindow,
			Schedule: append([]float64(nil), p.AntiFarmSchedule...),
		},
		WinRate: fairness.WinRateConfig{
			Enabled:       p.WinRateEnabled,
			MinMatches:    p.WinRateMinMatches,
			Lookback:      p.WinRateLookback,
			HighThreshold: p.WinRateHighThreshold,
			HighModifier:  p.WinRateHighModifier,
			LowThreshold:  p.WinRateLowThreshold,
			LowModifier:   p.WinRateLowModifier,
		},
		Rank: fairness.RankConfig{
			Enabled:        p.RankEnabled,
			NeutralGap:     p.RankNeutralGap,
			MildGap:        p.RankMildGap,
			WideGap:        p.RankWideGap,
			MildModifier:   p.RankMildModifier,
			WideModifier:   p.RankWideModifier,
			SevereModifier: p.RankSevereModifier,
			CombinedFloor:  p.RankCombinedFloor,
		},
		Underdog: fairness.UnderdogConfig{
			Enabled:     p.UnderdogEnabled,
			SmallGap:    p.UnderdogSmallGap,
			SmallBonus:  p.UnderdogSmallBonus,
			MediumGap:   p.UnderdogMediumGap,
			MediumBonus: p.UnderdogMediumBonus,
			LargeGap:    p.UnderdogLargeGap,
			LargeBonus:  p.UnderdogLargeBonus,
		},
		GainCap: fairness.GainCapConfig{
			Enabled: p.GainCapEnabled,
			Max:     p.MaxGain,
		},
	}
}
