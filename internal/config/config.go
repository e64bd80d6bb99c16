// Package config holds the tunable thresholds of the engram store and loads
// them from an optional engram.yaml plus ENGRAM_* environment variables.
package config

import (
	"fmt"
	"time"

	"github.com/rcliao/engram/internal/model"
)

// Config is the complete engram configuration.
type Config struct {
	Log       Log       `mapstructure:"log"`
	Lock      Lock      `mapstructure:"lock"`
	Recall    Recall    `mapstructure:"recall"`
	Lifecycle Lifecycle `mapstructure:"lifecycle"`
	Strength  Strength  `mapstructure:"strength"`
}

// Log configures the zerolog logger.
type Log struct {
	Level  string `mapstructure:"level"`
	Pretty bool   `mapstructure:"pretty"`
}

// Lock configures the store-wide lock marker.
type Lock struct {
	File         string        `mapstructure:"file"`
	Timeout      time.Duration `mapstructure:"timeout"`
	StaleAfter   time.Duration `mapstructure:"stale_after"`
	PollInterval time.Duration `mapstructure:"poll_interval"`
}

// Recall holds the ranking constants.
type Recall struct {
	HalfLife       time.Duration `mapstructure:"half_life"`
	Limit          int           `mapstructure:"limit"`
	Latest         int           `mapstructure:"latest"`
	MinLexical     float64       `mapstructure:"min_lexical"`
	FuzzyThreshold float64       `mapstructure:"fuzzy_threshold"`
	ExactWeight    float64       `mapstructure:"exact_weight"`
	FuzzyWeight    float64       `mapstructure:"fuzzy_weight"`
	GraphFactor    float64       `mapstructure:"graph_factor"`
	GraphSeeds     int           `mapstructure:"graph_seeds"`

	LexicalWeight float64 `mapstructure:"lexical_weight"`
	GraphWeight   float64 `mapstructure:"graph_weight"`
	RecencyWeight float64 `mapstructure:"recency_weight"`

	RegionWeights     map[string]float64 `mapstructure:"region_weights"`
	ImportanceWeights map[string]float64 `mapstructure:"importance_weights"`
	RetentionWeights  map[string]float64 `mapstructure:"retention_weights"`

	// StrengthBoost is added to an entry's strength each time it is recalled.
	StrengthBoost float64 `mapstructure:"strength_boost"`

	// SuggestThreshold is the summed match weight a candidate needs to be
	// suggested as a link; one exact shared term contributes ExactWeight.
	SuggestThreshold float64 `mapstructure:"suggest_threshold"`
	SuggestLimit     int     `mapstructure:"suggest_limit"`
}

// Lifecycle holds the consolidation policy.
type Lifecycle struct {
	PromotionRecalls int     `mapstructure:"promotion_recalls"`
	PromotedStrength float64 `mapstructure:"promoted_strength"`
}

// Strength holds per-entry floor defaults.
type Strength struct {
	DefaultFloor   float64            `mapstructure:"default_floor"`
	CriticalFloor  float64            `mapstructure:"critical_floor"`
	CategoryFloors map[string]float64 `mapstructure:"category_floors"`
}

// Default returns the built-in constants.
func Default() Config {
	return Config{
		Log: Log{Level: "warn"},
		Lock: Lock{
			File:         "engram.lock",
			Timeout:      5 * time.Second,
			StaleAfter:   2 * time.Minute,
			PollInterval: 50 * time.Millisecond,
		},
		Recall: Recall{
			HalfLife:       72 * time.Hour,
			Limit:          10,
			Latest:         5,
			MinLexical:     0.15,
			FuzzyThreshold: 0.72,
			ExactWeight:    1.0,
			FuzzyWeight:    0.5,
			GraphFactor:    0.5,
			GraphSeeds:     5,
			LexicalWeight:  0.6,
			GraphWeight:    0.25,
			RecencyWeight:  0.15,
			RegionWeights: map[string]float64{
				string(model.RegionCortex):      1.0,
				string(model.RegionHippocampus): 0.55,
			},
			ImportanceWeights: map[string]float64{
				string(model.ImportanceCritical): 1.3,
				string(model.ImportanceHigh):     1.1,
				string(model.ImportanceNormal):   1.0,
				string(model.ImportanceLow):      0.9,
			},
			RetentionWeights: map[string]float64{
				string(model.RetentionReference): 1.1,
				string(model.RetentionEphemeral): 0.85,
				string(model.RetentionLog):       0.75,
			},
			StrengthBoost:    0.05,
			SuggestThreshold: 2.0,
			SuggestLimit:     3,
		},
		Lifecycle: Lifecycle{
			PromotionRecalls: 3,
			PromotedStrength: 0.9,
		},
		Strength: Strength{
			DefaultFloor:  0.2,
			CriticalFloor: 0.6,
		},
	}
}

// Validate rejects settings the engine cannot work with.
func (c Config) Validate() error {
	switch {
	case c.Lock.Timeout <= 0:
		return fmt.Errorf("lock.timeout must be positive")
	case c.Lock.StaleAfter <= 0:
		return fmt.Errorf("lock.stale_after must be positive")
	case c.Lock.PollInterval <= 0:
		return fmt.Errorf("lock.poll_interval must be positive")
	case c.Lock.File == "":
		return fmt.Errorf("lock.file must be set")
	case c.Recall.HalfLife <= 0:
		return fmt.Errorf("recall.half_life must be positive")
	case c.Lifecycle.PromotionRecalls <= 0:
		return fmt.Errorf("lifecycle.promotion_recalls must be positive")
	}
	for name, w := range map[string]float64{
		"recall.min_lexical":       c.Recall.MinLexical,
		"recall.fuzzy_threshold":   c.Recall.FuzzyThreshold,
		"recall.exact_weight":      c.Recall.ExactWeight,
		"recall.fuzzy_weight":      c.Recall.FuzzyWeight,
		"recall.graph_factor":      c.Recall.GraphFactor,
		"recall.lexical_weight":    c.Recall.LexicalWeight,
		"recall.graph_weight":      c.Recall.GraphWeight,
		"recall.recency_weight":    c.Recall.RecencyWeight,
		"recall.strength_boost":    c.Recall.StrengthBoost,
		"recall.suggest_threshold": c.Recall.SuggestThreshold,
	} {
		if w < 0 {
			return fmt.Errorf("%s must not be negative", name)
		}
	}
	for name, f := range map[string]float64{
		"strength.default_floor":      c.Strength.DefaultFloor,
		"strength.critical_floor":     c.Strength.CriticalFloor,
		"lifecycle.promoted_strength": c.Lifecycle.PromotedStrength,
	} {
		if f < 0 || f > model.MaxStrength {
			return fmt.Errorf("%s must be within [0, 1]", name)
		}
	}
	for cat, f := range c.Strength.CategoryFloors {
		if !model.ValidCategories[model.Category(cat)] {
			return fmt.Errorf("strength.category_floors: unknown category %q", cat)
		}
		if f < 0 || f > model.MaxStrength {
			return fmt.Errorf("strength.category_floors.%s must be within [0, 1]", cat)
		}
	}
	return nil
}

// RegionWeight returns the configured weight, 1 when unset.
func (r Recall) RegionWeight(region model.Region) float64 {
	return weight(r.RegionWeights, string(region))
}

// ImportanceWeight returns the configured weight, 1 when unset.
func (r Recall) ImportanceWeight(i model.Importance) float64 {
	return weight(r.ImportanceWeights, string(i))
}

// RetentionWeight returns the configured weight, 1 when unset.
func (r Recall) RetentionWeight(ret model.Retention) float64 {
	return weight(r.RetentionWeights, string(ret))
}

func weight(m map[string]float64, key string) float64 {
	if w, ok := m[key]; ok {
		return w
	}
	return 1.0
}

// Defaults converts the strength section into record defaults.
func (s Strength) Defaults() model.Defaults {
	d := model.Defaults{StrengthFloor: s.DefaultFloor}
	if len(s.CategoryFloors) > 0 {
		d.CategoryFloors = make(map[model.Category]float64, len(s.CategoryFloors))
		for k, v := range s.CategoryFloors {
			d.CategoryFloors[model.Category(k)] = v
		}
	}
	return d
}

// FloorFor returns the strength floor for a new entry.
func (s Strength) FloorFor(c model.Category, i model.Importance) float64 {
	floor := s.Defaults().FloorFor(c)
	if i == model.ImportanceCritical && s.CriticalFloor > floor {
		floor = s.CriticalFloor
	}
	return floor
}
