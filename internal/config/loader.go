package config

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/spf13/viper"
)

const (
	// DirName is the store directory looked up from the working directory.
	DirName = ".engram"
	// FileName is the optional config file inside the store root.
	FileName = "engram.yaml"
	// EnvPrefix prefixes every environment override, e.g. ENGRAM_LOCK_TIMEOUT.
	EnvPrefix = "ENGRAM"
)

// Load builds the configuration for a store root. An explicit path must exist;
// otherwise <root>/engram.yaml is read when present. Environment variables
// override both.
func Load(root, explicitPath string) (Config, error) {
	v := viper.New()
	setDefaults(v, Default())

	v.SetEnvPrefix(EnvPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	path := explicitPath
	if path == "" && root != "" {
		candidate := filepath.Join(root, FileName)
		if _, err := os.Stat(candidate); err == nil {
			path = candidate
		}
	}
	if path != "" {
		v.SetConfigFile(path)
		v.SetConfigType("yaml")
		if err := v.ReadInConfig(); err != nil {
			return Config{}, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	cfg := Default()
	if err := v.Unmarshal(&cfg); err != nil {
		return Config{}, fmt.Errorf("unmarshal config: %w", err)
	}
	if err := cfg.Validate(); err != nil {
		return Config{}, fmt.Errorf("invalid config: %w", err)
	}
	return cfg, nil
}

func setDefaults(v *viper.Viper, d Config) {
	v.SetDefault("log.level", d.Log.Level)
	v.SetDefault("log.pretty", d.Log.Pretty)

	v.SetDefault("lock.file", d.Lock.File)
	v.SetDefault("lock.timeout", d.Lock.Timeout)
	v.SetDefault("lock.stale_after", d.Lock.StaleAfter)
	v.SetDefault("lock.poll_interval", d.Lock.PollInterval)

	v.SetDefault("recall.half_life", d.Recall.HalfLife)
	v.SetDefault("recall.limit", d.Recall.Limit)
	v.SetDefault("recall.latest", d.Recall.Latest)
	v.SetDefault("recall.min_lexical", d.Recall.MinLexical)
	v.SetDefault("recall.fuzzy_threshold", d.Recall.FuzzyThreshold)
	v.SetDefault("recall.exact_weight", d.Recall.ExactWeight)
	v.SetDefault("recall.fuzzy_weight", d.Recall.FuzzyWeight)
	v.SetDefault("recall.graph_factor", d.Recall.GraphFactor)
	v.SetDefault("recall.graph_seeds", d.Recall.GraphSeeds)
	v.SetDefault("recall.lexical_weight", d.Recall.LexicalWeight)
	v.SetDefault("recall.graph_weight", d.Recall.GraphWeight)
	v.SetDefault("recall.recency_weight", d.Recall.RecencyWeight)
	v.SetDefault("recall.region_weights", d.Recall.RegionWeights)
	v.SetDefault("recall.importance_weights", d.Recall.ImportanceWeights)
	v.SetDefault("recall.retention_weights", d.Recall.RetentionWeights)
	v.SetDefault("recall.strength_boost", d.Recall.StrengthBoost)
	v.SetDefault("recall.suggest_threshold", d.Recall.SuggestThreshold)
	v.SetDefault("recall.suggest_limit", d.Recall.SuggestLimit)

	v.SetDefault("lifecycle.promotion_recalls", d.Lifecycle.PromotionRecalls)
	v.SetDefault("lifecycle.promoted_strength", d.Lifecycle.PromotedStrength)

	v.SetDefault("strength.default_floor", d.Strength.DefaultFloor)
	v.SetDefault("strength.critical_floor", d.Strength.CriticalFloor)
}

// FindRoot resolves the store root: the explicit value, then $ENGRAM_ROOT, then
// the nearest .engram directory above the working directory, else ./.engram.
func FindRoot(explicit string) (string, error) {
	if explicit != "" {
		return filepath.Abs(explicit)
	}
	if env := os.Getenv(EnvPrefix + "_ROOT"); env != "" {
		return filepath.Abs(env)
	}
	cwd, err := os.Getwd()
	if err != nil {
		return "", fmt.Errorf("get working directory: %w", err)
	}
	for dir := cwd; ; dir = filepath.Dir(dir) {
		candidate := filepath.Join(dir, DirName)
		info, err := os.Stat(candidate)
		if err == nil && info.IsDir() {
			return candidate, nil
		}
		if err != nil && !errors.Is(err, os.ErrNotExist) {
			return "", fmt.Errorf("stat %s: %w", candidate, err)
		}
		if filepath.Dir(dir) == dir {
			break
		}
	}
	return filepath.Join(cwd, DirName), nil
}
