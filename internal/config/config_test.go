package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/rcliao/engram/internal/model"
)

func TestDefaultIsValid(t *testing.T) {
	cfg := Default()
	require.NoError(t, cfg.Validate())
	assert.Equal(t, 3, cfg.Lifecycle.PromotionRecalls)
	assert.Greater(t, cfg.Recall.RegionWeight(model.RegionCortex), cfg.Recall.RegionWeight(model.RegionHippocampus))
	assert.GreaterOrEqual(t, cfg.Recall.RetentionWeight(model.RetentionEphemeral), cfg.Recall.RetentionWeight(model.RetentionLog))
	assert.Greater(t, cfg.Recall.RetentionWeight(model.RetentionReference), cfg.Recall.RetentionWeight(model.RetentionEphemeral))
}

func TestImportanceWeightsMonotonic(t *testing.T) {
	r := Default().Recall
	levels := []model.Importance{model.ImportanceLow, model.ImportanceNormal, model.ImportanceHigh, model.ImportanceCritical}
	for i := 1; i < len(levels); i++ {
		assert.Greater(t, r.ImportanceWeight(levels[i]), r.ImportanceWeight(levels[i-1]), "%s vs %s", levels[i], levels[i-1])
	}
}

func TestLoad(t *testing.T) {
	t.Run("defaults when no file", func(t *testing.T) {
		cfg, err := Load(t.TempDir(), "")
		require.NoError(t, err)
		assert.Equal(t, Default().Lock.Timeout, cfg.Lock.Timeout)
		assert.Equal(t, 0.55, cfg.Recall.RegionWeight(model.RegionHippocampus))
	})

	t.Run("file in root overrides defaults", func(t *testing.T) {
		root := t.TempDir()
		yaml := "lock:\n  timeout: 250ms\nlifecycle:\n  promotion_recalls: 5\nstrength:\n  category_floors:\n    journal: 0.1\n"
		require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte(yaml), 0o644))

		cfg, err := Load(root, "")
		require.NoError(t, err)
		assert.Equal(t, 250*time.Millisecond, cfg.Lock.Timeout)
		assert.Equal(t, 5, cfg.Lifecycle.PromotionRecalls)
		assert.Equal(t, 0.1, cfg.Strength.FloorFor(model.CategoryJournal, model.ImportanceNormal))
		assert.Equal(t, 0.6, cfg.Strength.FloorFor(model.CategoryJournal, model.ImportanceCritical))
		assert.Equal(t, Default().Recall.Limit, cfg.Recall.Limit)
	})

	t.Run("environment overrides file", func(t *testing.T) {
		t.Setenv("ENGRAM_LIFECYCLE_PROMOTION_RECALLS", "7")
		cfg, err := Load(t.TempDir(), "")
		require.NoError(t, err)
		assert.Equal(t, 7, cfg.Lifecycle.PromotionRecalls)
	})

	t.Run("explicit missing file fails", func(t *testing.T) {
		_, err := Load(t.TempDir(), filepath.Join(t.TempDir(), "nope.yaml"))
		assert.Error(t, err)
	})

	t.Run("invalid values rejected", func(t *testing.T) {
		root := t.TempDir()
		require.NoError(t, os.WriteFile(filepath.Join(root, FileName), []byte("strength:\n  default_floor: 1.5\n"), 0o644))
		_, err := Load(root, "")
		assert.Error(t, err)
	})
}

func TestFindRoot(t *testing.T) {
	t.Run("explicit wins", func(t *testing.T) {
		dir := t.TempDir()
		got, err := FindRoot(dir)
		require.NoError(t, err)
		assert.Equal(t, dir, got)
	})

	t.Run("walks up to nearest store", func(t *testing.T) {
		base := t.TempDir()
		store := filepath.Join(base, DirName)
		nested := filepath.Join(base, "a", "b")
		require.NoError(t, os.MkdirAll(store, 0o755))
		require.NoError(t, os.MkdirAll(nested, 0o755))
		t.Setenv("ENGRAM_ROOT", "")
		t.Chdir(nested)

		got, err := FindRoot("")
		require.NoError(t, err)
		want, _ := filepath.EvalSymlinks(store)
		gotResolved, _ := filepath.EvalSymlinks(got)
		assert.Equal(t, want, gotResolved)
	})
}
