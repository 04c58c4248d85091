package scribelog

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestNewLevelSetMergesOverDefaults(t *testing.T) {
	set := newLevelSet(Levels{"fatal": 0, "verbose": 5, LevelWarn: 7})

	assert.True(t, set.Has("fatal"))
	assert.True(t, set.Has("verbose"))
	assert.Equal(t, 7, set[LevelWarn], "override wins over the built-in priority")
	assert.True(t, set.Has(LevelError), "defaults survive the merge")
	assert.True(t, set.Has(LevelTrace))
}

func TestNewLevelSetRejectsInvalidEntries(t *testing.T) {
	set := newLevelSet(Levels{"": 1, "negative": -3})

	assert.False(t, set.Has(""))
	assert.False(t, set.Has("negative"))
	assert.Equal(t, len(DefaultLevels), len(set))
}

func TestLevelsEnabled(t *testing.T) {
	set := newLevelSet(nil)

	assert.True(t, set.enabled(LevelError, LevelInfo))
	assert.True(t, set.enabled(LevelInfo, LevelInfo))
	assert.False(t, set.enabled(LevelDebug, LevelInfo))
	assert.False(t, set.enabled("nope", LevelInfo), "unknown record level disables")
	assert.False(t, set.enabled(LevelError, "nope"), "unknown threshold disables")
}

func TestLevelsNamesOrderedByPriority(t *testing.T) {
	set := Levels{"b": 1, "a": 1, "severe": 0, "chatty": 9}

	assert.Equal(t, []string{"severe", "a", "b", "chatty"}, set.Names())
}

func TestLevelValueSet(t *testing.T) {
	var v LevelValue

	require.NoError(t, v.Set(" WARN "))
	assert.Equal(t, LevelWarn, v.String())

	err := v.Set("loud")
	require.Error(t, err)
	assert.Contains(t, err.Error(), `"loud"`)
	assert.Equal(t, LevelWarn, v.String(), "failed Set leaves the value alone")
}

func TestLevelValueUnmarshalText(t *testing.T) {
	var v LevelValue

	require.NoError(t, v.UnmarshalText([]byte("debug")))
	assert.Equal(t, LevelDebug, string(v))
	assert.Error(t, v.UnmarshalText([]byte("nope")))
}
