package fuzzy

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestCloseMatches_PrefersSmallestEdit(t *testing.T) {
	pool := []string{"h2oGPT-light.pdf", "logo.svg", "h2oGPT-dark.pdf"}
	got := CloseMatches("h2oGPT-light.png", pool, 1, 0.1)
	require.Len(t, got, 1)
	assert.Equal(t, "h2oGPT-light.pdf", got[0])
}

func TestCloseMatches_LowCutoffSurfacesWeakMatches(t *testing.T) {
	got := CloseMatches("system_info.py", []string{"get_system_info.py", "__init__.py"}, 1, 0.1)
	assert.Equal(t, []string{"get_system_info.py"}, got)
}

func TestCloseMatches_RespectsCutoff(t *testing.T) {
	got := CloseMatches("abc", []string{"xyz"}, 3, 0.5)
	assert.Empty(t, got)
}

func TestCloseMatches_Limit(t *testing.T) {
	got := CloseMatches("apple", []string{"ape", "apply", "appel", "peach"}, 2, 0.1)
	assert.Len(t, got, 2)
	assert.Equal(t, "apply", got[0])
}

func TestCloseMatches_InvalidArguments(t *testing.T) {
	assert.Nil(t, CloseMatches("a", []string{"a"}, 0, 0.5))
	assert.Nil(t, CloseMatches("a", []string{"a"}, 1, 1.5))
	assert.Nil(t, CloseMatches("a", nil, 1, 0.1))
}

func TestRank_OrdersByScore(t *testing.T) {
	ranked := Rank("colour", []string{"color", "colour", "cool"}, 0)
	require.Len(t, ranked, 3)
	assert.Equal(t, "colour", ranked[0].Value)
	assert.InDelta(t, 1.0, ranked[0].Score, 1e-9)
	assert.Equal(t, "color", ranked[1].Value)
	assert.GreaterOrEqual(t, ranked[1].Score, ranked[2].Score)
}
