package selfsrc

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSource(t *testing.T, content string) *Source {
	t.Helper()
	path := filepath.Join(t.TempDir(), "agent.go")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return New(path)
}

func TestReadDigest(t *testing.T) {
	src := writeSource(t, "package main\n")
	snap, err := src.Read()
	require.NoError(t, err)
	assert.Equal(t, "package main\n", string(snap.Content))
	assert.Equal(t, Digest([]byte("package main\n")), snap.Digest)
	assert.Len(t, snap.Digest, 64)
}

func TestRead_Missing(t *testing.T) {
	_, err := New(filepath.Join(t.TempDir(), "nope.go")).Read()
	assert.Error(t, err)
}

func TestSwap_Applies(t *testing.T) {
	src := writeSource(t, "one\n")
	candidate, base, err := src.Candidate()
	require.NoError(t, err)
	assert.Equal(t, filepath.Dir(src.Path), filepath.Dir(candidate))

	require.NoError(t, os.WriteFile(candidate, []byte("two\n"), 0o644))
	next, err := src.Swap(candidate, base)
	require.NoError(t, err)
	assert.NotEqual(t, base.Digest, next.Digest)

	got, err := os.ReadFile(src.Path)
	require.NoError(t, err)
	assert.Equal(t, "two\n", string(got))
	assert.NoFileExists(t, candidate)
}

func TestSwap_NoChange(t *testing.T) {
	src := writeSource(t, "same\n")
	candidate, base, err := src.Candidate()
	require.NoError(t, err)

	_, err = src.Swap(candidate, base)
	assert.True(t, errors.Is(err, ErrNoChange))
	assert.NoFileExists(t, candidate)
}

func TestSwap_SourceMovedOn(t *testing.T) {
	src := writeSource(t, "one\n")
	candidate, base, err := src.Candidate()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(candidate, []byte("two\n"), 0o644))
	require.NoError(t, os.WriteFile(src.Path, []byte("other\n"), 0o644))

	_, err = src.Swap(candidate, base)
	require.Error(t, err)
	got, _ := os.ReadFile(src.Path)
	assert.Equal(t, "other\n", string(got))
	assert.NoFileExists(t, candidate)
}

func TestDiscard_RemovesLeftovers(t *testing.T) {
	src := writeSource(t, "x\n")
	candidate, _, err := src.Candidate()
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(candidate+".rej", []byte("rej"), 0o644))
	require.NoError(t, os.WriteFile(candidate+".orig", []byte("orig"), 0o644))

	Discard(candidate)
	assert.NoFileExists(t, candidate)
	assert.NoFileExists(t, candidate+".rej")
	assert.NoFileExists(t, candidate+".orig")
}
