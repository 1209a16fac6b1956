// Package selfsrc treats the agent's own source file as a content-addressed
// blob. Patches are applied to a candidate copy and swapped in only when the
// candidate differs from the revision it was taken from.
package selfsrc

import (
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"os"
	"path/filepath"

	"github.com/google/uuid"
)

// ErrNoChange is returned by Swap when the candidate is byte-identical to its base.
var ErrNoChange = errors.New("candidate does not change source")

// Snapshot is one immutable view of the source.
type Snapshot struct {
	Content []byte
	Digest  string
}

// Source is the agent's own source file.
type Source struct {
	Path string
}

// New returns a Source for path.
func New(path string) *Source {
	return &Source{Path: path}
}

// Digest returns the hex sha256 of content.
func Digest(content []byte) string {
	sum := sha256.Sum256(content)
	return hex.EncodeToString(sum[:])
}

// Read loads the current source.
func (s *Source) Read() (Snapshot, error) {
	data, err := os.ReadFile(s.Path)
	if err != nil {
		return Snapshot{}, fmt.Errorf("read source %s: %w", s.Path, err)
	}
	return Snapshot{Content: data, Digest: Digest(data)}, nil
}

// Candidate copies the current source next to itself and returns the copy's
// path together with the snapshot it was taken from. The copy lives in the
// same directory so Swap can rename atomically.
func (s *Source) Candidate() (string, Snapshot, error) {
	base, err := s.Read()
	if err != nil {
		return "", Snapshot{}, err
	}
	mode := os.FileMode(0o644)
	if info, err := os.Stat(s.Path); err == nil {
		mode = info.Mode().Perm()
	}
	dir, name := filepath.Split(s.Path)
	candidate := filepath.Join(dir, "."+name+".candidate-"+uuid.NewString())
	if err := os.WriteFile(candidate, base.Content, mode); err != nil {
		return "", Snapshot{}, fmt.Errorf("write candidate: %w", err)
	}
	return candidate, base, nil
}

// Swap replaces the source with candidate if it differs from base and the
// source has not moved on since base was taken. The candidate is consumed
// either way.
func (s *Source) Swap(candidate string, base Snapshot) (Snapshot, error) {
	data, err := os.ReadFile(candidate)
	if err != nil {
		Discard(candidate)
		return Snapshot{}, fmt.Errorf("read candidate: %w", err)
	}
	next := Snapshot{Content: data, Digest: Digest(data)}
	if next.Digest == base.Digest {
		Discard(candidate)
		return base, ErrNoChange
	}

	current, err := s.Read()
	if err != nil {
		Discard(candidate)
		return Snapshot{}, err
	}
	if current.Digest != base.Digest {
		Discard(candidate)
		return Snapshot{}, fmt.Errorf("source changed during patch: have %s, base %s", current.Digest, base.Digest)
	}

	if err := os.Rename(candidate, s.Path); err != nil {
		Discard(candidate)
		return Snapshot{}, fmt.Errorf("swap source: %w", err)
	}
	removeLeftovers(candidate)
	return next, nil
}

// Discard removes a candidate and any backup or reject files the patch tool
// left beside it.
func Discard(candidate string) {
	_ = os.Remove(candidate)
	removeLeftovers(candidate)
}

func removeLeftovers(candidate string) {
	for _, ext := range []string{".orig", ".rej"} {
		_ = os.Remove(candidate + ext)
	}
}
