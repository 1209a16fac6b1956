// Package fuzzy ranks candidate strings by similarity to a word.
//
// Similarity is the sequence-matcher ratio 2*M/T, where M is the number of
// characters in matching blocks and T the total length of both strings.
package fuzzy

import (
	"sort"
	"strings"

	"github.com/pmezard/go-difflib/difflib"
)

// Match is one ranked candidate.
type Match struct {
	Value string
	Score float64
}

// Rank scores every candidate in pool against word and returns those with a
// score of at least cutoff, best first. Ties are broken by the larger string
// first so results are deterministic.
func Rank(word string, pool []string, cutoff float64) []Match {
	if cutoff < 0 || cutoff > 1 {
		return nil
	}
	m := difflib.NewMatcher(nil, chars(word))
	var out []Match
	for _, cand := range pool {
		m.SetSeq1(chars(cand))
		// Cheap upper bounds first; ratio is quadratic.
		if m.RealQuickRatio() < cutoff || m.QuickRatio() < cutoff {
			continue
		}
		score := m.Ratio()
		if score < cutoff {
			continue
		}
		out = append(out, Match{Value: cand, Score: score})
	}
	sort.SliceStable(out, func(i, j int) bool {
		if out[i].Score != out[j].Score {
			return out[i].Score > out[j].Score
		}
		return out[i].Value > out[j].Value
	})
	return out
}

// CloseMatches returns at most n of the best candidates from pool whose
// similarity to word is at least cutoff.
func CloseMatches(word string, pool []string, n int, cutoff float64) []string {
	if n <= 0 {
		return nil
	}
	ranked := Rank(word, pool, cutoff)
	if len(ranked) == 0 {
		return nil
	}
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	out := make([]string, 0, len(ranked))
	for _, r := range ranked {
		out = append(out, r.Value)
	}
	return out
}

func chars(s string) []string {
	if s == "" {
		return []string{}
	}
	return strings.Split(s, "")
}
