// Package action parses model replies into fenced-block actions.
package action

import (
	"regexp"
	"strings"
)

// Kind is the verb on a fenced block.
type Kind string

const (
	KindUser        Kind = "user"
	KindReview      Kind = "review"
	KindBash        Kind = "bash"
	KindPython      Kind = "python"
	KindPythonTools Kind = "python_tools"
	KindPatch       Kind = "patch"
	KindRestart     Kind = "restart"
	KindExit        Kind = "exit"
	KindUnknown     Kind = "unknown"
)

// Kinds lists every recognised verb in catalogue order.
var Kinds = []Kind{
	KindUser, KindReview, KindBash, KindPython,
	KindPythonTools, KindPatch, KindRestart, KindExit,
}

// Action is one fenced block. Tag keeps the raw info string.
type Action struct {
	Kind Kind
	Tag  string
	Code string
}

var blockPattern = regexp.MustCompile("(?s)```(.*?)(\\n[\\s\\S]*?)?```")

// ParseKind maps a fence info string to a Kind.
func ParseKind(tag string) Kind {
	k := Kind(strings.TrimSpace(tag))
	for _, known := range Kinds {
		if k == known {
			return k
		}
	}
	return KindUnknown
}

// Extract returns the fenced blocks in text in order.
func Extract(text string) []Action {
	matches := blockPattern.FindAllStringSubmatch(text, -1)
	actions := make([]Action, 0, len(matches))
	for _, m := range matches {
		tag := strings.TrimSpace(m[1])
		if tag == "" {
			tag = string(KindUnknown)
		}
		actions = append(actions, Action{
			Kind: ParseKind(tag),
			Tag:  tag,
			Code: strings.TrimSpace(m[2]),
		})
	}
	return actions
}
