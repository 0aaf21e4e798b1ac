// Package commands classifies free-text user messages into the small set of
// memory commands memlake understands and routes them to handlers.
//
// The grammar is a finite list of phrases per command kind, matched as
// case-insensitive substrings, except for the developer-mode switches which
// must match the whole message.
package commands

import (
	"errors"
	"strings"
)

// Kind identifies a recognised command.
type Kind int

const (
	KindNone Kind = iota
	// KindRememberMoment flushes the session and marks the result important.
	KindRememberMoment
	// KindDeveloperOn stops recording turns into memory.
	KindDeveloperOn
	// KindDeveloperOff resumes recording.
	KindDeveloperOff
	// KindRecallFirst asks for the oldest memory.
	KindRecallFirst
	// KindRecallPast asks about earlier sessions; recall is consulted.
	KindRecallPast
)

var kindNames = map[Kind]string{
	KindNone:           "none",
	KindRememberMoment: "remember_moment",
	KindDeveloperOn:    "developer_on",
	KindDeveloperOff:   "developer_off",
	KindRecallFirst:    "recall_first",
	KindRecallPast:     "recall_past",
}

func (k Kind) String() string {
	if s, ok := kindNames[k]; ok {
		return s
	}
	return "unknown"
}

// ParseKind maps a name produced by Kind.String back to its Kind.
func ParseKind(s string) (Kind, bool) {
	s = strings.ToLower(strings.TrimSpace(s))
	for k, name := range kindNames {
		if name == s {
			return k, true
		}
	}
	return KindNone, false
}

// Command is a classified message.
type Command struct {
	Kind    Kind
	RawText string
}

// ErrNotACommand is returned by Parse when the message matches no command.
// Callers should use errors.Is to distinguish this expected case from real
// errors.
var ErrNotACommand = errors.New("not a command")

// Grammar holds the phrase lists. The zero value matches nothing; use
// DefaultGrammar.
type Grammar struct {
	DeveloperOn  []string // whole-message matches
	DeveloperOff []string // whole-message matches
	Remember     []string
	// RecallFirst matches when any FirstMarkers phrase appears together with
	// any FirstSubjects phrase, or when any FirstPhrases phrase appears.
	FirstMarkers  []string
	FirstSubjects []string
	FirstPhrases  []string
	// RecallTriggers mark a question about the past unless a Suppressors
	// phrase points at the current session instead.
	RecallTriggers []string
	Suppressors    []string
}

var rememberStems = []string{
	"记住这个时刻", "记住这一刻", "记住这个瞬间", "记住这个时间",
	"记住这个对话", "记住这次谈话", "记住这次交流",
	"保存这个时刻", "保存这次对话",
	"记录这个时刻", "记录这次对话",
}

// DefaultGrammar returns the bilingual phrase set.
func DefaultGrammar() *Grammar {
	remember := make([]string, 0, 2*len(rememberStems)+6)
	for _, s := range rememberStems {
		remember = append(remember, s, "请"+s)
	}
	remember = append(remember,
		"remember this moment",
		"remember this conversation",
		"save this moment",
		"save this conversation",
		"record this moment",
		"record this conversation",
	)
	return &Grammar{
		DeveloperOn:   []string{"developer mode"},
		DeveloperOff:  []string{"exit developer mode"},
		Remember:      remember,
		FirstMarkers:  []string{"第一条"},
		FirstSubjects: []string{"识底深湖", "记忆"},
		FirstPhrases:  []string{"first memory", "earliest memory"},
		RecallTriggers: []string{
			"记得", "说过", "讨论过", "回忆", "继续", "接着", "历史", "以前", "曾经", "之前", "上个",
			"do you remember", "we talked about", "we discussed", "you said",
			"last time", "previously", "recall",
		},
		Suppressors: []string{"上一个", "刚才", "just now", "a moment ago"},
	}
}

var defaultGrammar = DefaultGrammar()

// Parse classifies text with the default grammar.
func Parse(text string) (*Command, error) { return defaultGrammar.Parse(text) }

// WantsRecall reports whether text asks about earlier sessions under the
// default grammar.
func WantsRecall(text string) bool { return defaultGrammar.WantsRecall(text) }

// Parse classifies text. Developer switches win over everything, then the
// remember command, then the two recall kinds.
func (g *Grammar) Parse(text string) (*Command, error) {
	raw := strings.TrimSpace(text)
	kind := g.classify(strings.ToLower(raw))
	if kind == KindNone {
		return nil, ErrNotACommand
	}
	return &Command{Kind: kind, RawText: raw}, nil
}

// WantsRecall reports whether text should consult long-term recall.
func (g *Grammar) WantsRecall(text string) bool {
	switch g.classify(strings.ToLower(strings.TrimSpace(text))) {
	case KindRecallPast, KindRecallFirst:
		return true
	}
	return false
}

func (g *Grammar) classify(lower string) Kind {
	if lower == "" {
		return KindNone
	}
	switch {
	case equalsAny(lower, g.DeveloperOff):
		return KindDeveloperOff
	case equalsAny(lower, g.DeveloperOn):
		return KindDeveloperOn
	case containsAny(lower, g.Remember):
		return KindRememberMoment
	case containsAny(lower, g.FirstPhrases),
		containsAny(lower, g.FirstMarkers) && containsAny(lower, g.FirstSubjects):
		return KindRecallFirst
	case containsAny(lower, g.Suppressors):
		return KindNone
	case containsAny(lower, g.RecallTriggers):
		return KindRecallPast
	}
	return KindNone
}

func equalsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if s == strings.ToLower(p) {
			return true
		}
	}
	return false
}

func containsAny(s string, phrases []string) bool {
	for _, p := range phrases {
		if p != "" && strings.Contains(s, strings.ToLower(p)) {
			return true
		}
	}
	return false
}
