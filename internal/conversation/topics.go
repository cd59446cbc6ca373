package conversation

import (
	"sort"
	"strings"
	"unicode"
)

const (
	maxTopics      = 10
	minTopicLength = 5
)

// stopwords filters common filler that would otherwise dominate topic hints.
var stopwords = map[string]bool{
	"about": true, "after": true, "again": true, "could": true, "doing": true,
	"going": true, "hello": true, "maybe": true, "other": true, "please": true,
	"really": true, "right": true, "should": true, "thanks": true, "there": true,
	"these": true, "thing": true, "things": true, "think": true, "those": true,
	"today": true, "would": true, "where": true, "which": true, "while": true,
}

// topicExtractor is a frequency counter over alphabetic tokens from user
// inputs. A production system could replace it with real NLP; callers only
// rely on getting at most ten lowercase strings.
type topicExtractor struct {
	counts map[string]int
	order  []string
}

func newTopicExtractor() *topicExtractor {
	return &topicExtractor{counts: make(map[string]int)}
}

func (e *topicExtractor) observe(text string) {
	for _, token := range strings.FieldsFunc(strings.ToLower(text), func(r rune) bool {
		return !unicode.IsLetter(r)
	}) {
		if len(token) < minTopicLength || stopwords[token] {
			continue
		}
		if _, seen := e.counts[token]; !seen {
			e.order = append(e.order, token)
		}
		e.counts[token]++
	}
}

// topics returns the most frequent tokens, ties broken by first appearance.
func (e *topicExtractor) topics() []string {
	candidates := make([]string, len(e.order))
	copy(candidates, e.order)

	firstSeen := make(map[string]int, len(e.order))
	for i, token := range e.order {
		firstSeen[token] = i
	}
	sort.SliceStable(candidates, func(i, j int) bool {
		if e.counts[candidates[i]] != e.counts[candidates[j]] {
			return e.counts[candidates[i]] > e.counts[candidates[j]]
		}
		return firstSeen[candidates[i]] < firstSeen[candidates[j]]
	})

	if len(candidates) > maxTopics {
		candidates = candidates[:maxTopics]
	}
	return candidates
}
