// Package policy implements the Strategy pattern for target selection.
// Each priority mode (index, temporal) is a strategy that picks the winning
// window/rule match among all open windows.
package policy

import (
	"github.com/eliteGoblin/focusd/audio_mon/internal/domain"
)

// Match pairs an open window with the first rule it matched.
type Match struct {
	Window domain.TrackedWindow
	Rule   *domain.Rule
}

// PriorityPolicy defines the strategy interface for resolving competing matches.
// Implementations are pure: same inputs, same answer.
type PriorityPolicy interface {
	// Mode returns the priority mode this policy implements.
	Mode() domain.PriorityMode

	// Select returns the winning match, or false when no window matches.
	Select(windows []domain.TrackedWindow, rules []domain.Rule) (Match, bool)
}

// FirstMatch returns the first rule, in configured order, that matches the window.
func FirstMatch(rules []domain.Rule, w domain.TrackedWindow) *domain.Rule {
	for i := range rules {
		if rules[i].Matches(w.AppID, w.Title) {
			return &rules[i]
		}
	}
	return nil
}

// Matches returns every (window, first matching rule) pair.
func Matches(windows []domain.TrackedWindow, rules []domain.Rule) []Match {
	matches := make([]Match, 0, len(windows))
	for _, w := range windows {
		if r := FirstMatch(rules, w); r != nil {
			matches = append(matches, Match{Window: w, Rule: r})
		}
	}
	return matches
}

// SelectByIndex picks the match whose rule has the lowest configured index.
// Among windows sharing that rule the most recent one is reported.
func SelectByIndex(windows []domain.TrackedWindow, rules []domain.Rule) (Match, bool) {
	var best Match
	found := false
	for _, m := range Matches(windows, rules) {
		if !found ||
			m.Rule.Index < best.Rule.Index ||
			(m.Rule.Index == best.Rule.Index && m.Window.OpenedSeq > best.Window.OpenedSeq) {
			best = m
			found = true
		}
	}
	return best, found
}

// SelectByTemporal picks the matching window with the highest sequence number.
func SelectByTemporal(windows []domain.TrackedWindow, rules []domain.Rule) (Match, bool) {
	var best Match
	found := false
	for _, m := range Matches(windows, rules) {
		if !found || m.Window.OpenedSeq > best.Window.OpenedSeq {
			best = m
			found = true
		}
	}
	return best, found
}

// IndexPriority favours the lowest-indexed matching rule regardless of recency.
type IndexPriority struct{}

func (IndexPriority) Mode() domain.PriorityMode { return domain.PriorityIndex }

func (IndexPriority) Select(windows []domain.TrackedWindow, rules []domain.Rule) (Match, bool) {
	return SelectByIndex(windows, rules)
}

// TemporalPriority favours the most recently opened or changed matching window.
type TemporalPriority struct{}

func (TemporalPriority) Mode() domain.PriorityMode { return domain.PriorityTemporal }

func (TemporalPriority) Select(windows []domain.TrackedWindow, rules []domain.Rule) (Match, bool) {
	return SelectByTemporal(windows, rules)
}

var (
	_ PriorityPolicy = IndexPriority{}
	_ PriorityPolicy = TemporalPriority{}
)
