package aforo

import (
	"fmt"
	"strings"
)

// RuleMap maps origin cardinal to destination cardinal to RILSA code.
// The map is per-dataset and manual; DefaultRuleMap gives the canonical
// assignment for a standard four-way intersection.
type RuleMap map[Cardinal]map[Cardinal]string

// DefaultRuleMap returns the canonical vehicle code assignment:
// straights 1-4, lefts 5-8, rights 9_1-9_4, U-turns 10_1-10_4.
func DefaultRuleMap() RuleMap {
	return RuleMap{
		CardinalN: {CardinalS: "1", CardinalE: "5", CardinalO: "9_1", CardinalN: "10_1"},
		CardinalS: {CardinalN: "2", CardinalO: "6", CardinalE: "9_2", CardinalS: "10_2"},
		CardinalO: {CardinalE: "3", CardinalN: "7", CardinalS: "9_3", CardinalO: "10_3"},
		CardinalE: {CardinalO: "4", CardinalS: "8", CardinalN: "9_4", CardinalE: "10_4"},
	}
}

// Lookup returns the code for an (origin, destination) pair, or "" when
// the pair has no rule.
func (m RuleMap) Lookup(origin, dest Cardinal) string {
	if inner, ok := m[origin]; ok {
		return inner[dest]
	}
	return ""
}

// MapMovement resolves the RILSA code for a movement. Pedestrian codes
// depend only on the origin cardinal; vehicle codes come from the rule
// map and an absent pair returns ErrNoRule.
func MapMovement(rules RuleMap, origin, dest Cardinal, class string) (string, error) {
	if IsPedestrian(class) {
		i := CardinalIndex(origin)
		if i == 0 {
			return "", fmt.Errorf("pedestrian movement from %q: %w", origin, ErrNoRule)
		}
		return fmt.Sprintf("P%d", i), nil
	}
	code := rules.Lookup(origin, dest)
	if code == "" {
		return "", fmt.Errorf("movement %s->%s: %w", origin, dest, ErrNoRule)
	}
	return code, nil
}

// MovementKind buckets a RILSA code for the time-window filters.
type MovementKind int

const (
	KindUnknown MovementKind = iota
	KindStraight
	KindLeft
	KindRight
	KindUTurn
	KindPedestrian
)

// KindOfCode classifies a RILSA code string.
func KindOfCode(code string) MovementKind {
	switch {
	case code == "1", code == "2", code == "3", code == "4":
		return KindStraight
	case code == "5", code == "6", code == "7", code == "8":
		return KindLeft
	case strings.HasPrefix(code, "9_"):
		return KindRight
	case strings.HasPrefix(code, "10_"):
		return KindUTurn
	case strings.HasPrefix(code, "P"):
		return KindPedestrian
	}
	return KindUnknown
}

// allCodes is the full code space in canonical report order.
var allCodes = []string{
	"1", "2", "3", "4", "5", "6", "7", "8",
	"9_1", "9_2", "9_3", "9_4",
	"10_1", "10_2", "10_3", "10_4",
	"P1", "P2", "P3", "P4",
}

var codeOrdinals = func() map[string]int {
	m := make(map[string]int, len(allCodes))
	for i, c := range allCodes {
		m[c] = i + 1
	}
	return m
}()

// CodeOrdinal returns the canonical sort position of a RILSA code.
// Unknown codes sort last.
func CodeOrdinal(code string) int {
	if n, ok := codeOrdinals[code]; ok {
		return n
	}
	return len(codeOrdinals) + 1
}

// AllCodes returns the full code space in canonical order.
func AllCodes() []string {
	out := make([]string, len(allCodes))
	copy(out, allCodes)
	return out
}
