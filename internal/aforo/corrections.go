package aforo

import (
	"strings"
	"time"
)

// ApplyCorrection overlays one manual correction on an event, in the
// fixed order discard, hide, class, cardinals, code recompute. The event
// is mutated in place and the returned fragments describe what changed,
// for the revision log; re-applying the same correction yields no
// fragments.
//
// A corrected cardinal pair with no rule discards the event rather than
// erroring.
func ApplyCorrection(ev *TrajectoryEvent, c TrajectoryCorrection, rules RuleMap) []string {
	var changes []string

	if c.Discard {
		if !ev.Discarded {
			ev.Discarded = true
			changes = append(changes, "discard")
		}
		return changes
	}

	if c.HideInReport && !ev.HideInReport {
		ev.HideInReport = true
		changes = append(changes, "hide")
	}

	if c.NewClass != nil {
		nc := CanonicalClass(*c.NewClass)
		if nc != ev.Class {
			ev.Class = nc
			changes = append(changes, "class="+nc)
		}
	}
	if c.NewOrigin != nil && *c.NewOrigin != ev.Origin {
		ev.Origin = *c.NewOrigin
		changes = append(changes, "origin="+string(ev.Origin))
	}
	if c.NewDest != nil && *c.NewDest != ev.Destination {
		ev.Destination = *c.NewDest
		changes = append(changes, "dest="+string(ev.Destination))
	}

	code, err := MapMovement(rules, ev.Origin, ev.Destination, ev.Class)
	if err != nil {
		if !ev.Discarded {
			ev.Discarded = true
			changes = append(changes, "rilsa_unmappable")
		}
		return changes
	}
	if code != ev.RilsaCode {
		ev.RilsaCode = code
		changes = append(changes, "rilsa="+code)
	}
	return changes
}

// NewRevision builds the next audit entry after maxVersion.
func NewRevision(maxVersion int, changes []string, changedBy string, at time.Time) Revision {
	return Revision{
		Version:   maxVersion + 1,
		Changes:   strings.Join(changes, ","),
		ChangedBy: changedBy,
		Timestamp: at,
	}
}
