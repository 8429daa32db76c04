package channel

import "fmt"

// RuleSet holds one rule per channel.
type RuleSet map[Channel]Rule

// DefaultRules returns a set with zero rules for every channel.
func DefaultRules() RuleSet {
	rs := make(RuleSet, len(all))
	for _, c := range all {
		rs[c] = Rule{}
	}
	return rs
}

// Backfill returns a copy that contains every channel, filling the missing
// ones with zero rules. Unknown keys are dropped.
func (rs RuleSet) Backfill() RuleSet {
	out := DefaultRules()
	for c, r := range rs {
		if c.Valid() {
			out[c] = r
		}
	}
	return out
}

// Complete returns an error naming the first canonical channel missing from rs.
func (rs RuleSet) Complete() error {
	for _, c := range all {
		if _, ok := rs[c]; !ok {
			return fmt.Errorf("rules for channel %q are missing", c)
		}
	}
	return nil
}

// Clamped returns a copy with every rule clamped.
func (rs RuleSet) Clamped() RuleSet {
	out := make(RuleSet, len(rs))
	for c, r := range rs {
		out[c] = r.Clamped()
	}
	return out
}

// Clone copies the set.
func (rs RuleSet) Clone() RuleSet {
	out := make(RuleSet, len(rs))
	for c, r := range rs {
		out[c] = r
	}
	return out
}
