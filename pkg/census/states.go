package census

import (
	"fmt"
	"strings"
)

// State is a state-equivalent addressed by its FIPS code.
type State struct {
	FIPS string
	Abbr string
	Name string
}

// PuertoRico is published in ACS tables but is not part of the default state list.
var PuertoRico = State{FIPS: "72", Abbr: "PR", Name: "Puerto Rico"}

var states = []State{
	{"01", "AL", "Alabama"},
	{"02", "AK", "Alaska"},
	{"04", "AZ", "Arizona"},
	{"05", "AR", "Arkansas"},
	{"06", "CA", "California"},
	{"08", "CO", "Colorado"},
	{"09", "CT", "Connecticut"},
	{"10", "DE", "Delaware"},
	{"11", "DC", "District of Columbia"},
	{"12", "FL", "Florida"},
	{"13", "GA", "Georgia"},
	{"15", "HI", "Hawaii"},
	{"16", "ID", "Idaho"},
	{"17", "IL", "Illinois"},
	{"18", "IN", "Indiana"},
	{"19", "IA", "Iowa"},
	{"20", "KS", "Kansas"},
	{"21", "KY", "Kentucky"},
	{"22", "LA", "Louisiana"},
	{"23", "ME", "Maine"},
	{"24", "MD", "Maryland"},
	{"25", "MA", "Massachusetts"},
	{"26", "MI", "Michigan"},
	{"27", "MN", "Minnesota"},
	{"28", "MS", "Mississippi"},
	{"29", "MO", "Missouri"},
	{"30", "MT", "Montana"},
	{"31", "NE", "Nebraska"},
	{"32", "NV", "Nevada"},
	{"33", "NH", "New Hampshire"},
	{"34", "NJ", "New Jersey"},
	{"35", "NM", "New Mexico"},
	{"36", "NY", "New York"},
	{"37", "NC", "North Carolina"},
	{"38", "ND", "North Dakota"},
	{"39", "OH", "Ohio"},
	{"40", "OK", "Oklahoma"},
	{"41", "OR", "Oregon"},
	{"42", "PA", "Pennsylvania"},
	{"44", "RI", "Rhode Island"},
	{"45", "SC", "South Carolina"},
	{"46", "SD", "South Dakota"},
	{"47", "TN", "Tennessee"},
	{"48", "TX", "Texas"},
	{"49", "UT", "Utah"},
	{"50", "VT", "Vermont"},
	{"51", "VA", "Virginia"},
	{"53", "WA", "Washington"},
	{"54", "WV", "West Virginia"},
	{"55", "WI", "Wisconsin"},
	{"56", "WY", "Wyoming"},
}

// States returns the 50 states and DC in FIPS order, plus Puerto Rico when
// includePR is set.
func States(includePR bool) []State {
	out := make([]State, len(states), len(states)+1)
	copy(out, states)
	if includePR {
		out = append(out, PuertoRico)
	}
	return out
}

// LookupState finds a state by FIPS code, postal abbreviation or name
// (case-insensitive).
func LookupState(s string) (State, bool) {
	s = strings.TrimSpace(s)
	for _, st := range append(States(false), PuertoRico) {
		if s == st.FIPS || strings.EqualFold(s, st.Abbr) || strings.EqualFold(s, st.Name) {
			return st, true
		}
	}
	return State{}, false
}

// ResolveStates maps each selector to a State. An empty selector list yields
// the default state list.
func ResolveStates(selectors []string, includePR bool) ([]State, error) {
	if len(selectors) == 0 {
		return States(includePR), nil
	}

	seen := make(map[string]bool, len(selectors))
	out := make([]State, 0, len(selectors))
	for _, sel := range selectors {
		st, ok := LookupState(sel)
		if !ok {
			return nil, fmt.Errorf("unknown state %q", sel)
		}
		if seen[st.FIPS] {
			continue
		}
		seen[st.FIPS] = true
		out = append(out, st)
	}
	return out, nil
}
