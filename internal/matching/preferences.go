package matching

import "strings"

// PreferenceFilter accepts candidate when it satisfies self's stored match
// preferences. Queue applies filters in both directions, so a match needs
// mutual compatibility. Missing data on either side never disqualifies.
func PreferenceFilter(self, candidate Entry) bool {
	want := self.Profile.Preferences
	have := candidate.Profile.Preferences

	if want.Seeking != "" && !strings.EqualFold(want.Seeking, "any") && have.Gender != "" {
		if !strings.EqualFold(want.Seeking, have.Gender) {
			return false
		}
	}

	if have.Age > 0 {
		if want.MinAge > 0 && have.Age < want.MinAge {
			return false
		}
		if want.MaxAge > 0 && have.Age > want.MaxAge {
			return false
		}
	}

	return true
}
