package booking

import (
	"fmt"
	"strings"
)

// stateNames maps postal abbreviations to names for states, the District of
// Columbia and the inhabited territories.
var stateNames = map[string]string{
	"AL": "Alabama", "AK": "Alaska", "AZ": "Arizona", "AR": "Arkansas",
	"CA": "California", "CO": "Colorado", "CT": "Connecticut", "DE": "Delaware",
	"FL": "Florida", "GA": "Georgia", "HI": "Hawaii", "ID": "Idaho",
	"IL": "Illinois", "IN": "Indiana", "IA": "Iowa", "KS": "Kansas",
	"KY": "Kentucky", "LA": "Louisiana", "ME": "Maine", "MD": "Maryland",
	"MA": "Massachusetts", "MI": "Michigan", "MN": "Minnesota", "MS": "Mississippi",
	"MO": "Missouri", "MT": "Montana", "NE": "Nebraska", "NV": "Nevada",
	"NH": "New Hampshire", "NJ": "New Jersey", "NM": "New Mexico", "NY": "New York",
	"NC": "North Carolina", "ND": "North Dakota", "OH": "Ohio", "OK": "Oklahoma",
	"OR": "Oregon", "PA": "Pennsylvania", "RI": "Rhode Island", "SC": "South Carolina",
	"SD": "South Dakota", "TN": "Tennessee", "TX": "Texas", "UT": "Utah",
	"VT": "Vermont", "VA": "Virginia", "WA": "Washington", "WV": "West Virginia",
	"WI": "Wisconsin", "WY": "Wyoming",
	"DC": "District of Columbia",
	"AS": "American Samoa", "GU": "Guam", "MP": "Northern Mariana Islands",
	"PR": "Puerto Rico", "VI": "U.S. Virgin Islands",
}

var stateIndex = buildStateIndex()

func buildStateIndex() map[string]string {
	idx := make(map[string]string, len(stateNames)*2+2)
	for abbr, name := range stateNames {
		idx[foldState(abbr)] = abbr
		idx[foldState(name)] = abbr
	}
	idx[foldState("Virgin Islands")] = "VI"
	idx[foldState("Washington DC")] = "DC"
	return idx
}

// foldState lower-cases and collapses whitespace and periods so "N.Y." and
// "new  york" compare equal to their canonical forms.
func foldState(s string) string {
	s = strings.ReplaceAll(strings.ToLower(s), ".", "")
	return strings.Join(strings.Fields(s), " ")
}

// LookupState converts a state or territory name or abbreviation to its
// two-letter postal code.
func LookupState(candidate string) (string, error) {
	if abbr, ok := stateIndex[foldState(candidate)]; ok {
		return abbr, nil
	}
	return "", fmt.Errorf("%q is not a valid state name", candidate)
}
