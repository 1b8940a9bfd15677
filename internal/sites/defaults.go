package sites

import "strings"

// builtin mirrors the hand-curated list of Lighthouse-built sheriff rosters.
var builtin = map[string]Entry{
	"Bryan": {
		KeyBaseURL:    "https://bryancountyso.com",
		KeyResultsKey: "querybookings",
		KeyRecordKey:  "bookie",
	},
	"Caddo":    {KeyBaseURL: "https://caddocountysheriff.com", KeyRecordKey: "bookie"},
	"Canadian": {KeyBaseURL: "https://www.ccsheriff.net", KeyRecordKey: "bookie"},
	"Carter": {
		KeyBaseURL:    "https://cartercountysheriff.us",
		KeyResultsKey: "querybookings",
		KeyRecordKey:  "querybookie",
	},
	"Cimarron": {
		KeyBaseURL:    "https://cimarroncoso.gov",
		KeyResultsKey: "querybookings",
		KeyRecordKey:  "querybookie",
	},
	"Craig": {KeyBaseURL: "https://craigcountyso.com", KeyRecordKey: "bookie"},
	"Creek": {
		KeyBaseURL:    "https://creekcountysheriff.gov",
		KeyResultsKey: "querybookings",
		KeyIdentifier: "InmateId",
		KeyRecordKey:  "querybookie",
	},
	"Custer": {
		KeyBaseURL:    "https://custercountysheriff.com",
		KeyResultsKey: "querybookings",
		KeyRecordKey:  "bookie",
	},
	"Delaware": {KeyBaseURL: "https://delcosheriff.org", KeyRecordKey: "bookie"},
	"Lincoln": {
		KeyBaseURL:    "https://lincolncountysheriffok.gov",
		KeyResultsKey: "querybookings",
		KeyRecordKey:  "querybookie",
		KeyIdentifier: "InmateId",
	},
	"Logan": {KeyBaseURL: "https://logancountyso.org", KeyRecordKey: "bookie"},
	"Love": {
		KeyBaseURL:    "https://lovecosheriff.com",
		KeyResultsKey: "querybookings",
		KeyRecordKey:  "querybookie",
	},
	"Major": {KeyBaseURL: "https://majorcosheriff.com", KeyRecordKey: "bookie"},
	"Pawnee": {
		KeyBaseURL:    "https://www.pawneecountysheriff.com",
		KeyResultsKey: "querybookings",
		KeyRecordKey:  "bookie",
	},
	"Payne": {
		KeyBaseURL:    "https://paynecountyok.gov",
		KeyResultsKey: "querybookings",
		KeyRecordKey:  "querybookie",
	},
	"Sequoyah": {KeyBaseURL: "https://www.scsok.org", KeyRecordKey: "bookie"},
	"Wagoner": {
		KeyBaseURL:        "https://wagonercountyso.org",
		KeyDetailEndpoint: "/dmxConnect/api/Booking/getBookie.php",
		KeyRecordKey:      "queryInmate",
	},
	"Washington": {KeyBaseURL: "https://www.washingtoncosheriff.com", KeyRecordKey: "bookie"},
}

// Builtin returns a copy of the built-in source entries.
func Builtin() map[string]Entry {
	out := make(map[string]Entry, len(builtin))
	for name, entry := range builtin {
		cp := make(Entry, len(entry))
		for k, v := range entry {
			cp[k] = v
		}
		out[name] = cp
	}
	return out
}

// Merge layers overrides on top of base. Override names match base names
// case-insensitively so lower-cased configuration keys still hit the built-in
// entry; unmatched overrides are added as new sources.
func Merge(base, overrides map[string]Entry) map[string]Entry {
	out := make(map[string]Entry, len(base)+len(overrides))
	folded := make(map[string]string, len(base))
	for name, entry := range base {
		cp := make(Entry, len(entry))
		for k, v := range entry {
			cp[k] = v
		}
		out[name] = cp
		folded[strings.ToLower(name)] = name
	}
	for name, entry := range overrides {
		target, ok := folded[strings.ToLower(name)]
		if !ok {
			target = name
			out[target] = Entry{}
			folded[strings.ToLower(name)] = name
		}
		for k, v := range entry {
			out[target][strings.ToLower(k)] = v
		}
	}
	return out
}

// Default builds the registry of built-in sources.
func Default() (*Registry, error) {
	return NewRegistry(Builtin())
}
