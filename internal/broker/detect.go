package broker

import (
	"strings"
)

// Detection is a confidence-scored detection result. Detection heuristics
// are best-effort, so ambiguity stays observable instead of collapsing
// into a boolean.
type Detection struct {
	Profile    Profile `json:"profile"`
	Confidence float64 `json:"confidence"` // 0..1
	Evidence   string  `json:"evidence"`
}

// referenceSymbols are liquid majors present at essentially every broker;
// used to infer naming patterns from the available-instrument list.
var referenceSymbols = []string{"EURUSD", "GBPUSD", "USDJPY", "AUDUSD"}

// Detect selects a broker profile from the terminal's configured trade
// server and its available-instrument list. Deterministic given the same
// inputs; requires no network access. Order of attempts:
// fingerprint match, naming-pattern inference, Generic fallback.
func Detect(tradeServer string, available []string) Detection {
	if server := strings.ToLower(strings.TrimSpace(tradeServer)); server != "" {
		for _, kp := range knownProfiles {
			for _, fp := range kp.fingerprints {
				if strings.Contains(server, fp) {
					return Detection{
						Profile:    kp.profile,
						Confidence: 0.9,
						Evidence:   "server fingerprint " + fp,
					}
				}
			}
		}
	}

	if prefix, suffix, hits := inferPattern(available); hits > 0 {
		p := Generic()
		p.Name = "Inferred"
		p.Prefix = prefix
		p.Suffix = suffix
		// Confidence scales with how many reference majors matched.
		conf := 0.4 + 0.1*float64(hits)
		if conf > 0.8 {
			conf = 0.8
		}
		return Detection{
			Profile:    p,
			Confidence: conf,
			Evidence:   "instrument naming pattern",
		}
	}

	return Detection{
		Profile:    Generic(),
		Confidence: 0.3,
		Evidence:   "fallback",
	}
}

// inferPattern looks for the reference majors inside the available list
// and extracts a common prefix/suffix. A bare match (no decoration) is
// still a hit; it confirms the Generic convention.
func inferPattern(available []string) (prefix, suffix string, hits int) {
	type pattern struct{ prefix, suffix string }
	counts := map[pattern]int{}

	for _, avail := range available {
		upper := strings.ToUpper(avail)
		for _, ref := range referenceSymbols {
			idx := strings.Index(upper, ref)
			if idx < 0 {
				continue
			}
			p := pattern{prefix: avail[:idx], suffix: avail[idx+len(ref):]}
			counts[p]++
		}
	}

	best := pattern{}
	for p, n := range counts {
		if n > hits {
			best, hits = p, n
		}
	}
	return best.prefix, best.suffix, hits
}
