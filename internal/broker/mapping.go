package broker

import (
	"strings"
	"sync"

	"github.com/tradewire/bridge/internal/observ"
)

// Mapping is one validated canonical -> broker symbol entry. A canonical
// symbol is never dropped: when verification fails the entry is kept with
// LowConfidence or Unmapped set and callers decide what to do.
type Mapping struct {
	Canonical     string `json:"canonical"`
	BrokerSymbol  string `json:"broker_symbol"`
	LowConfidence bool   `json:"low_confidence,omitempty"`
	Unmapped      bool   `json:"unmapped,omitempty"`
}

// Table holds the built translation table for one broker session.
type Table struct {
	mu      sync.RWMutex
	profile Profile
	forward map[string]Mapping // canonical -> mapping
	reverse map[string]string  // broker symbol -> canonical
}

// BuildTable applies the profile's convention to every canonical symbol
// and verifies each result against the terminal's available instruments.
func BuildTable(profile Profile, canonical []string, available []string) *Table {
	availSet := make(map[string]struct{}, len(available))
	for _, a := range available {
		availSet[a] = struct{}{}
	}

	t := &Table{
		profile: profile,
		forward: make(map[string]Mapping, len(canonical)),
		reverse: make(map[string]string, len(canonical)),
	}

	for _, sym := range canonical {
		m := Mapping{Canonical: sym}

		candidate := profile.Prefix + sym + profile.Suffix
		if override, ok := profile.Overrides[sym]; ok {
			candidate = override
		}

		switch {
		case verified(candidate, availSet):
			m.BrokerSymbol = candidate
		case len(available) == 0:
			// No instrument list to verify against; trust the convention.
			m.BrokerSymbol = candidate
		default:
			if fuzzy, ok := fuzzyMatch(sym, available); ok {
				m.BrokerSymbol = fuzzy
				m.LowConfidence = true
				observ.Log("symbol_mapping_fuzzy", map[string]any{
					"canonical": sym, "broker_symbol": fuzzy, "broker": profile.Name,
				})
			} else {
				m.BrokerSymbol = sym
				m.Unmapped = true
				observ.Log("symbol_mapping_unmapped", map[string]any{
					"canonical": sym, "broker": profile.Name,
				})
			}
		}

		t.forward[sym] = m
		t.reverse[m.BrokerSymbol] = sym
	}

	observ.SetGauge("symbol_mappings_total", float64(len(t.forward)), map[string]string{"broker": profile.Name})
	return t
}

func verified(candidate string, availSet map[string]struct{}) bool {
	_, ok := availSet[candidate]
	return ok
}

// fuzzyMatch finds an available instrument containing the canonical
// symbol as a substring. Shortest match wins so "EURUSD" prefers
// "EURUSD.r" over "EURUSD-micro-2".
func fuzzyMatch(canonical string, available []string) (string, bool) {
	upper := strings.ToUpper(canonical)
	best := ""
	for _, a := range available {
		if !strings.Contains(strings.ToUpper(a), upper) {
			continue
		}
		if best == "" || len(a) < len(best) {
			best = a
		}
	}
	return best, best != ""
}

// Profile returns the profile the table was built from.
func (t *Table) Profile() Profile {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.profile
}

// Translate maps a canonical symbol to its broker form.
func (t *Table) Translate(canonical string) (Mapping, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	m, ok := t.forward[canonical]
	return m, ok
}

// ReverseTranslate maps a broker symbol back to canonical. When no exact
// entry exists it retries after stripping known separator decorations.
func (t *Table) ReverseTranslate(brokerSym string) (string, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()

	if canonical, ok := t.reverse[brokerSym]; ok {
		return canonical, true
	}
	for _, stripped := range stripDecorations(brokerSym) {
		if canonical, ok := t.reverse[stripped]; ok {
			return canonical, true
		}
		if _, ok := t.forward[stripped]; ok {
			return stripped, true
		}
	}
	return "", false
}

// Mappings returns a copy of the table for inspection.
func (t *Table) Mappings() []Mapping {
	t.mu.RLock()
	defer t.mu.RUnlock()
	out := make([]Mapping, 0, len(t.forward))
	for _, m := range t.forward {
		out = append(out, m)
	}
	return out
}

var separators = []string{".", "-", "_", "#"}

// stripDecorations yields candidate canonical forms for a decorated
// broker symbol, e.g. "EURUSD.r" -> "EURUSD".
func stripDecorations(sym string) []string {
	var out []string
	for _, sep := range separators {
		if idx := strings.Index(sym, sep); idx > 0 {
			out = append(out, sym[:idx])
		}
		if idx := strings.LastIndex(sym, sep); idx >= 0 && idx+1 < len(sym) {
			out = append(out, sym[idx+1:])
		}
	}
	return out
}
