package broker

// ExecutionParams are per-broker execution hints exposed read-only to the
// terminal's configuration. This layer never places trades itself.
type ExecutionParams struct {
	SlippagePoints int    `json:"slippage_points"`
	ExecutionMode  string `json:"execution_mode"` // "instant" | "market"
}

// Profile describes one broker's instrument naming convention. Selected
// once per terminal session; immutable until re-detection is triggered.
type Profile struct {
	Name      string            `json:"name"`
	Prefix    string            `json:"prefix"`
	Suffix    string            `json:"suffix"`
	Overrides map[string]string `json:"special_symbol_overrides"` // canonical -> broker symbol
	Exec      ExecutionParams   `json:"execution_params"`
}

// Generic is the fallback profile: canonical names pass through untouched.
func Generic() Profile {
	return Profile{
		Name: "Generic",
		Exec: ExecutionParams{SlippagePoints: 3, ExecutionMode: "instant"},
	}
}

// knownProfiles are fingerprinted conventions seen across supported
// brokers. Server identifiers are matched case-insensitively as
// substrings against the terminal's configured trade server.
var knownProfiles = []struct {
	fingerprints []string
	profile      Profile
}{
	{
		fingerprints: []string{"icmarkets"},
		profile: Profile{
			Name:   "ICMarkets",
			Suffix: "",
			Exec:   ExecutionParams{SlippagePoints: 2, ExecutionMode: "market"},
		},
	},
	{
		fingerprints: []string{"pepperstone"},
		profile: Profile{
			Name:   "Pepperstone",
			Suffix: "",
			Exec:   ExecutionParams{SlippagePoints: 2, ExecutionMode: "market"},
		},
	},
	{
		fingerprints: []string{"fpmarkets", "firstprudential"},
		profile: Profile{
			Name:   "FPMarkets",
			Suffix: "-Raw",
			Exec:   ExecutionParams{SlippagePoints: 3, ExecutionMode: "market"},
		},
	},
	{
		fingerprints: []string{"roboforex"},
		profile: Profile{
			Name:      "RoboForex",
			Overrides: map[string]string{"XAUUSD": "GOLD"},
			Exec:      ExecutionParams{SlippagePoints: 5, ExecutionMode: "instant"},
		},
	},
	{
		fingerprints: []string{"admiralmarkets", "admirals"},
		profile: Profile{
			Name:      "Admirals",
			Overrides: map[string]string{"XAUUSD": "GOLD"},
			Exec:      ExecutionParams{SlippagePoints: 4, ExecutionMode: "instant"},
		},
	},
}
