package transcript

import (
	"encoding/json"
	"fmt"
	"os"
)

// Rate is the per-token USD cost for one model, broken out by the four
// usage categories a transcript message can report (spec §4.G stage 3).
type Rate struct {
	In         float64 `json:"in"`
	Out        float64 `json:"out"`
	CacheRead  float64 `json:"cache_read"`
	CacheWrite float64 `json:"cache_write"`
}

// Table maps model name to its Rate. Models absent from the table cost
// zero rather than failing the pipeline — an unrecognized model must never
// block a session's cost computation.
type Table map[string]Rate

// perMillion converts a published $/million-token rate into $/token.
func perMillion(usd float64) float64 { return usd / 1_000_000 }

// DefaultTable is the built-in rate table, seeded with the current Claude
// model family. It is deliberately small and meant to be overridden via
// LoadTable for deployments tracking other models or updated prices.
func DefaultTable() Table {
	return Table{
		"claude-opus-4-5": {
			In: perMillion(5), Out: perMillion(25),
			CacheRead: perMillion(0.5), CacheWrite: perMillion(6.25),
		},
		"claude-opus-4-1": {
			In: perMillion(15), Out: perMillion(75),
			CacheRead: perMillion(1.5), CacheWrite: perMillion(18.75),
		},
		"claude-sonnet-4-5": {
			In: perMillion(3), Out: perMillion(15),
			CacheRead: perMillion(0.3), CacheWrite: perMillion(3.75),
		},
		"claude-sonnet-4": {
			In: perMillion(3), Out: perMillion(15),
			CacheRead: perMillion(0.3), CacheWrite: perMillion(3.75),
		},
		"claude-haiku-4-5": {
			In: perMillion(1), Out: perMillion(5),
			CacheRead: perMillion(0.1), CacheWrite: perMillion(1.25),
		},
	}
}

// LoadTable builds the rate table: defaults, overridden by the JSON file at
// path (PRICING_TABLE_PATH) if one is configured. An empty path returns the
// defaults unchanged.
func LoadTable(path string) (Table, error) {
	table := DefaultTable()
	if path == "" {
		return table, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading pricing table %s: %w", path, err)
	}
	var overrides Table
	if err := json.Unmarshal(data, &overrides); err != nil {
		return nil, fmt.Errorf("parsing pricing table %s: %w", path, err)
	}
	for model, rate := range overrides {
		table[model] = rate
	}
	return table, nil
}

// Rate returns model's rate, or the zero Rate for an unknown model.
func (t Table) Rate(model string) Rate {
	return t[model]
}

// Cost computes (in*rate_in + out*rate_out + cacheRead*rate_cr + cacheWrite*rate_cw)
// for model, per spec §4.G stage 3's token-accounting formula.
func (t Table) Cost(model string, in, out, cacheRead, cacheWrite int64) float64 {
	r := t.Rate(model)
	return float64(in)*r.In + float64(out)*r.Out + float64(cacheRead)*r.CacheRead + float64(cacheWrite)*r.CacheWrite
}
