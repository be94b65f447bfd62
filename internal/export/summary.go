// Package export turns stored study data into researcher-facing artefacts.
package export

import (
	"sort"

	"github.com/montanaflynn/stats"

	"github.com/personachat/personachat/internal/core"
	"github.com/personachat/personachat/internal/persona"
)

// TraitSummary holds descriptive statistics of one trait's raw values across
// snapshots.
type TraitSummary struct {
	Trait       string  `json:"trait"`
	DisplayName string  `json:"display_name"`
	Count       int     `json:"count"`
	Mean        float64 `json:"mean"`
	StdDev      float64 `json:"std_dev"`
	Min         float64 `json:"min"`
	Q25         float64 `json:"q25"`
	Median      float64 `json:"median"`
	Q75         float64 `json:"q75"`
	Max         float64 `json:"max"`
}

// Summarize groups ratings by normalized trait key and describes each group.
// Results are sorted by key.
func Summarize(snapshots []core.PersonaSnapshot) []TraitSummary {
	values := make(map[string][]float64)
	names := make(map[string]string)
	for _, snap := range snapshots {
		for _, r := range snap.Ratings {
			key := persona.NormalizeKey(r.Name)
			if key == "" {
				continue
			}
			values[key] = append(values[key], r.RawValue)
			if _, ok := names[key]; !ok {
				names[key] = persona.FormatName(r.Name)
			}
		}
	}

	keys := make([]string, 0, len(values))
	for k := range values {
		keys = append(keys, k)
	}
	sort.Strings(keys)

	out := make([]TraitSummary, 0, len(keys))
	for _, k := range keys {
		out = append(out, describe(k, names[k], values[k]))
	}
	return out
}

func describe(key, name string, data []float64) TraitSummary {
	s := TraitSummary{Trait: key, DisplayName: name, Count: len(data)}

	s.Mean, _ = stats.Mean(data)
	s.StdDev, _ = stats.StandardDeviation(data)
	s.Min, _ = stats.Min(data)
	s.Max, _ = stats.Max(data)
	s.Median, _ = stats.Median(data)
	if len(data) == 1 {
		s.Q25, s.Q75 = data[0], data[0]
		return s
	}
	s.Q25, _ = stats.Percentile(data, 25)
	s.Q75, _ = stats.Percentile(data, 75)
	return s
}
