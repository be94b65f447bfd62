package session

import (
	"net/url"
	"strconv"
	"strings"
)

// DefaultVisualizationCondition is used when neither the URL nor persisted
// state chooses one. 1 shows the visualization.
const DefaultVisualizationCondition = 1

// Flags are the URL overrides of a session, read once when it opens.
type Flags struct {
	Debug                  bool `json:"debug"`
	DebugTimer             bool `json:"debug_timer"`
	Fresh                  bool `json:"fresh"`
	SkipSurvey             bool `json:"skip_survey"`
	ShortenPrompt          bool `json:"shorten_prompt"`
	Sunburst               bool `json:"sunburst"`
	VisualizationCondition *int `json:"visualization_condition,omitempty"` // nil when not in the URL
}

// ParseFlags reads the recognised parameters. Unknown parameters are ignored and
// malformed values fall back to their defaults.
func ParseFlags(q url.Values) Flags {
	f := Flags{
		Debug:         boolParam(q, "debug"),
		DebugTimer:    boolParam(q, "debugTimer"),
		Fresh:         boolParam(q, "fresh"),
		SkipSurvey:    boolParam(q, "skipSurvey"),
		ShortenPrompt: boolParam(q, "shortenPrompt"),
		Sunburst:      boolParam(q, "sunburst"),
	}

	if raw := strings.TrimSpace(q.Get("visualizationCondition")); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && (n == 0 || n == 1) {
			f.VisualizationCondition = &n
		}
	}
	return f
}

// boolParam accepts a bare key ("?debug") as true.
func boolParam(q url.Values, key string) bool {
	vals, ok := q[key]
	if !ok {
		return false
	}
	if len(vals) == 0 {
		return true
	}
	switch strings.ToLower(strings.TrimSpace(vals[0])) {
	case "", "1", "true", "yes", "on":
		return true
	default:
		return false
	}
}

// Condition resolves the visualization condition: URL first, then persisted,
// then DefaultVisualizationCondition.
func (f Flags) Condition(persisted *int) int {
	if f.VisualizationCondition != nil {
		return *f.VisualizationCondition
	}
	if persisted != nil && (*persisted == 0 || *persisted == 1) {
		return *persisted
	}
	return DefaultVisualizationCondition
}

// Query renders the flags back into URL parameters.
func (f Flags) Query() url.Values {
	q := url.Values{}
	set := func(key string, on bool) {
		if on {
			q.Set(key, "1")
		}
	}
	set("debug", f.Debug)
	set("debugTimer", f.DebugTimer)
	set("fresh", f.Fresh)
	set("skipSurvey", f.SkipSurvey)
	set("shortenPrompt", f.ShortenPrompt)
	set("sunburst", f.Sunburst)
	if f.VisualizationCondition != nil {
		q.Set("visualizationCondition", strconv.Itoa(*f.VisualizationCondition))
	}
	return q
}
