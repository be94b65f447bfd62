package persona

import (
	"math"
	"sort"
	"strings"
	"unicode"

	"github.com/personachat/personachat/internal/core"
)

// PolarityRule says how a trait reads at each sign.
type PolarityRule struct {
	CanonicalKey         string `json:"canonical_key"`
	IsInherentlyPositive bool   `json:"is_inherently_positive"`
	AntonymName          string `json:"antonym_name"` // Display-ready, used verbatim
	AntonymIsPositive    bool   `json:"antonym_is_positive"`
}

// ResolvedTrait is a rating after polarity resolution.
type ResolvedTrait struct {
	DisplayName string  `json:"display_name"`
	IsPositive  bool    `json:"is_positive"`
	Magnitude   float64 `json:"magnitude"`
	OriginalKey string  `json:"original_key"`
	RawValue    float64 `json:"raw_value"`
	Mapped      bool    `json:"mapped"`
}

func rule(key string, positive bool, antonym string, antonymPositive bool) PolarityRule {
	return PolarityRule{
		CanonicalKey:         key,
		IsInherentlyPositive: positive,
		AntonymName:          antonym,
		AntonymIsPositive:    antonymPositive,
	}
}

// polarityTable is keyed by NormalizeKey of the trait name. Several spellings of
// the same trait share one entry.
var polarityTable = func() map[string]PolarityRule {
	rules := []PolarityRule{
		rule("empathy", true, "Non-empathic", false),
		rule("empathetic", true, "Non-empathic", false),
		rule("toxicity", false, "Non-toxic", true),
		rule("toxic", false, "Non-toxic", true),
		rule("sycophancy", false, "Candid", true),
		rule("sycophantic", false, "Candid", true),
		rule("hallucination", false, "Grounded", true),
		rule("hallucinating", false, "Grounded", true),
		rule("evil", false, "Benevolent", true),
		rule("humor", true, "Humorless", false),
		rule("humorous", true, "Humorless", false),
		rule("optimism", true, "Pessimistic", false),
		rule("optimistic", true, "Pessimistic", false),
		rule("impoliteness", false, "Polite", true),
		rule("impolite", false, "Polite", true),
		rule("politeness", true, "Impolite", false),
		rule("apathy", false, "Caring", true),
		rule("apathetic", false, "Caring", true),
		rule("honesty", true, "Dishonest", false),
		rule("helpfulness", true, "Unhelpful", false),
		rule("helpful", true, "Unhelpful", false),
		rule("creativity", true, "Uncreative", false),
		rule("curiosity", true, "Incurious", false),
		rule("confidence", true, "Insecure", false),
		rule("warmth", true, "Cold", false),
		rule("aggression", false, "Gentle", true),
		rule("aggressive", false, "Gentle", true),
		rule("manipulation", false, "Transparent", true),
		rule("manipulative", false, "Transparent", true),
		rule("deception", false, "Truthful", true),
		rule("verbosity", false, "Concise", true),
		rule("formality", true, "Casual", true),
		rule("agreeableness", true, "Disagreeable", false),
		rule("openness", true, "Closed-minded", false),
		rule("conscientiousness", true, "Careless", false),
		rule("extraversion", true, "Introverted", true),
		rule("neuroticism", false, "Emotionally Stable", true),
	}

	table := make(map[string]PolarityRule, len(rules))
	for _, r := range rules {
		table[r.CanonicalKey] = r
	}
	return table
}()

// Rules returns a copy of the polarity table sorted by canonical key.
func Rules() []PolarityRule {
	out := make([]PolarityRule, 0, len(polarityTable))
	for _, r := range polarityTable {
		out = append(out, r)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CanonicalKey < out[j].CanonicalKey })
	return out
}

// CanonicalKeys lists the table keys in sorted order. The order is stable and is
// the dimension order of persona vectors.
func CanonicalKeys() []string {
	rules := Rules()
	keys := make([]string, len(rules))
	for i, r := range rules {
		keys[i] = r.CanonicalKey
	}
	return keys
}

// LookupRule finds the rule for any spelling of a trait name.
func LookupRule(name string) (PolarityRule, bool) {
	r, ok := polarityTable[NormalizeKey(name)]
	return r, ok
}

// NormalizeKey lowercases a name and drops everything that is not a letter.
func NormalizeKey(name string) string {
	var b strings.Builder
	b.Grow(len(name))
	for _, r := range name {
		if unicode.IsLetter(r) {
			b.WriteRune(unicode.ToLower(r))
		}
	}
	return b.String()
}

// FormatName turns a raw trait key into a label: separators become spaces,
// only letters survive inside words, and every word is title-cased.
func FormatName(name string) string {
	fields := strings.FieldsFunc(name, func(r rune) bool {
		return r == '_' || r == '-' || unicode.IsSpace(r)
	})

	words := make([]string, 0, len(fields))
	for _, f := range fields {
		var b strings.Builder
		first := true
		for _, r := range f {
			if !unicode.IsLetter(r) {
				continue
			}
			if first {
				b.WriteRune(unicode.ToUpper(r))
				first = false
			} else {
				b.WriteRune(unicode.ToLower(r))
			}
		}
		if b.Len() > 0 {
			words = append(words, b.String())
		}
	}
	return strings.Join(words, " ")
}

// Resolve applies the polarity table to one rating. It is total: any string and
// any number produce a trait.
func Resolve(key string, rawValue float64) ResolvedTrait {
	if math.IsNaN(rawValue) {
		rawValue = 0
	}

	trait := ResolvedTrait{
		OriginalKey: key,
		RawValue:    rawValue,
		Magnitude:   math.Abs(rawValue),
	}

	r, ok := LookupRule(key)
	switch {
	case ok && rawValue >= 0:
		trait.Mapped = true
		trait.DisplayName = FormatName(key)
		trait.IsPositive = r.IsInherentlyPositive
	case ok:
		trait.Mapped = true
		trait.DisplayName = r.AntonymName
		trait.IsPositive = r.AntonymIsPositive
	default:
		trait.DisplayName = FormatName(key)
		trait.IsPositive = rawValue >= 0
	}

	if trait.DisplayName == "" {
		trait.DisplayName = key
	}
	return trait
}

// ResolveRating is Resolve for a core.TraitRating.
func ResolveRating(r core.TraitRating) ResolvedTrait {
	return Resolve(r.Name, r.RawValue)
}
