package persona

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/personachat/personachat/internal/core"
)

// Input is either a FlatInput or a CategorizedInput.
type Input interface {
	isInput()
}

// FlatInput is an ordered trait map as returned by the rating service.
type FlatInput struct {
	Ratings []core.TraitRating
}

// CategorizedInput is a caller-built set of categories.
type CategorizedInput struct {
	Categories []CategorySpec `json:"categories"`
}

func (FlatInput) isInput()        {}
func (CategorizedInput) isInput() {}

// CategorySpec is one caller-supplied category. Unset fields get defaults in Group.
type CategorySpec struct {
	Name       string     `json:"name"`
	Color      string     `json:"color,omitempty"`
	StartAngle *float64   `json:"startAngle,omitempty"`
	EndAngle   *float64   `json:"endAngle,omitempty"`
	Scale      *Scale     `json:"scale,omitempty"`
	Items      []ItemSpec `json:"items"`
}

// ItemSpec is one trait inside a CategorySpec.
type ItemSpec struct {
	Name  string  `json:"name"`
	Value float64 `json:"value"`
}

// DecodeInput parses a JSON document into an Input. A top-level "categories"
// field selects CategorizedInput; anything else is read as a flat
// name -> number map in document order. Non-numeric entries are skipped.
func DecodeInput(data []byte) (Input, error) {
	if !gjson.ValidBytes(data) {
		return nil, core.E(core.KindValidation, "persona.DecodeInput", core.ErrInvalidInput)
	}

	root := gjson.ParseBytes(data)
	if !root.IsObject() {
		return nil, core.E(core.KindValidation, "persona.DecodeInput", core.ErrMissingTraitMap)
	}

	if root.Get("categories").Exists() {
		var in CategorizedInput
		if err := json.Unmarshal(data, &in); err != nil {
			return nil, core.Ef(core.KindValidation, "persona.DecodeInput", "decode categories: %w", err)
		}
		return in, nil
	}

	return FlatInput{Ratings: RatingsFromJSON(root)}, nil
}

// RatingsFromJSON reads an object of trait -> number pairs in document order.
// Numeric strings are accepted; other values are skipped.
func RatingsFromJSON(obj gjson.Result) []core.TraitRating {
	if !obj.IsObject() {
		return nil
	}

	var ratings []core.TraitRating
	obj.ForEach(func(key, value gjson.Result) bool {
		switch value.Type {
		case gjson.Number:
			ratings = append(ratings, core.TraitRating{Name: key.String(), RawValue: value.Float()})
		case gjson.String:
			if n := gjson.Parse(value.String()); n.Type == gjson.Number {
				ratings = append(ratings, core.TraitRating{Name: key.String(), RawValue: n.Float()})
			}
		}
		return true
	})
	return ratings
}
