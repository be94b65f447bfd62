package testutil

import (
	"strings"

	"github.com/personachat/personachat/internal/core"
)

// LongPrompt is a system prompt comfortably above the default minimum length.
var LongPrompt = "You are a patient tutor who explains things step by step. " + strings.Repeat("Ask one clarifying question before answering. ", 5)

// SampleRatings is a typical rating-service vector.
var SampleRatings = []core.TraitRating{
	{Name: "empathy", RawValue: 1.4},
	{Name: "toxicity", RawValue: -1.8},
	{Name: "humor", RawValue: 0.6},
	{Name: "sycophancy", RawValue: 0.9},
}

// SampleRatingBody is a rating-service success body carrying SampleRatings.
const SampleRatingBody = `{"persona_vector_ratings":{"empathy":1.4,"toxicity":-1.8,"humor":0.6,"sycophancy":0.9}}`

// SampleCategorizedInput is a chart input with explicit categories.
const SampleCategorizedInput = `{
  "categories": [
    {"name": "Tone", "scale": {"min": 0, "max": 10}, "items": [
      {"name": "Warmth", "value": 7},
      {"name": "Formality", "value": 3}
    ]},
    {"name": "Safety", "scale": {"min": 0, "max": 1}, "items": [
      {"name": "Refusals", "value": 0.2}
    ]}
  ]
}`
