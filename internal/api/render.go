package api

import (
	"encoding/json"

	"github.com/tidwall/gjson"

	"github.com/personachat/personachat/internal/core"
	"github.com/personachat/personachat/internal/radial"
)

type renderEnvelope struct {
	ID      string          `json:"id"`
	Options *radial.Options `json:"options"`
}

// splitRenderEnvelope accepts either {"id", "options", "data"} or a bare
// data document, and returns the envelope plus the data bytes. Only an object
// under "data" marks an envelope; a numeric "data" is a trait.
func splitRenderEnvelope(raw []byte) (renderEnvelope, []byte, error) {
	const op = "api.RenderPersona"
	var env renderEnvelope
	if !gjson.ValidBytes(raw) {
		return env, nil, core.Ef(core.KindValidation, op, "%w: invalid JSON", core.ErrInvalidInput)
	}
	data := gjson.GetBytes(raw, "data")
	if !data.IsObject() {
		return env, raw, nil
	}
	if err := json.Unmarshal(raw, &env); err != nil {
		return env, nil, core.Ef(core.KindValidation, op, "%w: options", core.ErrInvalidInput)
	}
	return env, []byte(data.Raw), nil
}
