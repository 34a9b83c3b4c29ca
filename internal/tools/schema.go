package tools

import (
	"encoding/json"

	"github.com/invopop/jsonschema"
)

// reflectSchema generates a JSON Schema for a tool's argument struct, so
// the schema the model sees and the struct Build decodes into cannot
// drift apart. Field descriptions and constraints come from jsonschema
// struct tags.
func reflectSchema(v any) json.RawMessage {
	reflector := jsonschema.Reflector{
		Anonymous:      true,
		DoNotReference: true,
		// The model gets a plain object schema, not a $defs forest.
		ExpandedStruct: true,
	}
	schema := reflector.Reflect(v)
	schema.Version = ""
	out, err := json.Marshal(schema)
	if err != nil {
		panic("tools: reflecting schema: " + err.Error())
	}
	return out
}
