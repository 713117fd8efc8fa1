package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const payloadSchemaURL = "protocol-payload.json"

const payloadSchemaJSON = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["protocol_name", "steps"],
  "properties": {
    "protocol_name": {"type": "string", "minLength": 1},
    "category": {"type": "string"},
    "severity_level": {"type": "string"},
    "steps": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["id", "title", "description"],
        "properties": {
          "id": {"type": "integer", "minimum": 1},
          "title": {"type": "string", "minLength": 1},
          "description": {"type": "string"},
          "is_mandatory": {"type": "boolean"},
          "responsible_roles": {"type": "array", "items": {"type": "string"}},
          "deadline": {"type": "string"}
        }
      }
    }
  }
}`

// payload is the structured block the model embeds in its answer.
type payload struct {
	ProtocolName  string        `json:"protocol_name"`
	Category      string        `json:"category"`
	SeverityLevel string        `json:"severity_level"`
	Steps         []payloadStep `json:"steps"`
}

type payloadStep struct {
	ID               int      `json:"id"`
	Title            string   `json:"title"`
	Description      string   `json:"description"`
	IsMandatory      *bool    `json:"is_mandatory"`
	ResponsibleRoles []string `json:"responsible_roles"`
	Deadline         string   `json:"deadline"`
}

var payloadSchema = sync.OnceValues(compilePayloadSchema)

func compilePayloadSchema() (*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	compiler.Draft = jsonschema.Draft2020
	if err := compiler.AddResource(payloadSchemaURL, strings.NewReader(payloadSchemaJSON)); err != nil {
		return nil, fmt.Errorf("add schema resource: %w", err)
	}
	schema, err := compiler.Compile(payloadSchemaURL)
	if err != nil {
		return nil, fmt.Errorf("compile schema: %w", err)
	}
	return schema, nil
}

// decodePayload validates raw against the payload schema before decoding it.
func decodePayload(raw []byte) (*payload, error) {
	schema, err := payloadSchema()
	if err != nil {
		return nil, err
	}
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	if err := schema.Validate(doc); err != nil {
		return nil, fmt.Errorf("validate payload: %w", err)
	}
	var p payload
	if err := json.Unmarshal(raw, &p); err != nil {
		return nil, fmt.Errorf("decode payload: %w", err)
	}
	return &p, nil
}
