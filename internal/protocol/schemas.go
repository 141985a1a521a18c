package protocol

import (
	"encoding/json"
	"fmt"
	"strings"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

const helloSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "protocol_version"],
  "properties": {
    "type": {"const": "HELLO"},
    "protocol_version": {"type": "string", "minLength": 1},
    "client_name": {"type": "string", "maxLength": 64},
    "capabilities": {
      "type": "object",
      "properties": {
        "max_queue": {"type": "integer", "minimum": 0}
      }
    }
  }
}`

const editSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["type", "protocol_version", "seq", "ops"],
  "properties": {
    "type": {"const": "EDIT"},
    "protocol_version": {"type": "string", "minLength": 1},
    "seq": {"type": "integer", "minimum": 0},
    "ops": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["op", "pos"],
        "additionalProperties": false,
        "properties": {
          "op": {"enum": ["SET", "CLEAR"]},
          "pos": {
            "type": "array",
            "minItems": 3,
            "maxItems": 3,
            "items": {"type": "integer", "minimum": -2147483648, "maximum": 2147483647}
          },
          "color": {"type": "integer", "minimum": 0, "maximum": 4294967295}
        }
      }
    }
  }
}`

var (
	schemasOnce sync.Once
	schemasErr  error
	schemaHello *jsonschema.Schema
	schemaEdit  *jsonschema.Schema
)

func loadSchemas() error {
	schemasOnce.Do(func() {
		c := jsonschema.NewCompiler()
		c.Draft = jsonschema.Draft2020
		if err := c.AddResource("hello.schema.json", strings.NewReader(helloSchema)); err != nil {
			schemasErr = err
			return
		}
		if err := c.AddResource("edit.schema.json", strings.NewReader(editSchema)); err != nil {
			schemasErr = err
			return
		}
		if schemaHello, schemasErr = c.Compile("hello.schema.json"); schemasErr != nil {
			return
		}
		schemaEdit, schemasErr = c.Compile("edit.schema.json")
	})
	return schemasErr
}

func validate(s func() *jsonschema.Schema, name string, raw []byte) error {
	if err := loadSchemas(); err != nil {
		return fmt.Errorf("compile schemas: %w", err)
	}
	var v any
	if err := json.Unmarshal(raw, &v); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	if err := s().Validate(v); err != nil {
		return fmt.Errorf("%s: %w", name, err)
	}
	return nil
}

// ValidateHello checks a raw HELLO message against its JSON schema.
func ValidateHello(raw []byte) error {
	return validate(func() *jsonschema.Schema { return schemaHello }, "hello", raw)
}

// ValidateEdit checks a raw EDIT message against its JSON schema. Range
// checks against the volume radius happen later, in the volume.
func ValidateEdit(raw []byte) error {
	return validate(func() *jsonschema.Schema { return schemaEdit }, "edit", raw)
}
