package graphql

import (
	"encoding/json"

	"github.com/xeipuuv/gojsonschema"

	"github.com/kili-technology/kili-python-sdk-sub002/errors"
)

// introspectionQuery asks the server for its full type system. Descriptions
// are omitted: the result is only used for local validation, not tooling.
const introspectionQuery = `
query IntrospectionQuery {
  __schema {
    queryType { name }
    mutationType { name }
    subscriptionType { name }
    types {
      ...FullType
    }
  }
}
fragment FullType on __Type {
  kind
  name
  fields(includeDeprecated: true) {
    name
    args { ...InputValue }
    type { ...TypeRef }
  }
  inputFields { ...InputValue }
  interfaces { ...TypeRef }
  enumValues(includeDeprecated: true) { name }
  possibleTypes { ...TypeRef }
}
fragment InputValue on __InputValue {
  name
  type { ...TypeRef }
  defaultValue
}
fragment TypeRef on __Type {
  kind
  name
  ofType {
    kind
    name
    ofType {
      kind
      name
      ofType {
        kind
        name
        ofType {
          kind
          name
          ofType {
            kind
            name
            ofType {
              kind
              name
              ofType {
                kind
                name
              }
            }
          }
        }
      }
    }
  }
}
`

// introspectionData is the top-level payload of an introspection response.
type introspectionData struct {
	Schema introspectionSchema `json:"__schema"`
}

type introspectionSchema struct {
	QueryType        *typeRef   `json:"queryType"`
	MutationType     *typeRef   `json:"mutationType"`
	SubscriptionType *typeRef   `json:"subscriptionType"`
	Types            []fullType `json:"types"`
}

type fullType struct {
	Kind          string       `json:"kind"`
	Name          string       `json:"name"`
	Fields        []fieldDef   `json:"fields"`
	InputFields   []inputValue `json:"inputFields"`
	Interfaces    []typeRef    `json:"interfaces"`
	EnumValues    []enumValue  `json:"enumValues"`
	PossibleTypes []typeRef    `json:"possibleTypes"`
}

type fieldDef struct {
	Name string       `json:"name"`
	Args []inputValue `json:"args"`
	Type typeRef      `json:"type"`
}

type inputValue struct {
	Name         string  `json:"name"`
	Type         typeRef `json:"type"`
	DefaultValue *string `json:"defaultValue"`
}

type typeRef struct {
	Kind   string   `json:"kind"`
	Name   *string  `json:"name"`
	OfType *typeRef `json:"ofType"`
}

type enumValue struct {
	Name string `json:"name"`
}

// introspectionEnvelopeSchema is the minimal JSON shape an introspection
// payload must have before the SDK converts it and trusts the result enough
// to write it into the schema cache.
const introspectionEnvelopeSchema = `{
  "type": "object",
  "required": ["__schema"],
  "properties": {
    "__schema": {
      "type": "object",
      "required": ["queryType", "types"],
      "properties": {
        "queryType": {
          "type": "object",
          "required": ["name"],
          "properties": {"name": {"type": "string"}}
        },
        "types": {
          "type": "array",
          "minItems": 1,
          "items": {
            "type": "object",
            "required": ["kind"],
            "properties": {"kind": {"type": "string"}}
          }
        }
      }
    }
  }
}`

// decodeIntrospection validates the envelope shape of a raw introspection
// data payload and decodes it.
func decodeIntrospection(raw json.RawMessage) (*introspectionData, error) {
	result, err := gojsonschema.Validate(
		gojsonschema.NewStringLoader(introspectionEnvelopeSchema),
		gojsonschema.NewBytesLoader(raw),
	)
	if err != nil {
		return nil, errors.WrapInvalid(err, "Client", "decodeIntrospection", "envelope validation")
	}
	if !result.Valid() {
		return nil, errors.WrapInvalid(errors.ErrSchemaUnusable, "Client", "decodeIntrospection",
			"introspection payload does not look like a schema document")
	}

	var data introspectionData
	if err := json.Unmarshal(raw, &data); err != nil {
		return nil, errors.WrapInvalid(err, "Client", "decodeIntrospection", "decode introspection payload")
	}
	return &data, nil
}
