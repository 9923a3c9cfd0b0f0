package continuation

import (
	"fmt"
	"strings"

	"github.com/xeipuuv/gojsonschema"
)

const rangeSchema = `{
	"type": "object",
	"required": ["min", "max"],
	"properties": {
		"min": {"type": "string"},
		"max": {"type": "string"}
	}
}`

const compositeItemSchema = `{
	"type": "object",
	"required": ["token", "range"],
	"properties": {
		"token": {"type": ["string", "null"]},
		"range": ` + rangeSchema + `
	}
}`

const envelopeSchemaText = `{
	"type": "object",
	"required": ["version", "fingerprint", "source"],
	"properties": {
		"version": {"type": "integer", "minimum": 1},
		"fingerprint": {"type": "string"},
		"source": {"type": ["object", "array"]}
	},
	"additionalProperties": false
}`

const compositeSchemaText = `{
	"type": "array",
	"minItems": 1,
	"items": ` + compositeItemSchema + `
}`

const orderBySchemaText = `{
	"type": "array",
	"minItems": 1,
	"items": {
		"type": "object",
		"required": ["compositeToken", "orderByItems", "rid", "skipCount", "filter"],
		"properties": {
			"compositeToken": ` + compositeItemSchema + `,
			"orderByItems": {"type": "array", "minItems": 1, "items": {"type": "object"}},
			"rid": {"type": "string"},
			"skipCount": {"type": "integer", "minimum": 0},
			"filter": {"type": "string"}
		}
	}
}`

const topSchemaText = `{
	"type": "object",
	"required": ["limit", "sourceToken"],
	"properties": {
		"limit": {"type": "integer", "minimum": 0}
	}
}`

const offsetLimitSchemaText = `{
	"type": "object",
	"required": ["offset", "limit", "sourceToken"],
	"properties": {
		"offset": {"type": "integer", "minimum": 0},
		"limit": {"type": "integer", "minimum": 0}
	}
}`

const distinctSchemaText = `{
	"type": "object",
	"required": ["lastHash", "sourceToken"],
	"properties": {
		"lastHash": {"type": "string", "pattern": "^([0-9a-f]{48})?$"}
	}
}`

var (
	envelopeSchema    = mustSchema(envelopeSchemaText)
	compositeSchema   = mustSchema(compositeSchemaText)
	orderBySchema     = mustSchema(orderBySchemaText)
	topSchema         = mustSchema(topSchemaText)
	offsetLimitSchema = mustSchema(offsetLimitSchemaText)
	distinctSchema    = mustSchema(distinctSchemaText)
)

func mustSchema(text string) *gojsonschema.Schema {
	schema, err := gojsonschema.NewSchema(gojsonschema.NewStringLoader(text))
	if err != nil {
		panic(fmt.Sprintf("continuation: invalid schema: %v", err))
	}
	return schema
}

// validate checks raw against schema and describes every violation.
func validate(schema *gojsonschema.Schema, raw []byte) error {
	result, err := schema.Validate(gojsonschema.NewBytesLoader(raw))
	if err != nil {
		return fmt.Errorf("malformed JSON: %v", err)
	}
	if result.Valid() {
		return nil
	}
	var errs []string
	for _, desc := range result.Errors() {
		errs = append(errs, desc.String())
	}
	return fmt.Errorf("%s", strings.Join(errs, "; "))
}
