package ingest

// TableDefinitionSchema is the JSON Schema every table definition file must satisfy.
const TableDefinitionSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "required": ["name", "columns"],
  "properties": {
    "name": {"type": "string", "pattern": "^[A-Za-z0-9]+_[A-Za-z0-9_]+$"},
    "time_field": {"type": "string", "minLength": 1},
    "columns": {
      "type": "array",
      "minItems": 1,
      "items": {
        "type": "object",
        "required": ["name", "type"],
        "properties": {
          "name": {"type": "string", "minLength": 1},
          "type": {"enum": ["text", "integer", "real", "boolean", "timestamp"]}
        },
        "additionalProperties": false
      }
    },
    "indexes": {
      "type": "array",
      "items": {
        "type": "object",
        "required": ["fields"],
        "properties": {
          "fields": {"type": "array", "minItems": 1, "items": {"type": "string"}}
        },
        "additionalProperties": false
      }
    }
  },
  "additionalProperties": false
}`
