package memory

import "github.com/santhosh-tekuri/jsonschema/v5"

// recordSchemaJSON describes the on-disk record format. Unknown fields are
// allowed so newer writers stay readable by older builds.
const recordSchemaJSON = `{
	"type": "object",
	"required": ["messages"],
	"properties": {
		"messages": {
			"type": "array",
			"items": {
				"type": "object",
				"required": ["role", "content"],
				"properties": {
					"role": {"type": "string"},
					"content": {"type": "string"}
				}
			}
		}
	}
}`

var recordSchema = jsonschema.MustCompileString("memory_record.schema.json", recordSchemaJSON)
