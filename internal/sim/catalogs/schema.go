package catalogs

import (
	"encoding/json"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

var (
	goodsSchema = jsonschema.MustCompileString("goods.schema.json", `{
	  "$schema": "http://json-schema.org/draft-07/schema#",
	  "type": "array",
	  "items": {
	    "type": "object",
	    "required": ["id"],
	    "additionalProperties": false,
	    "properties": {
	      "id": {"type": "string", "minLength": 1},
	      "color": {"type": "string"}
	    }
	  }
	}`)

	buildingsSchema = jsonschema.MustCompileString("buildings.schema.json", `{
	  "$schema": "http://json-schema.org/draft-07/schema#",
	  "definitions": {
	    "flows": {
	      "type": "array",
	      "items": {
	        "type": "object",
	        "required": ["good", "count"],
	        "additionalProperties": false,
	        "properties": {
	          "good": {"type": "string", "minLength": 1},
	          "count": {"type": "number", "minimum": 0}
	        }
	      }
	    }
	  },
	  "type": "array",
	  "items": {
	    "type": "object",
	    "required": ["id", "inputs", "outputs"],
	    "additionalProperties": false,
	    "properties": {
	      "id": {"type": "string", "minLength": 1},
	      "color": {"type": "string"},
	      "inputs": {"$ref": "#/definitions/flows"},
	      "outputs": {"$ref": "#/definitions/flows"},
	      "worker_demand": {"type": "integer", "minimum": 0},
	      "worker_wage": {"type": "number"}
	    }
	  }
	}`)
)

func validate(s *jsonschema.Schema, raw []byte) error {
	var doc any
	if err := json.Unmarshal(raw, &doc); err != nil {
		return err
	}
	return s.Validate(doc)
}
