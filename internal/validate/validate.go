package validate

import (
	"bytes"
	"encoding/json"
	"fmt"

	schemapkg "github.com/conda-ops/conda-ops/schema"

	"github.com/santhosh-tekuri/jsonschema/v5"
	sigsyaml "sigs.k8s.io/yaml"
)

// ValidateAgainstSchema compiles the given schema bytes and runs it against
// the JSON in data. The name is only used to identify the schema in errors.
func ValidateAgainstSchema(name string, schemaBytes, data []byte) error {
	comp := jsonschema.NewCompiler()
	if err := comp.AddResource(name, bytes.NewReader(schemaBytes)); err != nil {
		return fmt.Errorf("loading schema %q: %w", name, err)
	}
	sch, err := comp.Compile(name)
	if err != nil {
		return fmt.Errorf("compiling schema %q: %w", name, err)
	}

	var doc interface{}
	if err := json.Unmarshal(data, &doc); err != nil {
		return fmt.Errorf("invalid JSON for %q: %w", name, err)
	}
	if err := sch.Validate(doc); err != nil {
		return fmt.Errorf("schema validation against %q failed: %w", name, err)
	}
	return nil
}

// ValidateRequirementsYAML converts a requirements file to JSON and runs the
// requirements schema against it.
func ValidateRequirementsYAML(data []byte) error {
	jsonData, err := sigsyaml.YAMLToJSON(data)
	if err != nil {
		return fmt.Errorf("converting requirements YAML to JSON: %w", err)
	}
	return ValidateAgainstSchema("requirements.schema.json", schemapkg.RequirementsSchema, jsonData)
}
