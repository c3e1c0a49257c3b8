// Package schemavalidation validates entropy-qa JSON payloads (the
// HealthMonitor report and raw-data surfaces) against their JSON Schema
// documents. internal/control does not call it; the payloads are checked
// by this package's own tests.
package schemavalidation

import (
	"bytes"
	"embed"
	"encoding/json"
	"fmt"
	"sync"

	"github.com/santhosh-tekuri/jsonschema/v5"
)

//go:embed schema/*.json
var schemaFS embed.FS

// Name identifies one of the embedded schemas.
type Name string

const (
	// Report validates HealthMonitor.ReportJSON's output.
	Report Name = "entropy-qa-report-v1.schema.json"
	// RawData validates HealthMonitor.RawDataJSON's output.
	RawData Name = "entropy-qa-rawdata-v1.schema.json"
)

var (
	once       sync.Once
	compiled   map[Name]*jsonschema.Schema
	compileErr error
)

func compileAll() (map[Name]*jsonschema.Schema, error) {
	compiler := jsonschema.NewCompiler()
	for _, name := range []Name{Report, RawData} {
		data, err := schemaFS.ReadFile("schema/" + string(name))
		if err != nil {
			return nil, fmt.Errorf("read schema %s: %w", name, err)
		}
		if err := compiler.AddResource(string(name), bytes.NewReader(data)); err != nil {
			return nil, fmt.Errorf("add schema resource %s: %w", name, err)
		}
	}

	out := make(map[Name]*jsonschema.Schema, 2)
	for _, name := range []Name{Report, RawData} {
		schema, err := compiler.Compile(string(name))
		if err != nil {
			return nil, fmt.Errorf("compile schema %s: %w", name, err)
		}
		out[name] = schema
	}
	return out, nil
}

func schemas() (map[Name]*jsonschema.Schema, error) {
	once.Do(func() {
		compiled, compileErr = compileAll()
	})
	return compiled, compileErr
}

// Validate checks that data (already-marshalled JSON) conforms to the
// named schema.
func Validate(name Name, data []byte) error {
	all, err := schemas()
	if err != nil {
		return fmt.Errorf("compile schemas: %w", err)
	}

	schema, ok := all[name]
	if !ok {
		return fmt.Errorf("unknown schema %q", name)
	}

	var instance any
	if err := json.Unmarshal(data, &instance); err != nil {
		return fmt.Errorf("unmarshal instance: %w", err)
	}

	if err := schema.Validate(instance); err != nil {
		return fmt.Errorf("schema validation failed: %w", err)
	}
	return nil
}
