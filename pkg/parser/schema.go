package parser

import (
	"bytes"
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"

	"github.com/cipolicy/gh-ci/pkg/logger"
	"github.com/santhosh-tekuri/jsonschema/v6"
)

var schemaLog = logger.New("parser:schema")

//go:embed schemas/workflow_schema.json
var workflowSchemaJSON []byte

const workflowSchemaURL = "https://github.com/cipolicy/gh-ci/schemas/workflow_schema.json"

var (
	compiledSchema     *jsonschema.Schema
	compiledSchemaErr  error
	compiledSchemaOnce sync.Once
)

// SchemaViolation is one schema failure at a JSON path such as
// "/jobs/build/steps/0".
type SchemaViolation struct {
	Path    string
	Message string
}

// SchemaError lists every schema violation of a document.
type SchemaError struct {
	Violations []SchemaViolation
}

func (e *SchemaError) Error() string {
	var b strings.Builder
	b.WriteString("workflow does not match the schema")
	for _, v := range e.Violations {
		path := v.Path
		if path == "" {
			path = "/"
		}
		fmt.Fprintf(&b, "\n  %s: %s", path, v.Message)
	}
	return b.String()
}

func workflowSchema() (*jsonschema.Schema, error) {
	compiledSchemaOnce.Do(func() {
		schemaLog.Print("Compiling embedded workflow schema")
		doc, err := jsonschema.UnmarshalJSON(bytes.NewReader(workflowSchemaJSON))
		if err != nil {
			compiledSchemaErr = fmt.Errorf("failed to parse workflow schema: %w", err)
			return
		}
		compiler := jsonschema.NewCompiler()
		if err := compiler.AddResource(workflowSchemaURL, doc); err != nil {
			compiledSchemaErr = fmt.Errorf("failed to add workflow schema: %w", err)
			return
		}
		compiledSchema, compiledSchemaErr = compiler.Compile(workflowSchemaURL)
	})
	return compiledSchema, compiledSchemaErr
}

// ValidateWorkflowSchema validates a parsed workflow document. It returns a
// *SchemaError describing every violation, or nil.
func ValidateWorkflowSchema(doc any) error {
	schema, err := workflowSchema()
	if err != nil {
		return err
	}

	// Round-trip through JSON so numbers and nested maps take the shapes the
	// validator expects.
	data, err := json.Marshal(ToPlain(doc))
	if err != nil {
		return fmt.Errorf("failed to convert workflow to JSON: %w", err)
	}
	instance, err := jsonschema.UnmarshalJSON(bytes.NewReader(data))
	if err != nil {
		return fmt.Errorf("failed to decode workflow JSON: %w", err)
	}

	err = schema.Validate(instance)
	if err == nil {
		return nil
	}
	var validationErr *jsonschema.ValidationError
	if !errors.As(err, &validationErr) {
		return fmt.Errorf("schema validation failed: %w", err)
	}

	violations := collectViolations(validationErr)
	schemaLog.Printf("Schema validation found %d violations", len(violations))
	return &SchemaError{Violations: violations}
}

// collectViolations flattens the cause tree into its leaves.
func collectViolations(root *jsonschema.ValidationError) []SchemaViolation {
	var out []SchemaViolation
	seen := make(map[SchemaViolation]bool)
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			v := SchemaViolation{
				Path:    convertInstanceLocationToJSONPath(e.InstanceLocation),
				Message: leafMessage(e.Error()),
			}
			if !seen[v] {
				seen[v] = true
				out = append(out, v)
			}
			return
		}
		for _, cause := range e.Causes {
			walk(cause)
		}
	}
	walk(root)
	return out
}

// leafMessage strips the "at '<path>': " prefix the validator puts in front
// of leaf messages.
func leafMessage(msg string) string {
	msg = strings.TrimSpace(msg)
	if i := strings.LastIndex(msg, "\n"); i >= 0 {
		msg = strings.TrimSpace(msg[i+1:])
	}
	msg = strings.TrimPrefix(msg, "- ")
	if strings.HasPrefix(msg, "at '") {
		if _, rest, ok := strings.Cut(msg, "': "); ok {
			return rest
		}
	}
	return msg
}
