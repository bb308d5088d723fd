package cli

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/cipolicy/gh-ci/pkg/console"
	"github.com/cipolicy/gh-ci/pkg/logger"
	"github.com/cipolicy/gh-ci/pkg/parser"
	"github.com/cipolicy/gh-ci/pkg/workflow"
)

var loaderLog = logger.New("cli:workflow_loader")

// errReported means the failure was already printed as positioned
// diagnostics.
var errReported = errors.New("workflow has errors")

// loadWorkflow returns the built-in policy when input is empty, else the
// policy decoded from the input file. Decode failures are printed to w as
// positioned diagnostics.
func loadWorkflow(w io.Writer, input string) (*workflow.Workflow, error) {
	if input == "" {
		loaderLog.Print("Using built-in policy")
		return workflow.DefaultPolicy(), nil
	}

	loaderLog.Printf("Loading workflow from %s", input)
	content, err := os.ReadFile(input)
	if err != nil {
		return nil, fmt.Errorf("failed to read workflow file %s: %w", input, err)
	}
	wf, err := workflow.ParseWorkflow(content)
	if err != nil {
		if reportWorkflowError(w, input, content, err) {
			return nil, fmt.Errorf("%s: %w", console.ToRelativePath(input), errReported)
		}
		return nil, fmt.Errorf("%s: %w", input, err)
	}
	printWorkflowWarnings(w, wf)
	return wf, nil
}

// printWorkflowWarnings prints the non-fatal findings of wf.
func printWorkflowWarnings(w io.Writer, wf *workflow.Workflow) {
	for _, warning := range wf.Warnings() {
		fmt.Fprintln(w, console.FormatWarningMessage(fmt.Sprintf("%s: %s", warning.Field, warning.Reason)))
	}
}

// reportWorkflowError prints err as CompilerErrors positioned in content.
// It reports false when err carries no positional detail.
func reportWorkflowError(w io.Writer, path string, content []byte, err error) bool {
	lines := strings.Split(string(content), "\n")
	emit := func(line, column int, message string) {
		fmt.Fprint(w, console.FormatError(console.CompilerError{
			Position: console.ErrorPosition{File: path, Line: line, Column: column},
			Type:     "error",
			Message:  message,
			Context:  contextLines(lines, line),
		}))
	}

	var syntaxErr *parser.YAMLSyntaxError
	if errors.As(err, &syntaxErr) {
		emit(syntaxErr.Line, syntaxErr.Column, syntaxErr.Message)
		return true
	}

	var schemaErr *parser.SchemaError
	if errors.As(err, &schemaErr) {
		for _, v := range schemaErr.Violations {
			loc := parser.LocateJSONPathInYAML(content, v.Path)
			message := v.Message
			if v.Path != "" {
				message = fmt.Sprintf("%s: %s", v.Path, v.Message)
			}
			emit(loc.Line, loc.Column, message)
		}
		return len(schemaErr.Violations) > 0
	}

	violations := workflow.ValidationErrors(err)
	for _, v := range violations {
		loc := parser.LocateJSONPathInYAML(content, fieldJSONPath(v.Field))
		emit(loc.Line, loc.Column, v.Error())
	}
	return len(violations) > 0
}

// fieldJSONPath maps a validation field such as "jobs.build.steps[2].if"
// to the closest JSON path present in the source document. Step indices are
// dropped because decoded steps exclude the generated ones.
func fieldJSONPath(field string) string {
	if rest, ok := strings.CutPrefix(field, "jobs."); ok {
		id, _, _ := strings.Cut(rest, ".")
		return "/jobs/" + id
	}
	head, _, _ := strings.Cut(field, ".")
	head, _, _ = strings.Cut(head, "[")
	if head == "" {
		return ""
	}
	return "/" + head
}
