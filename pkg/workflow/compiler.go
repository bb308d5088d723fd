package workflow

import (
	"bytes"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/cipolicy/gh-ci/pkg/console"
	"github.com/cipolicy/gh-ci/pkg/constants"
	"github.com/cipolicy/gh-ci/pkg/logger"
	"github.com/cipolicy/gh-ci/pkg/parser"
)

var compilerLog = logger.New("workflow:compiler")

// Names of the steps the compiler adds around the declared ones. The parser
// recognizes them when reading a compiled file back.
const (
	ToolchainStepName = "Install toolchain"
	VerifyStepName    = "Verify working tree is unchanged"
	VerifyCommand     = "git diff --exit-code"
)

// Compiler renders workflows as GitHub Actions YAML.
type Compiler struct {
	verbose bool
	quiet   bool
}

// NewCompiler creates a compiler with default settings.
func NewCompiler() *Compiler {
	return &Compiler{}
}

// SetVerbose enables progress messages on stderr.
func (c *Compiler) SetVerbose(verbose bool) {
	c.verbose = verbose
}

// SetQuiet suppresses the success message printed by CompileToFile.
func (c *Compiler) SetQuiet(quiet bool) {
	c.quiet = quiet
}

// Compile validates w and renders it. The output is deterministic: jobs and
// steps keep their declared order and map keys are sorted.
func (c *Compiler) Compile(w *Workflow) ([]byte, error) {
	compilerLog.Printf("Compiling workflow %q", w.Name)
	if err := w.Validate(); err != nil {
		return nil, fmt.Errorf("invalid workflow: %w", err)
	}

	var yaml strings.Builder
	fmt.Fprintf(&yaml, "# Code generated by %s. DO NOT EDIT.\n", constants.CLIName)
	fmt.Fprintf(&yaml, "# Regenerate with: %s compile\n\n", constants.CLIName)

	if w.Name != "" {
		fmt.Fprintf(&yaml, "name: %s\n\n", yamlScalar(w.Name))
	}
	c.generateTrigger(&yaml, w.Trigger)
	if len(w.Env) > 0 {
		yaml.WriteString("env:\n")
		writeSortedMap(&yaml, "  ", w.Env)
		yaml.WriteString("\n")
	}

	yaml.WriteString("jobs:\n")
	for i, job := range w.Jobs {
		if i > 0 {
			yaml.WriteString("\n")
		}
		c.generateJob(&yaml, job)
	}

	out := []byte(yaml.String())
	if _, err := parser.ParseYAML(out); err != nil {
		return nil, fmt.Errorf("compiler produced unparsable YAML: %w", err)
	}
	compilerLog.Printf("Compiled workflow: %d bytes, %d jobs", len(out), len(w.Jobs))
	return out, nil
}

func (c *Compiler) generateTrigger(yaml *strings.Builder, t Trigger) {
	// Quoted so YAML 1.1 readers do not take the key for a boolean.
	yaml.WriteString("\"on\":\n")
	for _, f := range t.Filters {
		fmt.Fprintf(yaml, "  %s:\n", f.Kind)
		if len(f.Branches) == 0 {
			continue
		}
		yaml.WriteString("    branches:\n")
		for _, b := range f.Branches {
			fmt.Fprintf(yaml, "      - %s\n", yamlScalar(b))
		}
	}
	yaml.WriteString("\n")
}

func (c *Compiler) generateJob(yaml *strings.Builder, job *Job) {
	compilerLog.Printf("Generating job %s", job.ID)
	fmt.Fprintf(yaml, "  %s:\n", job.ID)
	if job.Name != "" {
		fmt.Fprintf(yaml, "    name: %s\n", yamlScalar(job.Name))
	}
	fmt.Fprintf(yaml, "    runs-on: %s\n", yamlScalar(job.RunsOn))

	if job.Matrix != nil {
		yaml.WriteString("    strategy:\n")
		// One failing combination must not cancel its siblings.
		yaml.WriteString("      fail-fast: false\n")
		yaml.WriteString("      matrix:\n")
		for _, axis := range job.Matrix.Axes {
			fmt.Fprintf(yaml, "        %s:\n", axis.Name)
			for _, v := range axis.Values {
				fmt.Fprintf(yaml, "          - %s\n", yamlScalar(v))
			}
		}
	}

	yaml.WriteString("    steps:\n")
	fmt.Fprintf(yaml, "      - uses: %s\n", constants.CheckoutAction)
	if job.Toolchain != nil {
		with := map[string]string{"toolchain": job.Toolchain.Channel}
		if len(job.Toolchain.Components) > 0 {
			with["components"] = strings.Join(job.Toolchain.Components, ", ")
		}
		c.generateStep(yaml, Step{Name: ToolchainStepName, Uses: constants.ToolchainAction, With: with})
	}
	for _, step := range job.Steps {
		c.generateStep(yaml, step)
	}
	if job.VerifyOnly {
		c.generateStep(yaml, Step{Name: VerifyStepName, Run: VerifyCommand})
	}
}

// generateStep writes one step with keys in the order name, if, uses, with,
// env, run.
func (c *Compiler) generateStep(yaml *strings.Builder, step Step) {
	const indent = "        "
	prefix := "      - "
	next := func() string {
		p := prefix
		prefix = indent
		return p
	}

	if step.Name != "" {
		fmt.Fprintf(yaml, "%sname: %s\n", next(), yamlScalar(step.Name))
	}
	if !step.If.IsZero() {
		fmt.Fprintf(yaml, "%sif: %s\n", next(), yamlScalar(step.If.Render()))
	}
	if step.Uses != "" {
		fmt.Fprintf(yaml, "%suses: %s\n", next(), yamlScalar(step.Uses))
	}
	if len(step.With) > 0 {
		fmt.Fprintf(yaml, "%swith:\n", next())
		writeSortedMap(yaml, indent+"  ", step.With)
	}
	if len(step.Env) > 0 {
		fmt.Fprintf(yaml, "%senv:\n", next())
		writeSortedMap(yaml, indent+"  ", step.Env)
	}
	if step.Run != "" {
		p := next()
		if strings.Contains(strings.TrimRight(step.Run, "\n"), "\n") {
			writeBlockScalar(yaml, p, indent+"  ", "run", step.Run)
			return
		}
		fmt.Fprintf(yaml, "%srun: %s\n", p, yamlScalar(step.Run))
	}
}

func writeSortedMap(yaml *strings.Builder, indent string, m map[string]string) {
	for _, k := range slices.Sorted(maps.Keys(m)) {
		fmt.Fprintf(yaml, "%s%s: %s\n", indent, k, yamlScalar(m[k]))
	}
}

// CompileToFile compiles w and writes it to path, creating parent
// directories. The file is left untouched when its content would not
// change; written reports whether a write happened.
func (c *Compiler) CompileToFile(w *Workflow, path string) (written bool, err error) {
	content, err := c.Compile(w)
	if err != nil {
		return false, err
	}

	if existing, readErr := os.ReadFile(path); readErr == nil && bytes.Equal(existing, content) {
		compilerLog.Printf("Content unchanged, skipping write: %s", path)
		if c.verbose {
			fmt.Fprintln(os.Stderr, console.FormatVerboseMessage("Unchanged: "+console.ToRelativePath(path)))
		}
		return false, nil
	}

	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return false, fmt.Errorf("failed to create directory for %s: %w", path, err)
	}
	if err := os.WriteFile(path, content, 0o644); err != nil {
		return false, fmt.Errorf("failed to write %s: %w", path, err)
	}
	compilerLog.Printf("Wrote %d bytes to %s", len(content), path)
	if !c.quiet {
		fmt.Fprintln(os.Stderr, console.FormatSuccessMessage("Compiled "+console.ToRelativePath(path)))
	}
	return true, nil
}
