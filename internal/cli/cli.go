package cli

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/studiowebux/apitest/internal/batch"
	"github.com/studiowebux/apitest/internal/config"
	"github.com/studiowebux/apitest/internal/engine"
	"github.com/studiowebux/apitest/internal/filter"
	"github.com/studiowebux/apitest/internal/parser"
	"github.com/studiowebux/apitest/internal/types"
)

// progressInterval is how often a running batch is reported
const progressInterval = 500 * time.Millisecond

// promptForVariable prompts the user to enter a value for a variable
func promptForVariable(in io.Reader, name string) (string, error) {
	fmt.Fprintf(os.Stderr, "Enter value for '%s': ", name)
	reader := bufio.NewReader(in)
	value, err := reader.ReadString('\n')
	if err != nil && value == "" {
		return "", err
	}
	return strings.TrimSpace(value), nil
}

// isInteractive checks if stdin is a terminal (not piped)
func isInteractive() bool {
	stat, err := os.Stdin.Stat()
	if err != nil {
		return false
	}
	return (stat.Mode() & os.ModeCharDevice) != 0
}

// RunOptions contains options for running a definition file
type RunOptions struct {
	FilePath     string
	Name         string   // pick one definition by name; first one otherwise
	OutputFormat string   // json, yaml, text, body
	SavePath     string
	BodyOverride string
	ShowFull     bool
	ExtraVars    []string // key=value pairs from -e flag
	Filter       string   // JMESPath filter expression
	Query        string   // JMESPath query expression
	Prompt       bool     // ask for variables that nothing provides

	Stdout io.Writer
	Stdin  io.Reader
}

func (o *RunOptions) stdout() io.Writer {
	if o.Stdout == nil {
		return os.Stdout
	}
	return o.Stdout
}

// LoadEnv merges the process environment with an optional .env file; file values win
func LoadEnv(envFile string) (map[string]string, error) {
	env := parser.LoadSystemEnv()
	if envFile == "" {
		return env, nil
	}
	fileEnv, err := parser.LoadEnvFile(envFile)
	if err != nil {
		return nil, fmt.Errorf("failed to load env file: %w", err)
	}
	for k, v := range fileEnv {
		env[k] = v
	}
	return env, nil
}

// LoadSuite parses a definition file, trying common extensions when the
// exact path does not exist
func LoadSuite(path string) (*types.Suite, error) {
	resolved, err := resolveFilePath(path)
	if err != nil {
		return nil, err
	}
	return parser.ParseFile(resolved)
}

// Run executes one definition and prints the execution. It reports whether
// the execution passed.
func Run(ctx context.Context, eng *engine.Engine, opts RunOptions) (bool, error) {
	suite, err := LoadSuite(opts.FilePath)
	if err != nil {
		return false, err
	}

	def, err := pick(suite, opts.Name)
	if err != nil {
		return false, err
	}
	if opts.BodyOverride != "" {
		def.Body = opts.BodyOverride
	}

	vars := make(map[string]string, len(suite.Variables))
	for k, v := range suite.Variables {
		vars[k] = v
	}
	for k, v := range parser.ParseAssignments(opts.ExtraVars) {
		vars[k] = v
	}

	if opts.Prompt && isInteractive() {
		if err := promptMissing(eng, def, vars, opts.Stdin); err != nil {
			return false, err
		}
	}

	exec, err := eng.RunSingle(ctx, *def, vars)
	if err != nil {
		return false, err
	}
	eng.RecordRun(ctx, opts.FilePath, exec)

	if last := exec.Last(); last != nil && (opts.Filter != "" || opts.Query != "") {
		filtered, err := filter.Apply(last.Body, opts.Filter, opts.Query)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Warning: filter/query error: %v\n", err)
		} else {
			last.Body = filtered
		}
	}

	format := opts.OutputFormat
	if format == "" {
		format = FormatText
	}

	var out strings.Builder
	if err := WriteExecution(&out, exec, format, opts.ShowFull); err != nil {
		return false, fmt.Errorf("failed to format output: %w", err)
	}

	if opts.SavePath != "" {
		if err := os.WriteFile(opts.SavePath, []byte(out.String()), config.FilePermissions); err != nil {
			return false, fmt.Errorf("failed to save response: %w", err)
		}
		fmt.Fprintf(os.Stderr, "Response saved to %s\n", opts.SavePath)
	} else {
		fmt.Fprint(opts.stdout(), out.String())
	}

	return exec.Passed, nil
}

// promptMissing asks for every referenced variable the scope cannot resolve
func promptMissing(eng *engine.Engine, def *types.CallDefinition, vars map[string]string, in io.Reader) error {
	if in == nil {
		in = os.Stdin
	}
	scope, err := eng.Scope(vars)
	if err != nil {
		return err
	}
	lookup := scope.ForCall()

	for _, name := range parser.ExtractDefinitionVariables(def) {
		if _, ok := lookup.Lookup(name); ok {
			continue
		}
		if extractedByDefinition(def, name) {
			continue
		}
		value, err := promptForVariable(in, name)
		if err != nil {
			return fmt.Errorf("failed to read input for '%s': %w", name, err)
		}
		vars[name] = value
	}
	return nil
}

func extractedByDefinition(def *types.CallDefinition, name string) bool {
	for _, r := range def.PreRedis {
		if r.VarName == name {
			return true
		}
	}
	return false
}

func pick(suite *types.Suite, name string) (*types.CallDefinition, error) {
	if name == "" {
		return &suite.Definitions[0], nil
	}
	for i := range suite.Definitions {
		d := &suite.Definitions[i]
		if d.Name == name || d.ID == name {
			return d, nil
		}
	}
	return nil, fmt.Errorf("no definition named %q in %s", name, suite.Name)
}

// BatchOptions contains options for running a suite as a batch
type BatchOptions struct {
	FilePaths     []string
	Name          string
	StopOnFailure bool
	ExtraVars     []string
	OutputFormat  string

	Stdout io.Writer
	Stderr io.Writer
}

// RunBatch runs every definition of the given files as one batch, printing
// progress until the job finishes. It reports whether every call passed.
func RunBatch(ctx context.Context, eng *engine.Engine, opts BatchOptions) (bool, error) {
	stdout, stderr := opts.Stdout, opts.Stderr
	if stdout == nil {
		stdout = os.Stdout
	}
	if stderr == nil {
		stderr = os.Stderr
	}

	var defs []types.CallDefinition
	vars := make(map[string]string)
	stopOnFailure := opts.StopOnFailure
	name := opts.Name
	for _, path := range opts.FilePaths {
		suite, err := LoadSuite(path)
		if err != nil {
			return false, err
		}
		defs = append(defs, suite.Definitions...)
		for k, v := range suite.Variables {
			vars[k] = v
		}
		stopOnFailure = stopOnFailure || suite.StopOnFailure
		if name == "" {
			name = suite.Name
		}
	}
	for k, v := range parser.ParseAssignments(opts.ExtraVars) {
		vars[k] = v
	}

	id, err := eng.StartBatch(ctx, defs, batch.Options{
		Name:          name,
		StopOnFailure: stopOnFailure,
		Variables:     vars,
	})
	if err != nil {
		return false, err
	}

	ticker := time.NewTicker(progressInterval)
	defer ticker.Stop()

	last := -1
	for {
		progress, err := eng.BatchStatus(id)
		if err != nil {
			return false, err
		}
		if progress.Completed != last && !progress.Terminal() {
			WriteProgress(stderr, progress)
			last = progress.Completed
		}
		if progress.Terminal() {
			break
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-ticker.C:
		}
	}

	// Wait for the completion hooks to have stored the report
	progress, err := eng.WaitBatch(ctx, id)
	if err != nil {
		return false, err
	}

	res, err := eng.BatchResult(id)
	if err != nil {
		return false, err
	}

	switch opts.OutputFormat {
	case FormatJSON, FormatYAML:
		if err := Encode(stdout, res, opts.OutputFormat); err != nil {
			return false, err
		}
	default:
		for i := range res.Executions {
			exec := &res.Executions[i]
			fmt.Fprintf(stdout, "%s %s\n", verdict(exec.Passed), exec.Definition.DisplayName())
			if last := exec.Last(); last != nil && !exec.Passed {
				if last.Error != "" {
					fmt.Fprintf(stdout, "    %s: %s\n", last.ErrorKind, last.Error)
				}
				for _, o := range last.Assertions {
					if !o.Passed {
						fmt.Fprintf(stdout, "    %s\n", o.Message)
					}
				}
				for _, o := range last.DBAssertions {
					if !o.Passed {
						fmt.Fprintf(stdout, "    %s: %s\n", o.Label, o.Message)
					}
				}
			}
		}
		WriteProgress(stdout, progress)
	}

	return progress.State == batch.StateCompleted && progress.Failed == 0, nil
}

// resolveFilePath attempts to find the actual file path, trying common extensions
// if the exact path doesn't exist. Returns the resolved path and any error.
func resolveFilePath(basePath string) (string, error) {
	extensions := []string{"", ".yaml", ".yml", ".json", ".jsonc"}

	for _, ext := range extensions {
		candidate := basePath + ext
		if info, err := os.Stat(candidate); err == nil && !info.IsDir() {
			return candidate, nil
		}
	}

	if !filepath.IsAbs(basePath) && config.ConfigDir != "" {
		for _, ext := range extensions {
			candidate := filepath.Join(config.ConfigDir, "definitions", basePath+ext)
			if _, err := os.Stat(candidate); err == nil {
				return candidate, nil
			}
		}
	}

	return "", fmt.Errorf("file not found: %s (tried .yaml, .yml, .json, .jsonc extensions)", basePath)
}
