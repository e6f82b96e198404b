package cli

import (
	"encoding/json"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/roach88/weft/internal/compiler"
	"github.com/roach88/weft/internal/ir"
)

// CompileOptions holds flags for the compile command.
type CompileOptions struct {
	*RootOptions
	Output string // output file path
}

// CompilationStats holds summary statistics.
type CompilationStats struct {
	Modules   int `json:"modules"`
	Functions int `json:"functions"`
	Nodes     int `json:"nodes"`
	Edges     int `json:"edges"`
}

// CompilationResult is the compiled program with its statistics.
type CompilationResult struct {
	Program ir.ProgramSpec   `json:"program"`
	Stats   CompilationStats `json:"stats"`
}

// NewCompileCommand creates the compile command.
func NewCompileCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile <program>",
		Short: "Compile a CUE program to JSON",
		Long: `Compile a CUE program and report what it declares.

The output is the program as the engine sees it: modules and functions in
name order, callees by name, attributes as typed values. With --output the
compiled program is also written to a file.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true, // Don't print usage on errors - we handle our own error output
		SilenceErrors: true, // Don't print errors - we handle our own error output
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompile(opts, args[0], cmd)
		},
	}

	cmd.Flags().StringVarP(&opts.Output, "output", "o", "", "output file path")

	return cmd
}

func runCompile(opts *CompileOptions, path string, cmd *cobra.Command) error {
	formatter := opts.formatter(cmd)

	// Collect every compile error, not just the first
	res, loadErrors := compiler.LoadProgram(path, compiler.LoadModeCollectAll)
	if res == nil {
		code, message := parseLoadError(loadErrors[0])
		return outputCommandError(formatter, code, message, nil)
	}
	if len(loadErrors) > 0 {
		return outputCompileErrors(formatter, loadErrors)
	}

	for _, fn := range res.Program.Functions {
		formatter.VerboseLog("Compiled function: %s (%d node(s))", fn.Name, len(fn.Nodes))
	}

	result := CompilationResult{Program: res.Program, Stats: calculateStats(&res.Program)}

	// Write to file if --output specified
	if opts.Output != "" {
		if err := writeProgramToFile(&res.Program, opts.Output); err != nil {
			return outputCommandError(formatter, ErrCodeWriteFailed, fmt.Sprintf("writing output file: %v", err), nil)
		}
	}

	return outputCompileSuccess(formatter, result, opts.Output)
}

// calculateStats computes summary statistics of a compiled program.
func calculateStats(prog *ir.ProgramSpec) CompilationStats {
	stats := CompilationStats{
		Modules:   len(prog.Modules),
		Functions: len(prog.Functions),
	}
	for _, fn := range prog.Functions {
		stats.Nodes += len(fn.Nodes)
		stats.Edges += len(fn.Edges)
	}
	return stats
}

// outputCompileSuccess outputs successful compilation results.
func outputCompileSuccess(formatter *OutputFormatter, result CompilationResult, outputFile string) error {
	if formatter.IsJSON() {
		return formatter.Success(result)
	}

	stats := result.Stats
	fmt.Fprintf(formatter.Writer, "✓ Compiled %d function(s) in %d module(s): %d node(s), %d edge(s)\n\n",
		stats.Functions, stats.Modules, stats.Nodes, stats.Edges)

	fmt.Fprintln(formatter.Writer, "Functions:")
	for _, fn := range result.Program.Functions {
		fmt.Fprintf(formatter.Writer, "  %s.%s (%s): %d node(s), %d edge(s)\n",
			fn.Module, fn.Name, fn.Visibility, len(fn.Nodes), len(fn.Edges))
	}

	if outputFile != "" {
		fmt.Fprintf(formatter.Writer, "\nWrote compiled program to %s\n", outputFile)
	}

	return nil
}

// outputCompileErrors outputs multiple compilation errors.
func outputCompileErrors(formatter *OutputFormatter, errs []error) error {
	// Compilation errors are command-level errors (exit code 2)
	exitErr := NewExitError(ExitCommandError, fmt.Sprintf("compilation failed with %d error(s)", len(errs)))

	if formatter.IsJSON() {
		all := make([]ResponseError, len(errs))
		for i, err := range errs {
			code, message := parseLoadError(err)
			all[i] = ResponseError{Code: code, Message: message}
		}
		if err := formatter.Failure(all[0].Code, all[0].Message, all); err != nil {
			return err
		}
		return exitErr
	}

	// Text format
	fmt.Fprintln(formatter.Writer, "✗ Compilation failed")
	fmt.Fprintln(formatter.Writer)

	for _, err := range errs {
		fmt.Fprintf(formatter.Writer, "  %v\n\n", err)
	}

	return exitErr
}

// writeProgramToFile writes the program as indented JSON.
func writeProgramToFile(prog *ir.ProgramSpec, filename string) error {
	// Canonical JSON is reserved for hashing; this file is for people.
	data, err := json.MarshalIndent(prog, "", "  ")
	if err != nil {
		return fmt.Errorf("marshaling program: %w", err)
	}

	if err := os.WriteFile(filename, data, 0644); err != nil {
		return fmt.Errorf("writing file: %w", err)
	}

	return nil
}
