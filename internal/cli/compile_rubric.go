package cli

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/wardenproj/warden/internal/compiler"
	"github.com/wardenproj/warden/internal/policy"
)

// CompileRubricOptions holds flags for the compile-rubric command.
type CompileRubricOptions struct {
	*RootOptions
}

// NewCompileRubricCommand creates the compile-rubric command.
func NewCompileRubricCommand(rootOpts *RootOptions) *cobra.Command {
	opts := &CompileRubricOptions{RootOptions: rootOpts}

	cmd := &cobra.Command{
		Use:   "compile-rubric <file.cue>",
		Short: "Compile a CUE rubric and print the rule table",
		Long: `Compile a CUE rubric source into the ordered rule table that would be
embedded in a snapshot. Intended as a pre-sign review aid: what this
command prints is exactly what reviewers approve.`,
		Args:          cobra.ExactArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return runCompileRubric(opts, args[0], cmd)
		},
	}

	return cmd
}

func runCompileRubric(opts *CompileRubricOptions, path string, cmd *cobra.Command) error {
	formatter := newFormatter(opts.RootOptions, cmd.OutOrStdout(), cmd.ErrOrStderr())

	rules, err := compiler.CompileRubricFile(path)
	if err != nil {
		formatter.Error("INVALID_RUBRIC", err.Error(), nil)
		return WrapExitError(ExitFailure, "rubric compilation failed", err)
	}

	formatter.VerboseLog("compiled %d rule(s) from %s", len(rules), path)
	if formatter.Format == "json" {
		return formatter.Success(map[string]any{"rules": rules})
	}
	printRuleTable(formatter, rules)
	return nil
}

func printRuleTable(formatter *OutputFormatter, rules []policy.Rule) {
	fmt.Fprintf(formatter.Writer, "%-24s %-20s %-4s %-12s %-12s %s\n",
		"NAME", "SIGNAL", "OP", "THRESHOLD", "SEVERITY", "WEIGHT")
	for _, r := range rules {
		fmt.Fprintf(formatter.Writer, "%-24s %-20s %-4s %-12s %-12s %d\n",
			r.Name, r.Signal, r.Operator, r.Threshold, r.Severity, r.Weight)
	}
}
