// Package compiler turns CUE rubric sources into validated policy rule
// tables. Uses CUE SDK's Go API directly (not CLI subprocess).
package compiler

import (
	"fmt"
	"os"

	"cuelang.org/go/cue"
	"cuelang.org/go/cue/cuecontext"
	"cuelang.org/go/cue/errors"
	"cuelang.org/go/cue/token"

	"github.com/wardenproj/warden/internal/canon"
	"github.com/wardenproj/warden/internal/policy"
)

// CompileRubric parses a CUE value into an ordered rule table. The value
// should be the rubric struct itself, e.g.:
//
//	ctx := cuecontext.New()
//	v := ctx.CompileString(`rubric: { rules: [...] }`)
//	rules, err := CompileRubric(v.LookupPath(cue.ParsePath("rubric")))
//
// Rule order in the source is decision order: the compiled slice preserves
// it exactly.
func CompileRubric(v cue.Value) ([]policy.Rule, error) {
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}

	rulesVal := v.LookupPath(cue.ParsePath("rules"))
	if !rulesVal.Exists() {
		return nil, &CompileError{
			Field:   "rules",
			Message: "rules is required",
			Pos:     v.Pos(),
		}
	}

	iter, err := rulesVal.List()
	if err != nil {
		return nil, formatCUEError(err)
	}

	var rules []policy.Rule
	seen := make(map[string]bool)
	for iter.Next() {
		rule, err := compileRule(iter.Value())
		if err != nil {
			return nil, err
		}
		if seen[rule.Name] {
			return nil, &CompileError{
				Field:   "name",
				Message: fmt.Sprintf("duplicate rule name %q", rule.Name),
				Pos:     iter.Value().Pos(),
			}
		}
		seen[rule.Name] = true
		rules = append(rules, rule)
	}

	if len(rules) == 0 {
		return nil, &CompileError{
			Field:   "rules",
			Message: "at least one rule is required",
			Pos:     rulesVal.Pos(),
		}
	}
	return rules, nil
}

// CompileRubricFile reads and compiles a rubric source file. The rubric
// struct must live under the top-level "rubric" field.
func CompileRubricFile(path string) ([]policy.Rule, error) {
	src, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("read rubric: %w", err)
	}
	return CompileRubricSource(string(src), path)
}

// CompileRubricSource compiles rubric source text. filename is used in
// error positions only.
func CompileRubricSource(src, filename string) ([]policy.Rule, error) {
	ctx := cuecontext.New()
	v := ctx.CompileString(src, cue.Filename(filename))
	if err := v.Err(); err != nil {
		return nil, formatCUEError(err)
	}
	rubric := v.LookupPath(cue.ParsePath("rubric"))
	if !rubric.Exists() {
		return nil, &CompileError{
			Field:   "rubric",
			Message: "top-level rubric struct is required",
			Pos:     v.Pos(),
		}
	}
	return CompileRubric(rubric)
}

func compileRule(v cue.Value) (policy.Rule, error) {
	var rule policy.Rule

	name, err := stringField(v, "name", true)
	if err != nil {
		return rule, err
	}
	rule.Name = name

	signal, err := stringField(v, "signal", true)
	if err != nil {
		return rule, err
	}
	rule.Signal = signal

	op, err := stringField(v, "operator", true)
	if err != nil {
		return rule, err
	}
	rule.Operator = policy.Operator(op)
	if !policy.ValidOperators[rule.Operator] {
		return rule, &CompileError{
			Field:   "operator",
			Message: fmt.Sprintf("rule %q: unknown operator %q", rule.Name, op),
			Pos:     v.Pos(),
		}
	}

	rule.Threshold, err = decimalField(v, "threshold")
	if err != nil {
		return rule, err
	}

	sev, err := stringField(v, "severity", true)
	if err != nil {
		return rule, err
	}
	rule.Severity = policy.Severity(sev)
	if !policy.ValidSeverities[rule.Severity] {
		return rule, &CompileError{
			Field:   "severity",
			Message: fmt.Sprintf("rule %q: unknown severity %q", rule.Name, sev),
			Pos:     v.Pos(),
		}
	}

	// Weight is optional; absent means 1.
	weightVal := v.LookupPath(cue.ParsePath("weight"))
	if weightVal.Exists() {
		w, err := weightVal.Int64()
		if err != nil {
			return rule, formatCUEError(err)
		}
		if w < 1 {
			return rule, &CompileError{
				Field:   "weight",
				Message: fmt.Sprintf("rule %q: weight must be positive", rule.Name),
				Pos:     weightVal.Pos(),
			}
		}
		rule.Weight = w
	} else {
		rule.Weight = 1
	}

	return rule, nil
}

func stringField(v cue.Value, field string, required bool) (string, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		if !required {
			return "", nil
		}
		return "", &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	s, err := fv.String()
	if err != nil {
		return "", formatCUEError(err)
	}
	if required && s == "" {
		return "", &CompileError{
			Field:   field,
			Message: field + " must be non-empty",
			Pos:     fv.Pos(),
		}
	}
	return s, nil
}

// decimalField reads a CUE number as a canonical decimal literal. Integers
// keep their integer form; other numbers take the shortest round-trip
// form, so the compiled threshold hashes identically across runs.
func decimalField(v cue.Value, field string) (canon.Decimal, error) {
	fv := v.LookupPath(cue.ParsePath(field))
	if !fv.Exists() {
		return "", &CompileError{
			Field:   field,
			Message: field + " is required",
			Pos:     v.Pos(),
		}
	}
	if i, err := fv.Int64(); err == nil {
		return canon.Decimal(fmt.Sprintf("%d", i)), nil
	}
	f, err := fv.Float64()
	if err != nil {
		return "", formatCUEError(err)
	}
	d, err := canon.DecimalFromFloat(f)
	if err != nil {
		return "", &CompileError{
			Field:   field,
			Message: err.Error(),
			Pos:     fv.Pos(),
		}
	}
	return d, nil
}

// CompileError reports a rubric compilation failure with source position.
type CompileError struct {
	Field   string
	Message string
	Pos     token.Pos
}

func (e *CompileError) Error() string {
	if e.Pos.IsValid() {
		return fmt.Sprintf("%s:%d:%d: %s: %s",
			e.Pos.Filename(), e.Pos.Line(), e.Pos.Column(),
			e.Field, e.Message)
	}
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// formatCUEError extracts position info from CUE errors.
func formatCUEError(err error) error {
	if err == nil {
		return nil
	}

	// CUE errors may contain multiple errors
	errs := errors.Errors(err)
	if len(errs) == 0 {
		return err
	}

	firstErr := errs[0]
	positions := errors.Positions(firstErr)
	if len(positions) > 0 {
		return &CompileError{
			Field:   "cue",
			Message: firstErr.Error(),
			Pos:     positions[0],
		}
	}

	return err
}
