// Package souschef validates declarative sous chef definitions and produces
// canonical descriptors.
//
// Definitions arrive as raw mappings, usually loaded from YAML files (see
// Load). Validation is all-or-nothing: structural checks run through a JSON
// Schema, option invariants and naming rules are checked per option with
// every violation collected, and the `runs` entry point is resolved against
// the workflow registry. No partial descriptor is ever returned.
package souschef

import (
	_ "embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"strings"

	"dario.cat/mergo"
	"github.com/xeipuuv/gojsonschema"

	"github.com/galleyhq/galley/internal/model"
	"github.com/galleyhq/galley/internal/option"
	"github.com/galleyhq/galley/internal/workflow"
)

//go:embed schema.json
var schemaJSON []byte

var schema *gojsonschema.Schema

func init() {
	var err error
	schema, err = gojsonschema.NewSchema(gojsonschema.NewBytesLoader(schemaJSON))
	if err != nil {
		panic(fmt.Sprintf("souschef: embedded schema is invalid: %v", err))
	}
}

// ErrMissingSlug is returned alone when a definition has no slug: nothing
// else can be meaningfully attributed without one, so no further structural
// errors are reported.
var ErrMissingSlug = errors.New("souschef: definition is missing a slug")

// InvalidError reports every violation found in one validation pass.
type InvalidError struct {
	Slug       string
	Path       string // originating file, when loaded from disk
	Violations []string
}

func (e *InvalidError) Error() string {
	loc := e.Slug
	if e.Path != "" {
		loc += " (" + e.Path + ")"
	}
	return fmt.Sprintf("souschef %s is invalid:\n  - %s", loc, strings.Join(e.Violations, "\n  - "))
}

// Validate checks a raw definition and returns the canonical descriptor.
// reg resolves in-process workflow names; command paths are checked against
// the filesystem. The returned descriptor has the universal default options
// merged in, declared options winning.
func Validate(def map[string]any, reg *workflow.Registry) (*model.SousChef, error) {
	slug, _ := def["slug"].(string)
	if slug == "" {
		return nil, ErrMissingSlug
	}

	def = normalize(def)

	result, err := schema.Validate(gojsonschema.NewGoLoader(def))
	if err != nil {
		return nil, fmt.Errorf("souschef %s: schema validation: %w", slug, err)
	}
	if !result.Valid() {
		var violations []string
		for _, rerr := range result.Errors() {
			violations = append(violations, fmt.Sprintf("%s: %s", rerr.Field(), rerr.Description()))
		}
		return nil, &InvalidError{Slug: slug, Violations: violations}
	}

	sc, err := decode(def)
	if err != nil {
		return nil, fmt.Errorf("souschef %s: %w", slug, err)
	}

	if violations := checkOptions(sc); len(violations) > 0 {
		return nil, &InvalidError{Slug: slug, Violations: violations}
	}

	// Resolve the entry point before accepting the descriptor so a bad
	// runs value never survives to dispatch time.
	sc.IsCommand = model.IsCommandPath(sc.Runs)
	if _, err := reg.Resolve(sc.Runs); err != nil {
		return nil, &InvalidError{Slug: slug, Violations: []string{err.Error()}}
	}

	if violations := checkMetrics(sc); len(violations) > 0 {
		return nil, &InvalidError{Slug: slug, Violations: violations}
	}

	for name, spec := range DefaultOptions() {
		if _, declared := sc.Options[name]; !declared {
			sc.Options[name] = spec
		}
	}
	return sc, nil
}

// Update deep-merges a new raw definition over an existing descriptor and
// re-runs full validation. There is no incremental patch path.
func Update(existing *model.SousChef, def map[string]any, reg *workflow.Registry) (*model.SousChef, error) {
	base, err := existing.ToMap()
	if err != nil {
		return nil, err
	}
	// The default options were merged into the stored descriptor; strip the
	// undeclared ones so re-validation re-merges cleanly.
	if opts, ok := base["options"].(map[string]any); ok {
		patchOpts, _ := def["options"].(map[string]any)
		for name := range DefaultOptions() {
			if _, redeclared := patchOpts[name]; !redeclared {
				delete(opts, name)
			}
		}
	}
	delete(base, "is_command")
	if err := mergo.Merge(&base, def, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("souschef %s: merge update: %w", existing.Slug, err)
	}
	return Validate(base, reg)
}

// normalize returns a copy of def with scalar value_types promoted to
// single-element lists, so the rest of the pipeline sees one shape.
func normalize(def map[string]any) map[string]any {
	out := make(map[string]any, len(def))
	for k, v := range def {
		out[k] = v
	}
	opts, ok := out["options"].(map[string]any)
	if !ok {
		return out
	}
	normOpts := make(map[string]any, len(opts))
	for name, raw := range opts {
		spec, ok := raw.(map[string]any)
		if !ok {
			normOpts[name] = raw
			continue
		}
		if vt, scalar := spec["value_types"].(string); scalar {
			copied := make(map[string]any, len(spec))
			for k, v := range spec {
				copied[k] = v
			}
			copied["value_types"] = []any{vt}
			spec = copied
		}
		normOpts[name] = spec
	}
	out["options"] = normOpts
	return out
}

func decode(def map[string]any) (*model.SousChef, error) {
	b, err := json.Marshal(def)
	if err != nil {
		return nil, fmt.Errorf("encode definition: %w", err)
	}
	var sc model.SousChef
	if err := json.Unmarshal(b, &sc); err != nil {
		return nil, fmt.Errorf("decode definition: %w", err)
	}
	if sc.Options == nil {
		sc.Options = map[string]model.OptionSpec{}
	}
	return &sc, nil
}

// checkOptions enforces the per-option invariants, the naming convention,
// and the reserved-name rules. All violations are collected.
func checkOptions(sc *model.SousChef) []string {
	reserved := make(map[string]bool)
	for _, f := range model.ReservedRecipeFields {
		reserved[f] = true
	}
	for _, f := range model.InternalRecipeFields {
		reserved[f] = true
	}

	names := make([]string, 0, len(sc.Options))
	for name := range sc.Options {
		names = append(names, name)
	}
	sort.Strings(names)

	var violations []string
	for _, name := range names {
		spec := sc.Options[name]

		if !model.ValidOptionName(name) && !IsDefaultOption(name) {
			violations = append(violations,
				fmt.Sprintf("option %q does not match the naming convention [a-z][a-z_]+[a-z]", name))
		}
		if reserved[name] {
			violations = append(violations,
				fmt.Sprintf("option %q collides with a reserved recipe field", name))
		}

		has := func(t option.Type) bool {
			for _, vt := range spec.ValueTypes {
				if vt == t {
					return true
				}
			}
			return false
		}

		if spec.InputType == model.InputCheckbox && !spec.AcceptsList {
			violations = append(violations,
				fmt.Sprintf("option %q: checkbox inputs must set accepts_list", name))
		}
		if spec.InputType == model.InputDatepicker && !has(option.TypeDatetime) {
			violations = append(violations,
				fmt.Sprintf("option %q: datepicker inputs must accept datetime values", name))
		}
		if spec.InputType == model.InputNumber && !has(option.TypeNumeric) {
			violations = append(violations,
				fmt.Sprintf("option %q: number inputs must accept numeric values", name))
		}
		for _, textOnly := range []option.Type{option.TypeSearchString, option.TypeURL, option.TypeEmail, option.TypeRegex} {
			if has(textOnly) && spec.InputType != model.InputText {
				violations = append(violations,
					fmt.Sprintf("option %q: %s values require a text input", name, textOnly))
			}
		}
	}
	return violations
}

// checkMetrics requires a non-empty, convention-named metrics mapping for
// metrics-producing sous chefs.
func checkMetrics(sc *model.SousChef) []string {
	if sc.Creates != model.CreatesMetrics {
		return nil
	}
	if len(sc.Metrics) == 0 {
		return []string{"creates metrics but declares no metrics mapping"}
	}
	names := make([]string, 0, len(sc.Metrics))
	for name := range sc.Metrics {
		names = append(names, name)
	}
	sort.Strings(names)

	var violations []string
	for _, name := range names {
		if !model.ValidOptionName(name) {
			violations = append(violations,
				fmt.Sprintf("metric %q does not match the naming convention [a-z][a-z_]+[a-z]", name))
		}
	}
	return violations
}
