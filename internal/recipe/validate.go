// Package recipe validates raw recipes against their sous chef descriptors.
//
// A raw recipe is whatever mapping the API layer or a seed loader hands us:
// reserved fields mixed with default options mixed with free-form options,
// in arbitrary positions. Validation reshapes that into a canonical
// model.Recipe, coerces every option value, applies defaulting rules, and
// derives the scheduling state. Unknown options are silently discarded but
// reported back to the caller, so the permissiveness stays observable.
//
// Validated values come back twice: the Recipe carries serialization-safe
// forms (the pre-parse strings for datetimes, crontabs, regexes, and search
// strings), and the Parsed side table carries native forms for runtime use.
// Parsed forms are not portable across process or storage boundaries.
package recipe

import (
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"dario.cat/mergo"
	"github.com/google/uuid"

	"github.com/galleyhq/galley/internal/model"
	"github.com/galleyhq/galley/internal/option"
	"github.com/galleyhq/galley/internal/souschef"
)

// Result is a fully validated recipe plus its runtime side channels.
type Result struct {
	Recipe model.Recipe

	// Parsed holds coerced native option values keyed by option name.
	Parsed map[string]any

	// Discarded lists raw option keys the sous chef does not declare.
	// They are dropped, not failed; callers decide whether to warn.
	Discarded []string
}

// InvalidError reports every violation found in one validation pass,
// attributed to the recipe and its sous chef.
type InvalidError struct {
	RecipeSlug string
	RecipeName string
	SousChef   string
	Violations []string
}

func (e *InvalidError) Error() string {
	who := e.RecipeSlug
	if who == "" {
		who = e.RecipeName
	}
	return fmt.Sprintf("recipe %q (sous chef %q) is invalid:\n  - %s",
		who, e.SousChef, strings.Join(e.Violations, "\n  - "))
}

// Validate checks a raw recipe mapping against its resolved sous chef and
// returns the canonical recipe. The raw mapping is not mutated.
func Validate(sc *model.SousChef, raw map[string]any) (*Result, error) {
	shaped := reshape(sc, raw)

	res := &Result{
		Parsed:    map[string]any{},
		Discarded: shaped.discarded,
	}
	var violations []string

	status := internalStatus(shaped.internal)
	uninitialized := status == model.RecipeUninitialized

	violations = append(violations, applyDefaults(sc, shaped, res)...)
	violations = append(violations, validateCustom(sc, shaped, res, uninitialized)...)
	violations = append(violations, validateSchedule(&res.Recipe, uninitialized)...)

	if len(violations) > 0 {
		return nil, &InvalidError{
			RecipeSlug: res.Recipe.Slug,
			RecipeName: res.Recipe.Name,
			SousChef:   sc.Slug,
			Violations: violations,
		}
	}

	reattach(sc, shaped, &res.Recipe, status)
	return res, nil
}

// Update shallow-overlays a partial update onto the persisted recipe's
// mapping form (incoming keys win, recursively for nested mappings) and
// re-runs full validation on the merged state. There is no incremental
// validation path.
func Update(sc *model.SousChef, existing *model.Recipe, patch map[string]any) (*Result, error) {
	base, err := toMap(existing)
	if err != nil {
		return nil, err
	}
	if err := mergo.Merge(&base, patch, mergo.WithOverride); err != nil {
		return nil, fmt.Errorf("recipe %s: merge update: %w", existing.Slug, err)
	}
	return Validate(sc, base)
}

// ParsedOptions re-coerces a persisted recipe's options into their native
// forms. Workers call this at execution time; the parsed values never
// survive a process boundary.
func ParsedOptions(sc *model.SousChef, r *model.Recipe) (map[string]any, error) {
	parsed := make(map[string]any, len(r.Options))
	for name, rawVal := range r.Options {
		spec, declared := sc.Options[name]
		if !declared || rawVal == nil {
			parsed[name] = rawVal
			continue
		}
		coerced, err := option.ValidateValue(name, spec.ValueTypes, spec.AcceptsList, rawVal)
		if err != nil {
			return nil, fmt.Errorf("recipe %s: %w", r.Slug, err)
		}
		parsed[name] = coerced
	}
	return parsed, nil
}

// shapedRecipe is the intermediate form produced by reshape.
type shapedRecipe struct {
	defaults  map[string]any // universal default options found at top level
	options   map[string]any // declared custom options
	internal  map[string]any // status, last_run, last_job, traceback
	reserved  map[string]any // stripped reserved fields, reattached untouched
	discarded []string
}

// reshape sorts the raw mapping's keys into their canonical buckets and
// drops options the sous chef does not declare.
func reshape(sc *model.SousChef, raw map[string]any) *shapedRecipe {
	shaped := &shapedRecipe{
		defaults: map[string]any{},
		options:  map[string]any{},
		internal: map[string]any{},
		reserved: map[string]any{},
	}

	reserved := make(map[string]bool, len(model.ReservedRecipeFields))
	for _, f := range model.ReservedRecipeFields {
		reserved[f] = true
	}
	internal := make(map[string]bool, len(model.InternalRecipeFields))
	for _, f := range model.InternalRecipeFields {
		internal[f] = true
	}

	// Nested options first, then top-level keys; a top-level key wins over
	// the same key inside options.
	if opts, ok := raw["options"].(map[string]any); ok {
		for k, v := range opts {
			shaped.options[k] = v
		}
	}
	for k, v := range raw {
		switch {
		case k == "options":
		case reserved[k]:
			shaped.reserved[k] = v
		case internal[k]:
			shaped.internal[k] = v
		case souschef.IsDefaultOption(k):
			shaped.defaults[k] = v
		default:
			shaped.options[k] = v
		}
	}

	// Default option names inside options belong at the top level.
	for _, name := range souschef.DefaultOptionNames {
		if v, ok := shaped.options[name]; ok {
			if _, set := shaped.defaults[name]; !set {
				shaped.defaults[name] = v
			}
			delete(shaped.options, name)
		}
	}

	// Unknown options are discarded, not failed. See the Discarded field.
	for name := range shaped.options {
		if _, declared := sc.Options[name]; !declared {
			shaped.discarded = append(shaped.discarded, name)
		}
	}
	for _, name := range shaped.discarded {
		delete(shaped.options, name)
	}
	return shaped
}

// applyDefaults validates the universal default options, falling back to
// the OptionSpec's declared default when absent, then to generated or
// inherited values.
func applyDefaults(sc *model.SousChef, shaped *shapedRecipe, res *Result) []string {
	var violations []string

	// coerce resolves one default option, returning both the native form
	// and the raw value it came from. Absent options fall back to the
	// spec's declared default, which is validated like a supplied value.
	coerce := func(name string) (coerced, rawVal any, ok bool) {
		spec, declared := sc.Options[name]
		if !declared {
			spec = souschef.DefaultOptions()[name]
		}
		rawVal, present := shaped.defaults[name]
		if !present || rawVal == nil {
			rawVal = spec.Default
		}
		if rawVal == nil {
			return nil, nil, false
		}
		coerced, err := option.ValidateValue(name, spec.ValueTypes, spec.AcceptsList, rawVal)
		if err != nil {
			violations = append(violations, err.Error())
			return nil, nil, false
		}
		res.Parsed[name] = coerced
		return coerced, rawVal, coerced != nil
	}

	r := &res.Recipe
	if v, _, ok := coerce("name"); ok {
		r.Name = fmt.Sprint(v)
	} else {
		r.Name = sc.Name
	}
	if v, _, ok := coerce("slug"); ok {
		r.Slug = fmt.Sprint(v)
	} else {
		r.Slug = generateSlug(sc.Slug)
	}
	if v, _, ok := coerce("description"); ok {
		r.Description = fmt.Sprint(v)
	} else {
		r.Description = sc.Description
	}
	if v, _, ok := coerce("time_of_day"); ok {
		tod := fmt.Sprint(v)
		if _, err := time.Parse("15:04", tod); err != nil {
			violations = append(violations,
				fmt.Sprintf("option %q: %q is not a 24h clock time (HH:MM)", "time_of_day", tod))
		} else {
			r.TimeOfDay = tod
		}
	}
	if v, _, ok := coerce("interval"); ok {
		switch n := v.(type) {
		case int64:
			r.Interval = n
		case float64:
			r.Interval = int64(n)
		}
		if r.Interval <= 0 {
			violations = append(violations, "option \"interval\" must be a positive number of seconds")
			r.Interval = 0
		}
	}
	if _, rawVal, ok := coerce("crontab"); ok {
		// Persist the raw expression; the parsed schedule lives in Parsed.
		r.Crontab = fmt.Sprint(rawVal)
	}
	return violations
}

// validateCustom coerces every sous-chef-declared option that is not a
// universal default, enforcing required-ness unless the recipe is an
// uninitialized seed.
func validateCustom(sc *model.SousChef, shaped *shapedRecipe, res *Result, uninitialized bool) []string {
	var violations []string
	r := &res.Recipe
	r.Options = map[string]any{}

	for name, spec := range sc.Options {
		if souschef.IsDefaultOption(name) {
			continue
		}

		rawVal, present := shaped.options[name]
		if !present || rawVal == nil {
			rawVal = spec.Default
		}
		if rawVal == nil {
			if spec.Required && !uninitialized {
				violations = append(violations, fmt.Sprintf("option %q is required", name))
				continue
			}
			// Uninitialized seeds accept missing required options as null;
			// they are completed before the recipe becomes runnable.
			r.Options[name] = nil
			res.Parsed[name] = nil
			continue
		}

		coerced, err := option.ValidateValue(name, spec.ValueTypes, spec.AcceptsList, rawVal)
		if err != nil {
			violations = append(violations, err.Error())
			continue
		}
		res.Parsed[name] = coerced
		r.Options[name] = option.Serializable(rawVal, coerced)
	}
	return violations
}

// validateSchedule derives the scheduled flag. Declaring both time_of_day
// and interval is a hard failure regardless of uninitialized state.
func validateSchedule(r *model.Recipe, uninitialized bool) []string {
	var violations []string
	if r.TimeOfDay != "" && r.Interval > 0 {
		violations = append(violations,
			"recipes cannot declare both time_of_day and interval")
	}
	directives := 0
	for _, set := range []bool{r.TimeOfDay != "", r.Interval > 0, r.Crontab != ""} {
		if set {
			directives++
		}
	}
	if directives > 1 {
		if len(violations) == 0 {
			violations = append(violations,
				"recipes may declare at most one of time_of_day, interval, crontab")
		}
		return violations
	}

	r.Scheduled = directives == 1 && !uninitialized
	return violations
}

// reattach restores the reserved and internal fields onto the validated
// recipe. These fields bypass option validation entirely.
func reattach(sc *model.SousChef, shaped *shapedRecipe, r *model.Recipe, status model.RecipeStatus) {
	now := time.Now().UTC()

	r.SousChef = sc.Slug
	r.ID = reservedUUID(shaped.reserved, "id", uuid.New())
	r.OrgID = reservedUUID(shaped.reserved, "org_id", uuid.Nil)
	r.UserID = reservedUUID(shaped.reserved, "user_id", uuid.Nil)
	r.Created = reservedTime(shaped.reserved, "created", now)
	r.Updated = now

	r.Status = status
	if lastRun, ok := shaped.internal["last_run"].(string); ok {
		if t, err := time.Parse(time.RFC3339, lastRun); err == nil {
			r.LastRun = &t
		}
	} else if t, ok := shaped.internal["last_run"].(time.Time); ok {
		r.LastRun = &t
	}
	if lastJob, ok := shaped.internal["last_job"].(map[string]any); ok {
		r.LastJob = lastJob
	}
	if tb, ok := shaped.internal["traceback"].(string); ok {
		r.Traceback = tb
	}
}

func internalStatus(internal map[string]any) model.RecipeStatus {
	if s, ok := internal["status"].(string); ok && model.ValidRecipeStatus(model.RecipeStatus(s)) {
		return model.RecipeStatus(s)
	}
	// A submitted recipe with no explicit status is runnable steady-state.
	return model.RecipeStable
}

func reservedUUID(reserved map[string]any, key string, fallback uuid.UUID) uuid.UUID {
	switch v := reserved[key].(type) {
	case string:
		if id, err := uuid.Parse(v); err == nil {
			return id
		}
	case uuid.UUID:
		return v
	}
	return fallback
}

func reservedTime(reserved map[string]any, key string, fallback time.Time) time.Time {
	switch v := reserved[key].(type) {
	case string:
		if t, err := time.Parse(time.RFC3339, v); err == nil {
			return t
		}
	case time.Time:
		return v
	}
	return fallback
}

// generateSlug derives a recipe slug from the sous chef's, suffixed with a
// short random token so auto-generated slugs stay unique.
func generateSlug(sousChefSlug string) string {
	return sousChefSlug + "-" + uuid.NewString()[:8]
}

func toMap(r *model.Recipe) (map[string]any, error) {
	b, err := json.Marshal(r)
	if err != nil {
		return nil, fmt.Errorf("recipe %s: encode: %w", r.Slug, err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("recipe %s: decode: %w", r.Slug, err)
	}
	return m, nil
}
