// Package model defines the core domain types for Galley.
//
// Types use strong typing (UUIDs, time.Time, string enums) and carry JSON
// tags matching their persisted form. Validation lives in the souschef and
// recipe packages; model only holds shape, enums, and cheap invariant
// helpers.
package model

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strings"

	"github.com/galleyhq/galley/internal/option"
)

// Creates enumerates what kind of output a sous chef produces.
type Creates string

const (
	CreatesEvents   Creates = "events"
	CreatesContent  Creates = "content"
	CreatesTags     Creates = "tags"
	CreatesMetrics  Creates = "metrics"
	CreatesSeries   Creates = "series"
	CreatesReport   Creates = "report"
	CreatesExternal Creates = "external"
	CreatesInternal Creates = "internal"
	CreatesNothing  Creates = "null"
)

// InputType is the form-input hint for an option.
type InputType string

const (
	InputText       InputType = "text"
	InputNumber     InputType = "number"
	InputDatepicker InputType = "datepicker"
	InputCheckbox   InputType = "checkbox"
	InputSelect     InputType = "select"
)

// Help is the user-facing description of an option.
type Help struct {
	Description string `json:"description,omitempty"`
	Placeholder string `json:"placeholder,omitempty"`
	Link        string `json:"link,omitempty"`
}

// OptionSpec describes one configurable parameter of a sous chef.
type OptionSpec struct {
	InputType   InputType     `json:"input_type"`
	ValueTypes  []option.Type `json:"value_types"`
	AcceptsList bool          `json:"accepts_list,omitempty"`
	Required    bool          `json:"required,omitempty"`
	Default     any           `json:"default,omitempty"`
	Help        Help          `json:"help,omitempty"`
}

// Metric describes one metric a metrics-producing sous chef reports.
type Metric struct {
	DisplayName string `json:"display_name"`
	Description string `json:"description,omitempty"`
	Type        string `json:"type,omitempty"`
	Faceted     bool   `json:"faceted,omitempty"`
}

// SousChef is a named, versioned capability descriptor for a pluggable
// ingestion module. Descriptors are never mutated in place: updates deep
// merge a new raw definition over the old one and re-validate from scratch.
type SousChef struct {
	Slug        string                `json:"slug"`
	Name        string                `json:"name"`
	Description string                `json:"description"`
	Runs        string                `json:"runs"`
	IsCommand   bool                  `json:"is_command"`
	Creates     Creates               `json:"creates,omitempty"`
	Options     map[string]OptionSpec `json:"options"`
	Metrics     map[string]Metric     `json:"metrics,omitempty"`
}

// slugPattern restricts slugs to lowercase words joined by hyphens.
var slugPattern = regexp.MustCompile(`^[a-z][a-z0-9]*(-[a-z0-9]+)*$`)

// namePattern is the naming convention for option and metric names.
var namePattern = regexp.MustCompile(`^[a-z][a-z_]+[a-z]$`)

// ValidSlug reports whether s matches the restricted slug pattern.
func ValidSlug(s string) bool { return slugPattern.MatchString(s) }

// ValidOptionName reports whether s matches the option naming convention.
func ValidOptionName(s string) bool { return namePattern.MatchString(s) }

// ToMap returns the descriptor as a plain mapping, the form used for deep
// merge updates and JSONB persistence.
func (sc *SousChef) ToMap() (map[string]any, error) {
	b, err := json.Marshal(sc)
	if err != nil {
		return nil, fmt.Errorf("model: marshal sous chef %q: %w", sc.Slug, err)
	}
	var m map[string]any
	if err := json.Unmarshal(b, &m); err != nil {
		return nil, fmt.Errorf("model: unmarshal sous chef %q: %w", sc.Slug, err)
	}
	return m, nil
}

// IsCommandPath reports whether runs names an external executable (contains
// a path separator) rather than a registered workflow name.
func IsCommandPath(runs string) bool { return strings.Contains(runs, "/") }
