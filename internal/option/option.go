// Package option validates and coerces raw, user-supplied option values
// against declared semantic types.
//
// A value arrives as whatever JSON or YAML decoding produced (string, number,
// bool, list, nil) and leaves as a language-native value: int64/float64 for
// numeric, time.Time for datetime, *regexp.Regexp for regex, and so on.
// Validators are pure; they never touch storage or configuration.
package option

import (
	"encoding/json"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"
	"unicode/utf8"

	"github.com/go-playground/validator/v10"
	"github.com/robfig/cron/v3"
)

// Type is a semantic value type an option can declare.
type Type string

const (
	TypeString       Type = "string"
	TypeNumeric      Type = "numeric"
	TypeBoolean      Type = "boolean"
	TypeDatetime     Type = "datetime"
	TypeCrontab      Type = "crontab"
	TypeRegex        Type = "regex"
	TypeURL          Type = "url"
	TypeEmail        Type = "email"
	TypeSearchString Type = "searchstring"
	TypeJSON         Type = "json"
	TypeNull         Type = "nulltype"
)

// Priority is the order in which multi-typed options are tried: most
// semantically restrictive first, so "anything@example.com" lands on email
// before string gets a chance to swallow it. The first type that validates
// wins. The order is data, not control flow; callers must not reorder it.
var Priority = []Type{
	TypeEmail,
	TypeURL,
	TypeCrontab,
	TypeSearchString,
	TypeDatetime,
	TypeRegex,
	TypeNumeric,
	TypeBoolean,
	TypeNull,
	TypeJSON,
	TypeString,
}

// Known reports whether t is a declared semantic type.
func Known(t Type) bool {
	for _, p := range Priority {
		if p == t {
			return true
		}
	}
	return false
}

// Error describes a value that failed validation against one semantic type.
type Error struct {
	Option string // option name, for attribution in messages
	Type   Type
	Raw    any
	Reason string
}

func (e *Error) Error() string {
	msg := fmt.Sprintf("option %q: value %v is not a valid %s", e.Option, e.Raw, e.Type)
	if e.Reason != "" {
		msg += ": " + e.Reason
	}
	return msg
}

func fail(name string, t Type, raw any, reason string) (any, error) {
	return nil, &Error{Option: name, Type: t, Raw: raw, Reason: reason}
}

var (
	trueTokens  = map[string]bool{"y": true, "yes": true, "1": true, "t": true, "true": true, "on": true, "ok": true}
	falseTokens = map[string]bool{"n": true, "no": true, "0": true, "f": true, "false": true, "off": true}
	nullTokens  = map[string]bool{"null": true, "na": true, "n/a": true, "nan": true, "none": true}
)

// datetimeLayouts are the accepted ISO-8601 shapes, tried in order.
var datetimeLayouts = []string{
	time.RFC3339,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

// validate is a shared go-playground validator instance used for the url and
// email types. It is safe for concurrent use.
var validate = validator.New()

// cronParser accepts the classic 5-field crontab format (no seconds field).
var cronParser = cron.NewParser(
	cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow,
)

// Validate coerces raw against a single semantic type. On success the
// returned value is the native form (see package doc); on failure the error
// is an *Error naming the option, the type, and the raw input.
func Validate(name string, t Type, raw any) (any, error) {
	switch t {
	case TypeString:
		return validateString(name, raw)
	case TypeNumeric:
		return validateNumeric(name, raw)
	case TypeBoolean:
		return validateBoolean(name, raw)
	case TypeDatetime:
		return validateDatetime(name, raw)
	case TypeCrontab:
		return validateCrontab(name, raw)
	case TypeRegex:
		return validateRegex(name, raw)
	case TypeURL:
		return validateURL(name, raw)
	case TypeEmail:
		return validateEmail(name, raw)
	case TypeSearchString:
		return validateSearchString(name, raw)
	case TypeJSON:
		return validateJSON(name, raw)
	case TypeNull:
		return validateNull(name, raw)
	default:
		return fail(name, t, raw, "unknown value type")
	}
}

// ValidateAny tries each declared type in Priority order and returns the
// first successful coercion. If none succeed, the error concatenates every
// per-type failure so the caller sees the full story, not just the last
// attempt.
func ValidateAny(name string, types []Type, raw any) (any, error) {
	declared := make(map[Type]bool, len(types))
	for _, t := range types {
		declared[t] = true
	}

	var reasons []string
	for _, t := range Priority {
		if !declared[t] {
			continue
		}
		v, err := Validate(name, t, raw)
		if err == nil {
			return v, nil
		}
		reasons = append(reasons, err.Error())
	}
	return nil, fmt.Errorf("option %q: value %v matched none of %v: %s",
		name, raw, types, strings.Join(reasons, "; "))
}

// ValidateValue applies ValidateAny to raw, element-wise when acceptsList is
// set and raw is a list. A list value on a non-list option is rejected, and
// every element must validate for the list to pass.
func ValidateValue(name string, types []Type, acceptsList bool, raw any) (any, error) {
	if len(types) == 0 {
		return nil, fmt.Errorf("option %q: no value types declared", name)
	}
	list, isList := asList(raw)
	if isList && !acceptsList {
		return fail(name, types[0], raw, "option does not accept lists")
	}
	if !isList {
		return ValidateAny(name, types, raw)
	}

	out := make([]any, 0, len(list))
	for _, item := range list {
		v, err := ValidateAny(name, types, item)
		if err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, nil
}

func asList(raw any) ([]any, bool) {
	switch v := raw.(type) {
	case []any:
		return v, true
	case []string:
		out := make([]any, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	}
	return nil, false
}

func validateString(name string, raw any) (any, error) {
	switch v := raw.(type) {
	case string:
		if !utf8.ValidString(v) {
			return fail(name, TypeString, raw, "invalid UTF-8")
		}
		return v, nil
	case []byte:
		if !utf8.Valid(v) {
			return fail(name, TypeString, raw, "invalid UTF-8")
		}
		return string(v), nil
	case nil:
		return fail(name, TypeString, raw, "missing value")
	default:
		return fmt.Sprint(v), nil
	}
}

// validateNumeric returns int64 for integral inputs and float64 otherwise,
// so "42" coerces to the integer 42 while "42.5" stays a float.
func validateNumeric(name string, raw any) (any, error) {
	switch v := raw.(type) {
	case int:
		return int64(v), nil
	case int64:
		return v, nil
	case float64:
		if v == float64(int64(v)) {
			return int64(v), nil
		}
		return v, nil
	case float32:
		return validateNumeric(name, float64(v))
	case string:
		s := strings.TrimSpace(v)
		if n, err := strconv.ParseInt(s, 10, 64); err == nil {
			return n, nil
		}
		if f, err := strconv.ParseFloat(s, 64); err == nil {
			return f, nil
		}
		return fail(name, TypeNumeric, raw, "not parseable as integer or float")
	default:
		return fail(name, TypeNumeric, raw, "not a number")
	}
}

func validateBoolean(name string, raw any) (any, error) {
	switch v := raw.(type) {
	case bool:
		return v, nil
	case string, int, int64, float64:
		s := strings.ToLower(strings.TrimSpace(fmt.Sprint(v)))
		if trueTokens[s] {
			return true, nil
		}
		if falseTokens[s] {
			return false, nil
		}
	}
	return fail(name, TypeBoolean, raw, "not a recognized boolean token")
}

func validateDatetime(name string, raw any) (any, error) {
	if t, ok := raw.(time.Time); ok {
		return t.UTC(), nil
	}
	s, ok := raw.(string)
	if !ok {
		return fail(name, TypeDatetime, raw, "not a datetime string")
	}
	for _, layout := range datetimeLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.UTC(), nil
		}
	}
	return fail(name, TypeDatetime, raw, "not an ISO-8601 datetime")
}

func validateCrontab(name string, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return fail(name, TypeCrontab, raw, "not a crontab string")
	}
	sched, err := cronParser.Parse(s)
	if err != nil {
		return fail(name, TypeCrontab, raw, err.Error())
	}
	return sched, nil
}

func validateRegex(name string, raw any) (any, error) {
	if re, ok := raw.(*regexp.Regexp); ok {
		return re, nil
	}
	s, ok := raw.(string)
	if !ok {
		return fail(name, TypeRegex, raw, "not a pattern string")
	}
	re, err := regexp.Compile(s)
	if err != nil {
		return fail(name, TypeRegex, raw, err.Error())
	}
	return re, nil
}

func validateURL(name string, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok || s == "" {
		return fail(name, TypeURL, raw, "not a URL string")
	}
	if err := validate.Var(s, "url"); err != nil {
		return fail(name, TypeURL, raw, "not a valid URL")
	}
	// validator/v10 accepts scheme-relative forms; require a scheme + host.
	if !strings.Contains(s, "://") {
		return fail(name, TypeURL, raw, "missing URL scheme")
	}
	return s, nil
}

func validateEmail(name string, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok || s == "" {
		return fail(name, TypeEmail, raw, "not an email string")
	}
	if err := validate.Var(s, "email"); err != nil {
		return fail(name, TypeEmail, raw, "not a valid email address")
	}
	return s, nil
}

func validateSearchString(name string, raw any) (any, error) {
	s, ok := raw.(string)
	if !ok {
		return fail(name, TypeSearchString, raw, "not a search string")
	}
	m, err := ParseSearchString(s)
	if err != nil {
		return fail(name, TypeSearchString, raw, err.Error())
	}
	return m, nil
}

// validateJSON requires the value to round-trip through the JSON codec.
// Strings are treated as encoded JSON and returned decoded; everything else
// must marshal cleanly and is returned as-is.
func validateJSON(name string, raw any) (any, error) {
	if s, ok := raw.(string); ok {
		var v any
		if err := json.Unmarshal([]byte(s), &v); err != nil {
			return fail(name, TypeJSON, raw, err.Error())
		}
		return v, nil
	}
	if _, err := json.Marshal(raw); err != nil {
		return fail(name, TypeJSON, raw, err.Error())
	}
	return raw, nil
}

func validateNull(name string, raw any) (any, error) {
	if raw == nil {
		return nil, nil
	}
	if s, ok := raw.(string); ok && nullTokens[strings.ToLower(strings.TrimSpace(s))] {
		return nil, nil
	}
	return fail(name, TypeNull, raw, "not a recognized null token")
}

// Serializable converts a coerced value back to a form that survives JSON
// persistence: parsed datetimes, schedules, regexes, and search matchers are
// replaced by their original string representations. Recipes persist this
// form and re-coerce at execution time.
func Serializable(raw, coerced any) any {
	switch coerced.(type) {
	case cron.Schedule, *regexp.Regexp, *SearchString, time.Time:
		return raw
	case []any:
		rawList, ok := asList(raw)
		if !ok {
			return raw
		}
		out := make([]any, len(rawList))
		for i, item := range coerced.([]any) {
			out[i] = Serializable(rawList[i], item)
		}
		return out
	}
	return coerced
}
