package booking

import (
	"errors"
	"fmt"
	"math"
	"regexp"
	"sort"
	"strings"
	"time"

	"github.com/spf13/cast"
)

var (
	// ErrMissing marks a required field that the source did not supply.
	ErrMissing = errors.New("missing value")
	// ErrEmpty marks a required field whose value was blank.
	ErrEmpty = errors.New("empty value")
)

var (
	monthDayYear = regexp.MustCompile(`^\d{1,2}/\d{1,2}/\d{4}$`)
	zipPattern   = regexp.MustCompile(`^\d{5}(?:-\d{4})?$`)
)

// FieldError describes one field that failed coercion.
type FieldError struct {
	Field string
	Err   error
}

func (e FieldError) Error() string {
	return fmt.Sprintf("%s: %v", e.Field, e.Err)
}

func (e FieldError) Unwrap() error {
	return e.Err
}

// RecordValidationError is returned when one or more required fields failed
// coercion. Optional field failures never surface here.
type RecordValidationError struct {
	Source string
	Fields []FieldError
}

func (e *RecordValidationError) Error() string {
	parts := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		parts[i] = f.Error()
	}
	return fmt.Sprintf("record from %s failed validation: %s", e.Source, strings.Join(parts, "; "))
}

// FieldNames lists the failed required fields.
func (e *RecordValidationError) FieldNames() []string {
	out := make([]string, len(e.Fields))
	for i, f := range e.Fields {
		out[i] = f.Field
	}
	return out
}

// Coerce maps raw onto a Booking. The source identifier is injected as the
// county field first, so it flows through the same pipeline as every other
// field. Coerce keeps no state and is safe for concurrent use.
func Coerce(raw RawRecord, source string) (Booking, error) {
	rec := make(map[string]any, len(raw)+1)
	for k, v := range raw {
		rec[k] = v
	}
	rec[FieldCounty] = source

	var (
		b      Booking
		failed []FieldError
	)
	for _, f := range fields {
		v, found := f.resolve(rec)
		if s, ok := v.(string); ok {
			v = strings.TrimSpace(s)
		}
		if !found || v == nil || v == "" {
			if f.required {
				err := ErrMissing
				if found {
					err = ErrEmpty
				}
				failed = append(failed, FieldError{Field: f.name, Err: err})
			}
			continue
		}
		out, err := f.coerce(v)
		if err != nil {
			if f.required {
				failed = append(failed, FieldError{Field: f.name, Err: err})
			}
			continue
		}
		f.assign(&b, out)
	}
	if len(failed) > 0 {
		return Booking{}, &RecordValidationError{Source: source, Fields: failed}
	}
	return b, nil
}

// Aliases returns the accepted source names for a canonical field, canonical
// name first.
func Aliases(field string) []string {
	for _, f := range fields {
		if f.name == field {
			out := make([]string, len(f.aliases))
			copy(out, f.aliases)
			return out
		}
	}
	return nil
}

// Fields lists canonical field names in pipeline order.
func Fields() []string {
	out := make([]string, len(fields))
	for i, f := range fields {
		out[i] = f.name
	}
	return out
}

func (f field) resolve(rec map[string]any) (any, bool) {
	for _, alias := range f.aliases {
		if v, ok := rec[alias]; ok {
			return v, true
		}
	}
	return nil, false
}

func coerceString(v any) (any, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, fmt.Errorf("not a string: %w", err)
	}
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, ErrEmpty
	}
	return s, nil
}

func coerceDate(v any) (any, error) {
	switch t := v.(type) {
	case time.Time:
		return t, nil
	case *time.Time:
		if t == nil {
			return nil, ErrEmpty
		}
		return *t, nil
	case string:
		if monthDayYear.MatchString(t) {
			parsed, err := time.Parse("1/2/2006", t)
			if err != nil {
				return nil, fmt.Errorf("parse date %q: %w", t, err)
			}
			return parsed, nil
		}
		parsed, err := cast.ToTimeE(t)
		if err != nil {
			return nil, fmt.Errorf("parse date %q: %w", t, err)
		}
		return parsed, nil
	default:
		return nil, fmt.Errorf("unsupported date value of type %T", v)
	}
}

func coerceDecimal(v any) (any, error) {
	if s, ok := v.(string); ok {
		v = strings.NewReplacer("$", "", ",", "").Replace(s)
	}
	f, err := cast.ToFloat64E(v)
	if err != nil {
		return nil, fmt.Errorf("not a number: %w", err)
	}
	if math.IsNaN(f) || math.IsInf(f, 0) || f < 0 {
		return nil, fmt.Errorf("amount %v out of range", f)
	}
	return f, nil
}

func coerceZip(v any) (any, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, fmt.Errorf("not a string: %w", err)
	}
	s = strings.TrimSpace(s)
	if !zipPattern.MatchString(s) {
		return nil, fmt.Errorf("zip code %q does not match NNNNN or NNNNN-NNNN", s)
	}
	return s, nil
}

func coerceState(v any) (any, error) {
	s, err := cast.ToStringE(v)
	if err != nil {
		return nil, fmt.Errorf("not a string: %w", err)
	}
	abbr, err := LookupState(s)
	if err != nil {
		return nil, err
	}
	return abbr, nil
}

// enum builds a coercer that matches values case-insensitively against a
// closed vocabulary.
func enum[T ~string](vocabulary map[string]T) func(any) (any, error) {
	allowed := make([]string, 0, len(vocabulary))
	for k := range vocabulary {
		allowed = append(allowed, k)
	}
	sort.Strings(allowed)
	return func(v any) (any, error) {
		s, err := cast.ToStringE(v)
		if err != nil {
			return nil, fmt.Errorf("not a string: %w", err)
		}
		if out, ok := vocabulary[strings.ToUpper(strings.TrimSpace(s))]; ok {
			return out, nil
		}
		return nil, fmt.Errorf("%q is not one of %s", s, strings.Join(allowed, ", "))
	}
}
