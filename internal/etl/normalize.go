package etl

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/shopspring/decimal"
)

var errNotScalar = errors.New("value is not a scalar")

var dateLayouts = []string{
	time.RFC3339Nano,
	"2006-01-02T15:04:05",
	"2006-01-02 15:04:05",
	"2006-01-02",
}

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New()
	// decimals are validated as float64 so numeric tags like gte apply
	v.RegisterCustomTypeFunc(func(field reflect.Value) any {
		if d, ok := field.Interface().(decimal.Decimal); ok {
			f, _ := d.Float64()
			return f
		}
		return nil
	}, decimal.Decimal{})
	return v
}

// fields is one API item keyed by its JSON field names.
type fields map[string]json.RawMessage

func decodeFields(item json.RawMessage) (fields, error) {
	var f fields
	if err := json.Unmarshal(item, &f); err != nil {
		return nil, fmt.Errorf("item is not an object: %w", err)
	}
	if f == nil {
		return nil, errors.New("item is null")
	}
	return f, nil
}

// lookup returns the first alias that carries a non-null, non-empty value.
func (f fields) lookup(keys ...string) (string, json.RawMessage, bool) {
	for _, key := range keys {
		raw, ok := f[key]
		if !ok {
			continue
		}
		trimmed := bytes.TrimSpace(raw)
		if len(trimmed) == 0 || bytes.Equal(trimmed, []byte("null")) || bytes.Equal(trimmed, []byte(`""`)) {
			continue
		}
		return key, trimmed, true
	}
	return "", nil, false
}

// text accepts strings and numbers; numbers keep their literal form.
func (f fields) text(keys ...string) (string, error) {
	key, raw, ok := f.lookup(keys...)
	if !ok {
		return "", nil
	}
	s, err := scalarText(raw)
	if err != nil {
		return "", fmt.Errorf("%s: %w", key, err)
	}
	return strings.TrimSpace(s), nil
}

// number parses a JSON number or a numeric string. Absent yields nil.
func (f fields) number(keys ...string) (*decimal.Decimal, error) {
	key, raw, ok := f.lookup(keys...)
	if !ok {
		return nil, nil
	}
	s, err := scalarText(raw)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	d, err := decimal.NewFromString(strings.ReplaceAll(strings.TrimSpace(s), ",", "."))
	if err != nil {
		return nil, fmt.Errorf("%s: not a number: %q", key, s)
	}
	return &d, nil
}

// date parses the first present alias into a UTC calendar day. Absent yields nil.
func (f fields) date(keys ...string) (*time.Time, error) {
	key, raw, ok := f.lookup(keys...)
	if !ok {
		return nil, nil
	}
	var s string
	if err := json.Unmarshal(raw, &s); err != nil {
		return nil, fmt.Errorf("%s: date must be a string", key)
	}
	day, err := parseDay(s)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", key, err)
	}
	return &day, nil
}

func parseDay(s string) (time.Time, error) {
	s = strings.TrimSpace(s)
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			y, m, d := t.Date()
			return time.Date(y, m, d, 0, 0, 0, 0, time.UTC), nil
		}
	}
	return time.Time{}, fmt.Errorf("unrecognised date %q", s)
}

func scalarText(raw json.RawMessage) (string, error) {
	switch raw[0] {
	case '"':
		var s string
		if err := json.Unmarshal(raw, &s); err != nil {
			return "", err
		}
		return s, nil
	case '{', '[', 't', 'f':
		return "", errNotScalar
	default:
		var n json.Number
		if err := json.Unmarshal(raw, &n); err != nil {
			return "", err
		}
		return n.String(), nil
	}
}

func orZero(d *decimal.Decimal) decimal.Decimal {
	if d == nil {
		return decimal.Zero
	}
	return *d
}

// describeInvalid flattens validator output into one line.
func describeInvalid(err error) string {
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return err.Error()
	}
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Param() != "" {
			parts = append(parts, fmt.Sprintf("%s must satisfy %s=%s", strings.ToLower(fe.Field()), fe.Tag(), fe.Param()))
			continue
		}
		parts = append(parts, fmt.Sprintf("%s is %s", strings.ToLower(fe.Field()), fe.Tag()))
	}
	return strings.Join(parts, "; ")
}

type invalidItem string

func (e invalidItem) Error() string { return string(e) }

// fieldErrors keeps the first extraction failure of an item.
type fieldErrors struct {
	first error
}

func (e *fieldErrors) text(f fields, keys ...string) string {
	s, err := f.text(keys...)
	e.keep(err)
	return s
}

func (e *fieldErrors) number(f fields, keys ...string) *decimal.Decimal {
	d, err := f.number(keys...)
	e.keep(err)
	return d
}

func (e *fieldErrors) date(f fields, keys ...string) *time.Time {
	d, err := f.date(keys...)
	e.keep(err)
	return d
}

func (e *fieldErrors) keep(err error) {
	if err != nil && e.first == nil {
		e.first = err
	}
}

func (e *fieldErrors) err() error {
	return e.first
}
