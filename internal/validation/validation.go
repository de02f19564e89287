// Package validation wraps go-playground/validator with field names taken
// from json tags and messages suitable for API error bodies.
package validation

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"time"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(jsonName)
	// notbefore=<json field> compares two optional timestamps of the same struct.
	_ = v.RegisterValidation("notbefore", notBefore)
	return v
}

// Error describes the first failing field.
type Error struct {
	Field string
	Tag   string
	Param string
	Kind  reflect.Kind
}

func (e *Error) Error() string {
	switch e.Tag {
	case "required":
		return e.Field + " is required"
	case "min":
		if isText(e.Kind) {
			if e.Param == "1" {
				return e.Field + " cannot be empty"
			}
			return fmt.Sprintf("%s must be at least %s characters", e.Field, e.Param)
		}
		return fmt.Sprintf("%s must be >= %s", e.Field, e.Param)
	case "max":
		if isText(e.Kind) {
			return fmt.Sprintf("%s must be at most %s characters", e.Field, e.Param)
		}
		return fmt.Sprintf("%s must be <= %s", e.Field, e.Param)
	case "gte":
		return fmt.Sprintf("%s must be >= %s", e.Field, e.Param)
	case "lte":
		return fmt.Sprintf("%s must be <= %s", e.Field, e.Param)
	case "oneof":
		return fmt.Sprintf("%s must be one of %s", e.Field, strings.Join(strings.Fields(e.Param), ", "))
	case "notbefore":
		return fmt.Sprintf("%s must not be before %s", e.Field, e.Param)
	default:
		return e.Field + " is invalid"
	}
}

// Struct validates s against its validate tags.
func Struct(s any) error {
	return convert(validate.Struct(s), "")
}

// Var validates a single value; field names it in the message.
func Var(field string, value any, tag string) error {
	return convert(validate.Var(value, tag), field)
}

func convert(err error, field string) error {
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	first := fieldErrs[0]
	name := first.Field()
	if field != "" {
		name = field
	}
	return &Error{Field: name, Tag: first.Tag(), Param: first.Param(), Kind: first.Kind()}
}

func jsonName(field reflect.StructField) string {
	name, _, _ := strings.Cut(field.Tag.Get("json"), ",")
	switch name {
	case "-":
		return ""
	case "":
		return strings.ToLower(field.Name)
	}
	return name
}

func notBefore(fl validator.FieldLevel) bool {
	end, ok := timeOf(fl.Field())
	if !ok {
		return true
	}

	parent := fl.Parent()
	for parent.Kind() == reflect.Pointer {
		if parent.IsNil() {
			return true
		}
		parent = parent.Elem()
	}
	if parent.Kind() != reflect.Struct {
		return true
	}

	for i := 0; i < parent.NumField(); i++ {
		if jsonName(parent.Type().Field(i)) != fl.Param() {
			continue
		}
		start, ok := timeOf(parent.Field(i))
		if !ok {
			return true
		}
		return !end.Before(start)
	}
	return true
}

func timeOf(v reflect.Value) (time.Time, bool) {
	for v.Kind() == reflect.Pointer {
		if v.IsNil() {
			return time.Time{}, false
		}
		v = v.Elem()
	}
	t, ok := v.Interface().(time.Time)
	return t, ok
}

func isText(kind reflect.Kind) bool {
	return kind == reflect.String || kind == reflect.Slice || kind == reflect.Map
}
