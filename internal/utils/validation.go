package utils

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"unicode"

	"github.com/go-playground/validator/v10"
)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// ValidateStruct checks the validate tags of s and returns the violations
// keyed by JSON field path ("specifications.0.label"). It returns nil when s is valid.
func ValidateStruct(s interface{}) map[string][]string {
	err := validate.Struct(s)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return map[string][]string{"request": {err.Error()}}
	}

	out := make(map[string][]string, len(verrs))
	for _, fe := range verrs {
		key := fieldPath(fe.Namespace())
		out[key] = append(out[key], message(fe))
	}
	return out
}

// fieldPath turns "CreateCarInput.CarAttributes.specifications[0].label" into
// "specifications.0.label". Segments still named after Go types are dropped.
func fieldPath(namespace string) string {
	namespace = strings.NewReplacer("[", ".", "]", "").Replace(namespace)
	parts := strings.Split(namespace, ".")
	kept := parts[:0]
	for _, p := range parts {
		if p == "" {
			continue
		}
		if r := rune(p[0]); unicode.IsUpper(r) {
			continue
		}
		kept = append(kept, p)
	}
	return strings.Join(kept, ".")
}

func message(fe validator.FieldError) string {
	isString := fe.Kind() == reflect.String
	switch fe.Tag() {
	case "required", "required_with", "required_without":
		return "is required"
	case "max":
		if isString {
			return fmt.Sprintf("may not be longer than %s characters", fe.Param())
		}
		return fmt.Sprintf("may not be greater than %s", fe.Param())
	case "min":
		if isString {
			return fmt.Sprintf("must be at least %s characters", fe.Param())
		}
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "gte":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "lte":
		return fmt.Sprintf("may not be greater than %s", fe.Param())
	case "len":
		return fmt.Sprintf("must be exactly %s characters", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of: %s", strings.ReplaceAll(fe.Param(), " ", ", "))
	case "uuid", "uuid4":
		return "must be a valid UUID"
	case "email":
		return "must be a valid email address"
	case "alpha":
		return "may only contain letters"
	case "eqfield":
		return "confirmation does not match"
	default:
		return "is invalid"
	}
}
