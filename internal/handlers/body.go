package handlers

import (
	"encoding/json"
	"errors"
	"reflect"
	"strconv"
	"strings"
	"unicode"

	"github.com/gofiber/fiber/v2"
	"github.com/shopspring/decimal"

	"github.com/example/autocatalog/internal/services"
)

var decimalType = reflect.TypeOf(decimal.Decimal{})

func init() {
	// Multipart forms carry prices as plain strings.
	fiber.SetParserDecoder(fiber.ParserConfig{
		IgnoreUnknownKeys: true,
		ZeroEmpty:         true,
		ParserType: []fiber.ParserType{{
			Customtype: decimal.Decimal{},
			Converter:  decimalConverter,
		}},
	})
}

func decimalConverter(value string) reflect.Value {
	d, err := decimal.NewFromString(strings.TrimSpace(value))
	if err != nil {
		return reflect.Value{}
	}
	return reflect.ValueOf(d)
}

// parseBody decodes a JSON or multipart body into out.
//
// Blank multipart fields are treated as absent. Values that cannot be
// converted to the type of their field are reported as validation errors
// keyed by the field name.
func parseBody(c *fiber.Ctx, out interface{}) error {
	switch {
	case isMultipart(c):
		form, err := c.MultipartForm()
		if err != nil {
			return fiber.NewError(fiber.StatusBadRequest, "invalid multipart body")
		}
		dropBlankValues(form.Value)
		if err := checkFormValues(form.Value, out); err != nil {
			return err
		}
	case c.Is("json") && len(c.Body()) > 0:
		if err := checkJSONDecimals(c.Body(), out); err != nil {
			return err
		}
	}

	if err := c.BodyParser(out); err != nil {
		var typeErr *json.UnmarshalTypeError
		if errors.As(err, &typeErr) && typeErr.Field != "" {
			verr := &services.ValidationError{}
			verr.Add(jsonFieldPath(typeErr.Field), "must be "+describeType(typeErr.Type))
			return verr
		}
		return bodyError()
	}
	return nil
}

// dropBlankValues removes empty values in place. fasthttp caches the parsed
// form, so later reads through BodyParser and FormValue see the filtered map.
func dropBlankValues(values map[string][]string) {
	for key, vals := range values {
		kept := vals[:0]
		for _, v := range vals {
			if strings.TrimSpace(v) != "" {
				kept = append(kept, v)
			}
		}
		if len(kept) == 0 {
			delete(values, key)
			continue
		}
		values[key] = kept
	}
}

func checkFormValues(values map[string][]string, out interface{}) error {
	types := fieldTypes(reflect.TypeOf(out), "form")
	verr := &services.ValidationError{}
	for key, vals := range values {
		t, ok := types[key]
		if !ok || len(vals) == 0 {
			continue
		}
		// the decoder keeps the last value of a repeated key
		if !convertible(vals[len(vals)-1], t) {
			verr.Add(key, "must be "+describeType(t))
		}
	}
	return verr.Err()
}

// checkJSONDecimals reports decimal fields that do not hold a number. The
// decimal package fails those without naming the field.
func checkJSONDecimals(body []byte, out interface{}) error {
	var raw map[string]json.RawMessage
	if err := json.Unmarshal(body, &raw); err != nil {
		return bodyError()
	}

	types := fieldTypes(reflect.TypeOf(out), "json")
	verr := &services.ValidationError{}
	for key, value := range raw {
		if types[key] != decimalType {
			continue
		}
		var d decimal.Decimal
		if err := d.UnmarshalJSON(value); err != nil {
			verr.Add(key, "must be a number")
		}
	}
	return verr.Err()
}

// fieldTypes maps the tag names of t's fields, promoted fields included, to
// their dereferenced types.
func fieldTypes(t reflect.Type, tag string) map[string]reflect.Type {
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	fields := make(map[string]reflect.Type)
	if t.Kind() != reflect.Struct {
		return fields
	}

	for i := 0; i < t.NumField(); i++ {
		f := t.Field(i)
		if f.Anonymous && f.Type.Kind() == reflect.Struct {
			for name, ft := range fieldTypes(f.Type, tag) {
				fields[name] = ft
			}
			continue
		}
		if !f.IsExported() {
			continue
		}
		name, _, _ := strings.Cut(f.Tag.Get(tag), ",")
		if name == "" || name == "-" {
			continue
		}
		ft := f.Type
		for ft.Kind() == reflect.Ptr {
			ft = ft.Elem()
		}
		fields[name] = ft
	}
	return fields
}

func convertible(value string, t reflect.Type) bool {
	if t == decimalType {
		_, err := decimal.NewFromString(strings.TrimSpace(value))
		return err == nil
	}

	var err error
	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64:
		_, err = strconv.ParseInt(value, 10, t.Bits())
	case reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		_, err = strconv.ParseUint(value, 10, t.Bits())
	case reflect.Float32, reflect.Float64:
		_, err = strconv.ParseFloat(value, t.Bits())
	case reflect.Bool:
		if value == "on" {
			return true
		}
		_, err = strconv.ParseBool(value)
	}
	return err == nil
}

func describeType(t reflect.Type) string {
	if t == nil {
		return "a valid value"
	}
	for t.Kind() == reflect.Ptr {
		t = t.Elem()
	}
	if t == decimalType {
		return "a number"
	}

	switch t.Kind() {
	case reflect.Int, reflect.Int8, reflect.Int16, reflect.Int32, reflect.Int64,
		reflect.Uint, reflect.Uint8, reflect.Uint16, reflect.Uint32, reflect.Uint64:
		return "an integer"
	case reflect.Float32, reflect.Float64:
		return "a number"
	case reflect.Bool:
		return "true or false"
	case reflect.String:
		return "a string"
	case reflect.Slice, reflect.Array:
		return "an array"
	case reflect.Struct, reflect.Map:
		return "an object"
	default:
		return "a valid value"
	}
}

// jsonFieldPath drops Go struct names that newer encoding/json releases put
// in front of promoted fields, leaving the JSON keys.
func jsonFieldPath(field string) string {
	parts := strings.Split(field, ".")
	keys := parts[:0]
	for _, p := range parts {
		if p != "" && unicode.IsUpper(rune(p[0])) {
			continue
		}
		keys = append(keys, p)
	}
	if len(keys) == 0 {
		return field
	}
	return strings.Join(keys, ".")
}
