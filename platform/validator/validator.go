// Package validator wraps go-playground/validator for request DTOs and
// definition files. Field errors are reported under their wire names.
package validator

import (
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
)

type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(wireName)
	return &Validator{v: v}
}

// Struct validates s against its `validate` tags.
func (val *Validator) Struct(s any) error {
	return val.v.Struct(s)
}

// wireName prefers the json, yaml or form key so messages match what the
// caller actually sent.
func wireName(field reflect.StructField) string {
	for _, key := range []string{"json", "yaml", "form"} {
		name, _, _ := strings.Cut(field.Tag.Get(key), ",")
		if name == "-" {
			return ""
		}
		if name != "" {
			return name
		}
	}
	return field.Name
}
