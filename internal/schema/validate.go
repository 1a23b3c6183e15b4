package schema

import (
	"errors"
	"fmt"
	"sort"

	"github.com/go-playground/validator/v10"

	"github.com/noah-isme/collections-gateway/internal/models"
	appErrors "github.com/noah-isme/collections-gateway/pkg/errors"
)

// Validate checks the declared rules against values and returns one message per failing
// field. A nil result means the values are valid.
func (s *Schema) Validate(validate *validator.Validate, values models.Values) appErrors.FieldErrors {
	if validate == nil {
		validate = validator.New()
	}
	rules := make(map[string]interface{}, len(s.Fields))
	data := make(map[string]interface{}, len(s.Fields))
	for _, f := range s.Fields {
		if f.Rules == "" {
			continue
		}
		rules[f.Name] = f.Rules
		data[f.Name] = values[f.Name]
	}
	if len(rules) == 0 {
		return nil
	}
	result := validate.ValidateMap(data, rules)
	if len(result) == 0 {
		return nil
	}
	fields := make(appErrors.FieldErrors, len(result))
	names := make([]string, 0, len(result))
	for name := range result {
		names = append(names, name)
	}
	sort.Strings(names)
	for _, name := range names {
		fields[name] = describe(result[name])
	}
	return fields
}

// ValidationError wraps field errors into the typed validation error.
func ValidationError(fields appErrors.FieldErrors) error {
	if len(fields) == 0 {
		return nil
	}
	return appErrors.WithFields(appErrors.ErrValidation, fields)
}

func describe(result interface{}) string {
	err, ok := result.(error)
	if !ok {
		return "is invalid"
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		return err.Error()
	}
	fe := verrs[0]
	switch fe.Tag() {
	case "required":
		return "is required"
	case "email":
		return "must be a valid email address"
	case "url":
		return "must be a valid URL"
	case "uuid", "uuid4":
		return "must be a valid identifier"
	case "max":
		return fmt.Sprintf("must be at most %s", fe.Param())
	case "min":
		return fmt.Sprintf("must be at least %s", fe.Param())
	case "oneof":
		return fmt.Sprintf("must be one of [%s]", fe.Param())
	case "datetime":
		return fmt.Sprintf("must be a date formatted as %s", fe.Param())
	default:
		return fmt.Sprintf("failed %s validation", fe.Tag())
	}
}
