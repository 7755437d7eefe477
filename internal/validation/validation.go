// Package validation wraps go-playground/validator with English translations and
// the custom rules used by block props and workflow input.
package validation

import (
	"errors"
	"fmt"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/locales/en"
	ut "github.com/go-playground/universal-translator"
	"github.com/go-playground/validator/v10"
	entranslations "github.com/go-playground/validator/v10/translations/en"
)

var (
	defaultValidator = validator.New()
	defaultEn        = en.New()
	uni              = ut.New(defaultEn, defaultEn)
	trans, _         = uni.GetTranslator(defaultEn.Locale())
)

// Violation is a single failed rule. Field is the JSON path of the offending
// value relative to the validated struct, e.g. "options[1].id".
type Violation struct {
	Field       string
	Tag         string
	Description string
}

// Error returns the translated description.
func (v Violation) Error() string {
	return v.Description
}

// RegisterValidation registers a custom rule on the shared validator.
func RegisterValidation(tag string, fn validator.Func) error {
	if err := defaultValidator.RegisterValidation(tag, fn); err != nil {
		return fmt.Errorf("register validation: %w", err)
	}
	return nil
}

// RegisterTranslation registers the English message for tag. {0} is the field
// name and {1} the rule parameter.
func RegisterTranslation(tag, msg string) error {
	if err := defaultValidator.RegisterTranslation(
		tag,
		trans,
		func(ut ut.Translator) error {
			if err := ut.Add(tag, msg, true); err != nil {
				return fmt.Errorf("register translation: %w", err)
			}
			return nil
		},
		func(ut ut.Translator, fe validator.FieldError) string {
			t, _ := ut.T(tag, fe.Field(), fe.Param())
			return t
		},
	); err != nil {
		return fmt.Errorf("register translation: %w", err)
	}
	return nil
}

// Struct validates s and returns every violation. A nil result means s is valid.
func Struct(s any) []Violation {
	err := defaultValidator.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []Violation{{Tag: "invalid", Description: err.Error()}}
	}
	violations := make([]Violation, 0, len(fieldErrs))
	for _, e := range fieldErrs {
		violations = append(violations, Violation{
			Field:       fieldPath(e.Namespace()),
			Tag:         e.Tag(),
			Description: e.Translate(trans),
		})
	}
	return violations
}

// Var validates a single value against tag.
func Var(v any, tag string) error {
	err := defaultValidator.Var(v, tag)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return err
	}
	e := fieldErrs[0]
	return Violation{Tag: e.Tag(), Description: e.Translate(trans)}
}

// IsHTTPURL reports whether raw is an absolute http(s) URL with a host.
func IsHTTPURL(raw string) bool {
	parsed, err := url.ParseRequestURI(strings.TrimSpace(raw))
	if err != nil {
		return false
	}
	if parsed.Scheme != "http" && parsed.Scheme != "https" {
		return false
	}
	return parsed.Host != ""
}

// fieldPath drops the root struct name from a validator namespace.
func fieldPath(namespace string) string {
	if idx := strings.Index(namespace, "."); idx >= 0 {
		return namespace[idx+1:]
	}
	return namespace
}

func jsonName(field reflect.StructField) string {
	name := strings.SplitN(field.Tag.Get("json"), ",", 2)[0]
	switch name {
	case "-":
		return ""
	case "":
		return field.Name
	default:
		return name
	}
}

func mustRegister(tag string, fn validator.Func, msg string) {
	if fn != nil {
		if err := RegisterValidation(tag, fn); err != nil {
			panic(fmt.Sprintf("validation %s: %v", tag, err))
		}
	}
	if err := RegisterTranslation(tag, msg); err != nil {
		panic(fmt.Sprintf("validation %s: %v", tag, err))
	}
}

func init() {
	defaultValidator.RegisterTagNameFunc(jsonName)
	if err := entranslations.RegisterDefaultTranslations(defaultValidator, trans); err != nil {
		panic(fmt.Sprintf("validation register default translations: %v", err))
	}

	mustRegister("notblank", func(level validator.FieldLevel) bool {
		return strings.TrimSpace(level.Field().String()) != ""
	}, "{0} must not be blank")
	mustRegister("httpurl", func(level validator.FieldLevel) bool {
		return IsHTTPURL(level.Field().String())
	}, "{0} must be a well-formed http(s) URL")
	mustRegister("iso4217", nil, "{0} must be a 3-letter ISO 4217 currency code")
	mustRegister("unique", nil, "{0} must not contain duplicate ids")
}
