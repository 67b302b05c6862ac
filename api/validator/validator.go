// Package validator checks request options and configuration against
// struct tags, adding rules for log references and URL prefixes.
package validator

import (
	"errors"
	"net"
	"net/url"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/ssbc/ssb-viewer/ssb"
)

// Validator is a struct that provides methods for struct validation using the underlying validator library.
type Validator struct {
	cli *validator.Validate
}

// ValidationError represents an error encountered during validation of a struct field.
type ValidationError struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

func (e ValidationError) Error() string {
	return e.Field + ": " + e.Message
}

func (v *Validator) formatError(err error) []ValidationError {
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		return []ValidationError{{Message: err.Error()}}
	}
	out := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		out = append(out, ValidationError{
			Field:   fe.Field(),
			Message: message(fe),
		})
	}
	return out
}

func message(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return "is required"
	case "ssbref":
		return "must be a feed, message or blob reference"
	case "feedref":
		return "must be a feed reference"
	case "urlprefix":
		return "must be an absolute http(s) URL, a path or a fragment"
	case "listenaddr":
		return "must be a host:port address"
	}
	return fe.Error()
}

// ValidateStruct validates the provided struct using the underlying validator and returns a slice of validation errors.
func (v *Validator) ValidateStruct(s any) []ValidationError {
	if err := v.cli.Struct(s); err != nil {
		return v.formatError(err)
	}
	return nil
}

// Validate checks the provided value against the specified validation tags and returns a slice of validation errors.
func (v *Validator) Validate(value any, tag string) []ValidationError {
	if err := v.cli.Var(value, tag); err != nil {
		return v.formatError(err)
	}
	return nil
}

// New initializes and returns a new instance of the Validator
func New() *Validator {
	cli := validator.New(validator.WithRequiredStructEnabled())
	cli.RegisterTagNameFunc(func(f reflect.StructField) string {
		for _, key := range []string{"query", "yaml"} {
			if name, _, _ := strings.Cut(f.Tag.Get(key), ","); name != "" && name != "-" {
				return name
			}
		}
		return f.Name
	})
	must(cli.RegisterValidation("ssbref", func(fl validator.FieldLevel) bool {
		return ssb.IsRef(fl.Field().String())
	}))
	must(cli.RegisterValidation("feedref", func(fl validator.FieldLevel) bool {
		return ssb.IsFeed(fl.Field().String())
	}))
	must(cli.RegisterValidation("urlprefix", func(fl validator.FieldLevel) bool {
		return urlPrefix(fl.Field().String())
	}))
	must(cli.RegisterValidation("listenaddr", func(fl validator.FieldLevel) bool {
		_, port, err := net.SplitHostPort(fl.Field().String())
		return err == nil && port != ""
	}))
	return &Validator{cli: cli}
}

func must(err error) {
	if err != nil {
		panic(err)
	}
}

// urlPrefix accepts what links are built from: an absolute http(s) URL, a
// path, or an in-page fragment.
func urlPrefix(s string) bool {
	if strings.HasPrefix(s, "/") || strings.HasPrefix(s, "#") {
		return !strings.ContainsAny(s, "\"<> \t\n")
	}
	u, err := url.Parse(s)
	if err != nil {
		return false
	}
	return (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}
