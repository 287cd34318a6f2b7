package validate

import (
	"errors"
	"regexp"
	"strings"

	"github.com/ehr/clinicbridge/internal/platform/apperr"
	"github.com/go-playground/validator/v10"
)

var (
	mboPattern  = regexp.MustCompile(`^\d{9}$`)
	icd10Prefix = regexp.MustCompile(`^[A-Z]\d{2}`)
)

var messages = map[string]string{
	"required": "is required",
	"oneof":    "must be one of %s",
	"mbo":      "must be a 9 digit insurance number",
	"icd10":    "must be an ICD-10 code",
	"uuid":     "must be a UUID",
	"gt":       "must be greater than %s",
	"max":      "must be at most %s characters",
}

// Validator implements echo.Validator on top of go-playground/validator.
type Validator struct {
	v *validator.Validate
}

func New() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("mbo", func(fl validator.FieldLevel) bool {
		return mboPattern.MatchString(fl.Field().String())
	})
	v.RegisterValidation("icd10", func(fl validator.FieldLevel) bool {
		return icd10Prefix.MatchString(fl.Field().String())
	})
	return &Validator{v: v}
}

// Validate returns an apperr Invalid error listing every failed field.
func (cv *Validator) Validate(i interface{}) error {
	err := cv.v.Struct(i)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Invalid("%v", err)
	}
	return apperr.Invalid("%s", Format(verrs))
}

// Format renders validation errors as "field message" pairs.
func Format(verrs validator.ValidationErrors) string {
	parts := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msg, ok := messages[fe.Tag()]
		if !ok {
			msg = "is invalid"
		}
		if strings.Contains(msg, "%s") {
			msg = strings.Replace(msg, "%s", strings.Join(strings.Fields(fe.Param()), ", "), 1)
		}
		parts = append(parts, strings.ToLower(fe.Field())+" "+msg)
	}
	return strings.Join(parts, "; ")
}
