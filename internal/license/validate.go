package license

import (
	"errors"
	"fmt"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/faucetdb/licensor/internal/model"
)

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterValidation("edition", func(fl validator.FieldLevel) bool {
		_, err := model.ParseEdition(fl.Field().String())
		return err == nil
	})
	v.RegisterTagNameFunc(func(fld reflect.StructField) string {
		name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})
	return v
}

// validate maps struct validation failures onto the status taxonomy. An
// unknown edition wins over any other field error.
func (e *Engine) validate(req interface{}) (Status, string) {
	err := e.validator.Struct(req)
	if err == nil {
		return StatusOK, ""
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return StatusInvalidRequest, err.Error()
	}
	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		if fe.Tag() == "edition" {
			return StatusInvalidEdition, fmt.Sprintf("%s must be one of BASIC, PRO, ENTERPRISE", fe.Field())
		}
		msgs = append(msgs, describe(fe))
	}
	return StatusInvalidRequest, strings.Join(msgs, "; ")
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fe.Field() + " is required"
	case "min":
		return fmt.Sprintf("%s must be at least %s", fe.Field(), fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", fe.Field(), fe.Param())
	case "email":
		return fe.Field() + " must be a valid email address"
	default:
		return fmt.Sprintf("%s failed %s validation", fe.Field(), fe.Tag())
	}
}
