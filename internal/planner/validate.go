package planner

import (
	"errors"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/cyderes/content-planner/internal/apperr"
	"github.com/cyderes/content-planner/internal/calendar"
	"github.com/cyderes/content-planner/internal/models"
)

func newValidator() *validator.Validate {
	v := validator.New()

	// report fields by their JSON names
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "-" {
			return ""
		}
		return name
	})

	_ = v.RegisterValidation("clock", validateClock)
	_ = v.RegisterValidation("zone", validateZone)
	_ = v.RegisterValidation("kind", validateKind)
	return v
}

func validateClock(fl validator.FieldLevel) bool {
	_, _, err := calendar.ParseClock(fl.Field().String())
	return err == nil
}

func validateZone(fl validator.FieldLevel) bool {
	_, err := calendar.LoadZone(fl.Field().String())
	return err == nil
}

func validateKind(fl validator.FieldLevel) bool {
	return models.IsKnownKind(fl.Field().String())
}

// check validates a request struct and converts the first failure into a
// ValidationError with a readable message
func (s *Service) check(req interface{}) error {
	err := s.validate.Struct(req)
	if err == nil {
		return nil
	}

	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) || len(fieldErrs) == 0 {
		return apperr.Validationf("invalid request: %v", err)
	}

	fe := fieldErrs[0]
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return apperr.Validationf("%s is required", field)
	case "datetime":
		return apperr.Validationf("%s must be a date in YYYY-MM-DD form", field)
	case "clock":
		return apperr.Validationf("%s must be a time in HH:MM form", field)
	case "zone":
		return apperr.Validationf("%s %q is not a known IANA timezone", field, fe.Value())
	case "kind":
		return apperr.Validationf("%s must be one of post, reel, story, tiktok", field)
	case "oneof":
		return apperr.Validationf("%s must be one of %s", field, fe.Param())
	case "min":
		if fe.Kind() == reflect.Slice {
			return apperr.Validationf("%s must list at least %s entries", field, fe.Param())
		}
		return apperr.Validationf("%s must be at least %s", field, fe.Param())
	case "max":
		return apperr.Validationf("%s must be at most %s", field, fe.Param())
	default:
		return apperr.Validationf("%s is invalid", field)
	}
}
