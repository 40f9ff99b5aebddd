package dto

import (
	"errors"
	"fmt"
	"reflect"
	"strings"
	"sync"

	"brokerage-client/internal/apperr"
	"brokerage-client/internal/entity"

	"github.com/go-playground/validator/v10"
)

var (
	validate     *validator.Validate
	validateOnce sync.Once
)

func validatorInstance() *validator.Validate {
	validateOnce.Do(func() {
		validate = validator.New(validator.WithRequiredStructEnabled())
		validate.RegisterTagNameFunc(func(fld reflect.StructField) string {
			name := strings.SplitN(fld.Tag.Get("json"), ",", 2)[0]
			if name == "" || name == "-" {
				return fld.Name
			}
			return name
		})
		_ = validate.RegisterValidation("notification_type", func(fl validator.FieldLevel) bool {
			return entity.NotificationType(fl.Field().String()).Valid()
		})
		_ = validate.RegisterValidation("clock", func(fl validator.FieldLevel) bool {
			return entity.ValidClock(fl.Field().String())
		})
	})
	return validate
}

// Validate runs struct tags and converts failures into a Validation error for op.
func Validate(op string, v interface{}) error {
	err := validatorInstance().Struct(v)
	if err == nil {
		return nil
	}

	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) {
		return apperr.Wrap(apperr.KindValidation, op, err)
	}

	msgs := make([]string, 0, len(verrs))
	for _, fe := range verrs {
		msgs = append(msgs, describe(fe))
	}
	return apperr.New(apperr.KindValidation, op, strings.Join(msgs, "; "))
}

func describe(fe validator.FieldError) string {
	field := fe.Field()
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", field)
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "len":
		return fmt.Sprintf("%s must have exactly %s entries", field, fe.Param())
	case "oneof":
		return fmt.Sprintf("%s must be one of [%s]", field, fe.Param())
	case "notification_type":
		return fmt.Sprintf("%s is not a known notification type", field)
	case "clock":
		return fmt.Sprintf("%s must be a HH:MM time of day", field)
	case "email":
		return fmt.Sprintf("%s must be a valid email", field)
	default:
		return fmt.Sprintf("%s failed %s", field, fe.Tag())
	}
}
