package service

import (
	"errors"
	"fmt"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"github.com/mallfront/storefront-client/internal/core/domain"
)

// orderNoPattern is the backend's numeric order-number format.
var orderNoPattern = regexp.MustCompile(`^\d{17,20}$`)

var validate = newValidator()

func newValidator() *validator.Validate {
	v := validator.New(validator.WithRequiredStructEnabled())
	_ = v.RegisterValidation("orderno", func(fl validator.FieldLevel) bool {
		return orderNoPattern.MatchString(fl.Field().String())
	})
	return v
}

// validateStruct runs tag validation and folds every field error into one
// ValidationFailure.
func validateStruct(i any) error {
	if err := validate.Struct(i); err != nil {
		var ve validator.ValidationErrors
		if errors.As(err, &ve) {
			msgs := make([]string, 0, len(ve))
			for _, fe := range ve {
				msgs = append(msgs, fieldError(fe))
			}
			return domain.NewValidation(strings.Join(msgs, "; "), err)
		}
		return domain.NewValidation(err.Error(), err)
	}
	return nil
}

// validateOrderNo rejects anything that is not a backend order number.
func validateOrderNo(orderNo string) error {
	if err := validate.Var(orderNo, "required,orderno"); err != nil {
		return domain.NewValidation("order number must be 17 to 20 digits", domain.ErrInvalidOrderNo)
	}
	return nil
}

func fieldError(fe validator.FieldError) string {
	field := strings.ToLower(fe.Field())
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "email":
		return field + " must be a valid email"
	case "eqfield":
		return fmt.Sprintf("%s must match %s", field, strings.ToLower(fe.Param()))
	case "gt":
		return fmt.Sprintf("%s must be greater than %s", field, fe.Param())
	case "min":
		return fmt.Sprintf("%s must be at least %s", field, fe.Param())
	case "max":
		return fmt.Sprintf("%s must be at most %s", field, fe.Param())
	case "orderno":
		return field + " must be 17 to 20 digits"
	default:
		return fmt.Sprintf("%s failed validation (%s)", field, fe.Tag())
	}
}
