package validator

import (
	"context"
	"errors"
	"net/url"

	"github.com/go-playground/validator"

	"gameRoster/internal/model"
)

var global *validator.Validate

const (
	ErrInvalidFormat      = "Invalid format"
	ErrFieldRequired      = "Field is required"
	ErrFieldExceedsMaxLen = "Field exceeds maximum length"
	ErrFieldBelowMinLen   = "Field is below minimum length"
	ErrFieldExceedsMaxVal = "Field exceeds maximum value"
	ErrFieldBelowMinVal   = "Field is below minimum value"
	ErrUnknownValidation  = "Unknown validation error"
)

func init() {
	SetValidator(New())
}

func New() *validator.Validate {
	v := validator.New()
	_ = v.RegisterValidation("role", validateRole)
	_ = v.RegisterValidation("positive", validatePositiveInt)
	_ = v.RegisterValidation("mapsurl", validateMapsURL)
	_ = v.RegisterValidation("cpf", validateCPF)
	_ = v.RegisterValidation("cellphone", validateCellphone)
	return v
}

func SetValidator(v *validator.Validate) {
	global = v
}

func Validator() *validator.Validate {
	return global
}

func validateRole(fl validator.FieldLevel) bool {
	switch fl.Field().String() {
	case "PLAYER", "GOALKEEPER":
		return true
	}
	return false
}

func validatePositiveInt(fl validator.FieldLevel) bool {
	return fl.Field().Int() > 0
}

// validateMapsURL accepts an empty value or an absolute http(s) link.
func validateMapsURL(fl validator.FieldLevel) bool {
	raw := fl.Field().String()
	if raw == "" {
		return true
	}
	u, err := url.Parse(raw)
	return err == nil && (u.Scheme == "http" || u.Scheme == "https") && u.Host != ""
}

// validateCPF accepts formatted (000.000.000-00) or bare documents.
func validateCPF(fl validator.FieldLevel) bool {
	return model.ValidCPF(model.Digits(fl.Field().String()))
}

// validateCellphone accepts an area code plus an 8 or 9 digit number.
func validateCellphone(fl validator.FieldLevel) bool {
	n := len(model.Digits(fl.Field().String()))
	return n == 10 || n == 11
}

func Validate(ctx context.Context, structure any) error {
	return parseValidationErrors(Validator().StructCtx(ctx, structure))
}

func parseValidationErrors(err error) error {
	if err == nil {
		return nil
	}
	vErrors, ok := err.(validator.ValidationErrors)
	if !ok || len(vErrors) == 0 {
		return nil
	}
	ve := vErrors[0]
	var msg string
	switch ve.Tag() {
	case "mapsurl":
		msg = ErrInvalidFormat
	case "required":
		msg = ErrFieldRequired
	case "max":
		msg = ErrFieldExceedsMaxLen
	case "min":
		msg = ErrFieldBelowMinLen
	case "lt", "lte":
		msg = ErrFieldExceedsMaxVal
	case "gt", "gte":
		msg = ErrFieldBelowMinVal
	case "role":
		msg = "Role must be PLAYER or GOALKEEPER"
	case "positive":
		msg = "Value must be positive"
	case "cpf":
		msg = "CPF is not valid"
	case "cellphone":
		msg = "Cellphone must have 10 or 11 digits"
	default:
		msg = ErrUnknownValidation
	}
	return errors.New(msg + ": " + ve.Namespace())
}
