package core

import (
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"regexp"
	"strings"

	"cloud.google.com/go/civil"
	"github.com/go-playground/validator/v10"

	"cityflow/internal/types"
)

var resultNamePattern = regexp.MustCompile(`^[a-z][a-z0-9_]{0,63}$`)

// fieldCodes selects the error code reported for a failing field, keyed by
// its json name.
var fieldCodes = map[string]types.ErrorCode{
	"date":  types.ErrCodeValidationInvalidDate,
	"limit": types.ErrCodeValidationInvalidLimit,
	"name":  types.ErrCodeValidationInvalidName,
}

// Validator wraps go-playground/validator with the CityFlow tags:
//
//	isodate    YYYY-MM-DD calendar date
//	resultname lower snake case document name
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

func NewValidator(logger *slog.Logger) *Validator {
	if logger == nil {
		logger = slog.Default()
	}
	v := validator.New(validator.WithRequiredStructEnabled())
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		return name
	})
	_ = v.RegisterValidation("isodate", func(fl validator.FieldLevel) bool {
		s := fl.Field().String()
		_, err := civil.ParseDate(s)
		return err == nil
	})
	_ = v.RegisterValidation("resultname", func(fl validator.FieldLevel) bool {
		return resultNamePattern.MatchString(fl.Field().String())
	})
	return &Validator{validate: v, logger: logger}
}

// ValidateStruct returns nil or a validation AppError describing the first
// failing field.
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var verrs validator.ValidationErrors
	if !errors.As(err, &verrs) || len(verrs) == 0 {
		v.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	fe := verrs[0]
	code, ok := fieldCodes[fe.Field()]
	if !ok {
		code = types.ErrCodeValidationInvalidPayload
	}
	return types.NewAppErrorWithDetails(code, describe(fe), err, map[string]any{
		"field": fe.Field(),
		"value": fe.Value(),
	})
}

func describe(fe validator.FieldError) string {
	switch fe.Tag() {
	case "required":
		return fmt.Sprintf("%s is required", fe.Field())
	case "isodate":
		return fmt.Sprintf("%s must be a YYYY-MM-DD date", fe.Field())
	case "resultname":
		return fmt.Sprintf("%s must be a lower snake case identifier", fe.Field())
	case "min", "max":
		return fmt.Sprintf("%s must be between 1 and %d", fe.Field(), MaxListLimit)
	}
	return fmt.Sprintf("%s is invalid", fe.Field())
}
