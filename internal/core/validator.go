package core

import (
	"errors"
	"log/slog"
	"reflect"
	"regexp"
	"strings"

	"github.com/go-playground/validator/v10"

	"floodguard/internal/types"
)

// locationIDPattern bounds location IDs to URL-safe tokens.
var locationIDPattern = regexp.MustCompile(`^[A-Za-z0-9][A-Za-z0-9_.:-]{0,127}$`)

// ValidationError describes one failed field.
type ValidationError struct {
	Field   string `json:"field"`
	Code    string `json:"code"`
	Message string `json:"message"`
}

// Validator wraps go-playground/validator with the engine's domain tags:
//   - location_id: a URL-safe location identifier
//   - risk_level, alert_action, water_state: known enum values
//
// Field names in errors use the json tag.
type Validator struct {
	validate *validator.Validate
	logger   *slog.Logger
}

// NewValidator creates a Validator with the domain tags registered.
func NewValidator(logger *slog.Logger) *Validator {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name, _, _ := strings.Cut(f.Tag.Get("json"), ",")
		if name == "-" {
			return ""
		}
		if name == "" {
			return f.Name
		}
		return name
	})

	// Registration errors only occur for empty tags or nil funcs.
	_ = v.RegisterValidation("location_id", func(fl validator.FieldLevel) bool {
		return locationIDPattern.MatchString(fl.Field().String())
	})
	_ = v.RegisterValidation("risk_level", func(fl validator.FieldLevel) bool {
		return types.RiskLevel(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("alert_action", func(fl validator.FieldLevel) bool {
		return types.AlertAction(fl.Field().String()).Valid()
	})
	_ = v.RegisterValidation("water_state", func(fl validator.FieldLevel) bool {
		return types.WaterState(fl.Field().String()).Valid()
	})

	return &Validator{validate: v, logger: logger}
}

// ValidateStruct validates s against its tags. Failures are returned as a
// *types.AppError whose code reflects the first failed field and whose
// details carry every failure under "validation_errors".
func (v *Validator) ValidateStruct(s any) error {
	err := v.validate.Struct(s)
	if err == nil {
		return nil
	}
	var fieldErrs validator.ValidationErrors
	if !errors.As(err, &fieldErrs) {
		v.logger.Error("validator misuse", "error", err)
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	errs := make([]ValidationError, 0, len(fieldErrs))
	for _, fe := range fieldErrs {
		errs = append(errs, ValidationError{
			Field:   fieldPath(fe),
			Code:    tagToErrorCode(fe.Tag()),
			Message: fieldMessage(fe),
		})
	}
	return types.NewAppErrorWithDetails(types.ErrorCode(errs[0].Code),
		errs[0].Message, err,
		map[string]any{"validation_errors": errs})
}

// ValidateLocationID checks a location ID taken from the URL.
func (v *Validator) ValidateLocationID(id string) error {
	if id == "" {
		return types.NewAppError(types.ErrCodeValidationMissingField, "location_id is required", nil)
	}
	if err := v.validate.Var(id, "location_id"); err != nil {
		return types.NewAppError(types.ErrCodeValidationInvalidLocation,
			"location_id must be 1-128 characters of letters, digits, '_', '.', ':' or '-'", err)
	}
	return nil
}

// fieldPath drops the root struct name from the namespace.
func fieldPath(fe validator.FieldError) string {
	ns := fe.Namespace()
	if _, rest, ok := strings.Cut(ns, "."); ok {
		return rest
	}
	return ns
}

func fieldMessage(fe validator.FieldError) string {
	field := fieldPath(fe)
	switch fe.Tag() {
	case "required":
		return field + " is required"
	case "min", "gte":
		return field + " must be at least " + fe.Param()
	case "max", "lte":
		return field + " must be at most " + fe.Param()
	case "risk_level", "alert_action", "water_state":
		return field + " has an unknown value"
	default:
		return field + " failed the " + fe.Tag() + " check"
	}
}

// tagToErrorCode maps a validator tag to an error code.
func tagToErrorCode(tag string) string {
	switch tag {
	case "required":
		return string(types.ErrCodeValidationMissingField)
	case "location_id":
		return string(types.ErrCodeValidationInvalidLocation)
	case "alert_action":
		return string(types.ErrCodeValidationInvalidAction)
	case "water_state", "risk_level":
		return string(types.ErrCodeValidationInvalidState)
	default:
		return string(types.ErrCodeValidationInvalidBody)
	}
}
