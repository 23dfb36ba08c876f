package core

import (
	"strings"

	"github.com/go-playground/validator/v10"

	"learnloop/internal/types"
)

// Validator wraps go-playground/validator and translates its failures into
// the structured validation errors clients see.
type Validator struct {
	validate *validator.Validate
}

func NewValidator() *Validator {
	v := validator.New(validator.WithRequiredStructEnabled())
	return &Validator{validate: v}
}

// ValidateStruct checks dst against its validate tags. Failures come back
// as a single AppError listing every offending field.
func (v *Validator) ValidateStruct(dst interface{}) error {
	err := v.validate.Struct(dst)
	if err == nil {
		return nil
	}

	validationErrs, ok := err.(validator.ValidationErrors)
	if !ok {
		return types.NewAppError(types.ErrCodeInternalUnexpected, "request validation failed", err)
	}

	fields := make(map[string]any, len(validationErrs))
	for _, fe := range validationErrs {
		fields[strings.ToLower(fe.Field())] = fe.Tag()
	}

	return types.NewAppErrorWithDetails(types.ErrCodeValidationMissingField,
		"request validation failed", nil, fields)
}
