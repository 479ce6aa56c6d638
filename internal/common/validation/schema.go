package validation

import (
	"fmt"
	"regexp"
	"strings"

	apperrors "appeals-workers/internal/common/errors"
	"appeals-workers/pkg/registry"

	"github.com/xeipuuv/gojsonschema"
)

var activityIDPattern = regexp.MustCompile(`^[a-z]+\.[a-z]+\.[a-z]+$`)

// Validator checks raw job variables against a compiled JSON schema.
type Validator struct {
	taskType string
	schema   *gojsonschema.Schema
}

// NewValidator compiles schemaMap. An empty schema accepts any object.
func NewValidator(taskType string, schemaMap map[string]interface{}) (*Validator, error) {
	if len(schemaMap) == 0 {
		return &Validator{taskType: taskType}, nil
	}
	schema, err := gojsonschema.NewSchema(gojsonschema.NewGoLoader(schemaMap))
	if err != nil {
		return nil, fmt.Errorf("compile schema for %s: %w", taskType, err)
	}
	return &Validator{taskType: taskType, schema: schema}, nil
}

// ForTask builds a Validator from the input schema registered for taskType.
func ForTask(taskType string) (*Validator, error) {
	reg, err := registry.Default()
	if err != nil {
		return nil, err
	}
	activity, ok := reg.FindByTaskType(taskType)
	if !ok {
		return nil, fmt.Errorf("task type %q is not registered", taskType)
	}
	if err := ValidateActivityNaming(activity.ID); err != nil {
		return nil, err
	}
	return NewValidator(taskType, activity.InputSchema)
}

// MustForTask is ForTask for handler constructors; the catalog is compiled in, so a
// missing entry is a programming error.
func MustForTask(taskType string) *Validator {
	v, err := ForTask(taskType)
	if err != nil {
		panic(err)
	}
	return v
}

// Validate returns an INPUT_VALIDATION_FAILED error listing every violation.
func (v *Validator) Validate(variables string) error {
	if v == nil || v.schema == nil {
		return nil
	}

	result, err := v.schema.Validate(gojsonschema.NewStringLoader(variables))
	if err != nil {
		return apperrors.NewInputValidationError(fmt.Sprintf("%s: %v", v.taskType, err))
	}
	if result.Valid() {
		return nil
	}

	msgs := make([]string, len(result.Errors()))
	for i, desc := range result.Errors() {
		msgs[i] = desc.String()
	}
	return apperrors.NewInputValidationError(fmt.Sprintf("%s: %s", v.taskType, strings.Join(msgs, "; ")))
}

// ValidateActivityNaming validates activity ID follows naming convention
func ValidateActivityNaming(activityID string) error {
	if !activityIDPattern.MatchString(activityID) {
		return fmt.Errorf("activity ID must follow format: domain.subdomain.action (e.g., wallet.balance.deduct)")
	}
	return nil
}
