package middleware_test

import (
	"testing"

	. "github.com/arkflow/jobqueue/pkg/api/middleware"
)

func TestValidator_ValidateJobType_AcceptsUnrestrictedByDefault(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	for _, jobType := range []string{"shell", "email", "video"} {
		if err := v.ValidateJobType(jobType); err != nil {
			t.Errorf("expected job type %q to be valid with no AllowedJobTypes set, got error: %v", jobType, err)
		}
	}
}

func TestValidator_ValidateJobType_AcceptsAllowed(t *testing.T) {
	config := DefaultValidatorConfig()
	config.AllowedJobTypes = []string{"shell", "email", "video"}
	v := NewValidator(config)

	for _, jobType := range config.AllowedJobTypes {
		if err := v.ValidateJobType(jobType); err != nil {
			t.Errorf("expected job type %q to be valid, got error: %v", jobType, err)
		}
	}
}

func TestValidator_ValidateJobType_RejectsUnregistered(t *testing.T) {
	config := DefaultValidatorConfig()
	config.AllowedJobTypes = []string{"shell"}
	v := NewValidator(config)

	if err := v.ValidateJobType("unknown"); err == nil {
		t.Error("expected unregistered job type to be rejected")
	}
}

func TestValidator_ValidateJobType_RejectsEmpty(t *testing.T) {
	v := NewValidator(DefaultValidatorConfig())

	if err := v.ValidateJobType(""); err == nil {
		t.Error("expected empty job type to be rejected")
	}
}

func TestValidator_ValidateJobType_RejectsTooLong(t *testing.T) {
	config := DefaultValidatorConfig()
	config.MaxTypeLength = 5
	v := NewValidator(config)

	if err := v.ValidateJobType("much-too-long-a-type-name"); err == nil {
		t.Error("expected overlong job type to be rejected")
	}
}

func TestValidationError_Error(t *testing.T) {
	err := &ValidationError{
		Field:   "type",
		Message: "unregistered job type",
	}

	expected := "type: unregistered job type"
	if err.Error() != expected {
		t.Errorf("expected %q, got %q", expected, err.Error())
	}
}
