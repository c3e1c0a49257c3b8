// Package config handles configuration loading and validation for the
// entropy-qa daemon.
package config

import (
	"fmt"
	"strings"
)

// ValidationError represents a single configuration validation error.
type ValidationError struct {
	Field   string
	Message string
	Warn    bool
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("config: %s: %s", e.Field, e.Message)
}

// IsWarning reports whether this error is advisory rather than fatal.
func (e *ValidationError) IsWarning() bool {
	return e.Warn
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	msgs := make([]string, 0, len(e))
	for _, err := range e {
		msgs = append(msgs, err.Error())
	}
	return strings.Join(msgs, "; ")
}

// Errors returns only the fatal (non-warning) entries.
func (e ValidationErrors) Errors() ValidationErrors {
	var out ValidationErrors
	for _, err := range e {
		if !err.Warn {
			out = append(out, err)
		}
	}
	return out
}

// Warnings returns only the advisory entries.
func (e ValidationErrors) Warnings() ValidationErrors {
	var out ValidationErrors
	for _, err := range e {
		if err.Warn {
			out = append(out, err)
		}
	}
	return out
}

// HasErrors reports whether any fatal entry is present.
func (e ValidationErrors) HasErrors() bool {
	return len(e.Errors()) > 0
}

// RequiredFieldError builds a ValidationError for a missing required field.
func RequiredFieldError(field string) *ValidationError {
	return &ValidationError{Field: field, Message: "is required"}
}

// RangeError builds a ValidationError reporting an out-of-range value.
func RangeError(field string, min, max interface{}) *ValidationError {
	return &ValidationError{
		Field:   field,
		Message: fmt.Sprintf("must be in range [%v, %v]", min, max),
	}
}

// ValidateConfig performs full validation of the configuration, accumulating
// every problem rather than stopping at the first one. Config.Validate is
// the terse single-error entry point most callers use; ValidateConfig is
// for callers that want the complete list to report back.
func ValidateConfig(c *Config) ValidationErrors {
	var errs ValidationErrors

	if c.SocketPath == "" {
		errs = append(errs, *RequiredFieldError("socket_path"))
	}

	if c.RecoveryMargin < 2 || c.RecoveryMargin > 8 {
		errs = append(errs, *RangeError("recovery_margin", 2, 8))
	}
	if c.Ent8RecoveryWindows < 1 {
		errs = append(errs, ValidationError{
			Field:   "ent8_recovery_windows",
			Message: "must be at least 1",
		})
	}
	if c.Ent16RecoveryWindows < 1 {
		errs = append(errs, ValidationError{
			Field:   "ent16_recovery_windows",
			Message: "must be at least 1",
		})
	}
	if c.BlockDelayMS < 0 {
		errs = append(errs, ValidationError{
			Field:   "block_delay_ms",
			Message: "must not be negative",
		})
	}
	if c.BlockDelayMS > 1000 {
		errs = append(errs, ValidationError{
			Field:   "block_delay_ms",
			Message: "delays above 1s starve the characterisation source",
			Warn:    true,
		})
	}

	errs = append(errs, validateTol("ent8_tolerance", c.Ent8Tolerance)...)
	errs = append(errs, validateTol("ent16_tolerance", c.Ent16Tolerance)...)

	return errs
}

func validateTol(name string, t ToleranceConfig) ValidationErrors {
	var errs ValidationErrors
	if t.ChiProbMin < 0 || t.ChiProbMax > 1 || t.ChiProbMin >= t.ChiProbMax {
		errs = append(errs, ValidationError{
			Field:   name + ".chi_prob_min/max",
			Message: "must satisfy 0 <= min < max <= 1",
		})
	}
	if t.MeanTolerance <= 0 {
		errs = append(errs, ValidationError{Field: name + ".mean_tolerance", Message: "must be positive"})
	}
	if t.PiTolerance <= 0 {
		errs = append(errs, ValidationError{Field: name + ".pi_tolerance", Message: "must be positive"})
	}
	if t.SerialCorrMax <= 0 {
		errs = append(errs, ValidationError{Field: name + ".serial_corr_max", Message: "must be positive"})
	}
	return errs
}
