// Package validation provides validation rules for flag/segment keys and
// the admin-surface request parameters built on top of them.
package validation

import (
	"regexp"
	"strings"
	"unicode/utf8"
)

const (
	// MaxKeyLength is the maximum length for project/flag/segment/
	// environment keys.
	MaxKeyLength = 64
	// MaxDescriptionLength is the maximum length for flag descriptions.
	MaxDescriptionLength = 500
	// MaxPayloadSize is the maximum size of a variant payload in bytes.
	MaxPayloadSize = 100 * 1024
	// MinPercentage/MaxPercentage bound a rollout percentage.
	MinPercentage = 0
	MaxPercentage = 100
)

// keyPattern matches alphanumeric characters, underscores, and hyphens.
var keyPattern = regexp.MustCompile(`^[a-zA-Z0-9_-]+$`)

// ValidationResult holds the result of validation.
type ValidationResult struct {
	Valid  bool
	Errors map[string]string
}

func NewValidationResult() *ValidationResult {
	return &ValidationResult{Valid: true, Errors: make(map[string]string)}
}

func (v *ValidationResult) AddError(field, message string) {
	v.Valid = false
	v.Errors[field] = message
}

func (v *ValidationResult) Merge(other *ValidationResult) {
	if other == nil {
		return
	}
	for field, message := range other.Errors {
		v.AddError(field, message)
	}
}

// FlagValidationParams contains the parameters for validating a flag
// upsert request.
type FlagValidationParams struct {
	Key            string
	EnvironmentKey string
	Description    string
	Variants       []VariantValidationParams
}

// VariantValidationParams contains the parameters for validating a
// single flag variant.
type VariantValidationParams struct {
	Key    string
	Weight int
}

// ValidateFlag validates all flag fields and returns a combined result.
func ValidateFlag(params FlagValidationParams) *ValidationResult {
	result := NewValidationResult()
	result.Merge(ValidateKey(params.Key, "key"))
	if params.EnvironmentKey != "" {
		result.Merge(ValidateKey(params.EnvironmentKey, "environment_key"))
	}
	result.Merge(ValidateDescription(params.Description))
	if len(params.Variants) > 0 {
		result.Merge(ValidateVariants(params.Variants))
	}
	return result
}

// ValidateKey validates a project/flag/segment/environment key under the
// given field name.
func ValidateKey(key, field string) *ValidationResult {
	result := NewValidationResult()
	key = strings.TrimSpace(key)

	if key == "" {
		result.AddError(field, "is required")
		return result
	}
	if utf8.RuneCountInString(key) > MaxKeyLength {
		result.AddError(field, "must not exceed 64 characters")
		return result
	}
	if !keyPattern.MatchString(key) {
		result.AddError(field, "must contain only alphanumeric characters, underscores, and hyphens")
	}
	return result
}

func ValidateDescription(description string) *ValidationResult {
	result := NewValidationResult()
	if utf8.RuneCountInString(description) > MaxDescriptionLength {
		result.AddError("description", "must not exceed 500 characters")
	}
	return result
}

// ValidatePercentage validates a rollout/rule-serve percentage.
func ValidatePercentage(pct int) *ValidationResult {
	result := NewValidationResult()
	if pct < MinPercentage || pct > MaxPercentage {
		result.AddError("percentage", "must be between 0 and 100")
	}
	return result
}

// ValidatePayloadSize validates a variant payload's serialized size.
func ValidatePayloadSize(payload []byte) *ValidationResult {
	result := NewValidationResult()
	if len(payload) > MaxPayloadSize {
		result.AddError("payload", "must not exceed 100KB")
	}
	return result
}

// ValidateVariants validates a flag's variant list: per-invariant-3,
// weights must be non-negative and, when any variants exist, their total
// must be positive (an all-zero-weight variant set with no winner is
// rejected rather than silently never assigning).
func ValidateVariants(variants []VariantValidationParams) *ValidationResult {
	result := NewValidationResult()
	if len(variants) == 0 {
		return result
	}

	seen := make(map[string]bool)
	totalWeight := 0
	for _, v := range variants {
		key := strings.TrimSpace(v.Key)
		if key == "" {
			result.AddError("variants", "variant key cannot be empty")
			continue
		}
		if !keyPattern.MatchString(key) {
			result.AddError("variants", "variant key must be alphanumeric/underscore/hyphen: "+key)
			continue
		}
		if seen[key] {
			result.AddError("variants", "duplicate variant key: "+key)
			continue
		}
		seen[key] = true

		if v.Weight < 0 {
			result.AddError("variants", "variant weight must be non-negative: "+key)
			continue
		}
		totalWeight += v.Weight
	}

	if result.Valid && totalWeight == 0 {
		result.AddError("variants", "total variant weight must be positive when variants exist")
	}
	return result
}
