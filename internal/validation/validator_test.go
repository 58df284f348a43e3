package validation

import (
	"strings"
	"testing"
)

func TestValidateKey(t *testing.T) {
	tests := []struct {
		name        string
		key         string
		wantValid   bool
		wantMessage string
	}{
		{name: "valid alphanumeric", key: "my_flag_123", wantValid: true},
		{name: "valid with hyphen", key: "my-flag-123", wantValid: true},
		{name: "valid mixed", key: "my_flag-123_test", wantValid: true},
		{name: "empty key", key: "", wantValid: false, wantMessage: "is required"},
		{name: "whitespace only", key: "   ", wantValid: false, wantMessage: "is required"},
		{name: "too long", key: strings.Repeat("a", 65), wantValid: false, wantMessage: "must not exceed 64 characters"},
		{name: "exactly 64 chars", key: strings.Repeat("a", 64), wantValid: true},
		{name: "contains spaces", key: "my flag", wantValid: false, wantMessage: "must contain only alphanumeric characters, underscores, and hyphens"},
		{name: "contains @", key: "banner@message", wantValid: false, wantMessage: "must contain only alphanumeric characters, underscores, and hyphens"},
		{name: "contains period", key: "banner.message", wantValid: false, wantMessage: "must contain only alphanumeric characters, underscores, and hyphens"},
		{name: "contains slash", key: "banner/message", wantValid: false, wantMessage: "must contain only alphanumeric characters, underscores, and hyphens"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateKey(tt.key, "key")
			if result.Valid != tt.wantValid {
				t.Errorf("ValidateKey(%q) valid = %v, want %v", tt.key, result.Valid, tt.wantValid)
			}
			if !tt.wantValid {
				if msg, ok := result.Errors["key"]; !ok || msg != tt.wantMessage {
					t.Errorf("ValidateKey(%q) message = %q, want %q", tt.key, msg, tt.wantMessage)
				}
			}
		})
	}
}

func TestValidatePercentage(t *testing.T) {
	tests := []struct {
		name      string
		pct       int
		wantValid bool
	}{
		{name: "zero", pct: 0, wantValid: true},
		{name: "100", pct: 100, wantValid: true},
		{name: "50", pct: 50, wantValid: true},
		{name: "negative", pct: -1, wantValid: false},
		{name: "over 100", pct: 101, wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidatePercentage(tt.pct)
			if result.Valid != tt.wantValid {
				t.Errorf("ValidatePercentage(%d) valid = %v, want %v", tt.pct, result.Valid, tt.wantValid)
			}
		})
	}
}

func TestValidateDescription(t *testing.T) {
	tests := []struct {
		name        string
		description string
		wantValid   bool
	}{
		{name: "empty", description: "", wantValid: true},
		{name: "valid description", description: "This is a test description", wantValid: true},
		{name: "exactly 500 chars", description: strings.Repeat("a", 500), wantValid: true},
		{name: "too long", description: strings.Repeat("a", 501), wantValid: false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateDescription(tt.description)
			if result.Valid != tt.wantValid {
				t.Errorf("ValidateDescription() valid = %v, want %v", result.Valid, tt.wantValid)
			}
		})
	}
}

func TestValidatePayloadSize(t *testing.T) {
	small := []byte(`{"key": "value"}`)
	if !ValidatePayloadSize(small).Valid {
		t.Error("expected small payload to be valid")
	}
	big := []byte(strings.Repeat("a", 100*1024+1))
	if ValidatePayloadSize(big).Valid {
		t.Error("expected oversized payload to be invalid")
	}
}

func TestValidateVariants(t *testing.T) {
	tests := []struct {
		name      string
		variants  []VariantValidationParams
		wantValid bool
	}{
		{name: "empty variants", variants: []VariantValidationParams{}, wantValid: true},
		{
			name: "valid variants",
			variants: []VariantValidationParams{
				{Key: "control", Weight: 50},
				{Key: "variant", Weight: 50},
			},
			wantValid: true,
		},
		{
			name: "uneven weights are fine, they just don't need to sum to 100",
			variants: []VariantValidationParams{
				{Key: "control", Weight: 1},
				{Key: "variant", Weight: 9},
			},
			wantValid: true,
		},
		{
			name: "all-zero weight with variants present is rejected",
			variants: []VariantValidationParams{
				{Key: "control", Weight: 0},
				{Key: "variant", Weight: 0},
			},
			wantValid: false,
		},
		{
			name: "empty variant key",
			variants: []VariantValidationParams{
				{Key: "", Weight: 50},
				{Key: "variant", Weight: 50},
			},
			wantValid: false,
		},
		{
			name: "duplicate variant keys",
			variants: []VariantValidationParams{
				{Key: "control", Weight: 50},
				{Key: "control", Weight: 50},
			},
			wantValid: false,
		},
		{
			name: "negative weight",
			variants: []VariantValidationParams{
				{Key: "control", Weight: -10},
				{Key: "variant", Weight: 110},
			},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateVariants(tt.variants)
			if result.Valid != tt.wantValid {
				t.Errorf("ValidateVariants() valid = %v, want %v, errors = %v", result.Valid, tt.wantValid, result.Errors)
			}
		})
	}
}

func TestValidateFlag(t *testing.T) {
	tests := []struct {
		name      string
		params    FlagValidationParams
		wantValid bool
	}{
		{
			name: "all valid",
			params: FlagValidationParams{
				Key:            "valid_key",
				EnvironmentKey: "prod",
				Description:    "A test flag",
			},
			wantValid: true,
		},
		{
			name: "multiple errors",
			params: FlagValidationParams{
				Key:         "",
				Description: strings.Repeat("a", 501),
			},
			wantValid: false,
		},
		{
			name: "invalid key format only",
			params: FlagValidationParams{
				Key:            "invalid@key",
				EnvironmentKey: "prod",
				Description:    "Test",
			},
			wantValid: false,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := ValidateFlag(tt.params)
			if result.Valid != tt.wantValid {
				t.Errorf("ValidateFlag() valid = %v, want %v, errors = %v", result.Valid, tt.wantValid, result.Errors)
			}
		})
	}
}
