package rules

import (
	"errors"
	"fmt"

	"github.com/devrimkaya/flagship/internal/operator"
)

// Sentinel errors returned by ValidateRule.
var (
	ErrInvalidCondition     = errors.New("invalid condition")
	ErrInvalidOperator      = errors.New("invalid operator")
	ErrInvalidServe         = errors.New("invalid serve action")
	ErrInvalidPercentage    = errors.New("invalid percentage")
)

// ValidateRule performs strict validation of a targeting Rule. It is a
// pure function: it never mutates r and has no side effects.
func ValidateRule(r Rule) error {
	if r.ID == "" {
		return fmt.Errorf("%w: rule id must not be empty", ErrInvalidCondition)
	}

	switch r.Kind {
	case KindSegment:
		if r.SegmentKey == "" {
			return fmt.Errorf("%w: segment rule must reference a segment key", ErrInvalidCondition)
		}
	case KindAttribute:
		if r.Attribute == "" {
			return fmt.Errorf("%w: attribute rule must name an attribute", ErrInvalidCondition)
		}
		if !operator.Valid(r.Operator) {
			return fmt.Errorf("%w: operator %q is not supported", ErrInvalidOperator, r.Operator)
		}
	case KindSubjectID:
		if len(r.SubjectIDs) == 0 {
			return fmt.Errorf("%w: subject_id rule must list at least one id", ErrInvalidCondition)
		}
	default:
		return fmt.Errorf("%w: unknown rule kind %q", ErrInvalidCondition, r.Kind)
	}

	return validateServe(r.Serve)
}

func validateServe(s Serve) error {
	if s.Percentage != nil && (*s.Percentage < 0 || *s.Percentage > 100) {
		return fmt.Errorf("%w: percentage must be within [0, 100]", ErrInvalidPercentage)
	}
	return nil
}
