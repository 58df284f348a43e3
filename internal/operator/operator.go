// Package operator implements the closed set of targeting predicates used
// by segments and rules. Every predicate is pure and total: malformed
// literals, absent attributes, and type mismatches fold to "no match"
// rather than surfacing an error, the same fail-closed contract the
// reference operator table used.
package operator

import (
	"regexp"
	"strconv"
	"strings"
	"sync"

	"github.com/devrimkaya/flagship/internal/attr"
)

// Op identifies one of the thirteen supported predicates.
type Op string

const (
	Eq         Op = "eq"
	Neq        Op = "neq"
	Contains   Op = "contains"
	NotContains Op = "not_contains"
	StartsWith Op = "starts_with"
	EndsWith   Op = "ends_with"
	Gt         Op = "gt"
	Gte        Op = "gte"
	Lt         Op = "lt"
	Lte        Op = "lte"
	In         Op = "in"
	NotIn      Op = "not_in"
	Regex      Op = "regex"
)

// Valid reports whether op names one of the supported predicates.
func Valid(op Op) bool {
	switch op {
	case Eq, Neq, Contains, NotContains, StartsWith, EndsWith, Gt, Gte, Lt, Lte, In, NotIn, Regex:
		return true
	}
	return false
}

var regexCache sync.Map // literal string -> *regexp.Regexp

func compiledRegex(pattern string) (*regexp.Regexp, bool) {
	if cached, ok := regexCache.Load(pattern); ok {
		re, ok := cached.(*regexp.Regexp)
		return re, ok
	}
	re, err := regexp.Compile(pattern)
	if err != nil {
		regexCache.Store(pattern, (*regexp.Regexp)(nil))
		return nil, false
	}
	regexCache.Store(pattern, re)
	return re, true
}

// Check evaluates a single attribute value against op and literal. present
// reports whether the attribute existed in the context at all; a missing
// attribute always evaluates to false, even for neq and not_in, since
// there is nothing there to be unequal to or absent from.
func Check(op Op, v attr.Value, present bool, literal string) bool {
	if !present {
		return false
	}
	switch op {
	case Eq:
		return v.AsString() == literal
	case Neq:
		return v.AsString() != literal
	case Contains:
		return strings.Contains(v.AsString(), literal)
	case NotContains:
		return !strings.Contains(v.AsString(), literal)
	case StartsWith:
		return strings.HasPrefix(v.AsString(), literal)
	case EndsWith:
		return strings.HasSuffix(v.AsString(), literal)
	case Gt, Gte, Lt, Lte:
		return numericCompare(op, v, literal)
	case In:
		return member(v.AsString(), literal)
	case NotIn:
		return !member(v.AsString(), literal)
	case Regex:
		re, ok := compiledRegex(literal)
		if !ok {
			return false
		}
		return re.MatchString(v.AsString())
	default:
		return false
	}
}

func numericCompare(op Op, v attr.Value, literal string) bool {
	attrNum, ok := v.AsFloat()
	if !ok {
		return false
	}
	litNum, err := strconv.ParseFloat(strings.TrimSpace(literal), 64)
	if err != nil {
		return false
	}
	switch op {
	case Gt:
		return attrNum > litNum
	case Gte:
		return attrNum >= litNum
	case Lt:
		return attrNum < litNum
	case Lte:
		return attrNum <= litNum
	default:
		return false
	}
}

// member reports whether needle appears in a comma-separated literal list,
// trimming surrounding whitespace around each element.
func member(needle, literal string) bool {
	for _, part := range strings.Split(literal, ",") {
		if strings.TrimSpace(part) == needle {
			return true
		}
	}
	return false
}
