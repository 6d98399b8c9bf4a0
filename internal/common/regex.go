package common

import (
	"fmt"
	"regexp"
	"strings"
)

// MaxPatternLength bounds user-supplied merchant regex patterns.
const MaxPatternLength = 200

// Nested quantifier shapes known to blow up on pathological input. Patterns
// containing any of these are rejected at rule-create time.
var redosShapes = []string{
	"(.*)+",
	"(.+)+",
	"([^]+)+",
	"(.*)*",
	"(.+)*",
}

// ValidatePattern checks a user-supplied regex for length, catastrophic
// shapes, and compilability. Evaluation always compiles case-insensitively,
// so validation does too.
func ValidatePattern(pattern string) error {
	if len(pattern) > MaxPatternLength {
		return Validationf("regex pattern exceeds %d characters", MaxPatternLength)
	}
	for _, shape := range redosShapes {
		if strings.Contains(pattern, shape) {
			return Validationf("regex pattern contains unsafe construct %q", shape)
		}
	}
	if _, err := regexp.Compile("(?i)" + pattern); err != nil {
		return fmt.Errorf("%w: invalid regex pattern: %v", ErrValidation, err)
	}
	return nil
}

// MatchRegex compiles a pattern case-insensitively and matches it against text.
// Returns an error if the pattern is invalid.
func MatchRegex(pattern, text string) (bool, error) {
	re, err := regexp.Compile("(?i)" + pattern)
	if err != nil {
		return false, err
	}
	return re.MatchString(text), nil
}
