// Package phone formats and validates Belarusian mobile numbers in the
// storefront's display form "+375 (XX) XXXXXXX".
package phone

import (
	"fmt"
	"strings"
	"unicode"
)

const (
	prefix = "+375 "
	// Placeholder is the empty mask shown in phone inputs.
	Placeholder = "+375 (__) _______"
	// EditablePlaceholder is the mask of the part after the fixed country prefix.
	EditablePlaceholder = "(__) _______"
)

var operatorCodes = map[string]bool{"25": true, "29": true, "33": true, "44": true}

// Result is the outcome of Validate. Formatted is set only for complete, valid numbers.
type Result struct {
	Valid     bool   `json:"valid"`
	Formatted string `json:"formatted"`
	Error     string `json:"error,omitempty"`
}

func digitsOnly(v string) string {
	var b strings.Builder
	for _, r := range v {
		if r >= '0' && r <= '9' {
			b.WriteRune(r)
		}
	}
	return b.String()
}

func clip(s string, n int) string {
	if len(s) > n {
		return s[:n]
	}
	return s
}

func pad(s string, n int) string {
	if len(s) >= n {
		return s
	}
	return s + strings.Repeat("_", n-len(s))
}

// FormatInput masks whatever the user typed into "+375 (XX) XXXXXXX",
// filling missing positions with underscores. The domestic form
// "8 0XX XXXXXXX" is rewritten to the international one.
func FormatInput(value string) string {
	d := digitsOnly(value)
	if d == "" {
		return ""
	}
	rest := d
	switch {
	case strings.HasPrefix(rest, "80") && len(rest) >= 11:
		rest = "375" + clip(rest[2:], 9)
	case strings.HasPrefix(rest, "375"):
		rest = clip(rest, 12)
	case len(rest) <= 9:
	default:
		rest = clip(rest, 12)
	}
	after := rest
	if strings.HasPrefix(rest, "375") {
		after = rest[3:]
	}
	operator := pad(clip(after, 2), 2)
	number := ""
	if len(after) > 2 {
		number = clip(after[2:], 7)
	}
	return fmt.Sprintf("%s(%s) %s", prefix, operator, pad(number, 7))
}

// Validate normalises value and checks it is a complete Belarusian mobile
// number. An empty value is valid: the field is optional until submit.
func Validate(value string) Result {
	d := digitsOnly(value)
	if d == "" {
		return Result{Valid: true}
	}
	switch {
	case strings.HasPrefix(d, "80") && len(d) == 11:
		d = "375" + d[2:]
	case strings.HasPrefix(d, "375"):
		d = clip(d, 12)
	case len(d) == 9:
		d = "375" + d
	}
	if len(d) != 12 {
		return Result{Error: "enter 9 digits: operator code (25, 29, 33, 44) and a 7-digit number"}
	}
	if d[:3] != "375" {
		return Result{Error: "country code must be 375"}
	}
	operator := d[3:5]
	if !operatorCodes[operator] {
		return Result{Error: "operator code must be 25, 29, 33 or 44"}
	}
	return Result{Valid: true, Formatted: fmt.Sprintf("+375 (%s) %s", operator, d[5:12])}
}

// FormatEditablePart renders up to 9 digits as "(XX) XXXXXXX".
func FormatEditablePart(digits string) string {
	d := clip(digitsOnly(digits), 9)
	if d == "" {
		return ""
	}
	number := ""
	if len(d) > 2 {
		number = d[2:]
	}
	return fmt.Sprintf("(%s) %s", pad(clip(d, 2), 2), pad(number, 7))
}

// EditablePartFromFull extracts "(29) 1234567" from "+375 (29) 1234567".
func EditablePartFromFull(full string) string {
	d := digitsOnly(full)
	switch {
	case strings.HasPrefix(d, "375") && len(d) >= 12:
		return FormatEditablePart(d[3:12])
	case len(d) >= 9:
		return FormatEditablePart(d[len(d)-9:])
	default:
		return FormatEditablePart(d)
	}
}

// FullFromEditablePart prefixes the editable part with the country code.
func FullFromEditablePart(part string) string {
	d := clip(digitsOnly(part), 9)
	if d == "" {
		return ""
	}
	return prefix + FormatEditablePart(d)
}

// CountDigitsBefore counts the digits in value before pos, capped at 9. Used
// to restore the caret after re-masking.
func CountDigitsBefore(value string, pos int) int {
	if value == "" || pos <= 0 {
		return 0
	}
	count := 0
	for i, r := range []rune(value) {
		if i >= pos {
			break
		}
		if unicode.IsDigit(r) {
			count++
		}
	}
	if count > 9 {
		return 9
	}
	return count
}

// DigitIndexToPos maps a digit index (0-9) to its offset in "(XX) XXXXXXX".
func DigitIndexToPos(i int) int {
	if i <= 1 {
		return i + 1
	}
	return i + 3
}
